//go:build !(aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris)

package blockdevice

import (
	"fmt"

	"github.com/ext4fs/ext4fs/backend"
)

// SizeOf returns the size in bytes of the given storage via Stat, since
// the BLKGETSIZE64 ioctl is unix-specific.
func SizeOf(storage backend.Storage) (int64, error) {
	info, err := storage.Stat()
	if err != nil {
		return 0, fmt.Errorf("blockdevice: stat: %w", err)
	}
	return info.Size(), nil
}
