//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package blockdevice

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ext4fs/ext4fs/backend"
)

// blkGetSize64 is the Linux ioctl request number for BLKGETSIZE64.
const blkGetSize64 = 0x80081272

// SizeOf returns the size in bytes of the given storage. For a regular
// file it is the file size; for a real block device it is queried via
// the BLKGETSIZE64 ioctl, since block devices report a stat size of 0
// on some platforms.
func SizeOf(storage backend.Storage) (int64, error) {
	info, err := storage.Stat()
	if err != nil {
		return 0, fmt.Errorf("blockdevice: stat: %w", err)
	}
	if info.Mode()&os.ModeDevice == 0 {
		return info.Size(), nil
	}
	osFile, err := storage.Sys()
	if err != nil {
		return info.Size(), nil //nolint:nilerr // fall back to stat size if not ioctl-capable
	}
	size, err := unix.IoctlGetUint64(int(osFile.Fd()), blkGetSize64)
	if err != nil {
		return 0, fmt.Errorf("blockdevice: BLKGETSIZE64 ioctl: %w", err)
	}
	return int64(size), nil
}
