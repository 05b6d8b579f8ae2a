package ext4

import (
	"testing"

	"github.com/ext4fs/ext4fs/testhelper"
	"github.com/stretchr/testify/require"
)

// newTestFS formats a small in-memory image and returns the mounted
// Filesystem, sized generously enough for the extent/allocator/journal
// tests in this package to exercise splits and multi-group layouts
// without running for long.
func newTestFS(t *testing.T, sizeBytes int64, cfg Config) *Filesystem {
	t.Helper()
	storage := testhelper.NewMemStorage(sizeBytes)
	fs, err := Mkfs(storage, cfg)
	require.NoError(t, err)
	return fs
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.BlockSize = 1024
	cfg.LogBlockSize = 0
	cfg.InodeRatio = 16384
	cfg.JournalBlocks = 64
	return cfg
}
