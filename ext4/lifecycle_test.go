package ext4

import (
	"testing"

	"github.com/ext4fs/ext4fs/testhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkfsBootstrapsRootAndLostFound(t *testing.T) {
	fs := newTestFS(t, 16*1024*1024, smallConfig())

	root := fs.Root()
	isDir, err := root.IsDir()
	require.NoError(t, err)
	assert.True(t, isDir)

	lf, err := root.Lookup("lost+found")
	require.NoError(t, err)
	isDir, err = lf.IsDir()
	require.NoError(t, err)
	assert.True(t, isDir)
	assert.Equal(t, uint32(FirstNonReservedInode), lf.Number)

	info := fs.Info()
	assert.Equal(t, uint32(1024), info.BlockSize)
	assert.True(t, info.HasJournal)
	assert.Greater(t, info.FreeInodes, uint32(0))
}

func TestCreateWriteReadFile(t *testing.T) {
	fs := newTestFS(t, 16*1024*1024, smallConfig())
	root := fs.Root()

	child, err := root.Create("hello.txt", sIFREG|0644, 1000, 1000)
	require.NoError(t, err)

	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	n, err := child.WriteAt(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	meta, err := child.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), meta.Size)

	buf := make([]byte, len(payload))
	n, err = child.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)
}

func TestCreateWriteSurvivesSyncAndRemount(t *testing.T) {
	cfg := smallConfig()
	storage := testhelper.NewMemStorage(16 * 1024 * 1024)
	fs, err := Mkfs(storage, cfg)
	require.NoError(t, err)

	child, err := fs.Root().Create("persisted.bin", sIFREG|0644, 0, 0)
	require.NoError(t, err)
	_, err = child.WriteAt([]byte("durable content"), 0)
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	remounted, err := Mount(storage, cfg)
	require.NoError(t, err)
	defer remounted.Close()

	found, err := remounted.Root().Lookup("persisted.bin")
	require.NoError(t, err)
	buf := make([]byte, len("durable content"))
	_, err = found.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "durable content", string(buf))
}

func TestMkdirAndNestedLookup(t *testing.T) {
	fs := newTestFS(t, 16*1024*1024, smallConfig())
	root := fs.Root()

	sub, err := root.Mkdir("sub", sIFDIR|0755, 0, 0)
	require.NoError(t, err)
	_, err = sub.Create("nested.txt", sIFREG|0644, 0, 0)
	require.NoError(t, err)

	found, err := root.Lookup("sub")
	require.NoError(t, err)
	entries, err := found.ReadDir()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["."])
	assert.True(t, names[".."])
	assert.True(t, names["nested.txt"])
}

func TestUnlinkFreesInodeAndRemovesEntry(t *testing.T) {
	fs := newTestFS(t, 16*1024*1024, smallConfig())
	root := fs.Root()

	child, err := root.Create("temp.txt", sIFREG|0644, 0, 0)
	require.NoError(t, err)
	_, err = child.WriteAt([]byte("data"), 0)
	require.NoError(t, err)
	freeBefore := fs.Info().FreeInodes

	require.NoError(t, root.Unlink("temp.txt"))
	assert.Equal(t, freeBefore+1, fs.Info().FreeInodes)

	_, err = root.Lookup("temp.txt")
	assert.ErrorIs(t, Translate(err), ErrNotFound)
}

func TestRenameOverwritesExistingDestination(t *testing.T) {
	fs := newTestFS(t, 16*1024*1024, smallConfig())
	root := fs.Root()

	a, err := root.Create("a.txt", sIFREG|0644, 0, 0)
	require.NoError(t, err)
	_, err = a.WriteAt([]byte("AAAA"), 0)
	require.NoError(t, err)

	b, err := root.Create("b.txt", sIFREG|0644, 0, 0)
	require.NoError(t, err)
	_, err = b.WriteAt([]byte("BBBB"), 0)
	require.NoError(t, err)

	require.NoError(t, root.Rename("a.txt", root, "b.txt"))

	_, err = root.Lookup("a.txt")
	assert.ErrorIs(t, Translate(err), ErrNotFound)

	got, err := root.Lookup("b.txt")
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = got.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "AAAA", string(buf))
}

func TestSymlinkFastAndBlockBased(t *testing.T) {
	fs := newTestFS(t, 16*1024*1024, smallConfig())
	root := fs.Root()

	short, err := root.Symlink("short-link", "target", 0, 0)
	require.NoError(t, err)
	target, err := short.Readlink()
	require.NoError(t, err)
	assert.Equal(t, "target", target)

	longTarget := make([]byte, 200)
	for i := range longTarget {
		longTarget[i] = 'a' + byte(i%26)
	}
	long, err := root.Symlink("long-link", string(longTarget), 0, 0)
	require.NoError(t, err)
	target, err = long.Readlink()
	require.NoError(t, err)
	assert.Equal(t, string(longTarget), target)
}

func TestTruncateShrinksAndFreesBlocks(t *testing.T) {
	fs := newTestFS(t, 16*1024*1024, smallConfig())
	root := fs.Root()

	child, err := root.Create("big.bin", sIFREG|0644, 0, 0)
	require.NoError(t, err)
	payload := make([]byte, 10*1024)
	_, err = child.WriteAt(payload, 0)
	require.NoError(t, err)

	before := fs.Info().FreeBlocks
	require.NoError(t, child.SetSize(100))
	after := fs.Info().FreeBlocks

	assert.Greater(t, after, before)
	meta, err := child.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), meta.Size)
}

func TestSetSizeGrowZeroFillsNewRange(t *testing.T) {
	fs := newTestFS(t, 16*1024*1024, smallConfig())
	root := fs.Root()

	child, err := root.Create("grown.bin", sIFREG|0644, 0, 0)
	require.NoError(t, err)
	_, err = child.WriteAt([]byte("abcd"), 0)
	require.NoError(t, err)

	require.NoError(t, child.SetSize(4096))

	meta, err := child.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), meta.Size)

	buf := make([]byte, 4096)
	n, err := child.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)
	assert.Equal(t, []byte("abcd"), buf[:4])
	for _, b := range buf[4:] {
		assert.Equal(t, byte(0), b)
	}

	// a write landing past the old EOF but within the grown range must
	// have a real extent to land on, not just hole-read-as-zero semantics.
	_, err = child.WriteAt([]byte("tail"), 4000)
	require.NoError(t, err)
	readback := make([]byte, 4)
	_, err = child.ReadAt(readback, 4000)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(readback))
}

func TestDeleteRecursiveRemovesNestedSubtree(t *testing.T) {
	fs := newTestFS(t, 16*1024*1024, smallConfig())
	root := fs.Root()

	top, err := root.Mkdir("top", sIFDIR|0755, 0, 0)
	require.NoError(t, err)
	mid, err := top.Mkdir("mid", sIFDIR|0755, 0, 0)
	require.NoError(t, err)
	_, err = mid.Create("leaf.txt", sIFREG|0644, 0, 0)
	require.NoError(t, err)
	_, err = top.Create("sibling.txt", sIFREG|0644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, root.DeleteRecursive("top"))

	_, err = root.Lookup("top")
	assert.ErrorIs(t, Translate(err), ErrNotFound)
}

func TestNodeAppendSyncAndUpdateMetadata(t *testing.T) {
	fs := newTestFS(t, 16*1024*1024, smallConfig())
	root := fs.Root()

	child, err := root.Create("appended.txt", sIFREG|0644, 1000, 1000)
	require.NoError(t, err)
	_, err = child.WriteAt([]byte("hello "), 0)
	require.NoError(t, err)

	n, err := child.Append([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, len("world"), n)

	buf := make([]byte, len("hello world"))
	_, err = child.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf))

	require.NoError(t, child.UpdateMetadata(MetadataUpdate{Mode: 0600, SetMode: true, UID: 42, SetUID: true}))
	meta, err := child.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint32(0600), uint32(meta.Mode&0777))
	assert.Equal(t, uint32(42), meta.UID)

	require.NoError(t, child.Sync())
}
