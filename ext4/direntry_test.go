package ext4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ext4fs/ext4fs/util"
)

func TestDirBlockRoundTrip(t *testing.T) {
	entries := []*dirEntry{
		{inodeNum: 2, fileType: ftDir, name: "."},
		{inodeNum: 2, fileType: ftDir, name: ".."},
		{inodeNum: 13, fileType: ftRegular, name: "hello.txt"},
	}
	for _, e := range entries[:len(entries)-1] {
		e.recLen = e.minLen()
	}
	entries[len(entries)-1].recLen = entries[len(entries)-1].minLen()

	blockSize := uint32(1024)
	buf, err := encodeDirBlock(entries, blockSize)
	require.NoError(t, err)
	assert.Len(t, buf, int(blockSize))

	got, err := parseDirBlock(buf)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range entries[:len(entries)-1] {
		assert.Equal(t, e.inodeNum, got[i].inodeNum)
		assert.Equal(t, e.name, got[i].name)
		assert.Equal(t, e.fileType, got[i].fileType)
	}
	// the last entry absorbed the rest of the block.
	assert.Equal(t, uint16(blockSize)-entries[0].recLen-entries[1].recLen, got[2].recLen)

	// re-encoding the parsed entries must reproduce the exact original
	// block byte-for-byte; on mismatch, dump both sides with the
	// differing offsets highlighted rather than leaving a bare
	// assert.Equal byte-slice diff to squint at.
	reencoded, err := encodeDirBlock(got, blockSize)
	require.NoError(t, err)
	if different, dump := util.DumpByteSlicesWithDiffs(buf, reencoded, 16, true, true, false); different {
		t.Errorf("re-encoded directory block does not match original:\n%s", dump)
	}
}

func TestFitsInGap(t *testing.T) {
	e := &dirEntry{inodeNum: 5, name: "a", recLen: 64}
	used, fits := fitsInGap(e, "newname")
	assert.True(t, fits)
	assert.Equal(t, e.minLen(), used)

	tight := &dirEntry{inodeNum: 5, name: "a", recLen: e.minLen()}
	_, fits = fitsInGap(tight, "much-longer-name-than-gap-allows")
	assert.False(t, fits)
}

func TestParseDirBlockRejectsShortCoverage(t *testing.T) {
	buf := make([]byte, 16)
	e := &dirEntry{inodeNum: 1, fileType: ftRegular, name: "x", recLen: 8}
	require.NoError(t, e.encode(buf[0:8]))
	_, err := parseDirBlock(buf)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestFileTypeForMode(t *testing.T) {
	assert.Equal(t, ftDir, fileTypeForMode(sIFDIR|0755))
	assert.Equal(t, ftRegular, fileTypeForMode(sIFREG|0644))
	assert.Equal(t, ftSymlink, fileTypeForMode(sIFLNK|0777))
}
