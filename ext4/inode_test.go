package ext4

import (
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInodeRoundTrip128(t *testing.T) {
	deep.CompareUnexportedFields = true
	defer func() { deep.CompareUnexportedFields = false }()

	in := &inode{
		number:     42,
		mode:       sIFREG | 0644,
		linksCount: 1,
		flags:      inodeFlagExtents,
		atime:      100,
		ctime:      200,
		mtime:      300,
	}
	in.setUID(1000)
	in.setGID(1000)
	in.setSize(123456789)
	in.setBlocks512(16)

	buf := make([]byte, inodeRecordMinSize)
	in.ToDiskBytes(buf)

	got, err := inodeFromBytes(buf, 42)
	require.NoError(t, err)

	if diff := deep.Equal(in, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestInodeRoundTripWithExtraIsize(t *testing.T) {
	in := &inode{number: 7, mode: sIFDIR | 0755}
	in.crtime = 555
	in.isizeExtra = 32

	buf := make([]byte, 256)
	in.ToDiskBytes(buf)

	got, err := inodeFromBytes(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, uint32(555), got.crtime)
	assert.Equal(t, uint16(32), got.isizeExtra)
}

func TestInodeTooShortIsInvalidData(t *testing.T) {
	_, err := inodeFromBytes(make([]byte, 64), 1)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestNewExtentFileInodeHasEmptyLeafRoot(t *testing.T) {
	in := newExtentFileInode(sIFREG|0644, 1, 1, 1000)
	assert.True(t, in.hasExtents())

	raw := in.blockBytes()
	root, err := decodeExtentNode(raw[:])
	require.NoError(t, err)
	assert.True(t, root.isLeaf())
	assert.Equal(t, 0, root.count())
}

func TestUIDGIDSplitAcrossLoHi(t *testing.T) {
	in := &inode{}
	in.setUID(0x1FFFF)
	in.setGID(0x2FFFF)
	assert.Equal(t, uint32(0x1FFFF), in.uid())
	assert.Equal(t, uint32(0x2FFFF), in.gid())
}
