package ext4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeOrInsertLeafExtendsContiguousRun(t *testing.T) {
	leaf := &extentNode{depth: 0, max: inlineExtentMax}
	mergeOrInsertLeaf(leaf, leafExtentEntry{block: 0, length: 4, startLo: 100})
	mergeOrInsertLeaf(leaf, leafExtentEntry{block: 4, length: 4, startLo: 104})

	require.Len(t, leaf.leaves, 1)
	assert.Equal(t, uint16(8), leaf.leaves[0].length)
	assert.Equal(t, uint64(100), leaf.leaves[0].physStart())
}

func TestMergeOrInsertLeafSpillsOverflowPastMaxExtentLen(t *testing.T) {
	leaf := &extentNode{depth: 0, max: inlineExtentMax}
	mergeOrInsertLeaf(leaf, leafExtentEntry{block: 0, length: maxExtentLen - 1, startLo: 1})
	mergeOrInsertLeaf(leaf, leafExtentEntry{block: uint32(maxExtentLen - 1), length: 3, startLo: uint32(maxExtentLen)})

	require.Len(t, leaf.leaves, 2)
	assert.Equal(t, maxExtentLen, leaf.leaves[0].length)
	assert.Equal(t, uint16(2), leaf.leaves[1].length)
	assert.Equal(t, uint32(maxExtentLen), leaf.leaves[1].block)
}

func TestMergeOrInsertLeafNonContiguousInsertsSorted(t *testing.T) {
	leaf := &extentNode{depth: 0, max: inlineExtentMax}
	mergeOrInsertLeaf(leaf, leafExtentEntry{block: 10, length: 1, startLo: 500})
	mergeOrInsertLeaf(leaf, leafExtentEntry{block: 0, length: 1, startLo: 100})
	mergeOrInsertLeaf(leaf, leafExtentEntry{block: 5, length: 1, startLo: 300})

	require.Len(t, leaf.leaves, 3)
	assert.Equal(t, uint32(0), leaf.leaves[0].block)
	assert.Equal(t, uint32(5), leaf.leaves[1].block)
	assert.Equal(t, uint32(10), leaf.leaves[2].block)
}

// TestInsertExtentSplitsAndPromotesRoot forces enough non-contiguous
// single-block extents into a fresh inode that the inline root (4
// entries max) must split and promote to an index node one level
// deeper, then confirms every inserted extent still resolves correctly.
func TestInsertExtentSplitsAndPromotesRoot(t *testing.T) {
	fs := newTestFS(t, 8*1024*1024, smallConfig())

	in := newExtentFileInode(sIFREG|0644, 0, 0, 1000)
	in.number = 9000 // arbitrary, not persisted to the inode table for this test

	const n = 20
	for i := uint32(0); i < n; i++ {
		phys, err := fs.allocateBlock(0)
		require.NoError(t, err)
		err = fs.insertExtent(in, leafExtentEntry{
			block:  i * 2, // leave a gap between each so none merge
			length: 1,
			startLo: uint32(phys),
			startHi: uint16(phys >> 32),
		})
		require.NoError(t, err)
	}

	all, err := fs.resolveAllExtents(in)
	require.NoError(t, err)
	require.Len(t, all, n)
	for i, e := range all {
		assert.Equal(t, uint32(i)*2, e.block)
	}

	root, err := fs.loadRootExtentNode(in)
	require.NoError(t, err)
	assert.False(t, root.isLeaf(), "root should have been promoted to an index node")

	for i := uint32(0); i < n; i++ {
		_, found, err := fs.lookupExtent(in, i*2)
		require.NoError(t, err)
		assert.True(t, found, "extent at logical block %d should resolve", i*2)
	}
	_, found, err := fs.lookupExtent(in, 1)
	require.NoError(t, err)
	assert.False(t, found, "gap block should be a hole")
}

// TestRemoveExtendDropsSubtreeAndDemotesRoot builds a tree deep enough
// that it holds several leaves under an index root, truncates it down
// to a boundary that falls inside the first leaf, and confirms every
// later leaf was dropped wholesale, the boundary leaf was clipped in
// place, and the root — now down to a single surviving child — was
// demoted back to a depth-0 leaf rather than staying a one-entry index.
func TestRemoveExtendDropsSubtreeAndDemotesRoot(t *testing.T) {
	fs := newTestFS(t, 8*1024*1024, smallConfig())

	in := newExtentFileInode(sIFREG|0644, 0, 0, 1000)
	in.number = 9001

	const n = 20
	for i := uint32(0); i < n; i++ {
		phys, err := fs.allocateBlock(0)
		require.NoError(t, err)
		require.NoError(t, fs.insertExtent(in, leafExtentEntry{
			block:   i * 2,
			length:  1,
			startLo: uint32(phys),
			startHi: uint16(phys >> 32),
		}))
	}
	in.setSize(uint64(n*2) * uint64(fs.blockSize()))

	root, err := fs.loadRootExtentNode(in)
	require.NoError(t, err)
	require.False(t, root.isLeaf(), "precondition: tree must have split into an index root")

	before := fs.Info().FreeBlocks

	// truncate to a boundary at the end of the very first extent: only
	// logical block 0 survives, everything else — including every later
	// leaf and any intermediate index level — must be freed.
	require.NoError(t, fs.truncateExtents(in, 1))

	after := fs.Info().FreeBlocks
	assert.Greater(t, after, before, "dropped extents and index blocks must be freed")

	_, found, err := fs.lookupExtent(in, 0)
	require.NoError(t, err)
	assert.True(t, found, "surviving block 0 should still resolve")

	for i := uint32(1); i < n; i++ {
		_, found, err := fs.lookupExtent(in, i*2)
		require.NoError(t, err)
		assert.False(t, found, "block %d should have been removed", i*2)
	}

	root, err = fs.loadRootExtentNode(in)
	require.NoError(t, err)
	assert.True(t, root.isLeaf(), "root should have been demoted back to a leaf")
	require.Len(t, root.leaves, 1)
	assert.Equal(t, uint32(0), root.leaves[0].block)
	assert.Equal(t, uint16(1), root.leaves[0].length)
}
