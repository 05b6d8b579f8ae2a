package ext4

import (
	"fmt"
)

// allocateBlock finds and marks allocated a single free data block,
// scanning groups from hintGroup onward and wrapping around (see
// groupOrder), and taking the first group with a free block.
func (fs *Filesystem) allocateBlock(hintGroup uint32) (uint64, error) {
	groups := fs.groupOrder(hintGroup)
	for _, g := range groups {
		gd := fs.gdt.entries[g]
		if gd.freeBlocksCount() == 0 {
			continue
		}
		entry, err := fs.blockBitmapFor(g)
		if err != nil {
			return 0, err
		}
		idx := entry.bm.FindFirstFree()
		if idx < 0 {
			continue
		}
		if err := entry.bm.Allocate(idx); err != nil {
			return 0, err
		}
		entry.dirty = true
		fs.bitmapCacheRef.markDirty(bitmapKindBlock, g)
		gd.setFreeBlocksCount(gd.freeBlocksCount() - 1)
		fs.sb.setFreeBlockCount(fs.sb.freeBlockCount() - 1)
		block := fs.groupFirstDataBlock(g) + uint64(idx)
		return block, nil
	}
	return 0, fmt.Errorf("%w: no free blocks", ErrNoSpace)
}

// allocateContiguousBlocks finds and marks allocated n consecutive data
// blocks within a single group; mkfs uses it to lay out the journal as
// one physically contiguous region.
func (fs *Filesystem) allocateContiguousBlocks(hintGroup uint32, n int) (uint64, error) {
	groups := fs.groupOrder(hintGroup)
	for _, g := range groups {
		gd := fs.gdt.entries[g]
		if int(gd.freeBlocksCount()) < n {
			continue
		}
		entry, err := fs.blockBitmapFor(g)
		if err != nil {
			return 0, err
		}
		idx := entry.bm.FindContiguousFree(n)
		if idx < 0 {
			continue
		}
		for i := 0; i < n; i++ {
			if err := entry.bm.Allocate(idx + i); err != nil {
				return 0, err
			}
		}
		entry.dirty = true
		fs.bitmapCacheRef.markDirty(bitmapKindBlock, g)
		gd.setFreeBlocksCount(gd.freeBlocksCount() - uint32(n))
		fs.sb.setFreeBlockCount(fs.sb.freeBlockCount() - uint64(n))
		return fs.groupFirstDataBlock(g) + uint64(idx), nil
	}
	return 0, fmt.Errorf("%w: no contiguous run of %d blocks", ErrNoSpace, n)
}

// freeBlockRange clears n consecutive bits starting at physical block
// start. "Already free" bits are tolerated as recoverable rather than aborting the whole run.
func (fs *Filesystem) freeBlockRange(start uint64, n int) error {
	g, localStart, err := fs.blockToGroup(start)
	if err != nil {
		return err
	}
	entry, err := fs.blockBitmapFor(g)
	if err != nil {
		return err
	}
	gd := fs.gdt.entries[g]
	freed := 0
	for i := 0; i < n; i++ {
		if err := entry.bm.Free(localStart + i); err != nil {
			if fs.log != nil {
				fs.log.Warnf("freeBlockRange: block %d already free", start+uint64(i))
			}
			continue
		}
		freed++
	}
	entry.dirty = true
	fs.bitmapCacheRef.markDirty(bitmapKindBlock, g)
	gd.setFreeBlocksCount(gd.freeBlocksCount() + uint32(freed))
	fs.sb.setFreeBlockCount(fs.sb.freeBlockCount() + uint64(freed))
	return nil
}

// allocBlock is the single-block convenience used by the extent tree
// for index/leaf node blocks.
func (fs *Filesystem) allocBlock() (uint64, error) {
	return fs.allocateBlock(0)
}

func (fs *Filesystem) freeBlock(b uint64) error {
	return fs.freeBlockRange(b, 1)
}

// allocateInode finds and marks allocated a free inode number, preferring
// the parent directory's group for locality.
func (fs *Filesystem) allocateInode(parentGroupHint uint32, isDir bool) (uint32, error) {
	groups := fs.groupOrder(parentGroupHint)
	for _, g := range groups {
		gd := fs.gdt.entries[g]
		if gd.freeInodesCount() == 0 {
			continue
		}
		entry, err := fs.inodeBitmapFor(g)
		if err != nil {
			return 0, err
		}
		idx := entry.bm.FindFirstFree()
		if idx < 0 {
			continue
		}
		if err := entry.bm.Allocate(idx); err != nil {
			return 0, err
		}
		entry.dirty = true
		fs.bitmapCacheRef.markDirty(bitmapKindInode, g)
		gd.setFreeInodesCount(gd.freeInodesCount() - 1)
		fs.sb.freeInodesCount--
		if isDir {
			gd.setUsedDirsCount(gd.usedDirsCount() + 1)
		}
		number := g*fs.sb.inodesPerGroup + uint32(idx) + 1
		return number, nil
	}
	return 0, fmt.Errorf("%w: no free inodes", ErrNoSpace)
}

func (fs *Filesystem) freeInode(number uint32, wasDir bool) error {
	g, local, err := fs.inodeToGroup(number)
	if err != nil {
		return err
	}
	entry, err := fs.inodeBitmapFor(g)
	if err != nil {
		return err
	}
	if err := entry.bm.Free(local); err != nil {
		if fs.log != nil {
			fs.log.Warnf("freeInode: inode %d already free", number)
		}
		return nil
	}
	entry.dirty = true
	fs.bitmapCacheRef.markDirty(bitmapKindInode, g)
	gd := fs.gdt.entries[g]
	gd.setFreeInodesCount(gd.freeInodesCount() + 1)
	fs.sb.freeInodesCount++
	if wasDir && gd.usedDirsCount() > 0 {
		gd.setUsedDirsCount(gd.usedDirsCount() - 1)
	}
	return nil
}

// groupOrder returns the group scan order starting at hint, wrapping
// around the whole table; used so allocations for a given file/directory
// stay local to one block group when possible.
func (fs *Filesystem) groupOrder(hint uint32) []uint32 {
	n := uint32(len(fs.gdt.entries))
	if n == 0 {
		return nil
	}
	if hint >= n {
		hint = 0
	}
	order := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		order = append(order, (hint+i)%n)
	}
	return order
}

func (fs *Filesystem) groupFirstDataBlock(g uint32) uint64 {
	return uint64(fs.sb.firstDataBlock) + uint64(g)*uint64(fs.sb.blocksPerGroup)
}

func (fs *Filesystem) blockToGroup(block uint64) (group uint32, local int, err error) {
	if block < uint64(fs.sb.firstDataBlock) {
		return 0, 0, fmt.Errorf("%w: block %d before first data block", ErrInvalidInput, block)
	}
	rel := block - uint64(fs.sb.firstDataBlock)
	g := rel / uint64(fs.sb.blocksPerGroup)
	if g >= uint64(len(fs.gdt.entries)) {
		return 0, 0, fmt.Errorf("%w: block %d out of range", ErrInvalidInput, block)
	}
	return uint32(g), int(rel % uint64(fs.sb.blocksPerGroup)), nil
}

func (fs *Filesystem) inodeToGroup(number uint32) (group uint32, local int, err error) {
	if number == 0 {
		return 0, 0, fmt.Errorf("%w: inode 0 is invalid", ErrInvalidInput)
	}
	idx := number - 1
	g := idx / fs.sb.inodesPerGroup
	if g >= uint32(len(fs.gdt.entries)) {
		return 0, 0, fmt.Errorf("%w: inode %d out of range", ErrInvalidInput, number)
	}
	return g, int(idx % fs.sb.inodesPerGroup), nil
}

func (fs *Filesystem) blockBitmapFor(g uint32) (*bitmapCacheEntry, error) {
	gd := fs.gdt.entries[g]
	return fs.bitmapCacheRef.get(bitmapKindBlock, g, gd.blockBitmap(), int(fs.sb.blocksPerGroup))
}

func (fs *Filesystem) inodeBitmapFor(g uint32) (*bitmapCacheEntry, error) {
	gd := fs.gdt.entries[g]
	return fs.bitmapCacheRef.get(bitmapKindInode, g, gd.inodeBitmap(), int(fs.sb.inodesPerGroup))
}

// inodeLocation resolves an inode number to its on-disk block and
// byte offset within that block.
func (fs *Filesystem) inodeLocation(number uint32) (block uint64, offset int, err error) {
	g, local, err := fs.inodeToGroup(number)
	if err != nil {
		return 0, 0, err
	}
	gd := fs.gdt.entries[g]
	recSize := int(fs.sb.inodeRecordSize())
	perBlock := int(fs.sb.blockSize) / recSize
	if perBlock == 0 {
		return 0, 0, fmt.Errorf("%w: inode record size exceeds block size", ErrCorrupted)
	}
	block = gd.inodeTable() + uint64(local/perBlock)
	offset = (local % perBlock) * recSize
	return block, offset, nil
}
