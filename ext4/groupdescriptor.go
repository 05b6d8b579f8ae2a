package ext4

import "fmt"

// groupDescriptorSize32 / groupDescriptorSize64 are the on-disk sizes
// when the 64BIT incompat feature is clear / set respectively.
const (
	groupDescriptorSize32 = 32
	groupDescriptorSize64 = 64
)

// groupDescriptor is the in-memory mirror of one block group's on-disk
// descriptor: bitmap locations, inode-table start, free
// counts, and flags.
type groupDescriptor struct {
	blockBitmapLo     uint32
	blockBitmapHi     uint32
	inodeBitmapLo     uint32
	inodeBitmapHi     uint32
	inodeTableLo      uint32
	inodeTableHi      uint32
	freeBlocksLo      uint16
	freeBlocksHi      uint16
	freeInodesLo      uint16
	freeInodesHi      uint16
	usedDirsLo        uint16
	usedDirsHi        uint16
	flags             uint16
	itableUnusedLo    uint16
	itableUnusedHi    uint16

	size uint16 // 32 or 64, chosen by filesystem's 64bit feature
}

func (gd *groupDescriptor) blockBitmap() uint64 { return lo32hi16u32(gd.blockBitmapLo, gd.blockBitmapHi) }
func (gd *groupDescriptor) setBlockBitmap(v uint64) {
	gd.blockBitmapLo, gd.blockBitmapHi = uint32(v), uint32(v>>32)
}

func (gd *groupDescriptor) inodeBitmap() uint64 { return lo32hi16u32(gd.inodeBitmapLo, gd.inodeBitmapHi) }
func (gd *groupDescriptor) setInodeBitmap(v uint64) {
	gd.inodeBitmapLo, gd.inodeBitmapHi = uint32(v), uint32(v>>32)
}

func (gd *groupDescriptor) inodeTable() uint64 { return lo32hi16u32(gd.inodeTableLo, gd.inodeTableHi) }
func (gd *groupDescriptor) setInodeTable(v uint64) {
	gd.inodeTableLo, gd.inodeTableHi = uint32(v), uint32(v>>32)
}

func (gd *groupDescriptor) freeBlocksCount() uint32 {
	return uint32(gd.freeBlocksLo) | uint32(gd.freeBlocksHi)<<16
}
func (gd *groupDescriptor) setFreeBlocksCount(v uint32) {
	gd.freeBlocksLo, gd.freeBlocksHi = uint16(v), uint16(v>>16)
}

func (gd *groupDescriptor) freeInodesCount() uint32 {
	return uint32(gd.freeInodesLo) | uint32(gd.freeInodesHi)<<16
}
func (gd *groupDescriptor) setFreeInodesCount(v uint32) {
	gd.freeInodesLo, gd.freeInodesHi = uint16(v), uint16(v>>16)
}

func (gd *groupDescriptor) usedDirsCount() uint32 {
	return uint32(gd.usedDirsLo) | uint32(gd.usedDirsHi)<<16
}
func (gd *groupDescriptor) setUsedDirsCount(v uint32) {
	gd.usedDirsLo, gd.usedDirsHi = uint16(v), uint16(v>>16)
}

func (gd *groupDescriptor) blockUninit() bool { return gd.flags&groupFlagBlockUninit != 0 }
func (gd *groupDescriptor) inodeUninit() bool { return gd.flags&groupFlagInodeUninit != 0 }

func (gd *groupDescriptor) DiskSize() int { return int(gd.size) }

func (gd *groupDescriptor) FromDiskBytes(b []byte) error {
	if len(b) < groupDescriptorSize32 {
		return fmt.Errorf("%w: group descriptor record too short", ErrInvalidData)
	}
	gd.blockBitmapLo = readU32LE(b[0:4])
	gd.inodeBitmapLo = readU32LE(b[4:8])
	gd.inodeTableLo = readU32LE(b[8:12])
	gd.freeBlocksLo = readU16LE(b[12:14])
	gd.freeInodesLo = readU16LE(b[14:16])
	gd.usedDirsLo = readU16LE(b[16:18])
	gd.flags = readU16LE(b[18:20])
	gd.itableUnusedLo = readU16LE(b[28:30])
	if len(b) >= groupDescriptorSize64 {
		gd.size = groupDescriptorSize64
		gd.blockBitmapHi = readU32LE(b[32:36])
		gd.inodeBitmapHi = readU32LE(b[36:40])
		gd.inodeTableHi = readU32LE(b[40:44])
		gd.freeBlocksHi = readU16LE(b[44:46])
		gd.freeInodesHi = readU16LE(b[46:48])
		gd.usedDirsHi = readU16LE(b[48:50])
		gd.itableUnusedHi = readU16LE(b[50:52])
	} else {
		gd.size = groupDescriptorSize32
	}
	return nil
}

func (gd *groupDescriptor) ToDiskBytes(b []byte) {
	for i := range b[:gd.size] {
		b[i] = 0
	}
	writeU32LE(b[0:4], gd.blockBitmapLo)
	writeU32LE(b[4:8], gd.inodeBitmapLo)
	writeU32LE(b[8:12], gd.inodeTableLo)
	writeU16LE(b[12:14], gd.freeBlocksLo)
	writeU16LE(b[14:16], gd.freeInodesLo)
	writeU16LE(b[16:18], gd.usedDirsLo)
	writeU16LE(b[18:20], gd.flags)
	writeU16LE(b[28:30], gd.itableUnusedLo)
	if gd.size >= groupDescriptorSize64 {
		writeU32LE(b[32:36], gd.blockBitmapHi)
		writeU32LE(b[36:40], gd.inodeBitmapHi)
		writeU32LE(b[40:44], gd.inodeTableHi)
		writeU16LE(b[44:46], gd.freeBlocksHi)
		writeU16LE(b[46:48], gd.freeInodesHi)
		writeU16LE(b[48:50], gd.usedDirsHi)
		writeU16LE(b[50:52], gd.itableUnusedHi)
	}
}

// groupDescriptorTable is the contiguous GDT, one entry per block group.
type groupDescriptorTable struct {
	entries []*groupDescriptor
}

func (t *groupDescriptorTable) equal(o *groupDescriptorTable) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.entries) != len(o.entries) {
		return false
	}
	for i := range t.entries {
		if *t.entries[i] != *o.entries[i] {
			return false
		}
	}
	return true
}
