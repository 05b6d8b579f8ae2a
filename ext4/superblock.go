package ext4

import (
	"fmt"

	"github.com/google/uuid"
)

// superblockSize is the on-disk size of the portion of the superblock
// this engine reads/writes; ext4 allocates 1024 bytes for it regardless.
const superblockSize = 1024

// superblock is the in-memory mirror of the on-disk ext4 superblock.
type superblock struct {
	inodesCount      uint32
	blocksCountLo    uint32
	blocksCountHi    uint32
	rBlocksCountLo   uint32 // reserved blocks
	rBlocksCountHi   uint32
	freeBlocksCountLo uint32
	freeBlocksCountHi uint32
	freeInodesCount  uint32
	firstDataBlock   uint32
	logBlockSize     uint32
	blocksPerGroup   uint32
	inodesPerGroup   uint32
	mtime            uint32
	wtime            uint32
	mountCount       uint16
	maxMountCount    uint16
	magic            uint16
	state            uint16
	errors           uint16
	firstInode       uint32
	inodeSize        uint16
	blockGroupNr     uint16
	featureCompat    uint32
	featureIncompat  uint32
	featureRoCompat  uint32
	uuid             uuid.UUID
	volumeName       [16]byte
	hashSeed         [4]uint32
	defaultMountOpts uint32
	journalInum      uint32
	lastOrphan       uint32
	descSize         uint16 // 64bit group desc size, 0 => 32

	// derived, not on disk
	blockSize uint32
}

func (sb *superblock) blockCount() uint64 {
	return lo32hi16u32(sb.blocksCountLo, sb.blocksCountHi)
}

func (sb *superblock) setBlockCount(v uint64) {
	sb.blocksCountLo = uint32(v & 0xFFFFFFFF)
	sb.blocksCountHi = uint32(v >> 32)
}

func (sb *superblock) freeBlockCount() uint64 {
	return lo32hi16u32(sb.freeBlocksCountLo, sb.freeBlocksCountHi)
}

func (sb *superblock) setFreeBlockCount(v uint64) {
	sb.freeBlocksCountLo = uint32(v & 0xFFFFFFFF)
	sb.freeBlocksCountHi = uint32(v >> 32)
}

func lo32hi16u32(lo, hi uint32) uint64 { return uint64(lo) | uint64(hi)<<32 }

func (sb *superblock) groupCount() uint32 {
	if sb.blocksPerGroup == 0 {
		return 0
	}
	total := sb.blockCount() - uint64(sb.firstDataBlock)
	groups := total / uint64(sb.blocksPerGroup)
	if total%uint64(sb.blocksPerGroup) != 0 {
		groups++
	}
	return uint32(groups)
}

func (sb *superblock) is64Bit() bool {
	return sb.featureIncompat&featureIncompat64Bit != 0
}

func (sb *superblock) hasJournal() bool {
	return sb.featureCompat&featureCompatHasJournal != 0
}

func (sb *superblock) sparseSuper() bool {
	return sb.featureRoCompat&featureRoCompatSparseSuper != 0 || sb.featureCompat&featureCompatSparseSuper != 0
}

func (sb *superblock) groupDescSize() uint16 {
	if sb.is64Bit() && sb.descSize > 32 {
		return sb.descSize
	}
	return 32
}

func (sb *superblock) inodeRecordSize() uint16 {
	if sb.inodeSize == 0 {
		return 256
	}
	return sb.inodeSize
}

// FromDiskBytes parses a 1024-byte superblock record.
func (sb *superblock) FromDiskBytes(b []byte) error {
	if len(b) < superblockSize {
		return fmt.Errorf("%w: superblock record too short (%d bytes)", ErrInvalidData, len(b))
	}
	sb.inodesCount = readU32LE(b[0:4])
	sb.blocksCountLo = readU32LE(b[4:8])
	sb.rBlocksCountLo = readU32LE(b[8:12])
	sb.freeBlocksCountLo = readU32LE(b[12:16])
	sb.freeInodesCount = readU32LE(b[16:20])
	sb.firstDataBlock = readU32LE(b[20:24])
	sb.logBlockSize = readU32LE(b[24:28])
	sb.blocksPerGroup = readU32LE(b[32:36])
	sb.inodesPerGroup = readU32LE(b[40:44])
	sb.mtime = readU32LE(b[44:48])
	sb.wtime = readU32LE(b[48:52])
	sb.mountCount = readU16LE(b[52:54])
	sb.maxMountCount = readU16LE(b[54:56])
	sb.magic = readU16LE(b[56:58])
	if sb.magic != superblockMagic {
		return fmt.Errorf("%w: bad superblock magic 0x%x", ErrInvalidData, sb.magic)
	}
	sb.state = readU16LE(b[58:60])
	sb.errors = readU16LE(b[60:62])
	sb.firstInode = readU32LE(b[84:88])
	sb.inodeSize = readU16LE(b[88:90])
	sb.blockGroupNr = readU16LE(b[90:92])
	sb.featureCompat = readU32LE(b[92:96])
	sb.featureIncompat = readU32LE(b[96:100])
	sb.featureRoCompat = readU32LE(b[100:104])
	copy(sb.uuid[:], b[104:120])
	copy(sb.volumeName[:], b[120:136])
	sb.journalInum = readU32LE(b[224:228])
	sb.lastOrphan = readU32LE(b[232:236])
	sb.hashSeed[0] = readU32LE(b[236:240])
	sb.hashSeed[1] = readU32LE(b[240:244])
	sb.hashSeed[2] = readU32LE(b[244:248])
	sb.hashSeed[3] = readU32LE(b[248:252])
	sb.defaultMountOpts = readU32LE(b[256:260])
	sb.blocksCountHi = readU32LE(b[336:340])
	sb.rBlocksCountHi = readU32LE(b[340:344])
	sb.freeBlocksCountHi = readU32LE(b[344:348])
	sb.descSize = readU16LE(b[254:256])

	sb.blockSize = 1024 << sb.logBlockSize
	return nil
}

// ToDiskBytes serialises the superblock into a 1024-byte record.
func (sb *superblock) ToDiskBytes(b []byte) {
	for i := range b[:superblockSize] {
		b[i] = 0
	}
	writeU32LE(b[0:4], sb.inodesCount)
	writeU32LE(b[4:8], sb.blocksCountLo)
	writeU32LE(b[8:12], sb.rBlocksCountLo)
	writeU32LE(b[12:16], sb.freeBlocksCountLo)
	writeU32LE(b[16:20], sb.freeInodesCount)
	writeU32LE(b[20:24], sb.firstDataBlock)
	writeU32LE(b[24:28], sb.logBlockSize)
	writeU32LE(b[28:32], sb.logBlockSize) // log_cluster_size == log_block_size (no bigalloc)
	writeU32LE(b[32:36], sb.blocksPerGroup)
	writeU32LE(b[36:40], sb.blocksPerGroup) // clusters_per_group
	writeU32LE(b[40:44], sb.inodesPerGroup)
	writeU32LE(b[44:48], sb.mtime)
	writeU32LE(b[48:52], sb.wtime)
	writeU16LE(b[52:54], sb.mountCount)
	writeU16LE(b[54:56], sb.maxMountCount)
	writeU16LE(b[56:58], superblockMagic)
	writeU16LE(b[58:60], sb.state)
	writeU16LE(b[60:62], sb.errors)
	writeU32LE(b[84:88], sb.firstInode)
	writeU16LE(b[88:90], sb.inodeSize)
	writeU16LE(b[90:92], sb.blockGroupNr)
	writeU32LE(b[92:96], sb.featureCompat)
	writeU32LE(b[96:100], sb.featureIncompat)
	writeU32LE(b[100:104], sb.featureRoCompat)
	copy(b[104:120], sb.uuid[:])
	copy(b[120:136], sb.volumeName[:])
	writeU32LE(b[224:228], sb.journalInum)
	writeU32LE(b[232:236], sb.lastOrphan)
	writeU32LE(b[236:240], sb.hashSeed[0])
	writeU32LE(b[240:244], sb.hashSeed[1])
	writeU32LE(b[244:248], sb.hashSeed[2])
	writeU32LE(b[248:252], sb.hashSeed[3])
	writeU32LE(b[256:260], sb.defaultMountOpts)
	writeU16LE(b[254:256], sb.descSize)
	writeU32LE(b[336:340], sb.blocksCountHi)
	writeU32LE(b[340:344], sb.rBlocksCountHi)
	writeU32LE(b[344:348], sb.freeBlocksCountHi)
}

func (sb *superblock) DiskSize() int { return superblockSize }

// superblockFromBytes parses a standalone superblock record.
func superblockFromBytes(b []byte) (*superblock, error) {
	sb := &superblock{}
	if err := sb.FromDiskBytes(b); err != nil {
		return nil, err
	}
	return sb, nil
}

// superblockPartitionOffset returns the byte offset of the primary
// superblock within the partition: offset 1024 always, which lands in
// block 1 on 1 KiB-block filesystems or block 0 (at byte 1024) otherwise.
func superblockPartitionOffset() int64 { return 1024 }

// isPowerOf reports whether n is an exact power of base.
func isPowerOf(n, base uint64) bool {
	if n == 0 {
		return false
	}
	for n%base == 0 {
		n /= base
	}
	return n == 1
}

// calculateBackupSuperblockGroups returns the block-group indices that
// carry a backup superblock when SPARSE_SUPER is set: group 0 is the
// primary (never listed here), group 1 always, then groups that are an
// exact power of 3, 5, or 7.
func calculateBackupSuperblockGroups(groupCount int64) []int64 {
	var groups []int64
	for g := int64(1); g < groupCount; g++ {
		if g == 1 || isPowerOf(uint64(g), 3) || isPowerOf(uint64(g), 5) || isPowerOf(uint64(g), 7) {
			groups = append(groups, g)
		}
	}
	return groups
}
