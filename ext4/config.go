package ext4

// Fixed/reserved inode numbers.
const (
	RootInode       uint32 = 2
	UserQuotaInode  uint32 = 3
	GroupQuotaInode uint32 = 4
	BootLoaderInode uint32 = 5
	UndeleteInode   uint32 = 6
	GDTInode        uint32 = 7
	JournalInode    uint32 = 8
	ExcludeInode    uint32 = 9
	ReplicaInode    uint32 = 10
	// FirstNonReservedInode is the first inode number outside the
	// reserved range; mkfs allocates /lost+found like any other
	// directory, so it receives this number.
	FirstNonReservedInode uint32 = 11
)

const (
	superblockMagic uint16 = 0xEF53
	extentMagic     uint16 = 0xF30A
	journalMagicBE  uint32 = 0xC03B3998

	maxExtentLen     uint16 = 32768
	extentLenUninit  uint16 = 0x8000 // high bit: uninitialised flag
	extentNodeHeaderLen = 12
	extentEntryLen      = 12
	inlineIBlockBytes   = 60 // 15 * 4 bytes
	inlineExtentMax     = (inlineIBlockBytes - extentNodeHeaderLen) / extentEntryLen // 4

	dirEntryHeaderLen = 8 // inode(4) + rec_len(2) + name_len(1) + file_type(1)

	fastSymlinkMaxLen = 60

	sectorSize = 512
)

// Feature flags (subset actually consulted by this engine).
const (
	featureCompatHasJournal   uint32 = 0x0004
	featureCompatSparseSuper  uint32 = 0x0001

	featureIncompatFiletype uint32 = 0x0002
	featureIncompatExtents  uint32 = 0x0040
	featureIncompat64Bit    uint32 = 0x0080

	featureRoCompatSparseSuper uint32 = 0x0001
	featureRoCompatLargeFile   uint32 = 0x0002
	featureRoCompatHugeFile    uint32 = 0x0008
)

// Group descriptor flags.
const (
	groupFlagInodeUninit uint16 = 0x1
	groupFlagBlockUninit uint16 = 0x2
	groupFlagInodeZeroed uint16 = 0x4
)

// Inode mode bits (type).
const (
	sIFSOCK uint16 = 0xC000
	sIFLNK  uint16 = 0xA000
	sIFREG  uint16 = 0x8000
	sIFBLK  uint16 = 0x6000
	sIFDIR  uint16 = 0x4000
	sIFCHR  uint16 = 0x2000
	sIFIFO  uint16 = 0x1000
	sIFMT   uint16 = 0xF000
)

// Inode flags (subset).
const (
	inodeFlagExtents uint32 = 0x00080000
)

// Directory entry file types (matches inode type nibble, filetype feature).
const (
	ftUnknown byte = 0
	ftRegular byte = 1
	ftDir     byte = 2
	ftChrdev  byte = 3
	ftBlkdev  byte = 4
	ftFifo    byte = 5
	ftSock    byte = 6
	ftSymlink byte = 7
)

// Config is the frozen set of options recognised at mount/mkfs time.
type Config struct {
	// BlockSize in bytes; must equal 1024 << LogBlockSize.
	BlockSize uint32
	// LogBlockSize is log2(block-size-in-KiB); 0 => 1024, 1 => 2048, 2 => 4096.
	LogBlockSize uint32
	// DefaultInodeSize is the on-disk inode record size (typically 256).
	DefaultInodeSize uint16
	// InodeCacheMax bounds the inode-table cache's resident entries.
	InodeCacheMax int
	// DataBlockCacheMax bounds the data-block cache's resident entries.
	DataBlockCacheMax int
	// BitmapCacheMax bounds the bitmap cache's resident entries.
	BitmapCacheMax int
	// ReservedInodes is the first non-reserved inode number (>= 10).
	ReservedInodes uint32
	// ReservedGDTBlocks is extra GDT space reserved for future online growth.
	ReservedGDTBlocks uint32
	// InodeRatio is bytes-per-inode used to size the inode table at mkfs.
	InodeRatio int64
	// VolumeLabel is the optional filesystem label.
	VolumeLabel string
	// EnableJournal toggles whether metadata writes route through JBD2.
	EnableJournal bool
	// JournalBlocks is how many blocks to reserve for the journal at mkfs (0 => default).
	JournalBlocks uint32
}

// DefaultConfig returns the engine's standard configuration: 4 KiB
// blocks, 256-byte inodes, modest cache sizes, journaling on.
func DefaultConfig() Config {
	return Config{
		BlockSize:         4096,
		LogBlockSize:      2,
		DefaultInodeSize:  256,
		InodeCacheMax:     64,
		DataBlockCacheMax: 256,
		BitmapCacheMax:    32,
		ReservedInodes:    FirstNonReservedInode,
		ReservedGDTBlocks: 256,
		InodeRatio:        8192,
		EnableJournal:     true,
		JournalBlocks:     4096,
	}
}
