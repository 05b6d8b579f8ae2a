package ext4

import (
	"fmt"
	"sync"

	"github.com/ext4fs/ext4fs/util/timestamp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ext4fs/ext4fs/backend"
	"github.com/ext4fs/ext4fs/bitops"
	"github.com/ext4fs/ext4fs/blockdevice"
)

// Filesystem is the single owner of a mounted volume's state: its
// superblock, group descriptor table, caches, allocators, and journal
//. All mutating operations take fs.mu, matching the
// coarse single-writer model this engine targets (concurrent
// multi-writer access is out of scope).
type Filesystem struct {
	dev *blockdevice.Device
	cfg Config

	sb  *superblock
	gdt *groupDescriptorTable

	bitmapCacheRef *bitmapCache
	inodeCache     *inodeTableCache
	dataCache      *dataBlockCache
	jrn            *journal

	log logrus.FieldLogger
	mu  sync.Mutex
}

func (fs *Filesystem) blockSize() uint32 { return fs.sb.blockSize }

// SetLogger installs a structured logger; DefaultConfig wiring uses
// logrus.StandardLogger() when none is supplied.
func (fs *Filesystem) SetLogger(log logrus.FieldLogger) { fs.log = log }

// Info is a snapshot of superblock-level statistics, exported for
// callers such as cmd/ext4util's dump subcommand that need a summary
// without reaching into package-internal superblock fields.
type Info struct {
	VolumeLabel    string
	UUID           uuid.UUID
	BlockSize      uint32
	BlocksCount    uint64
	FreeBlocks     uint64
	InodesCount    uint32
	FreeInodes     uint32
	InodeSize      uint16
	BlocksPerGroup uint32
	InodesPerGroup uint32
	GroupCount     int
	HasJournal     bool
}

// Info returns a snapshot of the mounted filesystem's superblock
// statistics.
func (fs *Filesystem) Info() Info {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return Info{
		VolumeLabel:    volumeLabelString(fs.sb.volumeName),
		UUID:           fs.sb.uuid,
		BlockSize:      fs.sb.blockSize,
		BlocksCount:    fs.sb.blockCount(),
		FreeBlocks:     lo32hi16u32(fs.sb.freeBlocksCountLo, fs.sb.freeBlocksCountHi),
		InodesCount:    fs.sb.inodesCount,
		FreeInodes:     fs.sb.freeInodesCount,
		InodeSize:      fs.sb.inodeSize,
		BlocksPerGroup: fs.sb.blocksPerGroup,
		InodesPerGroup: fs.sb.inodesPerGroup,
		GroupCount:     len(fs.gdt.entries),
		HasJournal:     fs.sb.hasJournal(),
	}
}

func volumeLabelString(b [16]byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// readMetaBlock returns a fresh copy of block's content, bypassing any
// data-block cache (metadata blocks are cached by their own structures:
// bitmaps and inode-table entries).
func (fs *Filesystem) readMetaBlock(block uint64) ([]byte, error) {
	buf := make([]byte, fs.blockSize())
	if err := fs.dev.Read(buf, block, 1); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeMetaBlock writes a metadata block through the device's metadata
// sink (the journal, when enabled), so it is staged rather than applied
// immediately.
func (fs *Filesystem) writeMetaBlock(block uint64, data []byte) error {
	return fs.dev.WriteBlockData(block, data, true)
}

// loadInodeFromDisk reads and decodes a single inode record directly
// from the inode table, outside of the inode-table cache (used by the
// cache itself on a miss).
func (fs *Filesystem) loadInodeFromDisk(number uint32) (*inode, error) {
	block, off, err := fs.inodeLocation(number)
	if err != nil {
		return nil, err
	}
	buf, err := fs.readMetaBlock(block)
	if err != nil {
		return nil, err
	}
	recSize := int(fs.sb.inodeRecordSize())
	if off+recSize > len(buf) {
		return nil, fmt.Errorf("%w: inode %d record exceeds block", ErrCorrupted, number)
	}
	return inodeFromBytes(buf[off:off+recSize], number)
}

// writeInodeToDisk performs a read-patch-write of a single inode's
// on-disk record, preserving any trailing bytes beyond what this engine
// parses.
func (fs *Filesystem) writeInodeToDisk(in *inode) error {
	block, off, err := fs.inodeLocation(in.number)
	if err != nil {
		return err
	}
	buf, err := fs.readMetaBlock(block)
	if err != nil {
		return err
	}
	recSize := int(fs.sb.inodeRecordSize())
	if off+recSize > len(buf) {
		return fmt.Errorf("%w: inode %d record exceeds block", ErrCorrupted, in.number)
	}
	in.ToDiskBytes(buf[off : off+recSize])
	return fs.writeMetaBlock(block, buf)
}

// GetInode loads (or returns the cached copy of) the inode numbered n.
func (fs *Filesystem) GetInode(n uint32) (*inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.inodeCache.get(n)
}

// PutInode marks in dirty in the inode-table cache.
func (fs *Filesystem) PutInode(in *inode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.inodeCache.put(in)
}

// Sync flushes the inode-table and bitmap caches, commits any pending
// journal transaction, and rewrites the superblock and group descriptor
// table.
func (fs *Filesystem) Sync() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.syncLocked()
}

func (fs *Filesystem) syncLocked() error {
	if err := fs.inodeCache.flushAll(); err != nil {
		return err
	}
	if err := fs.bitmapCacheRef.flushAll(); err != nil {
		return err
	}
	if fs.jrn != nil {
		if err := fs.jrn.commit(); err != nil {
			return err
		}
	}
	return fs.writeSuperblockAndGDT()
}

// superblockBlock and gdtStartBlock follow the standard ext4 layout: on
// 1 KiB-block filesystems block 0 is a reserved boot block, the
// superblock occupies block 1 whole, and the GDT starts at block 2; on
// larger block sizes the superblock (always at byte offset 1024) fits
// inside block 0 alongside boot-sector padding, and the GDT starts at
// block 1.
func (fs *Filesystem) superblockBlock() uint64 {
	if fs.blockSize() == 1024 {
		return 1
	}
	return 0
}

func (fs *Filesystem) gdtStartBlock() uint64 {
	if fs.blockSize() == 1024 {
		return 2
	}
	return 1
}

func (fs *Filesystem) writeSuperblockAndGDT() error {
	sbBlock := fs.superblockBlock()
	blockBuf, err := fs.readMetaBlock(sbBlock)
	if err != nil {
		return err
	}
	sbOff := 0
	if fs.blockSize() != 1024 {
		sbOff = 1024
	}
	fs.sb.ToDiskBytes(blockBuf[sbOff : sbOff+superblockSize])
	if err := fs.dev.Write(blockBuf, sbBlock, 1); err != nil {
		return err
	}

	gdSize := int(fs.sb.groupDescSize())
	gdBlocks := blocksNeeded(uint32(len(fs.gdt.entries)*gdSize), fs.blockSize())
	buf := make([]byte, uint64(gdBlocks)*uint64(fs.blockSize()))
	for i, gd := range fs.gdt.entries {
		gd.ToDiskBytes(buf[i*gdSize : i*gdSize+gdSize])
	}
	return fs.dev.Write(buf, fs.gdtStartBlock(), gdBlocks)
}

// Close syncs outstanding state. It does not close the underlying
// storage.
func (fs *Filesystem) Close() error {
	return fs.Sync()
}

func blocksNeeded(bytes, blockSize uint32) uint32 {
	n := bytes / blockSize
	if bytes%blockSize != 0 {
		n++
	}
	return n
}

func ceilDiv64(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	n := a / b
	if a%b != 0 {
		n++
	}
	return n
}

// Mkfs formats storage with a fresh ext4 filesystem per cfg and returns
// a mounted handle to it.
func Mkfs(storage backend.Storage, cfg Config) (*Filesystem, error) {
	sizeBytes, err := blockdevice.SizeOf(storage)
	if err != nil {
		return nil, err
	}
	blockSize := cfg.BlockSize
	totalBlocks := uint64(sizeBytes) / uint64(blockSize)
	if totalBlocks < 64 {
		return nil, fmt.Errorf("%w: device too small for ext4 (%d blocks)", ErrInvalidInput, totalBlocks)
	}

	dev, err := blockdevice.New(storage, 0, blockSize, totalBlocks)
	if err != nil {
		return nil, err
	}

	firstDataBlock := uint32(0)
	if blockSize == 1024 {
		firstDataBlock = 1
	}
	blocksPerGroup := blockSize * 8
	dataBlocks := totalBlocks - uint64(firstDataBlock)
	groupCount := uint32(ceilDiv64(dataBlocks, uint64(blocksPerGroup)))
	if groupCount == 0 {
		groupCount = 1
	}

	inodeRecSize := cfg.DefaultInodeSize
	totalInodeBudget := int64(totalBlocks) * int64(blockSize) / cfg.InodeRatio
	inodesPerGroup := uint32(ceilDiv64(uint64(totalInodeBudget), uint64(groupCount)))
	if inodesPerGroup < 8 {
		inodesPerGroup = 8
	}
	// round up to a multiple of 8 so the inode bitmap occupies whole bytes.
	if inodesPerGroup%8 != 0 {
		inodesPerGroup += 8 - inodesPerGroup%8
	}

	gdSize := uint16(groupDescriptorSize32)
	reservedGDT := cfg.ReservedGDTBlocks
	gdBlocksPerCopy := blocksNeeded(groupCount*uint32(gdSize), blockSize)
	metaBlocksPerCopy := 1 + gdBlocksPerCopy + reservedGDT // superblock + GDT + reserved growth

	backupGroups := map[int64]bool{}
	for _, g := range calculateBackupSuperblockGroups(int64(groupCount)) {
		backupGroups[g] = true
	}

	sb := &superblock{
		blocksPerGroup:   blocksPerGroup,
		inodesPerGroup:   inodesPerGroup,
		firstDataBlock:   firstDataBlock,
		logBlockSize:     cfg.LogBlockSize,
		inodeSize:        inodeRecSize,
		state:            1,
		maxMountCount:    0xFFFF,
		featureCompat:    featureCompatSparseSuper,
		featureIncompat:  featureIncompatFiletype | featureIncompatExtents,
		featureRoCompat:  featureRoCompatSparseSuper | featureRoCompatLargeFile | featureRoCompatHugeFile,
		uuid:             uuid.New(),
		blockSize:        blockSize,
	}
	copy(sb.volumeName[:], cfg.VolumeLabel)
	if cfg.EnableJournal {
		sb.featureCompat |= featureCompatHasJournal
		sb.journalInum = JournalInode
	}

	gdt := &groupDescriptorTable{entries: make([]*groupDescriptor, groupCount)}
	inodeTableBlocksPerGroup := blocksNeeded(inodesPerGroup*uint32(inodeRecSize), blockSize)

	for g := uint32(0); g < groupCount; g++ {
		groupStart := uint64(firstDataBlock) + uint64(g)*uint64(blocksPerGroup)
		cursor := groupStart
		if g == 0 || backupGroups[int64(g)] {
			cursor += uint64(metaBlocksPerCopy)
		}
		blockBitmapBlock := cursor
		cursor++
		inodeBitmapBlock := cursor
		cursor++
		inodeTableBlock := cursor
		cursor += uint64(inodeTableBlocksPerGroup)
		dataStart := cursor

		blocksInGroup := uint64(blocksPerGroup)
		if groupStart+blocksInGroup > totalBlocks {
			blocksInGroup = totalBlocks - groupStart
		}
		usedMeta := dataStart - groupStart

		gd := &groupDescriptor{size: groupDescriptorSize32}
		gd.setBlockBitmap(blockBitmapBlock)
		gd.setInodeBitmap(inodeBitmapBlock)
		gd.setInodeTable(inodeTableBlock)
		gd.setFreeBlocksCount(uint32(blocksInGroup - usedMeta))
		gd.setFreeInodesCount(inodesPerGroup)
		gdt.entries[g] = gd

		blockBitmap := bitops.NewBits(int(blocksPerGroup))
		for i := uint64(0); i < usedMeta; i++ {
			_ = blockBitmap.ForceAllocate(int(i))
		}
		for i := blocksInGroup; i < uint64(blocksPerGroup); i++ {
			_ = blockBitmap.ForceAllocate(int(i))
		}
		bbBuf := make([]byte, blockSize)
		copy(bbBuf, blockBitmap.Bytes())
		if err := dev.Write(bbBuf, blockBitmapBlock, 1); err != nil {
			return nil, err
		}

		inodeBitmap := bitops.NewBits(int(inodesPerGroup))
		if g == 0 {
			for i := uint32(0); i < cfg.ReservedInodes-1; i++ {
				_ = inodeBitmap.ForceAllocate(int(i))
			}
		}
		ibBuf := make([]byte, blockSize)
		copy(ibBuf, inodeBitmap.Bytes())
		if err := dev.Write(ibBuf, inodeBitmapBlock, 1); err != nil {
			return nil, err
		}

		// zero the inode table
		zero := make([]byte, blockSize)
		for b := uint64(0); b < uint64(inodeTableBlocksPerGroup); b++ {
			if err := dev.Write(zero, inodeTableBlock+b, 1); err != nil {
				return nil, err
			}
		}
	}
	if g0 := gdt.entries[0]; g0 != nil {
		g0.setFreeInodesCount(inodesPerGroup - (cfg.ReservedInodes - 1))
	}

	sb.inodesCount = inodesPerGroup * groupCount
	sb.setBlockCount(totalBlocks)
	freeInodesTotal := uint32(0)
	freeBlocksTotal := uint64(0)
	for _, gd := range gdt.entries {
		freeInodesTotal += gd.freeInodesCount()
		freeBlocksTotal += uint64(gd.freeBlocksCount())
	}
	sb.freeInodesCount = freeInodesTotal
	sb.setFreeBlockCount(freeBlocksTotal)

	fs := &Filesystem{
		dev:  dev,
		cfg:  cfg,
		sb:   sb,
		gdt:  gdt,
		log:  logrus.StandardLogger(),
	}
	fs.bitmapCacheRef = newBitmapCache(fs, cfg.BitmapCacheMax)
	fs.inodeCache = newInodeTableCache(fs, cfg.InodeCacheMax)
	fs.dataCache = newDataBlockCache(cfg.DataBlockCacheMax)

	if cfg.EnableJournal {
		journalBlocks := cfg.JournalBlocks
		if journalBlocks == 0 {
			journalBlocks = DefaultConfig().JournalBlocks
		}
		if err := fs.bootstrapJournal(journalBlocks); err != nil {
			return nil, err
		}
	}

	if err := fs.bootstrapRootAndLostFound(); err != nil {
		return nil, err
	}

	if err := fs.syncLocked(); err != nil {
		return nil, err
	}
	return fs, nil
}

// bootstrapJournal allocates journalBlocks contiguous blocks for the
// journal inode, zero-fills them, writes its inode record and initial
// (empty) journal superblock, then attaches the journal as the device's metadata sink
// so every subsequent metadata write is staged for commit.
func (fs *Filesystem) bootstrapJournal(journalBlocks uint32) error {
	phys, err := fs.allocateContiguousBlocks(0, int(journalBlocks))
	if err != nil {
		// fall back to a smaller journal if the volume is small
		journalBlocks = journalBlocks / 4
		if journalBlocks < 8 {
			return err
		}
		phys, err = fs.allocateContiguousBlocks(0, int(journalBlocks))
		if err != nil {
			return err
		}
	}
	zero := make([]byte, fs.blockSize())
	for b := uint64(0); b < uint64(journalBlocks); b++ {
		if err := fs.dev.Write(zero, phys+b, 1); err != nil {
			return err
		}
	}

	now := uint32(timestamp.GetTime().Unix())
	jin := newExtentFileInode(sIFREG, 0, 0, now)
	jin.number = JournalInode
	jin.linksCount = 1
	if err := fs.insertExtent(jin, leafExtentEntry{block: 0, length: uint16(journalBlocks), startLo: uint32(phys), startHi: uint16(phys >> 32)}); err != nil {
		return err
	}
	jin.setSize(uint64(journalBlocks) * uint64(fs.blockSize()))
	addInodeBlocks512(jin, int64(journalBlocks)*sectorsPerBlock(fs.blockSize()))
	if err := fs.writeInodeToDisk(jin); err != nil {
		return err
	}

	jrn := &journal{
		fs:       fs,
		startBlk: phys,
		sb: journalSuperblock{
			sequence: 1,
			blockSize: fs.blockSize(),
			maxLen:    journalBlocks - 1,
			first:     1,
		},
	}
	if err := jrn.writeSuperblock(); err != nil {
		return err
	}
	fs.jrn = jrn
	fs.dev.SetMetadataSink(jrn)
	return nil
}

// bootstrapRootAndLostFound creates the root directory (fixed inode 2)
// and a lost+found directory (the first normally-allocated inode),
// linked as root's child.
func (fs *Filesystem) bootstrapRootAndLostFound() error {
	now := uint32(timestamp.GetTime().Unix())

	root := newExtentFileInode(sIFDIR|0755, 0, 0, now)
	root.number = RootInode
	root.linksCount = 2
	rootGroup, _, err := fs.inodeToGroup(RootInode)
	if err != nil {
		return err
	}
	if gd := fs.gdt.entries[rootGroup]; gd != nil {
		gd.setUsedDirsCount(gd.usedDirsCount() + 1)
	}

	rootBlock, err := fs.allocateBlock(rootGroup)
	if err != nil {
		return err
	}
	if err := fs.insertExtent(root, leafExtentEntry{block: 0, length: 1, startLo: uint32(rootBlock), startHi: uint16(rootBlock >> 32)}); err != nil {
		return err
	}
	addInodeBlocks512(root, sectorsPerBlock(fs.blockSize()))
	root.setSize(uint64(fs.blockSize()))
	dotBuf, err := initDirBlock(RootInode, RootInode, fs.blockSize())
	if err != nil {
		return err
	}
	if err := fs.writeMetaBlock(rootBlock, dotBuf); err != nil {
		return err
	}
	if err := fs.writeInodeToDisk(root); err != nil {
		return err
	}

	lfNumber, err := fs.allocateInode(rootGroup, true)
	if err != nil {
		return err
	}
	lf := newExtentFileInode(sIFDIR|0700, 0, 0, now)
	lf.number = lfNumber
	lf.linksCount = 2
	lfGroup, _, err := fs.inodeToGroup(lfNumber)
	if err != nil {
		return err
	}
	lfBlock, err := fs.allocateBlock(lfGroup)
	if err != nil {
		return err
	}
	if err := fs.insertExtent(lf, leafExtentEntry{block: 0, length: 1, startLo: uint32(lfBlock), startHi: uint16(lfBlock >> 32)}); err != nil {
		return err
	}
	addInodeBlocks512(lf, sectorsPerBlock(fs.blockSize()))
	lf.setSize(uint64(fs.blockSize()))
	lfDirBuf, err := initDirBlock(lfNumber, RootInode, fs.blockSize())
	if err != nil {
		return err
	}
	if err := fs.writeMetaBlock(lfBlock, lfDirBuf); err != nil {
		return err
	}
	if err := fs.writeInodeToDisk(lf); err != nil {
		return err
	}

	return fs.dirInsert(root, "lost+found", lfNumber, ftDir)
}

// Mount reads an existing filesystem's superblock and group descriptor
// table from storage, replays any committed-but-uncheckpointed journal
// transactions, and returns a ready-to-use handle.
func Mount(storage backend.Storage, cfg Config) (*Filesystem, error) {
	sizeBytes, err := blockdevice.SizeOf(storage)
	if err != nil {
		return nil, err
	}

	probe, err := blockdevice.New(storage, 0, 1024, uint64(sizeBytes)/1024)
	if err != nil {
		return nil, err
	}
	sbBuf := make([]byte, superblockSize)
	if err := probe.Read(sbBuf, 1, 1); err != nil {
		return nil, err
	}
	sb, err := superblockFromBytes(sbBuf)
	if err != nil {
		return nil, err
	}

	totalBlocks := uint64(sizeBytes) / uint64(sb.blockSize)
	dev, err := blockdevice.New(storage, 0, sb.blockSize, totalBlocks)
	if err != nil {
		return nil, err
	}

	groupCount := sb.groupCount()
	gdSize := int(sb.groupDescSize())
	gdBlocks := blocksNeeded(groupCount*uint32(gdSize), sb.blockSize)
	gdtStartBlock := uint64(1)
	if sb.blockSize == 1024 {
		gdtStartBlock = 2
	}
	gdBuf := make([]byte, uint64(gdBlocks)*uint64(sb.blockSize))
	if err := dev.Read(gdBuf, gdtStartBlock, gdBlocks); err != nil {
		return nil, err
	}
	gdt := &groupDescriptorTable{entries: make([]*groupDescriptor, groupCount)}
	for g := uint32(0); g < groupCount; g++ {
		gd := &groupDescriptor{}
		if err := gd.FromDiskBytes(gdBuf[int(g)*gdSize:]); err != nil {
			return nil, err
		}
		gdt.entries[g] = gd
	}

	fs := &Filesystem{
		dev: dev,
		cfg: cfg,
		sb:  sb,
		gdt: gdt,
		log: logrus.StandardLogger(),
	}
	fs.bitmapCacheRef = newBitmapCache(fs, cfg.BitmapCacheMax)
	fs.inodeCache = newInodeTableCache(fs, cfg.InodeCacheMax)
	fs.dataCache = newDataBlockCache(cfg.DataBlockCacheMax)

	if sb.hasJournal() && sb.journalInum != 0 {
		jin, err := fs.loadInodeFromDisk(sb.journalInum)
		if err != nil {
			return nil, err
		}
		phys, ok, err := fs.lookupExtent(jin, 0)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: journal inode has no extents", ErrCorrupted)
		}
		jsbBuf, err := fs.readMetaBlock(phys)
		if err != nil {
			return nil, err
		}
		var jsb journalSuperblock
		if err := jsb.FromDiskBytes(jsbBuf); err != nil {
			return nil, err
		}
		jrn := &journal{fs: fs, startBlk: phys, sb: jsb}
		if err := jrn.replay(); err != nil {
			return nil, err
		}
		fs.jrn = jrn
		fs.dev.SetMetadataSink(jrn)
	}

	return fs, nil
}
