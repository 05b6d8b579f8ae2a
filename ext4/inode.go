package ext4

import "fmt"

// inodeRecordMinSize is the smallest on-disk inode record this engine
// parses; the superblock's s_inode_size may reserve more bytes per
// record (extra isize + future fields), which must survive
// read-modify-write untouched.
const inodeRecordMinSize = 128

// inode is the in-memory mirror of an on-disk ext4 inode.
type inode struct {
	number uint32

	mode       uint16
	uidLo      uint16
	sizeLo     uint32
	atime      uint32
	ctime      uint32
	mtime      uint32
	dtime      uint32
	gidLo      uint16
	linksCount uint16
	blocksLo   uint32 // 512-byte sector count, low 32 bits
	flags      uint32
	osd1       uint32
	block      [15]uint32 // inline extent header/entries, or direct/indirect blocks, or fast-symlink target
	generation uint32
	fileACL    uint32
	sizeHi     uint32
	faddr      uint32
	blocksHi   uint16
	uidHi      uint16
	gidHi      uint16
	checksumLo uint16
	isizeExtra uint16
	ctimeExtra uint32
	mtimeExtra uint32
	atimeExtra uint32
	crtime     uint32
	crtimeExtra uint32
}

func (i *inode) size() uint64   { return uint64(i.sizeLo) | uint64(i.sizeHi)<<32 }
func (i *inode) setSize(v uint64) { i.sizeLo, i.sizeHi = uint32(v), uint32(v>>32) }

func (i *inode) blocks512() uint64 { return uint64(i.blocksLo) | uint64(i.blocksHi)<<32 }
func (i *inode) setBlocks512(v uint64) { i.blocksLo, i.blocksHi = uint32(v), uint16(v>>32) }

func (i *inode) fileType() uint16 { return i.mode & sIFMT }
func (i *inode) isDir() bool      { return i.fileType() == sIFDIR }
func (i *inode) isRegular() bool  { return i.fileType() == sIFREG }
func (i *inode) isSymlink() bool  { return i.fileType() == sIFLNK }

func (i *inode) hasExtents() bool { return i.flags&inodeFlagExtents != 0 }

func (i *inode) uid() uint32 { return uint32(i.uidLo) | uint32(i.uidHi)<<16 }
func (i *inode) gid() uint32 { return uint32(i.gidLo) | uint32(i.gidHi)<<16 }
func (i *inode) setUID(v uint32) { i.uidLo, i.uidHi = uint16(v), uint16(v>>16) }
func (i *inode) setGID(v uint32) { i.gidLo, i.gidHi = uint16(v), uint16(v>>16) }

// blockBytes returns the 60-byte inline i_block area as a flat buffer.
func (i *inode) blockBytes() [60]byte {
	var b [60]byte
	for w := 0; w < 15; w++ {
		writeU32LE(b[w*4:w*4+4], i.block[w])
	}
	return b
}

func (i *inode) setBlockBytes(b []byte) {
	for w := 0; w < 15 && w*4+4 <= len(b); w++ {
		i.block[w] = readU32LE(b[w*4 : w*4+4])
	}
}

func (i *inode) FromDiskBytes(b []byte) error {
	if len(b) < inodeRecordMinSize {
		return fmt.Errorf("%w: inode record too short (%d bytes)", ErrInvalidData, len(b))
	}
	i.mode = readU16LE(b[0:2])
	i.uidLo = readU16LE(b[2:4])
	i.sizeLo = readU32LE(b[4:8])
	i.atime = readU32LE(b[8:12])
	i.ctime = readU32LE(b[12:16])
	i.mtime = readU32LE(b[16:20])
	i.dtime = readU32LE(b[20:24])
	i.gidLo = readU16LE(b[24:26])
	i.linksCount = readU16LE(b[26:28])
	i.blocksLo = readU32LE(b[28:32])
	i.flags = readU32LE(b[32:36])
	i.osd1 = readU32LE(b[36:40])
	for w := 0; w < 15; w++ {
		off := 40 + w*4
		i.block[w] = readU32LE(b[off : off+4])
	}
	i.generation = readU32LE(b[100:104])
	i.fileACL = readU32LE(b[104:108])
	i.sizeHi = readU32LE(b[108:112])
	i.faddr = readU32LE(b[112:116])
	osd2 := b[116:128]
	i.blocksHi = readU16LE(osd2[0:2])
	i.uidHi = readU16LE(osd2[4:6])
	i.gidHi = readU16LE(osd2[6:8])
	i.checksumLo = readU16LE(osd2[8:10])
	if len(b) >= 132 {
		i.isizeExtra = readU16LE(b[128:130])
	}
	if len(b) >= 152 {
		i.ctimeExtra = readU32LE(b[132:136])
		i.mtimeExtra = readU32LE(b[136:140])
		i.atimeExtra = readU32LE(b[140:144])
		i.crtime = readU32LE(b[144:148])
		i.crtimeExtra = readU32LE(b[148:152])
	}
	return nil
}

func (i *inode) ToDiskBytes(b []byte) {
	for idx := range b[:inodeRecordMinSize] {
		b[idx] = 0
	}
	writeU16LE(b[0:2], i.mode)
	writeU16LE(b[2:4], i.uidLo)
	writeU32LE(b[4:8], i.sizeLo)
	writeU32LE(b[8:12], i.atime)
	writeU32LE(b[12:16], i.ctime)
	writeU32LE(b[16:20], i.mtime)
	writeU32LE(b[20:24], i.dtime)
	writeU16LE(b[24:26], i.gidLo)
	writeU16LE(b[26:28], i.linksCount)
	writeU32LE(b[28:32], i.blocksLo)
	writeU32LE(b[32:36], i.flags)
	writeU32LE(b[36:40], i.osd1)
	for w := 0; w < 15; w++ {
		off := 40 + w*4
		writeU32LE(b[off:off+4], i.block[w])
	}
	writeU32LE(b[100:104], i.generation)
	writeU32LE(b[104:108], i.fileACL)
	writeU32LE(b[108:112], i.sizeHi)
	writeU32LE(b[112:116], i.faddr)
	writeU16LE(b[116:118], i.blocksHi)
	writeU16LE(b[120:122], i.uidHi)
	writeU16LE(b[122:124], i.gidHi)
	writeU16LE(b[124:126], i.checksumLo)
	if len(b) >= 132 {
		writeU16LE(b[128:130], i.isizeExtra)
	}
	if len(b) >= 152 {
		writeU32LE(b[132:136], i.ctimeExtra)
		writeU32LE(b[136:140], i.mtimeExtra)
		writeU32LE(b[140:144], i.atimeExtra)
		writeU32LE(b[144:148], i.crtime)
		writeU32LE(b[148:152], i.crtimeExtra)
	}
}

func (i *inode) DiskSize() int { return inodeRecordMinSize }

func inodeFromBytes(b []byte, number uint32) (*inode, error) {
	in := &inode{number: number}
	if err := in.FromDiskBytes(b); err != nil {
		return nil, err
	}
	return in, nil
}

// newExtentFileInode builds a zeroed inode with the extents flag set and
// a fresh zero-entry extent header inline, ready for writeExtentHeader
// calls from the extent tree.
func newExtentFileInode(mode uint16, uid, gid uint32, now uint32) *inode {
	in := &inode{
		mode:       mode,
		atime:      now,
		ctime:      now,
		mtime:      now,
		linksCount: 0,
		flags:      inodeFlagExtents,
	}
	in.setUID(uid)
	in.setGID(gid)
	var inline [60]byte
	writeExtentHeader(inline[:extentNodeHeaderLen], 0, inlineExtentMax, 0)
	in.setBlockBytes(inline[:])
	return in
}
