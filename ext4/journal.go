package ext4

import (
	"fmt"

	"github.com/ext4fs/ext4fs/blockdevice"
)

// JBD2 block types and the journal superblock's own magic.
const (
	jbd2BlockTypeDescriptor    uint32 = 1
	jbd2BlockTypeCommit        uint32 = 2
	jbd2BlockTypeSuperblockV1 uint32 = 3
	jbd2BlockTypeSuperblockV2 uint32 = 4
	jbd2BlockTypeRevoke        uint32 = 5

	jbd2FlagEscape    uint32 = 1
	jbd2FlagSameUUID  uint32 = 2
	jbd2FlagDeleted   uint32 = 4
	jbd2FlagLastTag   uint32 = 8

	jbd2TagLen = 8 // block_nr(4) + flags(4); tags carry no UUID field
)

// journalSuperblock is the header stored in the journal inode's first
// block.
type journalSuperblock struct {
	blockType  uint32
	sequence   uint32
	blockSize  uint32
	maxLen     uint32
	first      uint32
	start      uint32 // 0 => journal empty
}

func (j *journalSuperblock) FromDiskBytes(b []byte) error {
	if len(b) < 24 {
		return fmt.Errorf("%w: journal superblock too short", ErrInvalidData)
	}
	magic := readU32BE(b[0:4])
	if magic != journalMagicBE {
		return fmt.Errorf("%w: bad journal magic", ErrInvalidData)
	}
	j.blockType = readU32BE(b[4:8])
	j.sequence = readU32BE(b[8:12])
	j.blockSize = readU32BE(b[12:16])
	j.maxLen = readU32BE(b[16:20])
	j.first = readU32BE(b[20:24])
	if len(b) >= 28 {
		j.start = readU32BE(b[24:28])
	}
	return nil
}

func (j *journalSuperblock) ToDiskBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	writeU32BE(b[0:4], journalMagicBE)
	writeU32BE(b[4:8], jbd2BlockTypeSuperblockV2)
	writeU32BE(b[8:12], j.sequence)
	writeU32BE(b[12:16], j.blockSize)
	writeU32BE(b[16:20], j.maxLen)
	writeU32BE(b[20:24], j.first)
	writeU32BE(b[24:28], j.start)
}

// journalTag is one descriptor-block entry: which on-disk block a
// following metadata block must be written back to.
type journalTag struct {
	blockNr uint32
	flags   uint32
}

// journal buffers pending metadata-block writes into a single
// transaction and commits them as one JBD2 commit record, or replays a
// previously committed-but-not-checkpointed log on mount. Its cursor
// is relative to s_first and wraps at s_first + s_maxlen.
type journal struct {
	fs       *Filesystem
	startBlk uint64 // absolute block number of the journal inode's first block (s_first's anchor)
	sb       journalSuperblock
	pending  []pendingWrite

	// writeCursor is the next free relative block this session will
	// write a transaction at. It is NOT persisted: s_start marks where
	// the OLDEST unreplayed transaction begins (so replay knows where
	// to resume), while writeCursor tracks the log's append point, the
	// same split the original keeps between s_start and its in-memory
	// head counter. Zero means uninitialized for this session.
	writeCursor uint32
}

type pendingWrite struct {
	blockNr uint64
	data    []byte
}

var _ blockdevice.MetadataSink = (*journal)(nil)

// StageMetadataWrite implements blockdevice.MetadataSink: instead of
// writing directly, metadata blocks are queued for the next commit.
func (j *journal) StageMetadataWrite(blockID uint64, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	for i, p := range j.pending {
		if p.blockNr == blockID {
			j.pending[i].data = cp
			return nil
		}
	}
	j.pending = append(j.pending, pendingWrite{blockNr: blockID, data: cp})
	return nil
}

// relativeCursor advances the journal's write cursor by n blocks,
// wrapping at s_first + s_maxlen back to s_first.
func (j *journal) relativeCursor(cur uint32, n uint32) uint32 {
	cur += n
	span := j.sb.maxLen
	if span == 0 {
		return j.sb.first
	}
	rel := cur - j.sb.first
	rel %= span
	return j.sb.first + rel
}

func (j *journal) blockAt(rel uint32) uint64 {
	return j.startBlk + uint64(rel)
}

// commit writes a descriptor block, the escaped metadata blocks, a
// flush, the commit block, another flush, then advances the sequence
// and clears the pending queue. s_start is left pointing at this
// transaction's descriptor (or untouched if an earlier unreplayed
// transaction already holds that spot) so a later replay can find it;
// only replay itself is allowed to advance s_start past a transaction
// it has actually applied.
func (j *journal) commit() error {
	if len(j.pending) == 0 {
		return nil
	}
	blockSize := j.fs.blockSize()
	if j.writeCursor == 0 {
		if j.sb.start == 0 {
			j.sb.start = j.sb.first
		}
		j.writeCursor = j.sb.start
	}
	cursor := j.writeCursor

	descBlock := j.blockAt(cursor)
	desc := make([]byte, blockSize)
	writeU32BE(desc[0:4], journalMagicBE)
	writeU32BE(desc[4:8], jbd2BlockTypeDescriptor)
	writeU32BE(desc[8:12], j.sb.sequence)

	tagOff := 12
	escaped := make([][]byte, len(j.pending))
	for i, p := range j.pending {
		flags := uint32(0)
		data := p.data
		if len(data) >= 4 && readU32LE(data[0:4]) == uint32(journalMagicBE) {
			flags |= jbd2FlagEscape
			esc := make([]byte, len(data))
			copy(esc, data)
			writeU32LE(esc[0:4], 0)
			data = esc
		}
		if i == len(j.pending)-1 {
			flags |= jbd2FlagLastTag
		}
		if tagOff+jbd2TagLen > len(desc) {
			return fmt.Errorf("%w: too many tags for one descriptor block", ErrUnsupported)
		}
		writeU32BE(desc[tagOff:tagOff+4], uint32(p.blockNr))
		writeU32BE(desc[tagOff+4:tagOff+8], flags)
		tagOff += jbd2TagLen
		escaped[i] = data
	}

	if err := j.fs.dev.Write(desc, descBlock, 1); err != nil {
		return err
	}
	cursor = j.relativeCursor(cursor, 1)
	for _, data := range escaped {
		if err := j.fs.dev.Write(data, j.blockAt(cursor), 1); err != nil {
			return err
		}
		cursor = j.relativeCursor(cursor, 1)
	}
	if err := j.fs.dev.Flush(); err != nil {
		return err
	}

	commit := make([]byte, blockSize)
	writeU32BE(commit[0:4], journalMagicBE)
	writeU32BE(commit[4:8], jbd2BlockTypeCommit)
	writeU32BE(commit[8:12], j.sb.sequence)
	if err := j.fs.dev.Write(commit, j.blockAt(cursor), 1); err != nil {
		return err
	}
	cursor = j.relativeCursor(cursor, 1)
	if err := j.fs.dev.Flush(); err != nil {
		return err
	}

	j.sb.sequence++
	j.writeCursor = cursor
	j.pending = nil
	return j.writeSuperblock()
}

func (j *journal) writeSuperblock() error {
	buf := make([]byte, j.fs.blockSize())
	j.sb.ToDiskBytes(buf)
	return j.fs.dev.Write(buf, j.startBlk, 1)
}

// replay walks committed transactions from s_start forward, applying
// each to its target block, until an invalid descriptor or sequence
// mismatch is found, then rewrites the journal superblock directly
// (s_start = 0, not itself journaled) to mark the log empty.
func (j *journal) replay() error {
	if j.sb.start == 0 {
		return nil
	}
	cursor := j.sb.start
	blockSize := j.fs.blockSize()
	for {
		descBuf := make([]byte, blockSize)
		if err := j.fs.dev.Read(descBuf, j.blockAt(cursor), 1); err != nil {
			return err
		}
		if readU32BE(descBuf[0:4]) != journalMagicBE || readU32BE(descBuf[4:8]) != jbd2BlockTypeDescriptor {
			break
		}
		if readU32BE(descBuf[8:12]) != j.sb.sequence {
			break
		}
		var tags []journalTag
		last := false
		for off := 12; off+jbd2TagLen <= len(descBuf) && !last; off += jbd2TagLen {
			blockNr := readU32BE(descBuf[off : off+4])
			flags := readU32BE(descBuf[off+4 : off+8])
			tags = append(tags, journalTag{blockNr: blockNr, flags: flags})
			if flags&jbd2FlagLastTag != 0 {
				last = true
			}
		}
		cur := j.relativeCursor(cursor, 1)
		metaBlocks := make([][]byte, len(tags))
		for i := range tags {
			buf := make([]byte, blockSize)
			if err := j.fs.dev.Read(buf, j.blockAt(cur), 1); err != nil {
				return err
			}
			metaBlocks[i] = buf
			cur = j.relativeCursor(cur, 1)
		}
		commitBuf := make([]byte, blockSize)
		if err := j.fs.dev.Read(commitBuf, j.blockAt(cur), 1); err != nil {
			return err
		}
		if readU32BE(commitBuf[0:4]) != journalMagicBE || readU32BE(commitBuf[4:8]) != jbd2BlockTypeCommit {
			break
		}
		if readU32BE(commitBuf[8:12]) != j.sb.sequence {
			break
		}
		cur = j.relativeCursor(cur, 1)

		for i, tag := range tags {
			data := metaBlocks[i]
			if tag.flags&jbd2FlagEscape != 0 {
				writeU32LE(data[0:4], uint32(journalMagicBE))
			}
			if err := j.fs.dev.Write(data, uint64(tag.blockNr), 1); err != nil {
				return err
			}
		}
		j.sb.sequence++
		j.sb.start = cur
		cursor = cur
	}
	j.sb.start = 0
	return j.writeSuperblock()
}
