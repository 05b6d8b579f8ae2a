package ext4

import "fmt"

// readDataBlock returns the content of a file data block, consulting
// the data-block cache first; these blocks are never
// routed through the journal, only metadata is.
func (fs *Filesystem) readDataBlock(phys uint64) ([]byte, error) {
	if v, ok := fs.dataCache.get(phys); ok {
		return v, nil
	}
	buf := make([]byte, fs.blockSize())
	if err := fs.dev.Read(buf, phys, 1); err != nil {
		return nil, err
	}
	fs.dataCache.put(phys, buf)
	return buf, nil
}

func (fs *Filesystem) writeDataBlock(phys uint64, data []byte) error {
	if err := fs.dev.WriteBlockData(phys, data, false); err != nil {
		return err
	}
	fs.dataCache.put(phys, data)
	return nil
}

// fileRead copies min(len(buf), size-offset) bytes starting at offset
// into buf, reading holes as zero.
func (fs *Filesystem) fileRead(in *inode, offset int64, buf []byte) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrInvalidInput)
	}
	size := in.size()
	if uint64(offset) >= size {
		return 0, nil
	}
	avail := size - uint64(offset)
	if uint64(len(buf)) > avail {
		buf = buf[:avail]
	}
	blockSize := uint64(fs.blockSize())
	total := 0
	for total < len(buf) {
		cur := uint64(offset) + uint64(total)
		lbn := uint32(cur / blockSize)
		inBlock := cur % blockSize
		n := blockSize - inBlock
		if remaining := uint64(len(buf) - total); n > remaining {
			n = remaining
		}
		phys, ok, err := fs.lookupExtent(in, lbn)
		if err != nil {
			return total, err
		}
		if !ok {
			for i := uint64(0); i < n; i++ {
				buf[total+int(i)] = 0
			}
		} else {
			data, err := fs.readDataBlock(phys)
			if err != nil {
				return total, err
			}
			copy(buf[total:total+int(n)], data[inBlock:inBlock+n])
		}
		total += int(n)
	}
	return total, nil
}

// fileWrite writes data at offset, allocating new blocks for holes or
// for extending the file, growing the extent tree as needed, and
// bumping in.size if the write extends past the current end.
func (fs *Filesystem) fileWrite(in *inode, offset int64, data []byte) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrInvalidInput)
	}
	blockSize := uint64(fs.blockSize())
	total := 0
	for total < len(data) {
		cur := uint64(offset) + uint64(total)
		lbn := uint32(cur / blockSize)
		inBlock := cur % blockSize
		n := blockSize - inBlock
		if remaining := uint64(len(data) - total); n > remaining {
			n = remaining
		}

		phys, ok, err := fs.lookupExtent(in, lbn)
		if err != nil {
			return total, err
		}
		var blockBuf []byte
		if !ok {
			phys, err = fs.allocateBlock(0)
			if err != nil {
				return total, err
			}
			if err := fs.insertExtent(in, leafExtentEntry{block: lbn, length: 1, startLo: uint32(phys), startHi: uint16(phys >> 32)}); err != nil {
				return total, err
			}
			addInodeBlocks512(in, sectorsPerBlock(fs.blockSize()))
			blockBuf = make([]byte, blockSize)
		} else if n < blockSize {
			blockBuf, err = fs.readDataBlock(phys)
			if err != nil {
				return total, err
			}
			cp := make([]byte, len(blockBuf))
			copy(cp, blockBuf)
			blockBuf = cp
		} else {
			blockBuf = make([]byte, blockSize)
		}
		copy(blockBuf[inBlock:inBlock+n], data[total:total+int(n)])
		if err := fs.writeDataBlock(phys, blockBuf); err != nil {
			return total, err
		}
		total += int(n)
	}
	newEnd := uint64(offset) + uint64(total)
	if newEnd > in.size() {
		in.setSize(newEnd)
	}
	return total, nil
}

// truncateExtents shrinks in's extent tree so that it covers exactly
// [0, newLogicalBlocks) logical blocks, freeing every block (data and
// index/leaf) that falls outside that range. It is removeExtend's entry
// point: the real work — clipping the boundary leaf and bubbling
// emptiness/demotion up the spine — lives there.
func (fs *Filesystem) truncateExtents(in *inode, newLogicalBlocks uint32) error {
	return fs.removeExtend(in, newLogicalBlocks)
}

// setSize implements truncate/grow semantics: shrink frees trailing
// blocks and zeroes the bytes past newSize in the last kept block; grow allocates and zero-fills the newly covered logical
// blocks so the grown range reads back as defined zero data rather
// than relying on hole semantics.
func (fs *Filesystem) setSize(in *inode, newSize uint64) error {
	blockSize := uint64(fs.blockSize())
	oldSize := in.size()
	switch {
	case newSize < oldSize:
		newLastBlock := uint32((newSize + blockSize - 1) / blockSize)
		if err := fs.truncateExtents(in, newLastBlock); err != nil {
			return err
		}
		if tail := newSize % blockSize; tail != 0 {
			if phys, ok, err := fs.lookupExtent(in, newLastBlock-1); err != nil {
				return err
			} else if ok {
				data, err := fs.readDataBlock(phys)
				if err != nil {
					return err
				}
				buf := make([]byte, blockSize)
				copy(buf, data[:tail])
				if err := fs.writeDataBlock(phys, buf); err != nil {
					return err
				}
			}
		}
	case newSize > oldSize:
		if err := fs.growExtents(in, oldSize, newSize); err != nil {
			return err
		}
	}
	in.setSize(newSize)
	return nil
}

// growExtents allocates and zero-fills every logical block newly
// covered by extending a file from oldSize to newSize, inserting each
// into the extent tree. Blocks already mapped (e.g. the partially
// filled last block before growth) are left untouched, since their
// tail bytes are already zero from their original allocation.
func (fs *Filesystem) growExtents(in *inode, oldSize, newSize uint64) error {
	blockSize := uint64(fs.blockSize())
	var oldLastBlock uint32
	if oldSize > 0 {
		oldLastBlock = uint32((oldSize + blockSize - 1) / blockSize)
	}
	newLastBlock := uint32((newSize + blockSize - 1) / blockSize)
	for lbn := oldLastBlock; lbn < newLastBlock; lbn++ {
		if _, ok, err := fs.lookupExtent(in, lbn); err != nil {
			return err
		} else if ok {
			continue
		}
		phys, err := fs.allocateBlock(0)
		if err != nil {
			return err
		}
		if err := fs.writeDataBlock(phys, make([]byte, blockSize)); err != nil {
			return err
		}
		if err := fs.insertExtent(in, leafExtentEntry{block: lbn, length: 1, startLo: uint32(phys), startHi: uint16(phys >> 32)}); err != nil {
			return err
		}
		addInodeBlocks512(in, sectorsPerBlock(fs.blockSize()))
	}
	return nil
}

// readSymlinkTarget returns a symlink inode's target path: inline
// ("fast") for targets <= fastSymlinkMaxLen, or the sole data block
// otherwise.
func (fs *Filesystem) readSymlinkTarget(in *inode) (string, error) {
	size := in.size()
	if !in.hasExtents() && size <= fastSymlinkMaxLen {
		b := in.blockBytes()
		return string(b[:size]), nil
	}
	buf := make([]byte, size)
	if _, err := fs.fileRead(in, 0, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// writeSymlinkTarget stores target inline for short targets, or as a
// single allocated data block otherwise.
func (fs *Filesystem) writeSymlinkTarget(in *inode, target string) error {
	if len(target) <= fastSymlinkMaxLen {
		in.flags &^= inodeFlagExtents
		var b [60]byte
		copy(b[:], target)
		in.setBlockBytes(b[:])
		in.setSize(uint64(len(target)))
		return nil
	}
	in.flags |= inodeFlagExtents
	var inline [60]byte
	writeExtentHeader(inline[:extentNodeHeaderLen], 0, inlineExtentMax, 0)
	in.setBlockBytes(inline[:])
	in.setSize(0)
	if _, err := fs.fileWrite(in, 0, []byte(target)); err != nil {
		return err
	}
	return nil
}
