package ext4

import "fmt"

// dirLookup scans dir's data blocks in logical order for an active
// entry named name.
func (fs *Filesystem) dirLookup(dir *inode, name string) (inodeNum uint32, fileType byte, found bool, err error) {
	nBlocks := uint32(dir.size() / uint64(fs.blockSize()))
	for lbn := uint32(0); lbn < nBlocks; lbn++ {
		phys, ok, err := fs.lookupExtent(dir, lbn)
		if err != nil {
			return 0, 0, false, err
		}
		if !ok {
			continue
		}
		buf, err := fs.readMetaBlock(phys)
		if err != nil {
			return 0, 0, false, err
		}
		entries, err := parseDirBlock(buf)
		if err != nil {
			return 0, 0, false, err
		}
		for _, e := range entries {
			if e.inodeNum != 0 && e.name == name {
				return e.inodeNum, e.fileType, true, nil
			}
		}
	}
	return 0, 0, false, nil
}

// dirList returns every active entry across dir's data blocks, in
// on-disk order, for readdir.
func (fs *Filesystem) dirList(dir *inode) ([]*dirEntry, error) {
	nBlocks := uint32(dir.size() / uint64(fs.blockSize()))
	var out []*dirEntry
	for lbn := uint32(0); lbn < nBlocks; lbn++ {
		phys, ok, err := fs.lookupExtent(dir, lbn)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		buf, err := fs.readMetaBlock(phys)
		if err != nil {
			return nil, err
		}
		entries, err := parseDirBlock(buf)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.inodeNum != 0 {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// dirInsert adds (name -> inodeNum) to dir, reusing a deleted slot or a
// trailing gap in an existing block before appending a new block.
func (fs *Filesystem) dirInsert(dir *inode, name string, inodeNum uint32, fileType byte) error {
	if len(name) == 0 || len(name) > 255 {
		return fmt.Errorf("%w: invalid directory entry name length", ErrInvalidInput)
	}
	newEntry := &dirEntry{inodeNum: inodeNum, fileType: fileType, name: name}
	need := newEntry.minLen()

	nBlocks := uint32(dir.size() / uint64(fs.blockSize()))
	for lbn := uint32(0); lbn < nBlocks; lbn++ {
		phys, ok, err := fs.lookupExtent(dir, lbn)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		buf, err := fs.readMetaBlock(phys)
		if err != nil {
			return err
		}
		entries, err := parseDirBlock(buf)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.inodeNum != 0 && e.name == name {
				return fmt.Errorf("%w: %q already exists", ErrAlreadyExists, name)
			}
		}
		if placed := tryPlaceInBlock(entries, newEntry, need); placed != nil {
			out, err := encodeDirBlock(placed, fs.blockSize())
			if err != nil {
				return err
			}
			return fs.writeMetaBlock(phys, out)
		}
	}

	// no room anywhere: append a fresh block.
	lbn := nBlocks
	phys, err := fs.allocateBlock(0)
	if err != nil {
		return err
	}
	if err := fs.insertExtent(dir, leafExtentEntry{block: lbn, length: 1, startLo: uint32(phys), startHi: uint16(phys >> 32)}); err != nil {
		return err
	}
	addInodeBlocks512(dir, sectorsPerBlock(fs.blockSize()))
	newEntry.recLen = uint16(fs.blockSize())
	out, err := encodeDirBlock([]*dirEntry{newEntry}, fs.blockSize())
	if err != nil {
		return err
	}
	if err := fs.writeMetaBlock(phys, out); err != nil {
		return err
	}
	dir.setSize(uint64(lbn+1) * uint64(fs.blockSize()))
	return nil
}

// tryPlaceInBlock attempts to insert newEntry into entries in place,
// either by reusing a deleted (inodeNum==0) slot of sufficient size or
// by carving it out of an active entry's trailing padding. Returns the
// updated entry list, or nil if no room was found.
func tryPlaceInBlock(entries []*dirEntry, newEntry *dirEntry, need uint16) []*dirEntry {
	for i, e := range entries {
		if e.inodeNum == 0 && e.recLen >= need {
			placed := *newEntry
			placed.recLen = e.recLen
			out := append([]*dirEntry(nil), entries...)
			out[i] = &placed
			return out
		}
	}
	for i, e := range entries {
		if e.inodeNum == 0 {
			continue
		}
		used, fits := fitsInGap(e, newEntry.name)
		if !fits {
			continue
		}
		shrunk := *e
		shrunk.recLen = used
		placed := *newEntry
		placed.recLen = e.recLen - used
		out := make([]*dirEntry, 0, len(entries)+1)
		out = append(out, entries[:i]...)
		out = append(out, &shrunk, &placed)
		out = append(out, entries[i+1:]...)
		return out
	}
	return nil
}

// dirRemove removes name's entry within dir. If a previous entry
// exists in the same block, its rec_len absorbs the removed entry's
// space (the removed entry drops out of the list entirely); otherwise
// the removed entry is the block's first and is merely zeroed in
// place, since there is nothing to extend into it.
func (fs *Filesystem) dirRemove(dir *inode, name string) error {
	nBlocks := uint32(dir.size() / uint64(fs.blockSize()))
	for lbn := uint32(0); lbn < nBlocks; lbn++ {
		phys, ok, err := fs.lookupExtent(dir, lbn)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		buf, err := fs.readMetaBlock(phys)
		if err != nil {
			return err
		}
		entries, err := parseDirBlock(buf)
		if err != nil {
			return err
		}
		idx := -1
		for i, e := range entries {
			if e.inodeNum != 0 && e.name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		if idx > 0 {
			entries[idx-1].recLen += entries[idx].recLen
			entries = append(entries[:idx], entries[idx+1:]...)
		} else {
			entries[idx].inodeNum = 0
			entries[idx].name = ""
			entries[idx].fileType = ftUnknown
		}
		out, err := encodeDirBlock(entries, fs.blockSize())
		if err != nil {
			return err
		}
		return fs.writeMetaBlock(phys, out)
	}
	return fmt.Errorf("%w: %q", ErrNotFound, name)
}

// dirIsEmpty reports whether dir contains only "." and "..".
func (fs *Filesystem) dirIsEmpty(dir *inode) (bool, error) {
	entries, err := fs.dirList(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.name != "." && e.name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// deleteFrame is one entry of deleteTree's explicit work stack: the
// directory at number (child of parent, linked there as name) still
// needs its children scanned, or (once scanned, marked by scanned)
// still needs its own cleanup performed.
type deleteFrame struct {
	number  uint32
	parent  uint32
	name    string
	scanned bool
}

// deleteTree removes the entry named name from the directory dir,
// recursively deleting its entire subtree if it is itself a
// directory. Rather than recursing natively, it drives an explicit
// stack of frames, each passing through two stages: scan walks the
// directory's entries, deletes non-directory children directly and
// pushes a new frame for each sub-directory; cleanup (reached once a
// frame's children are all gone) removes the directory's own entry
// from its parent and frees its blocks and inode.
func (fs *Filesystem) deleteTree(dir *inode, parentNumber uint32, name string) error {
	number, fileType, found, err := fs.dirLookup(dir, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if fileType != ftDir {
		node := fs.nodeFor(parentNumber)
		return node.unlinkLocked(dir, name)
	}

	stack := []*deleteFrame{{number: number, parent: parentNumber, name: name}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if !top.scanned {
			top.scanned = true
			childDir, err := fs.inodeCache.get(top.number)
			if err != nil {
				return err
			}
			entries, err := fs.dirList(childDir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.name == "." || e.name == ".." {
					continue
				}
				if e.fileType == ftDir {
					stack = append(stack, &deleteFrame{number: e.inodeNum, parent: top.number, name: e.name})
				} else if err := fs.nodeFor(top.number).unlinkLocked(childDir, e.name); err != nil {
					return err
				}
			}
			continue
		}

		parentIn, err := fs.inodeCache.get(top.parent)
		if err != nil {
			return err
		}
		childDir, err := fs.inodeCache.get(top.number)
		if err != nil {
			return err
		}
		if err := fs.dirRemove(parentIn, top.name); err != nil {
			return err
		}
		if err := fs.truncateExtents(childDir, 0); err != nil {
			return err
		}
		if err := fs.freeInode(top.number, true); err != nil {
			return err
		}
		parentIn.linksCount--
		if err := fs.inodeCache.put(parentIn); err != nil {
			return err
		}
		stack = stack[:len(stack)-1]
	}
	return nil
}

// initDirBlock builds a fresh directory data block containing "." and
// ".." (and nothing else), used when creating a new directory.
func initDirBlock(selfInode, parentInode uint32, blockSize uint32) ([]byte, error) {
	dot := &dirEntry{inodeNum: selfInode, fileType: ftDir, name: "."}
	dotdot := &dirEntry{inodeNum: parentInode, fileType: ftDir, name: ".."}
	dot.recLen = dot.minLen()
	dotdot.recLen = uint16(blockSize) - dot.recLen
	return encodeDirBlock([]*dirEntry{dot, dotdot}, blockSize)
}
