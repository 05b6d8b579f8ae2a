package ext4

import (
	"errors"
	"fmt"

	"github.com/ext4fs/ext4fs/util/timestamp"
)

// Node is a VFS-style handle onto one inode, adapting the on-disk
// engine's primitives to the name/path-based operations a filesystem
// consumer actually wants: stat, read/write, directory listing, and
// create/link/unlink/rename.
type Node struct {
	fs     *Filesystem
	Number uint32
}

// Metadata is the subset of an inode's fields a caller of Node.Stat
// needs; it deliberately does not expose on-disk layout details.
type Metadata struct {
	Inode uint32
	Mode  uint16
	UID   uint32
	GID   uint32
	Size  uint64
	Links uint16
	Atime uint32
	Mtime uint32
	Ctime uint32
}

// DirEntry is one entry returned by Node.ReadDir.
type DirEntry struct {
	Name     string
	Inode    uint32
	FileType byte
}

// Root returns a handle to the filesystem's root directory.
func (fs *Filesystem) Root() *Node { return &Node{fs: fs, Number: RootInode} }

func (fs *Filesystem) nodeFor(number uint32) *Node { return &Node{fs: fs, Number: number} }

// Translate normalizes an engine error for a caller that only wants to
// branch on the sentinel error-kind taxonomy, stripping any wrapping
// added along the way.
func Translate(err error) error {
	for _, sentinel := range []error{
		ErrNotFound, ErrAlreadyExists, ErrInvalidInput, ErrInvalidData,
		ErrNoSpace, ErrUnsupported, ErrIO, ErrCorrupted, ErrIsADirectory, ErrNotADirectory,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return err
}

func (n *Node) inode() (*inode, error) {
	return n.fs.GetInode(n.Number)
}

// Stat returns the node's metadata.
func (n *Node) Stat() (Metadata, error) {
	in, err := n.inode()
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Inode: in.number,
		Mode:  in.mode,
		UID:   in.uid(),
		GID:   in.gid(),
		Size:  in.size(),
		Links: in.linksCount,
		Atime: in.atime,
		Mtime: in.mtime,
		Ctime: in.ctime,
	}, nil
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() (bool, error) {
	in, err := n.inode()
	if err != nil {
		return false, err
	}
	return in.isDir(), nil
}

// ReadAt reads into buf starting at offset, per io.ReaderAt semantics
// except that reads past the end of file return (n, nil) with n <
// len(buf) rather than io.EOF.
func (n *Node) ReadAt(buf []byte, offset int64) (int, error) {
	in, err := n.inode()
	if err != nil {
		return 0, err
	}
	if in.isDir() {
		return 0, fmt.Errorf("%w: inode %d", ErrIsADirectory, n.Number)
	}
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	return n.fs.fileRead(in, offset, buf)
}

// WriteAt writes buf at offset, extending the file and its extent tree
// as needed, and persists the inode's updated size/metadata.
func (n *Node) WriteAt(buf []byte, offset int64) (int, error) {
	in, err := n.inode()
	if err != nil {
		return 0, err
	}
	if in.isDir() {
		return 0, fmt.Errorf("%w: inode %d", ErrIsADirectory, n.Number)
	}
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	written, err := n.fs.fileWrite(in, offset, buf)
	if err != nil {
		return written, err
	}
	in.mtime = uint32(timestamp.GetTime().Unix())
	return written, n.fs.inodeCache.put(in)
}

// SetSize truncates or extends the node's apparent size.
func (n *Node) SetSize(size uint64) error {
	in, err := n.inode()
	if err != nil {
		return err
	}
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if err := n.fs.setSize(in, size); err != nil {
		return err
	}
	in.ctime = uint32(timestamp.GetTime().Unix())
	return n.fs.inodeCache.put(in)
}

// Append writes buf immediately after the file's current end, growing
// it by len(buf).
func (n *Node) Append(buf []byte) (int, error) {
	in, err := n.inode()
	if err != nil {
		return 0, err
	}
	if in.isDir() {
		return 0, fmt.Errorf("%w: inode %d", ErrIsADirectory, n.Number)
	}
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	offset := int64(in.size())
	written, err := n.fs.fileWrite(in, offset, buf)
	if err != nil {
		return written, err
	}
	in.mtime = uint32(timestamp.GetTime().Unix())
	return written, n.fs.inodeCache.put(in)
}

// Sync flushes this node's dirty inode and, transitively, the
// caches/journal it shares with the rest of the filesystem.
func (n *Node) Sync() error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	return n.fs.syncLocked()
}

// MetadataUpdate lists the changes UpdateMetadata applies to a node's
// inode. Each field is applied only when its matching Set* flag is
// true, whatever its value; fields whose flag is false are left
// untouched.
type MetadataUpdate struct {
	Mode     uint16
	SetMode  bool
	UID      uint32
	SetUID   bool
	GID      uint32
	SetGID   bool
	Atime    uint32
	SetAtime bool
	Mtime    uint32
	SetMtime bool
}

// UpdateMetadata changes mode, ownership, and/or timestamps on the
// node's inode (chmod/chown/utime-equivalent), always bumping ctime.
func (n *Node) UpdateMetadata(upd MetadataUpdate) error {
	in, err := n.inode()
	if err != nil {
		return err
	}
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if upd.SetMode {
		in.mode = (in.mode & sIFMT) | (upd.Mode &^ sIFMT)
	}
	if upd.SetUID {
		in.setUID(upd.UID)
	}
	if upd.SetGID {
		in.setGID(upd.GID)
	}
	if upd.SetAtime {
		in.atime = upd.Atime
	}
	if upd.SetMtime {
		in.mtime = upd.Mtime
	}
	in.ctime = uint32(timestamp.GetTime().Unix())
	return n.fs.inodeCache.put(in)
}

// ReadDir lists the directory's active entries.
func (n *Node) ReadDir() ([]DirEntry, error) {
	in, err := n.inode()
	if err != nil {
		return nil, err
	}
	if !in.isDir() {
		return nil, fmt.Errorf("%w: inode %d", ErrNotADirectory, n.Number)
	}
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	entries, err := n.fs.dirList(in)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.name, Inode: e.inodeNum, FileType: e.fileType})
	}
	return out, nil
}

// Lookup resolves name within the directory node.
func (n *Node) Lookup(name string) (*Node, error) {
	in, err := n.inode()
	if err != nil {
		return nil, err
	}
	if !in.isDir() {
		return nil, fmt.Errorf("%w: inode %d", ErrNotADirectory, n.Number)
	}
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	number, _, found, err := n.fs.dirLookup(in, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return n.fs.nodeFor(number), nil
}

func (n *Node) createChild(name string, mode uint16, uid, gid uint32) (*inode, error) {
	dir, err := n.inode()
	if err != nil {
		return nil, err
	}
	if !dir.isDir() {
		return nil, fmt.Errorf("%w: inode %d", ErrNotADirectory, n.Number)
	}
	if _, _, found, err := n.fs.dirLookup(dir, name); err != nil {
		return nil, err
	} else if found {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}

	parentGroup, _, err := n.fs.inodeToGroup(n.Number)
	if err != nil {
		return nil, err
	}
	isDir := mode&sIFMT == sIFDIR
	number, err := n.fs.allocateInode(parentGroup, isDir)
	if err != nil {
		return nil, err
	}
	now := uint32(timestamp.GetTime().Unix())
	child := newExtentFileInode(mode, uid, gid, now)
	child.number = number
	child.linksCount = 1
	if isDir {
		child.linksCount = 2
	}

	if err := n.fs.dirInsert(dir, name, number, fileTypeForMode(mode)); err != nil {
		return nil, err
	}
	if isDir {
		childGroup, _, err := n.fs.inodeToGroup(number)
		if err != nil {
			return nil, err
		}
		block, err := n.fs.allocateBlock(childGroup)
		if err != nil {
			return nil, err
		}
		if err := n.fs.insertExtent(child, leafExtentEntry{block: 0, length: 1, startLo: uint32(block), startHi: uint16(block >> 32)}); err != nil {
			return nil, err
		}
		addInodeBlocks512(child, sectorsPerBlock(n.fs.blockSize()))
		child.setSize(uint64(n.fs.blockSize()))
		dirBuf, err := initDirBlock(number, n.Number, n.fs.blockSize())
		if err != nil {
			return nil, err
		}
		if err := n.fs.writeMetaBlock(block, dirBuf); err != nil {
			return nil, err
		}
		if gd := n.fs.gdt.entries[childGroup]; gd != nil {
			gd.setUsedDirsCount(gd.usedDirsCount() + 1)
		}
		dir.linksCount++
	}

	if err := n.fs.inodeCache.put(child); err != nil {
		return nil, err
	}
	if err := n.fs.inodeCache.put(dir); err != nil {
		return nil, err
	}
	return child, nil
}

// Create makes a new regular file named name within the directory node.
func (n *Node) Create(name string, mode uint16, uid, gid uint32) (*Node, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	child, err := n.createChild(name, (mode&^sIFMT)|sIFREG, uid, gid)
	if err != nil {
		return nil, err
	}
	return n.fs.nodeFor(child.number), nil
}

// Mkdir makes a new subdirectory named name within the directory node.
func (n *Node) Mkdir(name string, mode uint16, uid, gid uint32) (*Node, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	child, err := n.createChild(name, (mode&^sIFMT)|sIFDIR, uid, gid)
	if err != nil {
		return nil, err
	}
	return n.fs.nodeFor(child.number), nil
}

// Symlink creates a new symlink named name pointing at target.
func (n *Node) Symlink(name, target string, uid, gid uint32) (*Node, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	dir, err := n.inode()
	if err != nil {
		return nil, err
	}
	if !dir.isDir() {
		return nil, fmt.Errorf("%w: inode %d", ErrNotADirectory, n.Number)
	}
	if _, _, found, err := n.fs.dirLookup(dir, name); err != nil {
		return nil, err
	} else if found {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}

	parentGroup, _, err := n.fs.inodeToGroup(n.Number)
	if err != nil {
		return nil, err
	}
	number, err := n.fs.allocateInode(parentGroup, false)
	if err != nil {
		return nil, err
	}
	now := uint32(timestamp.GetTime().Unix())
	link := &inode{mode: sIFLNK | 0777, atime: now, ctime: now, mtime: now, linksCount: 1, number: number}
	link.setUID(uid)
	link.setGID(gid)
	if err := n.fs.writeSymlinkTarget(link, target); err != nil {
		return nil, err
	}
	if err := n.fs.dirInsert(dir, name, number, ftSymlink); err != nil {
		return nil, err
	}
	if err := n.fs.inodeCache.put(link); err != nil {
		return nil, err
	}
	return n.fs.nodeFor(number), nil
}

// Readlink returns a symlink node's target.
func (n *Node) Readlink() (string, error) {
	in, err := n.inode()
	if err != nil {
		return "", err
	}
	if !in.isSymlink() {
		return "", fmt.Errorf("%w: inode %d is not a symlink", ErrInvalidInput, n.Number)
	}
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	return n.fs.readSymlinkTarget(in)
}

// Link adds another directory entry named name pointing at target,
// incrementing target's link count (hard link).
func (n *Node) Link(name string, target *Node) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	dir, err := n.inode()
	if err != nil {
		return err
	}
	if !dir.isDir() {
		return fmt.Errorf("%w: inode %d", ErrNotADirectory, n.Number)
	}
	targetInode, err := target.inode()
	if err != nil {
		return err
	}
	if targetInode.isDir() {
		return fmt.Errorf("%w: cannot hard-link a directory", ErrIsADirectory)
	}
	if err := n.fs.dirInsert(dir, name, target.Number, fileTypeForMode(targetInode.mode)); err != nil {
		return err
	}
	targetInode.linksCount++
	return n.fs.inodeCache.put(targetInode)
}

// Unlink removes a non-directory entry named name, freeing the target
// inode and its data once the link count reaches zero.
func (n *Node) Unlink(name string) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	dir, err := n.inode()
	if err != nil {
		return err
	}
	return n.unlinkLocked(dir, name)
}

// unlinkLocked is Unlink's body, usable by callers (Rename) that
// already hold fs.mu.
func (n *Node) unlinkLocked(dir *inode, name string) error {
	if !dir.isDir() {
		return fmt.Errorf("%w: inode %d", ErrNotADirectory, n.Number)
	}
	number, _, found, err := n.fs.dirLookup(dir, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	target, err := n.fs.inodeCache.get(number)
	if err != nil {
		return err
	}
	if target.isDir() {
		return fmt.Errorf("%w: %q", ErrIsADirectory, name)
	}
	if err := n.fs.dirRemove(dir, name); err != nil {
		return err
	}
	if target.linksCount > 0 {
		target.linksCount--
	}
	if target.linksCount == 0 {
		if !target.isSymlink() || target.hasExtents() {
			if err := n.fs.truncateExtents(target, 0); err != nil {
				return err
			}
		}
		if err := n.fs.freeInode(number, false); err != nil {
			return err
		}
	}
	return n.fs.inodeCache.put(target)
}

// Rmdir removes an empty subdirectory named name.
func (n *Node) Rmdir(name string) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	dir, err := n.inode()
	if err != nil {
		return err
	}
	number, _, found, err := n.fs.dirLookup(dir, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	child, err := n.fs.inodeCache.get(number)
	if err != nil {
		return err
	}
	if !child.isDir() {
		return fmt.Errorf("%w: %q", ErrNotADirectory, name)
	}
	empty, err := n.fs.dirIsEmpty(child)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("%w: %q is not empty", ErrInvalidInput, name)
	}
	if err := n.fs.dirRemove(dir, name); err != nil {
		return err
	}
	if err := n.fs.truncateExtents(child, 0); err != nil {
		return err
	}
	if err := n.fs.freeInode(number, true); err != nil {
		return err
	}
	dir.linksCount--
	return n.fs.inodeCache.put(dir)
}

// DeleteRecursive removes the entry named name from n, deleting its
// entire subtree first if it names a directory.
func (n *Node) DeleteRecursive(name string) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	dir, err := n.inode()
	if err != nil {
		return err
	}
	if !dir.isDir() {
		return fmt.Errorf("%w: inode %d", ErrNotADirectory, n.Number)
	}
	return n.fs.deleteTree(dir, n.Number, name)
}

// Rename moves the entry named oldName from n to newName under
// newParent, overwriting an existing non-directory entry there. If
// newName already names a directory, Rename fails with
// ErrAlreadyExists.
func (n *Node) Rename(oldName string, newParent *Node, newName string) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	srcDir, err := n.inode()
	if err != nil {
		return err
	}
	number, fileType, found, err := n.fs.dirLookup(srcDir, oldName)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrNotFound, oldName)
	}
	dstDir, err := newParent.inode()
	if err != nil {
		return err
	}
	if !dstDir.isDir() {
		return fmt.Errorf("%w: inode %d", ErrNotADirectory, newParent.Number)
	}
	if _, _, exists, err := n.fs.dirLookup(dstDir, newName); err != nil {
		return err
	} else if exists {
		if err := newParent.unlinkLocked(dstDir, newName); err != nil && !errors.Is(err, ErrIsADirectory) {
			return err
		}
	}
	if err := n.fs.dirInsert(dstDir, newName, number, fileType); err != nil {
		return err
	}
	if err := n.fs.dirRemove(srcDir, oldName); err != nil {
		return err
	}
	if fileType == ftDir && n.Number != newParent.Number {
		child, err := n.fs.inodeCache.get(number)
		if err != nil {
			return err
		}
		if err := n.fs.dirRemove(child, ".."); err != nil {
			return err
		}
		if err := n.fs.dirInsert(child, "..", newParent.Number, ftDir); err != nil {
			return err
		}
		srcDir.linksCount--
		dstDir.linksCount++
		if err := n.fs.inodeCache.put(srcDir); err != nil {
			return err
		}
		if err := n.fs.inodeCache.put(dstDir); err != nil {
			return err
		}
	}
	return nil
}
