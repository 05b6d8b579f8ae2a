package ext4

import (
	"sort"

	"github.com/goburrow/cache"

	"github.com/ext4fs/ext4fs/bitops"
)

// dataBlockCache is a read-through LRU over recently touched file data
// blocks, sized by Config.DataBlockCacheMax.
type dataBlockCache struct {
	c cache.Cache
}

func newDataBlockCache(maxEntries int) *dataBlockCache {
	return &dataBlockCache{c: cache.New(cache.WithMaximumSize(maxEntries))}
}

func (d *dataBlockCache) get(block uint64) ([]byte, bool) {
	if v, ok := d.c.GetIfPresent(block); ok {
		return v.([]byte), true
	}
	return nil, false
}

func (d *dataBlockCache) put(block uint64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	d.c.Put(block, cp)
}

func (d *dataBlockCache) invalidate(block uint64) {
	d.c.Invalidate(block)
}

// bitmapKind distinguishes block- from inode-allocation bitmaps sharing
// one cache keyspace.
type bitmapKind int

const (
	bitmapKindBlock bitmapKind = iota
	bitmapKindInode
)

type bitmapCacheKey struct {
	kind  bitmapKind
	group uint32
}

type bitmapCacheEntry struct {
	bm    *bitops.Bitmap
	block uint64 // on-disk block this bitmap occupies
	dirty bool
}

// bitmapCache is an LRU over decoded group bitmaps. Entries evicted
// while dirty are flushed to the metadata sink before being dropped,
// via a removal listener.
type bitmapCache struct {
	c    cache.Cache
	fs   *Filesystem
}

func newBitmapCache(fs *Filesystem, maxEntries int) *bitmapCache {
	bc := &bitmapCache{fs: fs}
	bc.c = cache.New(
		cache.WithMaximumSize(maxEntries),
		cache.WithRemovalListener(func(k cache.Key, v cache.Value) {
			e := v.(*bitmapCacheEntry)
			if e.dirty {
				_ = fs.writeMetaBlock(e.block, e.bm.Bytes())
			}
		}),
	)
	return bc
}

func (bc *bitmapCache) get(kind bitmapKind, group uint32, block uint64, nBits int) (*bitmapCacheEntry, error) {
	key := bitmapCacheKey{kind, group}
	if v, ok := bc.c.GetIfPresent(key); ok {
		return v.(*bitmapCacheEntry), nil
	}
	buf, err := bc.fs.readMetaBlock(block)
	if err != nil {
		return nil, err
	}
	e := &bitmapCacheEntry{bm: bitops.New(buf, nBits), block: block}
	bc.c.Put(key, e)
	return e, nil
}

func (bc *bitmapCache) markDirty(kind bitmapKind, group uint32) {
	key := bitmapCacheKey{kind, group}
	if v, ok := bc.c.GetIfPresent(key); ok {
		v.(*bitmapCacheEntry).dirty = true
	}
}

// flushAll writes every dirty bitmap back and clears the dirty flags.
func (bc *bitmapCache) flushAll() error {
	var firstErr error
	bc.c.Each(func(k cache.Key, v cache.Value) {
		e := v.(*bitmapCacheEntry)
		if e.dirty {
			if err := bc.fs.writeMetaBlock(e.block, e.bm.Bytes()); err != nil && firstErr == nil {
				firstErr = err
			}
			e.dirty = false
		}
	})
	return firstErr
}

// inodeCacheEntry wraps a cached inode with dirty/access bookkeeping.
// access is a monotonic touch counter, not wall-clock time, so
// eviction order is deterministic given a fixed operation sequence.
type inodeCacheEntry struct {
	in      *inode
	dirty   bool
	access  uint64
}

// inodeTableCache is a bounded LRU keyed by inode number, evicted by a
// monotonic access counter rather than wall-clock time so eviction order
// is deterministic and independent of test timing.
type inodeTableCache struct {
	fs       *Filesystem
	max      int
	entries  map[uint32]*inodeCacheEntry
	counter  uint64
}

func newInodeTableCache(fs *Filesystem, maxEntries int) *inodeTableCache {
	return &inodeTableCache{
		fs:      fs,
		max:     maxEntries,
		entries: make(map[uint32]*inodeCacheEntry),
	}
}

func (c *inodeTableCache) touch(e *inodeCacheEntry) {
	c.counter++
	e.access = c.counter
}

// get returns the cached inode for number, loading it from disk (via
// the inode-table block layout) on a miss, evicting the
// least-recently-used entry first (see evictIfFull) if the cache is full.
func (c *inodeTableCache) get(number uint32) (*inode, error) {
	if e, ok := c.entries[number]; ok {
		c.touch(e)
		return e.in, nil
	}
	in, err := c.fs.loadInodeFromDisk(number)
	if err != nil {
		return nil, err
	}
	if err := c.evictIfFull(); err != nil {
		return nil, err
	}
	e := &inodeCacheEntry{in: in}
	c.touch(e)
	c.entries[number] = e
	return in, nil
}

// put installs or replaces a cached inode and marks it dirty, used
// after creating a new inode or mutating one in place.
func (c *inodeTableCache) put(in *inode) error {
	e, ok := c.entries[in.number]
	if !ok {
		if err := c.evictIfFull(); err != nil {
			return err
		}
		e = &inodeCacheEntry{}
		c.entries[in.number] = e
	}
	e.in = in
	e.dirty = true
	c.touch(e)
	return nil
}

func (c *inodeTableCache) evictIfFull() error {
	if len(c.entries) < c.max {
		return nil
	}
	var lruNum uint32
	var lruEntry *inodeCacheEntry
	for num, e := range c.entries {
		if lruEntry == nil || e.access < lruEntry.access {
			lruNum, lruEntry = num, e
		}
	}
	if lruEntry == nil {
		return nil
	}
	if lruEntry.dirty {
		if err := c.fs.writeInodeToDisk(lruEntry.in); err != nil {
			return err
		}
	}
	delete(c.entries, lruNum)
	return nil
}

// flushAll groups dirty entries by the on-disk block they share and
// performs one read-patch-write cycle per block, since several inodes
// can share one on-disk record block.
func (c *inodeTableCache) flushAll() error {
	byBlock := make(map[uint64][]*inodeCacheEntry)
	for _, e := range c.entries {
		if !e.dirty {
			continue
		}
		block, _, err := c.fs.inodeLocation(e.in.number)
		if err != nil {
			return err
		}
		byBlock[block] = append(byBlock[block], e)
	}
	blocks := make([]uint64, 0, len(byBlock))
	for b := range byBlock {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	for _, block := range blocks {
		buf, err := c.fs.readMetaBlock(block)
		if err != nil {
			return err
		}
		for _, e := range byBlock[block] {
			_, off, err := c.fs.inodeLocation(e.in.number)
			if err != nil {
				return err
			}
			recSize := int(c.fs.sb.inodeRecordSize())
			if off+recSize > len(buf) {
				continue
			}
			e.in.ToDiskBytes(buf[off : off+recSize])
			e.dirty = false
		}
		if err := c.fs.writeMetaBlock(block, buf); err != nil {
			return err
		}
	}
	return nil
}
