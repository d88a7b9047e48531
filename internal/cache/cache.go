// Package cache holds pages in memory between the tree and its store.
//
// Frames that are pinned or dirty live in a map and are never evicted. Once
// the last pin is dropped a clean frame moves to a bounded LRU, where it stays
// reusable until evicted. Dirty frames are written back only by Flush, which
// the checkpoint calls, in ascending page order so contiguous pages go out as
// one write.
package cache

import (
	"encoding/binary"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/elastic/go-freelru"
	"github.com/google/btree"

	"github.com/alexhholmes/gbptree/internal/base"
	"github.com/alexhholmes/gbptree/internal/storage"
)

const (
	MinCacheSize = 16 // Minimum: hold tree path + concurrent ops

	// maxRunPages caps a single contiguous write during Flush.
	maxRunPages = 256
)

// VerifyFunc checks a page freshly read from the store.
type VerifyFunc func(id base.PageID, data []byte) error

// Cache is a page cache over a store.
type Cache struct {
	store    storage.Store
	pageSize int
	verify   VerifyFunc

	mu     sync.Mutex
	frames map[base.PageID]*Frame
	clean  *freelru.LRU[base.PageID, *Frame]
	dirty  *btree.BTreeG[base.PageID]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats describes cache occupancy and effectiveness.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Pinned    int
	Dirty     int
	Clean     int
}

func hashPageID(id base.PageID) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return uint32(xxhash.Sum64(b[:]))
}

// New creates a cache keeping up to capacity clean pages.
func New(store storage.Store, capacity int, verify VerifyFunc) (*Cache, error) {
	capacity = max(capacity, MinCacheSize)
	// freelru sizes its hash table to a power of two.
	size := uint32(1) << bits.Len32(uint32(capacity-1))

	clean, err := freelru.New[base.PageID, *Frame](size, hashPageID)
	if err != nil {
		return nil, errors.Wrap(err, "create page LRU")
	}

	return &Cache{
		store:    store,
		pageSize: store.PageSize(),
		verify:   verify,
		frames:   make(map[base.PageID]*Frame),
		clean:    clean,
		dirty:    btree.NewG[base.PageID](16, func(a, b base.PageID) bool { return a < b }),
	}, nil
}

// Pin returns the frame of page id with a pin taken, reading it from the
// store on a miss. Every successful Pin is paired with Unpin.
func (c *Cache) Pin(id base.PageID) (*Frame, error) {
	c.mu.Lock()
	if f, ok := c.frames[id]; ok {
		f.pins++
		c.mu.Unlock()
		c.hits.Add(1)

		<-f.loaded
		if f.loadErr != nil {
			c.Unpin(f)
			return nil, f.loadErr
		}
		return f, nil
	}
	if f, ok := c.clean.Get(id); ok {
		c.clean.Remove(id)
		f.pins = 1
		c.frames[id] = f
		c.mu.Unlock()
		c.hits.Add(1)
		return f, nil
	}

	f := &Frame{
		id:     id,
		data:   make([]byte, c.pageSize),
		pins:   1,
		loaded: make(chan struct{}),
	}
	c.frames[id] = f
	c.mu.Unlock()
	c.misses.Add(1)

	err := c.store.ReadPage(id, f.data)
	if err == nil && c.verify != nil {
		err = c.verify(id, f.data)
	}
	if err != nil {
		err = errors.Wrapf(err, "load page %d", id)
	}
	f.loadErr = err
	close(f.loaded)

	if err != nil {
		c.Unpin(f)
		return nil, err
	}
	return f, nil
}

// Create returns a zeroed, pinned and dirty frame for a page that is being
// (re)allocated. Any cached copy of the page's previous life is dropped.
func (c *Cache) Create(id base.PageID) *Frame {
	f := &Frame{
		id:     id,
		data:   make([]byte, c.pageSize),
		pins:   1,
		dirty:  true,
		loaded: closedChan,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.frames[id]; ok && old.pins > 0 {
		panic(errors.AssertionFailedf("page %d reallocated while pinned", id))
	}
	c.clean.Remove(id)
	c.frames[id] = f
	c.dirty.ReplaceOrInsert(id)
	return f
}

// Unpin drops one pin.
func (c *Cache) Unpin(f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unpinLocked(f)
}

func (c *Cache) unpinLocked(f *Frame) {
	f.pins--
	if f.pins < 0 {
		panic(errors.AssertionFailedf("page %d unpinned more than pinned", f.id))
	}
	if f.pins > 0 || f.dirty {
		return
	}
	if c.frames[f.id] == f {
		delete(c.frames, f.id)
		if f.loadErr == nil {
			c.clean.Add(f.id, f)
		}
	}
}

// MarkDirty records that f must be written by the next Flush.
func (c *Cache) MarkDirty(f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !f.dirty {
		f.dirty = true
		c.dirty.ReplaceOrInsert(f.id)
	}
}

// Flush writes every dirty page to the store, sealing each copy with its
// checksum. Callers exclude the writer for the duration; readers may keep
// running. On error the pages stay dirty.
func (c *Cache) Flush() (int, error) {
	c.mu.Lock()
	dirty := make([]*Frame, 0, c.dirty.Len())
	c.dirty.Ascend(func(id base.PageID) bool {
		if f, ok := c.frames[id]; ok && f.dirty {
			dirty = append(dirty, f)
		}
		return true
	})
	c.mu.Unlock()

	for start := 0; start < len(dirty); {
		end := start + 1
		for end < len(dirty) && end-start < maxRunPages && dirty[end].id == dirty[end-1].id+1 {
			end++
		}

		run := make([]byte, (end-start)*c.pageSize)
		for i, f := range dirty[start:end] {
			page := run[i*c.pageSize : (i+1)*c.pageSize]
			f.RLock()
			copy(page, f.data)
			f.RUnlock()
			base.SetChecksum(page)
		}
		if err := c.store.WritePages(dirty[start].id, run); err != nil {
			return 0, errors.Wrapf(err, "flush pages %d..%d", dirty[start].id, dirty[end-1].id)
		}
		start = end
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range dirty {
		f.dirty = false
		c.dirty.Delete(f.id)
		if f.pins == 0 && c.frames[f.id] == f {
			delete(c.frames, f.id)
			c.clean.Add(f.id, f)
		}
	}
	return len(dirty), nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	pinned := 0
	for _, f := range c.frames {
		if f.pins > 0 {
			pinned++
		}
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.clean.Metrics().Evictions,
		Pinned:    pinned,
		Dirty:     c.dirty.Len(),
		Clean:     c.clean.Len(),
	}
}

// Purge drops every clean frame.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clean.Purge()
}
