// Package gbptree is a generation aware, copy-on-write B+tree over fixed size
// pages.
//
// One writer at a time changes the tree while any number of seekers read it.
// A page that belongs to the last checkpoint is never changed in place: the
// writer copies it into a page stamped with the unstable generation and
// leaves a successor pointer behind, so a crash always finds the
// checkpointed tree intact. Checkpoint makes the unstable generation stable
// and writes the new root to one of two checkpoint records.
package gbptree

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/gbptree/internal/base"
	"github.com/alexhholmes/gbptree/internal/cache"
	"github.com/alexhholmes/gbptree/internal/freelist"
	"github.com/alexhholmes/gbptree/internal/generation"
	"github.com/alexhholmes/gbptree/internal/lifecycle"
	"github.com/alexhholmes/gbptree/internal/node"
	"github.com/alexhholmes/gbptree/internal/storage"
	"github.com/alexhholmes/gbptree/layout"
)

type (
	PageID      = base.PageID
	Generations = generation.Generations

	// Store is the block device a tree lives on.
	Store       = storage.Store
	MemoryStore = storage.Memory
	StoreStats  = storage.Stats
	CacheStats  = cache.Stats
)

// NewMemoryStore returns a store that keeps its pages on the heap. Its
// Snapshot method captures what a device would hold after a crash.
func NewMemoryStore(pageSize int) (*MemoryStore, error) {
	return storage.NewMemory(pageSize)
}

// Tree is an index of K to V entries ordered by a layout. Keys may repeat.
type Tree[K, V any] struct {
	store   Store
	owned   bool // Close closes the store (OpenFile)
	layout  layout.Layout[K, V]
	nodes   *node.TreeNode[K, V]
	cache   *cache.Cache
	gens    *generation.Manager
	readers *lifecycle.ReaderSlots
	opts    Options
	log     Logger

	root   atomic.Uint64
	height atomic.Int32
	closed atomic.Bool

	// Single writer: held by Writer, Checkpoint and Close
	writeMu sync.Mutex
	meta    base.Meta          // Last checkpoint record written
	fl      *freelist.Freelist // Page allocator
	flRun   []base.PageID      // Pages holding the free list of meta
	stamp   uint64             // Last page stamp handed out
}

// Stats describes a tree's size and caching.
type Stats struct {
	Generations  Generations
	Root         PageID
	Height       int
	NumPages     uint64
	FreePages    int
	PendingPages int
	Readers      int
	Cache        CacheStats
	Store        StoreStats
}

// Open opens the tree stored in store, creating an empty one when the store
// is empty. If the last session did not close the tree, pointers written
// after its last checkpoint are cleaned up before Open returns.
func Open[K, V any](store Store, l layout.Layout[K, V], options ...Option) (*Tree[K, V], error) {
	return open(store, l, nil, options)
}

// Recover opens the tree from the checkpoint a durability log recorded.
// Everything written after cp is discarded. cp may be the newest checkpoint
// in the store or the one before it, which is what the log holds when the
// process died after Checkpoint wrote its record but before the log stored
// it. Recover fails with ErrStaleCheckpoint when the store has moved further
// past cp or was written with another layout or page size.
func Recover[K, V any](store Store, l layout.Layout[K, V], cp CheckpointRecord, options ...Option) (*Tree[K, V], error) {
	return open(store, l, &cp, options)
}

// OpenFile opens a tree in the file at path, which the tree owns and closes.
func OpenFile[K, V any](path string, l layout.Layout[K, V], options ...Option) (*Tree[K, V], error) {
	opts := applyOptions(options)

	pageSize, err := filePageSize(path, opts)
	if err != nil {
		return nil, err
	}

	var store Store
	switch {
	case opts.mmap:
		store, err = storage.NewMMap(path, pageSize)
	default:
		store, err = storage.NewFile(path, pageSize, opts.directIO)
	}
	if err != nil {
		return nil, err
	}

	t, err := open(store, l, nil, options)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	t.owned = true
	return t, nil
}

func applyOptions(options []Option) Options {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

// filePageSize returns the page size to open path with: the one recorded in
// an existing file, which must match the configured one.
func filePageSize(path string, opts Options) (int, error) {
	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err) && opts.create:
		return opts.pageSize, nil
	case err != nil:
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	header := make([]byte, base.MinPageSize)
	if _, err := io.ReadFull(f, header); err != nil {
		// Shorter than one page: nothing was checkpointed yet
		return opts.pageSize, nil
	}
	size, ok := base.MetaPageSize(header)
	if !ok {
		return opts.pageSize, nil
	}
	if size != opts.pageSize {
		return 0, errors.Wrapf(base.ErrInvalidPageSize, "%s has %d byte pages, configured %d", path, size, opts.pageSize)
	}
	return size, nil
}

func open[K, V any](store Store, l layout.Layout[K, V], cp *CheckpointRecord, options []Option) (*Tree[K, V], error) {
	opts := applyOptions(options)
	pageSize := store.PageSize()
	if !base.ValidPageSize(pageSize) {
		return nil, errors.Wrapf(base.ErrInvalidPageSize, "%d", pageSize)
	}

	nodes := node.New(l, pageSize)
	if fixed, ok := l.(layout.Fixed); ok {
		keySize, valueSize := fixed.FixedSize()
		if size := base.LeafElementSize + keySize + valueSize; size > nodes.MaxEntrySize() {
			return nil, errors.Wrapf(base.ErrTooLarge, "fixed entries of %d bytes exceed %d", size, nodes.MaxEntrySize())
		}
	}

	t := &Tree[K, V]{
		store:   store,
		layout:  l,
		nodes:   nodes,
		readers: lifecycle.NewReaderSlots(opts.maxReaders),
		opts:    opts,
		log:     opts.logger,
	}

	slots, err := t.readMeta()
	if err != nil {
		return nil, err
	}
	meta, found := slots.newest, slots.found
	if cp != nil {
		if meta, err = pickRecord(slots, l.Identifier(), pageSize, *cp); err != nil {
			return nil, err
		}
	}
	if !found {
		if meta, err = t.create(); err != nil {
			return nil, err
		}
		t.log.Info("created tree", "pageSize", pageSize, "layout", l.Identifier())
	}
	if meta.LayoutID != l.Identifier() {
		return nil, errors.Wrapf(base.ErrLayoutMismatch, "stored layout %x, opened with %x", meta.LayoutID, l.Identifier())
	}
	if int(meta.PageSize) != pageSize {
		return nil, errors.Wrapf(base.ErrInvalidPageSize, "stored pages of %d bytes, store has %d", meta.PageSize, pageSize)
	}

	if err := t.load(meta); err != nil {
		return nil, err
	}
	return t, nil
}

// pickRecord returns the checkpoint record cp names. When that is the
// record before the newest one, the pages the newer checkpoint wrote are
// dropped and every generation it may have stamped pointers with is treated
// as crashed, so the reopen cleans them up.
func pickRecord(slots metaSlots, layoutID uint64, pageSize int, cp CheckpointRecord) (base.Meta, error) {
	meta := slots.newest
	switch {
	case !slots.found:
		return base.Meta{}, errors.Wrap(base.ErrStaleCheckpoint, "store holds no checkpoint")
	case cp.LayoutID != layoutID || cp.LayoutID != meta.LayoutID:
		return base.Meta{}, errors.Wrapf(base.ErrStaleCheckpoint, "checkpoint layout %x, store %x", cp.LayoutID, meta.LayoutID)
	case cp.PageSize != pageSize || cp.PageSize != int(meta.PageSize):
		return base.Meta{}, errors.Wrapf(base.ErrStaleCheckpoint, "checkpoint page size %d, store %d", cp.PageSize, meta.PageSize)
	case names(meta, cp):
		return meta, nil
	case slots.hasPrevious && names(slots.previous, cp):
		prev := slots.previous
		prev.Unstable = max(prev.Unstable, meta.Unstable)
		prev.Clean = false
		return prev, nil
	}
	return base.Meta{}, errors.Wrapf(base.ErrStaleCheckpoint, "checkpoint generation %d root %d, store generation %d root %d",
		cp.Stable, cp.Root, meta.Stable, meta.Root)
}

func names(meta base.Meta, cp CheckpointRecord) bool {
	return meta.Stable == cp.Stable && meta.Root == cp.Root
}

// metaSlots holds the valid checkpoint records. previous is set only when it
// was written right before newest.
type metaSlots struct {
	newest      base.Meta
	previous    base.Meta
	found       bool
	hasPrevious bool
}

// readMeta reads both checkpoint record slots. found is false for a store
// that holds no tree yet.
func (t *Tree[K, V]) readMeta() (metaSlots, error) {
	var slots metaSlots
	empty, err := t.store.Empty()
	if err != nil {
		return slots, errors.Wrap(err, "inspect store")
	}
	if empty {
		return slots, nil
	}

	buf := make([]byte, t.store.PageSize())
	var valid []base.Meta
	zeroed := 0
	var firstErr error
	for _, id := range []base.PageID{base.MetaPageA, base.MetaPageB} {
		if err := t.store.ReadPage(id, buf); err != nil {
			return slots, errors.Wrapf(err, "read checkpoint record %d", id)
		}
		m, err := base.DecodeMeta(buf)
		if err != nil {
			// A preallocated file reads as zeroes
			if isZero(buf) {
				zeroed++
			} else if firstErr == nil {
				firstErr = errors.Wrapf(err, "checkpoint record %d", id)
			}
			continue
		}
		valid = append(valid, m)
	}
	switch {
	case len(valid) == 0 && zeroed == 2:
		return slots, nil
	case len(valid) == 0:
		return slots, firstErr
	}

	if len(valid) == 2 && valid[1].Sequence > valid[0].Sequence {
		valid[0], valid[1] = valid[1], valid[0]
	}
	slots.newest, slots.found = valid[0], true
	if len(valid) == 2 && valid[1].Sequence+1 == valid[0].Sequence {
		slots.previous, slots.hasPrevious = valid[1], true
	}
	return slots, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// create writes an empty root leaf and the first checkpoint record.
func (t *Tree[K, V]) create() (base.Meta, error) {
	pageSize := t.store.PageSize()
	meta := base.Meta{
		PageSize: uint32(pageSize),
		LayoutID: t.layout.Identifier(),
		Root:     base.FirstDataPage,
		Stable:   1,
		Unstable: 2,
		NumPages: uint64(base.FirstDataPage) + 1,
		Clean:    true,
	}

	root := make([]byte, pageSize)
	node.InitializeLeaf(root, meta.Stable)
	base.SetChecksum(root)
	if err := t.store.WritePage(meta.Root, root); err != nil {
		return base.Meta{}, errors.Wrap(err, "write root")
	}
	if err := t.sync(); err != nil {
		return base.Meta{}, err
	}
	if err := t.writeMeta(meta); err != nil {
		return base.Meta{}, err
	}
	return meta, nil
}

// load brings up the in-memory state for meta and starts a new unstable
// generation. After an unclean shutdown the generation written before the
// crash is skipped, so every pointer stamped with it reads as invalid.
func (t *Tree[K, V]) load(meta base.Meta) error {
	pageSize := t.store.PageSize()

	fl := freelist.New(meta.NumPages)
	if meta.FreelistPages > 0 {
		buf := make([]byte, int(meta.FreelistPages)*pageSize)
		for i := 0; i < int(meta.FreelistPages); i++ {
			id := meta.FreelistID + base.PageID(i)
			if err := t.store.ReadPage(id, buf[i*pageSize:(i+1)*pageSize]); err != nil {
				return errors.Wrapf(err, "read free list page %d", id)
			}
			t.flRun = append(t.flRun, id)
		}
		var err error
		if fl, err = freelist.Decode(buf, pageSize, meta.NumPages); err != nil {
			return err
		}
	}
	t.fl = fl

	unstable := meta.Unstable
	if !meta.Clean {
		unstable++
	}
	t.gens = generation.NewManager(meta.Stable, unstable)
	t.stamp = unstable << 32

	c, err := cache.New(t.store, t.opts.cacheSize, verifyPage)
	if err != nil {
		return err
	}
	t.cache = c
	t.root.Store(uint64(meta.Root))

	height, err := t.measureHeight()
	if err != nil {
		return err
	}
	t.height.Store(int32(height))

	if !meta.Clean {
		visited, cleaned, err := t.cleanCrashPointers()
		if err != nil {
			t.log.Error("crash cleanup failed", "error", err)
			return err
		}
		t.log.Warn("recovered from unclean shutdown",
			"stable", meta.Stable, "crashed", meta.Unstable, "visited", visited, "cleaned", cleaned)
	}

	// Record the new unstable generation before any page is written with it,
	// so a crash in this session is recognised on the next open. Until here
	// nothing reached the store, and a failed open leaves it as it was.
	next := meta
	next.Unstable = unstable
	next.Sequence++
	next.Clean = false
	if err := t.writeMeta(next); err != nil {
		return err
	}
	t.meta = next

	// No reader exists yet, so nothing freed before the checkpoint is
	// reachable.
	released := t.fl.Release(unstable)
	t.log.Info("opened tree",
		"root", meta.Root, "height", height, "pages", meta.NumPages,
		"generations", t.gens.Load().String(), "released", released)
	return nil
}

// verifyPage checks a node page as it is read from the store.
func verifyPage(id base.PageID, data []byte) error {
	if !base.VerifyChecksum(data) {
		return errors.Wrapf(base.ErrInvalidChecksum, "page %d", id)
	}
	return node.Validate(data)
}

func (t *Tree[K, V]) measureHeight() (int, error) {
	buf := make([]byte, t.store.PageSize())
	id := base.PageID(t.root.Load())
	for height := 1; ; height++ {
		if err := t.readPage(id, buf); err != nil {
			return 0, err
		}
		if node.IsLeaf(buf) {
			return height, nil
		}
		id = node.ChildAt(buf, 0)
	}
}

// cleanCrashPointers zeroes every pointer slot the crashed generation left
// in pages reachable from the root.
func (t *Tree[K, V]) cleanCrashPointers() (visited, cleaned int, err error) {
	gens := t.gens.Load()
	queue := []base.PageID{base.PageID(t.root.Load())}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		f, err := t.cache.Pin(id)
		if err != nil {
			return visited, cleaned, err
		}
		f.Lock()
		p := f.Data()
		if !node.IsLeaf(p) {
			for i := 0; i <= node.KeyCount(p); i++ {
				queue = append(queue, node.ChildAt(p, i))
			}
		}
		changed := node.CleanCrashPointers(p, gens)
		f.Unlock()
		if changed {
			t.cache.MarkDirty(f)
			cleaned++
		}
		t.cache.Unpin(f)
		visited++
	}
	return visited, cleaned, nil
}

// readPage copies page id into buf under its shared latch.
func (t *Tree[K, V]) readPage(id base.PageID, buf []byte) error {
	f, err := t.cache.Pin(id)
	if err != nil {
		return err
	}
	f.RLock()
	copy(buf, f.Data())
	f.RUnlock()
	t.cache.Unpin(f)
	return nil
}

// stampIs reports whether page id still carries stamp.
func (t *Tree[K, V]) stampIs(id base.PageID, stamp uint64) (bool, error) {
	f, err := t.cache.Pin(id)
	if err != nil {
		return false, err
	}
	f.RLock()
	same := node.Stamp(f.Data()) == stamp
	f.RUnlock()
	t.cache.Unpin(f)
	return same, nil
}

func (t *Tree[K, V]) writeMeta(meta base.Meta) error {
	buf := make([]byte, t.store.PageSize())
	meta.Encode(buf)
	if err := t.store.WritePage(meta.Slot(), buf); err != nil {
		return errors.Wrapf(err, "write checkpoint record %d", meta.Slot())
	}
	return t.sync()
}

func (t *Tree[K, V]) sync() error {
	if t.opts.syncMode == SyncOff {
		return nil
	}
	return errors.Wrap(t.store.Sync(), "sync")
}

// Generations returns the current stable and unstable generation.
func (t *Tree[K, V]) Generations() Generations {
	return t.gens.Load()
}

// Stats returns a snapshot of the tree's counters.
func (t *Tree[K, V]) Stats() Stats {
	free, pending := t.fl.Counts()
	return Stats{
		Generations:  t.gens.Load(),
		Root:         base.PageID(t.root.Load()),
		Height:       int(t.height.Load()),
		NumPages:     t.fl.NumPages(),
		FreePages:    free,
		PendingPages: pending,
		Readers:      t.readers.Active(),
		Cache:        t.cache.Stats(),
		Store:        t.store.Stats(),
	}
}

// Close waits for the writer, writes a final clean checkpoint and releases
// the store if the tree opened it. Seekers must be closed first.
func (t *Tree[K, V]) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}

	_, err := t.checkpoint(context.Background(), true)
	t.closed.Store(true)
	if t.owned {
		if cerr := t.store.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		t.log.Error("close failed", "error", err)
		return err
	}
	t.log.Info("closed tree", "generations", t.gens.Load().String())
	return nil
}
