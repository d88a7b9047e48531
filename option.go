package gbptree

import (
	"context"

	"github.com/alexhholmes/gbptree/internal/base"
)

// SyncMode controls whether checkpoints fsync the store.
type SyncMode int

const (
	// SyncFull fsyncs after the data pages and again after the checkpoint
	// record.
	// - A completed Checkpoint survives power failure
	// - Use for: anything that is not trivially rebuilt
	SyncFull SyncMode = iota

	// SyncOff never fsyncs (testing/bulk loads only).
	// - Checkpoints only survive a process crash, not an OS crash
	// - Use for: Testing, bulk imports with external durability
	SyncOff
)

func (m SyncMode) String() string {
	if m == SyncOff {
		return "off"
	}
	return "full"
}

// Durability is the write-ahead log the tree checkpoints behind. Flush must
// return once every change made during generation is durable in the log; the
// checkpoint that makes generation stable does not start writing pages
// before it returns.
type Durability interface {
	Flush(ctx context.Context, generation uint64) error
}

type noDurability struct{}

func (noDurability) Flush(context.Context, uint64) error { return nil }

// Options configures a tree.
type Options struct {
	pageSize   int        // Page size for stores created by OpenFile
	cacheSize  int        // Number of clean pages kept in memory
	maxReaders int        // Maximum concurrently open seekers
	logger     Logger     // Receives lifecycle and checkpoint events
	durability Durability // Barrier every checkpoint waits on
	syncMode   SyncMode
	mmap       bool // OpenFile maps the file instead of using pread/pwrite
	directIO   bool // OpenFile bypasses the OS page cache
	create     bool // OpenFile creates a missing file
}

// DefaultOptions returns safe default configuration.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultOptions() Options {
	return Options{
		pageSize:   base.DefaultPageSize,
		cacheSize:  4096, // 16MB of 4KB pages
		maxReaders: 256,
		logger:     DiscardLogger{},
		durability: noDurability{},
		syncMode:   SyncFull,
		create:     true,
	}
}

// Option configures tree options using the functional options pattern.
type Option func(*Options)

// WithPageSize sets the page size of a store created by OpenFile. It must be
// a power of two between 512 and 32768 bytes. Trees opened on an existing
// store always use the store's page size.
//
//goland:noinspection GoUnusedExportedFunction
func WithPageSize(size int) Option {
	return func(opts *Options) {
		opts.pageSize = size
	}
}

// WithCacheSize sets how many clean pages stay cached. Pinned and dirty pages
// are held in addition to these.
//
//goland:noinspection GoUnusedExportedFunction
func WithCacheSize(pages int) Option {
	return func(opts *Options) {
		opts.cacheSize = pages
	}
}

// WithMaxReaders bounds the number of seekers open at once.
//
//goland:noinspection GoUnusedExportedFunction
func WithMaxReaders(n int) Option {
	return func(opts *Options) {
		opts.maxReaders = n
	}
}

//goland:noinspection GoUnusedExportedFunction
func WithLogger(logger Logger) Option {
	return func(opts *Options) {
		opts.logger = logger
	}
}

// WithDurability installs the log barrier checkpoints wait on.
//
//goland:noinspection GoUnusedExportedFunction
func WithDurability(d Durability) Option {
	return func(opts *Options) {
		opts.durability = d
	}
}

//goland:noinspection GoUnusedExportedFunction
func WithSyncMode(mode SyncMode) Option {
	return func(opts *Options) {
		opts.syncMode = mode
	}
}

// WithMMap makes OpenFile read pages through a shared memory mapping.
//
//goland:noinspection GoUnusedExportedFunction
func WithMMap() Option {
	return func(opts *Options) {
		opts.mmap = true
		opts.directIO = false
	}
}

// WithDirectIO makes OpenFile bypass the OS page cache. Needs pages of at
// least 4KB.
//
//goland:noinspection GoUnusedExportedFunction
func WithDirectIO() Option {
	return func(opts *Options) {
		opts.directIO = true
		opts.mmap = false
	}
}

// WithCreate controls whether OpenFile creates a missing file.
//
//goland:noinspection GoUnusedExportedFunction
func WithCreate(create bool) Option {
	return func(opts *Options) {
		opts.create = create
	}
}
