// Package storage provides page stores: fixed size blocks addressed by page
// id. The tree reads and writes whole pages only, so a store never interprets
// page contents.
package storage

import (
	"sync/atomic"

	"github.com/alexhholmes/gbptree/internal/base"
)

// Store is the block device under the page cache. Reading a page that was
// never written yields zeroes.
type Store interface {
	PageSize() int
	ReadPage(id base.PageID, buf []byte) error
	WritePage(id base.PageID, buf []byte) error
	// WritePages writes len(buf)/PageSize() contiguous pages starting at first.
	WritePages(first base.PageID, buf []byte) error
	Sync() error
	// Empty reports whether the store holds no tree yet.
	Empty() (bool, error)
	Stats() Stats
	Close() error
}

// Stats holds I/O statistics
type Stats struct {
	Reads   uint64
	Writes  uint64
	Read    uint64
	Written uint64
	Syncs   uint64
}

type counters struct {
	reads   atomic.Uint64
	writes  atomic.Uint64
	read    atomic.Uint64
	written atomic.Uint64
	syncs   atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{
		Reads:   c.reads.Load(),
		Writes:  c.writes.Load(),
		Read:    c.read.Load(),
		Written: c.written.Load(),
		Syncs:   c.syncs.Load(),
	}
}

func (c *counters) readDone(n int) {
	c.reads.Add(1)
	c.read.Add(uint64(n))
}

func (c *counters) writeDone(n int) {
	c.writes.Add(1)
	c.written.Add(uint64(n))
}
