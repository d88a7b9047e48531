// Package freelist allocates page ids and keeps released pages until no
// reader can still reach them.
package freelist

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/alexhholmes/gbptree/internal/base"
)

// Freelist manages free and pending pages. Pages are freed in two stages:
//  1. Pending: pages freed during generation g stay untouched while a
//     checkpoint or a reader of generation <= g may still reach them
//  2. Free: pages released from pending are available for immediate reuse
//
// Allocation prefers the lowest free id and otherwise extends the high water
// mark.
type Freelist struct {
	mu      sync.Mutex
	freed   *btree.BTreeG[base.PageID]
	pending map[uint64][]base.PageID // generation -> pages freed during it
	next    base.PageID              // first page id never handed out
}

func lessPageID(a, b base.PageID) bool { return a < b }

// New creates a free list whose high water mark is numPages.
func New(numPages uint64) *Freelist {
	return &Freelist{
		freed:   btree.NewG[base.PageID](32, lessPageID),
		pending: make(map[uint64][]base.PageID),
		next:    max(base.PageID(numPages), base.FirstDataPage),
	}
}

// Allocate returns a free page id, extending the high water mark when none
// is free.
func (f *Freelist) Allocate() base.PageID {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := f.freed.DeleteMin(); ok {
		return id
	}
	id := f.next
	f.next++
	return id
}

// AllocateRun returns the first of n contiguous, never used page ids.
func (f *Freelist) AllocateRun(n int) base.PageID {
	f.mu.Lock()
	defer f.mu.Unlock()

	first := f.next
	f.next += base.PageID(n)
	return first
}

// Free records pages released during generation gen. They become allocatable
// once Release is called with a bound above gen.
func (f *Freelist) Free(gen uint64, ids ...base.PageID) {
	if len(ids) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[gen] = append(f.pending[gen], ids...)
}

// Release moves pages freed during generations < bound to the free set and
// returns how many moved.
func (f *Freelist) Release(bound uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	released := 0
	for gen, pages := range f.pending {
		if gen < bound {
			for _, id := range pages {
				f.freed.ReplaceOrInsert(id)
			}
			released += len(pages)
			delete(f.pending, gen)
		}
	}
	return released
}

// NumPages is the high water mark: every page id below it has been handed
// out at some point.
func (f *Freelist) NumPages() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(f.next)
}

// Counts returns the number of free and pending pages.
func (f *Freelist) Counts() (free, pending int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pages := range f.pending {
		pending += len(pages)
	}
	return f.freed.Len(), pending
}

// Serialized form, split over pages that each carry the common page header
// (kind freelist, checksum):
//
//	free count u64 | free ids u64... | group count u64 |
//	{ generation u64 | count u64 | ids u64... }...

func payloadSize(pageSize int) int {
	return pageSize - base.HeaderSize
}

func (f *Freelist) encodedSize(extra int) int {
	size := 8 + 8*f.freed.Len() + 8
	for _, pages := range f.pending {
		size += 16 + 8*len(pages)
	}
	if extra > 0 {
		size += 16 + 8*extra
	}
	return size
}

// PagesNeeded returns the number of pages Encode needs when extra more ids
// are recorded as pending.
func (f *Freelist) PagesNeeded(pageSize, extra int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload := payloadSize(pageSize)
	return max(1, (f.encodedSize(extra)+payload-1)/payload)
}

// Encode serializes the free list into n pages, recording extra as freed
// during generation gen without changing the in-memory state. n must come
// from PagesNeeded with the same extra count.
func (f *Freelist) Encode(pageSize, n int, gen uint64, extra []base.PageID) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	stream := make([]byte, 0, f.encodedSize(len(extra)))
	stream = binary.LittleEndian.AppendUint64(stream, uint64(f.freed.Len()))
	f.freed.Ascend(func(id base.PageID) bool {
		stream = binary.LittleEndian.AppendUint64(stream, uint64(id))
		return true
	})

	pending := make(map[uint64][]base.PageID, len(f.pending)+1)
	for g, pages := range f.pending {
		pending[g] = pages
	}
	if len(extra) > 0 {
		pending[gen] = append(append([]base.PageID(nil), pending[gen]...), extra...)
	}
	// Sort generations for deterministic serialization
	gens := make([]uint64, 0, len(pending))
	for g := range pending {
		gens = append(gens, g)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })

	stream = binary.LittleEndian.AppendUint64(stream, uint64(len(gens)))
	for _, g := range gens {
		stream = binary.LittleEndian.AppendUint64(stream, g)
		stream = binary.LittleEndian.AppendUint64(stream, uint64(len(pending[g])))
		for _, id := range pending[g] {
			stream = binary.LittleEndian.AppendUint64(stream, uint64(id))
		}
	}

	payload := payloadSize(pageSize)
	if len(stream) > n*payload {
		panic(errors.AssertionFailedf("free list of %d bytes does not fit %d pages", len(stream), n))
	}
	buf := make([]byte, n*pageSize)
	for i := 0; i < n; i++ {
		page := buf[i*pageSize : (i+1)*pageSize]
		page[base.OffKind] = byte(base.KindFreelist)
		page[base.OffVersion] = base.FormatVersion
		lo := min(i*payload, len(stream))
		hi := min(lo+payload, len(stream))
		copy(page[base.HeaderSize:], stream[lo:hi])
		base.SetChecksum(page)
	}
	return buf
}

// Decode rebuilds a free list from pages written by Encode. The pending
// groups are kept; the caller releases them once it knows no reader exists.
func Decode(buf []byte, pageSize int, numPages uint64) (*Freelist, error) {
	payload := payloadSize(pageSize)
	stream := make([]byte, 0, len(buf)/pageSize*payload)
	for i := 0; i < len(buf)/pageSize; i++ {
		page := buf[i*pageSize : (i+1)*pageSize]
		if base.PageKind(page) != base.KindFreelist {
			return nil, errors.Wrapf(base.ErrCorruption, "free list page %d has kind %s", i, base.PageKind(page))
		}
		if !base.VerifyChecksum(page) {
			return nil, errors.Wrapf(base.ErrInvalidChecksum, "free list page %d", i)
		}
		stream = append(stream, page[base.HeaderSize:]...)
	}

	r := reader{buf: stream}
	f := New(numPages)
	freeCount := r.next()
	for i := uint64(0); i < freeCount && r.err == nil; i++ {
		f.freed.ReplaceOrInsert(f.check(&r, r.next()))
	}
	groups := r.next()
	for i := uint64(0); i < groups && r.err == nil; i++ {
		gen := r.next()
		count := r.next()
		for j := uint64(0); j < count && r.err == nil; j++ {
			f.pending[gen] = append(f.pending[gen], f.check(&r, r.next()))
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return f, nil
}

// check rejects ids a well formed free list cannot hold.
func (f *Freelist) check(r *reader, id uint64) base.PageID {
	if r.err == nil && (id < uint64(base.FirstDataPage) || id >= uint64(f.next)) {
		r.err = errors.Wrapf(base.ErrCorruption, "free list holds page %d outside [%d, %d)",
			id, base.FirstDataPage, f.next)
	}
	return base.PageID(id)
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) next() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.buf) {
		r.err = errors.Wrap(base.ErrCorruption, "truncated free list")
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}
