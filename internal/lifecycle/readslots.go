// Package lifecycle tracks which generations active readers started in, so
// pages are only reused once no reader can still be traversing them.
package lifecycle

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/alexhholmes/gbptree/internal/base"
)

// ReaderSlots bounds the number of concurrent readers. Slot i holds the
// generation its reader registered in, or 0 when free.
type ReaderSlots struct {
	slots  []atomic.Uint64 // Fixed-size array of generations (0 = empty slot)
	active atomic.Int32    // Count of active readers
	minGen atomic.Uint64   // Cached minimum generation (MaxUint64 when no readers)
	mu     sync.Mutex      // Serializes updates of minGen
}

func NewReaderSlots(maxReaders int) *ReaderSlots {
	rs := &ReaderSlots{
		slots: make([]atomic.Uint64, maxReaders),
	}
	rs.minGen.Store(math.MaxUint64)
	return rs
}

// Register finds an empty slot and atomically assigns it to a reader of
// generation gen. Returns an unregister function to free the slot when done.
func (rs *ReaderSlots) Register(gen uint64) (func(), error) {
	for i := range rs.slots {
		if rs.slots[i].CompareAndSwap(0, gen) {
			rs.active.Add(1)

			rs.mu.Lock()
			if gen < rs.minGen.Load() {
				rs.minGen.Store(gen)
			}
			rs.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					rs.unregister(i)
				})
			}, nil
		}
	}
	return nil, base.ErrTooManyReaders
}

// unregister atomically clears the slot and recomputes the cached minimum
// when the departing reader held it.
func (rs *ReaderSlots) unregister(slot int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	gen := rs.slots[slot].Swap(0)
	rs.active.Add(-1)
	if gen != rs.minGen.Load() {
		return
	}

	minGen := uint64(math.MaxUint64)
	for i := range rs.slots {
		if g := rs.slots[i].Load(); g != 0 && g < minGen {
			minGen = g
		}
	}
	rs.minGen.Store(minGen)
}

// MinGeneration returns the oldest generation any active reader started in,
// or MaxUint64 without readers.
func (rs *ReaderSlots) MinGeneration() uint64 {
	if rs.active.Load() == 0 {
		return math.MaxUint64 // Fast path: no readers
	}
	return rs.minGen.Load()
}

// Active returns the number of registered readers.
func (rs *ReaderSlots) Active() int {
	return int(rs.active.Load())
}
