package cache

import (
	"sync"

	"github.com/alexhholmes/gbptree/internal/base"
)

// Frame is a cached page. Its bytes may only be touched with the latch held:
// readers take it shared, the writer exclusively.
type Frame struct {
	id    base.PageID
	latch sync.RWMutex
	data  []byte

	// guarded by Cache.mu
	pins  int
	dirty bool

	loaded  chan struct{}
	loadErr error
}

func (f *Frame) ID() base.PageID {
	return f.id
}

// Data returns the page bytes. Only valid while a latch is held.
func (f *Frame) Data() []byte {
	return f.data
}

func (f *Frame) RLock()   { f.latch.RLock() }
func (f *Frame) RUnlock() { f.latch.RUnlock() }
func (f *Frame) Lock()    { f.latch.Lock() }
func (f *Frame) Unlock()  { f.latch.Unlock() }

// Read runs fn under the shared latch.
func (f *Frame) Read(fn func(data []byte) error) error {
	f.latch.RLock()
	defer f.latch.RUnlock()
	return fn(f.data)
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
