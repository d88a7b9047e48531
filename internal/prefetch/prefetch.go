// Package prefetch warms the page cache with the leaves a forward scan is
// about to visit.
package prefetch

import (
	"sync"
	"sync/atomic"

	"github.com/alexhholmes/gbptree/internal/base"
)

const (
	minDistance = 2
	maxDistance = 8
)

// WarmFunc loads page id into the cache and returns its right sibling, or 0
// at the end of the chain.
type WarmFunc func(id base.PageID) (base.PageID, error)

// Prefetcher loads upcoming leaves in the background, one run at a time. The
// distance grows while the scan keeps moving right.
//
// The owner must call Wait before the pages a run may touch can be reused.
type Prefetcher struct {
	warm     WarmFunc
	distance int         // how many leaves ahead to load
	current  base.PageID // start of the last run
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New returns a prefetcher loading pages through warm.
func New(warm WarmFunc) *Prefetcher {
	return &Prefetcher{warm: warm, distance: minDistance}
}

// Trigger starts loading the chain from start on, unless a run is in flight
// or already started there.
func (p *Prefetcher) Trigger(start base.PageID) {
	if start == 0 || start == p.current {
		return
	}
	if !p.running.CompareAndSwap(false, true) {
		return
	}

	// Adaptive: sustained sequential access loads further ahead
	if p.current != 0 && p.distance < maxDistance {
		p.distance++
	}
	p.current = start
	distance := p.distance

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.running.Store(false)

		id := start
		for i := 0; i < distance && id != 0; i++ {
			next, err := p.warm(id)
			if err != nil {
				return
			}
			id = next
		}
	}()
}

// Reset clears the prefetcher state after the scan jumped.
func (p *Prefetcher) Reset() {
	p.distance = minDistance
	p.current = 0
}

// Wait blocks until the run in flight, if any, is done.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}
