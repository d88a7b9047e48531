// Package generation tracks the stable and unstable generation pair that
// drives copy-on-write and pointer validity.
package generation

import (
	"fmt"
	"sync/atomic"
)

// Generations is an immutable snapshot of the pair.
//
// Stable is the generation of the last checkpoint. Unstable is the
// generation every page written since then is stamped with. Generations
// strictly between the two were in flight when the process crashed; pointers
// stamped with them were never made durable and read as absent.
type Generations struct {
	Stable   uint64
	Unstable uint64
}

// Valid reports whether a pointer written at gen may be followed.
func (g Generations) Valid(gen uint64) bool {
	return gen != 0 && (gen <= g.Stable || gen == g.Unstable)
}

// Crash reports whether gen belongs to a crashed, never checkpointed run.
func (g Generations) Crash(gen uint64) bool {
	return gen > g.Stable && gen < g.Unstable
}

// Stale reports whether a page written at gen must be copied before the
// writer may change it.
func (g Generations) Stale(gen uint64) bool {
	return gen != g.Unstable
}

func (g Generations) String() string {
	return fmt.Sprintf("stable=%d unstable=%d", g.Stable, g.Unstable)
}

// Manager publishes the current pair. Readers load it without locking; only
// the checkpoint path and open change it.
type Manager struct {
	current atomic.Pointer[Generations]
}

// NewManager starts at the given pair. unstable must be greater than stable.
func NewManager(stable, unstable uint64) *Manager {
	m := &Manager{}
	m.current.Store(&Generations{Stable: stable, Unstable: unstable})
	return m
}

// Load returns the current pair.
func (m *Manager) Load() Generations {
	return *m.current.Load()
}

// Next is the pair a successful checkpoint of the current state moves to.
func (m *Manager) Next() Generations {
	g := m.Load()
	return Generations{Stable: g.Unstable, Unstable: g.Unstable + 1}
}

// Advance makes the unstable generation stable and opens a new one.
func (m *Manager) Advance() Generations {
	next := m.Next()
	m.current.Store(&next)
	return next
}
