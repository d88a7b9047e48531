package generation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidity(t *testing.T) {
	t.Parallel()

	// Generations 4 and 5 crashed.
	g := Generations{Stable: 3, Unstable: 6}

	tests := []struct {
		name  string
		gen   uint64
		valid bool
		crash bool
	}{
		{"unset", 0, false, false},
		{"old stable", 1, true, false},
		{"stable", 3, true, false},
		{"crashed", 4, false, true},
		{"crashed last", 5, false, true},
		{"unstable", 6, true, false},
		{"future", 7, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, g.Valid(tt.gen))
			assert.Equal(t, tt.crash, g.Crash(tt.gen))
		})
	}
}

func TestStale(t *testing.T) {
	t.Parallel()

	g := Generations{Stable: 1, Unstable: 2}
	assert.True(t, g.Stale(1))
	assert.False(t, g.Stale(2))
}

func TestAdvance(t *testing.T) {
	t.Parallel()

	m := NewManager(1, 2)
	assert.Equal(t, Generations{Stable: 2, Unstable: 3}, m.Next())
	assert.Equal(t, Generations{Stable: 1, Unstable: 2}, m.Load(), "Next must not publish")

	got := m.Advance()
	assert.Equal(t, Generations{Stable: 2, Unstable: 3}, got)
	assert.Equal(t, got, m.Load())
}

func TestConcurrentLoadSeesConsistentPair(t *testing.T) {
	t.Parallel()

	m := NewManager(1, 2)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				g := m.Load()
				if g.Unstable != g.Stable+1 {
					t.Errorf("torn generations %s", g)
					return
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		m.Advance()
	}
	close(stop)
	wg.Wait()
}
