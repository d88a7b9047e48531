package gbptree

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveKeepsTreeConsistent(t *testing.T) {
	t.Parallel()

	const count = 2000
	tests := []struct {
		name       string
		order      func(keys []int64)
		checkpoint bool // checkpoint between batches so removals copy stable pages
	}{
		{"ascending", func([]int64) {}, false},
		{"descending", slices.Reverse[[]int64], false},
		{"random", func(keys []int64) {
			rand.New(rand.NewSource(3)).Shuffle(len(keys), func(i, j int) {
				keys[i], keys[j] = keys[j], keys[i]
			})
		}, false},
		{"random with checkpoints", func(keys []int64) {
			rand.New(rand.NewSource(4)).Shuffle(len(keys), func(i, j int) {
				keys[i], keys[j] = keys[j], keys[i]
			})
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr, _ := newInt64Tree(t)
			insert(t, tr, sequence(0, count)...)
			height := tr.Stats().Height

			order := sequence(0, count)
			tt.order(order)
			removed := make(map[int64]bool, count)
			for len(order) > 0 {
				batch := order[:min(len(order), 150)]
				order = order[len(batch):]
				remove(t, tr, batch...)
				for _, k := range batch {
					removed[k] = true
				}

				require.NoError(t, tr.ConsistencyCheck())
				var want []int64
				for k := int64(0); k < count; k++ {
					if !removed[k] {
						want = append(want, k)
					}
				}
				require.Equal(t, want, scan(t, tr))

				if tt.checkpoint {
					_, err := tr.Checkpoint(t.Context())
					require.NoError(t, err)
				}
			}

			assert.LessOrEqual(t, tr.Stats().Height, height)

			w, err := tr.Writer()
			require.NoError(t, err)
			_, ok, err := w.Remove(1)
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, w.Close())
		})
	}
}

func TestRemoveShrinksTree(t *testing.T) {
	t.Parallel()

	tr, _ := newInt64Tree(t)
	insert(t, tr, sequence(0, 500)...)
	require.Greater(t, tr.Stats().Height, 1)

	remove(t, tr, sequence(1, 500)...)
	assert.Equal(t, 1, tr.Stats().Height, "root collapses into the last leaf")
	assert.Equal(t, []int64{0}, scan(t, tr))
	require.NoError(t, tr.ConsistencyCheck())

	// Freed pages are reused once a checkpoint releases them
	_, err := tr.Checkpoint(t.Context())
	require.NoError(t, err)
	assert.Positive(t, tr.Stats().FreePages)
}

func TestInterleavedInsertRemove(t *testing.T) {
	t.Parallel()

	tr, _ := newInt64Tree(t)
	rng := rand.New(rand.NewSource(9))
	present := map[int64]int{}

	w, err := tr.Writer()
	require.NoError(t, err)
	for i := 0; i < 5000; i++ {
		k := int64(rng.Intn(300))
		if rng.Intn(3) == 0 && present[k] > 0 {
			_, ok, err := w.Remove(k)
			require.NoError(t, err)
			require.True(t, ok)
			present[k]--
			continue
		}
		require.NoError(t, w.Insert(k, k*10))
		present[k]++
	}
	require.NoError(t, w.Close())
	require.NoError(t, tr.ConsistencyCheck())

	var want []int64
	for k := int64(0); k < 300; k++ {
		for i := 0; i < present[k]; i++ {
			want = append(want, k)
		}
	}
	assert.Equal(t, want, scan(t, tr))
}
