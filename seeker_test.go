package gbptree

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s *Seeker[int64, int64]) []int64 {
	t.Helper()
	var keys []int64
	for s.Next() {
		keys = append(keys, s.Key())
		require.Equal(t, s.Key()*10, s.Value())
	}
	require.NoError(t, s.Err())
	return keys
}

func TestSeekRange(t *testing.T) {
	t.Parallel()

	tr, _ := newInt64Tree(t)
	insert(t, tr, sequence(0, 1000)...)

	tests := []struct {
		name     string
		from, to int64
		want     []int64
	}{
		{"inside", 100, 200, sequence(100, 200)},
		{"empty range", 500, 500, nil},
		{"inverted range", 600, 500, nil},
		{"before first", -10, 5, sequence(0, 5)},
		{"past last", 990, 2000, sequence(990, 1000)},
		{"beyond every key", 1000, 2000, nil},
		{"everything", math.MinInt64, math.MaxInt64, sequence(0, 1000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, err := tr.Seek(tt.from, tt.to)
			require.NoError(t, err)
			defer func() { require.NoError(t, s.Close()) }()
			assert.Equal(t, tt.want, collect(t, s))
			assert.False(t, s.Next(), "exhausted seeker stays exhausted")
		})
	}
}

func TestSeekFrom(t *testing.T) {
	t.Parallel()

	tr, _ := newInt64Tree(t)
	insert(t, tr, sequence(0, 300)...)

	s, err := tr.SeekFrom(250)
	require.NoError(t, err)
	assert.Equal(t, sequence(250, 300), collect(t, s))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrSeekerClosed)
	assert.False(t, s.Next())
}

func TestTooManyReaders(t *testing.T) {
	t.Parallel()

	tr, _ := newInt64Tree(t, WithMaxReaders(2))
	a, err := tr.Seek(0, 1)
	require.NoError(t, err)
	b, err := tr.Seek(0, 1)
	require.NoError(t, err)

	_, err = tr.Seek(0, 1)
	assert.ErrorIs(t, err, ErrTooManyReaders)
	assert.Equal(t, 2, tr.Stats().Readers)

	require.NoError(t, a.Close())
	c, err := tr.Seek(0, 1)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 0, tr.Stats().Readers)
}

// A seeker that is overtaken by the writer continues from the last key it
// returned and sees the tree as it is now.
func TestSeekerFollowsWriter(t *testing.T) {
	t.Parallel()

	tr, _ := newInt64Tree(t)
	insert(t, tr, sequence(0, 1000)...)

	s, err := tr.SeekFrom(0)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	var got []int64
	for len(got) < 10 && s.Next() {
		got = append(got, s.Key())
	}

	remove(t, tr, sequence(500, 1000)...)
	insert(t, tr, sequence(2000, 2010)...)
	_, err = tr.Checkpoint(t.Context())
	require.NoError(t, err)
	remove(t, tr, sequence(5, 10)...)

	got = append(got, collect(t, s)...)
	want := append(sequence(0, 500), sequence(2000, 2010)...)
	assert.Equal(t, want, got)
}

// Readers scanning during writes see every entry that exists throughout, in
// order and once.
func TestConcurrentSeekers(t *testing.T) {
	t.Parallel()

	const stable = 600
	tr, _ := newInt64Tree(t)
	keys := make([]int64, stable)
	for i := range keys {
		keys[i] = int64(i) * 2
	}
	insert(t, tr, keys...)

	var stop atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop.Store(true)
		for round := 0; round < 20; round++ {
			odd := make([]int64, 0, stable)
			for i := round % 3; i < stable; i += 3 {
				odd = append(odd, int64(i)*2+1)
			}
			w, err := tr.Writer()
			if !assert.NoError(t, err) {
				return
			}
			for _, k := range odd {
				assert.NoError(t, w.Insert(k, k*10))
			}
			for _, k := range odd {
				_, ok, err := w.Remove(k)
				assert.NoError(t, err)
				assert.True(t, ok)
			}
			assert.NoError(t, w.Close())
			if round%4 == 0 {
				_, err := tr.Checkpoint(t.Context())
				assert.NoError(t, err)
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				s, err := tr.SeekFrom(math.MinInt64)
				if !assert.NoError(t, err) {
					return
				}
				var evens []int64
				last := int64(math.MinInt64)
				for s.Next() {
					k := s.Key()
					assert.Greater(t, k, last, "keys ascend without repeats")
					assert.Equal(t, k*10, s.Value())
					last = k
					if k%2 == 0 {
						evens = append(evens, k)
					}
				}
				assert.NoError(t, s.Err())
				assert.NoError(t, s.Close())
				assert.Equal(t, keys, evens)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, tr.ConsistencyCheck())
}
