package gbptree

import (
	"flag"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/gbptree/internal/base"
	"github.com/alexhholmes/gbptree/layout"
)

var _ = flag.Bool("slow", false, "run slow tests")

var errInjected = errors.New("injected failure")

// faultyStore fails every write while failWrites is set and every sync while
// failSync is. With limitReads set, reads fail once readsLeft is used up.
type faultyStore struct {
	Store
	failWrites atomic.Bool
	failSync   atomic.Bool
	limitReads atomic.Bool
	readsLeft  atomic.Int64
}

// failReadsAfter lets n more reads through and fails the rest.
func (s *faultyStore) failReadsAfter(n int) {
	s.readsLeft.Store(int64(n))
	s.limitReads.Store(true)
}

func (s *faultyStore) ReadPage(id PageID, buf []byte) error {
	if s.limitReads.Load() && s.readsLeft.Add(-1) < 0 {
		return errInjected
	}
	return s.Store.ReadPage(id, buf)
}

func (s *faultyStore) Sync() error {
	if s.failSync.Load() {
		return errInjected
	}
	return s.Store.Sync()
}

func (s *faultyStore) WritePage(id PageID, buf []byte) error {
	if s.failWrites.Load() {
		return errInjected
	}
	return s.Store.WritePage(id, buf)
}

func (s *faultyStore) WritePages(first PageID, buf []byte) error {
	if s.failWrites.Load() {
		return errInjected
	}
	return s.Store.WritePages(first, buf)
}

func newStore(t *testing.T, pageSize int) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(pageSize)
	require.NoError(t, err)
	return store
}

// newInt64Tree opens an int64 tree on the smallest pages, so a few hundred
// entries already build a multi level tree.
func newInt64Tree(t *testing.T, options ...Option) (*Tree[int64, int64], *MemoryStore) {
	t.Helper()
	store := newStore(t, base.MinPageSize)
	return openInt64(t, store, options...), store
}

func openInt64(t *testing.T, store Store, options ...Option) *Tree[int64, int64] {
	t.Helper()
	tr, err := Open[int64, int64](store, layout.Int64{}, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func insert(t *testing.T, tr *Tree[int64, int64], keys ...int64) {
	t.Helper()
	w, err := tr.Writer()
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()
	for _, k := range keys {
		require.NoError(t, w.Insert(k, k*10))
	}
}

func remove(t *testing.T, tr *Tree[int64, int64], keys ...int64) {
	t.Helper()
	w, err := tr.Writer()
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()
	for _, k := range keys {
		v, ok, err := w.Remove(k)
		require.NoError(t, err)
		require.True(t, ok, "remove %d", k)
		require.Equal(t, k*10, v)
	}
}

// scan returns every key in order.
func scan(t *testing.T, tr *Tree[int64, int64]) []int64 {
	t.Helper()
	s, err := tr.SeekFrom(math.MinInt64)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	var keys []int64
	for s.Next() {
		keys = append(keys, s.Key())
	}
	require.NoError(t, s.Err())
	return keys
}

func sequence(lo, hi int64) []int64 {
	keys := make([]int64, 0, hi-lo)
	for k := lo; k < hi; k++ {
		keys = append(keys, k)
	}
	return keys
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (e logEntry) arg(key string) any {
	for i := 0; i+1 < len(e.args); i += 2 {
		if e.args[i] == key {
			return e.args[i+1]
		}
	}
	return nil
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }

func (l *recordingLogger) find(msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}
