package storage

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/gbptree/internal/base"
)

const testPageSize = 4096

func stores(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	return map[string]func() Store{
		"memory": func() Store {
			s, err := NewMemory(testPageSize)
			require.NoError(t, err)
			return s
		},
		"file": func() Store {
			s, err := NewFile(filepath.Join(dir, "file.db"), testPageSize, false)
			require.NoError(t, err)
			return s
		},
		"mmap": func() Store {
			s, err := NewMMap(filepath.Join(dir, "mmap.db"), testPageSize)
			require.NoError(t, err)
			return s
		},
	}
}

func filled(b byte, pages int) []byte {
	return bytes.Repeat([]byte{b}, pages*testPageSize)
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			empty, err := s.Empty()
			require.NoError(t, err)
			assert.True(t, empty)

			require.NoError(t, s.WritePage(3, filled(0xAA, 1)))
			require.NoError(t, s.WritePages(5, append(filled(0x01, 1), filled(0x02, 1)...)))
			require.NoError(t, s.Sync())

			buf := make([]byte, testPageSize)
			require.NoError(t, s.ReadPage(3, buf))
			assert.Equal(t, filled(0xAA, 1), buf)
			require.NoError(t, s.ReadPage(6, buf))
			assert.Equal(t, filled(0x02, 1), buf)

			// Never written pages read as zeroes, inside and past the end.
			require.NoError(t, s.ReadPage(4, buf))
			assert.Equal(t, make([]byte, testPageSize), buf)
			require.NoError(t, s.ReadPage(1<<20, buf))
			assert.Equal(t, make([]byte, testPageSize), buf)

			stats := s.Stats()
			assert.Equal(t, uint64(2), stats.Writes)
			assert.Equal(t, uint64(3*testPageSize), stats.Written)
			assert.Equal(t, uint64(1), stats.Syncs)
		})
	}
}

func TestStoreRejectsPartialPages(t *testing.T) {
	t.Parallel()

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			err := s.WritePages(2, make([]byte, testPageSize+1))
			assert.True(t, errors.Is(err, base.ErrUnalignedTransfer))
		})
	}
}

func TestInvalidPageSize(t *testing.T) {
	t.Parallel()

	_, err := NewMemory(1000)
	assert.True(t, errors.Is(err, base.ErrInvalidPageSize))

	_, err = NewFile(filepath.Join(t.TempDir(), "x.db"), 512, true)
	assert.True(t, errors.Is(err, base.ErrInvalidPageSize), "direct I/O needs full blocks")
}

func TestFileReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := NewFile(path, testPageSize, false)
	require.NoError(t, err)
	require.NoError(t, s.WritePage(2, filled(0x7F, 1)))
	require.NoError(t, s.Close())

	s, err = NewFile(path, testPageSize, false)
	require.NoError(t, err)
	defer s.Close()

	empty, err := s.Empty()
	require.NoError(t, err)
	assert.False(t, empty)

	buf := make([]byte, testPageSize)
	require.NoError(t, s.ReadPage(2, buf))
	assert.Equal(t, filled(0x7F, 1), buf)
}

func TestMMapGrows(t *testing.T) {
	t.Parallel()

	s, err := NewMMap(filepath.Join(t.TempDir(), "grow.db"), testPageSize)
	require.NoError(t, err)
	defer s.Close()

	far := base.PageID(mmapGrowth/testPageSize + 10)
	require.NoError(t, s.WritePage(far, filled(0x33, 1)))

	buf := make([]byte, testPageSize)
	require.NoError(t, s.ReadPage(far, buf))
	assert.Equal(t, filled(0x33, 1), buf)
}

func TestMemorySnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	s, err := NewMemory(testPageSize)
	require.NoError(t, err)
	require.NoError(t, s.WritePage(2, filled(0x01, 1)))

	snap := s.Snapshot()
	require.NoError(t, s.WritePage(2, filled(0x02, 1)))

	buf := make([]byte, testPageSize)
	require.NoError(t, snap.ReadPage(2, buf))
	assert.Equal(t, filled(0x01, 1), buf)

	require.NoError(t, s.Close())
	assert.True(t, errors.Is(s.ReadPage(2, buf), base.ErrStoreClosed))

	reopened := s.Reopen()
	require.NoError(t, reopened.ReadPage(2, buf))
	assert.Equal(t, filled(0x02, 1), buf)
}
