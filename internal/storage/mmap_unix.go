//go:build linux || darwin

package storage

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/alexhholmes/gbptree/internal/base"
)

// mmapGrowth is the granularity the mapping and file grow by.
const mmapGrowth = 64 << 20

// MMap implements Store using memory-mapped I/O
type MMap struct {
	mu       sync.RWMutex
	file     *os.File
	data     []byte
	pageSize int
	empty    bool
	counters
}

var _ Store = (*MMap)(nil)

// NewMMap creates a new memory-mapped storage backend
func NewMMap(path string, pageSize int) (*MMap, error) {
	if !base.ValidPageSize(pageSize) {
		return nil, errors.Wrapf(base.ErrInvalidPageSize, "%d", pageSize)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	m := &MMap{file: file, pageSize: pageSize}
	size := info.Size()
	if size == 0 {
		m.empty = true
		size = mmapGrowth
		if err := file.Truncate(size); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	if err := m.remap(size); err != nil {
		_ = file.Close()
		return nil, err
	}
	return m, nil
}

func (m *MMap) remap(size int64) error {
	if m.data != nil {
		// Start async flush to reduce munmap blocking time
		_ = unix.Msync(m.data, unix.MS_ASYNC)
		if err := unix.Munmap(m.data); err != nil {
			return errors.Wrap(err, "munmap")
		}
		m.data = nil
	}
	data, err := unix.Mmap(int(m.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrapf(err, "mmap %d bytes", size)
	}
	m.data = data
	return nil
}

func (m *MMap) PageSize() int {
	return m.pageSize
}

// ReadPage copies a page out of the mapping so remaps never invalidate the
// caller's buffer.
func (m *MMap) ReadPage(id base.PageID, buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return base.ErrStoreClosed
	}

	offset := int64(id) * int64(m.pageSize)
	if offset+int64(m.pageSize) > int64(len(m.data)) {
		clear(buf[:m.pageSize])
	} else {
		copy(buf[:m.pageSize], m.data[offset:])
	}
	m.readDone(m.pageSize)
	return nil
}

func (m *MMap) WritePage(id base.PageID, buf []byte) error {
	return m.WritePages(id, buf[:m.pageSize])
}

// WritePages writes a contiguous range of pages to the memory-mapped region,
// growing the file first when the range ends past it.
func (m *MMap) WritePages(first base.PageID, buf []byte) error {
	if len(buf)%m.pageSize != 0 {
		return errors.Wrapf(base.ErrUnalignedTransfer, "%d bytes", len(buf))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return base.ErrStoreClosed
	}

	offset := int64(first) * int64(m.pageSize)
	end := offset + int64(len(buf))
	if end > int64(len(m.data)) {
		newSize := ((end + mmapGrowth - 1) / mmapGrowth) * mmapGrowth
		if err := m.file.Truncate(newSize); err != nil {
			return errors.Wrapf(err, "grow to %d bytes", newSize)
		}
		if err := m.remap(newSize); err != nil {
			return err
		}
	}

	copy(m.data[offset:], buf)
	m.writeDone(len(buf))
	return nil
}

// Sync flushes the memory-mapped region to disk
func (m *MMap) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return base.ErrStoreClosed
	}
	m.syncs.Add(1)
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return errors.Wrap(err, "msync")
	}
	return m.file.Sync()
}

// Empty returns whether the file was created by this store.
func (m *MMap) Empty() (bool, error) {
	return m.empty, nil
}

func (m *MMap) Stats() Stats {
	return m.stats()
}

// Close unmaps the region and closes the file
func (m *MMap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return errors.Wrap(err, "munmap")
		}
		m.data = nil
	}
	return m.file.Close()
}
