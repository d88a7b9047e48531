package storage

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/gbptree/internal/base"
)

// Memory is a page store backed by a map. Pages are copied in and out, so it
// behaves like a device: nothing written is visible through the caller's
// buffers afterwards.
type Memory struct {
	mu       sync.RWMutex
	pageSize int
	pages    map[base.PageID][]byte
	closed   bool
	counters
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory(pageSize int) (*Memory, error) {
	if !base.ValidPageSize(pageSize) {
		return nil, errors.Wrapf(base.ErrInvalidPageSize, "%d", pageSize)
	}
	return &Memory{pageSize: pageSize, pages: make(map[base.PageID][]byte)}, nil
}

func (m *Memory) PageSize() int {
	return m.pageSize
}

func (m *Memory) ReadPage(id base.PageID, buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return base.ErrStoreClosed
	}
	if page, ok := m.pages[id]; ok {
		copy(buf, page)
	} else {
		clear(buf[:m.pageSize])
	}
	m.readDone(m.pageSize)
	return nil
}

func (m *Memory) WritePage(id base.PageID, buf []byte) error {
	return m.WritePages(id, buf[:m.pageSize])
}

func (m *Memory) WritePages(first base.PageID, buf []byte) error {
	if len(buf)%m.pageSize != 0 {
		return errors.Wrapf(base.ErrUnalignedTransfer, "%d bytes", len(buf))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return base.ErrStoreClosed
	}
	for i := 0; i < len(buf)/m.pageSize; i++ {
		id := first + base.PageID(i)
		page, ok := m.pages[id]
		if !ok {
			page = make([]byte, m.pageSize)
			m.pages[id] = page
		}
		copy(page, buf[i*m.pageSize:])
	}
	m.writeDone(len(buf))
	return nil
}

func (m *Memory) Sync() error {
	m.syncs.Add(1)
	return nil
}

func (m *Memory) Empty() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages) == 0, nil
}

func (m *Memory) Stats() Stats {
	return m.stats()
}

// Close marks the store closed. The pages stay readable through Reopen so
// tests can simulate a process restart over the same device.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reopen returns a new open store sharing this store's pages.
func (m *Memory) Reopen() *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Memory{pageSize: m.pageSize, pages: m.pages}
}

// Snapshot returns an open store holding a copy of every page written so far,
// the state a device would be left in if the process died now.
func (m *Memory) Snapshot() *Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pages := make(map[base.PageID][]byte, len(m.pages))
	for id, page := range m.pages {
		pages[id] = append([]byte(nil), page...)
	}
	return &Memory{pageSize: m.pageSize, pages: pages}
}
