package storage

import (
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/gbptree/internal/base"
	"github.com/alexhholmes/gbptree/internal/directio"
)

// File implements page storage on a regular file, optionally with direct
// I/O through aligned buffers.
type File struct {
	file     *os.File
	pageSize int
	direct   bool
	bufPool  sync.Pool
	counters
}

var _ Store = (*File)(nil)

// NewFile opens or creates a page file. With direct set the file bypasses the
// OS page cache, which needs pages of at least directio.BlockSize bytes.
func NewFile(path string, pageSize int, direct bool) (*File, error) {
	if !base.ValidPageSize(pageSize) {
		return nil, errors.Wrapf(base.ErrInvalidPageSize, "%d", pageSize)
	}
	if direct && pageSize < directio.BlockSize {
		return nil, errors.Wrapf(base.ErrInvalidPageSize,
			"direct I/O needs pages of at least %d bytes, got %d", directio.BlockSize, pageSize)
	}

	var (
		file *os.File
		err  error
	)
	if direct {
		file, err = directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	} else {
		file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	return &File{
		file:     file,
		pageSize: pageSize,
		direct:   direct,
		bufPool: sync.Pool{
			New: func() any {
				return directio.AlignedBlock(pageSize)
			},
		},
	}, nil
}

func (s *File) PageSize() int {
	return s.pageSize
}

// ReadPage reads one page into buf. A page past the end of the file reads as
// zeroes.
func (s *File) ReadPage(id base.PageID, buf []byte) error {
	buf = buf[:s.pageSize]
	dst := buf
	if s.direct && !directio.IsAligned(buf) {
		dst = s.bufPool.Get().([]byte)
		defer s.bufPool.Put(dst)
	}

	n, err := s.file.ReadAt(dst, int64(id)*int64(s.pageSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrapf(err, "read page %d", id)
	}
	clear(dst[n:])
	if &dst[0] != &buf[0] {
		copy(buf, dst)
	}
	s.readDone(n)
	return nil
}

func (s *File) WritePage(id base.PageID, buf []byte) error {
	return s.WritePages(id, buf[:s.pageSize])
}

// WritePages writes multiple contiguous pages at once
func (s *File) WritePages(first base.PageID, data []byte) error {
	if len(data)%s.pageSize != 0 {
		return errors.Wrapf(base.ErrUnalignedTransfer, "%d bytes", len(data))
	}

	if s.direct && !directio.IsAligned(data) {
		aligned := directio.AlignedBlock(len(data))
		copy(aligned, data)
		data = aligned
	}

	n, err := s.file.WriteAt(data, int64(first)*int64(s.pageSize))
	s.writeDone(n)
	if err != nil {
		return errors.Wrapf(err, "write pages %d+%d", first, len(data)/s.pageSize)
	}
	if n != len(data) {
		return errors.Wrapf(base.ErrShortTransfer, "wrote %d of %d bytes", n, len(data))
	}
	return nil
}

// Sync flushes buffered writes to disk
func (s *File) Sync() error {
	s.syncs.Add(1)
	return s.file.Sync()
}

// Empty returns whether the file is empty
func (s *File) Empty() (bool, error) {
	info, err := s.file.Stat()
	if err != nil {
		return false, err
	}
	return info.Size() == 0, nil
}

func (s *File) Stats() Stats {
	return s.stats()
}

// Close closes the file
func (s *File) Close() error {
	return s.file.Close()
}
