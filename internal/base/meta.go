package base

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// MetaMagic identifies a checkpoint record ("gbptree\x00").
const MetaMagic uint64 = 0x0065657274706267

// Meta page layout, after the shared header (kind, version and checksum are
// reused, the rest of the header is zero):
//
// ┌────────┬──────┬──────────────────────────────┐
// │ Offset │ Size │ Field                        │
// ├────────┼──────┼──────────────────────────────┤
// │ 120    │ 8    │ Magic                        │
// │ 128    │ 4    │ Page size                    │
// │ 132    │ 1    │ Clean shutdown flag          │
// │ 136    │ 8    │ Layout identifier            │
// │ 144    │ 8    │ Root page id                 │
// │ 152    │ 8    │ Stable generation            │
// │ 160    │ 8    │ Unstable generation          │
// │ 168    │ 8    │ Page count (high water mark) │
// │ 176    │ 8    │ Freelist first page          │
// │ 184    │ 8    │ Freelist page count          │
// │ 192    │ 8    │ Sequence                     │
// └────────┴──────┴──────────────────────────────┘
const (
	offMetaMagic         = HeaderSize
	offMetaPageSize      = HeaderSize + 8
	offMetaClean         = HeaderSize + 12
	offMetaLayout        = HeaderSize + 16
	offMetaRoot          = HeaderSize + 24
	offMetaStable        = HeaderSize + 32
	offMetaUnstable      = HeaderSize + 40
	offMetaNumPages      = HeaderSize + 48
	offMetaFreelist      = HeaderSize + 56
	offMetaFreelistPages = HeaderSize + 64
	offMetaSequence      = HeaderSize + 72
	metaSize             = HeaderSize + 80
)

// Meta is the checkpoint record. It is everything needed to reopen a tree: the
// root, the generation pair at checkpoint time, the allocator high water mark
// and where the free list was written.
type Meta struct {
	PageSize      uint32
	LayoutID      uint64
	Root          PageID
	Stable        uint64
	Unstable      uint64
	NumPages      uint64
	FreelistID    PageID
	FreelistPages uint64
	Sequence      uint64
	Clean         bool
}

// Slot returns which of the two meta pages this record is written to.
func (m *Meta) Slot() PageID {
	return PageID(m.Sequence % 2)
}

// Encode writes the record into a zeroed page buffer and seals it with a
// checksum.
func (m *Meta) Encode(page []byte) {
	clear(page)
	page[OffKind] = byte(KindMeta)
	page[OffVersion] = FormatVersion
	binary.LittleEndian.PutUint64(page[offMetaMagic:], MetaMagic)
	binary.LittleEndian.PutUint32(page[offMetaPageSize:], m.PageSize)
	if m.Clean {
		page[offMetaClean] = 1
	}
	binary.LittleEndian.PutUint64(page[offMetaLayout:], m.LayoutID)
	binary.LittleEndian.PutUint64(page[offMetaRoot:], uint64(m.Root))
	binary.LittleEndian.PutUint64(page[offMetaStable:], m.Stable)
	binary.LittleEndian.PutUint64(page[offMetaUnstable:], m.Unstable)
	binary.LittleEndian.PutUint64(page[offMetaNumPages:], m.NumPages)
	binary.LittleEndian.PutUint64(page[offMetaFreelist:], uint64(m.FreelistID))
	binary.LittleEndian.PutUint64(page[offMetaFreelistPages:], m.FreelistPages)
	binary.LittleEndian.PutUint64(page[offMetaSequence:], m.Sequence)
	SetChecksum(page)
}

// DecodeMeta parses and validates a meta page.
func DecodeMeta(page []byte) (Meta, error) {
	if len(page) < metaSize {
		return Meta{}, errors.Wrapf(ErrInvalidPageSize, "meta page of %d bytes", len(page))
	}
	if binary.LittleEndian.Uint64(page[offMetaMagic:]) != MetaMagic {
		return Meta{}, ErrInvalidMagic
	}
	if PageKind(page) != KindMeta || page[OffVersion] != FormatVersion {
		return Meta{}, ErrInvalidVersion
	}
	if !VerifyChecksum(page) {
		return Meta{}, ErrInvalidChecksum
	}
	m := Meta{
		PageSize:      binary.LittleEndian.Uint32(page[offMetaPageSize:]),
		Clean:         page[offMetaClean] == 1,
		LayoutID:      binary.LittleEndian.Uint64(page[offMetaLayout:]),
		Root:          PageID(binary.LittleEndian.Uint64(page[offMetaRoot:])),
		Stable:        binary.LittleEndian.Uint64(page[offMetaStable:]),
		Unstable:      binary.LittleEndian.Uint64(page[offMetaUnstable:]),
		NumPages:      binary.LittleEndian.Uint64(page[offMetaNumPages:]),
		FreelistID:    PageID(binary.LittleEndian.Uint64(page[offMetaFreelist:])),
		FreelistPages: binary.LittleEndian.Uint64(page[offMetaFreelistPages:]),
		Sequence:      binary.LittleEndian.Uint64(page[offMetaSequence:]),
	}
	return m, m.Validate()
}

// MetaPageSize returns the page size recorded in a meta page without
// verifying the rest of it. It only needs the first MinPageSize bytes, which
// lets a file be reopened before its page size is known.
func MetaPageSize(header []byte) (int, bool) {
	if len(header) < metaSize || binary.LittleEndian.Uint64(header[offMetaMagic:]) != MetaMagic {
		return 0, false
	}
	return int(binary.LittleEndian.Uint32(header[offMetaPageSize:])), true
}

// Validate checks the record's internal consistency.
func (m *Meta) Validate() error {
	if !ValidPageSize(int(m.PageSize)) {
		return errors.Wrapf(ErrInvalidPageSize, "meta page size %d", m.PageSize)
	}
	if m.Unstable <= m.Stable {
		return errors.Wrapf(ErrCorruption, "meta generations stable=%d unstable=%d", m.Stable, m.Unstable)
	}
	if m.Root < FirstDataPage || uint64(m.Root) >= m.NumPages {
		return errors.Wrapf(ErrCorruption, "meta root %d outside [%d, %d)", m.Root, FirstDataPage, m.NumPages)
	}
	if m.FreelistPages > 0 && uint64(m.FreelistID)+m.FreelistPages > m.NumPages {
		return errors.Wrapf(ErrCorruption, "meta freelist %d+%d beyond %d pages", m.FreelistID, m.FreelistPages, m.NumPages)
	}
	return nil
}
