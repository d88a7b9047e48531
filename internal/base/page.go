package base

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	MinPageSize     = 512
	MaxPageSize     = 32768
	DefaultPageSize = 4096

	FormatVersion uint8 = 1
)

// PageID addresses a page in the store. Zero is never a tree page and doubles as
// the null pointer.
type PageID uint64

const (
	MetaPageA PageID = 0
	MetaPageB PageID = 1

	// FirstDataPage is the lowest id handed out by the allocator.
	FirstDataPage PageID = 2
)

// Kind tags what a page holds.
type Kind uint8

const (
	KindLeaf     Kind = 1
	KindInternal Kind = 2
	KindFreelist Kind = 3
	KindMeta     Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindInternal:
		return "internal"
	case KindFreelist:
		return "freelist"
	case KindMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// Page header (little endian, 120 bytes)
//
// ┌────────┬──────┬────────────────────────────────────────────────────┐
// │ Offset │ Size │ Field                                              │
// ├────────┼──────┼────────────────────────────────────────────────────┤
// │ 0      │ 1    │ Kind                                               │
// │ 1      │ 1    │ Format version                                     │
// │ 2      │ 2    │ Key count                                          │
// │ 4      │ 2    │ Alloc offset (start of the packed data area)       │
// │ 6      │ 2    │ Dead space inside the data area                    │
// │ 8      │ 8    │ Written generation                                 │
// │ 16     │ 8    │ Stamp (write sequence, checked by readers)         │
// │ 24     │ 16   │ Successor GSP (page id, generation)                │
// │ 40     │ 32   │ Right sibling GSPP                                 │
// │ 72     │ 32   │ Left sibling GSPP                                  │
// │ 104    │ 8    │ First child (internal nodes)                       │
// │ 112    │ 8    │ Checksum (xxhash64, this field zeroed)             │
// └────────┴──────┴────────────────────────────────────────────────────┘
//
// Leaf pages follow the header with 8 byte elements {offset, keySize,
// valueSize, reserved}, internal pages with 16 byte elements {offset, keySize,
// reserved, child}. Key and value bytes are packed from the end of the page
// towards the element array.
const (
	OffKind         = 0
	OffVersion      = 1
	OffKeyCount     = 2
	OffAllocOffset  = 4
	OffDeadSpace    = 6
	OffGeneration   = 8
	OffStamp        = 16
	OffSuccessor    = 24
	OffRightSibling = 40
	OffLeftSibling  = 72
	OffFirstChild   = 104
	OffChecksum     = 112
	HeaderSize      = 120

	GSPSize  = 16
	GSPPSize = 2 * GSPSize

	LeafElementSize     = 8
	InternalElementSize = 16
)

// ValidPageSize reports whether size is a power of two the page format can
// address with 16 bit offsets.
func ValidPageSize(size int) bool {
	return size >= MinPageSize && size <= MaxPageSize && size&(size-1) == 0
}

// PageKind reads the kind tag of a raw page.
func PageKind(page []byte) Kind {
	return Kind(page[OffKind])
}

// Generation reads the written generation of a raw page.
func Generation(page []byte) uint64 {
	return binary.LittleEndian.Uint64(page[OffGeneration:])
}

// Checksum hashes the page with the checksum field treated as zero.
func Checksum(page []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write(page[:OffChecksum])
	_, _ = d.Write(zeroSum[:])
	_, _ = d.Write(page[OffChecksum+8:])
	return d.Sum64()
}

var zeroSum [8]byte

// SetChecksum stamps the page checksum. Called on the copy handed to the store,
// never on a page readers can observe.
func SetChecksum(page []byte) {
	binary.LittleEndian.PutUint64(page[OffChecksum:], Checksum(page))
}

// VerifyChecksum checks a page loaded from the store.
func VerifyChecksum(page []byte) bool {
	return binary.LittleEndian.Uint64(page[OffChecksum:]) == Checksum(page)
}
