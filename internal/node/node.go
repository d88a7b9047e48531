// Package node interprets page bytes as B+tree nodes.
//
// A page is either a leaf, holding (key, value) pairs, or an internal node,
// holding keys and one more child pointer than keys. The kind is decided once
// from the header tag and every accessor dispatches on it. Elements sit right
// after the header in key order; their key and value bytes are packed from
// the end of the page downward, so inserts only shift the small fixed size
// element array.
package node

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/gbptree/internal/base"
	"github.com/alexhholmes/gbptree/layout"
)

// Overflow is the result of a capacity check for one more entry.
type Overflow int

const (
	OverflowNo Overflow = iota
	OverflowYes
	// OverflowNoNeedDefrag means the entry fits once dead space left by
	// removals is compacted.
	OverflowNoNeedDefrag
)

func (o Overflow) String() string {
	switch o {
	case OverflowNo:
		return "no"
	case OverflowYes:
		return "yes"
	default:
		return "no-need-defrag"
	}
}

// Entry is one decoded leaf slot.
type Entry[K, V any] struct {
	Key   K
	Value V
}

// TreeNode is the codec for one layout and page size. It holds no page state
// and is safe for concurrent use.
type TreeNode[K, V any] struct {
	layout   layout.Layout[K, V]
	pageSize int
	capacity int
	maxEntry int
	minFill  int
}

// New creates a codec. pageSize must already be validated.
func New[K, V any](l layout.Layout[K, V], pageSize int) *TreeNode[K, V] {
	capacity := pageSize - base.HeaderSize
	return &TreeNode[K, V]{
		layout:   l,
		pageSize: pageSize,
		capacity: capacity,
		maxEntry: capacity / 4,
		minFill:  capacity / 4,
	}
}

// Layout returns the layout this codec encodes with.
func (n *TreeNode[K, V]) Layout() layout.Layout[K, V] {
	return n.layout
}

// PageSize returns the page size this codec was built for.
func (n *TreeNode[K, V]) PageSize() int {
	return n.pageSize
}

// Capacity is the number of bytes available to elements and data.
func (n *TreeNode[K, V]) Capacity() int {
	return n.capacity
}

// MaxEntrySize is the largest element plus data a single slot may take. Four
// of them always fit a page, which keeps both halves of any split non-empty.
func (n *TreeNode[K, V]) MaxEntrySize() int {
	return n.maxEntry
}

// LeafEntrySize is the space one (key, value) slot takes in a leaf.
func (n *TreeNode[K, V]) LeafEntrySize(key K, value V) int {
	return base.LeafElementSize + n.layout.KeySize(key) + n.layout.ValueSize(value)
}

// InternalEntrySize is the space one (key, child) slot takes in an internal
// node.
func (n *TreeNode[K, V]) InternalEntrySize(key K) int {
	return base.InternalElementSize + n.layout.KeySize(key)
}

// CheckFits reports ErrTooLarge when an entry can never be stored, either in
// a leaf or as a separator in an internal node.
func (n *TreeNode[K, V]) CheckFits(key K, value V) error {
	if size := n.LeafEntrySize(key, value); size > n.maxEntry {
		return errors.Wrapf(base.ErrTooLarge, "entry of %d bytes exceeds %d", size, n.maxEntry)
	}
	if size := n.InternalEntrySize(key); size > n.maxEntry {
		return errors.Wrapf(base.ErrTooLarge, "key of %d bytes exceeds %d", size, n.maxEntry)
	}
	return nil
}

// Header accessors

func Kind(p []byte) base.Kind {
	return base.PageKind(p)
}

func IsLeaf(p []byte) bool {
	return base.PageKind(p) == base.KindLeaf
}

func KeyCount(p []byte) int {
	return int(binary.LittleEndian.Uint16(p[base.OffKeyCount:]))
}

func setKeyCount(p []byte, count int) {
	binary.LittleEndian.PutUint16(p[base.OffKeyCount:], uint16(count))
}

func allocOffset(p []byte) int {
	return int(binary.LittleEndian.Uint16(p[base.OffAllocOffset:]))
}

func setAllocOffset(p []byte, off int) {
	binary.LittleEndian.PutUint16(p[base.OffAllocOffset:], uint16(off))
}

func deadSpace(p []byte) int {
	return int(binary.LittleEndian.Uint16(p[base.OffDeadSpace:]))
}

func setDeadSpace(p []byte, dead int) {
	binary.LittleEndian.PutUint16(p[base.OffDeadSpace:], uint16(dead))
}

func Generation(p []byte) uint64 {
	return base.Generation(p)
}

func SetGeneration(p []byte, gen uint64) {
	binary.LittleEndian.PutUint64(p[base.OffGeneration:], gen)
}

func Stamp(p []byte) uint64 {
	return binary.LittleEndian.Uint64(p[base.OffStamp:])
}

func SetStamp(p []byte, stamp uint64) {
	binary.LittleEndian.PutUint64(p[base.OffStamp:], stamp)
}

func elementSize(p []byte) int {
	if IsLeaf(p) {
		return base.LeafElementSize
	}
	return base.InternalElementSize
}

func elementOffset(p []byte, i int) int {
	return base.HeaderSize + i*elementSize(p)
}

func initialize(p []byte, kind base.Kind, gen uint64) {
	clear(p)
	p[base.OffKind] = byte(kind)
	p[base.OffVersion] = base.FormatVersion
	SetGeneration(p, gen)
	setAllocOffset(p, len(p))
}

// InitializeLeaf formats p as an empty leaf written at gen.
func InitializeLeaf(p []byte, gen uint64) {
	initialize(p, base.KindLeaf, gen)
}

// InitializeInternal formats p as an internal node with no keys written at
// gen. Its only child is set with SetChildAt(p, 0, id).
func InitializeInternal(p []byte, gen uint64) {
	initialize(p, base.KindInternal, gen)
}

// resetContent drops every slot but keeps kind, generation, stamp and the
// pointer slots in the header.
func resetContent(p []byte) {
	setKeyCount(p, 0)
	setAllocOffset(p, len(p))
	setDeadSpace(p, 0)
	binary.LittleEndian.PutUint64(p[base.OffFirstChild:], 0)
	clear(p[base.HeaderSize:])
}

// UsedSpace is the bytes taken by live elements and their data.
func UsedSpace(p []byte) int {
	count := KeyCount(p)
	return count*elementSize(p) + len(p) - allocOffset(p) - deadSpace(p)
}

// Underflow reports whether a non-root node is below the minimum fill and
// should be rebalanced with a sibling.
func (n *TreeNode[K, V]) Underflow(p []byte) bool {
	return UsedSpace(p) < n.minFill
}

// MinFill is the minimum used space of a non-root node.
func (n *TreeNode[K, V]) MinFill() int {
	return n.minFill
}

func overflow(p []byte, keyCount, need int) Overflow {
	free := allocOffset(p) - (base.HeaderSize + keyCount*elementSize(p))
	switch {
	case need <= free:
		return OverflowNo
	case need <= free+deadSpace(p):
		return OverflowNoNeedDefrag
	default:
		return OverflowYes
	}
}

// Overflow checks whether a leaf with keyCount slots can take one more
// (key, value) pair.
func (n *TreeNode[K, V]) Overflow(p []byte, keyCount int, key K, value V) Overflow {
	return overflow(p, keyCount, n.LeafEntrySize(key, value))
}

// InternalOverflow checks whether an internal node with keyCount keys can take
// one more key and child.
func (n *TreeNode[K, V]) InternalOverflow(p []byte, keyCount int, key K) Overflow {
	return overflow(p, keyCount, n.InternalEntrySize(key))
}

// Defragment repacks the data area so dead space becomes free space.
func Defragment(p []byte) {
	if deadSpace(p) == 0 {
		return
	}
	count := KeyCount(p)
	leaf := IsLeaf(p)
	scratch := make([]byte, len(p))
	copy(scratch, p)

	off := len(p)
	for i := 0; i < count; i++ {
		e := elementOffset(p, i)
		dataOff := int(binary.LittleEndian.Uint16(scratch[e:]))
		size := int(binary.LittleEndian.Uint16(scratch[e+2:]))
		if leaf {
			size += int(binary.LittleEndian.Uint16(scratch[e+4:]))
		}
		off -= size
		copy(p[off:], scratch[dataOff:dataOff+size])
		binary.LittleEndian.PutUint16(p[e:], uint16(off))
	}
	clear(p[base.HeaderSize+count*elementSize(p) : off])
	setAllocOffset(p, off)
	setDeadSpace(p, 0)
}

// KeyAt decodes the key in slot i of a leaf or internal node.
func (n *TreeNode[K, V]) KeyAt(p []byte, i int) K {
	e := elementOffset(p, i)
	off := int(binary.LittleEndian.Uint16(p[e:]))
	size := int(binary.LittleEndian.Uint16(p[e+2:]))
	return n.layout.ReadKey(p[off : off+size])
}

// Validate checks the header and every element against the page bounds. It
// runs once when a node page is loaded from the store.
func Validate(p []byte) error {
	kind := Kind(p)
	if kind != base.KindLeaf && kind != base.KindInternal {
		return errors.Wrapf(base.ErrCorruption, "page kind %d is not a node", kind)
	}
	if p[base.OffVersion] != base.FormatVersion {
		return errors.Wrapf(base.ErrInvalidVersion, "node version %d", p[base.OffVersion])
	}
	count := KeyCount(p)
	alloc := allocOffset(p)
	elemEnd := base.HeaderSize + count*elementSize(p)
	if elemEnd > alloc || alloc > len(p) {
		return errors.Wrapf(base.ErrCorruption, "%s with %d keys has elements ending at %d past data at %d",
			kind, count, elemEnd, alloc)
	}
	if deadSpace(p) > len(p)-alloc {
		return errors.Wrapf(base.ErrCorruption, "dead space %d exceeds data area", deadSpace(p))
	}
	for i := 0; i < count; i++ {
		e := elementOffset(p, i)
		off := int(binary.LittleEndian.Uint16(p[e:]))
		size := int(binary.LittleEndian.Uint16(p[e+2:]))
		if kind == base.KindLeaf {
			size += int(binary.LittleEndian.Uint16(p[e+4:]))
		}
		if off < alloc || off+size > len(p) {
			return errors.Wrapf(base.ErrCorruption, "%s slot %d data [%d, %d) outside [%d, %d)",
				kind, i, off, off+size, alloc, len(p))
		}
	}
	if kind == base.KindInternal && ChildAt(p, 0) == 0 {
		return errors.Wrapf(base.ErrCorruption, "internal node without first child")
	}
	return nil
}
