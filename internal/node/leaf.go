package node

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/gbptree/internal/base"
)

// Leaf element (8 bytes): data offset, key size, value size, reserved. The
// value bytes follow the key bytes at the data offset.

func leafElement(p []byte, i int) (off, keySize, valueSize int) {
	e := base.HeaderSize + i*base.LeafElementSize
	return int(binary.LittleEndian.Uint16(p[e:])),
		int(binary.LittleEndian.Uint16(p[e+2:])),
		int(binary.LittleEndian.Uint16(p[e+4:]))
}

func putLeafElement(p []byte, i, off, keySize, valueSize int) {
	e := base.HeaderSize + i*base.LeafElementSize
	binary.LittleEndian.PutUint16(p[e:], uint16(off))
	binary.LittleEndian.PutUint16(p[e+2:], uint16(keySize))
	binary.LittleEndian.PutUint16(p[e+4:], uint16(valueSize))
	binary.LittleEndian.PutUint16(p[e+6:], 0)
}

// ValueAt decodes the value in leaf slot i.
func (n *TreeNode[K, V]) ValueAt(p []byte, i int) V {
	off, ks, vs := leafElement(p, i)
	return n.layout.ReadValue(p[off+ks : off+ks+vs])
}

// EntryAt decodes leaf slot i.
func (n *TreeNode[K, V]) EntryAt(p []byte, i int) Entry[K, V] {
	off, ks, vs := leafElement(p, i)
	return Entry[K, V]{
		Key:   n.layout.ReadKey(p[off : off+ks]),
		Value: n.layout.ReadValue(p[off+ks : off+ks+vs]),
	}
}

// InsertKeyValueAt inserts (key, value) at slot pos of a leaf holding keyCount
// slots and stamps the page with gen. The caller has checked Overflow; an
// insert outside [0, keyCount] or into a full leaf is a contract violation.
func (n *TreeNode[K, V]) InsertKeyValueAt(p []byte, key K, value V, pos, keyCount int, gen uint64) {
	if pos < 0 || pos > keyCount {
		panic(errors.AssertionFailedf("leaf insert at %d outside [0, %d]", pos, keyCount))
	}
	switch n.Overflow(p, keyCount, key, value) {
	case OverflowYes:
		panic(errors.AssertionFailedf("leaf insert into full page (%d keys, %d used)", keyCount, UsedSpace(p)))
	case OverflowNoNeedDefrag:
		Defragment(p)
	}

	ks, vs := n.layout.KeySize(key), n.layout.ValueSize(value)
	off := allocOffset(p) - ks - vs
	n.layout.WriteKey(p[off:off+ks], key)
	n.layout.WriteValue(p[off+ks:off+ks+vs], value)

	start := base.HeaderSize + pos*base.LeafElementSize
	end := base.HeaderSize + keyCount*base.LeafElementSize
	copy(p[start+base.LeafElementSize:end+base.LeafElementSize], p[start:end])
	putLeafElement(p, pos, off, ks, vs)

	setKeyCount(p, keyCount+1)
	setAllocOffset(p, off)
	SetGeneration(p, gen)
}

// RemoveKeyValueAt drops leaf slot pos. Its data becomes dead space.
func RemoveKeyValueAt(p []byte, pos, keyCount int, gen uint64) {
	if pos < 0 || pos >= keyCount {
		panic(errors.AssertionFailedf("leaf remove at %d outside [0, %d)", pos, keyCount))
	}
	_, ks, vs := leafElement(p, pos)

	start := base.HeaderSize + pos*base.LeafElementSize
	end := base.HeaderSize + keyCount*base.LeafElementSize
	copy(p[start:], p[start+base.LeafElementSize:end])
	clear(p[end-base.LeafElementSize : end])

	keyCount--
	setKeyCount(p, keyCount)
	if keyCount == 0 {
		clear(p[allocOffset(p):])
		setAllocOffset(p, len(p))
		setDeadSpace(p, 0)
	} else {
		setDeadSpace(p, deadSpace(p)+ks+vs)
	}
	SetGeneration(p, gen)
}

// ReadLeaf decodes every slot of a leaf in order.
func (n *TreeNode[K, V]) ReadLeaf(p []byte) []Entry[K, V] {
	count := KeyCount(p)
	entries := make([]Entry[K, V], count)
	for i := range entries {
		entries[i] = n.EntryAt(p, i)
	}
	return entries
}

// WriteLeaf replaces the content of a leaf with entries, compacting the data
// area. The header's pointer slots are kept.
func (n *TreeNode[K, V]) WriteLeaf(p []byte, entries []Entry[K, V], gen uint64) {
	resetContent(p)
	for i, e := range entries {
		n.InsertKeyValueAt(p, e.Key, e.Value, i, i, gen)
	}
	SetGeneration(p, gen)
}

// LeafSize is the used space entries would take in one leaf.
func (n *TreeNode[K, V]) LeafSize(entries []Entry[K, V]) int {
	size := 0
	for _, e := range entries {
		size += n.LeafEntrySize(e.Key, e.Value)
	}
	return size
}

// SetValueAt overwrites the value of leaf slot pos in place. The new value
// must encode to the same size as the old one.
func (n *TreeNode[K, V]) SetValueAt(p []byte, pos int, value V, gen uint64) {
	off, ks, vs := leafElement(p, pos)
	if size := n.layout.ValueSize(value); size != vs {
		panic(errors.AssertionFailedf("value resize %d -> %d in place", vs, size))
	}
	n.layout.WriteValue(p[off+ks:off+ks+vs], value)
	SetGeneration(p, gen)
}

// ValueSizeAt is the encoded size of the value in leaf slot pos.
func ValueSizeAt(p []byte, pos int) int {
	_, _, vs := leafElement(p, pos)
	return vs
}
