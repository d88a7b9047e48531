package node

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/gbptree/internal/base"
)

// Internal element (16 bytes): key offset, key size, reserved, and the child
// to the right of the key. Child 0 lives in the header.

func internalElement(p []byte, i int) int {
	return base.HeaderSize + i*base.InternalElementSize
}

// ChildAt returns child i of an internal node, i in [0, keyCount].
func ChildAt(p []byte, i int) base.PageID {
	if i == 0 {
		return base.PageID(binary.LittleEndian.Uint64(p[base.OffFirstChild:]))
	}
	return base.PageID(binary.LittleEndian.Uint64(p[internalElement(p, i-1)+8:]))
}

// SetChildAt rewrites child pointer i.
func SetChildAt(p []byte, i int, child base.PageID) {
	if i == 0 {
		binary.LittleEndian.PutUint64(p[base.OffFirstChild:], uint64(child))
		return
	}
	binary.LittleEndian.PutUint64(p[internalElement(p, i-1)+8:], uint64(child))
}

// InsertKeyAndRightChildAt inserts key at pos with child as its right hand
// child, so child becomes child pos+1. The caller has checked
// InternalOverflow.
func (n *TreeNode[K, V]) InsertKeyAndRightChildAt(p []byte, key K, child base.PageID, pos, keyCount int, gen uint64) {
	if pos < 0 || pos > keyCount {
		panic(errors.AssertionFailedf("internal insert at %d outside [0, %d]", pos, keyCount))
	}
	switch n.InternalOverflow(p, keyCount, key) {
	case OverflowYes:
		panic(errors.AssertionFailedf("internal insert into full page (%d keys, %d used)", keyCount, UsedSpace(p)))
	case OverflowNoNeedDefrag:
		Defragment(p)
	}

	ks := n.layout.KeySize(key)
	off := allocOffset(p) - ks
	n.layout.WriteKey(p[off:off+ks], key)

	start := internalElement(p, pos)
	end := internalElement(p, keyCount)
	copy(p[start+base.InternalElementSize:end+base.InternalElementSize], p[start:end])
	binary.LittleEndian.PutUint16(p[start:], uint16(off))
	binary.LittleEndian.PutUint16(p[start+2:], uint16(ks))
	binary.LittleEndian.PutUint32(p[start+4:], 0)
	binary.LittleEndian.PutUint64(p[start+8:], uint64(child))

	setKeyCount(p, keyCount+1)
	setAllocOffset(p, off)
	SetGeneration(p, gen)
}

// RemoveKeyAndRightChildAt drops key pos and child pos+1.
func RemoveKeyAndRightChildAt(p []byte, pos, keyCount int, gen uint64) {
	if pos < 0 || pos >= keyCount {
		panic(errors.AssertionFailedf("internal remove at %d outside [0, %d)", pos, keyCount))
	}
	start := internalElement(p, pos)
	end := internalElement(p, keyCount)
	ks := int(binary.LittleEndian.Uint16(p[start+2:]))
	copy(p[start:], p[start+base.InternalElementSize:end])
	clear(p[end-base.InternalElementSize : end])

	keyCount--
	setKeyCount(p, keyCount)
	if keyCount == 0 {
		clear(p[allocOffset(p):])
		setAllocOffset(p, len(p))
		setDeadSpace(p, 0)
	} else {
		setDeadSpace(p, deadSpace(p)+ks)
	}
	SetGeneration(p, gen)
}

// RemoveKeyAndLeftChildAt drops key pos and child pos.
func RemoveKeyAndLeftChildAt(p []byte, pos, keyCount int, gen uint64) {
	if pos < 0 || pos >= keyCount {
		panic(errors.AssertionFailedf("internal remove at %d outside [0, %d)", pos, keyCount))
	}
	SetChildAt(p, pos, ChildAt(p, pos+1))
	RemoveKeyAndRightChildAt(p, pos, keyCount, gen)
}

// ReadInternal decodes the keys and children of an internal node.
func (n *TreeNode[K, V]) ReadInternal(p []byte) ([]K, []base.PageID) {
	count := KeyCount(p)
	keys := make([]K, count)
	children := make([]base.PageID, count+1)
	children[0] = ChildAt(p, 0)
	for i := 0; i < count; i++ {
		keys[i] = n.KeyAt(p, i)
		children[i+1] = ChildAt(p, i+1)
	}
	return keys, children
}

// WriteInternal replaces the content of an internal node. len(children) must
// be len(keys)+1. The header's pointer slots are kept.
func (n *TreeNode[K, V]) WriteInternal(p []byte, keys []K, children []base.PageID, gen uint64) {
	if len(children) != len(keys)+1 {
		panic(errors.AssertionFailedf("internal rewrite with %d keys and %d children", len(keys), len(children)))
	}
	resetContent(p)
	SetChildAt(p, 0, children[0])
	for i, k := range keys {
		n.InsertKeyAndRightChildAt(p, k, children[i+1], i, i, gen)
	}
	SetGeneration(p, gen)
}

// InternalSize is the used space keys would take in one internal node.
func (n *TreeNode[K, V]) InternalSize(keys []K) int {
	size := 0
	for _, k := range keys {
		size += n.InternalEntrySize(k)
	}
	return size
}
