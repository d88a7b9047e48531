package gbptree

import (
	"github.com/alexhholmes/gbptree/internal/node"
)

// remove deletes the entry the path points at and restores the fill of the
// nodes above it.
func (o *op[K, V]) remove() V {
	nodes := o.t.nodes
	depth := len(o.path) - 1
	p := o.writableAt(depth)
	pos := o.path[depth].pos
	value := nodes.ValueAt(p, pos)
	node.RemoveKeyValueAt(p, pos, node.KeyCount(p), o.gens.Unstable)

	// A node with a single child cannot fix that child, so every level of
	// the path is visited.
	for ; depth > 0; depth-- {
		if nodes.Underflow(o.path[depth].frame.Data()) {
			o.fixUnderflow(depth)
		}
	}
	o.collapseRoot()
	return value
}

// fixUnderflow merges the node at depth with a sibling when both fit one
// page, else moves entries over from a sibling. The underflow stays when the
// node has no sibling or the parent cannot take the new separator a move
// needs.
func (o *op[K, V]) fixUnderflow(depth int) {
	parent := o.path[depth-1].frame.Data()
	pos := o.path[depth-1].pos
	count := node.KeyCount(parent)

	// Index of the left node of each sibling pair, left sibling first
	pairs := make([]int, 0, 2)
	if pos > 0 {
		pairs = append(pairs, pos-1)
	}
	if pos < count {
		pairs = append(pairs, pos)
	}

	for _, l := range pairs {
		if o.canMerge(depth, l) {
			o.merge(depth, l)
			return
		}
	}
	for _, l := range pairs {
		if o.redistribute(depth, l) {
			return
		}
	}
}

// siblings returns the pages of children l and l+1 of the node at depth-1.
func (o *op[K, V]) siblings(depth, l int) (left, right []byte) {
	parent := o.path[depth-1].frame.Data()
	return o.frame(node.ChildAt(parent, l)).Data(), o.frame(node.ChildAt(parent, l+1)).Data()
}

func (o *op[K, V]) canMerge(depth, l int) bool {
	nodes := o.t.nodes
	lp, rp := o.siblings(depth, l)
	size := node.UsedSpace(lp) + node.UsedSpace(rp)
	if !node.IsLeaf(lp) {
		size += nodes.InternalEntrySize(nodes.KeyAt(o.path[depth-1].frame.Data(), l))
	}
	return size <= nodes.Capacity()
}

// merge moves everything from child l+1 into child l and drops child l+1
// and its separator from the parent.
func (o *op[K, V]) merge(depth, l int) {
	nodes := o.t.nodes
	gen := o.gens.Unstable

	left := o.writableChild(depth-1, l)
	parent := o.path[depth-1].frame.Data()
	right := o.frame(node.ChildAt(parent, l+1))
	lp, rp := left.Data(), right.Data()

	if node.IsLeaf(lp) {
		nodes.WriteLeaf(lp, append(nodes.ReadLeaf(lp), nodes.ReadLeaf(rp)...), gen)
		next := node.RightSibling(rp, o.gens)
		node.SetRightSibling(lp, next, o.gens)
		if next != 0 {
			node.SetLeftSibling(o.write(o.frame(next)), left.ID(), o.gens)
		}
	} else {
		lk, lc := nodes.ReadInternal(lp)
		rk, rc := nodes.ReadInternal(rp)
		keys := append(append(lk, nodes.KeyAt(parent, l)), rk...)
		nodes.WriteInternal(lp, keys, append(lc, rc...), gen)
	}

	node.RemoveKeyAndRightChildAt(parent, l, node.KeyCount(parent), gen)
	o.free(right.ID())
}

// redistribute evens out the bytes of children l and l+1 and replaces their
// separator. It reports false, changing nothing, when the parent has no room
// for the new separator.
func (o *op[K, V]) redistribute(depth, l int) bool {
	nodes := o.t.nodes
	gen := o.gens.Unstable
	parent := o.path[depth-1].frame.Data()
	lp, rp := o.siblings(depth, l)
	old := nodes.KeyAt(parent, l)

	if node.IsLeaf(lp) {
		entries := append(nodes.ReadLeaf(lp), nodes.ReadLeaf(rp)...)
		mid := leafSplitPoint(nodes, entries)
		if !o.separatorFits(parent, old, entries[mid].Key) {
			return false
		}
		left := o.writableChild(depth-1, l)
		right := o.writableChild(depth-1, l+1)
		nodes.WriteLeaf(left.Data(), entries[:mid], gen)
		nodes.WriteLeaf(right.Data(), entries[mid:], gen)
		o.setSeparator(depth-1, l, entries[mid].Key)
		return true
	}

	lk, lc := nodes.ReadInternal(lp)
	rk, rc := nodes.ReadInternal(rp)
	keys := append(append(lk, old), rk...)
	children := append(lc, rc...)
	mid := internalSplitPoint(nodes, keys)
	if !o.separatorFits(parent, old, keys[mid]) {
		return false
	}
	left := o.writableChild(depth-1, l)
	right := o.writableChild(depth-1, l+1)
	nodes.WriteInternal(left.Data(), keys[:mid], children[:mid+1], gen)
	nodes.WriteInternal(right.Data(), keys[mid+1:], children[mid+1:], gen)
	o.setSeparator(depth-1, l, keys[mid])
	return true
}

func (o *op[K, V]) separatorFits(parent []byte, old, sep K) bool {
	nodes := o.t.nodes
	used := node.UsedSpace(parent) - nodes.InternalEntrySize(old) + nodes.InternalEntrySize(sep)
	return used <= nodes.Capacity()
}

func (o *op[K, V]) setSeparator(depth, i int, key K) {
	nodes := o.t.nodes
	p := o.writableAt(depth)
	keys, children := nodes.ReadInternal(p)
	keys[i] = key
	nodes.WriteInternal(p, keys, children, o.gens.Unstable)
}

// collapseRoot replaces an internal root left without keys by its only
// child, shrinking the tree.
func (o *op[K, V]) collapseRoot() {
	for {
		f, ok := o.pinned[o.root]
		if !ok {
			return
		}
		p := f.Data()
		if node.IsLeaf(p) || node.KeyCount(p) > 0 {
			return
		}
		o.free(o.root)
		o.root = node.ChildAt(p, 0)
		o.height--
	}
}
