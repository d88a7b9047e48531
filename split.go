package gbptree

import (
	"math"
	"slices"

	"github.com/alexhholmes/gbptree/internal/base"
	"github.com/alexhholmes/gbptree/internal/node"
)

// splitLeaf writes entries, which no longer fit one page, over the leaf at
// depth and a new right sibling, and adds the right sibling's first key to
// the parent as separator.
func (o *op[K, V]) splitLeaf(depth int, entries []node.Entry[K, V]) {
	nodes := o.t.nodes
	gen := o.gens.Unstable
	mid := leafSplitPoint(nodes, entries)

	lp := o.writableAt(depth)
	left := o.path[depth].frame
	right := o.newLeaf()
	rp := right.Data()

	nodes.WriteLeaf(lp, entries[:mid], gen)
	nodes.WriteLeaf(rp, entries[mid:], gen)

	if next := node.RightSibling(lp, o.gens); next != 0 {
		node.SetLeftSibling(o.write(o.frame(next)), right.ID(), o.gens)
		node.SetRightSibling(rp, next, o.gens)
	}
	node.SetLeftSibling(rp, left.ID(), o.gens)
	node.SetRightSibling(lp, right.ID(), o.gens)

	o.insertSeparator(depth-1, entries[mid].Key, right.ID())
}

// insertSeparator adds key with child as its right hand child to the node at
// depth, splitting it when full. Depth -1 grows the tree by a new root.
func (o *op[K, V]) insertSeparator(depth int, key K, child base.PageID) {
	nodes := o.t.nodes
	gen := o.gens.Unstable

	if depth < 0 {
		root := o.newInternal()
		p := root.Data()
		node.SetChildAt(p, 0, o.root)
		nodes.InsertKeyAndRightChildAt(p, key, child, 0, 0, gen)
		o.root = root.ID()
		o.height++
		return
	}

	p := o.writableAt(depth)
	pos := o.path[depth].pos
	count := node.KeyCount(p)
	if nodes.InternalOverflow(p, count, key) != node.OverflowYes {
		nodes.InsertKeyAndRightChildAt(p, key, child, pos, count, gen)
		return
	}

	keys, children := nodes.ReadInternal(p)
	keys = slices.Insert(keys, pos, key)
	children = slices.Insert(children, pos+1, child)
	mid := internalSplitPoint(nodes, keys)

	right := o.newInternal()
	nodes.WriteInternal(p, keys[:mid], children[:mid+1], gen)
	nodes.WriteInternal(right.Data(), keys[mid+1:], children[mid+1:], gen)
	o.insertSeparator(depth-1, keys[mid], right.ID())
}

// leafSplitPoint returns how many entries stay left so both halves take
// about the same number of bytes. Each half keeps at least one entry.
func leafSplitPoint[K, V any](nodes *node.TreeNode[K, V], entries []node.Entry[K, V]) int {
	sizes := make([]int, len(entries))
	for i, e := range entries {
		sizes[i] = nodes.LeafEntrySize(e.Key, e.Value)
	}
	return balance(sizes, 0)
}

// internalSplitPoint returns the index of the key pushed up when keys are
// split over two internal nodes.
func internalSplitPoint[K, V any](nodes *node.TreeNode[K, V], keys []K) int {
	sizes := make([]int, len(keys))
	for i, k := range keys {
		sizes[i] = nodes.InternalEntrySize(k)
	}
	return balance(sizes, 1)
}

// balance picks m in [1, len(sizes)-1-gap] minimising the difference between
// sizes[:m] and sizes[m+gap:]. gap is 1 when the entry at m moves to the
// parent.
func balance(sizes []int, gap int) int {
	total := 0
	for _, s := range sizes {
		total += s
	}
	best, bestDiff := 1, math.MaxInt
	left := 0
	for m := 1; m < len(sizes)-gap; m++ {
		left += sizes[m-1]
		right := total - left
		if gap > 0 {
			right -= sizes[m]
		}
		diff := left - right
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = m, diff
		}
	}
	return best
}
