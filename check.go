package gbptree

import (
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/gbptree/internal/base"
	"github.com/alexhholmes/gbptree/internal/generation"
	"github.com/alexhholmes/gbptree/internal/node"
)

// ConsistencyCheck walks every page reachable from the root and returns an
// ErrCorruption for the first structural fault it finds: leaves at different
// depths, keys out of order or outside their separators, a broken sibling
// chain, a reachable page with a successor or written after the unstable
// generation. It waits for the writer.
func (t *Tree[K, V]) ConsistencyCheck() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}

	c := &checker[K, V]{t: t, gens: t.gens.Load(), leafDepth: -1}
	if err := c.visit(base.PageID(t.root.Load()), 0, nil, nil); err != nil {
		return err
	}
	if c.leafDepth+1 != int(t.height.Load()) {
		return errors.Wrapf(base.ErrCorruption, "leaves at depth %d, tree height %d", c.leafDepth, t.height.Load())
	}
	return c.checkChain()
}

type leafLinks struct {
	id, left, right base.PageID
}

type checker[K, V any] struct {
	t         *Tree[K, V]
	gens      generation.Generations
	leafDepth int
	leaves    []leafLinks
}

func (c *checker[K, V]) visit(id base.PageID, depth int, lo, hi *K) error {
	nodes := c.t.nodes
	cmp := c.t.layout.Compare

	p := make([]byte, c.t.store.PageSize())
	if err := c.t.readPage(id, p); err != nil {
		return err
	}
	if gen := node.Generation(p); gen > c.gens.Unstable {
		return errors.Wrapf(base.ErrCorruption, "page %d has generation %d past unstable %d", id, gen, c.gens.Unstable)
	}
	if succ, ok := node.Successor(p, c.gens); ok {
		return errors.Wrapf(base.ErrCorruption, "reachable page %d has successor %d", id, succ)
	}

	count := node.KeyCount(p)
	for i := 0; i < count; i++ {
		k := nodes.KeyAt(p, i)
		if i > 0 && cmp(nodes.KeyAt(p, i-1), k) > 0 {
			return errors.Wrapf(base.ErrCorruption, "page %d: key %d out of order", id, i)
		}
		if (lo != nil && cmp(k, *lo) < 0) || (hi != nil && cmp(k, *hi) > 0) {
			return errors.Wrapf(base.ErrCorruption, "page %d: key %d outside its separators", id, i)
		}
	}

	if node.IsLeaf(p) {
		if c.leafDepth < 0 {
			c.leafDepth = depth
		} else if depth != c.leafDepth {
			return errors.Wrapf(base.ErrCorruption, "leaf %d at depth %d, others at %d", id, depth, c.leafDepth)
		}
		c.leaves = append(c.leaves, leafLinks{
			id:    id,
			left:  node.LeftSibling(p, c.gens),
			right: node.RightSibling(p, c.gens),
		})
		return nil
	}

	keys, children := nodes.ReadInternal(p)
	for i, child := range children {
		clo, chi := lo, hi
		if i > 0 {
			clo = &keys[i-1]
		}
		if i < len(keys) {
			chi = &keys[i]
		}
		if err := c.visit(child, depth+1, clo, chi); err != nil {
			return err
		}
	}
	return nil
}

// checkChain compares the sibling pointers with the leaf order of the walk.
func (c *checker[K, V]) checkChain() error {
	for i, l := range c.leaves {
		var left, right base.PageID
		if i > 0 {
			left = c.leaves[i-1].id
		}
		if i < len(c.leaves)-1 {
			right = c.leaves[i+1].id
		}
		if l.left != left || l.right != right {
			return errors.Wrapf(base.ErrCorruption, "leaf %d links %d<->%d, expected %d<->%d",
				l.id, l.left, l.right, left, right)
		}
	}
	return nil
}
