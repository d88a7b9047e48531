package gbptree

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/gbptree/internal/base"
	"github.com/alexhholmes/gbptree/internal/cache"
	"github.com/alexhholmes/gbptree/internal/generation"
	"github.com/alexhholmes/gbptree/internal/node"
)

// ValueMerger combines the value stored for a key with a new one.
type ValueMerger[V any] func(existing, value V) V

// Overwrite is the ValueMerger of Put: the new value wins.
func Overwrite[V any](_, value V) V {
	return value
}

// Writer changes the tree. At most one exists at a time: Tree.Writer blocks
// until the previous one is closed, and a checkpoint waits for it too.
//
// Every operation runs in two phases. Prepare pins every page the change can
// touch and may fail on I/O, leaving the tree as it was. Apply works on
// pinned pages only and cannot fail; pages it changes stay write latched
// until it ends so seekers observe the change whole.
type Writer[K, V any] struct {
	t      *Tree[K, V]
	closed bool
}

// Writer returns the tree's writer, waiting for the current one to close.
func (t *Tree[K, V]) Writer() (*Writer[K, V], error) {
	t.writeMu.Lock()
	if t.closed.Load() {
		t.writeMu.Unlock()
		return nil, ErrClosed
	}
	return &Writer[K, V]{t: t}, nil
}

// Close releases the writer.
func (w *Writer[K, V]) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	w.t.writeMu.Unlock()
	return nil
}

func (w *Writer[K, V]) check(key K, value V) error {
	if w.closed {
		return ErrWriterClosed
	}
	return w.t.nodes.CheckFits(key, value)
}

// Insert adds an entry. An existing entry with an equal key is kept and the
// new one is ordered after it.
func (w *Writer[K, V]) Insert(key K, value V) error {
	if err := w.check(key, value); err != nil {
		return err
	}
	o := w.t.newOp()
	defer o.finish()

	if err := o.prepareInsert(key); err != nil {
		return err
	}
	o.insert(key, value)
	return nil
}

// Put sets the value of the first entry with key, inserting one if there is
// none.
func (w *Writer[K, V]) Put(key K, value V) error {
	return w.Merge(key, value, Overwrite[V])
}

// Merge stores merger(existing, value) in the first entry with key, or
// inserts value if there is none.
func (w *Writer[K, V]) Merge(key K, value V, merger ValueMerger[V]) error {
	if err := w.check(key, value); err != nil {
		return err
	}
	o := w.t.newOp()
	defer o.finish()

	found, err := o.seekFirst(key)
	if err != nil {
		return err
	}
	if !found {
		if err := o.prepareInsert(key); err != nil {
			return err
		}
		o.insert(key, value)
		return nil
	}

	leaf := o.path[len(o.path)-1]
	merged := merger(w.t.nodes.ValueAt(leaf.frame.Data(), leaf.pos), value)
	if err := w.t.nodes.CheckFits(key, merged); err != nil {
		return err
	}
	if err := o.prepareLeafChain(false); err != nil {
		return err
	}
	o.replace(merged)
	return nil
}

// Remove deletes the first entry with key and returns its value.
func (w *Writer[K, V]) Remove(key K) (V, bool, error) {
	var zero V
	if w.closed {
		return zero, false, ErrWriterClosed
	}
	o := w.t.newOp()
	defer o.finish()

	found, err := o.seekFirst(key)
	if err != nil || !found {
		return zero, false, err
	}
	if err := o.prepareRebalance(); err != nil {
		return zero, false, err
	}
	return o.remove(), true, nil
}

// level is one node on the path from the root. pos is the child taken in an
// internal node and the slot in the leaf.
type level struct {
	frame *cache.Frame
	pos   int
}

// op is the state of one writer operation.
type op[K, V any] struct {
	t       *Tree[K, V]
	gens    generation.Generations
	path    []level
	pinned  map[base.PageID]*cache.Frame
	latched map[base.PageID]*cache.Frame
	root    base.PageID
	height  int
}

func (t *Tree[K, V]) newOp() *op[K, V] {
	return &op[K, V]{
		t:       t,
		gens:    t.gens.Load(),
		pinned:  make(map[base.PageID]*cache.Frame),
		latched: make(map[base.PageID]*cache.Frame),
		root:    base.PageID(t.root.Load()),
		height:  int(t.height.Load()),
	}
}

// finish publishes a new root, then releases latches and pins.
func (o *op[K, V]) finish() {
	if o.root != base.PageID(o.t.root.Load()) {
		o.t.root.Store(uint64(o.root))
		o.t.height.Store(int32(o.height))
	}
	for _, f := range o.latched {
		f.Unlock()
	}
	for _, f := range o.pinned {
		o.t.cache.Unpin(f)
	}
}

// Prepare phase

func (o *op[K, V]) pin(id base.PageID) (*cache.Frame, error) {
	if f, ok := o.pinned[id]; ok {
		return f, nil
	}
	f, err := o.t.cache.Pin(id)
	if err != nil {
		return nil, err
	}
	o.pinned[id] = f
	return f, nil
}

// descend pins the path from the root down to the leaf route picks.
func (o *op[K, V]) descend(route func(p []byte) int) error {
	o.path = o.path[:0]
	id := o.root
	for {
		f, err := o.pin(id)
		if err != nil {
			return err
		}
		p := f.Data()
		if node.IsLeaf(p) {
			o.path = append(o.path, level{frame: f})
			return nil
		}
		pos := route(p)
		o.path = append(o.path, level{frame: f, pos: pos})
		id = node.ChildAt(p, pos)
	}
}

func (o *op[K, V]) prepareInsert(key K) error {
	nodes := o.t.nodes
	err := o.descend(func(p []byte) int {
		return nodes.InsertChildPosition(p, key)
	})
	if err != nil {
		return err
	}
	leaf := &o.path[len(o.path)-1]
	leaf.pos = nodes.SearchAfter(leaf.frame.Data(), key)
	return o.prepareLeafChain(false)
}

// seekFirst positions the path on the first entry not less than key and
// reports whether it equals key. Equal keys may continue past the leaf a
// separator routes to, so an exhausted leaf moves on to the next one.
func (o *op[K, V]) seekFirst(key K) (bool, error) {
	nodes := o.t.nodes
	err := o.descend(func(p []byte) int {
		return nodes.ChildPosition(p, key)
	})
	if err != nil {
		return false, err
	}
	for {
		leaf := &o.path[len(o.path)-1]
		p := leaf.frame.Data()
		res := nodes.Search(p, key)
		leaf.pos = res.Position
		if res.Position < node.KeyCount(p) {
			return res.Found, nil
		}
		ok, err := o.nextLeaf()
		if err != nil || !ok {
			return false, err
		}
	}
}

// nextLeaf moves the path to the leftmost leaf of the next subtree. It
// reports false at the last leaf.
func (o *op[K, V]) nextLeaf() (bool, error) {
	i := len(o.path) - 2
	for i >= 0 && o.path[i].pos >= node.KeyCount(o.path[i].frame.Data()) {
		i--
	}
	if i < 0 {
		return false, nil
	}
	o.path[i].pos++
	id := node.ChildAt(o.path[i].frame.Data(), o.path[i].pos)
	o.path = o.path[:i+1]
	for {
		f, err := o.pin(id)
		if err != nil {
			return false, err
		}
		o.path = append(o.path, level{frame: f})
		if node.IsLeaf(f.Data()) {
			return true, nil
		}
		id = node.ChildAt(f.Data(), 0)
	}
}

// prepareLeafChain pins the leaf's neighbours in the sibling chain, and with
// wide set their outer neighbours, which a rebalance may relink.
func (o *op[K, V]) prepareLeafChain(wide bool) error {
	p := o.path[len(o.path)-1].frame.Data()
	left, right := node.LeftSibling(p, o.gens), node.RightSibling(p, o.gens)
	if left != 0 {
		f, err := o.pin(left)
		if err != nil {
			return err
		}
		if ll := node.LeftSibling(f.Data(), o.gens); wide && ll != 0 {
			if _, err := o.pin(ll); err != nil {
				return err
			}
		}
	}
	if right != 0 {
		f, err := o.pin(right)
		if err != nil {
			return err
		}
		if rr := node.RightSibling(f.Data(), o.gens); wide && rr != 0 {
			if _, err := o.pin(rr); err != nil {
				return err
			}
		}
	}
	return nil
}

// prepareRebalance pins both siblings of every node on the path, which a
// merge or borrow may read or rewrite.
func (o *op[K, V]) prepareRebalance() error {
	for _, l := range o.path[:len(o.path)-1] {
		p := l.frame.Data()
		if l.pos > 0 {
			if _, err := o.pin(node.ChildAt(p, l.pos-1)); err != nil {
				return err
			}
		}
		if l.pos < node.KeyCount(p) {
			if _, err := o.pin(node.ChildAt(p, l.pos+1)); err != nil {
				return err
			}
		}
	}
	return o.prepareLeafChain(true)
}

// Apply phase

// frame returns a page pinned during prepare.
func (o *op[K, V]) frame(id base.PageID) *cache.Frame {
	f, ok := o.pinned[id]
	if !ok {
		panic(errors.AssertionFailedf("page %d was not prepared", id))
	}
	return f
}

// write latches f for the rest of the operation and gives it a new stamp, so
// seekers that read it earlier see it changed.
func (o *op[K, V]) write(f *cache.Frame) []byte {
	if _, ok := o.latched[f.ID()]; !ok {
		f.Lock()
		o.latched[f.ID()] = f
		o.t.stamp++
		node.SetStamp(f.Data(), o.t.stamp)
		o.t.cache.MarkDirty(f)
	}
	return f.Data()
}

func (o *op[K, V]) allocate() *cache.Frame {
	f := o.t.cache.Create(o.t.fl.Allocate())
	o.pinned[f.ID()] = f
	return f
}

func (o *op[K, V]) newLeaf() *cache.Frame {
	f := o.allocate()
	node.InitializeLeaf(f.Data(), o.gens.Unstable)
	o.write(f)
	return f
}

func (o *op[K, V]) newInternal() *cache.Frame {
	f := o.allocate()
	node.InitializeInternal(f.Data(), o.gens.Unstable)
	o.write(f)
	return f
}

// free hands a page that is no longer referenced to the free list. It is
// reused once no seeker of this generation remains.
func (o *op[K, V]) free(id base.PageID) {
	o.t.fl.Free(o.gens.Unstable, id)
}

// writable returns a frame whose page may be changed in place, copying the
// page when it was written before the unstable generation. The caller points
// the page's one parent reference at the returned frame.
func (o *op[K, V]) writable(f *cache.Frame) *cache.Frame {
	old := f.Data()
	if !o.gens.Stale(node.Generation(old)) {
		o.write(f)
		return f
	}

	nf := o.allocate()
	p := nf.Data()
	copy(p, old)
	node.PrepareCopy(p, o.gens)
	o.write(nf)

	node.SetSuccessor(o.write(f), nf.ID(), o.gens)
	if node.IsLeaf(p) {
		o.relink(p, nf.ID())
	}
	o.free(f.ID())
	return nf
}

// relink points the chain neighbours of leaf p at id.
func (o *op[K, V]) relink(p []byte, id base.PageID) {
	if left := node.LeftSibling(p, o.gens); left != 0 {
		node.SetRightSibling(o.write(o.frame(left)), id, o.gens)
	}
	if right := node.RightSibling(p, o.gens); right != 0 {
		node.SetLeftSibling(o.write(o.frame(right)), id, o.gens)
	}
}

// writableAt makes the node at depth i of the path writable, copying its
// ancestors as far as needed to point them at the copy.
func (o *op[K, V]) writableAt(i int) []byte {
	f := o.path[i].frame
	nf := o.writable(f)
	if nf != f {
		o.path[i].frame = nf
		if i == 0 {
			o.root = nf.ID()
		} else {
			node.SetChildAt(o.writableAt(i-1), o.path[i-1].pos, nf.ID())
		}
	}
	return nf.Data()
}

// writableChild makes child pos of the node at depth i writable.
func (o *op[K, V]) writableChild(i, pos int) *cache.Frame {
	parent := o.writableAt(i)
	f := o.frame(node.ChildAt(parent, pos))
	nf := o.writable(f)
	if nf != f {
		node.SetChildAt(parent, pos, nf.ID())
	}
	return nf
}

func (o *op[K, V]) insert(key K, value V) {
	nodes := o.t.nodes
	depth := len(o.path) - 1
	p := o.writableAt(depth)
	pos := o.path[depth].pos
	count := node.KeyCount(p)

	if nodes.Overflow(p, count, key, value) != node.OverflowYes {
		nodes.InsertKeyValueAt(p, key, value, pos, count, o.gens.Unstable)
		return
	}
	entries := slices.Insert(nodes.ReadLeaf(p), pos, node.Entry[K, V]{Key: key, Value: value})
	o.splitLeaf(depth, entries)
}

// replace sets the value of the entry the path points at.
func (o *op[K, V]) replace(value V) {
	nodes := o.t.nodes
	depth := len(o.path) - 1
	p := o.writableAt(depth)
	pos := o.path[depth].pos

	if node.ValueSizeAt(p, pos) == o.t.layout.ValueSize(value) {
		nodes.SetValueAt(p, pos, value, o.gens.Unstable)
		return
	}
	entries := nodes.ReadLeaf(p)
	entries[pos].Value = value
	if nodes.LeafSize(entries) <= nodes.Capacity() {
		nodes.WriteLeaf(p, entries, o.gens.Unstable)
		return
	}
	o.splitLeaf(depth, entries)
}
