package gbptree

import (
	"runtime"

	"github.com/alexhholmes/gbptree/internal/base"
	"github.com/alexhholmes/gbptree/internal/node"
	"github.com/alexhholmes/gbptree/internal/prefetch"
)

// Seeker iterates the entries of a key range in order while the writer keeps
// changing the tree. It works on a private copy of one leaf at a time.
//
// A seeker never returns an entry twice and never skips one that stayed in
// the tree for its whole lifetime. When it finds that a page it depends on
// changed it starts over from the root at the last key it returned.
//
// Each leaf is read as of one point in time, the whole range is not. Entries
// added or removed behind the seeker's position are not reflected, and ones
// added ahead of it are returned if it reaches them. After a restart, if a
// duplicate of the last key it returned was removed, a later duplicate of
// that key may be passed over.
//
// Seekers are not safe for concurrent use; open one per goroutine.
type Seeker[K, V any] struct {
	t       *Tree[K, V]
	from    K
	to      K
	bounded bool // to is the exclusive upper bound
	release func()
	ahead   *prefetch.Prefetcher

	buf   []byte      // Copy of the current leaf
	next  []byte      // Copy of its right sibling while stepping over
	leaf  base.PageID // Page buf was copied from
	stamp uint64      // Stamp of leaf at copy time
	right base.PageID // Right sibling of leaf at copy time
	pos   int

	positioned bool
	started    bool // An entry was returned
	last       K    // Key of the last entry returned
	dups       int  // Entries returned with a key equal to last
	skip       int  // Entries equal to last still to pass after a restart

	key    K
	value  V
	done   bool
	closed bool
	err    error
}

// Seek returns a seeker over the entries with from <= key < to.
func (t *Tree[K, V]) Seek(from, to K) (*Seeker[K, V], error) {
	return t.seek(from, to, true)
}

// SeekFrom returns a seeker over the entries with key >= from.
func (t *Tree[K, V]) SeekFrom(from K) (*Seeker[K, V], error) {
	var to K
	return t.seek(from, to, false)
}

func (t *Tree[K, V]) seek(from, to K, bounded bool) (*Seeker[K, V], error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	// Pages freed from here on are not reused until the seeker closes
	release, err := t.readers.Register(t.gens.Load().Unstable)
	if err != nil {
		return nil, err
	}
	pageSize := t.store.PageSize()
	return &Seeker[K, V]{
		t:       t,
		from:    from,
		to:      to,
		bounded: bounded,
		release: release,
		ahead:   prefetch.New(t.warm),
		buf:     make([]byte, pageSize),
		next:    make([]byte, pageSize),
	}, nil
}

// Get returns the value of the first entry with key.
func (t *Tree[K, V]) Get(key K) (V, bool, error) {
	var zero V
	s, err := t.seek(key, key, false)
	if err != nil {
		return zero, false, err
	}
	defer func() { _ = s.Close() }()

	if !s.Next() {
		return zero, false, s.Err()
	}
	if t.layout.Compare(s.Key(), key) != 0 {
		return zero, false, nil
	}
	return s.Value(), true, nil
}

// Next moves to the next entry. It returns false at the end of the range or
// on error, which Err then reports.
func (s *Seeker[K, V]) Next() bool {
	if s.closed || s.done || s.err != nil {
		return false
	}
	nodes := s.t.nodes
	cmp := s.t.layout.Compare

	for {
		if !s.positioned {
			if err := s.position(); err != nil {
				s.err = err
				return false
			}
		}
		if s.pos >= node.KeyCount(s.buf) {
			more, err := s.advance()
			if err != nil {
				s.err = err
				return false
			}
			if !more {
				s.done = true
				return false
			}
			continue
		}

		k := nodes.KeyAt(s.buf, s.pos)
		if s.bounded && cmp(k, s.to) >= 0 {
			s.done = true
			return false
		}
		pos := s.pos
		s.pos++

		if s.skip > 0 {
			if cmp(k, s.last) == 0 {
				s.skip--
				continue
			}
			s.skip = 0
		}

		if s.started && cmp(k, s.last) == 0 {
			s.dups++
		} else {
			s.last, s.dups, s.started = k, 1, true
		}
		s.key, s.value = k, nodes.ValueAt(s.buf, pos)
		return true
	}
}

// Key returns the key of the current entry.
func (s *Seeker[K, V]) Key() K {
	return s.key
}

// Value returns the value of the current entry.
func (s *Seeker[K, V]) Value() V {
	return s.value
}

// Err returns the error that ended the iteration, if any.
func (s *Seeker[K, V]) Err() error {
	return s.err
}

// Close releases the seeker's reader slot.
func (s *Seeker[K, V]) Close() error {
	if s.closed {
		return ErrSeekerClosed
	}
	s.closed = true
	s.ahead.Wait()
	s.release()
	return nil
}

// position descends to the first entry at or after the lower bound, which
// after a restart is the last key returned.
func (s *Seeker[K, V]) position() error {
	lower, skip := s.from, 0
	if s.started {
		lower, skip = s.last, s.dups
	}
	for {
		ok, err := s.descend(lower)
		if err != nil {
			return err
		}
		if ok {
			s.skip = skip
			s.positioned = true
			return nil
		}
		// Let the writer finish the operation we ran into
		s.ahead.Reset()
		runtime.Gosched()
	}
}

// descend copies the leaf holding lower into buf. It reports false when a
// page on the way was superseded or changed under it.
func (s *Seeker[K, V]) descend(lower K) (bool, error) {
	nodes := s.t.nodes
	root := base.PageID(s.t.root.Load())

	id := root
	var parent base.PageID
	var parentStamp uint64
	for {
		stamp, ok, err := s.read(id, s.buf)
		if err != nil || !ok {
			return false, err
		}
		if parent == 0 {
			if base.PageID(s.t.root.Load()) != root {
				return false, nil
			}
		} else if same, err := s.t.stampIs(parent, parentStamp); err != nil || !same {
			return false, err
		}

		if node.IsLeaf(s.buf) {
			s.leaf, s.stamp = id, stamp
			s.right = node.RightSibling(s.buf, s.t.gens.Load())
			s.pos = nodes.Search(s.buf, lower).Position
			return true, nil
		}
		parent, parentStamp = id, stamp
		id = node.ChildAt(s.buf, nodes.ChildPosition(s.buf, lower))
	}
}

// advance steps to the right sibling. It reports false past the last leaf.
// A change of the current leaf since it was copied sends the seeker back to
// the root.
func (s *Seeker[K, V]) advance() (bool, error) {
	if s.right == 0 {
		same, err := s.t.stampIs(s.leaf, s.stamp)
		if err != nil {
			return false, err
		}
		if !same {
			s.positioned = false
			return true, nil
		}
		return false, nil
	}

	stamp, ok, err := s.read(s.right, s.next)
	if err != nil {
		return false, err
	}
	if ok {
		if ok, err = s.t.stampIs(s.leaf, s.stamp); err != nil {
			return false, err
		}
	}
	if !ok {
		s.positioned = false
		return true, nil
	}

	s.buf, s.next = s.next, s.buf
	s.leaf, s.stamp, s.pos = s.right, stamp, 0
	s.right = node.RightSibling(s.buf, s.t.gens.Load())
	s.ahead.Trigger(s.right)
	return true, nil
}

// warm loads page id into the cache for a seeker about to reach it and
// returns its right sibling.
func (t *Tree[K, V]) warm(id base.PageID) (base.PageID, error) {
	f, err := t.cache.Pin(id)
	if err != nil {
		return 0, err
	}
	f.RLock()
	right := node.RightSibling(f.Data(), t.gens.Load())
	f.RUnlock()
	t.cache.Unpin(f)
	return right, nil
}

// read copies page id into buf and returns its stamp. It reports false for a
// page that has been copied to a successor.
func (s *Seeker[K, V]) read(id base.PageID, buf []byte) (uint64, bool, error) {
	if err := s.t.readPage(id, buf); err != nil {
		return 0, false, err
	}
	if _, ok := node.Successor(buf, s.t.gens.Load()); ok {
		return 0, false, nil
	}
	return node.Stamp(buf), true, nil
}
