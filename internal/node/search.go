package node

import "sort"

// SearchResult is the outcome of a key search in one node.
//
// When Found, Position is the first slot whose key equals the search key.
// Otherwise Position is the first slot whose key is greater, in
// [0, keyCount], which is where the key would be inserted.
type SearchResult struct {
	Found    bool
	Position int
}

// Search binary searches the keys of a leaf or internal node.
func (n *TreeNode[K, V]) Search(p []byte, key K) SearchResult {
	count := KeyCount(p)
	pos := sort.Search(count, func(i int) bool {
		return n.layout.Compare(n.KeyAt(p, i), key) >= 0
	})
	return SearchResult{
		Found:    pos < count && n.layout.Compare(n.KeyAt(p, pos), key) == 0,
		Position: pos,
	}
}

// SearchAfter returns the first slot whose key is greater than key. Inserts
// use it so a duplicate lands after the keys it equals.
func (n *TreeNode[K, V]) SearchAfter(p []byte, key K) int {
	return sort.Search(KeyCount(p), func(i int) bool {
		return n.layout.Compare(n.KeyAt(p, i), key) > 0
	})
}

// ChildPosition routes a lookup for key through an internal node: the
// subtree holding the first entry not less than key. Equal separators send
// the search left because a separator is the first key of its right subtree
// only at the time of the split; duplicates may straddle it.
func (n *TreeNode[K, V]) ChildPosition(p []byte, key K) int {
	return n.Search(p, key).Position
}

// InsertChildPosition routes an insert of key: past every separator equal to
// it, so duplicates are appended after existing equal keys.
func (n *TreeNode[K, V]) InsertChildPosition(p []byte, key K) int {
	return n.SearchAfter(p, key)
}
