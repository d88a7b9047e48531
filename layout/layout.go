// Package layout defines how a tree's keys and values are encoded into page
// bytes and ordered.
//
// A Layout is supplied once when a tree is opened and must stay the same for
// the lifetime of the stored tree: its Identifier is persisted in the
// checkpoint record and checked on every reopen.
package layout

import "github.com/cespare/xxhash/v2"

// Layout is the codec and comparator for keys of type K and values of type V.
//
// ReadKey and ReadValue receive slices into page memory which is reused as
// soon as they return, so implementations must copy whatever they keep.
type Layout[K, V any] interface {
	// Identifier is a stable fingerprint of the encoding.
	Identifier() uint64

	Compare(a, b K) int

	KeySize(key K) int
	ValueSize(value V) int

	WriteKey(dst []byte, key K)
	WriteValue(dst []byte, value V)

	ReadKey(src []byte) K
	ReadValue(src []byte) V
}

// Fixed is implemented by layouts that always encode to the same sizes. The
// tree checks those sizes against the node capacity at open instead of on the
// first offending insert.
type Fixed interface {
	FixedSize() (keySize, valueSize int)
}

// ID derives a layout identifier from a descriptive name.
func ID(name string) uint64 {
	return xxhash.Sum64String(name)
}
