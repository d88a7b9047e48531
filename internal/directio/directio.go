// Package directio opens files that bypass the OS page cache and hands out
// buffers aligned for such files.
//
// This is adapted from https://github.com/ncw/directio.
package directio

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// IsAligned checks whether passed byte slice is aligned
func IsAligned(block []byte) bool {
	if AlignSize == 0 || len(block) == 0 {
		return true
	}
	return alignment(block, AlignSize) == 0
}

// AlignedBlock returns []byte of size blockSize aligned to a multiple
// of AlignSize in memory (must be power of two)
func AlignedBlock(blockSize int) []byte {
	block := make([]byte, blockSize+AlignSize)
	if AlignSize == 0 {
		return block[:blockSize]
	}
	a := alignment(block, AlignSize)
	offset := 0
	if a != 0 {
		offset = AlignSize - a
	}
	block = block[offset : offset+blockSize]
	// Can't check alignment of a zero sized block
	if blockSize != 0 && !IsAligned(block) {
		panic(errors.AssertionFailedf("failed to align block of %d bytes", blockSize))
	}
	return block
}

// alignment returns alignment of the block in memory
// with reference to AlignSize
//
// Can't check alignment of a zero sized block as &block[0] is invalid
func alignment(block []byte, alignSize int) int {
	return int(uintptr(unsafe.Pointer(&block[0])) & uintptr(alignSize-1))
}
