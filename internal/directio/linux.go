//go:build linux

package directio

import (
	"os"

	"golang.org/x/sys/unix"
)

const (
	// AlignSize is the memory alignment O_DIRECT transfers need.
	AlignSize = 4096
	// BlockSize is the smallest transfer O_DIRECT accepts.
	BlockSize = 4096
	Supported = true
)

// OpenFile is os.OpenFile with O_DIRECT set.
func OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, unix.O_DIRECT|flag, perm)
}
