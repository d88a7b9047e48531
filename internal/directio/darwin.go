//go:build darwin

package directio

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const (
	AlignSize = 0
	BlockSize = 4096
	Supported = true
)

// OpenFile is os.OpenFile with F_NOCACHE set on the descriptor.
func OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	file, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	if _, err := unix.FcntlInt(file.Fd(), unix.F_NOCACHE, 1); err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "set F_NOCACHE")
	}
	return file, nil
}
