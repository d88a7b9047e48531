package gbptree

import (
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/gbptree/internal/base"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrClosed       = errors.New("tree is closed")
	ErrSeekerClosed = errors.New("seeker is closed")
	ErrWriterClosed = errors.New("writer is closed")

	ErrCorruption      = base.ErrCorruption
	ErrInvalidMagic    = base.ErrInvalidMagic
	ErrInvalidVersion  = base.ErrInvalidVersion
	ErrInvalidChecksum = base.ErrInvalidChecksum
	ErrPageSize        = base.ErrInvalidPageSize
	ErrTooLarge        = base.ErrTooLarge
	ErrLayoutMismatch  = base.ErrLayoutMismatch
	ErrStaleCheckpoint = base.ErrStaleCheckpoint
	ErrTooManyReaders  = base.ErrTooManyReaders
)
