package base

import "github.com/cockroachdb/errors"

var (
	ErrCorruption        = errors.New("index corruption detected")
	ErrInvalidMagic      = errors.Wrap(ErrCorruption, "invalid magic number")
	ErrInvalidVersion    = errors.Wrap(ErrCorruption, "invalid format version")
	ErrInvalidChecksum   = errors.Wrap(ErrCorruption, "invalid checksum")
	ErrInvalidPageSize   = errors.New("invalid page size")
	ErrTooLarge          = errors.New("entry too large for node capacity")
	ErrLayoutMismatch    = errors.New("layout does not match the stored tree")
	ErrStaleCheckpoint   = errors.New("checkpoint does not match the store")
	ErrTooManyReaders    = errors.New("too many concurrent readers (increase max readers)")
	ErrShortTransfer     = errors.New("short page transfer")
	ErrStoreClosed       = errors.New("page store is closed")
	ErrUnalignedTransfer = errors.New("transfer is not a multiple of the page size")
)
