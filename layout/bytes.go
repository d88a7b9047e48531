package layout

import "bytes"

var bytesID = ID("gbptree/layout/bytes/v1")

// Bytes stores variable length byte slice keys and values, ordered by
// bytes.Compare.
type Bytes struct{}

var _ Layout[[]byte, []byte] = Bytes{}

func (Bytes) Identifier() uint64 { return bytesID }

func (Bytes) Compare(a, b []byte) int { return bytes.Compare(a, b) }

func (Bytes) KeySize(key []byte) int     { return len(key) }
func (Bytes) ValueSize(value []byte) int { return len(value) }

func (Bytes) WriteKey(dst []byte, key []byte)     { copy(dst, key) }
func (Bytes) WriteValue(dst []byte, value []byte) { copy(dst, value) }

func (Bytes) ReadKey(src []byte) []byte {
	return bytes.Clone(src)
}

func (Bytes) ReadValue(src []byte) []byte {
	return bytes.Clone(src)
}
