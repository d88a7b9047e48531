package layout

import (
	"cmp"
	"encoding/binary"
)

var int64ID = ID("gbptree/layout/int64/v1")

// Int64 stores int64 keys and values as 8 little endian bytes each.
type Int64 struct{}

var (
	_ Layout[int64, int64] = Int64{}
	_ Fixed                = Int64{}
)

func (Int64) Identifier() uint64 { return int64ID }

func (Int64) Compare(a, b int64) int { return cmp.Compare(a, b) }

func (Int64) KeySize(int64) int   { return 8 }
func (Int64) ValueSize(int64) int { return 8 }

func (Int64) FixedSize() (int, int) { return 8, 8 }

func (Int64) WriteKey(dst []byte, key int64) {
	binary.LittleEndian.PutUint64(dst, uint64(key))
}

func (Int64) WriteValue(dst []byte, value int64) {
	binary.LittleEndian.PutUint64(dst, uint64(value))
}

func (Int64) ReadKey(src []byte) int64 {
	return int64(binary.LittleEndian.Uint64(src))
}

func (Int64) ReadValue(src []byte) int64 {
	return int64(binary.LittleEndian.Uint64(src))
}
