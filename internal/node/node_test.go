package node

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/gbptree/internal/base"
	"github.com/alexhholmes/gbptree/internal/generation"
	"github.com/alexhholmes/gbptree/layout"
)

func keysOf(n *TreeNode[int64, int64], p []byte) []int64 {
	keys := make([]int64, KeyCount(p))
	for i := range keys {
		keys[i] = n.KeyAt(p, i)
	}
	return keys
}

func TestInitialize(t *testing.T) {
	t.Parallel()

	p := make([]byte, base.MinPageSize)
	for i := range p {
		p[i] = 0xFF
	}

	InitializeLeaf(p, 7)
	assert.True(t, IsLeaf(p))
	assert.Equal(t, 0, KeyCount(p))
	assert.Equal(t, uint64(7), Generation(p))
	assert.Equal(t, 0, UsedSpace(p))
	require.NoError(t, Validate(p))

	InitializeInternal(p, 9)
	assert.Equal(t, base.KindInternal, Kind(p))
	assert.Equal(t, uint64(9), Generation(p))
	assert.Error(t, Validate(p), "internal node needs a first child")
	SetChildAt(p, 0, 5)
	require.NoError(t, Validate(p))
}

func TestLeafInsertShiftsSlots(t *testing.T) {
	t.Parallel()

	n, p := newLeaf(t, 10, 30)
	n.InsertKeyValueAt(p, 20, 200, 1, 2, 3)
	n.InsertKeyValueAt(p, 5, 50, 0, 3, 3)
	n.InsertKeyValueAt(p, 40, 400, 4, 4, 3)

	assert.Equal(t, []int64{5, 10, 20, 30, 40}, keysOf(n, p))
	assert.Equal(t, int64(200), n.ValueAt(p, 2))
	assert.Equal(t, int64(100), n.ValueAt(p, 1))
	assert.Equal(t, uint64(3), Generation(p), "insert stamps the generation")
	require.NoError(t, Validate(p))
}

func TestLeafRemoveAndDefragment(t *testing.T) {
	t.Parallel()

	n, p := newLeaf(t, 1, 2, 3, 4)
	used := UsedSpace(p)

	RemoveKeyValueAt(p, 1, 4, 2)
	assert.Equal(t, []int64{1, 3, 4}, keysOf(n, p))
	assert.Equal(t, used-n.LeafEntrySize(2, 20), UsedSpace(p))
	assert.Equal(t, 16, deadSpace(p))

	Defragment(p)
	assert.Equal(t, 0, deadSpace(p))
	assert.Equal(t, []int64{1, 3, 4}, keysOf(n, p))
	assert.Equal(t, []int64{10, 30, 40}, []int64{n.ValueAt(p, 0), n.ValueAt(p, 1), n.ValueAt(p, 2)})
	require.NoError(t, Validate(p))

	for KeyCount(p) > 0 {
		RemoveKeyValueAt(p, 0, KeyCount(p), 2)
	}
	assert.Equal(t, 0, UsedSpace(p))
	assert.Equal(t, len(p), allocOffset(p))
}

func TestOverflow(t *testing.T) {
	t.Parallel()

	n := New[[]byte, []byte](layout.Bytes{}, base.MinPageSize)
	p := make([]byte, base.MinPageSize)
	InitializeLeaf(p, 1)

	value := make([]byte, 40)
	count := 0
	for n.Overflow(p, count, []byte{byte(count)}, value) == OverflowNo {
		n.InsertKeyValueAt(p, []byte{byte(count)}, value, count, count, 1)
		count++
	}
	assert.Equal(t, OverflowYes, n.Overflow(p, count, []byte{0xFF}, value))
	assert.Panics(t, func() {
		n.InsertKeyValueAt(p, []byte{0xFF}, value, count, count, 1)
	})

	// Removing one slot leaves its bytes as dead space.
	RemoveKeyValueAt(p, 0, count, 1)
	count--
	assert.Equal(t, OverflowNoNeedDefrag, n.Overflow(p, count, []byte{0xFE}, value))

	n.InsertKeyValueAt(p, []byte{0xFE}, value, count, count, 1)
	assert.Equal(t, 0, deadSpace(p), "insert defragments when it has to")
	require.NoError(t, Validate(p))
}

func TestInsertPositionContract(t *testing.T) {
	t.Parallel()

	n, p := newLeaf(t, 1, 2)

	tests := []struct {
		name string
		pos  int
	}{
		{"negative", -1},
		{"past end", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				require.NotNil(t, r)
				err, ok := r.(error)
				require.True(t, ok)
				assert.True(t, errors.HasAssertionFailure(err))
			}()
			n.InsertKeyValueAt(p, 9, 9, tt.pos, 2, 1)
		})
	}
}

func TestInternalChildren(t *testing.T) {
	t.Parallel()

	n, p := newInternal(t, 10, 20, 30)
	_, children := n.ReadInternal(p)
	assert.Equal(t, []base.PageID{100, 101, 102, 103}, children)

	n.InsertKeyAndRightChildAt(p, 15, 200, 1, 3, 2)
	keys, children := n.ReadInternal(p)
	assert.Equal(t, []int64{10, 15, 20, 30}, keys)
	assert.Equal(t, []base.PageID{100, 101, 200, 102, 103}, children)

	RemoveKeyAndRightChildAt(p, 1, 4, 2)
	keys, children = n.ReadInternal(p)
	assert.Equal(t, []int64{10, 20, 30}, keys)
	assert.Equal(t, []base.PageID{100, 101, 102, 103}, children)

	RemoveKeyAndLeftChildAt(p, 0, 3, 2)
	keys, children = n.ReadInternal(p)
	assert.Equal(t, []int64{20, 30}, keys)
	assert.Equal(t, []base.PageID{101, 102, 103}, children)
	require.NoError(t, Validate(p))
}

func TestRewritePreservesPointers(t *testing.T) {
	t.Parallel()

	gens := generation.Generations{Stable: 1, Unstable: 2}
	n, p := newLeaf(t, 1, 2, 3)
	SetRightSibling(p, 11, gens)
	SetLeftSibling(p, 12, gens)
	SetStamp(p, 99)

	n.WriteLeaf(p, []Entry[int64, int64]{{Key: 7, Value: 70}, {Key: 8, Value: 80}}, 2)
	assert.Equal(t, []int64{7, 8}, keysOf(n, p))
	assert.Equal(t, base.PageID(11), RightSibling(p, gens))
	assert.Equal(t, base.PageID(12), LeftSibling(p, gens))
	assert.Equal(t, uint64(99), Stamp(p))

	n, ip := newInternal(t, 5)
	n.WriteInternal(ip, []int64{1, 2}, []base.PageID{7, 8, 9}, 2)
	keys, children := n.ReadInternal(ip)
	assert.Equal(t, []int64{1, 2}, keys)
	assert.Equal(t, []base.PageID{7, 8, 9}, children)
}

func TestReadLeaf(t *testing.T) {
	t.Parallel()

	n, p := newLeaf(t, 3, 4)
	assert.Equal(t, []Entry[int64, int64]{{Key: 3, Value: 30}, {Key: 4, Value: 40}}, n.ReadLeaf(p))
	assert.Equal(t, n.LeafSize(n.ReadLeaf(p)), UsedSpace(p))
}

func TestSetValueAt(t *testing.T) {
	t.Parallel()

	n, p := newLeaf(t, 3, 4)
	n.SetValueAt(p, 1, 41, 5)
	assert.Equal(t, int64(41), n.ValueAt(p, 1))
	assert.Equal(t, uint64(5), Generation(p))
	assert.Equal(t, 8, ValueSizeAt(p, 1))
}

func TestCheckFits(t *testing.T) {
	t.Parallel()

	n := New[[]byte, []byte](layout.Bytes{}, base.DefaultPageSize)
	require.NoError(t, n.CheckFits(make([]byte, 16), make([]byte, 100)))

	err := n.CheckFits(make([]byte, 16), make([]byte, n.MaxEntrySize()))
	assert.True(t, errors.Is(err, base.ErrTooLarge))
}

func TestValidateDetectsCorruption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p []byte)
	}{
		{"unknown kind", func(p []byte) { p[base.OffKind] = 9 }},
		{"key count past data", func(p []byte) { setKeyCount(p, 500) }},
		{"element outside page", func(p []byte) { putLeafElement(p, 0, len(p)-2, 8, 8) }},
		{"data before alloc offset", func(p []byte) { putLeafElement(p, 1, base.HeaderSize, 8, 8) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, p := newLeaf(t, 1, 2, 3)
			tt.mutate(p)
			assert.True(t, errors.Is(Validate(p), base.ErrCorruption))
		})
	}
}
