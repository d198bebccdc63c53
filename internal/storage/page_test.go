package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPage(t *testing.T, keySize, metaSize int) *SlottedPage {
	t.Helper()
	buf := make([]byte, PageSize)
	p := NewSlottedPage(PageId(7), buf, keySize, metaSize)
	p.Init()
	return p
}

func key4(n uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(n)
	b[1] = byte(n >> 8)
	b[2] = byte(n >> 16)
	b[3] = byte(n >> 24)
	return b
}

func TestSlottedPage_InsertGet(t *testing.T) {
	p := newTestPage(t, 4, 0)

	idx, err := p.Insert(key4(1), []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	k, v, ok := p.Get(idx)
	require.True(t, ok)
	require.Equal(t, key4(1), []byte(k))
	require.Equal(t, []byte("hello"), v)
	require.Equal(t, 1, p.RecordCount())
}

func TestSlottedPage_InsertStableIndexAcrossRemove(t *testing.T) {
	p := newTestPage(t, 4, 0)

	i0, err := p.Insert(key4(0), []byte("zero"))
	require.NoError(t, err)
	i1, err := p.Insert(key4(1), []byte("one"))
	require.NoError(t, err)
	i2, err := p.Insert(key4(2), []byte("two"))
	require.NoError(t, err)

	require.NoError(t, p.Remove(i1))

	// i0 and i2 must still resolve to their original values.
	_, v0, ok := p.Get(i0)
	require.True(t, ok)
	require.Equal(t, []byte("zero"), v0)

	_, v2, ok := p.Get(i2)
	require.True(t, ok)
	require.Equal(t, []byte("two"), v2)

	_, _, ok = p.Get(i1)
	require.False(t, ok)

	// Space held by the removed value was reclaimed; a new insert
	// succeeds because total live bytes plus slot width still fit.
	i3, err := p.Insert(key4(3), []byte("three"))
	require.NoError(t, err)
	_, v3, ok := p.Get(i3)
	require.True(t, ok)
	require.Equal(t, []byte("three"), v3)
}

func TestSlottedPage_PageFull(t *testing.T) {
	p := newTestPage(t, 4, 0)
	big := bytes.Repeat([]byte{0xAB}, PageSize)
	_, err := p.Insert(key4(0), big)
	require.ErrorIs(t, err, ErrPageFull)
}

func TestSlottedPage_SetValue_SameAndDifferentLength(t *testing.T) {
	p := newTestPage(t, 4, 0)
	idx, err := p.Insert(key4(0), []byte("abc"))
	require.NoError(t, err)

	require.NoError(t, p.SetValue(idx, []byte("xyz")))
	_, v, _ := p.Get(idx)
	require.Equal(t, []byte("xyz"), v)

	require.NoError(t, p.SetValue(idx, []byte("a much longer value than before")))
	_, v, ok := p.Get(idx)
	require.True(t, ok)
	require.Equal(t, []byte("a much longer value than before"), v)
}

func TestSlottedPage_InsertSorted_MaintainsOrder(t *testing.T) {
	p := newTestPage(t, 4, 0)
	cmp := func(a, b []byte) int { return bytes.Compare(a, b) }

	order := []uint32{5, 1, 3, 2, 4}
	for _, n := range order {
		_, err := p.InsertSorted(key4(n), key4(n), cmp)
		require.NoError(t, err)
	}

	entries := p.Iter()
	require.Len(t, entries, 5)
	for i, e := range entries {
		require.Equal(t, uint32(i+1), uint32(e.Key[0]))
	}
}

func TestSlottedPage_BinarySearch(t *testing.T) {
	p := newTestPage(t, 4, 0)
	cmp := func(a, b []byte) int { return bytes.Compare(a, b) }
	for _, n := range []uint32{10, 20, 30, 40} {
		_, err := p.InsertSorted(key4(n), key4(n), cmp)
		require.NoError(t, err)
	}

	idx, found := p.BinarySearch(key4(20), cmp)
	require.True(t, found)
	require.Equal(t, 1, idx)

	idx, found = p.BinarySearch(key4(25), cmp)
	require.False(t, found)
	require.Equal(t, 2, idx)
}

func TestSlottedPage_RemoveCompact_ShiftsDirectory(t *testing.T) {
	p := newTestPage(t, 4, 0)
	cmp := func(a, b []byte) int { return bytes.Compare(a, b) }
	for _, n := range []uint32{1, 2, 3} {
		_, err := p.InsertSorted(key4(n), key4(n), cmp)
		require.NoError(t, err)
	}

	require.NoError(t, p.RemoveCompact(1))
	require.Equal(t, 2, p.RecordCount())
	entries := p.Iter()
	require.Equal(t, byte(1), entries[0].Key[0])
	require.Equal(t, byte(3), entries[1].Key[0])
}

func TestSlottedPage_NextPageIDAndUserMeta(t *testing.T) {
	p := newTestPage(t, 4, 4)
	p.SetNextPageID(PageId(99))
	require.Equal(t, PageId(99), p.NextPageID())

	copy(p.UserMeta(), []byte{1, 2, 3, 4})
	require.Equal(t, []byte{1, 2, 3, 4}, p.UserMeta())
}

func TestSlottedPage_FreeSpaceInvariant(t *testing.T) {
	p := newTestPage(t, 4, 0)
	for i := uint32(0); i < 10; i++ {
		_, err := p.Insert(key4(i), []byte("payload"))
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, p.FreeSpace(), 0)
	require.LessOrEqual(t, p.slotDirEnd(), int(p.Tail()))
}
