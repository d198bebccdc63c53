package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskManager_FreshFileHasHeaderAndCatalogRootReserved(t *testing.T) {
	dm, _, err := NewRandomDiskManager(t.TempDir())
	require.NoError(t, err)
	defer dm.Close()

	require.EqualValues(t, 1, dm.PageCount())

	id, err := dm.Allocate()
	require.NoError(t, err)
	require.Equal(t, CatalogRootPageId, id)
}

func TestDiskManager_AllocateExtendsThenReusesFreed(t *testing.T) {
	dm, _, err := NewRandomDiskManager(t.TempDir())
	require.NoError(t, err)
	defer dm.Close()

	a, err := dm.Allocate()
	require.NoError(t, err)
	b, err := dm.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.NoError(t, dm.Deallocate(a))

	c, err := dm.Allocate()
	require.NoError(t, err)
	require.Equal(t, a, c, "freed page should be reused before extending the file")
}

func TestDiskManager_ReadWriteRoundTrip(t *testing.T) {
	dm, _, err := NewRandomDiskManager(t.TempDir())
	require.NoError(t, err)
	defer dm.Close()

	id, err := dm.Allocate()
	require.NoError(t, err)

	buf := make([]byte, PageSize)
	copy(buf, []byte("hello naivedb"))
	require.NoError(t, dm.WritePage(id, buf))

	got, err := dm.ReadPage(id)
	require.NoError(t, err)
	require.Equal(t, buf, got)
}

func TestDiskManager_FreeListOverflowSpillsAcrossPages(t *testing.T) {
	dm, _, err := NewRandomDiskManager(t.TempDir())
	require.NoError(t, err)
	defer dm.Close()

	// Allocate and immediately free enough pages to force the free list
	// off page 0 and onto at least one overflow page.
	const n = 3000
	ids := make([]PageId, 0, n)
	for i := 0; i < n; i++ {
		id, err := dm.Allocate()
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		require.NoError(t, dm.Deallocate(id))
	}

	require.Greater(t, dm.PageCount(), int64(n), "free-list overflow pages should themselves occupy file space")

	reused := make(map[PageId]bool, n)
	for i := 0; i < n; i++ {
		id, err := dm.Allocate()
		require.NoError(t, err)
		require.False(t, reused[id], "allocate must not hand out the same id twice")
		reused[id] = true
	}
}
