package heap_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"naivedb/internal/bufferpool"
	"naivedb/internal/heap"
	"naivedb/internal/record"
	"naivedb/internal/storage"
)

func newTestPool(t *testing.T) *bufferpool.Pool {
	t.Helper()
	dir := t.TempDir()
	bp, path, err := bufferpool.NewRandomPool(dir, 32)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = bp.Close()
		_ = os.Remove(path)
	})
	return bp
}

func usersSchema() record.Schema {
	return record.Schema{Cols: []record.Column{
		{Name: "id", Type: record.TypeInt, PrimaryKey: true},
		{Name: "name", Type: record.TypeVarchar, MaxLen: 32},
		{Name: "age", Type: record.TypeInt, Nullable: true},
	}}
}

func TestTable_AppendGet(t *testing.T) {
	bp := newTestPool(t)
	tbl, err := heap.Create(usersSchema(), bp)
	require.NoError(t, err)
	defer tbl.Close()

	rid, err := tbl.Append([]any{int32(1), "alice", int32(30)})
	require.NoError(t, err)

	row, err := tbl.Get(rid)
	require.NoError(t, err)
	assert.Equal(t, int32(1), row[0])
	assert.Equal(t, "alice", row[1])
	assert.Equal(t, int32(30), row[2])
}

func TestTable_AppendManyAcrossSlices(t *testing.T) {
	bp := newTestPool(t)
	tbl, err := heap.Create(usersSchema(), bp)
	require.NoError(t, err)
	defer tbl.Close()

	const n = 2000
	rids := make([]heap.RID, n)
	for i := 0; i < n; i++ {
		rid, err := tbl.Append([]any{int32(i), "user", int32(20)})
		require.NoError(t, err)
		rids[i] = rid
	}

	for i := 0; i < n; i++ {
		row, err := tbl.Get(rids[i])
		require.NoError(t, err)
		assert.Equal(t, int32(i), row[0])
	}

	entries, err := tbl.Iter()
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestTable_RemoveAndRIDStability(t *testing.T) {
	bp := newTestPool(t)
	tbl, err := heap.Create(usersSchema(), bp)
	require.NoError(t, err)
	defer tbl.Close()

	rid1, err := tbl.Append([]any{int32(1), "a", nil})
	require.NoError(t, err)
	rid2, err := tbl.Append([]any{int32(2), "b", nil})
	require.NoError(t, err)
	rid3, err := tbl.Append([]any{int32(3), "c", nil})
	require.NoError(t, err)

	require.NoError(t, tbl.Remove(rid2))

	row1, err := tbl.Get(rid1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), row1[0])

	row3, err := tbl.Get(rid3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), row3[0])

	_, err = tbl.Get(rid2)
	assert.ErrorIs(t, err, heap.ErrNotFound)

	err = tbl.Remove(rid2)
	assert.ErrorIs(t, err, heap.ErrNotFound)
}

func TestTable_RemoveReferencedRowFails(t *testing.T) {
	bp := newTestPool(t)
	tbl, err := heap.Create(usersSchema(), bp)
	require.NoError(t, err)
	defer tbl.Close()

	rid, err := tbl.Append([]any{int32(1), "a", nil})
	require.NoError(t, err)

	require.NoError(t, tbl.PinRef(rid))
	count, err := tbl.RefCount(rid)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), count)

	err = tbl.Remove(rid)
	assert.ErrorIs(t, err, heap.ErrReferencedRow)

	require.NoError(t, tbl.UnpinRef(rid))
	count, err = tbl.RefCount(rid)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), count)

	assert.NoError(t, tbl.Remove(rid))
}

func TestTable_UnpinRefUnderflow(t *testing.T) {
	bp := newTestPool(t)
	tbl, err := heap.Create(usersSchema(), bp)
	require.NoError(t, err)
	defer tbl.Close()

	rid, err := tbl.Append([]any{int32(1), "a", nil})
	require.NoError(t, err)

	err = tbl.UnpinRef(rid)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvariantViolation)
}

func TestTable_UpdateSameLengthInPlace(t *testing.T) {
	bp := newTestPool(t)
	tbl, err := heap.Create(usersSchema(), bp)
	require.NoError(t, err)
	defer tbl.Close()

	rid, err := tbl.Append([]any{int32(1), "abcdefgh", int32(5)})
	require.NoError(t, err)

	newRID, err := tbl.Update(rid, []any{int32(1), "zyxwvuts", int32(6)})
	require.NoError(t, err)
	assert.Equal(t, rid, newRID)

	row, err := tbl.Get(rid)
	require.NoError(t, err)
	assert.Equal(t, "zyxwvuts", row[1])
	assert.Equal(t, int32(6), row[2])
}

func TestTable_UpdateDifferentLengthCarriesRefCount(t *testing.T) {
	bp := newTestPool(t)
	tbl, err := heap.Create(usersSchema(), bp)
	require.NoError(t, err)
	defer tbl.Close()

	rid, err := tbl.Append([]any{int32(1), "short", nil})
	require.NoError(t, err)
	require.NoError(t, tbl.PinRef(rid))

	newRID, err := tbl.Update(rid, []any{int32(1), "a much longer name string", nil})
	require.NoError(t, err)
	assert.NotEqual(t, rid, newRID)

	count, err := tbl.RefCount(newRID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), count)

	err = tbl.Remove(newRID)
	assert.ErrorIs(t, err, heap.ErrReferencedRow)
}

func TestTable_IterSkipsRemoved(t *testing.T) {
	bp := newTestPool(t)
	tbl, err := heap.Create(usersSchema(), bp)
	require.NoError(t, err)
	defer tbl.Close()

	var rids []heap.RID
	for i := 0; i < 10; i++ {
		rid, err := tbl.Append([]any{int32(i), "x", nil})
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	require.NoError(t, tbl.Remove(rids[3]))
	require.NoError(t, tbl.Remove(rids[7]))

	entries, err := tbl.Iter()
	require.NoError(t, err)
	assert.Len(t, entries, 8)
}

func TestTable_CloseAndReopen(t *testing.T) {
	bp := newTestPool(t)
	tbl, err := heap.Create(usersSchema(), bp)
	require.NoError(t, err)

	rid, err := tbl.Append([]any{int32(42), "persisted", nil})
	require.NoError(t, err)
	rootID := tbl.RootID()
	require.NoError(t, tbl.Close())

	reopened, err := heap.Open(rootID, bp)
	require.NoError(t, err)
	defer reopened.Close()

	row, err := reopened.Get(rid)
	require.NoError(t, err)
	assert.Equal(t, int32(42), row[0])
	assert.Equal(t, "persisted", row[1])
}
