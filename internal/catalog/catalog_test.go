package catalog_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"naivedb/internal/bufferpool"
	"naivedb/internal/catalog"
	"naivedb/internal/record"
)

func newTestPool(t *testing.T) *bufferpool.Pool {
	t.Helper()
	dir := t.TempDir()
	bp, path, err := bufferpool.NewRandomPool(dir, 64)
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

func ordersSchema() record.Schema {
	return record.Schema{Cols: []record.Column{
		{Name: "id", Type: record.TypeInt, PrimaryKey: true},
		{Name: "user_id", Type: record.TypeInt},
	}}
}

func TestCatalog_DatabaseLifecycle(t *testing.T) {
	bp := newTestPool(t)
	cat, err := catalog.Create(bp)
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, cat.CreateDatabase("shop"))
	err = cat.CreateDatabase("shop")
	assert.ErrorIs(t, err, catalog.ErrDatabaseExists)

	assert.Equal(t, []string{"shop"}, cat.ShowDatabases())

	require.NoError(t, cat.UseDatabase("shop"))
	err = cat.UseDatabase("nope")
	assert.ErrorIs(t, err, catalog.ErrDatabaseNotFound)

	require.NoError(t, cat.DropDatabase("shop"))
	assert.Empty(t, cat.ShowDatabases())
}

func TestCatalog_DropDatabaseNotEmptyFails(t *testing.T) {
	bp := newTestPool(t)
	cat, err := catalog.Create(bp)
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, cat.CreateDatabase("shop"))
	require.NoError(t, cat.UseDatabase("shop"))
	require.NoError(t, cat.CreateTable("users", usersSchema()))

	err = cat.DropDatabase("shop")
	assert.ErrorIs(t, err, catalog.ErrDatabaseNotEmpty)
}

func TestCatalog_TableLifecycle(t *testing.T) {
	bp := newTestPool(t)
	cat, err := catalog.Create(bp)
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, cat.CreateDatabase("shop"))
	require.NoError(t, cat.UseDatabase("shop"))
	require.NoError(t, cat.CreateTable("users", usersSchema()))

	err = cat.CreateTable("users", usersSchema())
	assert.ErrorIs(t, err, catalog.ErrTableExists)

	tables, err := cat.ShowTables()
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)

	schema, err := cat.Desc("users")
	require.NoError(t, err)
	assert.Equal(t, usersSchema(), schema)

	tbl, err := cat.FindTable("users")
	require.NoError(t, err)
	rid, err := tbl.Append([]any{int32(1), "alice", int32(30)})
	require.NoError(t, err)
	require.NoError(t, tbl.Close())
	_ = rid

	require.NoError(t, cat.DropTable("users"))
	_, err = cat.FindTable("users")
	assert.ErrorIs(t, err, catalog.ErrTableNotFound)
}

func TestCatalog_CreateTableWithoutCurrentDatabaseFails(t *testing.T) {
	bp := newTestPool(t)
	cat, err := catalog.Create(bp)
	require.NoError(t, err)
	defer cat.Close()

	err = cat.CreateTable("users", usersSchema())
	assert.ErrorIs(t, err, catalog.ErrNoCurrentDatabase)
}

func TestCatalog_AddPrimaryBackfillsAndEnforcesUniqueness(t *testing.T) {
	bp := newTestPool(t)
	cat, err := catalog.Create(bp)
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, cat.CreateDatabase("shop"))
	require.NoError(t, cat.UseDatabase("shop"))
	require.NoError(t, cat.CreateTable("users", usersSchema()))

	tbl, err := cat.FindTable("users")
	require.NoError(t, err)
	_, err = tbl.Append([]any{int32(1), "alice", int32(30)})
	require.NoError(t, err)
	_, err = tbl.Append([]any{int32(2), "bob", nil})
	require.NoError(t, err)
	require.NoError(t, tbl.Close())

	require.NoError(t, cat.AddPrimary("users", []string{"id"}))

	indexes, err := cat.FindIndexesByTable("users")
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, catalog.IndexPrimary, indexes[0].Kind)
	assert.True(t, indexes[0].Unique)
	assert.Equal(t, []string{"id"}, indexes[0].Columns)
}

func TestCatalog_AddIndexTwiceFails(t *testing.T) {
	bp := newTestPool(t)
	cat, err := catalog.Create(bp)
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, cat.CreateDatabase("shop"))
	require.NoError(t, cat.UseDatabase("shop"))
	require.NoError(t, cat.CreateTable("users", usersSchema()))
	require.NoError(t, cat.AddUnique("users", "idx_name", []string{"name"}))

	err = cat.AddUnique("users", "idx_name", []string{"name"})
	assert.ErrorIs(t, err, catalog.ErrIndexExists)
}

func TestCatalog_AddIndexUnknownColumnFails(t *testing.T) {
	bp := newTestPool(t)
	cat, err := catalog.Create(bp)
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, cat.CreateDatabase("shop"))
	require.NoError(t, cat.UseDatabase("shop"))
	require.NoError(t, cat.CreateTable("users", usersSchema()))

	err = cat.AddIndex("users", "idx_bad", []string{"nope"})
	assert.ErrorIs(t, err, catalog.ErrUnknownColumn)
}

func TestCatalog_ForeignKeyDependentsAndDropTableGuard(t *testing.T) {
	bp := newTestPool(t)
	cat, err := catalog.Create(bp)
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, cat.CreateDatabase("shop"))
	require.NoError(t, cat.UseDatabase("shop"))
	require.NoError(t, cat.CreateTable("users", usersSchema()))
	require.NoError(t, cat.CreateTable("orders", ordersSchema()))

	require.NoError(t, cat.AddForeign("orders", "fk_user", []string{"user_id"}, "users", []string{"id"}))

	deps, err := cat.FindForeignKeyDependents("users")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "orders", deps[0].ChildTable)
	assert.Equal(t, "fk_user", deps[0].FKName)

	err = cat.DropTable("users")
	assert.ErrorIs(t, err, catalog.ErrHasDependents)

	require.NoError(t, cat.DropForeign("orders", "fk_user"))
	deps, err = cat.FindForeignKeyDependents("users")
	require.NoError(t, err)
	assert.Empty(t, deps)

	require.NoError(t, cat.DropTable("users"))
}

func TestCatalog_DropIndexNotFound(t *testing.T) {
	bp := newTestPool(t)
	cat, err := catalog.Create(bp)
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, cat.CreateDatabase("shop"))
	require.NoError(t, cat.UseDatabase("shop"))
	require.NoError(t, cat.CreateTable("users", usersSchema()))

	err = cat.DropIndex("users", "nope")
	assert.ErrorIs(t, err, catalog.ErrIndexNotFound)
}

func TestCatalog_CloseAndReopen(t *testing.T) {
	bp := newTestPool(t)
	cat, err := catalog.Create(bp)
	require.NoError(t, err)

	require.NoError(t, cat.CreateDatabase("shop"))
	rootID := cat.RootID()
	require.NoError(t, cat.Close())

	reopened, err := catalog.Open(rootID, bp)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []string{"shop"}, reopened.ShowDatabases())
}
