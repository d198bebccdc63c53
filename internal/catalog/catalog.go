// Package catalog implements the persistent catalog: a root directory of
// databases, each a slotted page of tables, each table carrying its own
// indexes page (allocated lazily) and a dependents page recording which
// other tables' foreign keys point at it.
package catalog

import (
	"fmt"
	"log/slog"

	"naivedb/internal/bufferpool"
	"naivedb/internal/heap"
	"naivedb/internal/record"
	"naivedb/internal/storage"
	"naivedb/pkg/bx"
)

var logPrefix = "catalog: "

// Catalog is the single process-wide root of every database, table, and
// index. Its root page is pinned for the Catalog's whole lifetime, the way
// heap.Table and btree.Tree pin their own root/descriptor pages.
type Catalog struct {
	bp        *bufferpool.Pool
	rootID    storage.PageId
	rootGuard *bufferpool.PageGuard

	currentDB string
	dbDirID   storage.PageId
}

// Create allocates a fresh, empty catalog root page. On a brand-new
// database file this is always storage.CatalogRootPageId: bp.Alloc's first
// call returns the page right after the disk manager's header page.
func Create(bp *bufferpool.Pool) (*Catalog, error) {
	g, err := bp.Alloc()
	if err != nil {
		return nil, err
	}
	if g.ID() != storage.CatalogRootPageId {
		slog.Warn(logPrefix+"catalog root allocated at unexpected page id", "id", g.ID())
	}
	sp := storage.NewSlottedPage(g.ID(), g.Bytes(), nameKeyWidth, 0)
	sp.Init()
	bp.MarkDirty(g.ID())
	slog.Debug(logPrefix+"created catalog root", "rootID", g.ID())
	return &Catalog{bp: bp, rootID: g.ID(), rootGuard: g, dbDirID: storage.InvalidPageId}, nil
}

// Open pins an existing catalog's root page.
func Open(rootID storage.PageId, bp *bufferpool.Pool) (*Catalog, error) {
	g, err := bp.Fetch(rootID)
	if err != nil {
		return nil, err
	}
	return &Catalog{bp: bp, rootID: rootID, rootGuard: g, dbDirID: storage.InvalidPageId}, nil
}

// Close releases the catalog root's pin. No other Catalog method may be
// called afterward.
func (c *Catalog) Close() error {
	return c.rootGuard.Unpin(false)
}

func (c *Catalog) RootID() storage.PageId { return c.rootID }

func (c *Catalog) rootPage() *storage.SlottedPage {
	return storage.NewSlottedPage(c.rootID, c.rootGuard.Bytes(), nameKeyWidth, 0)
}

// CreateDatabase registers a new, empty database.
func (c *Catalog) CreateDatabase(name string) error {
	key, err := encodeName(name)
	if err != nil {
		return err
	}
	sp := c.rootPage()
	if _, found := sp.BinarySearch(key, cmpName); found {
		return fmt.Errorf("%s%q: %w", logPrefix, name, ErrDatabaseExists)
	}

	dirG, err := c.bp.Alloc()
	if err != nil {
		return err
	}
	dirSP := storage.NewSlottedPage(dirG.ID(), dirG.Bytes(), nameKeyWidth, 0)
	dirSP.Init()
	if err := dirG.Unpin(true); err != nil {
		return err
	}

	if _, err := sp.InsertSorted(key, encodeU32(dirG.ID()), cmpName); err != nil {
		_ = c.bp.Dealloc(dirG.ID())
		return fmt.Errorf("%screate database %q: %w", logPrefix, name, err)
	}
	c.bp.MarkDirty(c.rootID)
	slog.Debug(logPrefix+"created database", "name", name, "dirID", dirG.ID())
	return nil
}

// DropDatabase removes an empty database. Fails with ErrDatabaseNotEmpty if
// it still has tables.
func (c *Catalog) DropDatabase(name string) error {
	key, err := encodeName(name)
	if err != nil {
		return err
	}
	sp := c.rootPage()
	idx, found := sp.BinarySearch(key, cmpName)
	if !found {
		return fmt.Errorf("%s%q: %w", logPrefix, name, ErrDatabaseNotFound)
	}
	_, val, _ := sp.Get(idx)
	dirID := decodeU32(val)

	dirG, err := c.bp.Fetch(dirID)
	if err != nil {
		return err
	}
	dirSP := storage.NewSlottedPage(dirID, dirG.Bytes(), nameKeyWidth, 0)
	count := dirSP.RecordCount()
	if err := dirG.Unpin(false); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%s%q: %w", logPrefix, name, ErrDatabaseNotEmpty)
	}

	if err := c.bp.Dealloc(dirID); err != nil {
		return err
	}
	if err := sp.RemoveCompact(idx); err != nil {
		return err
	}
	c.bp.MarkDirty(c.rootID)
	if c.currentDB == name {
		c.currentDB = ""
		c.dbDirID = storage.InvalidPageId
	}
	slog.Debug(logPrefix+"dropped database", "name", name)
	return nil
}

// ShowDatabases lists every registered database name.
func (c *Catalog) ShowDatabases() []string {
	sp := c.rootPage()
	var out []string
	for _, e := range sp.Iter() {
		out = append(out, decodeName(e.Key))
	}
	return out
}

// UseDatabase selects name as the current database for subsequent table
// and index operations.
func (c *Catalog) UseDatabase(name string) error {
	key, err := encodeName(name)
	if err != nil {
		return err
	}
	sp := c.rootPage()
	idx, found := sp.BinarySearch(key, cmpName)
	if !found {
		return fmt.Errorf("%s%q: %w", logPrefix, name, ErrDatabaseNotFound)
	}
	_, val, _ := sp.Get(idx)
	c.currentDB = name
	c.dbDirID = decodeU32(val)
	return nil
}

func (c *Catalog) requireCurrentDB() (*bufferpool.PageGuard, *storage.SlottedPage, error) {
	if c.dbDirID == storage.InvalidPageId {
		return nil, nil, ErrNoCurrentDatabase
	}
	g, err := c.bp.Fetch(c.dbDirID)
	if err != nil {
		return nil, nil, err
	}
	return g, storage.NewSlottedPage(c.dbDirID, g.Bytes(), nameKeyWidth, 0), nil
}

// ShowTables lists every table in the current database.
func (c *Catalog) ShowTables() ([]string, error) {
	g, sp, err := c.requireCurrentDB()
	if err != nil {
		return nil, err
	}
	defer func() { _ = g.Unpin(false) }()
	var out []string
	for _, e := range sp.Iter() {
		out = append(out, decodeName(e.Key))
	}
	return out, nil
}

// CreateTable registers a new, empty table in the current database.
func (c *Catalog) CreateTable(name string, schema record.Schema) error {
	key, err := encodeName(name)
	if err != nil {
		return err
	}
	g, sp, err := c.requireCurrentDB()
	if err != nil {
		return err
	}
	if _, found := sp.BinarySearch(key, cmpName); found {
		_ = g.Unpin(false)
		return fmt.Errorf("%s%q: %w", logPrefix, name, ErrTableExists)
	}

	tbl, err := heap.Create(schema, c.bp)
	if err != nil {
		_ = g.Unpin(false)
		return err
	}
	rootID := tbl.RootID()
	if err := tbl.Close(); err != nil {
		_ = g.Unpin(false)
		return err
	}

	value := encodeDBEntry(rootID, storage.InvalidPageId)
	if _, err := sp.InsertSorted(key, value, cmpName); err != nil {
		_ = g.Unpin(true)
		return fmt.Errorf("%screate table %q: %w", logPrefix, name, err)
	}
	if err := g.Unpin(true); err != nil {
		return err
	}
	slog.Debug(logPrefix+"created table", "name", name, "rootID", rootID)
	return nil
}

// DropTable deletes a table and every page it owns: its heap slices, its
// indexes, and its dependents page. Fails with ErrHasDependents if another
// table's foreign key still references it.
func (c *Catalog) DropTable(name string) error {
	key, err := encodeName(name)
	if err != nil {
		return err
	}
	g, sp, err := c.requireCurrentDB()
	if err != nil {
		return err
	}
	idx, found := sp.BinarySearch(key, cmpName)
	if !found {
		_ = g.Unpin(false)
		return fmt.Errorf("%s%q: %w", logPrefix, name, ErrTableNotFound)
	}
	_, val, _ := sp.Get(idx)
	tableRoot, depsID := decodeDBEntry(val)

	if depsID != storage.InvalidPageId {
		depsG, err := c.bp.Fetch(depsID)
		if err != nil {
			_ = g.Unpin(false)
			return err
		}
		depsSP := storage.NewSlottedPage(depsID, depsG.Bytes(), nameKeyWidth, 0)
		n := depsSP.RecordCount()
		if err := depsG.Unpin(false); err != nil {
			_ = g.Unpin(false)
			return err
		}
		if n > 0 {
			_ = g.Unpin(false)
			return fmt.Errorf("%s%q: %w", logPrefix, name, ErrHasDependents)
		}
		if err := c.bp.Dealloc(depsID); err != nil {
			_ = g.Unpin(false)
			return err
		}
	}

	tbl, err := heap.Open(tableRoot, c.bp)
	if err != nil {
		_ = g.Unpin(false)
		return err
	}
	if indexesID := tbl.IndexesPageID(); indexesID != storage.InvalidPageId {
		if err := c.dropAllIndexes(indexesID); err != nil {
			_ = tbl.Close()
			_ = g.Unpin(false)
			return err
		}
	}
	if err := tbl.Drop(); err != nil {
		_ = g.Unpin(false)
		return err
	}

	if err := sp.RemoveCompact(idx); err != nil {
		_ = g.Unpin(true)
		return err
	}
	if err := g.Unpin(true); err != nil {
		return err
	}
	slog.Debug(logPrefix+"dropped table", "name", name)
	return nil
}

// FindTable opens the named table from the current database. The caller is
// responsible for closing it.
func (c *Catalog) FindTable(name string) (*heap.Table, error) {
	key, err := encodeName(name)
	if err != nil {
		return nil, err
	}
	g, sp, err := c.requireCurrentDB()
	if err != nil {
		return nil, err
	}
	defer func() { _ = g.Unpin(false) }()
	idx, found := sp.BinarySearch(key, cmpName)
	if !found {
		return nil, fmt.Errorf("%s%q: %w", logPrefix, name, ErrTableNotFound)
	}
	_, val, _ := sp.Get(idx)
	tableRoot, _ := decodeDBEntry(val)
	return heap.Open(tableRoot, c.bp)
}

// Desc returns the named table's schema.
func (c *Catalog) Desc(name string) (record.Schema, error) {
	tbl, err := c.FindTable(name)
	if err != nil {
		return record.Schema{}, err
	}
	defer func() { _ = tbl.Close() }()
	return tbl.Schema(), nil
}

func encodeU32(id storage.PageId) []byte {
	buf := make([]byte, 4)
	bx.PutU32(buf, uint32(id))
	return buf
}

func decodeU32(buf []byte) storage.PageId {
	return storage.PageId(bx.U32(buf))
}

// tableEntry looks up name's directory entry, returning its slot index,
// table root, and dependents page id. Used by index.go, which needs to
// both read and rewrite a table's dbEntry (to record a lazily allocated
// indexes or dependents page).
func (c *Catalog) tableEntry(sp *storage.SlottedPage, name string) (idx int, tableRoot, depsID storage.PageId, err error) {
	key, err := encodeName(name)
	if err != nil {
		return 0, 0, 0, err
	}
	i, found := sp.BinarySearch(key, cmpName)
	if !found {
		return 0, 0, 0, fmt.Errorf("%s%q: %w", logPrefix, name, ErrTableNotFound)
	}
	_, val, _ := sp.Get(i)
	root, deps := decodeDBEntry(val)
	return i, root, deps, nil
}
