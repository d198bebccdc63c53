package catalog

import (
	"fmt"
	"log/slog"

	"naivedb/internal/bufferpool"
	"naivedb/internal/btree"
	"naivedb/internal/heap"
	"naivedb/internal/record"
	"naivedb/internal/storage"
)

// resolveColumns maps column names against a table's schema, returning the
// matching Column descriptors (for building an index key schema) and their
// positions (for pulling values out of a decoded row).
func resolveColumns(schema record.Schema, names []string) ([]record.Column, []int, error) {
	cols := make([]record.Column, 0, len(names))
	positions := make([]int, 0, len(names))
	for _, name := range names {
		found := false
		for i, c := range schema.Cols {
			if c.Name == name {
				cols = append(cols, c)
				positions = append(positions, i)
				found = true
				break
			}
		}
		if !found {
			return nil, nil, fmt.Errorf("%s%q: %w", logPrefix, name, ErrUnknownColumn)
		}
	}
	return cols, positions, nil
}

// indexesPage fetches tableRoot's indexes page, allocating and recording
// one on the table's own root page if it doesn't have one yet.
func (c *Catalog) indexesPage(tableRoot storage.PageId) (*bufferpool.PageGuard, *storage.SlottedPage, error) {
	tbl, err := heap.Open(tableRoot, c.bp)
	if err != nil {
		return nil, nil, err
	}
	indexesID := tbl.IndexesPageID()
	if indexesID == storage.InvalidPageId {
		g, err := c.bp.Alloc()
		if err != nil {
			_ = tbl.Close()
			return nil, nil, err
		}
		sp := storage.NewSlottedPage(g.ID(), g.Bytes(), nameKeyWidth, 0)
		sp.Init()
		c.bp.MarkDirty(g.ID())
		tbl.SetIndexesPageID(g.ID())
		indexesID = g.ID()
		if err := tbl.Close(); err != nil {
			_ = g.Unpin(true)
			return nil, nil, err
		}
		if err := g.Unpin(true); err != nil {
			return nil, nil, err
		}
	} else {
		if err := tbl.Close(); err != nil {
			return nil, nil, err
		}
	}
	g, err := c.bp.Fetch(indexesID)
	if err != nil {
		return nil, nil, err
	}
	return g, storage.NewSlottedPage(indexesID, g.Bytes(), nameKeyWidth, 0), nil
}

// addIndex is the shared implementation behind AddPrimary, AddUnique,
// AddIndex, and AddForeign: it builds a btree over columns, backfills it
// from the table's existing rows, and records the descriptor under name on
// the table's indexes page.
func (c *Catalog) addIndex(tableName, name string, columns []string, kind IndexKind, unique bool, refTable string, refColumns []string) error {
	indexKey, err := encodeName(name)
	if err != nil {
		return err
	}

	dirG, dir, err := c.requireCurrentDB()
	if err != nil {
		return err
	}
	defer func() { _ = dirG.Unpin(false) }()

	_, tableRoot, _, err := c.tableEntry(dir, tableName)
	if err != nil {
		return err
	}

	tbl, err := heap.Open(tableRoot, c.bp)
	if err != nil {
		return err
	}
	schema := tbl.Schema()
	keyCols, positions, err := resolveColumns(schema, columns)
	if err != nil {
		_ = tbl.Close()
		return err
	}

	ig, isp, err := c.indexesPage(tableRoot)
	if err != nil {
		_ = tbl.Close()
		return err
	}
	if _, found := isp.BinarySearch(indexKey, cmpName); found {
		_ = ig.Unpin(false)
		_ = tbl.Close()
		return fmt.Errorf("%s%q: %w", logPrefix, name, ErrIndexExists)
	}

	tree, err := btree.Create(keyCols, unique, c.bp)
	if err != nil {
		_ = ig.Unpin(false)
		_ = tbl.Close()
		return err
	}

	rows, err := tbl.Iter()
	if err != nil {
		_ = tbl.Close()
		_ = ig.Unpin(false)
		return err
	}
	for _, row := range rows {
		values := make([]any, len(positions))
		for i, p := range positions {
			values[i] = row.Row[p]
		}
		key, err := record.EncodeKey(keyCols, values)
		if err != nil {
			_ = tbl.Close()
			_ = ig.Unpin(false)
			return err
		}
		if err := tree.Insert(key, row.RID); err != nil {
			_ = tbl.Close()
			_ = ig.Unpin(false)
			return err
		}
	}
	if err := tbl.Close(); err != nil {
		_ = ig.Unpin(false)
		return err
	}

	meta := IndexMeta{
		Name: name, DescID: tree.DescID(), Kind: kind, Unique: unique,
		Columns: columns, RefTable: refTable, RefColumns: refColumns,
	}
	if _, err := isp.InsertSorted(indexKey, encodeIndexMeta(meta), cmpName); err != nil {
		_ = ig.Unpin(true)
		return fmt.Errorf("%sadd index %q: %w", logPrefix, name, err)
	}
	if err := ig.Unpin(true); err != nil {
		return err
	}

	if kind == IndexForeign {
		if err := c.addDependent(dir, refTable, tableName, name); err != nil {
			return err
		}
	}
	slog.Debug(logPrefix+"added index", "table", tableName, "name", name, "kind", kind)
	return nil
}

// addDependent records, on parentTable's dependents page (allocating it if
// necessary), that childTable's foreign key fkName references it.
func (c *Catalog) addDependent(dir *storage.SlottedPage, parentTable, childTable, fkName string) error {
	idx, tableRoot, depsID, err := c.tableEntry(dir, parentTable)
	if err != nil {
		return err
	}
	if depsID == storage.InvalidPageId {
		g, err := c.bp.Alloc()
		if err != nil {
			return err
		}
		sp := storage.NewSlottedPage(g.ID(), g.Bytes(), nameKeyWidth, 0)
		sp.Init()
		c.bp.MarkDirty(g.ID())
		if err := g.Unpin(true); err != nil {
			return err
		}
		depsID = g.ID()
		if err := dir.SetValue(idx, encodeDBEntry(tableRoot, depsID)); err != nil {
			return err
		}
		c.bp.MarkDirty(dir.ID())
	}

	depsG, err := c.bp.Fetch(depsID)
	if err != nil {
		return err
	}
	depsSP := storage.NewSlottedPage(depsID, depsG.Bytes(), nameKeyWidth, 0)
	childKey, err := encodeName(childTable)
	if err != nil {
		_ = depsG.Unpin(false)
		return err
	}
	if _, err := depsSP.Insert(childKey, encodeDependent(fkName)); err != nil {
		_ = depsG.Unpin(false)
		return fmt.Errorf("%sadd dependent on %q: %w", logPrefix, parentTable, err)
	}
	return depsG.Unpin(true)
}

// AddPrimary creates a unique index over columns, designating it the
// table's primary key.
func (c *Catalog) AddPrimary(tableName string, columns []string) error {
	return c.addIndex(tableName, "__primary__", columns, IndexPrimary, true, "", nil)
}

// AddUnique creates a unique index over columns under name.
func (c *Catalog) AddUnique(tableName, name string, columns []string) error {
	return c.addIndex(tableName, name, columns, IndexUnique, true, "", nil)
}

// AddIndex creates a plain (non-unique) secondary index over columns under
// name.
func (c *Catalog) AddIndex(tableName, name string, columns []string) error {
	return c.addIndex(tableName, name, columns, IndexSecondary, false, "", nil)
}

// AddForeign creates a non-unique index over columns under name,
// registering it as a foreign key referencing refTable's refColumns.
func (c *Catalog) AddForeign(tableName, name string, columns []string, refTable string, refColumns []string) error {
	return c.addIndex(tableName, name, columns, IndexForeign, false, refTable, refColumns)
}

// dropIndex removes the named index from tableName's indexes page and
// deallocates its btree.
func (c *Catalog) dropIndex(tableName, name string) error {
	dirG, dir, err := c.requireCurrentDB()
	if err != nil {
		return err
	}
	defer func() { _ = dirG.Unpin(false) }()

	_, tableRoot, _, err := c.tableEntry(dir, tableName)
	if err != nil {
		return err
	}
	ig, isp, err := c.indexesPage(tableRoot)
	if err != nil {
		return err
	}

	key, err := encodeName(name)
	if err != nil {
		_ = ig.Unpin(false)
		return err
	}
	i, found := isp.BinarySearch(key, cmpName)
	if !found {
		_ = ig.Unpin(false)
		return fmt.Errorf("%s%q: %w", logPrefix, name, ErrIndexNotFound)
	}
	_, val, _ := isp.Get(i)
	meta, err := decodeIndexMeta(name, val)
	if err != nil {
		_ = ig.Unpin(false)
		return err
	}

	tree, err := btree.Open(meta.DescID, c.bp)
	if err != nil {
		_ = ig.Unpin(false)
		return err
	}
	if err := tree.Drop(); err != nil {
		_ = ig.Unpin(false)
		return err
	}
	if err := isp.RemoveCompact(i); err != nil {
		_ = ig.Unpin(true)
		return err
	}
	if err := ig.Unpin(true); err != nil {
		return err
	}

	if meta.Kind == IndexForeign {
		if err := c.removeDependent(dir, meta.RefTable, tableName, name); err != nil {
			return err
		}
	}
	slog.Debug(logPrefix+"dropped index", "table", tableName, "name", name)
	return nil
}

func (c *Catalog) removeDependent(dir *storage.SlottedPage, parentTable, childTable, fkName string) error {
	_, _, depsID, err := c.tableEntry(dir, parentTable)
	if err != nil || depsID == storage.InvalidPageId {
		return err
	}
	depsG, err := c.bp.Fetch(depsID)
	if err != nil {
		return err
	}
	depsSP := storage.NewSlottedPage(depsID, depsG.Bytes(), nameKeyWidth, 0)
	for _, e := range depsSP.Iter() {
		if decodeName(e.Key) == childTable && string(e.Value) == fkName {
			if err := depsSP.RemoveCompact(e.Index); err != nil {
				_ = depsG.Unpin(true)
				return err
			}
			return depsG.Unpin(true)
		}
	}
	return depsG.Unpin(false)
}

// DropPrimary removes a table's primary key.
func (c *Catalog) DropPrimary(tableName string) error {
	return c.dropIndex(tableName, "__primary__")
}

// DropForeign removes the named foreign key.
func (c *Catalog) DropForeign(tableName, name string) error {
	return c.dropIndex(tableName, name)
}

// DropIndex removes the named secondary index.
func (c *Catalog) DropIndex(tableName, name string) error {
	return c.dropIndex(tableName, name)
}

// FindIndexesByTable lists every index registered on tableName.
func (c *Catalog) FindIndexesByTable(tableName string) ([]IndexMeta, error) {
	dirG, dir, err := c.requireCurrentDB()
	if err != nil {
		return nil, err
	}
	defer func() { _ = dirG.Unpin(false) }()

	_, tableRoot, _, err := c.tableEntry(dir, tableName)
	if err != nil {
		return nil, err
	}
	tbl, err := heap.Open(tableRoot, c.bp)
	if err != nil {
		return nil, err
	}
	indexesID := tbl.IndexesPageID()
	if err := tbl.Close(); err != nil {
		return nil, err
	}
	if indexesID == storage.InvalidPageId {
		return nil, nil
	}

	g, err := c.bp.Fetch(indexesID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = g.Unpin(false) }()
	sp := storage.NewSlottedPage(indexesID, g.Bytes(), nameKeyWidth, 0)
	var out []IndexMeta
	for _, e := range sp.Iter() {
		meta, err := decodeIndexMeta(decodeName(e.Key), e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

// FindForeignKeyDependents lists every foreign key in the current database
// that references tableName.
func (c *Catalog) FindForeignKeyDependents(tableName string) ([]Dependent, error) {
	dirG, dir, err := c.requireCurrentDB()
	if err != nil {
		return nil, err
	}
	defer func() { _ = dirG.Unpin(false) }()

	_, _, depsID, err := c.tableEntry(dir, tableName)
	if err != nil {
		return nil, err
	}
	if depsID == storage.InvalidPageId {
		return nil, nil
	}
	g, err := c.bp.Fetch(depsID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = g.Unpin(false) }()
	sp := storage.NewSlottedPage(depsID, g.Bytes(), nameKeyWidth, 0)
	var out []Dependent
	for _, e := range sp.Iter() {
		out = append(out, Dependent{ChildTable: decodeName(e.Key), FKName: string(e.Value)})
	}
	return out, nil
}

// dropAllIndexes deallocates every index tree listed on a table's indexes
// page, then the indexes page itself. Used by DropTable.
func (c *Catalog) dropAllIndexes(indexesID storage.PageId) error {
	g, err := c.bp.Fetch(indexesID)
	if err != nil {
		return err
	}
	sp := storage.NewSlottedPage(indexesID, g.Bytes(), nameKeyWidth, 0)
	var descIDs []storage.PageId
	for _, e := range sp.Iter() {
		meta, err := decodeIndexMeta(decodeName(e.Key), e.Value)
		if err != nil {
			_ = g.Unpin(false)
			return err
		}
		descIDs = append(descIDs, meta.DescID)
	}
	if err := g.Unpin(false); err != nil {
		return err
	}
	for _, id := range descIDs {
		tree, err := btree.Open(id, c.bp)
		if err != nil {
			return err
		}
		if err := tree.Drop(); err != nil {
			return err
		}
	}
	return c.bp.Dealloc(indexesID)
}
