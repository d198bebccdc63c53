package heap

import (
	"errors"
	"fmt"
	"log/slog"

	"naivedb/internal/bufferpool"
	"naivedb/internal/record"
	"naivedb/internal/storage"
	"naivedb/pkg/bx"
)

var logPrefix = "heap: "

const refCountKeySize = 4

var (
	// ErrNotFound is returned when a RID does not resolve to a live tuple.
	ErrNotFound = errors.New("heap: row not found")

	// ErrReferencedRow is returned when removing a row that is still
	// referenced by a foreign-key pin (ref count > 0).
	ErrReferencedRow = errors.New("heap: row is referenced by a foreign key")
)

// Table is a named heap of tuples: a root page (schema, head-slice id,
// indexes-page id) pinned for the table object's whole lifetime, plus a
// chain of slices linked through the slotted page's next-page-id field.
type Table struct {
	bp        *bufferpool.Pool
	schema    record.Schema
	rootID    storage.PageId
	rootGuard *bufferpool.PageGuard
}

// root page layout: [schemaLen:4][schema bytes][firstSliceID:4][indexesPageID:4]
func rootSchemaLen(buf []byte) uint32 { return bx.U32At(buf, 0) }

func rootFirstSliceOffset(buf []byte) int { return 4 + int(rootSchemaLen(buf)) }

func rootIndexesOffset(buf []byte) int { return rootFirstSliceOffset(buf) + 4 }

// Create allocates a fresh root page for a new, empty table.
func Create(schema record.Schema, bp *bufferpool.Pool) (*Table, error) {
	g, err := bp.Alloc()
	if err != nil {
		return nil, err
	}
	buf := g.Bytes()
	schemaBytes := record.EncodeSchema(schema)
	bx.PutU32At(buf, 0, uint32(len(schemaBytes)))
	copy(buf[4:], schemaBytes)
	off := rootFirstSliceOffset(buf)
	bx.PutU32At(buf, off, uint32(storage.InvalidPageId))
	bx.PutU32At(buf, off+4, uint32(storage.InvalidPageId))
	bp.MarkDirty(g.ID())

	slog.Debug(logPrefix+"created table", "rootID", g.ID())
	return &Table{bp: bp, schema: schema, rootID: g.ID(), rootGuard: g}, nil
}

// Open pins an existing table's root page and decodes its schema.
func Open(rootID storage.PageId, bp *bufferpool.Pool) (*Table, error) {
	g, err := bp.Fetch(rootID)
	if err != nil {
		return nil, err
	}
	buf := g.Bytes()
	schemaLen := rootSchemaLen(buf)
	schema, err := record.DecodeSchema(buf[4 : 4+schemaLen])
	if err != nil {
		_ = g.Unpin(false)
		return nil, err
	}
	return &Table{bp: bp, schema: schema, rootID: rootID, rootGuard: g}, nil
}

// Close releases the table's root page pin. No other Table method may be
// called afterward.
func (t *Table) Close() error {
	return t.rootGuard.Unpin(false)
}

// Drop deallocates every slice page in the chain plus the root page itself.
// The Table must not be used afterward.
func (t *Table) Drop() error {
	cur := t.firstSliceID()
	for cur != storage.InvalidPageId {
		g, err := t.bp.Fetch(cur)
		if err != nil {
			return err
		}
		sp := storage.NewSlottedPage(cur, g.Bytes(), refCountKeySize, 0)
		next := sp.NextPageID()
		if err := g.Unpin(false); err != nil {
			return err
		}
		if err := t.bp.Dealloc(cur); err != nil {
			return err
		}
		cur = next
	}
	if err := t.rootGuard.Unpin(false); err != nil {
		return err
	}
	return t.bp.Dealloc(t.rootID)
}

func (t *Table) RootID() storage.PageId { return t.rootID }

func (t *Table) Schema() record.Schema { return t.schema }

func (t *Table) firstSliceID() storage.PageId {
	buf := t.rootGuard.Bytes()
	return storage.PageId(bx.U32At(buf, rootFirstSliceOffset(buf)))
}

func (t *Table) setFirstSliceID(id storage.PageId) {
	buf := t.rootGuard.Bytes()
	bx.PutU32At(buf, rootFirstSliceOffset(buf), uint32(id))
	t.bp.MarkDirty(t.rootID)
}

// IndexesPageID returns the page listing this table's indexes, or
// storage.InvalidPageId if none has been created yet.
func (t *Table) IndexesPageID() storage.PageId {
	buf := t.rootGuard.Bytes()
	return storage.PageId(bx.U32At(buf, rootIndexesOffset(buf)))
}

// SetIndexesPageID records the page id of this table's index listing,
// created lazily by the catalog on the first index.
func (t *Table) SetIndexesPageID(id storage.PageId) {
	buf := t.rootGuard.Bytes()
	bx.PutU32At(buf, rootIndexesOffset(buf), uint32(id))
	t.bp.MarkDirty(t.rootID)
}

// Append validates values against the schema, encodes them, and inserts the
// tuple into the first slice with room, scanning the chain from the head;
// if none has room, a new slice is allocated and linked at the head.
func (t *Table) Append(values []any) (RID, error) {
	tup, err := record.EncodeRow(t.schema, values)
	if err != nil {
		return RID{}, err
	}
	return t.appendWithRefCount(tup, 0)
}

func (t *Table) appendWithRefCount(tup []byte, refCount uint32) (RID, error) {
	key := make([]byte, refCountKeySize)
	bx.PutU32(key, refCount)

	cur := t.firstSliceID()
	for cur != storage.InvalidPageId {
		g, err := t.bp.Fetch(cur)
		if err != nil {
			return RID{}, err
		}
		sp := storage.NewSlottedPage(cur, g.Bytes(), refCountKeySize, 0)
		idx, err := sp.Insert(key, tup)
		if err == nil {
			if err := g.Unpin(true); err != nil {
				return RID{}, err
			}
			return RID{PageID: cur, Slot: idx}, nil
		}
		if !errors.Is(err, storage.ErrPageFull) {
			_ = g.Unpin(false)
			return RID{}, err
		}
		next := sp.NextPageID()
		if err := g.Unpin(false); err != nil {
			return RID{}, err
		}
		cur = next
	}

	g, err := t.bp.Alloc()
	if err != nil {
		return RID{}, err
	}
	sp := storage.NewSlottedPage(g.ID(), g.Bytes(), refCountKeySize, 0)
	sp.Init()
	sp.SetNextPageID(t.firstSliceID())
	idx, err := sp.Insert(key, tup)
	if err != nil {
		_ = g.Unpin(false)
		return RID{}, fmt.Errorf("%sappend to fresh slice: %w", logPrefix, err)
	}
	t.setFirstSliceID(g.ID())
	if err := g.Unpin(true); err != nil {
		return RID{}, err
	}
	slog.Debug(logPrefix+"allocated new slice", "sliceID", g.ID())
	return RID{PageID: g.ID(), Slot: idx}, nil
}

// Get reads the tuple at rid, decoded against the schema.
func (t *Table) Get(rid RID) ([]any, error) {
	g, err := t.bp.Fetch(rid.PageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = g.Unpin(false) }()

	sp := storage.NewSlottedPage(rid.PageID, g.Bytes(), refCountKeySize, 0)
	_, val, ok := sp.Get(rid.Slot)
	if !ok {
		return nil, ErrNotFound
	}
	return record.DecodeRow(t.schema, val)
}

// Remove deletes the tuple at rid. Fails with ErrReferencedRow if the row's
// foreign-key reference counter is still above zero.
func (t *Table) Remove(rid RID) error {
	g, err := t.bp.Fetch(rid.PageID)
	if err != nil {
		return err
	}
	sp := storage.NewSlottedPage(rid.PageID, g.Bytes(), refCountKeySize, 0)
	key, _, ok := sp.Get(rid.Slot)
	if !ok {
		_ = g.Unpin(false)
		return ErrNotFound
	}
	if bx.U32(key) > 0 {
		_ = g.Unpin(false)
		return ErrReferencedRow
	}
	err = sp.Remove(rid.Slot)
	if uErr := g.Unpin(err == nil); uErr != nil {
		return uErr
	}
	return err
}

// Update overwrites the tuple at rid in place when the new encoding is the
// same length, otherwise removes it and appends a fresh copy (yielding a
// new RID), carrying its foreign-key reference counter forward.
func (t *Table) Update(rid RID, values []any) (RID, error) {
	tup, err := record.EncodeRow(t.schema, values)
	if err != nil {
		return RID{}, err
	}

	g, err := t.bp.Fetch(rid.PageID)
	if err != nil {
		return RID{}, err
	}
	sp := storage.NewSlottedPage(rid.PageID, g.Bytes(), refCountKeySize, 0)
	key, oldVal, ok := sp.Get(rid.Slot)
	if !ok {
		_ = g.Unpin(false)
		return RID{}, ErrNotFound
	}

	if len(tup) == len(oldVal) {
		err := sp.SetValue(rid.Slot, tup)
		if uErr := g.Unpin(err == nil); uErr != nil {
			return RID{}, uErr
		}
		return rid, err
	}

	refCount := bx.U32(key)
	if err := sp.Remove(rid.Slot); err != nil {
		_ = g.Unpin(false)
		return RID{}, err
	}
	if err := g.Unpin(true); err != nil {
		return RID{}, err
	}
	return t.appendWithRefCount(tup, refCount)
}

// TupleEntry is one row yielded by Iter.
type TupleEntry struct {
	RID RID
	Row []any
}

// Iter walks every slice in the chain and decodes every live tuple.
func (t *Table) Iter() ([]TupleEntry, error) {
	var out []TupleEntry
	cur := t.firstSliceID()
	for cur != storage.InvalidPageId {
		g, err := t.bp.Fetch(cur)
		if err != nil {
			return nil, err
		}
		sp := storage.NewSlottedPage(cur, g.Bytes(), refCountKeySize, 0)
		for _, e := range sp.Iter() {
			row, err := record.DecodeRow(t.schema, e.Value)
			if err != nil {
				_ = g.Unpin(false)
				return nil, err
			}
			out = append(out, TupleEntry{RID: RID{PageID: cur, Slot: e.Index}, Row: row})
		}
		next := sp.NextPageID()
		if err := g.Unpin(false); err != nil {
			return nil, err
		}
		cur = next
	}
	return out, nil
}

// PinRef increments rid's foreign-key reference counter by one. Called when
// a child row is inserted referencing this row.
func (t *Table) PinRef(rid RID) error {
	return t.adjustRef(rid, 1)
}

// UnpinRef decrements rid's foreign-key reference counter by one. Called
// when a child row referencing this row is deleted.
func (t *Table) UnpinRef(rid RID) error {
	return t.adjustRef(rid, -1)
}

func (t *Table) adjustRef(rid RID, delta int) error {
	g, err := t.bp.Fetch(rid.PageID)
	if err != nil {
		return err
	}
	sp := storage.NewSlottedPage(rid.PageID, g.Bytes(), refCountKeySize, 0)
	key, _, ok := sp.Get(rid.Slot)
	if !ok {
		_ = g.Unpin(false)
		return ErrNotFound
	}
	count := int64(bx.U32(key)) + int64(delta)
	if count < 0 {
		_ = g.Unpin(false)
		return fmt.Errorf("%sref count underflow at %+v: %w", logPrefix, rid, storage.ErrInvariantViolation)
	}
	newKey := make([]byte, refCountKeySize)
	bx.PutU32(newKey, uint32(count))
	if err := sp.SetKey(rid.Slot, newKey); err != nil {
		_ = g.Unpin(false)
		return err
	}
	return g.Unpin(true)
}

// RefCount returns rid's current foreign-key reference counter.
func (t *Table) RefCount(rid RID) (uint32, error) {
	g, err := t.bp.Fetch(rid.PageID)
	if err != nil {
		return 0, err
	}
	defer func() { _ = g.Unpin(false) }()
	sp := storage.NewSlottedPage(rid.PageID, g.Bytes(), refCountKeySize, 0)
	key, _, ok := sp.Get(rid.Slot)
	if !ok {
		return 0, ErrNotFound
	}
	return bx.U32(key), nil
}
