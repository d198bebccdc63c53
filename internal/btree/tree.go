// Package btree implements the persistent B+ tree secondary index: a
// root descriptor page (key schema, root node page id, height) plus a tree
// of slotted-page leaf and internal nodes.
package btree

import (
	"fmt"
	"log/slog"

	"naivedb/internal/bufferpool"
	"naivedb/internal/heap"
	"naivedb/internal/record"
	"naivedb/internal/storage"
	"naivedb/pkg/bx"
)

var logPrefix = "btree: "

// Tree is a B+ tree index over composite keys encoded per keySchema,
// mapping each key to one or more heap.RIDs.
type Tree struct {
	bp        *bufferpool.Pool
	keySchema []record.Column
	keyWidth  int
	unique    bool

	descID    storage.PageId
	descGuard *bufferpool.PageGuard
	closed    bool
}

// descriptor page layout: [keySchemaLen:4][keySchema bytes][rootID:4][height:4][unique:1]
func descSchemaLen(buf []byte) uint32   { return bx.U32At(buf, 0) }
func descRootOffset(buf []byte) int     { return 4 + int(descSchemaLen(buf)) }
func descHeightOffset(buf []byte) int   { return descRootOffset(buf) + 4 }
func descUniqueOffset(buf []byte) int   { return descHeightOffset(buf) + 4 }

// Create allocates a descriptor page and an empty root leaf for a new index
// over keySchema. unique enables the duplicate-key check on Insert.
func Create(keySchema []record.Column, unique bool, bp *bufferpool.Pool) (*Tree, error) {
	rootG, err := bp.Alloc()
	if err != nil {
		return nil, err
	}
	rootSP := storage.NewSlottedPage(rootG.ID(), rootG.Bytes(), record.KeyWidth(keySchema), leafMetaSize)
	initLeaf(rootSP)
	if err := rootG.Unpin(true); err != nil {
		return nil, err
	}

	descG, err := bp.Alloc()
	if err != nil {
		return nil, err
	}
	buf := descG.Bytes()
	schemaBytes := record.EncodeSchema(record.Schema{Cols: keySchema})
	bx.PutU32At(buf, 0, uint32(len(schemaBytes)))
	copy(buf[4:], schemaBytes)
	off := descRootOffset(buf)
	bx.PutU32At(buf, off, uint32(rootG.ID()))
	bx.PutU32At(buf, off+4, 1)
	if unique {
		buf[off+8] = 1
	}
	bp.MarkDirty(descG.ID())

	slog.Debug(logPrefix+"created index", "descID", descG.ID(), "rootID", rootG.ID())
	return &Tree{
		bp:        bp,
		keySchema: keySchema,
		keyWidth:  record.KeyWidth(keySchema),
		unique:    unique,
		descID:    descG.ID(),
		descGuard: descG,
	}, nil
}

// Open pins an existing index's descriptor page and decodes its key schema.
func Open(descID storage.PageId, bp *bufferpool.Pool) (*Tree, error) {
	g, err := bp.Fetch(descID)
	if err != nil {
		return nil, err
	}
	buf := g.Bytes()
	schemaLen := descSchemaLen(buf)
	schema, err := record.DecodeSchema(buf[4 : 4+schemaLen])
	if err != nil {
		_ = g.Unpin(false)
		return nil, err
	}
	unique := buf[descUniqueOffset(buf)] != 0
	return &Tree{
		bp:        bp,
		keySchema: schema.Cols,
		keyWidth:  record.KeyWidth(schema.Cols),
		unique:    unique,
		descID:    descID,
		descGuard: g,
	}, nil
}

func (t *Tree) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.descGuard.Unpin(false)
}

// Drop deallocates every page belonging to this index, including its
// descriptor page. The Tree must not be used afterward.
func (t *Tree) Drop() error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	if err := t.dropSubtree(t.rootID(), t.height()); err != nil {
		return err
	}
	t.closed = true
	if err := t.descGuard.Unpin(false); err != nil {
		return err
	}
	return t.bp.Dealloc(t.descID)
}

func (t *Tree) dropSubtree(pageID storage.PageId, level int) error {
	if level <= 1 {
		return t.bp.Dealloc(pageID)
	}
	g, err := t.bp.Fetch(pageID)
	if err != nil {
		return err
	}
	sp := storage.NewSlottedPage(pageID, g.Bytes(), t.keyWidth, internalMetaSize)
	children, _ := internalChildren(sp)
	if err := g.Unpin(false); err != nil {
		return err
	}
	for _, c := range children {
		if err := t.dropSubtree(c, level-1); err != nil {
			return err
		}
	}
	return t.bp.Dealloc(pageID)
}

func (t *Tree) DescID() storage.PageId  { return t.descID }
func (t *Tree) Unique() bool            { return t.unique }
func (t *Tree) KeySchema() []record.Column { return t.keySchema }

func (t *Tree) cmp(a, b []byte) int { return record.CompareKeys(t.keySchema, a, b) }

func (t *Tree) ensureOpen() error {
	if t.closed {
		return ErrTreeClosed
	}
	return nil
}

func (t *Tree) rootID() storage.PageId {
	buf := t.descGuard.Bytes()
	return storage.PageId(bx.U32At(buf, descRootOffset(buf)))
}

func (t *Tree) setRoot(id storage.PageId) {
	buf := t.descGuard.Bytes()
	bx.PutU32At(buf, descRootOffset(buf), uint32(id))
	t.bp.MarkDirty(t.descID)
}

func (t *Tree) height() int {
	buf := t.descGuard.Bytes()
	return int(bx.U32At(buf, descHeightOffset(buf)))
}

func (t *Tree) setHeight(h int) {
	buf := t.descGuard.Bytes()
	bx.PutU32At(buf, descHeightOffset(buf), uint32(h))
	t.bp.MarkDirty(t.descID)
}

// Insert adds (key, rid) to the index. Fails with ErrDuplicateKey if the
// index is unique, key is non-null, and an entry for key already exists.
func (t *Tree) Insert(key []byte, rid heap.RID) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	if len(key) != t.keyWidth {
		return fmt.Errorf("%sinsert: %w", logPrefix, ErrKeyWidthMismatch)
	}

	promotedKey, rightID, split, err := t.insertAt(t.rootID(), t.height(), key, encodeRIDBytes(rid.PageID, rid.Slot))
	if err != nil {
		return err
	}
	if !split {
		return nil
	}

	rg, err := t.bp.Alloc()
	if err != nil {
		return err
	}
	rsp := storage.NewSlottedPage(rg.ID(), rg.Bytes(), t.keyWidth, internalMetaSize)
	initInternal(rsp, t.rootID())
	if _, err := rsp.Insert(promotedKey, encodeChildID(rightID)); err != nil {
		_ = rg.Unpin(false)
		return err
	}
	if err := rg.Unpin(true); err != nil {
		return err
	}

	slog.Debug(logPrefix+"root split", "newRoot", rg.ID(), "newHeight", t.height()+1)
	t.setRoot(rg.ID())
	t.setHeight(t.height() + 1)
	return nil
}

func (t *Tree) insertAt(pageID storage.PageId, level int, key, value []byte) ([]byte, storage.PageId, bool, error) {
	if level == 1 {
		return t.insertLeaf(pageID, key, value)
	}

	g, err := t.bp.Fetch(pageID)
	if err != nil {
		return nil, 0, false, err
	}
	sp := storage.NewSlottedPage(pageID, g.Bytes(), t.keyWidth, internalMetaSize)
	childID := t.findChild(sp, key)
	if err := g.Unpin(false); err != nil {
		return nil, 0, false, err
	}

	childPromoted, childRight, childSplit, err := t.insertAt(childID, level-1, key, value)
	if err != nil {
		return nil, 0, false, err
	}
	if !childSplit {
		return nil, 0, false, nil
	}
	return t.insertInternal(pageID, childPromoted, childRight)
}

// Remove deletes the (key, rid) entry. Fails with ErrNotFound if absent.
func (t *Tree) Remove(key []byte, rid heap.RID) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	if len(key) != t.keyWidth {
		return fmt.Errorf("%sremove: %w", logPrefix, ErrKeyWidthMismatch)
	}

	if _, err := t.removeAt(t.rootID(), t.height(), key, rid); err != nil {
		return err
	}

	if t.height() > 1 {
		g, err := t.bp.Fetch(t.rootID())
		if err != nil {
			return err
		}
		sp := storage.NewSlottedPage(t.rootID(), g.Bytes(), t.keyWidth, internalMetaSize)
		if sp.RecordCount() == 0 {
			newRoot := internalLeftmost(sp)
			oldRoot := t.rootID()
			if err := g.Unpin(false); err != nil {
				return err
			}
			if err := t.bp.Dealloc(oldRoot); err != nil {
				return err
			}
			t.setRoot(newRoot)
			t.setHeight(t.height() - 1)
			slog.Debug(logPrefix+"root collapsed", "newRoot", newRoot, "newHeight", t.height())
			return nil
		}
		if err := g.Unpin(false); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) removeAt(pageID storage.PageId, level int, key []byte, rid heap.RID) (bool, error) {
	if level == 1 {
		return t.removeLeaf(pageID, key, rid)
	}

	g, err := t.bp.Fetch(pageID)
	if err != nil {
		return false, err
	}
	sp := storage.NewSlottedPage(pageID, g.Bytes(), t.keyWidth, internalMetaSize)
	childID := t.findChild(sp, key)

	childUnderflow, err := t.removeAt(childID, level-1, key, rid)
	if err != nil {
		_ = g.Unpin(false)
		return false, err
	}
	if !childUnderflow {
		_ = g.Unpin(false)
		return false, nil
	}

	var fixErr error
	if level-1 == 1 {
		fixErr = t.fixLeafUnderflow(sp, childID)
	} else {
		fixErr = t.fixInternalUnderflow(sp, childID)
	}
	if fixErr != nil {
		_ = g.Unpin(true)
		return false, fixErr
	}

	underflow := sp.RecordCount() < t.internalMinOccupancy()
	if err := g.Unpin(true); err != nil {
		return false, err
	}
	return underflow, nil
}

// SearchEqual returns every RID stored under key, walking the leaf chain
// when duplicates span more than one leaf.
func (t *Tree) SearchEqual(key []byte) ([]heap.RID, error) {
	if err := t.ensureOpen(); err != nil {
		return nil, err
	}
	pageID, err := t.descendToLeaf(key)
	if err != nil {
		return nil, err
	}

	var out []heap.RID
	for pageID != storage.InvalidPageId {
		g, err := t.bp.Fetch(pageID)
		if err != nil {
			return nil, err
		}
		sp := storage.NewSlottedPage(pageID, g.Bytes(), t.keyWidth, leafMetaSize)
		idx, found := sp.BinarySearch(key, t.cmp)
		if !found {
			_ = g.Unpin(false)
			break
		}
		reachedEnd := true
		n := sp.RecordCount()
		for i := idx; i < n; i++ {
			k, v, ok := sp.Get(i)
			if !ok {
				continue
			}
			if t.cmp(k, key) != 0 {
				reachedEnd = false
				break
			}
			out = append(out, decodeRIDBytes(v))
		}
		next := sp.NextPageID()
		if err := g.Unpin(false); err != nil {
			return nil, err
		}
		if !reachedEnd {
			break
		}
		pageID = next
	}
	return out, nil
}

func (t *Tree) descendToLeaf(key []byte) (storage.PageId, error) {
	pageID := t.rootID()
	level := t.height()
	for level > 1 {
		g, err := t.bp.Fetch(pageID)
		if err != nil {
			return 0, err
		}
		sp := storage.NewSlottedPage(pageID, g.Bytes(), t.keyWidth, internalMetaSize)
		child := t.findChild(sp, key)
		if err := g.Unpin(false); err != nil {
			return 0, err
		}
		pageID = child
		level--
	}
	return pageID, nil
}

// IterFrom positions a cursor at the first entry with key >= from (or the
// very first entry if from is nil), walking the leaf link chain forward.
// The returned iterator is a finite, non-restartable sequence: callers
// re-seek with IterFrom to start over.
func (t *Tree) IterFrom(from []byte) (*Iterator, error) {
	if err := t.ensureOpen(); err != nil {
		return nil, err
	}
	var pageID storage.PageId
	var idx int
	if from == nil {
		pageID = t.leftmostLeaf()
		idx = 0
	} else {
		var err error
		pageID, err = t.descendToLeaf(from)
		if err != nil {
			return nil, err
		}
		g, err := t.bp.Fetch(pageID)
		if err != nil {
			return nil, err
		}
		sp := storage.NewSlottedPage(pageID, g.Bytes(), t.keyWidth, leafMetaSize)
		idx, _ = sp.BinarySearch(from, t.cmp)
		if err := g.Unpin(false); err != nil {
			return nil, err
		}
	}
	return &Iterator{tree: t, pageID: pageID, idx: idx}, nil
}

func (t *Tree) leftmostLeaf() storage.PageId {
	pageID := t.rootID()
	level := t.height()
	for level > 1 {
		g, err := t.bp.Fetch(pageID)
		if err != nil {
			return storage.InvalidPageId
		}
		sp := storage.NewSlottedPage(pageID, g.Bytes(), t.keyWidth, internalMetaSize)
		pageID = internalLeftmost(sp)
		_ = g.Unpin(false)
		level--
	}
	return pageID
}

func decodeRIDBytes(b []byte) heap.RID {
	return heap.RID{PageID: storage.PageId(bx.U32(b)), Slot: int(bx.U32(b[4:]))}
}
