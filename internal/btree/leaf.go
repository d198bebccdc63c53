package btree

import (
	"errors"

	"naivedb/internal/heap"
	"naivedb/internal/record"
	"naivedb/internal/storage"
)

func (t *Tree) leafMaxEntries() int {
	return maxEntries(t.keyWidth, ridSize, leafMetaSize)
}

func (t *Tree) leafMinOccupancy() int {
	n := t.leafMaxEntries() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// insertLeaf inserts (key, rid) into the leaf at pageID, splitting it if
// full. Returns (promotedKey, rightID, true) on split.
func (t *Tree) insertLeaf(pageID storage.PageId, key, value []byte) ([]byte, storage.PageId, bool, error) {
	g, err := t.bp.Fetch(pageID)
	if err != nil {
		return nil, 0, false, err
	}
	sp := storage.NewSlottedPage(pageID, g.Bytes(), t.keyWidth, leafMetaSize)

	if t.unique && !record.KeyHasNull(t.keySchema, key) {
		if _, found := sp.BinarySearch(key, t.cmp); found {
			_ = g.Unpin(false)
			return nil, 0, false, ErrDuplicateKey
		}
	}

	if _, err := sp.InsertSorted(key, value, t.cmp); err == nil {
		if uErr := g.Unpin(true); uErr != nil {
			return nil, 0, false, uErr
		}
		return nil, 0, false, nil
	} else if !errors.Is(err, storage.ErrPageFull) {
		_ = g.Unpin(false)
		return nil, 0, false, err
	}

	merged := mergeSortedInsert(sp.Iter(), key, value, t.cmp)
	maxN := t.leafMaxEntries()
	mid := len(merged) / 2
	if mid < 1 {
		mid = 1
	}
	if mid > maxN {
		mid = maxN
	}
	leftEntries, rightEntries := merged[:mid], merged[mid:]

	oldNext := sp.NextPageID()
	initLeaf(sp)
	for _, e := range leftEntries {
		if _, err := sp.Insert(e.Key, e.Value); err != nil {
			_ = g.Unpin(false)
			return nil, 0, false, err
		}
	}

	rg, err := t.bp.Alloc()
	if err != nil {
		_ = g.Unpin(true)
		return nil, 0, false, err
	}
	rsp := storage.NewSlottedPage(rg.ID(), rg.Bytes(), t.keyWidth, leafMetaSize)
	initLeaf(rsp)
	for _, e := range rightEntries {
		if _, err := rsp.Insert(e.Key, e.Value); err != nil {
			_ = g.Unpin(false)
			_ = rg.Unpin(false)
			return nil, 0, false, err
		}
	}
	rsp.SetNextPageID(oldNext)
	sp.SetNextPageID(rg.ID())

	if err := g.Unpin(true); err != nil {
		return nil, 0, false, err
	}
	if err := rg.Unpin(true); err != nil {
		return nil, 0, false, err
	}
	return rightEntries[0].Key, rg.ID(), true, nil
}

// removeLeaf deletes the (key, rid) pair from the leaf at pageID. Returns
// whether the leaf is now below its minimum occupancy.
func (t *Tree) removeLeaf(pageID storage.PageId, key []byte, rid heap.RID) (bool, error) {
	g, err := t.bp.Fetch(pageID)
	if err != nil {
		return false, err
	}
	sp := storage.NewSlottedPage(pageID, g.Bytes(), t.keyWidth, leafMetaSize)

	target := encodeRIDBytes(rid.PageID, rid.Slot)
	idx := -1
	for i := 0; i < sp.RecordCount(); i++ {
		k, v, ok := sp.Get(i)
		if !ok {
			continue
		}
		if t.cmp(k, key) == 0 && string(v) == string(target) {
			idx = i
			break
		}
	}
	if idx < 0 {
		_ = g.Unpin(false)
		return false, ErrNotFound
	}
	if err := sp.RemoveCompact(idx); err != nil {
		_ = g.Unpin(false)
		return false, err
	}
	underflow := sp.RecordCount() < t.leafMinOccupancy()
	if err := g.Unpin(true); err != nil {
		return false, err
	}
	return underflow, nil
}

// leafFirstKey returns the smallest key on the leaf at pageID.
func (t *Tree) leafFirstKey(pageID storage.PageId) ([]byte, error) {
	g, err := t.bp.Fetch(pageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = g.Unpin(false) }()
	sp := storage.NewSlottedPage(pageID, g.Bytes(), t.keyWidth, leafMetaSize)
	k, _, ok := sp.Get(0)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), k...), nil
}

// fixLeafUnderflow rebalances an underflowed leaf child by borrowing from a
// sibling or merging with one, updating parent's separators in place.
// parent's page is mutated directly; the caller unpins it.
func (t *Tree) fixLeafUnderflow(parent *storage.SlottedPage, childID storage.PageId) error {
	children, _ := internalChildren(parent)
	pos := indexOfChild(children, childID)

	var leftID, rightID storage.PageId
	hasLeft, hasRight := pos > 0, pos < len(children)-1
	if hasLeft {
		leftID = children[pos-1]
	}
	if hasRight {
		rightID = children[pos+1]
	}

	if hasRight {
		if borrowed, err := t.tryBorrowLeafRight(parent, pos, childID, rightID); err != nil {
			return err
		} else if borrowed {
			return nil
		}
	}
	if hasLeft {
		if borrowed, err := t.tryBorrowLeafLeft(parent, pos, childID, leftID); err != nil {
			return err
		} else if borrowed {
			return nil
		}
	}

	if hasRight {
		return t.mergeLeaves(parent, pos, childID, rightID)
	}
	return t.mergeLeaves(parent, pos-1, leftID, childID)
}

func (t *Tree) tryBorrowLeafRight(parent *storage.SlottedPage, pos int, childID, rightID storage.PageId) (bool, error) {
	rg, err := t.bp.Fetch(rightID)
	if err != nil {
		return false, err
	}
	rsp := storage.NewSlottedPage(rightID, rg.Bytes(), t.keyWidth, leafMetaSize)
	if rsp.RecordCount() <= t.leafMinOccupancy() {
		_ = rg.Unpin(false)
		return false, nil
	}
	k, v, _ := rsp.Get(0)
	k, v = append([]byte(nil), k...), append([]byte(nil), v...)
	if err := rsp.RemoveCompact(0); err != nil {
		_ = rg.Unpin(false)
		return false, err
	}

	cg, err := t.bp.Fetch(childID)
	if err != nil {
		_ = rg.Unpin(true)
		return false, err
	}
	csp := storage.NewSlottedPage(childID, cg.Bytes(), t.keyWidth, leafMetaSize)
	if _, err := csp.InsertSorted(k, v, t.cmp); err != nil {
		_ = rg.Unpin(true)
		_ = cg.Unpin(false)
		return false, err
	}

	newRightFirst, _, _ := rsp.Get(0)
	sepIdx := sepIndexForChild(parent, pos+1)
	if err := parent.SetKey(sepIdx, append([]byte(nil), newRightFirst...)); err != nil {
		_ = rg.Unpin(true)
		_ = cg.Unpin(true)
		return false, err
	}

	if err := rg.Unpin(true); err != nil {
		return false, err
	}
	if err := cg.Unpin(true); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tree) tryBorrowLeafLeft(parent *storage.SlottedPage, pos int, childID, leftID storage.PageId) (bool, error) {
	lg, err := t.bp.Fetch(leftID)
	if err != nil {
		return false, err
	}
	lsp := storage.NewSlottedPage(leftID, lg.Bytes(), t.keyWidth, leafMetaSize)
	n := lsp.RecordCount()
	if n <= t.leafMinOccupancy() {
		_ = lg.Unpin(false)
		return false, nil
	}
	k, v, _ := lsp.Get(n - 1)
	k, v = append([]byte(nil), k...), append([]byte(nil), v...)
	if err := lsp.RemoveCompact(n - 1); err != nil {
		_ = lg.Unpin(false)
		return false, err
	}

	cg, err := t.bp.Fetch(childID)
	if err != nil {
		_ = lg.Unpin(true)
		return false, err
	}
	csp := storage.NewSlottedPage(childID, cg.Bytes(), t.keyWidth, leafMetaSize)
	if _, err := csp.InsertSorted(k, v, t.cmp); err != nil {
		_ = lg.Unpin(true)
		_ = cg.Unpin(false)
		return false, err
	}

	sepIdx := sepIndexForChild(parent, pos)
	if err := parent.SetKey(sepIdx, k); err != nil {
		_ = lg.Unpin(true)
		_ = cg.Unpin(true)
		return false, err
	}

	if err := lg.Unpin(true); err != nil {
		return false, err
	}
	if err := cg.Unpin(true); err != nil {
		return false, err
	}
	return true, nil
}

// mergeLeaves merges the leaf at rightID into the leaf at leftID, removing
// the separator at position sepPos ("keys >= sep route to rightID") from
// parent, and deallocating rightID.
func (t *Tree) mergeLeaves(parent *storage.SlottedPage, sepPos int, leftID, rightID storage.PageId) error {
	lg, err := t.bp.Fetch(leftID)
	if err != nil {
		return err
	}
	lsp := storage.NewSlottedPage(leftID, lg.Bytes(), t.keyWidth, leafMetaSize)

	rg, err := t.bp.Fetch(rightID)
	if err != nil {
		_ = lg.Unpin(false)
		return err
	}
	rsp := storage.NewSlottedPage(rightID, rg.Bytes(), t.keyWidth, leafMetaSize)

	for _, e := range rsp.Iter() {
		if _, err := lsp.Insert(e.Key, e.Value); err != nil {
			_ = lg.Unpin(true)
			_ = rg.Unpin(false)
			return err
		}
	}
	lsp.SetNextPageID(rsp.NextPageID())

	if err := lg.Unpin(true); err != nil {
		return err
	}
	if err := rg.Unpin(false); err != nil {
		return err
	}
	if err := t.bp.Dealloc(rightID); err != nil {
		return err
	}

	sepIdx := sepIndexForChild(parent, sepPos+1)
	return parent.RemoveCompact(sepIdx)
}

// internalChildren decodes an internal node's children (leftmost first) and
// their separator keys (len(seps) == len(children)-1).
func internalChildren(sp *storage.SlottedPage) (children []storage.PageId, seps [][]byte) {
	entries := sp.Iter()
	children = make([]storage.PageId, 0, len(entries)+1)
	children = append(children, internalLeftmost(sp))
	seps = make([][]byte, 0, len(entries))
	for _, e := range entries {
		children = append(children, decodeChildID(e.Value))
		seps = append(seps, e.Key)
	}
	return children, seps
}

func indexOfChild(children []storage.PageId, id storage.PageId) int {
	for i, c := range children {
		if c == id {
			return i
		}
	}
	return -1
}

// sepIndexForChild returns the slot index of the separator that routes to
// children[childPos] (childPos must be >= 1; children[0] has no separator).
func sepIndexForChild(sp *storage.SlottedPage, childPos int) int {
	return childPos - 1
}
