package btree

import (
	"errors"

	"naivedb/internal/storage"
)

func (t *Tree) internalMaxEntries() int {
	return maxEntries(t.keyWidth, childIDSize, internalMetaSize)
}

func (t *Tree) internalMinOccupancy() int {
	n := t.internalMaxEntries() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// findChild returns the child page id a search for key should descend into:
// the separator at slot i holds the least key routed to child i+1.
func (t *Tree) findChild(sp *storage.SlottedPage, key []byte) storage.PageId {
	idx, found := sp.BinarySearch(key, t.cmp)
	if found {
		_, v, _ := sp.Get(idx)
		return decodeChildID(v)
	}
	if idx == 0 {
		return internalLeftmost(sp)
	}
	_, v, _ := sp.Get(idx - 1)
	return decodeChildID(v)
}

// insertInternal inserts the (promotedKey, rightChild) separator produced by
// a child split into the internal node at pageID, splitting it in turn if
// it overflows.
func (t *Tree) insertInternal(pageID storage.PageId, promotedKey []byte, rightChild storage.PageId) ([]byte, storage.PageId, bool, error) {
	g, err := t.bp.Fetch(pageID)
	if err != nil {
		return nil, 0, false, err
	}
	sp := storage.NewSlottedPage(pageID, g.Bytes(), t.keyWidth, internalMetaSize)

	valBytes := encodeChildID(rightChild)
	if _, err := sp.InsertSorted(promotedKey, valBytes, t.cmp); err == nil {
		if uErr := g.Unpin(true); uErr != nil {
			return nil, 0, false, uErr
		}
		return nil, 0, false, nil
	} else if !errors.Is(err, storage.ErrPageFull) {
		_ = g.Unpin(false)
		return nil, 0, false, err
	}

	leftmost := internalLeftmost(sp)
	merged := mergeSortedInsert(sp.Iter(), promotedKey, valBytes, t.cmp)
	m := len(merged)

	splitIdx := (m + 1) / 2
	if splitIdx < 1 {
		splitIdx = 1
	}
	if splitIdx > m {
		splitIdx = m
	}

	promoted := append([]byte(nil), merged[splitIdx-1].Key...)
	rightLeftmost := decodeChildID(merged[splitIdx-1].Value)
	leftEntries := merged[:splitIdx-1]
	rightEntries := merged[splitIdx:]

	initInternal(sp, leftmost)
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
	rsp := storage.NewSlottedPage(rg.ID(), rg.Bytes(), t.keyWidth, internalMetaSize)
	initInternal(rsp, rightLeftmost)
	for _, e := range rightEntries {
		if _, err := rsp.Insert(e.Key, e.Value); err != nil {
			_ = g.Unpin(false)
			_ = rg.Unpin(false)
			return nil, 0, false, err
		}
	}

	if err := g.Unpin(true); err != nil {
		return nil, 0, false, err
	}
	if err := rg.Unpin(true); err != nil {
		return nil, 0, false, err
	}
	return promoted, rg.ID(), true, nil
}

// fixInternalUnderflow rebalances an underflowed internal child of parent by
// borrowing a child from a sibling or merging with one.
func (t *Tree) fixInternalUnderflow(parent *storage.SlottedPage, childID storage.PageId) error {
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
		if borrowed, err := t.tryBorrowInternalRight(parent, pos, childID, rightID); err != nil {
			return err
		} else if borrowed {
			return nil
		}
	}
	if hasLeft {
		if borrowed, err := t.tryBorrowInternalLeft(parent, pos, childID, leftID); err != nil {
			return err
		} else if borrowed {
			return nil
		}
	}

	if hasRight {
		return t.mergeInternals(parent, pos, childID, rightID)
	}
	return t.mergeInternals(parent, pos-1, leftID, childID)
}

func (t *Tree) tryBorrowInternalRight(parent *storage.SlottedPage, pos int, childID, rightID storage.PageId) (bool, error) {
	rg, err := t.bp.Fetch(rightID)
	if err != nil {
		return false, err
	}
	rsp := storage.NewSlottedPage(rightID, rg.Bytes(), t.keyWidth, internalMetaSize)
	if rsp.RecordCount() <= t.internalMinOccupancy() {
		_ = rg.Unpin(false)
		return false, nil
	}

	sepIdx := sepIndexForChild(parent, pos+1)
	sepKeyRaw, _, _ := parent.Get(sepIdx)
	sepKey := append([]byte(nil), sepKeyRaw...)
	rightOldLeftmost := internalLeftmost(rsp)

	firstKey, firstVal, _ := rsp.Get(0)
	newParentSep := append([]byte(nil), firstKey...)
	newRightLeftmost := decodeChildID(firstVal)
	if err := rsp.RemoveCompact(0); err != nil {
		_ = rg.Unpin(false)
		return false, err
	}
	setInternalLeftmost(rsp, newRightLeftmost)

	cg, err := t.bp.Fetch(childID)
	if err != nil {
		_ = rg.Unpin(true)
		return false, err
	}
	csp := storage.NewSlottedPage(childID, cg.Bytes(), t.keyWidth, internalMetaSize)
	if _, err := csp.Insert(sepKey, encodeChildID(rightOldLeftmost)); err != nil {
		_ = rg.Unpin(true)
		_ = cg.Unpin(false)
		return false, err
	}

	if err := parent.SetKey(sepIdx, newParentSep); err != nil {
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

func (t *Tree) tryBorrowInternalLeft(parent *storage.SlottedPage, pos int, childID, leftID storage.PageId) (bool, error) {
	lg, err := t.bp.Fetch(leftID)
	if err != nil {
		return false, err
	}
	lsp := storage.NewSlottedPage(leftID, lg.Bytes(), t.keyWidth, internalMetaSize)
	n := lsp.RecordCount()
	if n <= t.internalMinOccupancy() {
		_ = lg.Unpin(false)
		return false, nil
	}

	sepIdx := sepIndexForChild(parent, pos)
	sepKeyRaw, _, _ := parent.Get(sepIdx)
	sepKey := append([]byte(nil), sepKeyRaw...)

	lastKey, lastVal, _ := lsp.Get(n - 1)
	borrowedKey := append([]byte(nil), lastKey...)
	borrowedChild := decodeChildID(lastVal)
	if err := lsp.RemoveCompact(n - 1); err != nil {
		_ = lg.Unpin(false)
		return false, err
	}

	cg, err := t.bp.Fetch(childID)
	if err != nil {
		_ = lg.Unpin(true)
		return false, err
	}
	csp := storage.NewSlottedPage(childID, cg.Bytes(), t.keyWidth, internalMetaSize)
	oldLeftmost := internalLeftmost(csp)
	if _, err := csp.InsertSorted(sepKey, encodeChildID(oldLeftmost), t.cmp); err != nil {
		_ = lg.Unpin(true)
		_ = cg.Unpin(false)
		return false, err
	}
	setInternalLeftmost(csp, borrowedChild)

	if err := parent.SetKey(sepIdx, borrowedKey); err != nil {
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

// mergeInternals merges the internal node at rightID into the one at
// leftID, pulling the parent separator at sepPos down as the joining key.
func (t *Tree) mergeInternals(parent *storage.SlottedPage, sepPos int, leftID, rightID storage.PageId) error {
	sepIdx := sepIndexForChild(parent, sepPos+1)
	sepKeyRaw, _, _ := parent.Get(sepIdx)
	sepKey := append([]byte(nil), sepKeyRaw...)

	lg, err := t.bp.Fetch(leftID)
	if err != nil {
		return err
	}
	lsp := storage.NewSlottedPage(leftID, lg.Bytes(), t.keyWidth, internalMetaSize)

	rg, err := t.bp.Fetch(rightID)
	if err != nil {
		_ = lg.Unpin(false)
		return err
	}
	rsp := storage.NewSlottedPage(rightID, rg.Bytes(), t.keyWidth, internalMetaSize)

	if _, err := lsp.Insert(sepKey, encodeChildID(internalLeftmost(rsp))); err != nil {
		_ = lg.Unpin(true)
		_ = rg.Unpin(false)
		return err
	}
	for _, e := range rsp.Iter() {
		if _, err := lsp.Insert(e.Key, e.Value); err != nil {
			_ = lg.Unpin(true)
			_ = rg.Unpin(false)
			return err
		}
	}

	if err := lg.Unpin(true); err != nil {
		return err
	}
	if err := rg.Unpin(false); err != nil {
		return err
	}
	if err := t.bp.Dealloc(rightID); err != nil {
		return err
	}

	return parent.RemoveCompact(sepIdx)
}
