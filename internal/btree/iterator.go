package btree

import (
	"naivedb/internal/heap"
	"naivedb/internal/storage"
)

// Iterator is a forward, one-shot cursor over leaf entries produced by
// Tree.IterFrom. It is not safe to reuse after Next returns ok=false.
type Iterator struct {
	tree   *Tree
	pageID storage.PageId
	idx    int
	done   bool
}

// Next returns the next (key, rid) pair in ascending key order, or
// ok=false once the leaf chain is exhausted.
func (it *Iterator) Next() (key []byte, rid heap.RID, ok bool, err error) {
	if it.done {
		return nil, heap.RID{}, false, nil
	}
	for it.pageID != storage.InvalidPageId {
		g, err := it.tree.bp.Fetch(it.pageID)
		if err != nil {
			return nil, heap.RID{}, false, err
		}
		sp := storage.NewSlottedPage(it.pageID, g.Bytes(), it.tree.keyWidth, leafMetaSize)
		if it.idx >= sp.RecordCount() {
			next := sp.NextPageID()
			if err := g.Unpin(false); err != nil {
				return nil, heap.RID{}, false, err
			}
			it.pageID = next
			it.idx = 0
			continue
		}
		k, v, live := sp.Get(it.idx)
		it.idx++
		if !live {
			if err := g.Unpin(false); err != nil {
				return nil, heap.RID{}, false, err
			}
			continue
		}
		keyCopy := append([]byte(nil), k...)
		r := decodeRIDBytes(v)
		if err := g.Unpin(false); err != nil {
			return nil, heap.RID{}, false, err
		}
		return keyCopy, r, true, nil
	}
	it.done = true
	return nil, heap.RID{}, false, nil
}
