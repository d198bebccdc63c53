package btree

import (
	"naivedb/internal/storage"
	"naivedb/pkg/bx"
)

// Node user-meta layouts. Both node kinds carry an is_leaf
// byte so a page is self-describing on disk even though the tree only ever
// consults it for documentation purposes (level is tracked by the tree
// descriptor during descent).
const (
	leafMetaSize     = 1
	internalMetaSize = 1 + 4 // is_leaf + leftmost child page id

	ridSize     = 8 // RID = PageId(4) + Slot(4)
	childIDSize = 4
)

func initLeaf(sp *storage.SlottedPage) {
	sp.Init()
	sp.UserMeta()[0] = 1
}

func initInternal(sp *storage.SlottedPage, leftmost storage.PageId) {
	sp.Init()
	setInternalLeftmost(sp, leftmost)
}

func internalLeftmost(sp *storage.SlottedPage) storage.PageId {
	return storage.PageId(bx.U32(sp.UserMeta()[1:]))
}

func setInternalLeftmost(sp *storage.SlottedPage, id storage.PageId) {
	meta := sp.UserMeta()
	meta[0] = 0
	bx.PutU32(meta[1:], uint32(id))
}

func encodeRIDBytes(pageID storage.PageId, slot int) []byte {
	buf := make([]byte, ridSize)
	bx.PutU32(buf, uint32(pageID))
	bx.PutU32(buf[4:], uint32(slot))
	return buf
}

func encodeChildID(id storage.PageId) []byte {
	buf := make([]byte, childIDSize)
	bx.PutU32(buf, uint32(id))
	return buf
}

func decodeChildID(b []byte) storage.PageId {
	return storage.PageId(bx.U32(b))
}

// maxEntries returns how many fixed-size (key, value) entries fit on one
// node page of this tree's key width, after header and user-meta overhead.
func maxEntries(keyWidth, valueSize, metaSize int) int {
	capacityBytes := storage.PageSize - storage.SlottedHeaderLen - metaSize
	entrySize := keyWidth + storage.SlotFixedSize + valueSize
	n := capacityBytes / entrySize
	if n < 2 {
		n = 2
	}
	return n
}

// mergeSortedInsert returns existing (already key-sorted) entries with
// (key, value) inserted at its sorted position, using cmp as the order.
func mergeSortedInsert(existing []storage.Entry, key, value []byte, cmp func(a, b []byte) int) []storage.Entry {
	out := make([]storage.Entry, 0, len(existing)+1)
	inserted := false
	for _, e := range existing {
		if !inserted && cmp(key, e.Key) < 0 {
			out = append(out, storage.Entry{Key: key, Value: value})
			inserted = true
		}
		out = append(out, e)
	}
	if !inserted {
		out = append(out, storage.Entry{Key: key, Value: value})
	}
	return out
}
