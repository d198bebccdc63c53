// Package heap implements the table heap: a named heap of tuples stored as
// a singly-linked list of slotted pages ("slices"), each tuple carrying a
// foreign-key reference counter in its slot key.
package heap

import "naivedb/internal/storage"

// RID (record id) uniquely locates a tuple within a table heap: the slice
// page it lives on, and its slot index within that slice's directory.
type RID struct {
	PageID storage.PageId
	Slot   int
}
