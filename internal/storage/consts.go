// Package storage implements the single-file page store: the disk manager
// that owns the database file and the generic slotted page layout every
// higher layer (heap, btree, catalog) builds its own node formats on top of.
package storage

import "errors"

// PageSize is the fixed unit of disk I/O and buffer residency.
const PageSize = 16 * 1024

// PageId addresses a page within the database file. 0 is reserved for the
// disk-manager header page (free list); 1 is reserved for the catalog root.
type PageId uint32

const (
	// InvalidPageId marks "no page" in on-disk pointer fields (e.g. an empty
	// table's first-slice pointer, or a leaf with no right sibling).
	InvalidPageId PageId = 0

	// HeaderPageId is the disk manager's own header page.
	HeaderPageId PageId = 0

	// CatalogRootPageId is reserved for the catalog root page: page 0 is
	// the disk-manager header, so the catalog root cannot also live there
	// and is pinned to page 1 instead.
	CatalogRootPageId PageId = 1
)

// Slotted page header layout (all little-endian), fixed regardless of the
// caller's key/value shape:
//
//	offset 0:      record count n            (uint32)
//	offset 4:      tail (value heap high-water mark, bytes from page start) (uint32)
//	offset 8:      next-page-id               (uint32)
//	offset 12:     user meta region, size M
//	offset 12+M:   slot directory start
const (
	hdrCountOff   = 0
	hdrTailOff    = 4
	hdrNextOff    = 8
	hdrMetaOff    = 12
	slottedHdrLen = 12
)

// Each slot is K bytes of key, then a 4-byte value offset, then a 4-byte
// value length (0-length marks a tombstone).
const (
	slotValueOffSize = 4
	slotValueLenSize = 4
	slotFixedSize    = slotValueOffSize + slotValueLenSize
)

// SlottedHeaderLen and SlotFixedSize are exported for callers (the B+ tree,
// the catalog) that need to plan how many fixed-size entries fit on a node
// page without constructing one.
const (
	SlottedHeaderLen = slottedHdrLen
	SlotFixedSize    = slotFixedSize
)

var (
	// ErrIOError wraps disk read/write failures.
	ErrIOError = errors.New("storage: io error")

	// ErrPageFull means a slotted page insert could not fit within the page.
	ErrPageFull = errors.New("storage: page full")

	// ErrSlotNotFound means an index/removal target does not exist or is a tombstone.
	ErrSlotNotFound = errors.New("storage: slot not found")

	// ErrInvalidPageId is returned for page ids out of the valid allocated range.
	ErrInvalidPageId = errors.New("storage: invalid page id")

	// ErrInvariantViolation marks a corrupt/impossible on-disk state.
	ErrInvariantViolation = errors.New("storage: invariant violation")
)
