package btree

import "errors"

var (
	// ErrNotFound is returned by Remove when no entry matches the given key
	// and RID.
	ErrNotFound = errors.New("btree: entry not found")

	// ErrDuplicateKey is returned by Insert into a unique index when a
	// non-null key already exists.
	ErrDuplicateKey = errors.New("btree: duplicate key violates unique index")

	// ErrTreeClosed is returned by any operation after Close.
	ErrTreeClosed = errors.New("btree: tree is closed")

	// ErrKeyWidthMismatch is returned when a caller-supplied key does not
	// match the tree's fixed key width.
	ErrKeyWidthMismatch = errors.New("btree: key width does not match index schema")
)
