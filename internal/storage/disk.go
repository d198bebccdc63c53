package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"naivedb/pkg/bx"
)

var logPrefix = "storage: "

// DiskManager owns the single database file. It reads and writes whole
// pages addressed by PageId, extends the file to allocate new pages, and
// keeps a free list of deallocated ids so space can be reused.
//
// The free list itself lives in slotted pages (the same primitive the rest
// of the engine uses): page 0 holds as many freed ids as fit, and spills
// onto a linked chain of overflow free-list pages via the slotted page's
// next-page-id field when it fills up.
type DiskManager struct {
	f         *os.File
	fileCount int64 // number of PageSize-sized pages currently in the file
}

// freeListKeySize is the width of a free-list entry's key: the freed page id.
const freeListKeySize = 4

var freeListTombstoneValue = []byte{1}

// Open opens (creating if absent) the database file at path. A fresh file
// gets an initialized header page 0.
func Open(path string) (*DiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%sopen %s: %w: %w", logPrefix, path, ErrIOError, err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%sstat %s: %w: %w", logPrefix, path, ErrIOError, err)
	}
	dm := &DiskManager{f: f, fileCount: stat.Size() / PageSize}
	if dm.fileCount == 0 {
		buf := make([]byte, PageSize)
		NewSlottedPage(HeaderPageId, buf, freeListKeySize, 0).Init()
		if _, err := f.WriteAt(buf, 0); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%sinit header page: %w: %w", logPrefix, ErrIOError, err)
		}
		dm.fileCount = 1
	}
	slog.Debug(logPrefix+"opened", "path", path, "pages", dm.fileCount)
	return dm, nil
}

// NewRandomDiskManager creates a fresh database file with a random name
// under dir, returning the manager and the path it chose. Used for tests
// and ephemeral instances.
func NewRandomDiskManager(dir string) (*DiskManager, string, error) {
	path := filepath.Join(dir, "naivedb-"+uuid.NewString()+".ndb")
	dm, err := Open(path)
	if err != nil {
		return nil, "", err
	}
	return dm, path, nil
}

// Close closes the underlying file.
func (d *DiskManager) Close() error {
	if err := d.f.Close(); err != nil {
		return fmt.Errorf("%sclose: %w: %w", logPrefix, ErrIOError, err)
	}
	return nil
}

// PageCount reports how many pages the file currently spans (including free ones).
func (d *DiskManager) PageCount() int64 { return d.fileCount }

func (d *DiskManager) readRaw(id PageId) ([]byte, error) {
	buf := make([]byte, PageSize)
	n, err := d.f.ReadAt(buf, int64(id)*PageSize)
	if err != nil || n != PageSize {
		return nil, fmt.Errorf("%sread page %d: %w: %w", logPrefix, id, ErrIOError, err)
	}
	return buf, nil
}

func (d *DiskManager) writeRaw(id PageId, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("%swrite page %d: %w", logPrefix, id, ErrInvariantViolation)
	}
	if _, err := d.f.WriteAt(buf, int64(id)*PageSize); err != nil {
		return fmt.Errorf("%swrite page %d: %w: %w", logPrefix, id, ErrIOError, err)
	}
	return nil
}

// ReadPage reads one page's bytes from disk.
func (d *DiskManager) ReadPage(id PageId) ([]byte, error) {
	if int64(id) >= d.fileCount {
		return nil, fmt.Errorf("%sread page %d: %w", logPrefix, id, ErrInvalidPageId)
	}
	return d.readRaw(id)
}

// WritePage writes one page's bytes to disk.
func (d *DiskManager) WritePage(id PageId, buf []byte) error {
	if int64(id) >= d.fileCount {
		return fmt.Errorf("%swrite page %d: %w", logPrefix, id, ErrInvalidPageId)
	}
	return d.writeRaw(id, buf)
}

// extend appends one zeroed page at end-of-file and returns its id,
// bypassing the free list entirely (used both for real allocation and for
// growing the free-list's own overflow chain).
func (d *DiskManager) extend() (PageId, error) {
	id := PageId(d.fileCount)
	zero := make([]byte, PageSize)
	if err := d.writeRaw(id, zero); err != nil {
		return 0, err
	}
	d.fileCount++
	return id, nil
}

// Allocate pops an id from the free list if one exists, otherwise extends
// the file. The returned page's on-disk bytes are not guaranteed zeroed;
// the buffer pool zeroes a frame's in-memory contents on Alloc.
func (d *DiskManager) Allocate() (PageId, error) {
	id, ok, err := d.popFreeList()
	if err != nil {
		return 0, err
	}
	if ok {
		slog.Debug(logPrefix+"allocate: reused free page", "pageID", id)
		return id, nil
	}
	id, err = d.extend()
	if err != nil {
		return 0, err
	}
	slog.Debug(logPrefix+"allocate: extended file", "pageID", id)
	return id, nil
}

// Deallocate pushes id onto the free list for future reuse.
func (d *DiskManager) Deallocate(id PageId) error {
	slog.Debug(logPrefix+"deallocate", "pageID", id)
	return d.pushFreeList(id)
}

func freeListKey(id PageId) []byte {
	key := make([]byte, freeListKeySize)
	bx.PutU32(key, uint32(id))
	return key
}

// pushFreeList walks the free-list chain starting at the header page,
// inserting id into the first page with room; it extends the chain with a
// new overflow page if every page in it is full.
func (d *DiskManager) pushFreeList(id PageId) error {
	cur := HeaderPageId
	for {
		buf, err := d.readRaw(cur)
		if err != nil {
			return err
		}
		sp := NewSlottedPage(cur, buf, freeListKeySize, 0)
		if _, err := sp.Insert(freeListKey(id), freeListTombstoneValue); err == nil {
			return d.writeRaw(cur, buf)
		} else if !errors.Is(err, ErrPageFull) {
			return err
		}

		next := sp.NextPageID()
		if next == InvalidPageId {
			newID, err := d.extend()
			if err != nil {
				return err
			}
			overflowBuf := make([]byte, PageSize)
			NewSlottedPage(newID, overflowBuf, freeListKeySize, 0).Init()
			if err := d.writeRaw(newID, overflowBuf); err != nil {
				return err
			}
			sp.SetNextPageID(newID)
			if err := d.writeRaw(cur, buf); err != nil {
				return err
			}
			slog.Debug(logPrefix+"free list spilled to overflow page", "overflow", newID)
			cur = newID
			continue
		}
		cur = next
	}
}

// popFreeList scans the free-list chain from the header page onward,
// returning the first live entry it finds. It removes the entry with
// RemoveCompact rather than a tombstoning Remove, so the directory slot is
// reclaimed immediately and a push/pop cycle under churn doesn't grow the
// directory unboundedly between pages.
func (d *DiskManager) popFreeList() (PageId, bool, error) {
	cur := HeaderPageId
	for {
		buf, err := d.readRaw(cur)
		if err != nil {
			return 0, false, err
		}
		sp := NewSlottedPage(cur, buf, freeListKeySize, 0)
		for i := sp.RecordCount() - 1; i >= 0; i-- {
			if key, _, ok := sp.Get(i); ok {
				id := PageId(bx.U32(key))
				if err := sp.RemoveCompact(i); err != nil {
					return 0, false, err
				}
				if err := d.writeRaw(cur, buf); err != nil {
					return 0, false, err
				}
				return id, true, nil
			}
		}
		next := sp.NextPageID()
		if next == InvalidPageId {
			return 0, false, nil
		}
		cur = next
	}
}
