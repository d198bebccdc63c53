// Package bufferpool implements a fixed-size pool of frames caching pages
// from a single storage.DiskManager, with CLOCK (second-chance) replacement.
package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"naivedb/internal/storage"
	"naivedb/pkg/clockx"
)

var logPrefix = "bufferpool: "

var (
	// ErrPoolExhausted means a full clock sweep found no unpinned frame.
	ErrPoolExhausted = errors.New("bufferpool: pool exhausted (no evictable frame)")

	// ErrPagePinned is returned by Dealloc when the page is still pinned.
	ErrPagePinned = errors.New("bufferpool: page is pinned")
)

// Replacer chooses a victim frame index among those marked evictable. The
// pool tracks pin counts itself and only ever marks a frame evictable once
// its pin count reaches zero.
type Replacer interface {
	RecordAccess(frameID int)
	SetEvictable(frameID int, evictable bool)
	Evict() (int, bool)
	Remove(frameID int)
	Size() int
}

// clockReplacer adapts clockx.Clock, a bare CLOCK second-chance algorithm
// over frame indices, to the Replacer interface.
type clockReplacer struct {
	c *clockx.Clock
}

func newClockReplacer(capacity int) Replacer {
	return &clockReplacer{c: clockx.New(capacity)}
}

func (r *clockReplacer) RecordAccess(frameID int)         { r.c.Touch(frameID) }
func (r *clockReplacer) SetEvictable(frameID int, e bool) { r.c.SetEvictable(frameID, e) }
func (r *clockReplacer) Evict() (int, bool)               { return r.c.Evict() }
func (r *clockReplacer) Remove(frameID int)               { r.c.Remove(frameID) }
func (r *clockReplacer) Size() int                        { return r.c.Size() }

// Frame is one resident page and its buffer-pool bookkeeping.
type Frame struct {
	PageID storage.PageId
	Buf    []byte
	Dirty  bool
	Pin    int
}

// Stats exposes hit/miss/eviction counters, used to validate clock fairness
// and to bound the number of page fetches a lookup performs.
type Stats struct {
	Hits      int
	Misses    int
	Evictions int
}

// Pool is the fixed-size buffer pool bound to one DiskManager.
type Pool struct {
	dm *storage.DiskManager

	mu        sync.Mutex
	frames    []*Frame
	pageTable map[storage.PageId]int
	capacity  int
	replacer  Replacer
	stats     Stats
}

// NewPool constructs a pool of the given frame capacity over dm.
func NewPool(dm *storage.DiskManager, capacity int) *Pool {
	if capacity <= 0 {
		capacity = 16
	}
	return &Pool{
		dm:        dm,
		frames:    make([]*Frame, capacity),
		pageTable: make(map[storage.PageId]int, capacity),
		capacity:  capacity,
		replacer:  newClockReplacer(capacity),
	}
}

// NewRandomPool creates a pool over a freshly created, randomly named
// database file under dir. Useful for tests and ephemeral instances that
// don't want to manage a path themselves.
func NewRandomPool(dir string, capacity int) (*Pool, string, error) {
	dm, path, err := storage.NewRandomDiskManager(dir)
	if err != nil {
		return nil, "", err
	}
	return NewPool(dm, capacity), path, nil
}

// Stats returns a snapshot of hit/miss/eviction counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// acquireFrameLocked returns the index of a frame ready to hold a new page:
// a free slot if one exists, otherwise a clock-evicted victim (flushed
// first if dirty). Caller must hold p.mu.
func (p *Pool) acquireFrameLocked() (int, error) {
	for i, f := range p.frames {
		if f == nil {
			return i, nil
		}
	}
	victimIdx, ok := p.replacer.Evict()
	if !ok {
		slog.Debug(logPrefix + "pool exhausted: full clock sweep found no evictable frame")
		return -1, ErrPoolExhausted
	}
	victim := p.frames[victimIdx]
	if victim.Dirty {
		if err := p.dm.WritePage(victim.PageID, victim.Buf); err != nil {
			return -1, err
		}
	}
	delete(p.pageTable, victim.PageID)
	p.frames[victimIdx] = nil
	p.stats.Evictions++
	slog.Debug(logPrefix+"evicted frame", "frameIdx", victimIdx, "pageID", victim.PageID, "wasDirty", victim.Dirty)
	return victimIdx, nil
}

// Fetch pins id, loading it from disk if not already resident. The returned
// guard must be released with Unpin exactly once.
func (p *Pool) Fetch(id storage.PageId) (*PageGuard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTable[id]; ok {
		f := p.frames[idx]
		f.Pin++
		p.replacer.RecordAccess(idx)
		p.replacer.SetEvictable(idx, false)
		p.stats.Hits++
		slog.Debug(logPrefix+"fetch hit", "pageID", id, "pin", f.Pin)
		return &PageGuard{pool: p, id: id, buf: f.Buf}, nil
	}

	p.stats.Misses++
	idx, err := p.acquireFrameLocked()
	if err != nil {
		return nil, err
	}
	buf, err := p.dm.ReadPage(id)
	if err != nil {
		return nil, err
	}
	p.frames[idx] = &Frame{PageID: id, Buf: buf, Dirty: false, Pin: 1}
	p.pageTable[id] = idx
	p.replacer.RecordAccess(idx)
	p.replacer.SetEvictable(idx, false)
	slog.Debug(logPrefix+"fetch miss, loaded from disk", "pageID", id, "frameIdx", idx)
	return &PageGuard{pool: p, id: id, buf: buf}, nil
}

// Alloc asks the disk manager for a fresh page id, binds it to a zeroed
// frame, and returns it pinned.
func (p *Pool) Alloc() (*PageGuard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.dm.Allocate()
	if err != nil {
		return nil, err
	}
	idx, err := p.acquireFrameLocked()
	if err != nil {
		// Undo the disk-level allocation so this id isn't leaked as
		// neither free nor resident.
		_ = p.dm.Deallocate(id)
		return nil, err
	}
	buf := make([]byte, storage.PageSize)
	p.frames[idx] = &Frame{PageID: id, Buf: buf, Dirty: false, Pin: 1}
	p.pageTable[id] = idx
	p.replacer.RecordAccess(idx)
	p.replacer.SetEvictable(idx, false)
	slog.Debug(logPrefix+"alloc", "pageID", id, "frameIdx", idx)
	return &PageGuard{pool: p, id: id, buf: buf}, nil
}

// unpin decrements id's pin count and ORs in the dirty flag. Precondition:
// pin count must be > 0; unpinning a page the pool does not consider
// resident is a no-op.
func (p *Pool) unpin(id storage.PageId, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[id]
	if !ok {
		return nil
	}
	f := p.frames[idx]
	if dirty {
		f.Dirty = true
	}
	if f.Pin > 0 {
		f.Pin--
	}
	if f.Pin == 0 {
		p.replacer.SetEvictable(idx, true)
	}
	slog.Debug(logPrefix+"unpin", "pageID", id, "dirty", f.Dirty, "pin", f.Pin)
	return nil
}

// MarkDirty flags a resident page dirty without touching its pin count.
// Used by callers that keep a page pinned across several mutations (the
// table heap's root page is pinned for the table's entire lifetime) and
// want each mutation durable on the next flush.
func (p *Pool) MarkDirty(id storage.PageId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := p.pageTable[id]; ok {
		p.frames[idx].Dirty = true
	}
}

// Dealloc removes id from the pool (failing if still pinned) and returns it
// to the disk manager's free list.
func (p *Pool) Dealloc(id storage.PageId) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTable[id]; ok {
		f := p.frames[idx]
		if f.Pin != 0 {
			return fmt.Errorf("%sdealloc pageID=%d: %w", logPrefix, id, ErrPagePinned)
		}
		p.frames[idx] = nil
		delete(p.pageTable, id)
		p.replacer.Remove(idx)
	}
	return p.dm.Deallocate(id)
}

// Flush writes id back to disk if resident and dirty.
func (p *Pool) Flush(id storage.PageId) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[id]
	if !ok {
		return nil
	}
	f := p.frames[idx]
	if !f.Dirty {
		return nil
	}
	if err := p.dm.WritePage(id, f.Buf); err != nil {
		return err
	}
	f.Dirty = false
	return nil
}

// FlushAll writes every dirty resident page back to disk.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slog.Debug(logPrefix + "flush all")
	for _, f := range p.frames {
		if f == nil || !f.Dirty {
			continue
		}
		if err := p.dm.WritePage(f.PageID, f.Buf); err != nil {
			return err
		}
		f.Dirty = false
	}
	return nil
}

// Close flushes all dirty pages and closes the underlying disk manager.
func (p *Pool) Close() error {
	if err := p.FlushAll(); err != nil {
		return err
	}
	return p.dm.Close()
}
