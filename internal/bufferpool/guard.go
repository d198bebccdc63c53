package bufferpool

import "naivedb/internal/storage"

// PageGuard is a scoped acquisition wrapper bound to a pinned frame. It is
// the only way callers touch a fetched or allocated page's bytes: every
// fetch/alloc must be paired with exactly one unpin on every exit path,
// including error paths, and `defer guard.Unpin(dirty)` makes that pairing
// structurally hard to forget.
type PageGuard struct {
	pool     *Pool
	id       storage.PageId
	buf      []byte
	released bool
}

// ID returns the page id this guard is pinning.
func (g *PageGuard) ID() storage.PageId { return g.id }

// Bytes returns the page's raw buffer. Valid only until Unpin is called.
func (g *PageGuard) Bytes() []byte { return g.buf }

// Unpin releases the pin, marking the page dirty if dirty is true. Safe to
// call more than once; only the first call has effect.
func (g *PageGuard) Unpin(dirty bool) error {
	if g.released {
		return nil
	}
	g.released = true
	return g.pool.unpin(g.id, dirty)
}
