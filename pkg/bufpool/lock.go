package bufpool

import (
	"sync"
	"time"

	"relstore/pkg/dbtype"
	"relstore/pkg/txn"
)

// pageLock is a per-page shared/exclusive lock keyed by transaction id —
// the "single-page concurrency control" spec.md §5 assumes the buffer
// pool provides. Re-entrant: a transaction that already holds a lock on
// the page is never blocked by its own hold, and read locks upgrade to
// write locks in place.
type pageLock struct {
	mu      sync.Mutex
	readers map[txn.ID]bool
	writer  *txn.ID
}

func newPageLock() *pageLock {
	return &pageLock{readers: make(map[txn.ID]bool)}
}

// acquire blocks (polling on a short interval) until perm is grantable to
// tid or timeout elapses, in which case it returns a TransactionAborted
// error — the fatal signal spec.md §5 says the core must relay unchanged.
func (pl *pageLock) acquire(tid txn.ID, perm txn.Permission, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	const pollInterval = 200 * time.Microsecond
	for {
		if pl.tryAcquire(tid, perm) {
			return nil
		}
		if time.Now().After(deadline) {
			return dbtype.AsTransactionAborted(dbtype.ErrAborted)
		}
		time.Sleep(pollInterval)
	}
}

func (pl *pageLock) tryAcquire(tid txn.ID, perm txn.Permission) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if perm == txn.ReadOnly {
		if pl.writer == nil || pl.writer.Equal(tid) {
			pl.readers[tid] = true
			return true
		}
		return false
	}

	// ReadWrite: every other reader must be gone, and any existing writer
	// must be this same transaction (re-entrant upgrade).
	for r := range pl.readers {
		if !r.Equal(tid) {
			return false
		}
	}
	if pl.writer != nil && !pl.writer.Equal(tid) {
		return false
	}
	w := tid
	pl.writer = &w
	delete(pl.readers, tid)
	return true
}

// release drops every hold tid has on this page.
func (pl *pageLock) release(tid txn.ID) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	delete(pl.readers, tid)
	if pl.writer != nil && pl.writer.Equal(tid) {
		pl.writer = nil
	}
}

func (pl *pageLock) heldBy(tid txn.ID) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.writer != nil && pl.writer.Equal(tid) {
		return true
	}
	return pl.readers[tid]
}
