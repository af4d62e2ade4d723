package bufpool

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relstore/pkg/dbtype"
	"relstore/pkg/txn"
)

// DefaultMaxPages mirrors the modest fixed-capacity pools used for the LRU
// page caches in the retrieved corpus (e.g. pager.Pager's cachePages
// parameter) — small enough that eviction is exercised by ordinary tests.
const DefaultMaxPages = 64

// DefaultLockTimeout bounds how long GetPage waits for a conflicting lock
// before surfacing TransactionAborted. spec.md scopes concurrency *policy*
// out; this reference pool only needs the signal to exist.
const DefaultLockTimeout = 2 * time.Second

// Pool is the reference BufferPool implementation.
type Pool struct {
	maxPages int
	timeout  time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	files  map[int64]DbFile
	cache  map[string]*list.Element // pid.String() -> entry in lru
	lru    *list.List               // front = most recently used
	locks  map[string]*pageLock
	byTxn  map[txn.ID]map[string]bool // pages locked by a given tid
}

type entry struct {
	pid  dbtype.PageID
	page Page
}

// New constructs a reference buffer pool. A nil logger defaults to
// slog.Default() (see SPEC_FULL.md §7 logging note).
func New(maxPages int, timeout time.Duration, logger *slog.Logger) *Pool {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		maxPages: maxPages,
		timeout:  timeout,
		log:      logger,
		files:    make(map[int64]DbFile),
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
		locks:    make(map[string]*pageLock),
		byTxn:    make(map[txn.ID]map[string]bool),
	}
}

func (p *Pool) RegisterFile(f DbFile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[f.ID()] = f
}

func (p *Pool) lockFor(key string) *pageLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[key]
	if !ok {
		l = newPageLock()
		p.locks[key] = l
	}
	return l
}

func (p *Pool) GetPage(tid txn.ID, pid dbtype.PageID, perm txn.Permission) (Page, error) {
	key := pid.String()
	lock := p.lockFor(key)
	if err := lock.acquire(tid, perm, p.timeout); err != nil {
		p.log.Warn("lock wait aborted", "page", key, "perm", perm)
		return nil, err
	}

	p.mu.Lock()
	p.trackLock(tid, key)
	if el, ok := p.cache[key]; ok {
		p.lru.MoveToFront(el)
		pg := el.Value.(*entry).page
		p.mu.Unlock()
		return pg, nil
	}
	p.mu.Unlock()

	file, err := p.fileFor(pid)
	if err != nil {
		return nil, err
	}
	pg, err := file.ReadPage(pid)
	if err != nil {
		return nil, err
	}
	p.insert(pid, pg)
	return pg, nil
}

func (p *Pool) fileFor(pid dbtype.PageID) (DbFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[pid.TableID()]
	if !ok {
		return nil, dbtype.AsIllegalArgument(fmt.Errorf("%w: no file registered for table %d", dbtype.ErrBadPageID, pid.TableID()))
	}
	return f, nil
}

func (p *Pool) trackLock(tid txn.ID, key string) {
	set, ok := p.byTxn[tid]
	if !ok {
		set = make(map[string]bool)
		p.byTxn[tid] = set
	}
	set[key] = true
}

func (p *Pool) insert(pid dbtype.PageID, pg Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := pid.String()
	if el, ok := p.cache[key]; ok {
		el.Value.(*entry).page = pg
		p.lru.MoveToFront(el)
		return
	}
	el := p.lru.PushFront(&entry{pid: pid, page: pg})
	p.cache[key] = el
	p.evictIfNeeded()
}

// evictIfNeeded drops least-recently-used pages once the cache exceeds
// capacity. A dirty victim is written back to its file before eviction
// rather than silently dropped — losing an uncommitted write would violate the
// "dirtied set" contract the file layer relies on.
func (p *Pool) evictIfNeeded() {
	for len(p.cache) > p.maxPages {
		victim := p.pickVictimLocked()
		if victim == nil {
			return
		}
		e := victim.Value.(*entry)
		if _, dirty := e.page.IsDirty(); dirty {
			if file, ok := p.files[e.pid.TableID()]; ok {
				p.log.Debug("flushing dirty page before eviction", "page", e.pid.String())
				_ = file.WritePage(e.page)
			}
			e.page.MarkDirty(false, txn.ID{})
		}
		p.lru.Remove(victim)
		delete(p.cache, e.pid.String())
		p.log.Debug("evicted page", "page", e.pid.String())
	}
}

func (p *Pool) pickVictimLocked() *list.Element {
	return p.lru.Back()
}

func (p *Pool) FlushPages(tid txn.ID) error {
	p.mu.Lock()
	keys := make([]string, 0, len(p.byTxn[tid]))
	for k := range p.byTxn[tid] {
		keys = append(keys, k)
	}
	p.mu.Unlock()

	for _, key := range keys {
		p.mu.Lock()
		el, ok := p.cache[key]
		p.mu.Unlock()
		if !ok {
			continue
		}
		e := el.Value.(*entry)
		if dtid, dirty := e.page.IsDirty(); dirty && dtid.Equal(tid) {
			file, err := p.fileFor(e.pid)
			if err != nil {
				return err
			}
			if err := file.WritePage(e.page); err != nil {
				return err
			}
			e.page.MarkDirty(false, txn.ID{})
		}
	}
	return nil
}

func (p *Pool) DiscardPage(pid dbtype.PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := pid.String()
	if el, ok := p.cache[key]; ok {
		p.lru.Remove(el)
		delete(p.cache, key)
	}
}

func (p *Pool) TransactionComplete(tid txn.ID, commit bool) error {
	if commit {
		if err := p.FlushPages(tid); err != nil {
			return err
		}
	} else {
		p.mu.Lock()
		for key := range p.byTxn[tid] {
			if el, ok := p.cache[key]; ok {
				e := el.Value.(*entry)
				if dtid, dirty := e.page.IsDirty(); dirty && dtid.Equal(tid) {
					p.lru.Remove(el)
					delete(p.cache, key)
				}
			}
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	keys := p.byTxn[tid]
	delete(p.byTxn, tid)
	locks := make([]*pageLock, 0, len(keys))
	for k := range keys {
		if l, ok := p.locks[k]; ok {
			locks = append(locks, l)
		}
	}
	p.mu.Unlock()

	for _, l := range locks {
		l.release(tid)
	}
	return nil
}
