package heap

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"relstore/pkg/bufpool"
	"relstore/pkg/dbtype"
	"relstore/pkg/txn"
)

// File is a heap file backed by a single OS file: spec.md §4.3.
// tableId = stableHash(absolutePath); numPages = floor(fileLength/pageSize).
type File struct {
	f       *os.File
	tableID int64
	desc    *dbtype.TupleDesc

	// extendMu guards the file-extension window when a brand new page is
	// appended beyond EOF — the "shared-resource policy" of spec.md §5
	// treats this as exclusive synchronization on the file handle.
	extendMu sync.Mutex
}

// Open creates or opens the heap file at path.
func Open(path string, desc *dbtype.TupleDesc) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, dbtype.AsIoError(err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, dbtype.AsIoError(err)
	}
	return &File{f: f, tableID: dbtype.StableHash(abs), desc: desc}, nil
}

func (hf *File) ID() int64                      { return hf.tableID }
func (hf *File) TupleDesc() *dbtype.TupleDesc    { return hf.desc }
func (hf *File) Close() error                    { return hf.f.Close() }

// NumPages returns floor(fileLength / PageSize).
func (hf *File) NumPages() (int, error) {
	st, err := hf.f.Stat()
	if err != nil {
		return 0, dbtype.AsIoError(err)
	}
	return int(st.Size() / dbtype.PageSize), nil
}

// ReadPage seeks to pageNumber*PageSize and decodes exactly PageSize bytes
// into a heap page. Fails with IllegalArgument on a short read.
func (hf *File) ReadPage(pid dbtype.PageID) (bufpool.Page, error) {
	hpid, ok := pid.(dbtype.HeapPageID)
	if !ok || hpid.Table != hf.tableID {
		return nil, dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
	}
	buf := make([]byte, dbtype.PageSize)
	n, err := hf.f.ReadAt(buf, int64(hpid.Page)*dbtype.PageSize)
	if n != dbtype.PageSize {
		if err == io.EOF || err == nil {
			return nil, dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
		}
		return nil, dbtype.AsIoError(err)
	}
	return NewPage(hpid, hf.desc, buf)
}

// WritePage writes a whole page back at its deterministic offset.
func (hf *File) WritePage(p bufpool.Page) error {
	hpid, ok := p.GetID().(dbtype.HeapPageID)
	if !ok {
		return dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
	}
	if _, err := hf.f.WriteAt(p.GetPageData(), int64(hpid.Page)*dbtype.PageSize); err != nil {
		return dbtype.AsIoError(err)
	}
	return nil
}

// InsertTuple scans existing pages for one with a free slot through the
// buffer pool with write permission; if every page is full it allocates a
// new page beyond EOF (direct I/O, since the page is not yet visible to
// any other transaction) and inserts there. The returned dirty set always
// includes the newly allocated page — the REDESIGN FLAGS fix to the
// dirty-set defect spec.md §9 calls out.
func (hf *File) InsertTuple(tid txn.ID, bp bufpool.BufferPool, t *dbtype.Tuple) ([]bufpool.Page, error) {
	if !t.Desc.Equal(hf.desc) {
		return nil, dbtype.AsDbException(dbtype.ErrMismatch)
	}
	n, err := hf.NumPages()
	if err != nil {
		return nil, err
	}
	for pno := 0; pno < n; pno++ {
		pg, err := bp.GetPage(tid, dbtype.HeapPageID{Table: hf.tableID, Page: pno}, txn.ReadWrite)
		if err != nil {
			return nil, err
		}
		hp := pg.(*Page)
		if hp.GetNumEmptySlots() == 0 {
			continue
		}
		if err := hp.InsertTuple(t); err != nil {
			return nil, err
		}
		hp.MarkDirty(true, tid)
		return []bufpool.Page{hp}, nil
	}

	hf.extendMu.Lock()
	newPid := dbtype.HeapPageID{Table: hf.tableID, Page: n}
	newPage, err := NewPage(newPid, hf.desc, dbtype.NewZeroedPage(dbtype.PageSize))
	if err != nil {
		hf.extendMu.Unlock()
		return nil, err
	}
	writeErr := hf.WritePage(newPage)
	hf.extendMu.Unlock()
	if writeErr != nil {
		return nil, writeErr
	}

	pg, err := bp.GetPage(tid, newPid, txn.ReadWrite)
	if err != nil {
		return nil, err
	}
	hp := pg.(*Page)
	if err := hp.InsertTuple(t); err != nil {
		return nil, err
	}
	hp.MarkDirty(true, tid)
	return []bufpool.Page{hp}, nil
}

// DeleteTuple fetches t's page through the buffer pool and clears its
// slot.
func (hf *File) DeleteTuple(tid txn.ID, bp bufpool.BufferPool, t *dbtype.Tuple) ([]bufpool.Page, error) {
	if !t.RID.IsSet() {
		return nil, dbtype.AsDbException(dbtype.ErrNotHere)
	}
	pg, err := bp.GetPage(tid, t.RID.PageID, txn.ReadWrite)
	if err != nil {
		return nil, err
	}
	hp := pg.(*Page)
	if err := hp.DeleteTuple(t); err != nil {
		return nil, err
	}
	hp.MarkDirty(true, tid)
	return []bufpool.Page{hp}, nil
}

// FileIterator yields tuples page by page, page 0 through numPages-1,
// each page fetched read-only through the buffer pool.
type FileIterator struct {
	hf       *File
	tid      txn.ID
	bp       bufpool.BufferPool
	numPages int
	pgCursor int
	cur      *PageIterator
	open     bool
}

func (hf *File) Iterator(tid txn.ID, bp bufpool.BufferPool) *FileIterator {
	return &FileIterator{hf: hf, tid: tid, bp: bp}
}

// Open (re)starts the iterator at page 0. Calling Next without Open first
// yields nothing — spec.md §9's off-by-one note is resolved by explicitly
// checking numPages == 0 rather than relying on cursor arithmetic.
func (it *FileIterator) Open() error {
	n, err := it.hf.NumPages()
	if err != nil {
		return err
	}
	it.numPages = n
	it.pgCursor = -1
	it.cur = nil
	it.open = true
	if n == 0 {
		return nil
	}
	return it.loadPage(0)
}

func (it *FileIterator) loadPage(pno int) error {
	pg, err := it.bp.GetPage(it.tid, dbtype.HeapPageID{Table: it.hf.tableID, Page: pno}, txn.ReadOnly)
	if err != nil {
		return err
	}
	it.cur = pg.(*Page).Iterator()
	it.pgCursor = pno
	return nil
}

func (it *FileIterator) HasNext() (bool, error) {
	if !it.open || it.numPages == 0 {
		return false, nil
	}
	for {
		if it.cur != nil && it.cur.HasNext() {
			return true, nil
		}
		if it.pgCursor+1 >= it.numPages {
			return false, nil
		}
		if err := it.loadPage(it.pgCursor + 1); err != nil {
			return false, err
		}
	}
}

func (it *FileIterator) Next() (*dbtype.Tuple, error) {
	ok, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.EOF
	}
	return it.cur.Next()
}

// Rewind restarts the iterator (close then open).
func (it *FileIterator) Rewind() error {
	it.Close()
	return it.Open()
}

func (it *FileIterator) Close() {
	it.open = false
	it.cur = nil
}
