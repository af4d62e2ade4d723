package btree

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"relstore/pkg/bufpool"
	"relstore/pkg/dbtype"
	"relstore/pkg/txn"
)

// BTreeFile is a single OS file holding a root-pointer page at offset 0,
// a header-page free-list chain, and the internal/leaf pages of one
// ordered index. tableId = stableHash(absolutePath), exactly as for a
// heap file.
type BTreeFile struct {
	f        *os.File
	tableID  int64
	desc     *dbtype.TupleDesc
	keyField int

	// extendMu guards every direct write outside the buffer pool: file
	// extension, page zeroing for reuse, and the root-pointer bootstrap —
	// spec.md §5's "exclusive synchronization on the file handle".
	extendMu sync.Mutex
}

// Open creates or opens the B+-tree file at path, bootstrapping an empty
// root-pointer page (root = nil, header chain = nil) if the file is new.
// keyField names the tuple field leaves are ordered and searched on.
func Open(path string, desc *dbtype.TupleDesc, keyField int) (*BTreeFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, dbtype.AsIoError(err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, dbtype.AsIoError(err)
	}
	bf := &BTreeFile{f: f, tableID: dbtype.StableHash(abs), desc: desc, keyField: keyField}

	st, err := f.Stat()
	if err != nil {
		return nil, dbtype.AsIoError(err)
	}
	if st.Size() == 0 {
		rp := &RootPtrPage{id: dbtype.BTreePageID{Table: bf.tableID, Page: 0, Cat: dbtype.CategoryRootPtr}}
		bf.extendMu.Lock()
		err := bf.WritePage(rp)
		bf.extendMu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return bf, nil
}

func (bf *BTreeFile) ID() int64                   { return bf.tableID }
func (bf *BTreeFile) TupleDesc() *dbtype.TupleDesc { return bf.desc }
func (bf *BTreeFile) Close() error                 { return bf.f.Close() }
func (bf *BTreeFile) keyType() dbtype.FieldType    { return bf.desc.Types[bf.keyField] }

func (bf *BTreeFile) offsetFor(pageNo int) int64 {
	if pageNo == 0 {
		return 0
	}
	return int64(dbtype.RootPtrPageSize) + int64(pageNo-1)*int64(dbtype.PageSize)
}

// NumPages is the count of non-root-pointer pages currently in the file
// (allocated or freed — the header bitmaps, not the file length, decide
// which).
func (bf *BTreeFile) NumPages() (int, error) {
	st, err := bf.f.Stat()
	if err != nil {
		return 0, dbtype.AsIoError(err)
	}
	size := st.Size() - int64(dbtype.RootPtrPageSize)
	if size <= 0 {
		return 0, nil
	}
	return int(size / dbtype.PageSize), nil
}

func (bf *BTreeFile) ReadPage(pid dbtype.PageID) (bufpool.Page, error) {
	bpid, ok := pid.(dbtype.BTreePageID)
	if !ok || bpid.Table != bf.tableID {
		return nil, dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
	}
	switch bpid.Cat {
	case dbtype.CategoryRootPtr:
		buf := make([]byte, dbtype.RootPtrPageSize)
		if err := bf.readAt(buf, 0); err != nil {
			return nil, err
		}
		return NewRootPtrPage(bf.tableID, buf)
	case dbtype.CategoryHeader:
		buf := make([]byte, dbtype.PageSize)
		if err := bf.readAt(buf, bf.offsetFor(bpid.Page)); err != nil {
			return nil, err
		}
		idx := (bpid.Page - 1) / SlotsPerHeader()
		return NewHeaderPage(bpid, idx, buf)
	case dbtype.CategoryInternal:
		buf := make([]byte, dbtype.PageSize)
		if err := bf.readAt(buf, bf.offsetFor(bpid.Page)); err != nil {
			return nil, err
		}
		return NewInternalPage(bpid, bf.keyType(), buf)
	case dbtype.CategoryLeaf:
		buf := make([]byte, dbtype.PageSize)
		if err := bf.readAt(buf, bf.offsetFor(bpid.Page)); err != nil {
			return nil, err
		}
		return NewLeafPage(bpid, bf.desc, bf.keyField, buf)
	default:
		return nil, dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
	}
}

func (bf *BTreeFile) readAt(buf []byte, off int64) error {
	n, err := bf.f.ReadAt(buf, off)
	if n != len(buf) {
		if err == io.EOF || err == nil {
			return dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
		}
		return dbtype.AsIoError(err)
	}
	return nil
}

func (bf *BTreeFile) WritePage(p bufpool.Page) error {
	bpid, ok := p.GetID().(dbtype.BTreePageID)
	if !ok {
		return dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
	}
	if _, err := bf.f.WriteAt(p.GetPageData(), bf.offsetFor(bpid.Page)); err != nil {
		return dbtype.AsIoError(err)
	}
	return nil
}

// appendZeroedPage extends the file by one fresh page and returns its
// page number.
func (bf *BTreeFile) appendZeroedPage() (int, error) {
	bf.extendMu.Lock()
	defer bf.extendMu.Unlock()
	n, err := bf.NumPages()
	if err != nil {
		return 0, err
	}
	pageNo := n + 1
	if _, err := bf.f.WriteAt(dbtype.NewZeroedPage(dbtype.PageSize), bf.offsetFor(pageNo)); err != nil {
		return 0, dbtype.AsIoError(err)
	}
	return pageNo, nil
}

// zeroPageAt wipes pageNo's on-disk bytes, extending the file if pageNo
// lies beyond it.
func (bf *BTreeFile) zeroPageAt(pageNo int) error {
	bf.extendMu.Lock()
	defer bf.extendMu.Unlock()
	if _, err := bf.f.WriteAt(dbtype.NewZeroedPage(dbtype.PageSize), bf.offsetFor(pageNo)); err != nil {
		return dbtype.AsIoError(err)
	}
	return nil
}

func (bf *BTreeFile) fetchRootPtr(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, perm txn.Permission) (*RootPtrPage, error) {
	pid := dbtype.BTreePageID{Table: bf.tableID, Page: 0, Cat: dbtype.CategoryRootPtr}
	pg, err := fetch(tid, bp, dirty, pid, perm)
	if err != nil {
		return nil, err
	}
	return pg.(*RootPtrPage), nil
}

func minCount(max int) int { return (max + 1) / 2 } // ceil(max/2)

// ---------------------------------------------------------------------
// Search & iteration (spec §4.5)
// ---------------------------------------------------------------------

// FindLeafPage descends from start to the leaf that would hold key,
// following the first entry whose key is >= the search key, or the
// left-most path when key is nil.
func (bf *BTreeFile) FindLeafPage(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, start ChildPtr, perm txn.Permission, key *dbtype.Field) (*LeafPage, error) {
	cur := start
	for {
		pid := cur.ToPageID(bf.tableID)
		pg, err := fetch(tid, bp, dirty, pid, txn.ReadOnly)
		if err != nil {
			return nil, err
		}
		if leaf, ok := pg.(*LeafPage); ok {
			if perm == txn.ReadWrite {
				pg2, err := fetch(tid, bp, dirty, pid, txn.ReadWrite)
				if err != nil {
					return nil, err
				}
				leaf = pg2.(*LeafPage)
			}
			return leaf, nil
		}
		internal := pg.(*InternalPage)
		if len(internal.entries) == 0 {
			return nil, dbtype.AsDbException(dbtype.ErrCorruptHeader)
		}
		if key == nil {
			cur = internal.entries[0].Left
			continue
		}
		idx := -1
		for i, e := range internal.entries {
			if dbtype.CompareFields(e.Key, *key) >= 0 {
				idx = i
				break
			}
		}
		if idx == -1 {
			cur = internal.entries[len(internal.entries)-1].Right
		} else if dbtype.CompareFields(*key, internal.entries[idx].Key) <= 0 {
			cur = internal.entries[idx].Left
		} else {
			cur = internal.entries[idx].Right
		}
	}
}

// Iterator is the forward scan over every tuple in key order.
type Iterator struct {
	bf     *BTreeFile
	tid    txn.ID
	bp     bufpool.BufferPool
	cur    *LeafIterator
	nextID ChildPtr
	open   bool
}

func (bf *BTreeFile) Iterator(tid txn.ID, bp bufpool.BufferPool) *Iterator {
	return &Iterator{bf: bf, tid: tid, bp: bp}
}

func (it *Iterator) Open() error {
	dirty := dirtyMap{}
	rootPtr, err := it.bf.fetchRootPtr(it.tid, it.bp, dirty, txn.ReadOnly)
	if err != nil {
		return err
	}
	it.open = true
	if rootPtr.GetRootID().IsNil() {
		it.cur = nil
		return nil
	}
	leaf, err := it.bf.FindLeafPage(it.tid, it.bp, dirty, rootPtr.GetRootID(), txn.ReadOnly, nil)
	if err != nil {
		return err
	}
	it.cur = leaf.Iterator()
	it.nextID = leaf.GetRightSiblingID()
	return nil
}

func (it *Iterator) HasNext() (bool, error) {
	if !it.open {
		return false, nil
	}
	for {
		if it.cur != nil && it.cur.HasNext() {
			return true, nil
		}
		if it.nextID.IsNil() {
			return false, nil
		}
		pg, err := it.bp.GetPage(it.tid, it.nextID.ToPageID(it.bf.tableID), txn.ReadOnly)
		if err != nil {
			return false, err
		}
		leaf := pg.(*LeafPage)
		it.cur = leaf.Iterator()
		it.nextID = leaf.GetRightSiblingID()
	}
}

func (it *Iterator) Next() (*dbtype.Tuple, error) {
	ok, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.EOF
	}
	return it.cur.Next(), nil
}

func (it *Iterator) Rewind() error { return it.Open() }
func (it *Iterator) Close()        { it.open = false; it.cur = nil }

// PredicateIterator yields only tuples whose key field satisfies pred,
// descending directly to the probe point when the operator allows it and
// short-circuiting once no further tuple can match.
type PredicateIterator struct {
	bf     *BTreeFile
	tid    txn.ID
	bp     bufpool.BufferPool
	pred   IndexPredicate
	cur    *LeafIterator
	nextID ChildPtr
	open   bool
	done   bool
	peeked *dbtype.Tuple
}

func (bf *BTreeFile) IteratorWithPredicate(tid txn.ID, bp bufpool.BufferPool, pred IndexPredicate) *PredicateIterator {
	return &PredicateIterator{bf: bf, tid: tid, bp: bp, pred: pred}
}

func (it *PredicateIterator) Open() error {
	dirty := dirtyMap{}
	rootPtr, err := it.bf.fetchRootPtr(it.tid, it.bp, dirty, txn.ReadOnly)
	if err != nil {
		return err
	}
	it.open = true
	if rootPtr.GetRootID().IsNil() {
		it.done = true
		return nil
	}
	var probe *dbtype.Field
	if it.pred.Op == Eq || it.pred.Op == Gt || it.pred.Op == Ge {
		f := it.pred.Field
		probe = &f
	}
	leaf, err := it.bf.FindLeafPage(it.tid, it.bp, dirty, rootPtr.GetRootID(), txn.ReadOnly, probe)
	if err != nil {
		return err
	}
	it.cur = leaf.Iterator()
	it.nextID = leaf.GetRightSiblingID()
	return nil
}

func (it *PredicateIterator) fillBuffer() error {
	for {
		if it.cur != nil && it.cur.HasNext() {
			t := it.cur.Next()
			key := t.Fields[it.bf.keyField]
			switch it.pred.Op {
			case Eq:
				c := dbtype.CompareFields(key, it.pred.Field)
				if c > 0 {
					it.done = true
					return nil
				}
				if c == 0 {
					it.peeked = t
					return nil
				}
			case Lt, Le:
				if !it.pred.matches(key) {
					it.done = true
					return nil
				}
				it.peeked = t
				return nil
			default: // Gt, Ge
				if it.pred.matches(key) {
					it.peeked = t
					return nil
				}
			}
			continue
		}
		if it.nextID.IsNil() {
			it.done = true
			return nil
		}
		pg, err := it.bp.GetPage(it.tid, it.nextID.ToPageID(it.bf.tableID), txn.ReadOnly)
		if err != nil {
			return err
		}
		leaf := pg.(*LeafPage)
		it.cur = leaf.Iterator()
		it.nextID = leaf.GetRightSiblingID()
	}
}

func (it *PredicateIterator) HasNext() (bool, error) {
	if !it.open || it.done {
		return it.peeked != nil, nil
	}
	if it.peeked == nil {
		if err := it.fillBuffer(); err != nil {
			return false, err
		}
	}
	return it.peeked != nil, nil
}

func (it *PredicateIterator) Next() (*dbtype.Tuple, error) {
	ok, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.EOF
	}
	t := it.peeked
	it.peeked = nil
	return t, nil
}

func (it *PredicateIterator) Close() { it.open = false; it.cur = nil; it.peeked = nil }

// ---------------------------------------------------------------------
// Insertion path (spec §4.6)
// ---------------------------------------------------------------------

func (bf *BTreeFile) InsertTuple(tid txn.ID, bp bufpool.BufferPool, t *dbtype.Tuple) ([]bufpool.Page, error) {
	if !t.Desc.Equal(bf.desc) {
		return nil, dbtype.AsDbException(dbtype.ErrMismatch)
	}
	dirty := dirtyMap{}
	rootPtr, err := bf.fetchRootPtr(tid, bp, dirty, txn.ReadOnly)
	if err != nil {
		return nil, err
	}
	rootID := rootPtr.GetRootID()
	if rootID.IsNil() {
		rootPtr, err = bf.fetchRootPtr(tid, bp, dirty, txn.ReadWrite)
		if err != nil {
			return nil, err
		}
		leafPg, err := bf.getEmptyPage(tid, bp, dirty, dbtype.CategoryLeaf)
		if err != nil {
			return nil, err
		}
		leaf := leafPg.(*LeafPage)
		leaf.SetParentID(ChildPtr{Page: 0, Cat: dbtype.CategoryRootPtr})
		leaf.MarkDirty(true, tid)
		dirty.put(leaf)

		rootPtr.SetRootID(childPtrFrom(leaf.GetID()))
		rootPtr.MarkDirty(true, tid)
		dirty.put(rootPtr)
		rootID = rootPtr.GetRootID()
	}

	key := t.Fields[bf.keyField]
	leaf, err := bf.FindLeafPage(tid, bp, dirty, rootID, txn.ReadWrite, &key)
	if err != nil {
		return nil, err
	}
	if leaf.GetNumEmptySlots() == 0 {
		leaf, err = bf.splitLeafPage(tid, bp, dirty, leaf, key)
		if err != nil {
			return nil, err
		}
	}
	if err := leaf.InsertTuple(t); err != nil {
		return nil, err
	}
	leaf.MarkDirty(true, tid)
	dirty.put(leaf)

	return dirty.values(), nil
}

func (d dirtyMap) values() []bufpool.Page {
	out := make([]bufpool.Page, 0, len(d))
	for _, p := range d {
		out = append(out, p)
	}
	return out
}

// splitLeafPage allocates a new right-hand leaf, moves the top half of
// leaf's tuples to it (copy-up: the new leaf's first key is duplicated
// into the parent), re-links the sibling chain, and inserts the
// separating entry into leaf's parent (allocating one via
// getParentWithEmptySlots if necessary). Returns whichever half probeKey
// belongs in.
func (bf *BTreeFile) splitLeafPage(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, leaf *LeafPage, probeKey dbtype.Field) (*LeafPage, error) {
	rightPg, err := bf.getEmptyPage(tid, bp, dirty, dbtype.CategoryLeaf)
	if err != nil {
		return nil, err
	}
	right := rightPg.(*LeafPage)

	n := len(leaf.tuples)
	moveCount := (n + 2) / 2 // ceil((n+1)/2)
	moved := append([]*dbtype.Tuple(nil), leaf.tuples[n-moveCount:]...)
	leaf.tuples = leaf.tuples[:n-moveCount]
	leaf.renumber()
	right.tuples = moved
	right.renumber()

	midKey := right.tuples[0].Fields[bf.keyField]
	oldRight := leaf.GetRightSiblingID()

	parent, err := bf.getParentWithEmptySlots(tid, bp, dirty, leaf.GetParentID(), midKey)
	if err != nil {
		return nil, err
	}

	right.SetRightSiblingID(oldRight)
	right.SetLeftSiblingID(childPtrFrom(leaf.GetID()))
	leaf.SetRightSiblingID(childPtrFrom(right.GetID()))
	if !oldRight.IsNil() {
		pg, err := fetch(tid, bp, dirty, oldRight.ToPageID(bf.tableID), txn.ReadWrite)
		if err != nil {
			return nil, err
		}
		oldRightLeaf := pg.(*LeafPage)
		oldRightLeaf.SetLeftSiblingID(childPtrFrom(right.GetID()))
		oldRightLeaf.MarkDirty(true, tid)
		dirty.put(oldRightLeaf)
	}

	leaf.SetParentID(childPtrFrom(parent.GetID()))
	right.SetParentID(childPtrFrom(parent.GetID()))
	if err := parent.InsertEntry(Entry{Key: midKey, Left: childPtrFrom(leaf.GetID()), Right: childPtrFrom(right.GetID())}); err != nil {
		return nil, err
	}

	leaf.MarkDirty(true, tid)
	right.MarkDirty(true, tid)
	parent.MarkDirty(true, tid)
	dirty.put(leaf)
	dirty.put(right)
	dirty.put(parent)

	if dbtype.CompareFields(probeKey, midKey) > 0 {
		return right, nil
	}
	return leaf, nil
}

// getParentWithEmptySlots returns parentPtr's page, splitting it first if
// full, or — if parentPtr names the root-pointer page (the child was the
// root) — allocates a brand new internal root.
func (bf *BTreeFile) getParentWithEmptySlots(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, parentPtr ChildPtr, key dbtype.Field) (*InternalPage, error) {
	if parentPtr.Cat == dbtype.CategoryRootPtr {
		newRootPg, err := bf.getEmptyPage(tid, bp, dirty, dbtype.CategoryInternal)
		if err != nil {
			return nil, err
		}
		newRoot := newRootPg.(*InternalPage)
		newRoot.SetParentID(ChildPtr{Page: 0, Cat: dbtype.CategoryRootPtr})
		newRoot.MarkDirty(true, tid)
		dirty.put(newRoot)

		rootPtr, err := bf.fetchRootPtr(tid, bp, dirty, txn.ReadWrite)
		if err != nil {
			return nil, err
		}
		rootPtr.SetRootID(childPtrFrom(newRoot.GetID()))
		rootPtr.MarkDirty(true, tid)
		dirty.put(rootPtr)
		return newRoot, nil
	}

	pg, err := fetch(tid, bp, dirty, parentPtr.ToPageID(bf.tableID), txn.ReadWrite)
	if err != nil {
		return nil, err
	}
	parent := pg.(*InternalPage)
	if parent.GetNumEmptySlots() == 0 {
		return bf.splitInternalPage(tid, bp, dirty, parent, key)
	}
	return parent, nil
}

// splitInternalPage pushes the median entry up into page's parent: the
// median's own children are reparented to (page, newRight) and every
// entry to its right moves, wholesale, to newRight.
func (bf *BTreeFile) splitInternalPage(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, page *InternalPage, probeKey dbtype.Field) (*InternalPage, error) {
	n := len(page.entries)
	moveCount := (n + 2) / 2 // ceil((n+1)/2)
	moved := append([]Entry(nil), page.entries[n-moveCount:]...)
	page.entries = page.entries[:n-moveCount]

	median := moved[0]
	rightEntries := append([]Entry(nil), moved[1:]...)

	rightPg, err := bf.getEmptyPage(tid, bp, dirty, dbtype.CategoryInternal)
	if err != nil {
		return nil, err
	}
	right := rightPg.(*InternalPage)
	right.entries = rightEntries

	if err := bf.reparentChild(tid, bp, dirty, median.Right, right.GetID()); err != nil {
		return nil, err
	}
	for _, e := range right.entries {
		if err := bf.reparentChild(tid, bp, dirty, e.Left, right.GetID()); err != nil {
			return nil, err
		}
		if err := bf.reparentChild(tid, bp, dirty, e.Right, right.GetID()); err != nil {
			return nil, err
		}
	}

	parent, err := bf.getParentWithEmptySlots(tid, bp, dirty, page.GetParentID(), median.Key)
	if err != nil {
		return nil, err
	}

	page.SetParentID(childPtrFrom(parent.GetID()))
	right.SetParentID(childPtrFrom(parent.GetID()))
	if err := parent.InsertEntry(Entry{Key: median.Key, Left: childPtrFrom(page.GetID()), Right: childPtrFrom(right.GetID())}); err != nil {
		return nil, err
	}

	page.MarkDirty(true, tid)
	right.MarkDirty(true, tid)
	parent.MarkDirty(true, tid)
	dirty.put(page)
	dirty.put(right)
	dirty.put(parent)

	if dbtype.CompareFields(probeKey, median.Key) > 0 {
		return right, nil
	}
	return page, nil
}

func (bf *BTreeFile) reparentChild(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, c ChildPtr, newParent dbtype.PageID) error {
	if c.IsNil() {
		return nil
	}
	pg, err := fetch(tid, bp, dirty, c.ToPageID(bf.tableID), txn.ReadWrite)
	if err != nil {
		return err
	}
	switch p := pg.(type) {
	case *LeafPage:
		p.SetParentID(childPtrFrom(newParent))
		p.MarkDirty(true, tid)
		dirty.put(p)
	case *InternalPage:
		p.SetParentID(childPtrFrom(newParent))
		p.MarkDirty(true, tid)
		dirty.put(p)
	}
	return nil
}

// ---------------------------------------------------------------------
// Deletion path (spec §4.7)
// ---------------------------------------------------------------------

func (bf *BTreeFile) DeleteTuple(tid txn.ID, bp bufpool.BufferPool, t *dbtype.Tuple) ([]bufpool.Page, error) {
	if !t.RID.IsSet() {
		return nil, dbtype.AsDbException(dbtype.ErrNotHere)
	}
	dirty := dirtyMap{}
	pg, err := fetch(tid, bp, dirty, t.RID.PageID, txn.ReadWrite)
	if err != nil {
		return nil, err
	}
	leaf := pg.(*LeafPage)
	if err := leaf.DeleteTuple(t); err != nil {
		return nil, err
	}
	leaf.MarkDirty(true, tid)
	dirty.put(leaf)

	if leaf.NumTuples() < minCount(leaf.GetMaxTuples()) {
		if err := bf.handleMinOccupancyLeaf(tid, bp, dirty, leaf); err != nil {
			return nil, err
		}
	}
	return dirty.values(), nil
}

// siblingEntries returns the parent entries bordering id on the left
// (whose Right child is id) and on the right (whose Left child is id).
func siblingEntries(parent *InternalPage, id dbtype.PageID) (left Entry, hasLeft bool, right Entry, hasRight bool) {
	target := childPtrFrom(id)
	for _, e := range parent.entries {
		if e.Right == target {
			left, hasLeft = e, true
		}
		if e.Left == target {
			right, hasRight = e, true
		}
	}
	return
}

func (bf *BTreeFile) handleMinOccupancyLeaf(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, leaf *LeafPage) error {
	parentPtr := leaf.GetParentID()
	if parentPtr.Cat == dbtype.CategoryRootPtr {
		return nil // leaf is the root; no occupancy floor applies
	}
	pg, err := fetch(tid, bp, dirty, parentPtr.ToPageID(bf.tableID), txn.ReadWrite)
	if err != nil {
		return err
	}
	parent := pg.(*InternalPage)

	leftEntry, hasLeft, rightEntry, hasRight := siblingEntries(parent, leaf.GetID())
	if hasLeft {
		pg, err := fetch(tid, bp, dirty, leftEntry.Left.ToPageID(bf.tableID), txn.ReadWrite)
		if err != nil {
			return err
		}
		leftSib := pg.(*LeafPage)
		if leftSib.NumTuples() <= minCount(leftSib.GetMaxTuples()) {
			return bf.mergeLeafPages(tid, bp, dirty, leftSib, leaf, parent, leftEntry)
		}
		return bf.stealFromLeafPage(tid, bp, dirty, leaf, leftSib, parent, leftEntry, false)
	}
	if hasRight {
		pg, err := fetch(tid, bp, dirty, rightEntry.Right.ToPageID(bf.tableID), txn.ReadWrite)
		if err != nil {
			return err
		}
		rightSib := pg.(*LeafPage)
		if rightSib.NumTuples() <= minCount(rightSib.GetMaxTuples()) {
			return bf.mergeLeafPages(tid, bp, dirty, leaf, rightSib, parent, rightEntry)
		}
		return bf.stealFromLeafPage(tid, bp, dirty, leaf, rightSib, parent, rightEntry, true)
	}
	return nil
}

func (bf *BTreeFile) stealFromLeafPage(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, page, sibling *LeafPage, parent *InternalPage, sepEntry Entry, siblingIsRight bool) error {
	k := (sibling.NumTuples() - page.NumTuples()) / 2
	if k < 1 {
		k = 1
	}
	if k > sibling.NumTuples() {
		k = sibling.NumTuples()
	}

	if siblingIsRight {
		moved := append([]*dbtype.Tuple(nil), sibling.tuples[:k]...)
		sibling.tuples = sibling.tuples[k:]
		sibling.renumber()
		page.tuples = append(page.tuples, moved...)
		page.renumber()
		if sibling.NumTuples() > 0 {
			sepEntry.Key = sibling.tuples[0].Fields[bf.keyField]
		}
	} else {
		n := sibling.NumTuples()
		moved := append([]*dbtype.Tuple(nil), sibling.tuples[n-k:]...)
		sibling.tuples = sibling.tuples[:n-k]
		sibling.renumber()
		page.tuples = append(append([]*dbtype.Tuple(nil), moved...), page.tuples...)
		page.renumber()
		sepEntry.Key = page.tuples[0].Fields[bf.keyField]
	}

	if err := parent.UpdateEntry(sepEntry); err != nil {
		return err
	}
	page.MarkDirty(true, tid)
	sibling.MarkDirty(true, tid)
	parent.MarkDirty(true, tid)
	dirty.put(page)
	dirty.put(sibling)
	dirty.put(parent)
	return nil
}

func (bf *BTreeFile) mergeLeafPages(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, left, right *LeafPage, parent *InternalPage, sepEntry Entry) error {
	left.tuples = append(left.tuples, right.tuples...)
	left.renumber()
	left.SetRightSiblingID(right.GetRightSiblingID())
	if !right.GetRightSiblingID().IsNil() {
		pg, err := fetch(tid, bp, dirty, right.GetRightSiblingID().ToPageID(bf.tableID), txn.ReadWrite)
		if err != nil {
			return err
		}
		rr := pg.(*LeafPage)
		rr.SetLeftSiblingID(childPtrFrom(left.GetID()))
		rr.MarkDirty(true, tid)
		dirty.put(rr)
	}
	left.MarkDirty(true, tid)
	dirty.put(left)

	rightID := right.GetID().(dbtype.BTreePageID)
	if err := bf.setEmptyPage(tid, bp, dirty, rightID.Page); err != nil {
		return err
	}
	delete(dirty, right.GetID().String())

	return bf.deleteParentEntry(tid, bp, dirty, left, parent, sepEntry)
}

// deleteParentEntry removes entry from parent, then collapses the root
// if parent is now empty, or propagates underflow handling upward.
func (bf *BTreeFile) deleteParentEntry(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, leftRemainder bufpool.Page, parent *InternalPage, entry Entry) error {
	if err := parent.DeleteKeyAndRightChild(entry.Right); err != nil {
		return err
	}

	if parent.NumEntries() == 0 {
		rootPtr, err := bf.fetchRootPtr(tid, bp, dirty, txn.ReadWrite)
		if err != nil {
			return err
		}
		rootPtr.SetRootID(childPtrFrom(leftRemainder.GetID()))
		rootPtr.MarkDirty(true, tid)
		dirty.put(rootPtr)

		switch p := leftRemainder.(type) {
		case *LeafPage:
			p.SetParentID(ChildPtr{Page: 0, Cat: dbtype.CategoryRootPtr})
		case *InternalPage:
			p.SetParentID(ChildPtr{Page: 0, Cat: dbtype.CategoryRootPtr})
		}
		leftRemainder.MarkDirty(true, tid)
		dirty.put(leftRemainder)

		parentID := parent.GetID().(dbtype.BTreePageID)
		if err := bf.setEmptyPage(tid, bp, dirty, parentID.Page); err != nil {
			return err
		}
		delete(dirty, parent.GetID().String())
		return nil
	}

	parent.MarkDirty(true, tid)
	dirty.put(parent)
	if parent.NumEntries() < minCount(parent.GetMaxEntries()) {
		return bf.handleMinOccupancyInternal(tid, bp, dirty, parent)
	}
	return nil
}

func (bf *BTreeFile) handleMinOccupancyInternal(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, page *InternalPage) error {
	parentPtr := page.GetParentID()
	if parentPtr.Cat == dbtype.CategoryRootPtr {
		return nil // page is the root
	}
	pg, err := fetch(tid, bp, dirty, parentPtr.ToPageID(bf.tableID), txn.ReadWrite)
	if err != nil {
		return err
	}
	parent := pg.(*InternalPage)

	leftEntry, hasLeft, rightEntry, hasRight := siblingEntries(parent, page.GetID())
	if hasLeft {
		pg, err := fetch(tid, bp, dirty, leftEntry.Left.ToPageID(bf.tableID), txn.ReadWrite)
		if err != nil {
			return err
		}
		leftSib := pg.(*InternalPage)
		if leftSib.NumEntries() <= minCount(leftSib.GetMaxEntries()) {
			return bf.mergeInternalPages(tid, bp, dirty, leftSib, page, parent, leftEntry)
		}
		return bf.stealFromLeftInternalPage(tid, bp, dirty, page, leftSib, parent, leftEntry)
	}
	if hasRight {
		pg, err := fetch(tid, bp, dirty, rightEntry.Right.ToPageID(bf.tableID), txn.ReadWrite)
		if err != nil {
			return err
		}
		rightSib := pg.(*InternalPage)
		if rightSib.NumEntries() <= minCount(rightSib.GetMaxEntries()) {
			return bf.mergeInternalPages(tid, bp, dirty, page, rightSib, parent, rightEntry)
		}
		return bf.stealFromRightInternalPage(tid, bp, dirty, page, rightSib, parent, rightEntry)
	}
	return nil
}

// stealFromLeftInternalPage rotates entries through the parent: the
// sibling's rightmost child becomes page's new leftmost child, the old
// parent separator becomes page's new first entry, and the sibling's
// former last key becomes the new parent separator.
func (bf *BTreeFile) stealFromLeftInternalPage(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, page, leftSib *InternalPage, parent *InternalPage, sepEntry Entry) error {
	k := (leftSib.NumEntries() - page.NumEntries()) / 2
	if k < 1 {
		k = 1
	}
	sep := sepEntry.Key
	for i := 0; i < k && len(leftSib.entries) > 0; i++ {
		n := len(leftSib.entries)
		moved := leftSib.entries[n-1]
		leftSib.entries = leftSib.entries[:n-1]
		if err := bf.reparentChild(tid, bp, dirty, moved.Right, page.GetID()); err != nil {
			return err
		}
		oldLeftmost := page.entries[0].Left
		page.entries = append([]Entry{{Key: sep, Left: moved.Right, Right: oldLeftmost}}, page.entries...)
		sep = moved.Key
	}
	sepEntry.Key = sep
	if err := parent.UpdateEntry(sepEntry); err != nil {
		return err
	}
	leftSib.MarkDirty(true, tid)
	page.MarkDirty(true, tid)
	parent.MarkDirty(true, tid)
	dirty.put(leftSib)
	dirty.put(page)
	dirty.put(parent)
	return nil
}

// stealFromRightInternalPage is the mirror image of the left-steal.
func (bf *BTreeFile) stealFromRightInternalPage(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, page, rightSib *InternalPage, parent *InternalPage, sepEntry Entry) error {
	k := (rightSib.NumEntries() - page.NumEntries()) / 2
	if k < 1 {
		k = 1
	}
	sep := sepEntry.Key
	for i := 0; i < k && len(rightSib.entries) > 0; i++ {
		moved := rightSib.entries[0]
		rightSib.entries = rightSib.entries[1:]
		if err := bf.reparentChild(tid, bp, dirty, moved.Left, page.GetID()); err != nil {
			return err
		}
		oldRightmost := page.entries[len(page.entries)-1].Right
		page.entries = append(page.entries, Entry{Key: sep, Left: oldRightmost, Right: moved.Left})
		sep = moved.Key
	}
	sepEntry.Key = sep
	if err := parent.UpdateEntry(sepEntry); err != nil {
		return err
	}
	rightSib.MarkDirty(true, tid)
	page.MarkDirty(true, tid)
	parent.MarkDirty(true, tid)
	dirty.put(rightSib)
	dirty.put(page)
	dirty.put(parent)
	return nil
}

// mergeInternalPages pulls the parent separator down as a bridging entry
// between left's and right's entries, reparents every child right owned,
// frees right, and removes the separator from parent.
func (bf *BTreeFile) mergeInternalPages(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, left, right *InternalPage, parent *InternalPage, sepEntry Entry) error {
	bridging := Entry{
		Key:   sepEntry.Key,
		Left:  left.entries[len(left.entries)-1].Right,
		Right: right.entries[0].Left,
	}
	left.entries = append(left.entries, bridging)
	left.entries = append(left.entries, right.entries...)

	if err := bf.reparentChild(tid, bp, dirty, bridging.Right, left.GetID()); err != nil {
		return err
	}
	for _, e := range right.entries {
		if err := bf.reparentChild(tid, bp, dirty, e.Left, left.GetID()); err != nil {
			return err
		}
		if err := bf.reparentChild(tid, bp, dirty, e.Right, left.GetID()); err != nil {
			return err
		}
	}

	left.MarkDirty(true, tid)
	dirty.put(left)

	rightID := right.GetID().(dbtype.BTreePageID)
	if err := bf.setEmptyPage(tid, bp, dirty, rightID.Page); err != nil {
		return err
	}
	delete(dirty, right.GetID().String())

	return bf.deleteParentEntry(tid, bp, dirty, left, parent, sepEntry)
}

// ---------------------------------------------------------------------
// Empty-page allocator (spec §4.8)
// ---------------------------------------------------------------------

// headerAt returns the header page at zero-based chain index idx,
// minting and linking new header pages as needed to reach it. A freshly
// minted header marks its own page number used within itself, since that
// number falls within the range it tracks.
func (bf *BTreeFile) headerAt(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, rootPtr *RootPtrPage, idx int) (*HeaderPage, error) {
	cur := rootPtr.GetHeaderID()
	var prev *HeaderPage
	for i := 0; ; i++ {
		if cur.IsNil() {
			newNo, err := bf.appendZeroedPage()
			if err != nil {
				return nil, err
			}
			pid := dbtype.BTreePageID{Table: bf.tableID, Page: newNo, Cat: dbtype.CategoryHeader}
			pg, err := fetch(tid, bp, dirty, pid, txn.ReadWrite)
			if err != nil {
				return nil, err
			}
			nh := pg.(*HeaderPage)
			if selfSlot := newNo - (i*SlotsPerHeader() + 1); selfSlot >= 0 && selfSlot < SlotsPerHeader() {
				nh.MarkPageUsed(selfSlot)
			}
			nh.MarkDirty(true, tid)
			dirty.put(nh)

			if prev == nil {
				rootPtr.SetHeaderID(childPtrFrom(pid))
				rootPtr.MarkDirty(true, tid)
				dirty.put(rootPtr)
			} else {
				prev.SetNextID(childPtrFrom(pid))
				nh.SetPrevID(childPtrFrom(prev.GetID()))
				prev.MarkDirty(true, tid)
				dirty.put(prev)
			}
			if i == idx {
				return nh, nil
			}
			prev = nh
			cur = ChildPtr{Cat: dbtype.CategoryNone}
			continue
		}

		pg, err := fetch(tid, bp, dirty, cur.ToPageID(bf.tableID), txn.ReadWrite)
		if err != nil {
			return nil, err
		}
		hp := pg.(*HeaderPage)
		if i == idx {
			return hp, nil
		}
		prev = hp
		cur = hp.GetNextID()
	}
}

// getEmptyPageNo returns the first free page number, walking the header
// chain and extending it (minting a header page) only when every
// existing header is full.
func (bf *BTreeFile) getEmptyPageNo(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap) (int, error) {
	rootPtr, err := bf.fetchRootPtr(tid, bp, dirty, txn.ReadWrite)
	if err != nil {
		return 0, err
	}
	for idx := 0; ; idx++ {
		hp, err := bf.headerAt(tid, bp, dirty, rootPtr, idx)
		if err != nil {
			return 0, err
		}
		if slot := hp.FirstFreeSlot(); slot >= 0 {
			hp.MarkPageUsed(slot)
			hp.MarkDirty(true, tid)
			dirty.put(hp)
			return idx*SlotsPerHeader() + slot + 1, nil
		}
	}
}

// getEmptyPage allocates a page number, wipes its on-disk bytes under
// extendMu, discards any cached copy from the buffer pool, and re-fetches
// the page through the pool under write permission. extendMu covers only
// the disk write, and the pool's page lock is taken only by the re-fetch,
// so the zeroing write itself happens outside the pool's locking.
func (bf *BTreeFile) getEmptyPage(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, cat dbtype.PageCategory) (bufpool.Page, error) {
	no, err := bf.getEmptyPageNo(tid, bp, dirty)
	if err != nil {
		return nil, err
	}
	if err := bf.zeroPageAt(no); err != nil {
		return nil, err
	}
	pid := dbtype.BTreePageID{Table: bf.tableID, Page: no, Cat: cat}
	bp.DiscardPage(pid)
	delete(dirty, pid.String())
	return fetch(tid, bp, dirty, pid, txn.ReadWrite)
}

// setEmptyPage marks pageNo free in its header page, extending the
// header chain to reach it if necessary.
func (bf *BTreeFile) setEmptyPage(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, pageNo int) error {
	idx := (pageNo - 1) / SlotsPerHeader()
	slot := (pageNo - 1) - idx*SlotsPerHeader()
	rootPtr, err := bf.fetchRootPtr(tid, bp, dirty, txn.ReadWrite)
	if err != nil {
		return err
	}
	hp, err := bf.headerAt(tid, bp, dirty, rootPtr, idx)
	if err != nil {
		return err
	}
	hp.MarkPageFree(slot)
	hp.MarkDirty(true, tid)
	dirty.put(hp)
	return nil
}
