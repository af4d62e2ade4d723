package btree

import (
	"bytes"

	"relstore/pkg/bufpool"
	"relstore/pkg/dbtype"
	"relstore/pkg/txn"
)

// Entry is one (key, leftChild, rightChild) triple of an internal page.
// Adjacent entries on the same page share a child pointer: entry[i].Right
// equals entry[i+1].Left.
type Entry struct {
	Key   dbtype.Field
	Left  ChildPtr
	Right ChildPtr
}

// internalFixedBytes is the parent ChildPtr preceding the header bitmap.
const internalFixedBytes = childPtrSize

func entrySize(keyType dbtype.FieldType) int {
	return keyType.Size() + 2*childPtrSize
}

// MaxEntries returns floor((pageSize-fixed)*8 / (entrySize*8+1)).
func MaxEntries(keyType dbtype.FieldType) int {
	avail := (dbtype.PageSize - internalFixedBytes) * 8
	return avail / (entrySize(keyType)*8 + 1)
}

// InternalPage is a sorted sequence of entries: parent ChildPtr (int32
// page number + category byte) | slot bitmap | fixed-size entry slots. Entry occupancy is always
// contiguous from slot 0 — entries are kept sorted in memory, so there is
// no benefit to a sparse bitmap, only to knowing how many are present.
type InternalPage struct {
	id      dbtype.BTreePageID
	keyType dbtype.FieldType
	parent  ChildPtr
	entries []Entry

	maxEntries  int
	headerBytes int

	dirty    bool
	dirtyTid txn.ID
}

func keyDesc(ft dbtype.FieldType) *dbtype.TupleDesc {
	return dbtype.NewTupleDesc([]dbtype.FieldType{ft}, nil)
}

func NewInternalPage(id dbtype.BTreePageID, keyType dbtype.FieldType, data []byte) (*InternalPage, error) {
	if len(data) < dbtype.PageSize {
		return nil, dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
	}
	maxEntries := MaxEntries(keyType)
	headerBytes := dbtype.HeaderBytes(maxEntries)

	r := bytes.NewReader(data)
	parent, err := readChildPtr(r)
	if err != nil {
		return nil, err
	}
	header := make([]byte, headerBytes)
	if _, err := r.Read(header); err != nil {
		return nil, dbtype.AsIoError(err)
	}

	desc := keyDesc(keyType)
	entries := make([]Entry, 0, maxEntries)
	for i := 0; i < maxEntries; i++ {
		if !dbtype.IsBitSet(header, i) {
			break
		}
		kt, err := dbtype.ReadTuple(desc, r)
		if err != nil {
			return nil, err
		}
		left, err := readChildPtr(r)
		if err != nil {
			return nil, err
		}
		right, err := readChildPtr(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: kt.Fields[0], Left: left, Right: right})
	}

	return &InternalPage{
		id: id, keyType: keyType, parent: parent, entries: entries,
		maxEntries: maxEntries, headerBytes: headerBytes,
	}, nil
}

func (p *InternalPage) GetPageData() []byte {
	buf := make([]byte, dbtype.PageSize)
	var hdr bytes.Buffer
	_ = writeChildPtr(&hdr, p.parent)
	copy(buf, hdr.Bytes())

	header := make([]byte, p.headerBytes)
	for i := range p.entries {
		dbtype.SetBit(header, i)
	}
	copy(buf[internalFixedBytes:], header)

	desc := keyDesc(p.keyType)
	offset := internalFixedBytes + p.headerBytes
	sz := entrySize(p.keyType)
	for i := 0; i < p.maxEntries; i++ {
		if i < len(p.entries) {
			var bw bytes.Buffer
			kt := dbtype.NewTuple(desc)
			_ = kt.SetField(0, p.entries[i].Key)
			_ = dbtype.WriteTuple(kt, &bw)
			_ = writeChildPtr(&bw, p.entries[i].Left)
			_ = writeChildPtr(&bw, p.entries[i].Right)
			copy(buf[offset:], bw.Bytes())
		}
		offset += sz
	}
	return buf
}

func (p *InternalPage) GetID() dbtype.PageID { return p.id }

func (p *InternalPage) GetParentID() ChildPtr  { return p.parent }
func (p *InternalPage) SetParentID(c ChildPtr) { p.parent = c }

func (p *InternalPage) GetMaxEntries() int     { return p.maxEntries }
func (p *InternalPage) GetNumEmptySlots() int  { return p.maxEntries - len(p.entries) }
func (p *InternalPage) NumEntries() int        { return len(p.entries) }
func (p *InternalPage) EntryAt(i int) Entry    { return p.entries[i] }
func (p *InternalPage) Entries() []Entry       { return p.entries }

// InsertEntry inserts e in sorted-by-key position. Fails with Full if the
// page has no empty slots.
func (p *InternalPage) InsertEntry(e Entry) error {
	if len(p.entries) >= p.maxEntries {
		return dbtype.AsDbException(dbtype.ErrFull)
	}
	i := 0
	for i < len(p.entries) && dbtype.CompareFields(p.entries[i].Key, e.Key) < 0 {
		i++
	}
	p.entries = append(p.entries, Entry{})
	copy(p.entries[i+1:], p.entries[i:])
	p.entries[i] = e
	return nil
}

// DeleteKeyAndRightChild removes the entry whose Right child matches c.
func (p *InternalPage) DeleteKeyAndRightChild(c ChildPtr) error {
	for i, e := range p.entries {
		if e.Right == c {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return nil
		}
	}
	return dbtype.AsDbException(dbtype.ErrNotHere)
}

// DeleteKeyAndLeftChild removes the entry whose Left child matches c.
func (p *InternalPage) DeleteKeyAndLeftChild(c ChildPtr) error {
	for i, e := range p.entries {
		if e.Left == c {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return nil
		}
	}
	return dbtype.AsDbException(dbtype.ErrNotHere)
}

// UpdateEntry overwrites the entry sharing e's Left/Right children with e
// (used to update a separating key in place, e.g. on steal).
func (p *InternalPage) UpdateEntry(e Entry) error {
	for i := range p.entries {
		if p.entries[i].Left == e.Left && p.entries[i].Right == e.Right {
			p.entries[i] = e
			return nil
		}
	}
	return dbtype.AsDbException(dbtype.ErrNotHere)
}

func (p *InternalPage) MarkDirty(dirty bool, tid txn.ID) {
	p.dirty = dirty
	if dirty {
		p.dirtyTid = tid
	}
}
func (p *InternalPage) IsDirty() (txn.ID, bool) { return p.dirtyTid, p.dirty }

func (p *InternalPage) GetBeforeImage() (bufpool.Page, error) { return p, nil }

// Iterator yields entries in ascending key order.
type InternalIterator struct {
	entries []Entry
	idx     int
}

func (p *InternalPage) Iterator() *InternalIterator {
	return &InternalIterator{entries: p.entries}
}

func (p *InternalPage) ReverseIterator() *InternalIterator {
	rev := make([]Entry, len(p.entries))
	for i, e := range p.entries {
		rev[len(p.entries)-1-i] = e
	}
	return &InternalIterator{entries: rev}
}

func (it *InternalIterator) HasNext() bool { return it.idx < len(it.entries) }
func (it *InternalIterator) Next() Entry {
	e := it.entries[it.idx]
	it.idx++
	return e
}
