package btree

import (
	"bytes"

	"relstore/pkg/bufpool"
	"relstore/pkg/dbtype"
	"relstore/pkg/txn"
)

// leafFixedBytes is parent + leftSibling + rightSibling ChildPtrs
// preceding the header bitmap.
const leafFixedBytes = 3 * childPtrSize

// LeafPage is a sorted (on the key field) sequence of tuples: parent |
// leftSibling | rightSibling | slot bitmap | fixed-size tuple slots.
// Occupancy is contiguous from slot 0 for the same reason as InternalPage.
type LeafPage struct {
	id       dbtype.BTreePageID
	desc     *dbtype.TupleDesc
	keyField int
	parent   ChildPtr
	left     ChildPtr
	right    ChildPtr
	tuples   []*dbtype.Tuple

	maxTuples   int
	headerBytes int

	dirty    bool
	dirtyTid txn.ID
}

// MaxTuples returns floor((pageSize-leafFixedBytes)*8 / (tupleSize*8+1)).
func MaxTuples(tupleSize int) int {
	avail := (dbtype.PageSize - leafFixedBytes) * 8
	return avail / (tupleSize*8 + 1)
}

func NewLeafPage(id dbtype.BTreePageID, desc *dbtype.TupleDesc, keyField int, data []byte) (*LeafPage, error) {
	if len(data) < dbtype.PageSize {
		return nil, dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
	}
	tupleSize := desc.Size()
	maxTuples := MaxTuples(tupleSize)
	headerBytes := dbtype.HeaderBytes(maxTuples)

	r := bytes.NewReader(data)
	parent, err := readChildPtr(r)
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
	header := make([]byte, headerBytes)
	if _, err := r.Read(header); err != nil {
		return nil, dbtype.AsIoError(err)
	}

	tuples := make([]*dbtype.Tuple, 0, maxTuples)
	for i := 0; i < maxTuples; i++ {
		if !dbtype.IsBitSet(header, i) {
			break
		}
		t, err := dbtype.ReadTuple(desc, r)
		if err != nil {
			return nil, err
		}
		t.RID = dbtype.RecordID{PageID: id, SlotIndex: i}
		tuples = append(tuples, t)
	}

	return &LeafPage{
		id: id, desc: desc, keyField: keyField,
		parent: parent, left: left, right: right, tuples: tuples,
		maxTuples: maxTuples, headerBytes: headerBytes,
	}, nil
}

func (p *LeafPage) GetPageData() []byte {
	buf := make([]byte, dbtype.PageSize)
	var hdr bytes.Buffer
	_ = writeChildPtr(&hdr, p.parent)
	_ = writeChildPtr(&hdr, p.left)
	_ = writeChildPtr(&hdr, p.right)
	copy(buf, hdr.Bytes())

	header := make([]byte, p.headerBytes)
	for i := range p.tuples {
		dbtype.SetBit(header, i)
	}
	copy(buf[leafFixedBytes:], header)

	tupleSize := p.desc.Size()
	offset := leafFixedBytes + p.headerBytes
	for i := 0; i < p.maxTuples; i++ {
		if i < len(p.tuples) {
			var bw bytes.Buffer
			_ = dbtype.WriteTuple(p.tuples[i], &bw)
			copy(buf[offset:], bw.Bytes())
		}
		offset += tupleSize
	}
	return buf
}

func (p *LeafPage) GetID() dbtype.PageID { return p.id }

func (p *LeafPage) GetParentID() ChildPtr  { return p.parent }
func (p *LeafPage) SetParentID(c ChildPtr) { p.parent = c }

func (p *LeafPage) GetLeftSiblingID() ChildPtr   { return p.left }
func (p *LeafPage) SetLeftSiblingID(c ChildPtr)  { p.left = c }
func (p *LeafPage) GetRightSiblingID() ChildPtr  { return p.right }
func (p *LeafPage) SetRightSiblingID(c ChildPtr) { p.right = c }

func (p *LeafPage) GetMaxTuples() int       { return p.maxTuples }
func (p *LeafPage) GetNumEmptySlots() int   { return p.maxTuples - len(p.tuples) }
func (p *LeafPage) NumTuples() int          { return len(p.tuples) }
func (p *LeafPage) TupleAt(i int) *dbtype.Tuple { return p.tuples[i] }

func (p *LeafPage) key(t *dbtype.Tuple) dbtype.Field { return t.Fields[p.keyField] }

// InsertTuple places t in sorted position by its key field. Fails with
// Full if the page has no empty slots, Mismatch if t's descriptor
// differs.
func (p *LeafPage) InsertTuple(t *dbtype.Tuple) error {
	if !t.Desc.Equal(p.desc) {
		return dbtype.AsDbException(dbtype.ErrMismatch)
	}
	if len(p.tuples) >= p.maxTuples {
		return dbtype.AsDbException(dbtype.ErrFull)
	}
	i := 0
	for i < len(p.tuples) && dbtype.CompareFields(p.key(p.tuples[i]), p.key(t)) < 0 {
		i++
	}
	p.tuples = append(p.tuples, nil)
	copy(p.tuples[i+1:], p.tuples[i:])
	p.tuples[i] = t
	p.renumber()
	return nil
}

// DeleteTuple removes the tuple matching t by value — record ids into a
// sorted leaf can shift as siblings are inserted, so identity is by field
// equality rather than by slot index alone.
func (p *LeafPage) DeleteTuple(t *dbtype.Tuple) error {
	for i, cand := range p.tuples {
		if cand.Equal(t) || (cand.RID.IsSet() && t.RID.IsSet() &&
			cand.RID.PageID.Equals(t.RID.PageID) && cand.RID.SlotIndex == t.RID.SlotIndex) {
			p.tuples = append(p.tuples[:i], p.tuples[i+1:]...)
			t.RID = dbtype.RecordID{}
			p.renumber()
			return nil
		}
	}
	return dbtype.AsDbException(dbtype.ErrNotHere)
}

func (p *LeafPage) renumber() {
	for i, t := range p.tuples {
		t.RID = dbtype.RecordID{PageID: p.id, SlotIndex: i}
	}
}

func (p *LeafPage) MarkDirty(dirty bool, tid txn.ID) {
	p.dirty = dirty
	if dirty {
		p.dirtyTid = tid
	}
}
func (p *LeafPage) IsDirty() (txn.ID, bool) { return p.dirtyTid, p.dirty }

func (p *LeafPage) GetBeforeImage() (bufpool.Page, error) { return p, nil }

// LeafIterator yields tuples in ascending or descending key order
// depending on which constructor built it.
type LeafIterator struct {
	tuples []*dbtype.Tuple
	idx    int
}

func (p *LeafPage) Iterator() *LeafIterator {
	snap := append([]*dbtype.Tuple(nil), p.tuples...)
	return &LeafIterator{tuples: snap}
}

func (p *LeafPage) ReverseIterator() *LeafIterator {
	n := len(p.tuples)
	rev := make([]*dbtype.Tuple, n)
	for i, t := range p.tuples {
		rev[n-1-i] = t
	}
	return &LeafIterator{tuples: rev}
}

func (it *LeafIterator) HasNext() bool { return it.idx < len(it.tuples) }
func (it *LeafIterator) Next() *dbtype.Tuple {
	t := it.tuples[it.idx]
	it.idx++
	return t
}
