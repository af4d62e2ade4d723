// Package heap implements the unordered, fixed-slot heap page and heap
// file: spec.md §3 "Heap page" / §4.2 / §4.3.
package heap

import (
	"bytes"
	"fmt"
	"io"

	"relstore/pkg/bufpool"
	"relstore/pkg/dbtype"
	"relstore/pkg/txn"
)

// CorruptBeforeImage is the panic value raised when a heap page's stored
// before-image bytes fail to decode — spec.md §7: "decoder errors during
// before-image materialization abort the process (indicates corruption of
// bytes that parsed successfully once)".
type CorruptBeforeImage struct {
	Page dbtype.PageID
	Err  error
}

func (c *CorruptBeforeImage) Error() string {
	return fmt.Sprintf("heap: corrupt before-image for %v: %v", c.Page, c.Err)
}

// Page is a fixed-layout, unordered slotted page: a bitmap header followed
// by numSlots fixed-size tuple slots, followed by zero padding to
// dbtype.PageSize.
type Page struct {
	id          dbtype.HeapPageID
	desc        *dbtype.TupleDesc
	numSlots    int
	headerBytes int
	header      []byte
	tuples      []*dbtype.Tuple

	dirty    bool
	dirtyTid txn.ID

	beforeImage []byte
}

// NumSlots returns floor(PageSize*8 / (tupleSize*8 + 1)) — one bitmap bit
// of overhead per slot, per spec.md §3.
func NumSlots(tupleSize int) int {
	return (dbtype.PageSize * 8) / (tupleSize*8 + 1)
}

// NewPage decodes data (exactly dbtype.PageSize bytes) into a heap page.
// Empty slots still consume tupleSize zero bytes on disk, which are read
// and discarded so slot offsets stay invariant. The re-encoded bytes are
// captured as the page's before-image.
func NewPage(id dbtype.HeapPageID, desc *dbtype.TupleDesc, data []byte) (*Page, error) {
	tupleSize := desc.Size()
	numSlots := NumSlots(tupleSize)
	headerBytes := dbtype.HeaderBytes(numSlots)
	if len(data) < headerBytes {
		return nil, dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
	}

	p := &Page{
		id:          id,
		desc:        desc,
		numSlots:    numSlots,
		headerBytes: headerBytes,
		header:      append([]byte(nil), data[:headerBytes]...),
		tuples:      make([]*dbtype.Tuple, numSlots),
	}

	r := bytes.NewReader(data[headerBytes:])
	for i := 0; i < numSlots; i++ {
		if dbtype.IsBitSet(p.header, i) {
			t, err := dbtype.ReadTuple(desc, r)
			if err != nil {
				return nil, err
			}
			t.RID = dbtype.RecordID{PageID: id, SlotIndex: i}
			p.tuples[i] = t
		} else if _, err := io.CopyN(io.Discard, r, int64(tupleSize)); err != nil {
			return nil, dbtype.AsIoError(err)
		}
	}

	p.beforeImage = p.GetPageData()
	return p, nil
}

// GetPageData re-encodes the page to exactly dbtype.PageSize bytes. The
// result satisfies round-trip identity: NewPage(id, desc, p.GetPageData())
// decodes to a page with the same occupied slots and the same bytes.
func (p *Page) GetPageData() []byte {
	buf := make([]byte, dbtype.PageSize)
	copy(buf, p.header)

	tupleSize := p.desc.Size()
	offset := p.headerBytes
	for i := 0; i < p.numSlots; i++ {
		if p.tuples[i] != nil {
			var bw bytes.Buffer
			// WriteTuple cannot fail against an in-memory buffer with a
			// tuple that already matches the page descriptor.
			_ = dbtype.WriteTuple(p.tuples[i], &bw)
			copy(buf[offset:], bw.Bytes())
		}
		offset += tupleSize
	}
	return buf
}

func (p *Page) GetID() dbtype.PageID { return p.id }

// InsertTuple places t in the first unoccupied slot, assigning its record
// id. Fails with ErrMismatch if t's descriptor differs from the page's,
// ErrFull if every slot is occupied.
func (p *Page) InsertTuple(t *dbtype.Tuple) error {
	if !t.Desc.Equal(p.desc) {
		return dbtype.AsDbException(dbtype.ErrMismatch)
	}
	for i := 0; i < p.numSlots; i++ {
		if !dbtype.IsBitSet(p.header, i) {
			dbtype.SetBit(p.header, i)
			t.RID = dbtype.RecordID{PageID: p.id, SlotIndex: i}
			p.tuples[i] = t
			return nil
		}
	}
	return dbtype.AsDbException(dbtype.ErrFull)
}

// DeleteTuple clears t's slot. Fails with ErrNotHere if t's record id
// names a different page, ErrEmptySlot if the slot is already clear.
func (p *Page) DeleteTuple(t *dbtype.Tuple) error {
	if !t.RID.IsSet() || !t.RID.PageID.Equals(p.id) {
		return dbtype.AsDbException(dbtype.ErrNotHere)
	}
	i := t.RID.SlotIndex
	if i < 0 || i >= p.numSlots || !dbtype.IsBitSet(p.header, i) {
		return dbtype.AsDbException(dbtype.ErrEmptySlot)
	}
	dbtype.ClearBit(p.header, i)
	p.tuples[i] = nil
	t.RID = dbtype.RecordID{}
	return nil
}

// GetNumSlots returns the page's fixed slot count.
func (p *Page) GetNumSlots() int { return p.numSlots }

func (p *Page) GetNumEmptySlots() int {
	n := 0
	for i := 0; i < p.numSlots; i++ {
		if !dbtype.IsBitSet(p.header, i) {
			n++
		}
	}
	return n
}

func (p *Page) IsSlotUsed(i int) bool { return dbtype.IsBitSet(p.header, i) }

func (p *Page) MarkDirty(dirty bool, tid txn.ID) {
	p.dirty = dirty
	if dirty {
		p.dirtyTid = tid
	}
}

func (p *Page) IsDirty() (txn.ID, bool) { return p.dirtyTid, p.dirty }

// GetBeforeImage decodes a fresh page from the stored before-image bytes.
// A decode failure here indicates bytes that parsed successfully once are
// now corrupt — not a recoverable condition, so this panics rather than
// returning an error, per spec.md §7.
func (p *Page) GetBeforeImage() (bufpool.Page, error) {
	bi, err := NewPage(p.id, p.desc, p.beforeImage)
	if err != nil {
		panic(&CorruptBeforeImage{Page: p.id, Err: err})
	}
	return bi, nil
}

// PageIterator yields tuples in ascending slot order, skipping empty
// slots. It snapshots the occupied tuples at construction time (§9:
// "iterators that cannot outlive their page") so later mutation of the
// page cannot make it yield a deleted tuple, and it is not restartable.
type PageIterator struct {
	tuples []*dbtype.Tuple
	idx    int
}

func (p *Page) Iterator() *PageIterator {
	snap := make([]*dbtype.Tuple, 0, p.numSlots-p.GetNumEmptySlots())
	for i := 0; i < p.numSlots; i++ {
		if p.tuples[i] != nil {
			snap = append(snap, p.tuples[i])
		}
	}
	return &PageIterator{tuples: snap}
}

func (it *PageIterator) HasNext() bool { return it.idx < len(it.tuples) }

func (it *PageIterator) Next() (*dbtype.Tuple, error) {
	if !it.HasNext() {
		return nil, io.EOF
	}
	t := it.tuples[it.idx]
	it.idx++
	return t, nil
}

// Remove is unsupported — heap-page iterators are read views over a
// snapshot, not a mutation channel.
func (it *PageIterator) Remove() error { return dbtype.AsDbException(dbtype.ErrUnsupported) }
