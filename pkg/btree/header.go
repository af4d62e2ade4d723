package btree

import (
	"encoding/binary"

	"relstore/pkg/bufpool"
	"relstore/pkg/dbtype"
	"relstore/pkg/txn"
)

// headerFixedBytes is prev(int32) + next(int32) preceding the bitmap.
const headerFixedBytes = 8

// HeaderPage is one link in the free-page bitmap chain: bit k is 1 iff
// page number h*slotsPerHeader + k + 1 is currently allocated, where h is
// this page's zero-based index in the chain.
type HeaderPage struct {
	id     dbtype.BTreePageID
	index  int // zero-based position in the header chain
	prev   ChildPtr
	next   ChildPtr
	bitmap []byte

	dirty    bool
	dirtyTid txn.ID
}

// SlotsPerHeader is the number of trackable page numbers per header page.
func SlotsPerHeader() int {
	return (dbtype.PageSize - headerFixedBytes) * 8
}

func NewHeaderPage(id dbtype.BTreePageID, index int, data []byte) (*HeaderPage, error) {
	if len(data) < dbtype.PageSize {
		return nil, dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
	}
	prevNo := int32(binary.LittleEndian.Uint32(data[0:4]))
	nextNo := int32(binary.LittleEndian.Uint32(data[4:8]))
	prev := ChildPtr{Cat: dbtype.CategoryNone}
	if prevNo != 0 {
		prev = ChildPtr{Page: prevNo, Cat: dbtype.CategoryHeader}
	}
	next := ChildPtr{Cat: dbtype.CategoryNone}
	if nextNo != 0 {
		next = ChildPtr{Page: nextNo, Cat: dbtype.CategoryHeader}
	}
	bm := append([]byte(nil), data[headerFixedBytes:]...)
	return &HeaderPage{id: id, index: index, prev: prev, next: next, bitmap: bm}, nil
}

func (p *HeaderPage) GetPageData() []byte {
	buf := make([]byte, dbtype.PageSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.prev.Page))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.next.Page))
	copy(buf[headerFixedBytes:], p.bitmap)
	return buf
}

func (p *HeaderPage) GetID() dbtype.PageID { return p.id }

func (p *HeaderPage) GetPrevID() ChildPtr  { return p.prev }
func (p *HeaderPage) SetPrevID(c ChildPtr) { p.prev = c }
func (p *HeaderPage) GetNextID() ChildPtr  { return p.next }
func (p *HeaderPage) SetNextID(c ChildPtr) { p.next = c }

// IsPageUsed reports whether slot k (page number h*slotsPerHeader+k+1) is
// marked allocated.
func (p *HeaderPage) IsPageUsed(k int) bool { return dbtype.IsBitSet(p.bitmap, k) }

func (p *HeaderPage) MarkPageUsed(k int)   { dbtype.SetBit(p.bitmap, k) }
func (p *HeaderPage) MarkPageFree(k int)   { dbtype.ClearBit(p.bitmap, k) }

// FirstFreeSlot returns the first slot index not marked used, or -1.
func (p *HeaderPage) FirstFreeSlot() int {
	for k := 0; k < SlotsPerHeader(); k++ {
		if !p.IsPageUsed(k) {
			return k
		}
	}
	return -1
}

func (p *HeaderPage) MarkDirty(dirty bool, tid txn.ID) {
	p.dirty = dirty
	if dirty {
		p.dirtyTid = tid
	}
}
func (p *HeaderPage) IsDirty() (txn.ID, bool) { return p.dirtyTid, p.dirty }

func (p *HeaderPage) GetBeforeImage() (bufpool.Page, error) { return p, nil }
