package btree

import (
	"bytes"
	"encoding/binary"

	"relstore/pkg/bufpool"
	"relstore/pkg/dbtype"
	"relstore/pkg/txn"
)

// RootPtrPage is the sole, fixed-offset-0 page of a B+-tree file: it
// names the current root and the head of the free-page header chain.
// Bytes: rootPageNumber(int32) | rootCategory(byte) | firstHeaderPageNumber(int32),
// zero-padded to dbtype.RootPtrPageSize.
type RootPtrPage struct {
	id    dbtype.BTreePageID
	root  ChildPtr
	first ChildPtr // first header page, category is always CategoryHeader or none

	dirty    bool
	dirtyTid txn.ID
}

func NewRootPtrPage(tableID int64, data []byte) (*RootPtrPage, error) {
	if len(data) < dbtype.RootPtrPageSize {
		return nil, dbtype.AsIllegalArgument(dbtype.ErrBadPageID)
	}
	r := bytes.NewReader(data)
	root, err := readChildPtr(r)
	if err != nil {
		return nil, err
	}
	var hbuf [4]byte
	if _, err := r.Read(hbuf[:]); err != nil {
		return nil, dbtype.AsIoError(err)
	}
	firstHeader := int32(binary.LittleEndian.Uint32(hbuf[:]))
	first := ChildPtr{Cat: dbtype.CategoryNone}
	if firstHeader != 0 {
		first = ChildPtr{Page: firstHeader, Cat: dbtype.CategoryHeader}
	}
	return &RootPtrPage{
		id:    dbtype.BTreePageID{Table: tableID, Page: 0, Cat: dbtype.CategoryRootPtr},
		root:  root,
		first: first,
	}, nil
}

func (p *RootPtrPage) GetPageData() []byte {
	buf := make([]byte, dbtype.RootPtrPageSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.root.Page))
	buf[4] = byte(p.root.Cat)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(p.first.Page))
	return buf
}

func (p *RootPtrPage) GetID() dbtype.PageID { return p.id }

func (p *RootPtrPage) GetRootID() ChildPtr   { return p.root }
func (p *RootPtrPage) SetRootID(c ChildPtr)  { p.root = c }
func (p *RootPtrPage) GetHeaderID() ChildPtr { return p.first }
func (p *RootPtrPage) SetHeaderID(c ChildPtr) { p.first = c }

func (p *RootPtrPage) MarkDirty(dirty bool, tid txn.ID) {
	p.dirty = dirty
	if dirty {
		p.dirtyTid = tid
	}
}
func (p *RootPtrPage) IsDirty() (txn.ID, bool) { return p.dirtyTid, p.dirty }

func (p *RootPtrPage) GetBeforeImage() (bufpool.Page, error) {
	return p, nil // root-pointer page is not subject to heap-style recovery
}
