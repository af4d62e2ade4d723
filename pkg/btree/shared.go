// Package btree implements the ordered B+-tree index file: root-pointer,
// header, internal, and leaf pages, plus the search, insertion, deletion,
// and empty-page allocation algorithms that keep the tree balanced.
package btree

import (
	"encoding/binary"
	"io"

	"relstore/pkg/bufpool"
	"relstore/pkg/dbtype"
	"relstore/pkg/txn"
)

// ChildPtr is a page reference within a single B+-tree file: the table id
// is implicit (every page in the file shares it), so only the page
// number and category travel on disk. The zero value, (0, CategoryNone),
// is the nil pointer — page number 0 is permanently reserved for the
// root-pointer page.
type ChildPtr struct {
	Page int32
	Cat  dbtype.PageCategory
}

func (c ChildPtr) IsNil() bool { return c.Page == 0 && c.Cat == dbtype.CategoryNone }

func (c ChildPtr) ToPageID(table int64) dbtype.PageID {
	if c.IsNil() {
		return nil
	}
	return dbtype.BTreePageID{Table: table, Page: int(c.Page), Cat: c.Cat}
}

func childPtrFrom(pid dbtype.PageID) ChildPtr {
	if pid == nil {
		return ChildPtr{Cat: dbtype.CategoryNone}
	}
	bp := pid.(dbtype.BTreePageID)
	return ChildPtr{Page: int32(bp.Page), Cat: bp.Cat}
}

const childPtrSize = 5 // int32 page number + 1 byte category

func readChildPtr(r io.Reader) (ChildPtr, error) {
	var buf [childPtrSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ChildPtr{}, dbtype.AsIoError(err)
	}
	return ChildPtr{
		Page: int32(binary.LittleEndian.Uint32(buf[0:4])),
		Cat:  dbtype.PageCategory(buf[4]),
	}, nil
}

func writeChildPtr(w io.Writer, c ChildPtr) error {
	var buf [childPtrSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.Page))
	buf[4] = byte(c.Cat)
	_, err := w.Write(buf[:])
	return dbtype.AsIoError(err)
}

// CompareOp is the operator an IndexPredicate probes the tree with.
type CompareOp int

const (
	Eq CompareOp = iota
	Gt
	Ge
	Lt
	Le
)

// IndexPredicate drives the predicate-scan iterator: only tuples whose
// key field satisfies `key Op Field` are yielded.
type IndexPredicate struct {
	Op    CompareOp
	Field dbtype.Field
}

func (p IndexPredicate) matches(key dbtype.Field) bool {
	c := dbtype.CompareFields(key, p.Field)
	switch p.Op {
	case Eq:
		return c == 0
	case Gt:
		return c > 0
	case Ge:
		return c >= 0
	case Lt:
		return c < 0
	case Le:
		return c <= 0
	default:
		return false
	}
}

// dirtyMap is the per-operation local dirty set threaded explicitly
// through every recursive split/merge call — never a package-level
// variable (spec §9).
type dirtyMap map[string]bufpool.Page

func (d dirtyMap) put(p bufpool.Page) { d[p.GetID().String()] = p }

// fetch is the single chokepoint every B+-tree traversal uses to reach a
// page: consult the local dirty map first, then the buffer pool, so a
// page fetched read/write once within one mutation is reused rather than
// re-read.
func fetch(tid txn.ID, bp bufpool.BufferPool, dirty dirtyMap, pid dbtype.PageID, perm txn.Permission) (bufpool.Page, error) {
	if pid == nil {
		return nil, dbtype.AsDbException(dbtype.ErrBadPageID)
	}
	if p, ok := dirty[pid.String()]; ok {
		return p, nil
	}
	return bp.GetPage(tid, pid, perm)
}
