// Package loader turns a plain comma-separated text source into a binary
// heap file: spec.md §4.11's "text loader" and "encoder" pair.
package loader

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"relstore/pkg/dbtype"
	"relstore/pkg/heap"
)

// ParseLine decodes one comma-separated line into a tuple conforming to
// desc. Integer fields are trimmed and parsed with strconv; string fields
// are trimmed and truncated to dbtype.StringMaxLen.
func ParseLine(desc *dbtype.TupleDesc, line string) (*dbtype.Tuple, error) {
	parts := strings.Split(line, ",")
	if len(parts) != desc.NumFields() {
		return nil, dbtype.AsIllegalArgument(dbtype.ErrMismatch)
	}
	t := dbtype.NewTuple(desc)
	for i, ft := range desc.Types {
		raw := strings.TrimSpace(parts[i])
		switch ft {
		case dbtype.IntType:
			v, err := strconv.ParseInt(raw, 10, 32)
			if err != nil {
				return nil, dbtype.AsIllegalArgument(err)
			}
			if err := t.SetField(i, dbtype.IntField{Value: int32(v)}); err != nil {
				return nil, err
			}
		case dbtype.StringType:
			if len(raw) > dbtype.StringMaxLen {
				raw = raw[:dbtype.StringMaxLen]
			}
			if err := t.SetField(i, dbtype.StringField{Value: raw}); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// LoadText reads newline-terminated records from r, one tuple per
// non-empty line; a lone trailing \r is stripped, and a final record
// without a trailing newline is still read.
func LoadText(r io.Reader, desc *dbtype.TupleDesc) ([]*dbtype.Tuple, error) {
	var tuples []*dbtype.Tuple
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		t, err := ParseLine(desc, line)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, dbtype.AsIoError(err)
	}
	return tuples, nil
}

// EncodeHeapFile packs tuples into consecutive dbtype.PageSize binary heap
// pages and writes them to w, exactly as heap.File stores them on disk.
// An empty tuple list still emits one empty page.
func EncodeHeapFile(w io.Writer, desc *dbtype.TupleDesc, tuples []*dbtype.Tuple) error {
	newPage := func(pageNo int) (*heap.Page, error) {
		id := dbtype.HeapPageID{Table: 0, Page: pageNo}
		return heap.NewPage(id, desc, dbtype.NewZeroedPage(dbtype.PageSize))
	}

	pageNo := 0
	page, err := newPage(pageNo)
	if err != nil {
		return err
	}

	flush := func() error {
		if _, err := w.Write(page.GetPageData()); err != nil {
			return dbtype.AsIoError(err)
		}
		return nil
	}

	for _, t := range tuples {
		if err := page.InsertTuple(t); err != nil {
			if err := flush(); err != nil {
				return err
			}
			pageNo++
			page, err = newPage(pageNo)
			if err != nil {
				return err
			}
			if err := page.InsertTuple(t); err != nil {
				return err
			}
		}
	}
	return flush()
}
