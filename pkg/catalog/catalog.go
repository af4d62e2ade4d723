// Package catalog is the second external collaborator spec.md §1 names:
// something that returns a tuple descriptor for a given table id. This is
// a minimal in-memory implementation good enough to back tests and the
// relstorectl CLI; a host system can supply its own.
package catalog

import (
	"fmt"

	"relstore/pkg/bufpool"
	"relstore/pkg/dbtype"
)

// Catalog maps table ids to their backing file, name, and primary key.
type Catalog interface {
	AddTable(file bufpool.DbFile, name string, primaryKeyField string)
	GetTupleDesc(tableID int64) (*dbtype.TupleDesc, error)
	GetDbFile(tableID int64) (bufpool.DbFile, error)
	GetTableName(tableID int64) (string, error)
	GetPrimaryKeyField(tableID int64) (string, error)
}

type tableEntry struct {
	file bufpool.DbFile
	name string
	pkey string
}

// InMemory is the reference Catalog.
type InMemory struct {
	tables map[int64]tableEntry
}

func NewInMemory() *InMemory {
	return &InMemory{tables: make(map[int64]tableEntry)}
}

func (c *InMemory) AddTable(file bufpool.DbFile, name string, primaryKeyField string) {
	c.tables[file.ID()] = tableEntry{file: file, name: name, pkey: primaryKeyField}
}

func (c *InMemory) GetTupleDesc(tableID int64) (*dbtype.TupleDesc, error) {
	e, ok := c.tables[tableID]
	if !ok {
		return nil, dbtype.AsDbException(fmt.Errorf("catalog: unknown table %d", tableID))
	}
	return e.file.TupleDesc(), nil
}

func (c *InMemory) GetDbFile(tableID int64) (bufpool.DbFile, error) {
	e, ok := c.tables[tableID]
	if !ok {
		return nil, dbtype.AsDbException(fmt.Errorf("catalog: unknown table %d", tableID))
	}
	return e.file, nil
}

func (c *InMemory) GetTableName(tableID int64) (string, error) {
	e, ok := c.tables[tableID]
	if !ok {
		return "", dbtype.AsDbException(fmt.Errorf("catalog: unknown table %d", tableID))
	}
	return e.name, nil
}

func (c *InMemory) GetPrimaryKeyField(tableID int64) (string, error) {
	e, ok := c.tables[tableID]
	if !ok {
		return "", dbtype.AsDbException(fmt.Errorf("catalog: unknown table %d", tableID))
	}
	return e.pkey, nil
}
