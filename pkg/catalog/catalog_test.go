package catalog

import (
	"path/filepath"
	"testing"

	"relstore/pkg/dbtype"
	"relstore/pkg/heap"
)

func openCatalogTestFile(t *testing.T) *heap.File {
	t.Helper()
	desc := dbtype.NewTupleDesc([]dbtype.FieldType{dbtype.IntType}, []string{"id"})
	hf, err := heap.Open(filepath.Join(t.TempDir(), "people.dat"), desc)
	if err != nil {
		t.Fatalf("heap.Open: %v", err)
	}
	t.Cleanup(func() { hf.Close() })
	return hf
}

func TestInMemory_AddTable_RoundTrips(t *testing.T) {
	hf := openCatalogTestFile(t)
	c := NewInMemory()
	c.AddTable(hf, "people", "id")

	desc, err := c.GetTupleDesc(hf.ID())
	if err != nil {
		t.Fatalf("GetTupleDesc: %v", err)
	}
	if !desc.Equal(hf.TupleDesc()) {
		t.Fatalf("GetTupleDesc returned a different descriptor than the registered file")
	}

	file, err := c.GetDbFile(hf.ID())
	if err != nil {
		t.Fatalf("GetDbFile: %v", err)
	}
	if file.ID() != hf.ID() {
		t.Fatalf("GetDbFile returned table %d, want %d", file.ID(), hf.ID())
	}

	name, err := c.GetTableName(hf.ID())
	if err != nil {
		t.Fatalf("GetTableName: %v", err)
	}
	if name != "people" {
		t.Fatalf("GetTableName = %q, want %q", name, "people")
	}

	pkey, err := c.GetPrimaryKeyField(hf.ID())
	if err != nil {
		t.Fatalf("GetPrimaryKeyField: %v", err)
	}
	if pkey != "id" {
		t.Fatalf("GetPrimaryKeyField = %q, want %q", pkey, "id")
	}
}

func TestInMemory_UnknownTable_ReturnsDbException(t *testing.T) {
	c := NewInMemory()
	const missing = int64(12345)

	if _, err := c.GetTupleDesc(missing); err == nil {
		t.Fatalf("expected an error for an unregistered table")
	} else if k, ok := dbtype.KindOf(err); !ok || k != dbtype.DbException {
		t.Fatalf("GetTupleDesc error kind = %v, want DbException", k)
	}
	if _, err := c.GetDbFile(missing); err == nil {
		t.Fatalf("expected an error for an unregistered table")
	}
	if _, err := c.GetTableName(missing); err == nil {
		t.Fatalf("expected an error for an unregistered table")
	}
	if _, err := c.GetPrimaryKeyField(missing); err == nil {
		t.Fatalf("expected an error for an unregistered table")
	}
}

func TestInMemory_AddTable_Overwrites(t *testing.T) {
	hf := openCatalogTestFile(t)
	c := NewInMemory()
	c.AddTable(hf, "people", "id")
	c.AddTable(hf, "renamed_people", "id")

	name, err := c.GetTableName(hf.ID())
	if err != nil {
		t.Fatalf("GetTableName: %v", err)
	}
	if name != "renamed_people" {
		t.Fatalf("GetTableName = %q, want the later registration to win", name)
	}
}
