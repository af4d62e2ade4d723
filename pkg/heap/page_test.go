package heap

import (
	"bytes"
	"testing"

	"relstore/pkg/dbtype"
	"relstore/pkg/txn"
)

func twoIntDesc() *dbtype.TupleDesc {
	return dbtype.NewTupleDesc(
		[]dbtype.FieldType{dbtype.IntType, dbtype.IntType},
		[]string{"a", "b"},
	)
}

func newBlankPage(t *testing.T, desc *dbtype.TupleDesc) *Page {
	t.Helper()
	pid := dbtype.HeapPageID{Table: 1, Page: 0}
	p, err := NewPage(pid, desc, dbtype.NewZeroedPage(dbtype.PageSize))
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	return p
}

func intTuple(desc *dbtype.TupleDesc, a, b int32) *dbtype.Tuple {
	tup := dbtype.NewTuple(desc)
	_ = tup.SetField(0, dbtype.IntField{Value: a})
	_ = tup.SetField(1, dbtype.IntField{Value: b})
	return tup
}

// Heap-page capacity: numSlots = floor(pageSize*8/65) for a 2-int tuple.
func TestNumSlots_TwoIntTuple(t *testing.T) {
	desc := twoIntDesc()
	got := NumSlots(desc.Size())
	want := (dbtype.PageSize * 8) / 65
	if got != want {
		t.Fatalf("NumSlots = %d, want %d", got, want)
	}
}

// Slot bitmap is LSB-first: isSlotUsed(0) corresponds to header[0] & 0x01.
func TestSlotBitmap_LSBFirst(t *testing.T) {
	desc := twoIntDesc()
	p := newBlankPage(t, desc)
	if err := p.InsertTuple(intTuple(desc, 1, 2)); err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	data := p.GetPageData()
	if data[0]&0x01 == 0 {
		t.Fatalf("expected header[0] bit 0 set after inserting into slot 0")
	}
	if !p.IsSlotUsed(0) {
		t.Fatalf("IsSlotUsed(0) should be true")
	}
}

// Heap-page empty-slot count: 20 seeded tuples, expect numEmptySlots = 484
// and isSlotUsed(i) == (i < 20).
func TestHeapPage_EmptySlotCount_SeededScenario(t *testing.T) {
	desc := twoIntDesc()
	p := newBlankPage(t, desc)

	seeded := [][2]int32{
		{31933, 862}, {29402, 56883}, {1, 2}, {3, 4}, {5, 6},
		{7, 8}, {9, 10}, {11, 12}, {13, 14}, {15, 16},
		{17, 18}, {19, 20}, {21, 22}, {23, 24}, {25, 26},
		{27, 28}, {29, 30}, {31, 32}, {33, 34}, {17197, 16388},
	}
	for _, pair := range seeded {
		if err := p.InsertTuple(intTuple(desc, pair[0], pair[1])); err != nil {
			t.Fatalf("InsertTuple: %v", err)
		}
	}

	if got := p.GetNumEmptySlots(); got != 484 {
		t.Fatalf("GetNumEmptySlots = %d, want 484", got)
	}
	for i := 0; i < p.numSlots; i++ {
		want := i < 20
		if p.IsSlotUsed(i) != want {
			t.Fatalf("IsSlotUsed(%d) = %v, want %v", i, p.IsSlotUsed(i), want)
		}
	}
}

// Round-trip: decode(encode(T)) yields a page with the same occupied
// slots, same per-slot tuples, and byte-identical encode.
func TestHeapPage_RoundTrip(t *testing.T) {
	desc := twoIntDesc()
	p := newBlankPage(t, desc)
	for i := int32(0); i < 5; i++ {
		if err := p.InsertTuple(intTuple(desc, i, i*10)); err != nil {
			t.Fatalf("InsertTuple: %v", err)
		}
	}

	encoded := p.GetPageData()
	p2, err := NewPage(p.id, desc, encoded)
	if err != nil {
		t.Fatalf("NewPage (decode): %v", err)
	}

	if p2.GetNumEmptySlots() != p.GetNumEmptySlots() {
		t.Fatalf("empty slot count mismatch after round trip")
	}
	for i := 0; i < p.numSlots; i++ {
		if p.IsSlotUsed(i) != p2.IsSlotUsed(i) {
			t.Fatalf("slot %d usage mismatch after round trip", i)
		}
		if p.IsSlotUsed(i) && !p.tuples[i].Equal(p2.tuples[i]) {
			t.Fatalf("slot %d tuple mismatch after round trip", i)
		}
	}
	if !bytes.Equal(encoded, p2.GetPageData()) {
		t.Fatalf("re-encode not byte-identical")
	}
}

func TestHeapPage_InsertFull(t *testing.T) {
	desc := twoIntDesc()
	p := newBlankPage(t, desc)
	n := NumSlots(desc.Size())
	for i := 0; i < n; i++ {
		if err := p.InsertTuple(intTuple(desc, int32(i), 0)); err != nil {
			t.Fatalf("InsertTuple %d: %v", i, err)
		}
	}
	err := p.InsertTuple(intTuple(desc, 999, 999))
	kind, ok := dbtype.KindOf(err)
	if !ok || kind != dbtype.DbException {
		t.Fatalf("expected DbException on full page, got %v", err)
	}
}

func TestHeapPage_DeleteTuple(t *testing.T) {
	desc := twoIntDesc()
	p := newBlankPage(t, desc)
	tup := intTuple(desc, 1, 2)
	if err := p.InsertTuple(tup); err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	before := p.GetNumEmptySlots()
	if err := p.DeleteTuple(tup); err != nil {
		t.Fatalf("DeleteTuple: %v", err)
	}
	if p.GetNumEmptySlots() != before+1 {
		t.Fatalf("expected one more empty slot after delete")
	}
	if err := p.DeleteTuple(tup); err == nil {
		t.Fatalf("expected error deleting an already-cleared slot")
	}
}

func TestPageIterator_SkipsEmptyAndSnapshots(t *testing.T) {
	desc := twoIntDesc()
	p := newBlankPage(t, desc)
	t1 := intTuple(desc, 1, 1)
	t2 := intTuple(desc, 2, 2)
	_ = p.InsertTuple(t1)
	_ = p.InsertTuple(t2)

	it := p.Iterator()
	_ = p.DeleteTuple(t1) // mutate after snapshot

	count := 0
	for it.HasNext() {
		tup, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if tup == nil {
			t.Fatalf("unexpected nil tuple from iterator")
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected snapshot of 2 tuples despite later delete, got %d", count)
	}
	if err := it.Remove(); err == nil {
		t.Fatalf("expected Remove to be unsupported")
	}
}

func TestPage_MarkDirty(t *testing.T) {
	desc := twoIntDesc()
	p := newBlankPage(t, desc)
	if _, dirty := p.IsDirty(); dirty {
		t.Fatalf("fresh page should not be dirty")
	}
	tid := txn.New()
	p.MarkDirty(true, tid)
	gotTid, dirty := p.IsDirty()
	if !dirty || !gotTid.Equal(tid) {
		t.Fatalf("expected page dirty under %v", tid)
	}
}

func TestPage_GetBeforeImage(t *testing.T) {
	desc := twoIntDesc()
	p := newBlankPage(t, desc)
	if err := p.InsertTuple(intTuple(desc, 1, 2)); err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	bi, err := p.GetBeforeImage()
	if err != nil {
		t.Fatalf("GetBeforeImage: %v", err)
	}
	biPage := bi.(*Page)
	if biPage.GetNumEmptySlots() != p.numSlots {
		t.Fatalf("before image should reflect the page as it was before any insert")
	}
}
