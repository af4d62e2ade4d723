package loader

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"relstore/pkg/bufpool"
	"relstore/pkg/dbtype"
	"relstore/pkg/heap"
	"relstore/pkg/txn"
)

func personDesc() *dbtype.TupleDesc {
	return dbtype.NewTupleDesc(
		[]dbtype.FieldType{dbtype.IntType, dbtype.StringType},
		[]string{"id", "name"},
	)
}

func TestParseLine(t *testing.T) {
	desc := personDesc()
	tup, err := ParseLine(desc, " 7 , alice ")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if got := tup.Fields[0].(dbtype.IntField).Value; got != 7 {
		t.Fatalf("id = %d, want 7", got)
	}
	if got := tup.Fields[1].(dbtype.StringField).Value; got != "alice" {
		t.Fatalf("name = %q, want %q", got, "alice")
	}
}

func TestParseLine_WrongFieldCount(t *testing.T) {
	desc := personDesc()
	if _, err := ParseLine(desc, "1,2,3"); err == nil {
		t.Fatalf("expected an error for a field-count mismatch")
	}
}

func TestParseLine_StringTruncation(t *testing.T) {
	desc := personDesc()
	long := strings.Repeat("x", dbtype.StringMaxLen+50)
	tup, err := ParseLine(desc, "1,"+long)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if got := tup.Fields[1].(dbtype.StringField).Value; len(got) != dbtype.StringMaxLen {
		t.Fatalf("name length = %d, want %d", len(got), dbtype.StringMaxLen)
	}
}

func TestLoadText_SkipsEmptyLinesAndTrailingCR(t *testing.T) {
	desc := personDesc()
	input := "1,alice\r\n\n2,bob\r\n3,carol"
	tuples, err := LoadText(strings.NewReader(input), desc)
	if err != nil {
		t.Fatalf("LoadText: %v", err)
	}
	if len(tuples) != 3 {
		t.Fatalf("got %d tuples, want 3", len(tuples))
	}
	for i, want := range []string{"alice", "bob", "carol"} {
		if got := tuples[i].Fields[1].(dbtype.StringField).Value; got != want {
			t.Fatalf("tuple %d name = %q, want %q", i, got, want)
		}
	}
}

func TestEncodeHeapFile_EmptyInputEmitsOnePage(t *testing.T) {
	desc := personDesc()
	var buf bytes.Buffer
	if err := EncodeHeapFile(&buf, desc, nil); err != nil {
		t.Fatalf("EncodeHeapFile: %v", err)
	}
	if buf.Len() != dbtype.PageSize {
		t.Fatalf("encoded %d bytes, want exactly one page (%d)", buf.Len(), dbtype.PageSize)
	}
}

// EncodeHeapFile's output round-trips through the real heap.File/bufpool
// stack: every loaded tuple is recovered, in page order, via the file
// iterator.
func TestEncodeHeapFile_RoundTripsThroughHeapFile(t *testing.T) {
	desc := personDesc()
	names := []string{"alice", "bob", "carol", "dave", "erin"}
	var input strings.Builder
	for i, n := range names {
		input.WriteString(strconv.Itoa(i) + "," + n + "\n")
	}

	tuples, err := LoadText(strings.NewReader(input.String()), desc)
	if err != nil {
		t.Fatalf("LoadText: %v", err)
	}

	var encoded bytes.Buffer
	if err := EncodeHeapFile(&encoded, desc, tuples); err != nil {
		t.Fatalf("EncodeHeapFile: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "people.dat")
	if err := os.WriteFile(path, encoded.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	hf, err := heap.Open(path, desc)
	if err != nil {
		t.Fatalf("heap.Open: %v", err)
	}
	t.Cleanup(func() { hf.Close() })
	pool := bufpool.New(0, time.Second, nil)
	pool.RegisterFile(hf)
	tid := txn.New()

	it := hf.Iterator(tid, pool)
	if err := it.Open(); err != nil {
		t.Fatalf("Iterator Open: %v", err)
	}
	defer it.Close()

	var got []string
	for {
		ok, err := it.HasNext()
		if err != nil {
			t.Fatalf("HasNext: %v", err)
		}
		if !ok {
			break
		}
		tup, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, tup.Fields[1].(dbtype.StringField).Value)
	}
	if len(got) != len(names) {
		t.Fatalf("read back %d tuples, want %d", len(got), len(names))
	}
	for i, want := range names {
		if got[i] != want {
			t.Fatalf("tuple %d name = %q, want %q", i, got[i], want)
		}
	}
}

