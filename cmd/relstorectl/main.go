// Command relstorectl is a small inspection and conversion front-end over
// the storage layer: convert a text source to a binary heap file, dump a
// heap file's per-page occupancy, or dump a B+-tree's leaf key order.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"relstore/pkg/bufpool"
	"relstore/pkg/btree"
	"relstore/pkg/dbtype"
	"relstore/pkg/heap"
	"relstore/pkg/loader"
	"relstore/pkg/txn"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "convert":
		err = runConvert(os.Args[2:])
	case "pages":
		err = runPages(os.Args[2:])
	case "btree":
		err = runBTree(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "relstorectl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: relstorectl <convert|pages|btree> [options]")
}

// parseSchema turns a comma-separated "int,string,int" description into a
// TupleDesc.
func parseSchema(s string) (*dbtype.TupleDesc, error) {
	parts := strings.Split(s, ",")
	types := make([]dbtype.FieldType, len(parts))
	for i, p := range parts {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "int":
			types[i] = dbtype.IntType
		case "string":
			types[i] = dbtype.StringType
		default:
			return nil, fmt.Errorf("unknown field type %q (want int or string)", p)
		}
	}
	return dbtype.NewTupleDesc(types, nil), nil
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: relstorectl convert -schema int,string -in data.txt -out data.dat")
		fs.PrintDefaults()
	}
	schema := fs.String("schema", "", "comma-separated field types (int|string)")
	in := fs.String("in", "", "input text source")
	out := fs.String("out", "", "output heap-file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *schema == "" || *in == "" || *out == "" {
		fs.Usage()
		return fmt.Errorf("-schema, -in, and -out are required")
	}

	desc, err := parseSchema(*schema)
	if err != nil {
		return err
	}
	inFile, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer inFile.Close()

	tuples, err := loader.LoadText(inFile, desc)
	if err != nil {
		return err
	}

	outFile, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer outFile.Close()

	if err := loader.EncodeHeapFile(outFile, desc, tuples); err != nil {
		return err
	}
	fmt.Printf("wrote %d tuples to %s\n", len(tuples), *out)
	return nil
}

func runPages(args []string) error {
	fs := flag.NewFlagSet("pages", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: relstorectl pages -schema int,string -file data.dat")
		fs.PrintDefaults()
	}
	schema := fs.String("schema", "", "comma-separated field types (int|string)")
	path := fs.String("file", "", "heap-file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *schema == "" || *path == "" {
		fs.Usage()
		return fmt.Errorf("-schema and -file are required")
	}

	desc, err := parseSchema(*schema)
	if err != nil {
		return err
	}
	hf, err := heap.Open(*path, desc)
	if err != nil {
		return err
	}
	defer hf.Close()

	n, err := hf.NumPages()
	if err != nil {
		return err
	}
	pool := bufpool.New(0, time.Second, nil)
	pool.RegisterFile(hf)
	tid := txn.New()

	for pno := 0; pno < n; pno++ {
		pg, err := pool.GetPage(tid, dbtype.HeapPageID{Table: hf.ID(), Page: pno}, txn.ReadOnly)
		if err != nil {
			return err
		}
		p := pg.(*heap.Page)
		fmt.Printf("page %d: %d/%d slots used\n", pno, p.GetNumSlots()-p.GetNumEmptySlots(), p.GetNumSlots())
	}
	return nil
}

func runBTree(args []string) error {
	fs := flag.NewFlagSet("btree", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: relstorectl btree -schema int,string -key 0 -file index.dat")
		fs.PrintDefaults()
	}
	schema := fs.String("schema", "", "comma-separated field types (int|string)")
	key := fs.Int("key", 0, "zero-based key field index")
	path := fs.String("file", "", "B+-tree file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *schema == "" || *path == "" {
		fs.Usage()
		return fmt.Errorf("-schema and -file are required")
	}

	desc, err := parseSchema(*schema)
	if err != nil {
		return err
	}
	bf, err := btree.Open(*path, desc, *key)
	if err != nil {
		return err
	}
	defer bf.Close()

	pool := bufpool.New(0, time.Second, nil)
	pool.RegisterFile(bf)
	tid := txn.New()

	it := bf.Iterator(tid, pool)
	if err := it.Open(); err != nil {
		return err
	}
	defer it.Close()

	count := 0
	for {
		ok, err := it.HasNext()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		t, err := it.Next()
		if err != nil {
			return err
		}
		fmt.Println(formatKey(t.Fields[*key]))
		count++
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", count)
	return nil
}

func formatKey(f dbtype.Field) string {
	switch v := f.(type) {
	case dbtype.IntField:
		return strconv.Itoa(int(v.Value))
	case dbtype.StringField:
		return v.Value
	default:
		return fmt.Sprintf("%v", f)
	}
}
