package dbtype

// FieldType is the on-disk type of a tuple field.
type FieldType int

const (
	IntType FieldType = iota
	StringType
)

// StringMaxLen is STRING_LEN from spec.md: the fixed, zero-padded width
// reserved for a STRING field's bytes, independent of its length prefix.
// spec.md names the constant without fixing its value; 128 is chosen as a
// round, SimpleDB-typical width (see DESIGN.md Open Question decisions).
const StringMaxLen = 128

// Size returns the fixed on-disk width of a field of this type.
func (t FieldType) Size() int {
	switch t {
	case IntType:
		return 4
	case StringType:
		return 4 + StringMaxLen
	default:
		panic("dbtype: unknown field type")
	}
}

func (t FieldType) String() string {
	switch t {
	case IntType:
		return "INT"
	case StringType:
		return "STRING"
	default:
		return "UNKNOWN"
	}
}

// TupleDesc is an ordered sequence of field types, optionally paired with
// field names for diagnostics.
type TupleDesc struct {
	Types []FieldType
	Names []string
}

// NewTupleDesc builds a descriptor. names may be nil or shorter than types;
// missing names are left empty.
func NewTupleDesc(types []FieldType, names []string) *TupleDesc {
	return &TupleDesc{Types: types, Names: names}
}

// NumFields returns the number of fields in the descriptor.
func (d *TupleDesc) NumFields() int { return len(d.Types) }

// Size is the sum of each field's fixed on-disk width.
func (d *TupleDesc) Size() int {
	n := 0
	for _, t := range d.Types {
		n += t.Size()
	}
	return n
}

// Equal reports whether two descriptors have the same field types in the
// same order. Names are not compared — equality here is structural, the
// way the heap page decoder needs it.
func (d *TupleDesc) Equal(o *TupleDesc) bool {
	if o == nil || len(d.Types) != len(o.Types) {
		return false
	}
	for i := range d.Types {
		if d.Types[i] != o.Types[i] {
			return false
		}
	}
	return true
}

func (d *TupleDesc) FieldName(i int) string {
	if i < len(d.Names) {
		return d.Names[i]
	}
	return ""
}
