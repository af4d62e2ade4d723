package dbtype

import "strings"

// CompareFields orders two fields of the same type: negative if a < b,
// zero if equal, positive if a > b. Strings compare byte-wise. Comparing
// fields of different concrete types panics — the B+-tree never does
// this across a single key field.
func CompareFields(a, b Field) int {
	switch av := a.(type) {
	case IntField:
		bv := b.(IntField)
		switch {
		case av.Value < bv.Value:
			return -1
		case av.Value > bv.Value:
			return 1
		default:
			return 0
		}
	case StringField:
		bv := b.(StringField)
		return strings.Compare(av.Value, bv.Value)
	default:
		panic("dbtype: CompareFields on unknown field type")
	}
}
