package dbtype

import (
	"encoding/binary"
	"io"
)

// Field is a single tuple value. The two concrete implementations below
// are comparable structs so Tuple.Equal can compare field values with a
// plain ==.
type Field interface {
	Type() FieldType
	fieldMarker()
}

type IntField struct{ Value int32 }

func (IntField) Type() FieldType { return IntType }
func (IntField) fieldMarker()    {}

type StringField struct{ Value string }

func (StringField) Type() FieldType { return StringType }
func (StringField) fieldMarker()    {}

// RecordID is (page id, slot index). It is unset on construction — a
// freshly-built Tuple carries a nil PageID — and is set when the tuple is
// inserted into a page, cleared or reassigned on delete/move.
type RecordID struct {
	PageID    PageID
	SlotIndex int
}

func (r RecordID) IsSet() bool { return r.PageID != nil }

// Tuple is a sequence of fields conforming to a descriptor.
type Tuple struct {
	Desc   *TupleDesc
	Fields []Field
	RID    RecordID
}

// NewTuple allocates a tuple with an empty field slot per descriptor
// entry and an unset record id.
func NewTuple(desc *TupleDesc) *Tuple {
	return &Tuple{Desc: desc, Fields: make([]Field, len(desc.Types))}
}

// SetField stores f at position i, failing if its type does not match the
// descriptor.
func (t *Tuple) SetField(i int, f Field) error {
	if i < 0 || i >= len(t.Fields) || f.Type() != t.Desc.Types[i] {
		return AsDbException(ErrMismatch)
	}
	t.Fields[i] = f
	return nil
}

func (t *Tuple) GetField(i int) Field { return t.Fields[i] }

// Equal reports whether two tuples conform to equal descriptors and carry
// identical field values; record id is not part of equality.
func (t *Tuple) Equal(o *Tuple) bool {
	if o == nil || !t.Desc.Equal(o.Desc) || len(t.Fields) != len(o.Fields) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}

// ReadTuple decodes one tuple conforming to desc from r: each INT field is
// 4 little-endian bytes, each STRING field is a 4-byte little-endian
// length prefix followed by StringMaxLen zero-padded bytes.
func ReadTuple(desc *TupleDesc, r io.Reader) (*Tuple, error) {
	t := NewTuple(desc)
	for i, ft := range desc.Types {
		switch ft {
		case IntType:
			var buf [4]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return nil, AsIoError(err)
			}
			t.Fields[i] = IntField{Value: int32(binary.LittleEndian.Uint32(buf[:]))}
		case StringType:
			var lbuf [4]byte
			if _, err := io.ReadFull(r, lbuf[:]); err != nil {
				return nil, AsIoError(err)
			}
			length := int32(binary.LittleEndian.Uint32(lbuf[:]))
			buf := make([]byte, StringMaxLen)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, AsIoError(err)
			}
			if length < 0 || int(length) > StringMaxLen {
				length = 0
			}
			t.Fields[i] = StringField{Value: string(buf[:length])}
		default:
			return nil, AsDbException(ErrCorruptHeader)
		}
	}
	return t, nil
}

// WriteTuple encodes t to w using the same layout ReadTuple decodes.
func WriteTuple(t *Tuple, w io.Writer) error {
	for i, ft := range t.Desc.Types {
		switch ft {
		case IntType:
			f, ok := t.Fields[i].(IntField)
			if !ok {
				return AsDbException(ErrMismatch)
			}
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(f.Value))
			if _, err := w.Write(buf[:]); err != nil {
				return AsIoError(err)
			}
		case StringType:
			f, ok := t.Fields[i].(StringField)
			if !ok {
				return AsDbException(ErrMismatch)
			}
			s := f.Value
			if len(s) > StringMaxLen {
				s = s[:StringMaxLen]
			}
			var lbuf [4]byte
			binary.LittleEndian.PutUint32(lbuf[:], uint32(len(s)))
			if _, err := w.Write(lbuf[:]); err != nil {
				return AsIoError(err)
			}
			buf := make([]byte, StringMaxLen)
			copy(buf, s)
			if _, err := w.Write(buf); err != nil {
				return AsIoError(err)
			}
		default:
			return AsDbException(ErrCorruptHeader)
		}
	}
	return nil
}
