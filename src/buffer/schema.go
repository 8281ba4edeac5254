package buffer

import "fmt"

// FieldType enumerates the fixed set of physical field types a Schema
// field may have.
type FieldType int

const (
	Int8 FieldType = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Bool
	Char
	VarSized
)

// sizeInBytes returns the fixed on-wire size of t, or 0 for VarSized
// fields whose payload lives in a child buffer and is only referenced
// by a VariableSizedAccess in the row.
func (t FieldType) sizeInBytes() int {
	switch t {
	case Int8, Uint8, Bool, Char:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	case VarSized:
		return 8 // (childIndex uint32, offset uint32) pair stored in the row
	default:
		return 0
	}
}

// Field is one named, typed column of a Schema.
type Field struct {
	Name string
	Type FieldType
}

// Schema is the ordered list of fields making up one record. Field
// names must be unique.
type Schema struct {
	Fields      []Field
	KeyFields   []string
	recordSize  int
	nameToIndex map[string]int
}

// NewSchema validates field name uniqueness and precomputes recordSize.
func NewSchema(fields []Field, keyFields ...string) (*Schema, error) {
	nameToIndex := make(map[string]int, len(fields))
	recordSize := 0
	for i, f := range fields {
		if _, dup := nameToIndex[f.Name]; dup {
			return nil, fmt.Errorf("buffer: duplicate field name %q in schema", f.Name)
		}
		nameToIndex[f.Name] = i
		recordSize += f.Type.sizeInBytes()
	}
	return &Schema{
		Fields:      fields,
		KeyFields:   keyFields,
		recordSize:  recordSize,
		nameToIndex: nameToIndex,
	}, nil
}

// RecordSize returns the fixed per-row byte size of this schema.
func (s *Schema) RecordSize() int { return s.recordSize }

// Capacity returns how many records of this schema fit in a buffer of
// the given size.
func (s *Schema) Capacity(bufferSize uint32) int {
	if s.recordSize == 0 {
		return 0
	}
	return int(bufferSize) / s.recordSize
}

// IndexOf returns the field index for name, or -1 if absent.
func (s *Schema) IndexOf(name string) int {
	if i, ok := s.nameToIndex[name]; ok {
		return i
	}
	return -1
}
