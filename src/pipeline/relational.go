package pipeline

import "fmt"

// Predicate decides whether a record passes a Selection.
type Predicate func(Record) bool

// Selection evaluates a boolean predicate and forwards the record to
// its children iff it holds.
type Selection struct {
	Base
	Pred Predicate
}

// NewSelection creates a Selection with the given predicate.
func NewSelection(pred Predicate) *Selection { return &Selection{Pred: pred} }

func (s *Selection) Execute(ctx *ExecutionContext, rec Record) error {
	if !s.Pred(rec) {
		return nil
	}
	return s.ExecuteChild(ctx, rec)
}

// FieldRename maps an input field name to an output field name.
type FieldRename struct {
	From, To string
}

// Projection rewrites record fields: keeps only the named fields,
// applying renames where given.
// Derivation is handled by composing with Map.
type Projection struct {
	Base
	Fields []FieldRename
}

// NewProjection creates a Projection keeping (and renaming) the given
// fields; every field absent from the list is dropped.
func NewProjection(fields ...FieldRename) *Projection {
	return &Projection{Fields: fields}
}

func (p *Projection) Execute(ctx *ExecutionContext, rec Record) error {
	out := make(Record, len(p.Fields))
	for _, f := range p.Fields {
		v, ok := rec[f.From]
		if !ok {
			return fmt.Errorf("pipeline: projection: field %q not in record", f.From)
		}
		to := f.To
		if to == "" {
			to = f.From
		}
		out[to] = v
	}
	return p.ExecuteChild(ctx, out)
}

// MapFn computes the new value of one field from the whole record.
type MapFn func(Record) interface{}

// Map assigns the result of a field-assignment expression to a target
// field, leaving all other fields untouched.
type Map struct {
	Base
	TargetField string
	Fn          MapFn
}

// NewMap creates a Map writing Fn(record) into targetField.
func NewMap(targetField string, fn MapFn) *Map {
	return &Map{TargetField: targetField, Fn: fn}
}

func (m *Map) Execute(ctx *ExecutionContext, rec Record) error {
	out := rec.Clone()
	out[m.TargetField] = m.Fn(rec)
	return m.ExecuteChild(ctx, out)
}
