package pipeline

import (
	"math"

	"github.com/nebulastream/runtime/src/buffer"
)

// Scan is the single scan-like leaf at the top of every pipeline:
// it iterates a record buffer according to its memory
// layout and propagates watermark/sequence metadata to the execution
// context. Scan itself performs no record transformation; Execute
// simply forwards to its children, since the per-record driving loop
// lives in Pipeline.Process, with Scan as the pipeline's root
// operator.
type Scan struct {
	Base
	Layout *buffer.MemoryLayout
	Schema *buffer.Schema

	buf *buffer.TupleBuffer
}

// NewScan creates a Scan operator reading buffers laid out per layout.
func NewScan(layout *buffer.MemoryLayout, schema *buffer.Schema) *Scan {
	return &Scan{Layout: layout, Schema: schema}
}

// Bind attaches the TupleBuffer this invocation will read.
func (s *Scan) Bind(buf *buffer.TupleBuffer, ctx *ExecutionContext) {
	s.buf = buf
}

// Open does nothing; Pipeline.Process copies the buffer's
// watermark/sequence metadata into the ExecutionContext.
func (s *Scan) Open(ctx *ExecutionContext) error { return nil }

// Execute forwards the already-lowered record to the downstream chain.
func (s *Scan) Execute(ctx *ExecutionContext, rec Record) error {
	return s.ExecuteChild(ctx, rec)
}

// Records lowers every tuple in buf into a Record via the memory
// layout, used by Pipeline.Process to drive the per-record execute loop.
func (s *Scan) Records(buf *buffer.TupleBuffer) []Record {
	return DecodeRecords(buf, s.Schema, s.Layout)
}

// DecodeRecords raises every tuple in buf into Records per the given
// layout; shared by Scan and the sink formatters.
func DecodeRecords(buf *buffer.TupleBuffer, schema *buffer.Schema, layout *buffer.MemoryLayout) []Record {
	n := int(buf.NumberOfTuples())
	out := make([]Record, 0, n)
	for row := 0; row < n; row++ {
		rec := make(Record, len(schema.Fields))
		for fieldIdx, f := range schema.Fields {
			off := layout.Offset(row, fieldIdx)
			rec[f.Name] = readField(buf, off, f.Type)
		}
		out = append(out, rec)
	}
	return out
}

func readField(buf *buffer.TupleBuffer, offset int, t buffer.FieldType) interface{} {
	mem := buf.MemArea()
	switch t {
	case buffer.Int32:
		return int32(leUint32(mem[offset:]))
	case buffer.Int64:
		return int64(leUint64(mem[offset:]))
	case buffer.Uint32:
		return leUint32(mem[offset:])
	case buffer.Uint64:
		return leUint64(mem[offset:])
	case buffer.Float64:
		return leFloat64(mem[offset:])
	case buffer.Bool:
		return mem[offset] != 0
	default:
		return nil
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func leFloat64(b []byte) float64 {
	return math.Float64frombits(leUint64(b))
}
