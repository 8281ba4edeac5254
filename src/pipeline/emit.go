package pipeline

import (
	"fmt"
	"math"

	"github.com/nebulastream/runtime/src/buffer"
)

// DispatchFn hands a finished output buffer onward: to the local task
// queue as an internal task, to a sink, or to a network channel. The
// plan decides at build time; Emit only produces buffers. The dispatch
// target takes ownership of the buffer reference.
type DispatchFn func(ctx *ExecutionContext, out *buffer.TupleBuffer) error

// Emit packs outgoing records into output buffers using the output
// memory layout and dispatches them. When a single
// input produces multiple output buffers, chunk numbers 1..k are
// assigned with the last carrying lastChunk.
type Emit struct {
	Base
	Schema   *buffer.Schema
	Layout   *buffer.MemoryLayout
	Dispatch DispatchFn

	// pending accumulates filled-but-undispatched buffers for the
	// current invocation; flushed by Close. Safe without locking since a
	// pipeline invocation is single-threaded.
	pending []*buffer.TupleBuffer
	cur     *buffer.TupleBuffer
	curRows int
}

// NewEmit creates an Emit packing records per layout and handing
// finished buffers to dispatch.
func NewEmit(schema *buffer.Schema, layout *buffer.MemoryLayout, dispatch DispatchFn) *Emit {
	return &Emit{Schema: schema, Layout: layout, Dispatch: dispatch}
}

func (e *Emit) Open(ctx *ExecutionContext) error {
	e.pending = nil
	e.cur = nil
	e.curRows = 0
	return nil
}

func (e *Emit) Execute(ctx *ExecutionContext, rec Record) error {
	if e.cur == nil {
		b, err := ctx.Buffers.GetBufferBlocking(ctx.Ctx)
		if err != nil {
			return fmt.Errorf("pipeline: emit: acquire output buffer: %w", err)
		}
		e.cur = b
		e.curRows = 0
	}

	if err := EncodeRecord(e.cur, e.Schema, e.Layout, e.curRows, rec); err != nil {
		return err
	}
	e.curRows++
	e.cur.SetNumberOfTuples(uint32(e.curRows))
	e.cur.SetUsedMemorySize(uint32(e.curRows * e.Schema.RecordSize()))

	if e.curRows >= e.Layout.Capacity() {
		e.pending = append(e.pending, e.cur)
		e.cur = nil
		e.curRows = 0
	}
	return nil
}

// Close seals the partially filled buffer (if any), stamps sequence
// metadata and chunk numbers over all produced buffers, and dispatches
// them in order.
func (e *Emit) Close(ctx *ExecutionContext) error {
	if e.cur != nil && e.curRows > 0 {
		e.pending = append(e.pending, e.cur)
	} else if e.cur != nil {
		e.cur.Release()
	}
	e.cur = nil

	k := len(e.pending)
	if k == 0 {
		return nil
	}
	// All chunks of one logical output share a sequence number: the
	// producing invocation's own number when it has one, otherwise a
	// freshly allocated monotone per-origin number (probe outputs).
	seq := ctx.SequenceNumber
	if seq == 0 && ctx.NextOutputSeq != nil {
		seq = ctx.NextOutputSeq(ctx.OriginID)
	}
	for i, out := range e.pending {
		out.OriginID = ctx.OriginID
		out.WatermarkTs = uint64(ctx.WatermarkTs)
		out.SequenceNumber = seq
		out.ChunkNumber = uint32(i + 1)
		out.LastChunk = i == k-1
		if err := e.Dispatch(ctx, out); err != nil {
			// Release the remaining undispatched buffers before surfacing.
			for _, rest := range e.pending[i+1:] {
				rest.Release()
			}
			e.pending = nil
			return err
		}
	}
	e.pending = nil
	return nil
}

// EncodeRecord lowers rec into row `row` of buf per layout; shared by
// Emit and the generator sources.
func EncodeRecord(buf *buffer.TupleBuffer, schema *buffer.Schema, layout *buffer.MemoryLayout, row int, rec Record) error {
	for fieldIdx, f := range schema.Fields {
		v, ok := rec[f.Name]
		if !ok {
			return fmt.Errorf("pipeline: encode: field %q not in record", f.Name)
		}
		if err := writeField(buf, layout.Offset(row, fieldIdx), f.Type, v); err != nil {
			return err
		}
	}
	return nil
}

func writeField(buf *buffer.TupleBuffer, offset int, t buffer.FieldType, v interface{}) error {
	mem := buf.MemArea()
	switch t {
	case buffer.Int32, buffer.Uint32:
		n, ok := asInt64(v)
		if !ok {
			return fmt.Errorf("pipeline: emit: cannot write %T as 32-bit integer", v)
		}
		putLeUint32(mem[offset:], uint32(n))
	case buffer.Int64, buffer.Uint64:
		n, ok := asInt64(v)
		if !ok {
			return fmt.Errorf("pipeline: emit: cannot write %T as 64-bit integer", v)
		}
		putLeUint64(mem[offset:], uint64(n))
	case buffer.Float64:
		f, ok := asFloat64(v)
		if !ok {
			return fmt.Errorf("pipeline: emit: cannot write %T as float64", v)
		}
		putLeUint64(mem[offset:], math.Float64bits(f))
	case buffer.Bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("pipeline: emit: cannot write %T as bool", v)
		}
		if b {
			mem[offset] = 1
		} else {
			mem[offset] = 0
		}
	default:
		return fmt.Errorf("pipeline: emit: unsupported field type %d", t)
	}
	return nil
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
