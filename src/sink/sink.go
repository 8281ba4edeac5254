// Package sink defines the consumer contract the runtime hands output
// buffers to plus in-memory and
// network-backed implementations. Sink formatting beyond these is an
// external collaborator.
package sink

import (
	"context"
	"sync"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/pipeline"
)

// Sink receives an output TupleBuffer; a sink that decodes the buffer
// holds the output schema itself. The sink does not take ownership of the buffer;
// the caller releases it after Write returns.
type Sink interface {
	Write(ctx context.Context, buf *buffer.TupleBuffer) error
}

// Memory collects every record written, for tests and the demo driver.
type Memory struct {
	Schema *buffer.Schema
	Layout *buffer.MemoryLayout

	mu      sync.Mutex
	records []pipeline.Record
	buffers int
}

// NewMemory creates a Memory sink decoding buffers per layout.
func NewMemory(schema *buffer.Schema, layout *buffer.MemoryLayout) *Memory {
	return &Memory{Schema: schema, Layout: layout}
}

func (m *Memory) Write(ctx context.Context, buf *buffer.TupleBuffer) error {
	recs := pipeline.DecodeRecords(buf, m.Schema, m.Layout)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recs...)
	m.buffers++
	return nil
}

// Records returns a snapshot of everything written so far.
func (m *Memory) Records() []pipeline.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.Record, len(m.records))
	copy(out, m.records)
	return out
}

// BufferCount reports how many buffers were written.
func (m *Memory) BufferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffers
}

// Dispatch adapts a Sink into the pipeline's emit dispatch hook,
// releasing each buffer once written.
func Dispatch(s Sink) pipeline.DispatchFn {
	return func(ec *pipeline.ExecutionContext, out *buffer.TupleBuffer) error {
		defer out.Release()
		return s.Write(ec.Ctx, out)
	}
}
