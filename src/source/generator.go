package source

import (
	"context"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/pipeline"
)

// Generator produces a bounded stream of synthetic records through a
// user-supplied row function, packing them row-major per the layout.
type Generator struct {
	Schema *buffer.Schema
	Layout *buffer.MemoryLayout

	// Next returns the i-th record, or nil when the stream is done.
	Next func(i uint64) pipeline.Record

	// RowsPerBuffer caps how many rows one FillBuffer call emits; 0
	// means fill to layout capacity.
	RowsPerBuffer int

	// WatermarkFor derives the buffer's watermark from the last record
	// index emitted into it; nil leaves WatermarkTs zero.
	WatermarkFor func(lastIndex uint64) uint64

	emitted uint64
}

func (g *Generator) Open() error  { return nil }
func (g *Generator) Close() error { return nil }

// FillBuffer packs up to RowsPerBuffer records into ioBuf. Returns 0
// on end-of-stream per the source contract.
func (g *Generator) FillBuffer(ioBuf *buffer.TupleBuffer, ctx context.Context) (int, error) {
	max := g.Layout.Capacity()
	if g.RowsPerBuffer > 0 && g.RowsPerBuffer < max {
		max = g.RowsPerBuffer
	}

	rows := 0
	for rows < max {
		if ctx.Err() != nil {
			break
		}
		rec := g.Next(g.emitted)
		if rec == nil {
			break
		}
		if err := pipeline.EncodeRecord(ioBuf, g.Schema, g.Layout, rows, rec); err != nil {
			return 0, err
		}
		g.emitted++
		rows++
	}
	if rows == 0 {
		return 0, nil
	}

	ioBuf.SetNumberOfTuples(uint32(rows))
	if g.WatermarkFor != nil {
		ioBuf.WatermarkTs = g.WatermarkFor(g.emitted - 1)
	}
	return rows * g.Schema.RecordSize(), nil
}
