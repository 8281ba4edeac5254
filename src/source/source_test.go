package source

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/pipeline"
	"github.com/nebulastream/runtime/src/queue"
	"github.com/nebulastream/runtime/src/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorFillsBuffersUntilExhausted(t *testing.T) {
	schema, err := buffer.NewSchema([]buffer.Field{{Name: "v", Type: buffer.Int64}})
	require.NoError(t, err)
	layout := buffer.NewMemoryLayout(schema, buffer.RowMajor, 64) // capacity 8

	gen := &Generator{
		Schema: schema,
		Layout: layout,
		Next: func(i uint64) pipeline.Record {
			if i >= 20 {
				return nil
			}
			return pipeline.Record{"v": int64(i)}
		},
	}
	mgr := buffer.NewManager(buffer.Config{BufferSize: 64, NumberOfBuffersInGlobalPool: 4}, nil)

	var total uint32
	for {
		b, err := mgr.GetBufferBlocking(context.Background())
		require.NoError(t, err)
		n, err := gen.FillBuffer(b, context.Background())
		require.NoError(t, err)
		if n == 0 {
			b.Release()
			break
		}
		total += b.NumberOfTuples()
		b.Release()
	}
	assert.Equal(t, uint32(20), total)
}

func TestRunnerStampsMetadataAndSignalsEoS(t *testing.T) {
	schema, err := buffer.NewSchema([]buffer.Field{{Name: "v", Type: buffer.Int64}})
	require.NoError(t, err)
	layout := buffer.NewMemoryLayout(schema, buffer.RowMajor, 64)

	mgr := buffer.NewManager(buffer.Config{BufferSize: 64, NumberOfBuffersInGlobalPool: 8}, nil)
	q := queue.New[worker.Task](queue.Config{AdmissionCapacity: 16, InternalCapacity: 4}, nil)

	var eos atomic.Bool
	runner := &Runner{
		OriginID: 7,
		Source: &Generator{
			Schema: schema,
			Layout: layout,
			Next: func(i uint64) pipeline.Record {
				if i >= 10 {
					return nil
				}
				return pipeline.Record{"v": int64(i)}
			},
			RowsPerBuffer: 4,
		},
		Pool:          mgr,
		Queue:         q,
		OnEndOfStream: func() { eos.Store(true) },
	}
	require.NoError(t, runner.Run(context.Background()))
	assert.True(t, eos.Load())

	// 10 rows at 4 per buffer -> sequence numbers 1,2,3.
	wantSeq := uint64(1)
	for {
		task, ok := q.GetNextTaskNonBlocking()
		if !ok {
			break
		}
		assert.Equal(t, uint64(7), task.Buffer.OriginID)
		assert.Equal(t, wantSeq, task.Buffer.SequenceNumber)
		assert.True(t, task.Buffer.LastChunk)
		wantSeq++
		task.Buffer.Release()
	}
	assert.Equal(t, uint64(4), wantSeq)
	assert.Equal(t, 8, mgr.AvailablePooled())
}
