package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/handler"
	"github.com/nebulastream/runtime/src/pipeline"
	"github.com/nebulastream/runtime/src/queue"
	"github.com/nebulastream/runtime/src/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectOp is a terminal test operator gathering every record it sees.
type collectOp struct {
	pipeline.Base
	fn func(pipeline.Record)
}

func (c *collectOp) Execute(ctx *pipeline.ExecutionContext, rec pipeline.Record) error {
	c.fn(rec)
	return nil
}

func testSchema(t *testing.T) *buffer.Schema {
	t.Helper()
	s, err := buffer.NewSchema([]buffer.Field{{Name: "v", Type: buffer.Int32}})
	require.NoError(t, err)
	return s
}

func fillBuffer(t *testing.T, mgr *buffer.Manager, layout *buffer.MemoryLayout, seq uint64, origin uint64, values ...int32) *buffer.TupleBuffer {
	t.Helper()
	b, err := mgr.GetBufferBlocking(context.Background())
	require.NoError(t, err)
	for row, v := range values {
		off := layout.Offset(row, 0)
		mem := b.MemArea()
		mem[off] = byte(v)
		mem[off+1] = byte(v >> 8)
		mem[off+2] = byte(v >> 16)
		mem[off+3] = byte(v >> 24)
	}
	b.SetNumberOfTuples(uint32(len(values)))
	b.SequenceNumber = seq
	b.ChunkNumber = 1
	b.LastChunk = true
	b.OriginID = origin
	b.CreationTs = time.Now()
	return b
}

// TestGracefulStop: a plan with 2 sources; each signals EoS; the
// termination future resolves to Ok and every allocated buffer is
// accounted for.
func TestGracefulStop(t *testing.T) {
	schema := testSchema(t)
	mgr := buffer.NewManager(buffer.Config{BufferSize: 256, NumberOfBuffersInGlobalPool: 16}, nil)
	layout := buffer.NewMemoryLayout(schema, buffer.RowMajor, 256)

	var mu sync.Mutex
	var got []int32

	newChain := func() pipeline.Operator {
		scan := pipeline.NewScan(layout, schema)
		sel := pipeline.NewSelection(func(rec pipeline.Record) bool {
			return rec["v"].(int32)%2 == 0
		})
		collect := &collectOp{fn: func(rec pipeline.Record) {
			mu.Lock()
			got = append(got, rec["v"].(int32))
			mu.Unlock()
		}}
		scan.AddChild(sel)
		sel.AddChild(collect)
		return scan
	}
	pl := pipeline.New(1, newChain)

	q := queue.New[worker.Task](queue.Config{AdmissionCapacity: 16, InternalCapacity: 16}, nil)
	reg := handler.NewRegistry()
	pool := worker.NewPool(worker.Config{NumberOfWorkerThreads: 2}, q, mgr, reg, nil)
	plan := NewPlan(42, 1, []*pipeline.Pipeline{pl}, reg, pool, nil)

	plan.AttachProducer()
	plan.AttachProducer()

	require.NoError(t, plan.Setup())
	require.Equal(t, Deployed, plan.Status())
	require.NoError(t, plan.Start(context.Background()))
	require.Equal(t, Running, plan.Status())

	for origin := uint64(1); origin <= 2; origin++ {
		for seq := uint64(1); seq <= 4; seq++ {
			b := fillBuffer(t, mgr, layout, seq, origin, 1, 2, 3, 4)
			require.True(t, q.AddAdmissionTaskBlocking(context.Background(), worker.Task{Pipeline: pl, Buffer: b}))
		}
	}

	plan.OnEndOfStream()
	assert.Equal(t, Running, plan.Status())
	plan.OnEndOfStream()

	select {
	case r := <-plan.Result():
		assert.Equal(t, Ok, r)
	case <-time.After(5 * time.Second):
		t.Fatal("termination future did not resolve")
	}
	assert.Equal(t, Stopped, plan.Status())

	// Refcount audit: every pooled buffer is back in the pool.
	assert.Equal(t, 16, mgr.AvailablePooled())
	assert.Equal(t, 16, len(got)) // 2 origins x 4 buffers x 2 even values
}

func TestFailMovesToErrorState(t *testing.T) {
	schema := testSchema(t)
	mgr := buffer.NewManager(buffer.Config{BufferSize: 256, NumberOfBuffersInGlobalPool: 4}, nil)
	layout := buffer.NewMemoryLayout(schema, buffer.RowMajor, 256)

	newChain := func() pipeline.Operator {
		scan := pipeline.NewScan(layout, schema)
		scan.AddChild(pipeline.NewMap("v", func(rec pipeline.Record) interface{} { return rec["v"] }))
		return scan
	}
	pl := pipeline.New(1, newChain)

	q := queue.New[worker.Task](queue.Config{AdmissionCapacity: 4, InternalCapacity: 4}, nil)
	reg := handler.NewRegistry()
	pool := worker.NewPool(worker.Config{NumberOfWorkerThreads: 1}, q, mgr, reg, nil)
	plan := NewPlan(43, 1, []*pipeline.Pipeline{pl}, reg, pool, nil)
	plan.AttachProducer()

	require.NoError(t, plan.Setup())
	require.NoError(t, plan.Start(context.Background()))

	plan.Fail(fmt.Errorf("simulated operator failure"))

	select {
	case r := <-plan.Result():
		assert.Equal(t, Error, r)
	case <-time.After(5 * time.Second):
		t.Fatal("termination future did not resolve")
	}
	assert.Equal(t, ErrorState, plan.Status())
	assert.Error(t, plan.Err())
}

func TestSetupRejectedOutsideCreated(t *testing.T) {
	q := queue.New[worker.Task](queue.Config{AdmissionCapacity: 1, InternalCapacity: 1}, nil)
	reg := handler.NewRegistry()
	pool := worker.NewPool(worker.Config{NumberOfWorkerThreads: 1}, q, nil, reg, nil)
	plan := NewPlan(44, 1, nil, reg, pool, nil)

	require.NoError(t, plan.Setup())
	assert.Error(t, plan.Setup())

	fresh := NewPlan(44, 2, nil, reg, worker.NewPool(worker.Config{NumberOfWorkerThreads: 1}, q, nil, reg, nil), nil)
	assert.Error(t, fresh.Start(context.Background())) // Created, not Deployed
}

func TestReconfigureBumpsVersion(t *testing.T) {
	q := queue.New[worker.Task](queue.Config{AdmissionCapacity: 4, InternalCapacity: 4}, nil)
	reg := handler.NewRegistry()
	pool := worker.NewPool(worker.Config{NumberOfWorkerThreads: 1}, q, nil, reg, nil)
	plan := NewPlan(45, 1, nil, reg, pool, nil)
	plan.AttachProducer()

	require.NoError(t, plan.Setup())
	require.NoError(t, plan.Start(context.Background()))
	require.Equal(t, uint32(1), plan.Version())

	require.NoError(t, plan.Reconfigure(context.Background(), nil))
	assert.Equal(t, uint32(2), plan.Version())
	assert.Equal(t, Running, plan.Status())

	plan.OnEndOfStream()
	assert.Equal(t, Ok, <-plan.Result())
}
