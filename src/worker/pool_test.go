package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/handler"
	"github.com/nebulastream/runtime/src/pipeline"
	"github.com/nebulastream/runtime/src/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStressWithFollowUps: sources rapid-fire admission tasks while
// 12 workers dequeue and occasionally emit
// geometric bursts of internal tasks. At quiescence every added task
// was consumed exactly once.
func TestStressWithFollowUps(t *testing.T) {
	const sources = 4
	const perSource = 5_000

	q := queue.New[Task](queue.Config{AdmissionCapacity: 100, InternalCapacity: 100_000}, nil)
	pool := NewPool(Config{NumberOfWorkerThreads: 12}, q, nil, handler.NewRegistry(), nil)

	var added, consumed atomic.Int64
	rng := rand.New(rand.NewSource(7))
	var rngMu sync.Mutex

	// burst draws 0 or G*1000 follow-up tasks with G geometric, cutoff 6.
	burst := func() int {
		rngMu.Lock()
		defer rngMu.Unlock()
		if rng.Intn(50) != 0 {
			return 0
		}
		g := 1
		for g < 6 && rng.Intn(2) == 0 {
			g++
		}
		return g * 1000
	}

	var emit func(ec *pipeline.ExecutionContext) error
	emit = func(ec *pipeline.ExecutionContext) error {
		consumed.Add(1)
		n := burst()
		for i := 0; i < n; i++ {
			if q.AddInternalTaskNonBlocking(Task{Fn: func(ec *pipeline.ExecutionContext) error {
				consumed.Add(1)
				return nil
			}}) {
				added.Add(1)
			}
		}
		return nil
	}

	pool.Start(context.Background())

	var wg sync.WaitGroup
	for s := 0; s < sources; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSource; i++ {
				if q.AddAdmissionTaskBlocking(context.Background(), Task{Fn: emit}) {
					added.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	pool.StopGraceful()

	assert.Equal(t, added.Load(), consumed.Load())
	assert.Equal(t, 0, q.Size())
	m := q.Metrics()
	assert.Equal(t, m.AdmissionAdded+m.InternalAdded, m.Gotten)
}

func TestHardStopReleasesPendingBuffers(t *testing.T) {
	q := queue.New[Task](queue.Config{AdmissionCapacity: 100, InternalCapacity: 10}, nil)
	mgr := buffer.NewManager(buffer.Config{BufferSize: 256, NumberOfBuffersInGlobalPool: 8}, nil)
	pool := NewPool(Config{NumberOfWorkerThreads: 2}, q, mgr, handler.NewRegistry(), nil)

	// Enqueue buffer-carrying tasks without ever starting the pool.
	for i := 0; i < 8; i++ {
		b, err := mgr.GetBufferBlocking(context.Background())
		require.NoError(t, err)
		require.True(t, q.AddAdmissionTaskBlocking(context.Background(), Task{Buffer: b}))
	}
	require.Equal(t, 0, mgr.AvailablePooled())

	pool.Start(context.Background())
	pool.StopHard()

	// Workers may have consumed some tasks before cancellation; either
	// way every buffer must be back in the pool afterwards.
	assert.Equal(t, 8, mgr.AvailablePooled())
}

func TestOutputSeqIsMonotonePerOrigin(t *testing.T) {
	q := queue.New[Task](queue.Config{AdmissionCapacity: 4, InternalCapacity: 4}, nil)
	pool := NewPool(Config{NumberOfWorkerThreads: 1}, q, nil, handler.NewRegistry(), nil)

	assert.Equal(t, uint64(1), pool.nextOutputSeq(7))
	assert.Equal(t, uint64(2), pool.nextOutputSeq(7))
	assert.Equal(t, uint64(1), pool.nextOutputSeq(9))
}
