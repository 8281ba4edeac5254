package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taskID struct {
	threadID int
	seq      int
}

// TestBackpressureScenario: 8 source threads each enqueue 10,000 admission tasks with 2 workers and a
// queue capacity of 100. Every (threadID, seq) pair must be consumed
// exactly once and the total consumed must equal the total produced.
func TestBackpressureScenario(t *testing.T) {
	const sources = 8
	const perSource = 10_000
	const workers = 2

	q := New[taskID](Config{AdmissionCapacity: 100, InternalCapacity: 100}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen sync.Map
	var consumed int64
	var consumedMu sync.Mutex
	duplicates := 0

	var workerWg sync.WaitGroup
	for w := 0; w < workers; w++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for {
				task, ok := q.GetNextTaskBlocking(ctx)
				if !ok {
					return
				}
				key := fmt.Sprintf("%d:%d", task.threadID, task.seq)
				if _, dup := seen.LoadOrStore(key, true); dup {
					consumedMu.Lock()
					duplicates++
					consumedMu.Unlock()
				}
				consumedMu.Lock()
				consumed++
				consumedMu.Unlock()
			}
		}()
	}

	var sourceWg sync.WaitGroup
	for s := 0; s < sources; s++ {
		sourceWg.Add(1)
		go func(threadID int) {
			defer sourceWg.Done()
			for seq := 0; seq < perSource; seq++ {
				ok := q.AddAdmissionTaskBlocking(ctx, taskID{threadID: threadID, seq: seq})
				require.True(t, ok)
			}
		}(s)
	}
	sourceWg.Wait()

	// Drain: wait until the queue is empty, then cancel so workers exit.
	for q.Size() > 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	workerWg.Wait()

	assert.Equal(t, sources*perSource, int(consumed))
	assert.Equal(t, 0, duplicates)
	metrics := q.Metrics()
	assert.Equal(t, metrics.AdmissionAdded, metrics.Gotten)
}

func TestAdmissionBlockingHonorsStopToken(t *testing.T) {
	q := New[int](Config{AdmissionCapacity: 1, InternalCapacity: 1}, nil)
	require.True(t, q.AddAdmissionTaskBlocking(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok := q.AddAdmissionTaskBlocking(ctx, 2)
	assert.False(t, ok, "admission must back-pressure once the lane is full")
}

func TestInternalTaskNeverBlocksOnAdmission(t *testing.T) {
	q := New[int](Config{AdmissionCapacity: 1, InternalCapacity: 1}, nil)
	require.True(t, q.AddAdmissionTaskBlocking(context.Background(), 1))

	// Admission lane is full; internal lane must still accept.
	ok := q.AddInternalTaskNonBlocking(2)
	assert.True(t, ok)

	task, ok := q.GetNextTaskNonBlocking()
	assert.True(t, ok)
	assert.Equal(t, 2, task, "internal lane is drained ahead of admission")
}

func TestGetNextTaskNonBlockingEmpty(t *testing.T) {
	q := New[int](Config{AdmissionCapacity: 1, InternalCapacity: 1}, nil)
	_, ok := q.GetNextTaskNonBlocking()
	assert.False(t, ok)
}

// TestStressWithFollowUps: workers occasionally emit bursts of
// internal follow-up tasks while admission continues; no task is lost
// or duplicated.
func TestStressWithFollowUps(t *testing.T) {
	const producers = 4
	const perProducer = 2_000
	const workers = 6

	q := New[taskID](Config{AdmissionCapacity: 200, InternalCapacity: 5000}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var consumed int64
	var mu sync.Mutex

	var workerWg sync.WaitGroup
	for w := 0; w < workers; w++ {
		workerWg.Add(1)
		go func(workerID int) {
			defer workerWg.Done()
			burstCount := 0
			for {
				task, ok := q.GetNextTaskBlocking(ctx)
				if !ok {
					return
				}
				mu.Lock()
				consumed++
				mu.Unlock()

				// Occasionally emit a small burst of follow-up tasks.
				if burstCount < 3 && task.seq%500 == 0 {
					burstCount++
					for i := 0; i < 5; i++ {
						q.AddInternalTaskNonBlocking(taskID{threadID: -1, seq: i})
					}
				}
			}
		}(w)
	}

	var producerWg sync.WaitGroup
	for p := 0; p < producers; p++ {
		producerWg.Add(1)
		go func(threadID int) {
			defer producerWg.Done()
			for seq := 0; seq < perProducer; seq++ {
				q.AddAdmissionTaskBlocking(ctx, taskID{threadID: threadID, seq: seq})
			}
		}(p)
	}
	producerWg.Wait()

	for q.Size() > 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	workerWg.Wait()

	metrics := q.Metrics()
	assert.Equal(t, metrics.AdmissionAdded+metrics.InternalAdded, metrics.Gotten)
	assert.GreaterOrEqual(t, int(consumed), producers*perProducer)
}
