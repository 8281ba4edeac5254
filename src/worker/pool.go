// Package worker implements the worker pool / query manager: a fixed
// number of OS threads looping dequeue, open, execute, close,
// cooperating with stop tokens and remaining responsive to both fresh
// admission and internally-emitted follow-up work.
package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/handler"
	"github.com/nebulastream/runtime/src/logging"
	"github.com/nebulastream/runtime/src/pipeline"
	"github.com/nebulastream/runtime/src/queue"
)

// Task is one unit of work: either a tuple buffer bound for a
// pipeline, or a pre-bound closure (slice-merge and join-probe tasks
// are dispatched this way).
type Task struct {
	Pipeline *pipeline.Pipeline
	Buffer   *buffer.TupleBuffer
	Fn       func(ec *pipeline.ExecutionContext) error
}

// Config configures a Pool.
type Config struct {
	NumberOfWorkerThreads int
	// NonBlockingEvery mixes a non-blocking dequeue attempt into the
	// loop every Nth iteration so workers probe follow-up work without
	// parking. 0 selects the default of every 4th iteration; a
	// negative value disables the mix.
	NonBlockingEvery int
}

// Pool runs the worker threads consuming a shared task queue.
type Pool struct {
	cfg      Config
	queue    *queue.Queue[Task]
	buffers  *buffer.Manager
	handlers *handler.Registry
	logger   logging.Logger

	// onError is invoked once per failed task; the plan uses it to
	// transition to ErrorState.
	onError func(error)

	outputSeq sync.Map // originID (uint64) -> *atomic.Uint64

	runCtx   context.Context
	cancel   context.CancelFunc
	draining atomic.Bool
	wg       sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// NewPool creates a Pool over the given queue, buffer manager, and
// handler registry.
func NewPool(cfg Config, q *queue.Queue[Task], buffers *buffer.Manager, handlers *handler.Registry, logger logging.Logger) *Pool {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.NumberOfWorkerThreads <= 0 {
		cfg.NumberOfWorkerThreads = 1
	}
	if cfg.NonBlockingEvery == 0 {
		cfg.NonBlockingEvery = 4
	}
	return &Pool{
		cfg:      cfg,
		queue:    q,
		buffers:  buffers,
		handlers: handlers,
		logger:   logger.With("worker.Pool"),
	}
}

// OnError registers the task-failure callback. Must be set before
// Start.
func (p *Pool) OnError(fn func(error)) { p.onError = fn }

// Start launches the worker threads. ctx bounds the pool's lifetime in
// addition to the Stop methods.
func (p *Pool) Start(ctx context.Context) {
	p.draining.Store(false)
	p.runCtx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.NumberOfWorkerThreads; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.logger.Info("worker pool started", "workers", p.cfg.NumberOfWorkerThreads)
}

func (p *Pool) run(workerThreadID int) {
	defer p.wg.Done()
	iter := 0
	for {
		if p.draining.Load() {
			// Graceful drain: consume whatever is left without blocking.
			// A worker may only exit once the queue is empty AND no peer
			// is mid-task, since in-flight tasks can still emit internal
			// follow-ups.
			task, ok := p.queue.GetNextTaskNonBlocking()
			if !ok {
				if p.inFlight.Load() == 0 {
					return
				}
				runtime.Gosched()
				continue
			}
			p.execute(workerThreadID, task)
			continue
		}

		iter++
		if p.cfg.NonBlockingEvery > 0 && iter%p.cfg.NonBlockingEvery == 0 {
			if task, ok := p.queue.GetNextTaskNonBlocking(); ok {
				p.execute(workerThreadID, task)
				continue
			}
		}

		task, ok := p.queue.GetNextTaskBlocking(p.runCtx)
		if !ok {
			if p.draining.Load() {
				continue // re-enter the drain loop above
			}
			return // hard stop: drop pending work
		}
		p.execute(workerThreadID, task)
	}
}

func (p *Pool) execute(workerThreadID int, task Task) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	ec := &pipeline.ExecutionContext{
		Ctx:            context.Background(),
		WorkerThreadID: workerThreadID,
		Handlers:       p.handlers,
		Buffers:        p.buffers,
		NextOutputSeq:  p.nextOutputSeq,
	}

	var err error
	switch {
	case task.Fn != nil:
		err = task.Fn(ec)
	case task.Pipeline != nil && task.Buffer != nil:
		err = task.Pipeline.Process(ec, task.Buffer)
	default:
		if task.Buffer != nil {
			task.Buffer.Release()
		}
		return
	}

	if err != nil {
		p.failed.Add(1)
		p.logger.Error("task failed", "worker", workerThreadID, "error", err)
		if p.onError != nil {
			p.onError(err)
		}
		return
	}
	p.processed.Add(1)
}

// nextOutputSeq allocates monotone per-origin output sequence numbers
// shared by every invocation producing output for originID.
func (p *Pool) nextOutputSeq(originID uint64) uint64 {
	v, _ := p.outputSeq.LoadOrStore(originID, &atomic.Uint64{})
	return v.(*atomic.Uint64).Add(1)
}

// StopGraceful drains the queue and joins the workers. Callers must
// have stopped admission first: stop tokens propagate to sources
// before the drain.
func (p *Pool) StopGraceful() {
	p.draining.Store(true)
	p.cancel() // wake workers parked on the blocking dequeue
	p.wg.Wait()
	p.logger.Info("worker pool drained", "processed", p.processed.Load())
}

// StopHard cancels the workers immediately and releases every pending
// task's buffer so no buffer remains owned by the runtime.
func (p *Pool) StopHard() {
	p.cancel()
	p.wg.Wait()
	dropped := 0
	for {
		task, ok := p.queue.GetNextTaskNonBlocking()
		if !ok {
			break
		}
		if task.Buffer != nil {
			task.Buffer.Release()
		}
		dropped++
	}
	if dropped > 0 {
		p.logger.Warn("hard stop dropped pending tasks", "dropped", dropped)
	}
}

// Processed reports how many tasks completed successfully.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Failed reports how many tasks returned an error.
func (p *Pool) Failed() int64 { return p.failed.Load() }
