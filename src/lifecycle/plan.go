// Package lifecycle implements the executable query plan state
// machine, Created to Deployed to Running to Stopped/ErrorState, with
// graceful-drain, hard-stop, and reconfiguration teardown paths and a
// producer counter whose decrement-to-zero hands off to the stop
// routine.
//
// The placement/decomposition planner is an external collaborator: a
// Plan accepts an already-decomposed set of pipelines and handler
// bindings.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nebulastream/runtime/src/handler"
	"github.com/nebulastream/runtime/src/logging"
	"github.com/nebulastream/runtime/src/pipeline"
	"github.com/nebulastream/runtime/src/termination"
	"github.com/nebulastream/runtime/src/worker"
)

// Status is the plan's lifecycle state.
type Status int32

const (
	Created Status = iota
	Deployed
	Running
	Stopped
	ErrorState
)

func (s Status) String() string {
	switch s {
	case Created:
		return "Created"
	case Deployed:
		return "Deployed"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case ErrorState:
		return "ErrorState"
	default:
		return "Unknown"
	}
}

// Result is what the plan's termination future resolves to.
type Result int

const (
	Ok Result = iota
	Error
)

// Plan is one deployed, already-decomposed per-node query plan.
type Plan struct {
	SharedQueryID uint64
	SubPlanID     uint64

	pipelines []*pipeline.Pipeline
	handlers  *handler.Registry
	pool      *worker.Pool
	logger    logging.Logger

	status        atomic.Int32
	producerCount atomic.Int64
	version       atomic.Uint32

	done     chan Result
	doneOnce sync.Once

	drainMu    sync.Mutex
	drainHooks []func()

	errMu   sync.Mutex
	planErr error
}

// NewPlan builds a Plan over an already-decomposed pipeline set; the
// plan exclusively owns the handler registry and keeps it alive until
// every pipeline has terminated.
func NewPlan(sharedQueryID, subPlanID uint64, pipelines []*pipeline.Pipeline, handlers *handler.Registry, pool *worker.Pool, logger logging.Logger) *Plan {
	if logger == nil {
		logger = logging.Nop()
	}
	p := &Plan{
		SharedQueryID: sharedQueryID,
		SubPlanID:     subPlanID,
		pipelines:     pipelines,
		handlers:      handlers,
		pool:          pool,
		logger:        logger.With("lifecycle.Plan"),
		done:          make(chan Result, 1),
	}
	p.version.Store(1)
	pool.OnError(func(err error) { p.Fail(err) })
	return p
}

// Status returns the current lifecycle state.
func (p *Plan) Status() Status { return Status(p.status.Load()) }

// Version returns the current decomposed-plan version, bumped by
// Reconfigure.
func (p *Plan) Version() uint32 { return p.version.Load() }

// Result is the plan's termination future.
func (p *Plan) Result() <-chan Result { return p.done }

// Err returns the error that moved the plan to ErrorState, if any.
func (p *Plan) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.planErr
}

// AttachProducer registers one producing source; every attached
// producer must eventually signal OnEndOfStream.
func (p *Plan) AttachProducer() { p.producerCount.Add(1) }

// ProducerCount reports the number of still-attached producers.
func (p *Plan) ProducerCount() int64 { return p.producerCount.Load() }

// Setup starts every handler and runs each pipeline's setup pass,
// moving Created → Deployed. It does not check the handler indices
// that operators refer to. Failure rolls back started handlers and
// moves to ErrorState.
func (p *Plan) Setup() error {
	if !p.status.CompareAndSwap(int32(Created), int32(Deployed)) {
		return fmt.Errorf("lifecycle: setup in state %s (want Created)", p.Status())
	}
	if err := p.handlers.StartAll(); err != nil {
		p.toError(fmt.Errorf("lifecycle: handler start: %w", err), termination.Failure)
		return err
	}
	ec := &pipeline.ExecutionContext{Ctx: context.Background(), Handlers: p.handlers}
	for _, pl := range p.pipelines {
		if err := pl.Setup(ec); err != nil {
			p.toError(fmt.Errorf("lifecycle: pipeline %d setup: %w", pl.ID, err), termination.Failure)
			return err
		}
	}
	p.logger.Info("plan deployed", "sharedQueryId", p.SharedQueryID, "subPlanId", p.SubPlanID)
	return nil
}

// Start kicks the worker pool, moving Deployed → Running.
func (p *Plan) Start(ctx context.Context) error {
	if !p.status.CompareAndSwap(int32(Deployed), int32(Running)) {
		return fmt.Errorf("lifecycle: start in state %s (want Deployed)", p.Status())
	}
	p.pool.Start(ctx)
	p.logger.Info("plan running", "sharedQueryId", p.SharedQueryID)
	return nil
}

// OnEndOfStream records one producer's end-of-stream. The decrement
// reaching zero is an acquire-release hand-off: exactly one caller
// wins the transition and drives the graceful stop.
func (p *Plan) OnEndOfStream() {
	if p.producerCount.Add(-1) == 0 {
		p.stop()
	}
}

// AddDrainHook registers a closure run at the start of the graceful
// stop, while the worker pool is still consuming: windowed operators
// use it to emit their outstanding slice-merge tasks so final merges
// are driven rather than discarded.
func (p *Plan) AddDrainHook(fn func()) {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	p.drainHooks = append(p.drainHooks, fn)
}

// stop is the graceful teardown: flush outstanding slice-merge tasks,
// drain the queue, run each pipeline's terminate pass, release
// handlers, publish Ok.
func (p *Plan) stop() {
	if !p.status.CompareAndSwap(int32(Running), int32(Stopped)) {
		return
	}
	p.drainMu.Lock()
	hooks := p.drainHooks
	p.drainMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	p.pool.StopGraceful()

	ec := &pipeline.ExecutionContext{Ctx: context.Background(), Handlers: p.handlers}
	for _, pl := range p.pipelines {
		if err := pl.Terminate(ec); err != nil {
			p.logger.Error("pipeline terminate failed", "pipeline", pl.ID, "error", err)
		}
	}
	if err := p.handlers.StopAll(termination.Graceful); err != nil {
		p.logger.Error("handler stop failed", "error", err)
	}
	p.logger.Info("plan stopped", "sharedQueryId", p.SharedQueryID)
	p.resolve(Ok)
}

// HardStop drops pending tasks and terminates all pipelines without
// draining.
func (p *Plan) HardStop() {
	p.toError(fmt.Errorf("lifecycle: hard stop requested"), termination.Hard)
}

// Fail bypasses draining, releases handlers, and publishes Error.
func (p *Plan) Fail(err error) {
	p.toError(err, termination.Failure)
}

func (p *Plan) toError(err error, t termination.Type) {
	if !p.status.CompareAndSwap(int32(Running), int32(ErrorState)) &&
		!p.status.CompareAndSwap(int32(Deployed), int32(ErrorState)) &&
		!p.status.CompareAndSwap(int32(Created), int32(ErrorState)) {
		return // already Stopped or ErrorState; only one thread wins
	}
	p.errMu.Lock()
	p.planErr = err
	p.errMu.Unlock()

	p.pool.StopHard()
	ec := &pipeline.ExecutionContext{Ctx: context.Background(), Handlers: p.handlers}
	for _, pl := range p.pipelines {
		if terr := pl.Terminate(ec); terr != nil {
			p.logger.Error("pipeline terminate failed", "pipeline", pl.ID, "error", terr)
		}
	}
	if herr := p.handlers.StopAll(t); herr != nil {
		p.logger.Error("handler stop failed", "error", herr)
	}
	p.logger.Error("plan failed", "sharedQueryId", p.SharedQueryID, "termination", t.String(), "error", err)
	p.resolve(Error)
}

// Reconfigure swaps in a new decomposed plan version while Running:
// sources must have stopped admitting first; in-flight tasks complete
// via a graceful drain; the new pipelines take over and relevant
// handler state carries over since the registry is untouched for
// additive updates.
func (p *Plan) Reconfigure(ctx context.Context, newPipelines []*pipeline.Pipeline) error {
	if p.Status() != Running {
		return fmt.Errorf("lifecycle: reconfigure in state %s (want Running)", p.Status())
	}
	p.pool.StopGraceful()

	ec := &pipeline.ExecutionContext{Ctx: context.Background(), Handlers: p.handlers}
	for _, pl := range newPipelines {
		if err := pl.Setup(ec); err != nil {
			p.toError(fmt.Errorf("lifecycle: reconfigure setup: %w", err), termination.Failure)
			return err
		}
	}
	p.pipelines = newPipelines
	v := p.version.Add(1)
	p.pool.Start(ctx)
	p.logger.Info("plan reconfigured", "sharedQueryId", p.SharedQueryID, "version", v)
	return nil
}

func (p *Plan) resolve(r Result) {
	p.doneOnce.Do(func() { p.done <- r })
}
