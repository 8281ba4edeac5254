// Package queue implements the bounded MPMC task queue with two
// admission classes: externally-produced admission tasks and
// internally-emitted follow-up tasks. Admission is back-pressured by
// capacity; internal emission always makes forward progress even
// while admission is blocked.
package queue

import (
	"context"
	"sync/atomic"

	"github.com/nebulastream/runtime/src/logging"
	"golang.org/x/time/rate"
)

// Config configures a Queue.
type Config struct {
	// AdmissionCapacity bounds the externally-produced admission lane;
	// producers block once it fills. There is no non-blocking
	// admission method.
	AdmissionCapacity int
	// InternalCapacity bounds the internally-emitted follow-up lane.
	// It should be sized so that worst-case internal fan-out per
	// consumed task still fits without ever blocking.
	InternalCapacity int
	// AdmissionRateLimit, if non-nil, throttles admission-lane
	// enqueue independently of capacity. nil disables throttling.
	AdmissionRateLimit *rate.Limiter
}

// Metrics tracks queue activity for the conservation invariant:
// successful adds equal successful gets plus queue size at
// quiescence.
type Metrics struct {
	AdmissionAdded   int64
	InternalAdded    int64
	AdmissionDropped int64
	InternalDropped  int64
	Gotten           int64
}

// Queue is a bounded MPMC task queue of task type T, with two logical
// lanes sharing forward-progress guarantees.
type Queue[T any] struct {
	cfg    Config
	logger logging.Logger

	admission chan T
	internal  chan T

	admissionAdded   int64
	internalAdded    int64
	admissionDropped int64
	internalDropped  int64
	gotten           int64
}

// New creates a Queue with the two lanes sized per cfg.
func New[T any](cfg Config, logger logging.Logger) *Queue[T] {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Queue[T]{
		cfg:       cfg,
		logger:    logger.With("queue.Queue"),
		admission: make(chan T, cfg.AdmissionCapacity),
		internal:  make(chan T, cfg.InternalCapacity),
	}
}

// AddAdmissionTaskBlocking blocks until a slot is available in the
// admission lane or ctx (the cooperative stop token) is done. Returns
// false iff ctx was done before enqueue succeeded.
func (q *Queue[T]) AddAdmissionTaskBlocking(ctx context.Context, task T) bool {
	if q.cfg.AdmissionRateLimit != nil {
		if err := q.cfg.AdmissionRateLimit.Wait(ctx); err != nil {
			return false
		}
	}
	select {
	case q.admission <- task:
		atomic.AddInt64(&q.admissionAdded, 1)
		return true
	case <-ctx.Done():
		return false
	}
}

// AddInternalTaskNonBlocking attempts to enqueue without blocking.
// Internal emission is prioritized: it never waits on the admission
// lane, guaranteeing forward progress for in-flight pipelines even
// while admission is back-pressured.
func (q *Queue[T]) AddInternalTaskNonBlocking(task T) bool {
	select {
	case q.internal <- task:
		atomic.AddInt64(&q.internalAdded, 1)
		return true
	default:
		atomic.AddInt64(&q.internalDropped, 1)
		q.logger.Warn("internal task dropped: internal lane at capacity")
		return false
	}
}

// GetNextTaskBlocking blocks until a task is available from either
// lane or ctx is done. The internal lane is always preferred when
// both are ready, so follow-up work drains ahead of fresh admission
// under contention.
func (q *Queue[T]) GetNextTaskBlocking(ctx context.Context) (T, bool) {
	// Fast path: drain internal lane first without blocking.
	select {
	case t := <-q.internal:
		atomic.AddInt64(&q.gotten, 1)
		return t, true
	default:
	}

	select {
	case t := <-q.internal:
		atomic.AddInt64(&q.gotten, 1)
		return t, true
	case t := <-q.admission:
		atomic.AddInt64(&q.gotten, 1)
		return t, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// GetNextTaskNonBlocking returns immediately with ok=false if neither
// lane has a ready task.
func (q *Queue[T]) GetNextTaskNonBlocking() (T, bool) {
	select {
	case t := <-q.internal:
		atomic.AddInt64(&q.gotten, 1)
		return t, true
	default:
	}
	select {
	case t := <-q.admission:
		atomic.AddInt64(&q.gotten, 1)
		return t, true
	default:
		var zero T
		return zero, false
	}
}

// Size returns the number of tasks currently queued across both
// lanes.
func (q *Queue[T]) Size() int { return len(q.admission) + len(q.internal) }

// Metrics returns a snapshot of queue counters.
func (q *Queue[T]) Metrics() Metrics {
	return Metrics{
		AdmissionAdded:   atomic.LoadInt64(&q.admissionAdded),
		InternalAdded:    atomic.LoadInt64(&q.internalAdded),
		AdmissionDropped: atomic.LoadInt64(&q.admissionDropped),
		InternalDropped:  atomic.LoadInt64(&q.internalDropped),
		Gotten:           atomic.LoadInt64(&q.gotten),
	}
}
