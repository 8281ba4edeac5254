package handler

import (
	"sync"

	"github.com/nebulastream/runtime/src/termination"
	"github.com/nebulastream/runtime/src/watermark"
	"github.com/nebulastream/runtime/src/window"
)

// AggregationHandler owns the shared thread-local slice/window store
// plus the compiled cleanup closure for one aggregation operator
// instance.
type AggregationHandler[S any] struct {
	coord   *window.Coordinator[S]
	wm      *watermark.Processor
	cleanup func(S)

	mu           sync.Mutex
	lastTriggerW int64
}

// NewAggregationHandler creates a handler with numWorkers thread-local
// stores. newState builds a fresh per-slice state; cleanup releases
// any variable-sized or paged-vector memory held by a state fragment
// once its merge task has completed.
func NewAggregationHandler[S any](numWorkers int, newState func(start, end int64) S, cleanup func(S)) *AggregationHandler[S] {
	if cleanup == nil {
		cleanup = func(S) {}
	}
	return &AggregationHandler[S]{
		coord:   window.NewCoordinator(numWorkers, newState),
		wm:      watermark.New(nil),
		cleanup: cleanup,
	}
}

// Watermark returns the processor merging this operator's per-origin
// watermarks into the global watermark driving slice staging.
func (h *AggregationHandler[S]) Watermark() *watermark.Processor { return h.wm }

// Cleanup runs the compiled cleanup closure over one state fragment,
// invoked by the plan after the fragment's merge task has completed.
func (h *AggregationHandler[S]) Cleanup(frag S) { h.cleanup(frag) }

// Start satisfies Handler; the coordinator owns no goroutines of its
// own so this is a no-op.
func (h *AggregationHandler[S]) Start() error { return nil }

// Stop satisfies Handler. On Graceful termination it flushes every
// remaining slice (running cleanup over each) so no state leaks past
// plan teardown.
func (h *AggregationHandler[S]) Stop(t termination.Type) error {
	if t != termination.Graceful {
		return nil
	}
	for _, task := range h.coord.Flush() {
		for _, frag := range task.Fragments {
			h.cleanup(frag)
		}
	}
	return nil
}

// StoreFor returns the thread-local slice store for workerThreadID.
func (h *AggregationHandler[S]) StoreFor(workerThreadID int) *window.Store[S] {
	return h.coord.StoreFor(workerThreadID)
}

// Drain extracts every remaining merge task regardless of watermark.
// The plan's graceful-stop path uses this to drive final merges while
// the worker pool is still consuming internal tasks.
func (h *AggregationHandler[S]) Drain() []window.MergeTask[S] {
	return h.coord.Flush()
}

// Trigger advances the handler's notion of the global watermark and
// returns any newly-completed merge tasks, skipping the coordinator
// scan entirely if the watermark has not moved.
func (h *AggregationHandler[S]) Trigger(globalWatermark int64) []window.MergeTask[S] {
	h.mu.Lock()
	if globalWatermark == h.lastTriggerW {
		h.mu.Unlock()
		return nil
	}
	h.lastTriggerW = globalWatermark
	h.mu.Unlock()

	tasks := h.coord.Trigger(globalWatermark)
	return tasks
}
