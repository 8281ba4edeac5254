package handler

import (
	"sync"
	"sync/atomic"

	"github.com/nebulastream/runtime/src/termination"
	"github.com/nebulastream/runtime/src/watermark"
)

// JoinSide distinguishes the two build sides of a join.
type JoinSide int

const (
	JoinLeft JoinSide = iota
	JoinRight
)

// joinBucketKey identifies one (windowId, partition) join bucket.
type joinBucketKey struct {
	windowID  uint64
	partition uint32
}

// JoinBucket holds both sides' build state for one (window, partition),
// plus a claim counter so exactly one JoinProbe invocation performs the
// actual probe once both sides' slices are sealed.
type JoinBucket struct {
	mu      sync.Mutex
	left    []interface{}
	right   []interface{}
	claimed atomic.Bool
}

// Append adds one build-side entry under the bucket's lock; build
// invocations on different worker threads may target the same bucket.
func (b *JoinBucket) Append(side JoinSide, entry interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if side == JoinLeft {
		b.left = append(b.left, entry)
	} else {
		b.right = append(b.right, entry)
	}
}

// Entries returns both sides' entries. Callers must only read them
// after claiming the bucket, at which point the build phase for the
// window is sealed and the slices immutable.
func (b *JoinBucket) Entries() (left, right []interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.left, b.right
}

// Claim attempts to take ownership of this bucket's probe step.
// Returns true for exactly one caller.
func (b *JoinBucket) Claim() bool { return b.claimed.CompareAndSwap(false, true) }

// SealedBucket is one claimable (window, partition) bucket whose
// window has closed under the global watermark.
type SealedBucket struct {
	WindowID  uint64
	Partition uint32
	Bucket    *JoinBucket
}

// JoinHandler owns the per-(window,partition) bucket registry shared by
// both sides' JoinBuild pipelines and the JoinProbe, plus the watermark
// processor sealing windows.
type JoinHandler struct {
	windowSize int64
	wm         *watermark.Processor

	mu      sync.Mutex
	buckets map[joinBucketKey]*JoinBucket
}

// NewJoinHandler creates a JoinHandler for windows of windowSize.
func NewJoinHandler(windowSize int64) *JoinHandler {
	return &JoinHandler{
		windowSize: windowSize,
		wm:         watermark.New(nil),
		buckets:    make(map[joinBucketKey]*JoinBucket),
	}
}

// WindowSize returns the fixed window length.
func (h *JoinHandler) WindowSize() int64 { return h.windowSize }

// Watermark returns the processor merging both sides' origins into the
// global watermark sealing join windows.
func (h *JoinHandler) Watermark() *watermark.Processor { return h.wm }

// GetBucket returns (creating if necessary) the bucket for
// (windowID, partition).
func (h *JoinHandler) GetBucket(windowID uint64, partition uint32) *JoinBucket {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := joinBucketKey{windowID, partition}
	b, ok := h.buckets[key]
	if !ok {
		b = &JoinBucket{}
		h.buckets[key] = b
	}
	return b
}

// SealedBuckets returns every unclaimed bucket whose window end is at
// or below the global watermark. Callers race on Claim per bucket;
// exactly one wins each.
func (h *JoinHandler) SealedBuckets(globalWatermark int64) []SealedBucket {
	h.mu.Lock()
	defer h.mu.Unlock()
	var sealed []SealedBucket
	for key, b := range h.buckets {
		windowEnd := int64(key.windowID+1) * h.windowSize
		if windowEnd <= globalWatermark && !b.claimed.Load() {
			sealed = append(sealed, SealedBucket{WindowID: key.windowID, Partition: key.partition, Bucket: b})
		}
	}
	return sealed
}

// Remove drops a bucket after its probe has completed, releasing its
// build-side memory.
func (h *JoinHandler) Remove(windowID uint64, partition uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.buckets, joinBucketKey{windowID, partition})
}

// Start satisfies Handler.
func (h *JoinHandler) Start() error { return nil }

// Stop satisfies Handler, releasing all buckets on any termination
// type (joins carry no cross-termination-type drain obligation beyond
// freeing memory, unlike aggregation's merge-and-flush).
func (h *JoinHandler) Stop(t termination.Type) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buckets = make(map[joinBucketKey]*JoinBucket)
	return nil
}
