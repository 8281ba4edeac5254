package handler

import (
	"hash/maphash"
	"sync"

	"github.com/nebulastream/runtime/src/termination"
)

// CountMinHandler is the statistic-sketch handler variant: a
// fixed-width count-min sketch over preallocated counter arrays with
// Add/EstimateCount.
type CountMinHandler struct {
	mu       sync.Mutex
	width    uint64
	depth    uint64
	counters [][]uint64
	seeds    []maphash.Seed
}

// NewCountMinHandler preallocates a depth x width counter matrix.
func NewCountMinHandler(width, depth uint64) *CountMinHandler {
	counters := make([][]uint64, depth)
	seeds := make([]maphash.Seed, depth)
	for i := range counters {
		counters[i] = make([]uint64, width)
		seeds[i] = maphash.MakeSeed()
	}
	return &CountMinHandler{width: width, depth: depth, counters: counters, seeds: seeds}
}

func (h *CountMinHandler) hashRow(row uint64, key string) uint64 {
	var mh maphash.Hash
	mh.SetSeed(h.seeds[row])
	_, _ = mh.WriteString(key)
	return mh.Sum64() % h.width
}

// Add increments the estimated count for key by delta.
func (h *CountMinHandler) Add(key string, delta uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for row := uint64(0); row < h.depth; row++ {
		col := h.hashRow(row, key)
		h.counters[row][col] += delta
	}
}

// EstimateCount returns the count-min estimate for key (the minimum
// across all rows, guaranteeing no under-count at the cost of possible
// over-count from hash collisions).
func (h *CountMinHandler) EstimateCount(key string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var min uint64 = ^uint64(0)
	for row := uint64(0); row < h.depth; row++ {
		col := h.hashRow(row, key)
		if v := h.counters[row][col]; v < min {
			min = v
		}
	}
	return min
}

// Start satisfies Handler.
func (h *CountMinHandler) Start() error { return nil }

// Stop satisfies Handler; sketches hold no externally-visible
// resources beyond the preallocated arrays, released with the
// handler itself.
func (h *CountMinHandler) Stop(t termination.Type) error { return nil }
