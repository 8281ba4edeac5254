// Package watermark implements the watermark processor: a monotone
// merge of per-origin watermarks into a single global watermark,
// reconstructing order from out-of-order per-origin arrivals.
package watermark

import (
	"container/heap"
	"math"
	"sync"
)

// SequenceData identifies one arrival within an origin's sequence
// space, ordered lexicographically by (SequenceNumber, ChunkNumber).
type SequenceData struct {
	SequenceNumber uint64
	ChunkNumber    uint32
	LastChunk      bool
}

func (a SequenceData) less(b SequenceData) bool {
	if a.SequenceNumber != b.SequenceNumber {
		return a.SequenceNumber < b.SequenceNumber
	}
	return a.ChunkNumber < b.ChunkNumber
}

// MaxTimestamp models origin termination: a synthetic update with this
// timestamp always advances an origin's in-order watermark to the end
// of time.
const MaxTimestamp int64 = math.MaxInt64

type pendingEntry struct {
	seq SequenceData
	ts  int64
}

// pendingHeap orders pending arrivals for one origin by SequenceData.
type pendingHeap []pendingEntry

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].seq.less(h[j].seq) }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(pendingEntry)) }
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type originState struct {
	nextExpectedSeq SequenceData
	latestInOrderTs int64
	pending         pendingHeap
	terminated      bool
}

// Processor merges watermark updates from multiple origins into a
// single monotone global watermark.
type Processor struct {
	mu      sync.Mutex
	origins map[uint64]*originState
	global  int64
}

// New creates a Processor seeded with the given known origin ids
//; origins may also be discovered
// lazily on first Update.
func New(originIDs []uint64) *Processor {
	p := &Processor{origins: make(map[uint64]*originState, len(originIDs))}
	for _, id := range originIDs {
		p.origins[id] = &originState{nextExpectedSeq: SequenceData{SequenceNumber: 1}}
	}
	return p
}

func (p *Processor) stateFor(originID uint64) *originState {
	st, ok := p.origins[originID]
	if !ok {
		st = &originState{nextExpectedSeq: SequenceData{SequenceNumber: 1}}
		p.origins[originID] = st
	}
	return st
}

// Update records an arrival (originId, seq, ts) and returns the
// resulting global watermark = min over origins of their latest
// in-order timestamp.
func (p *Processor) Update(originID uint64, seq SequenceData, ts int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.stateFor(originID)
	heap.Push(&st.pending, pendingEntry{seq: seq, ts: ts})

	for st.pending.Len() > 0 &&
		st.pending[0].seq.SequenceNumber == st.nextExpectedSeq.SequenceNumber &&
		st.pending[0].seq.ChunkNumber == st.nextExpectedSeq.ChunkNumber {
		entry := heap.Pop(&st.pending).(pendingEntry)
		st.latestInOrderTs = entry.ts
		if entry.seq.LastChunk {
			st.nextExpectedSeq = SequenceData{SequenceNumber: entry.seq.SequenceNumber + 1, ChunkNumber: 0}
		} else {
			st.nextExpectedSeq = SequenceData{SequenceNumber: entry.seq.SequenceNumber, ChunkNumber: entry.seq.ChunkNumber + 1}
		}
	}

	return p.recomputeGlobalLocked()
}

// Terminate models origin end-of-stream: a synthetic update with
// ts = MaxTimestamp
func (p *Processor) Terminate(originID uint64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.stateFor(originID)
	st.terminated = true
	st.latestInOrderTs = MaxTimestamp
	return p.recomputeGlobalLocked()
}

func (p *Processor) recomputeGlobalLocked() int64 {
	min := MaxTimestamp
	for _, st := range p.origins {
		if st.latestInOrderTs < min {
			min = st.latestInOrderTs
		}
	}
	if min > p.global {
		p.global = min
	}
	return p.global
}

// Global returns the current global watermark without recording an
// update.
func (p *Processor) Global() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.global
}

// PendingCount reports the number of buffered out-of-order arrivals
// for diagnostics/tests.
func (p *Processor) PendingCount(originID uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.origins[originID]
	if !ok {
		return 0
	}
	return st.pending.Len()
}
