package buffer

import (
	"fmt"
	"sync/atomic"
	"time"
)

// VariableSizedAccess identifies a location inside a child buffer,
// optionally length-prefixed.
type VariableSizedAccess struct {
	ChildIndex int
	Offset     uint32
}

// TupleBuffer is a reference-counted, fixed-capacity contiguous byte
// region plus an ordered list of child buffers for variable-sized
// payloads. A TupleBuffer is exclusively owned by its
// last reference holder; Release must be called exactly once per
// Retain (including the implicit first reference returned by the
// manager).
type TupleBuffer struct {
	memArea        []byte
	bufferSize     uint32
	numberOfTuples uint32
	usedMemorySize uint32

	SequenceNumber uint64
	ChunkNumber    uint32
	LastChunk      bool
	OriginID       uint64
	WatermarkTs    uint64
	CreationTs     time.Time

	children []*TupleBuffer

	refCount *int32
	pooled   bool
	manager  *Manager
}

// MemArea returns the fixed-capacity byte region backing this buffer.
// Callers must not grow or re-slice beyond BufferSize.
func (b *TupleBuffer) MemArea() []byte { return b.memArea }

// BufferSize returns the fixed capacity of the buffer in bytes.
func (b *TupleBuffer) BufferSize() uint32 { return b.bufferSize }

// NumberOfTuples returns the row count currently written into the buffer.
func (b *TupleBuffer) NumberOfTuples() uint32 { return atomic.LoadUint32(&b.numberOfTuples) }

// SetNumberOfTuples is writable only by the single thread currently
// mutating the buffer; callers must not call
// this concurrently with another writer on the same buffer.
func (b *TupleBuffer) SetNumberOfTuples(n uint32) { atomic.StoreUint32(&b.numberOfTuples, n) }

// UsedMemorySize returns how many bytes of memArea are in use.
func (b *TupleBuffer) UsedMemorySize() uint32 { return b.usedMemorySize }

// SetUsedMemorySize records how many bytes of memArea are in use.
func (b *TupleBuffer) SetUsedMemorySize(n uint32) { b.usedMemorySize = n }

// Retain increments the reference count. Every Retain must be matched
// by a Release.
func (b *TupleBuffer) Retain() {
	atomic.AddInt32(b.refCount, 1)
}

// Release decrements the reference count. On reaching zero, child
// buffers are released and the buffer itself is returned to its pool
// (pooled) or discarded (unpooled).
func (b *TupleBuffer) Release() {
	if atomic.AddInt32(b.refCount, -1) != 0 {
		return
	}
	for _, c := range b.children {
		c.Release()
	}
	b.children = nil
	if b.manager != nil {
		b.manager.reclaim(b)
	}
}

// ChildCount returns the number of child buffers currently attached.
func (b *TupleBuffer) ChildCount() int { return len(b.children) }

// StoreChildBuffer appends child to parent's child list, transferring
// ownership of the reference child currently holds, and returns its
// index.
func (b *TupleBuffer) StoreChildBuffer(child *TupleBuffer) int {
	b.children = append(b.children, child)
	return len(b.children) - 1
}

// LoadChildBuffer returns a new reference to the child buffer at idx.
func (b *TupleBuffer) LoadChildBuffer(idx int) (*TupleBuffer, error) {
	if idx < 0 || idx >= len(b.children) {
		return nil, fmt.Errorf("buffer: child index %d out of range [0,%d)", idx, len(b.children))
	}
	c := b.children[idx]
	c.Retain()
	return c, nil
}

// reset clears per-use fields before a pooled buffer re-enters the pool.
func (b *TupleBuffer) reset() {
	b.numberOfTuples = 0
	b.usedMemorySize = 0
	b.SequenceNumber = 0
	b.ChunkNumber = 0
	b.LastChunk = false
	b.OriginID = 0
	b.WatermarkTs = 0
	b.CreationTs = time.Time{}
	b.children = nil
	*b.refCount = 1
}
