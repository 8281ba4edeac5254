// Package buffer implements the tuple buffer and buffer manager:
// reference-counted fixed-size memory regions plus child buffers for
// variable-sized payloads, with pooled and unpooled allocation paths.
package buffer

import (
	"context"
	"sync/atomic"

	"github.com/nebulastream/runtime/src/logging"
)

// Metrics tracks pool-wide allocation activity.
type Metrics struct {
	PooledCreated    int64
	PooledAcquired   int64
	PooledReleased   int64
	UnpooledAcquired int64
	UnpooledReleased int64
	UnpooledInUse    int64
	UnpooledBytes    int64
}

// Config configures a Manager.
type Config struct {
	BufferSize                  uint32
	NumberOfBuffersInGlobalPool int
	MaxUnpooledBytes            int64 // 0 means unbounded
}

// Manager is the buffer pool: a fixed number of uniformly sized pooled
// buffers plus an independent unpooled allocator for oversized child
// buffers.
type Manager struct {
	cfg    Config
	logger logging.Logger

	pool chan *TupleBuffer

	unpooledUsed int64 // atomic
	metrics      metricsState
}

type metricsState struct {
	pooledCreated    int64
	pooledAcquired   int64
	pooledReleased   int64
	unpooledAcquired int64
	unpooledReleased int64
}

// NewManager preallocates cfg.NumberOfBuffersInGlobalPool pooled
// buffers of cfg.BufferSize bytes each.
func NewManager(cfg Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger.With("buffer.Manager"),
		pool:   make(chan *TupleBuffer, cfg.NumberOfBuffersInGlobalPool),
	}
	for i := 0; i < cfg.NumberOfBuffersInGlobalPool; i++ {
		m.pool <- m.newPooledBuffer()
	}
	m.logger.Info("buffer pool initialized", "buffers", cfg.NumberOfBuffersInGlobalPool, "bufferSize", cfg.BufferSize)
	return m
}

func (m *Manager) newPooledBuffer() *TupleBuffer {
	rc := int32(1)
	atomic.AddInt64(&m.metrics.pooledCreated, 1)
	return &TupleBuffer{
		memArea:    make([]byte, m.cfg.BufferSize),
		bufferSize: m.cfg.BufferSize,
		refCount:   &rc,
		pooled:     true,
		manager:    m,
	}
}

// GetBufferBlocking waits for a free pooled buffer until one is
// available or ctx is done. ctx acts as the cooperative stop token.
func (m *Manager) GetBufferBlocking(ctx context.Context) (*TupleBuffer, error) {
	select {
	case b := <-m.pool:
		atomic.AddInt64(&m.metrics.pooledAcquired, 1)
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetBufferNoBlocking returns (nil, false) immediately if the pool is
// exhausted, instead of waiting.
func (m *Manager) GetBufferNoBlocking() (*TupleBuffer, bool) {
	select {
	case b := <-m.pool:
		atomic.AddInt64(&m.metrics.pooledAcquired, 1)
		return b, true
	default:
		return nil, false
	}
}

// GetUnpooledBuffer allocates a buffer of exactly size bytes from the
// direct allocator, used for child buffers whose size exceeds the
// pool's uniform buffer size. Returns
// ErrCannotAllocateBuffer if this would exceed MaxUnpooledBytes.
func (m *Manager) GetUnpooledBuffer(size uint32) (*TupleBuffer, error) {
	if m.cfg.MaxUnpooledBytes > 0 {
		next := atomic.AddInt64(&m.unpooledUsed, int64(size))
		if next > m.cfg.MaxUnpooledBytes {
			atomic.AddInt64(&m.unpooledUsed, -int64(size))
			return nil, &ErrCannotAllocateBuffer{Requested: size, InUse: next - int64(size), Max: m.cfg.MaxUnpooledBytes}
		}
	} else {
		atomic.AddInt64(&m.unpooledUsed, int64(size))
	}

	rc := int32(1)
	atomic.AddInt64(&m.metrics.unpooledAcquired, 1)
	return &TupleBuffer{
		memArea:    make([]byte, size),
		bufferSize: size,
		refCount:   &rc,
		pooled:     false,
		manager:    m,
	}, nil
}

// reclaim is invoked by TupleBuffer.Release when the last reference
// drops. Pooled buffers are reset and returned to the ring; unpooled
// buffers simply give back their byte budget.
func (m *Manager) reclaim(b *TupleBuffer) {
	if b.pooled {
		b.reset()
		atomic.AddInt64(&m.metrics.pooledReleased, 1)
		select {
		case m.pool <- b:
		default:
			// Pool channel is sized to exactly the number of buffers it
			// created; this path is unreachable under correct usage.
			m.logger.Warn("pooled buffer dropped: pool at capacity on release")
		}
		return
	}
	atomic.AddInt64(&m.unpooledUsed, -int64(b.bufferSize))
	atomic.AddInt64(&m.metrics.unpooledReleased, 1)
}

// Metrics returns a snapshot of pool activity counters.
func (m *Manager) Metrics() Metrics {
	return Metrics{
		PooledCreated:    atomic.LoadInt64(&m.metrics.pooledCreated),
		PooledAcquired:   atomic.LoadInt64(&m.metrics.pooledAcquired),
		PooledReleased:   atomic.LoadInt64(&m.metrics.pooledReleased),
		UnpooledAcquired: atomic.LoadInt64(&m.metrics.unpooledAcquired),
		UnpooledReleased: atomic.LoadInt64(&m.metrics.unpooledReleased),
		UnpooledInUse:    atomic.LoadInt64(&m.unpooledUsed),
	}
}

// AvailablePooled returns how many pooled buffers are currently free,
// for diagnostics and tests.
func (m *Manager) AvailablePooled() int { return len(m.pool) }
