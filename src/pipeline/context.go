package pipeline

import (
	"context"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/handler"
)

// ExecutionContext is threaded through every operator entry point for
// one buffer invocation.
type ExecutionContext struct {
	Ctx context.Context

	// Per-invocation metadata, set by Pipeline.Process from the input
	// buffer.
	OriginID       uint64
	SequenceNumber uint64
	ChunkNumber    uint32
	LastChunk      bool
	WatermarkTs    int64
	CreationTs     int64

	// WorkerThreadID identifies the worker driving this invocation,
	// used to select thread-local slice stores.
	WorkerThreadID int

	// Handlers is the plan-scoped registry; operators resolve their
	// handler state via GetGlobalOperatorHandler.
	Handlers *handler.Registry

	// Buffers is the pipeline memory provider used by Emit to acquire
	// output buffers.
	Buffers *buffer.Manager

	// NextOutputSeq allocates monotone per-origin output sequence
	// numbers, shared by every pipeline invocation producing output for
	// the same origin.
	NextOutputSeq func(originID uint64) uint64

	err error
}

// GetGlobalOperatorHandler resolves handler index i against the
// plan-scoped registry.
func (ec *ExecutionContext) GetGlobalOperatorHandler(i int) (handler.Handler, error) {
	return ec.Handlers.Get(i)
}

// Fail records an operator error, aborting the current task; the
// pipeline's Close observes it and propagates it to the plan.
func (ec *ExecutionContext) Fail(err error) { ec.err = err }

// Err returns the first error recorded via Fail, or nil.
func (ec *ExecutionContext) Err() error { return ec.err }
