// Package source defines the producer contract the runtime accepts
// external data through, plus the runner that pumps a source's
// buffers into the task queue as admission tasks. Physical source
// implementations beyond this contract are external collaborators.
package source

import (
	"context"

	"github.com/nebulastream/runtime/src/buffer"
)

// Source is the contract a physical source implements: Open, Close,
// and FillBuffer writing raw bytes into the buffer's memory area.
// End-of-stream is signaled by returning 0 bytes written. The source
// may set the buffer's WatermarkTs and NumberOfTuples; the runner
// assigns OriginID, SequenceNumber, and CreationTs.
type Source interface {
	Open() error
	Close() error
	FillBuffer(ioBuf *buffer.TupleBuffer, ctx context.Context) (int, error)
}
