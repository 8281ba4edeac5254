package source

import (
	"context"
	"fmt"
	"time"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/logging"
	"github.com/nebulastream/runtime/src/pipeline"
	"github.com/nebulastream/runtime/src/queue"
	"github.com/nebulastream/runtime/src/worker"
)

// Runner pumps one source into the task queue: acquire a buffer from
// the source-local pool, fill it, stamp origin/sequence metadata, and
// enqueue it as an admission task for the target pipeline. One Runner
// per source; each runner is one producing origin.
type Runner struct {
	OriginID uint64
	Source   Source
	Pool     *buffer.Manager // source-local pool
	Queue    *queue.Queue[worker.Task]
	Target   *pipeline.Pipeline

	// OnEndOfStream is invoked exactly once when the source signals
	// end-of-stream or the stop token fires; the plan decrements its
	// producer counter here.
	OnEndOfStream func()

	Logger logging.Logger
}

// Run drives the pump loop until end-of-stream, source error, or stop.
// It is intended to be launched on its own goroutine per source.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("source.Runner")

	defer func() {
		if r.OnEndOfStream != nil {
			r.OnEndOfStream()
		}
	}()

	if err := r.Source.Open(); err != nil {
		return fmt.Errorf("source %d: open: %w", r.OriginID, err)
	}
	defer r.Source.Close()

	seq := uint64(0)
	for {
		buf, err := r.Pool.GetBufferBlocking(ctx)
		if err != nil {
			return nil // stop requested while waiting for a buffer
		}

		n, err := r.Source.FillBuffer(buf, ctx)
		if err != nil {
			buf.Release()
			return fmt.Errorf("source %d: fill: %w", r.OriginID, err)
		}
		if n == 0 {
			buf.Release()
			logger.Info("source end of stream", "originId", r.OriginID, "buffers", seq)
			return nil
		}

		seq++
		buf.OriginID = r.OriginID
		buf.SequenceNumber = seq
		buf.ChunkNumber = 1
		buf.LastChunk = true
		buf.CreationTs = time.Now()
		buf.SetUsedMemorySize(uint32(n))

		if !r.Queue.AddAdmissionTaskBlocking(ctx, worker.Task{Pipeline: r.Target, Buffer: buf}) {
			buf.Release()
			return nil // stop requested while back-pressured
		}
	}
}
