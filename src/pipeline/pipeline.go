package pipeline

import (
	"fmt"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/handler"
)

// Pipeline is a compiled operator chain shared by every worker thread
// executing the plan. Because multiple threads run different
// invocations of the same pipeline concurrently while
// operators carry per-invocation state (Emit's pending buffers, Scan's
// bound buffer), each invocation instantiates a fresh chain from the
// factory; all cross-invocation state lives behind handler indices in
// the shared registry.
type Pipeline struct {
	ID       uint64
	newChain func() Operator
}

// New creates a Pipeline from a chain factory. The factory must return
// a freshly built operator chain on every call.
func New(id uint64, newChain func() Operator) *Pipeline {
	return &Pipeline{ID: id, newChain: newChain}
}

// Setup runs the once-per-pipeline-instance Setup pass over a chain;
// operators may allocate handler state here.
func (p *Pipeline) Setup(ctx *ExecutionContext) error {
	return setupAll(p.newChain(), ctx)
}

// Terminate runs the Terminate pass on pipeline shutdown.
func (p *Pipeline) Terminate(ctx *ExecutionContext) error {
	return terminateAll(p.newChain(), ctx)
}

// Process drives one buffer through the pipeline: open top-down,
// execute per record, close bottom-up. The input buffer is never mutated; the caller's reference is
// released when Process returns.
func (p *Pipeline) Process(ctx *ExecutionContext, buf *buffer.TupleBuffer) error {
	defer buf.Release()

	root := p.newChain()
	scan, ok := root.(*Scan)
	if !ok {
		return fmt.Errorf("pipeline %d: chain root is %T, not a Scan", p.ID, root)
	}

	ctx.OriginID = buf.OriginID
	ctx.SequenceNumber = buf.SequenceNumber
	ctx.ChunkNumber = buf.ChunkNumber
	ctx.LastChunk = buf.LastChunk
	ctx.WatermarkTs = int64(buf.WatermarkTs)
	ctx.CreationTs = buf.CreationTs.UnixMilli()
	scan.Bind(buf, ctx)

	return p.invoke(ctx, root, func() error {
		for _, rec := range scan.Records(buf) {
			if err := scan.Execute(ctx, rec); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})
}

// ProcessMerge drives one aggregation slice-merge task through the
// probe chain.
func (p *Pipeline) ProcessMerge(ctx *ExecutionContext, task AggMergeTask) error {
	root := p.newChain()
	probe, ok := root.(*AggregationProbe)
	if !ok {
		return fmt.Errorf("pipeline %d: chain root is %T, not an AggregationProbe", p.ID, root)
	}
	return p.invoke(ctx, root, func() error { return probe.ProcessMerge(ctx, task) })
}

// ProcessJoin drives one claimed sealed join bucket through the probe
// chain.
func (p *Pipeline) ProcessJoin(ctx *ExecutionContext, sb handler.SealedBucket) error {
	root := p.newChain()
	probe, ok := root.(*JoinProbe)
	if !ok {
		return fmt.Errorf("pipeline %d: chain root is %T, not a JoinProbe", p.ID, root)
	}
	return p.invoke(ctx, root, func() error { return probe.ProcessJoin(ctx, sb) })
}

// invoke brackets body with the open/close passes and surfaces any
// error recorded on the context; close runs even when body fails so
// operators can release per-invocation resources.
func (p *Pipeline) invoke(ctx *ExecutionContext, root Operator, body func() error) error {
	if err := openTopDown(root, ctx); err != nil {
		return fmt.Errorf("pipeline %d: open: %w", p.ID, err)
	}
	bodyErr := body()
	closeErr := closeBottomUp(root, ctx)
	if bodyErr != nil {
		return fmt.Errorf("pipeline %d: execute: %w", p.ID, bodyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("pipeline %d: close: %w", p.ID, closeErr)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pipeline %d: %w", p.ID, err)
	}
	return nil
}
