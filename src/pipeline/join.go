package pipeline

import (
	"fmt"
	"hash/maphash"

	"github.com/nebulastream/runtime/src/handler"
	"github.com/nebulastream/runtime/src/watermark"
)

// JoinEntry is one build-side tuple stored in a join bucket.
type JoinEntry struct {
	Key string
	Rec Record
}

var joinSeed = maphash.MakeSeed()

func joinPartition(key string, numPartitions uint32) uint32 {
	if numPartitions <= 1 {
		return 0
	}
	var h maphash.Hash
	h.SetSeed(joinSeed)
	_, _ = h.WriteString(key)
	return uint32(h.Sum64() % uint64(numPartitions))
}

// JoinBuild stores one side's tuples into the join handler's
// (window, partition) buckets, keyed by the join key. On close it
// advances the shared watermark and claims newly-sealed buckets,
// handing each to the probe pipeline via EmitProbe.
type JoinBuild struct {
	Base
	HandlerIndex  int
	Side          handler.JoinSide
	TimeFn        TimeFunction
	KeyFields     []string
	NumPartitions uint32

	// EmitProbe hands one claimed sealed bucket to the probe pipeline
	// as an internal queue task; wired by the plan at build time.
	EmitProbe func(sb handler.SealedBucket) bool
}

func (b *JoinBuild) Execute(ctx *ExecutionContext, rec Record) error {
	ts, err := b.TimeFn(rec, ctx)
	if err != nil {
		return err
	}
	h, err := joinHandlerOf(ctx, b.HandlerIndex)
	if err != nil {
		return err
	}
	windowID := uint64(ts / h.WindowSize())
	key := EncodeKey(rec, b.KeyFields)
	partition := joinPartition(key, b.NumPartitions)
	h.GetBucket(windowID, partition).Append(b.Side, JoinEntry{Key: key, Rec: rec})
	return nil
}

// Close advances this side's origins in the shared watermark processor
// and claims every newly-sealed bucket; the unique claim winner emits
// the probe task.
func (b *JoinBuild) Close(ctx *ExecutionContext) error {
	h, err := joinHandlerOf(ctx, b.HandlerIndex)
	if err != nil {
		return err
	}
	seq := watermark.SequenceData{
		SequenceNumber: ctx.SequenceNumber,
		ChunkNumber:    ctx.ChunkNumber,
		LastChunk:      ctx.LastChunk,
	}
	global := h.Watermark().Update(ctx.OriginID, seq, ctx.WatermarkTs)
	for _, sb := range h.SealedBuckets(global) {
		if !sb.Bucket.Claim() {
			continue
		}
		if b.EmitProbe != nil && !b.EmitProbe(sb) {
			return fmt.Errorf("pipeline: join: probe task for window %d rejected by queue", sb.WindowID)
		}
	}
	return nil
}

// JoinProbe emits the matches of one sealed (window, partition) bucket:
// for every left/right entry pair with equal join keys, the merged
// record is forwarded downstream.
type JoinProbe struct {
	Base
	HandlerIndex int

	// WindowStartField/WindowEndField, when non-empty, are added to
	// every output record.
	WindowStartField string
	WindowEndField   string
}

// Execute is unreachable: JoinProbe is only ever driven as a pipeline
// root via ProcessJoin, never as a child in a per-record chain.
func (p *JoinProbe) Execute(ctx *ExecutionContext, rec Record) error {
	return fmt.Errorf("pipeline: JoinProbe.Execute is not supported; use ProcessJoin")
}

// ProcessJoin is invoked by the probe pipeline for one claimed bucket.
func (p *JoinProbe) ProcessJoin(ctx *ExecutionContext, sb handler.SealedBucket) error {
	h, err := joinHandlerOf(ctx, p.HandlerIndex)
	if err != nil {
		return err
	}
	left, right := sb.Bucket.Entries()

	byKey := make(map[string][]Record, len(left))
	for _, e := range left {
		entry, ok := e.(JoinEntry)
		if !ok {
			return fmt.Errorf("pipeline: join: unexpected bucket entry type %T", e)
		}
		byKey[entry.Key] = append(byKey[entry.Key], entry.Rec)
	}

	windowStart := int64(sb.WindowID) * h.WindowSize()
	windowEnd := windowStart + h.WindowSize()
	for _, e := range right {
		entry, ok := e.(JoinEntry)
		if !ok {
			return fmt.Errorf("pipeline: join: unexpected bucket entry type %T", e)
		}
		for _, l := range byKey[entry.Key] {
			merged := l.Clone()
			for k, v := range entry.Rec {
				merged[k] = v
			}
			if p.WindowStartField != "" {
				merged[p.WindowStartField] = windowStart
			}
			if p.WindowEndField != "" {
				merged[p.WindowEndField] = windowEnd
			}
			if err := p.ExecuteChild(ctx, merged); err != nil {
				return err
			}
		}
	}

	h.Remove(sb.WindowID, sb.Partition)
	return nil
}

func joinHandlerOf(ctx *ExecutionContext, i int) (*handler.JoinHandler, error) {
	h, err := ctx.GetGlobalOperatorHandler(i)
	if err != nil {
		return nil, err
	}
	jh, ok := h.(*handler.JoinHandler)
	if !ok {
		return nil, fmt.Errorf("pipeline: handler index %d is %T, not a join handler", i, h)
	}
	return jh, nil
}
