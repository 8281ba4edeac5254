package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/nebulastream/runtime/src/handler"
	"github.com/nebulastream/runtime/src/watermark"
	"github.com/nebulastream/runtime/src/window"
)

// AggKind enumerates the aggregation functions the build/probe pair
// supports.
type AggKind int

const (
	AggSum AggKind = iota
	AggCount
	AggMin
	AggMax
	AggAvg
)

// AggFunction describes one aggregate over an input field, emitted
// under the As name by the probe.
type AggFunction struct {
	Kind  AggKind
	Field string
	As    string
}

// numFold is the running numeric state for one aggregated field.
type numFold struct {
	Sum float64
	Min float64
	Max float64
}

// AggCell is the running state for one key within one slice: a record
// count plus one numeric fold per aggregated field.
type AggCell struct {
	Key   Record
	Count int64
	Folds map[string]*numFold
}

func (c *AggCell) foldFor(field string) *numFold {
	f, ok := c.Folds[field]
	if !ok {
		f = &numFold{Min: math.Inf(1), Max: math.Inf(-1)}
		c.Folds[field] = f
	}
	return f
}

// AggSliceState is a per-slice keyed hash map of aggregation cells
// keyed by the encoded key fields.
type AggSliceState struct {
	Cells map[string]*AggCell
}

// NewAggSliceState is the window.Store state factory for aggregations.
func NewAggSliceState(start, end int64) *AggSliceState {
	return &AggSliceState{Cells: make(map[string]*AggCell)}
}

// AggMergeTask is the slice-merge task instantiation aggregation
// pipelines exchange.
type AggMergeTask = window.MergeTask[*AggSliceState]

// EncodeKey derives the cell key from the record's key fields. The
// empty field list yields a single global cell.
func EncodeKey(rec Record, keyFields []string) string {
	if len(keyFields) == 0 {
		return ""
	}
	parts := make([]string, len(keyFields))
	for i, f := range keyFields {
		parts[i] = fmt.Sprint(rec[f])
	}
	return strings.Join(parts, "\x1f")
}

// AggregationBuild computes each record's time slice, locates (or
// creates) the thread-local slice, and folds the record into the
// keyed aggregation state. On close it advances the
// watermark processor with the buffer's metadata and emits a merge
// task per newly-completed slice range via EmitMerge.
type AggregationBuild struct {
	Base
	HandlerIndex  int
	TimeFn        TimeFunction
	SliceDuration int64
	KeyFields     []string
	Fns           []AggFunction

	// EmitMerge hands a completed merge task to the probe pipeline as
	// an internal queue task; wired by the plan at build time.
	EmitMerge func(task AggMergeTask) bool
}

func (b *AggregationBuild) Execute(ctx *ExecutionContext, rec Record) error {
	ts, err := b.TimeFn(rec, ctx)
	if err != nil {
		return err
	}
	h, err := aggHandlerOf(ctx, b.HandlerIndex)
	if err != nil {
		return err
	}
	store := h.StoreFor(ctx.WorkerThreadID)
	for _, sl := range store.GetSlicesOrCreate(ts, b.SliceDuration) {
		key := EncodeKey(rec, b.KeyFields)
		cell, ok := sl.State.Cells[key]
		if !ok {
			keyRec := make(Record, len(b.KeyFields))
			for _, f := range b.KeyFields {
				keyRec[f] = rec[f]
			}
			cell = &AggCell{Key: keyRec, Folds: make(map[string]*numFold)}
			sl.State.Cells[key] = cell
		}
		folded := make(map[string]bool, len(b.Fns))
		for _, fn := range b.Fns {
			if fn.Kind == AggCount || folded[fn.Field] {
				continue
			}
			folded[fn.Field] = true
			v, ok := asFloat64(rec[fn.Field])
			if !ok {
				return fmt.Errorf("pipeline: aggregation: field %q has non-numeric value %v", fn.Field, rec[fn.Field])
			}
			f := cell.foldFor(fn.Field)
			f.Sum += v
			if v < f.Min {
				f.Min = v
			}
			if v > f.Max {
				f.Max = v
			}
		}
		cell.Count++
	}
	return nil
}

// Close advances this origin's watermark and triggers slice staging;
// every newly-completed range becomes exactly one merge task,
// dispatched through EmitMerge.
func (b *AggregationBuild) Close(ctx *ExecutionContext) error {
	h, err := aggHandlerOf(ctx, b.HandlerIndex)
	if err != nil {
		return err
	}
	seq := watermark.SequenceData{
		SequenceNumber: ctx.SequenceNumber,
		ChunkNumber:    ctx.ChunkNumber,
		LastChunk:      ctx.LastChunk,
	}
	global := h.Watermark().Update(ctx.OriginID, seq, ctx.WatermarkTs)
	for _, task := range h.Trigger(global) {
		if b.EmitMerge != nil && !b.EmitMerge(task) {
			return fmt.Errorf("pipeline: aggregation: merge task for [%d,%d) rejected by queue", task.Start, task.End)
		}
	}
	return nil
}

// AggregationProbe merges the thread-local state fragments of one
// completed slice range and lowers each key's state into an output
// record.
type AggregationProbe struct {
	Base
	Fns []AggFunction

	// WindowStartField/WindowEndField, when non-empty, are added to
	// every output record.
	WindowStartField string
	WindowEndField   string
}

// Execute is unreachable: AggregationProbe is only ever driven as a
// pipeline root via ProcessMerge, never as a child in a per-record
// chain.
func (p *AggregationProbe) Execute(ctx *ExecutionContext, rec Record) error {
	return fmt.Errorf("pipeline: AggregationProbe.Execute is not supported; use ProcessMerge")
}

// ProcessMerge is invoked by the probe pipeline for one merge task.
func (p *AggregationProbe) ProcessMerge(ctx *ExecutionContext, task AggMergeTask) error {
	merged := make(map[string]*AggCell)
	for _, frag := range task.Fragments {
		for key, cell := range frag.Cells {
			m, ok := merged[key]
			if !ok {
				m = &AggCell{Key: cell.Key, Folds: make(map[string]*numFold)}
				merged[key] = m
			}
			m.Count += cell.Count
			for field, f := range cell.Folds {
				mf := m.foldFor(field)
				mf.Sum += f.Sum
				if f.Min < mf.Min {
					mf.Min = f.Min
				}
				if f.Max > mf.Max {
					mf.Max = f.Max
				}
			}
		}
	}

	for _, cell := range merged {
		rec := cell.Key.Clone()
		for _, fn := range p.Fns {
			if fn.Kind == AggCount {
				rec[fn.As] = cell.Count
				continue
			}
			f := cell.foldFor(fn.Field)
			switch fn.Kind {
			case AggSum:
				rec[fn.As] = f.Sum
			case AggMin:
				rec[fn.As] = f.Min
			case AggMax:
				rec[fn.As] = f.Max
			case AggAvg:
				rec[fn.As] = f.Sum / float64(cell.Count)
			}
		}
		if p.WindowStartField != "" {
			rec[p.WindowStartField] = task.Start
		}
		if p.WindowEndField != "" {
			rec[p.WindowEndField] = task.End
		}
		if err := p.ExecuteChild(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func aggHandlerOf(ctx *ExecutionContext, i int) (*handler.AggregationHandler[*AggSliceState], error) {
	h, err := ctx.GetGlobalOperatorHandler(i)
	if err != nil {
		return nil, err
	}
	ah, ok := h.(*handler.AggregationHandler[*AggSliceState])
	if !ok {
		return nil, fmt.Errorf("pipeline: handler index %d is %T, not an aggregation handler", i, h)
	}
	return ah, nil
}
