// Command nebula-runtime wires the runtime execution substrate into a
// runnable demo: a generator source feeding a keyed tumbling-window
// aggregation, drained gracefully, with the window results printed at
// the end.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/config"
	"github.com/nebulastream/runtime/src/handler"
	"github.com/nebulastream/runtime/src/lifecycle"
	"github.com/nebulastream/runtime/src/logging"
	"github.com/nebulastream/runtime/src/pipeline"
	"github.com/nebulastream/runtime/src/queue"
	"github.com/nebulastream/runtime/src/sink"
	"github.com/nebulastream/runtime/src/source"
	"github.com/nebulastream/runtime/src/worker"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
)

func main() {
	var (
		configPath  string
		interactive bool
		records     uint64
		verbose     bool
	)

	root := &cobra.Command{
		Use:   "nebula-runtime",
		Short: "Run a demo query on the stream runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if interactive {
				if err := promptConfig(cfg); err != nil {
					return err
				}
			}
			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			return run(cfg, records, logging.New(os.Stderr, level))
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for config values")
	root.Flags().Uint64VarP(&records, "records", "n", 100_000, "records to generate")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := root.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func promptConfig(cfg *config.Config) error {
	questions := []*survey.Question{
		{
			Name:   "workers",
			Prompt: &survey.Input{Message: "Worker threads:", Default: fmt.Sprint(cfg.NumberOfWorkerThreads)},
		},
		{
			Name:   "queueCapacity",
			Prompt: &survey.Input{Message: "Task queue capacity:", Default: fmt.Sprint(cfg.TaskQueueCapacity)},
		},
	}
	answers := struct {
		Workers       int
		QueueCapacity int
	}{}
	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}
	if answers.Workers < 1 || answers.QueueCapacity < 1 {
		return fmt.Errorf("worker threads and queue capacity must be >= 1")
	}
	cfg.NumberOfWorkerThreads = uint(answers.Workers)
	cfg.TaskQueueCapacity = uint(answers.QueueCapacity)
	return cfg.Validate()
}

func run(cfg *config.Config, records uint64, logger logging.Logger) error {
	fmt.Println(titleStyle.Render("nebula-runtime demo: keyed tumbling-window sum"))

	inSchema, err := buffer.NewSchema([]buffer.Field{
		{Name: "ts", Type: buffer.Int64},
		{Name: "key", Type: buffer.Int32},
		{Name: "value", Type: buffer.Int64},
	}, "key")
	if err != nil {
		return err
	}
	outSchema, err := buffer.NewSchema([]buffer.Field{
		{Name: "key", Type: buffer.Int32},
		{Name: "sum", Type: buffer.Float64},
		{Name: "windowStart", Type: buffer.Int64},
		{Name: "windowEnd", Type: buffer.Int64},
	})
	if err != nil {
		return err
	}

	globalPool := buffer.NewManager(buffer.Config{
		BufferSize:                  cfg.BufferSize,
		NumberOfBuffersInGlobalPool: int(cfg.NumberOfBuffersInGlobalPool),
	}, logger)
	sourcePool := buffer.NewManager(buffer.Config{
		BufferSize:                  cfg.BufferSize,
		NumberOfBuffersInGlobalPool: int(cfg.NumberOfBuffersInSourceLocalPool),
	}, logger)

	inLayout := buffer.NewMemoryLayout(inSchema, buffer.RowMajor, cfg.BufferSize)
	outLayout := buffer.NewMemoryLayout(outSchema, buffer.RowMajor, cfg.BufferSize)

	q := queue.New[worker.Task](queue.Config{
		AdmissionCapacity: int(cfg.TaskQueueCapacity),
		InternalCapacity:  int(cfg.TaskQueueCapacity),
	}, logger)
	registry := handler.NewRegistry()
	pool := worker.NewPool(worker.Config{NumberOfWorkerThreads: int(cfg.NumberOfWorkerThreads)}, q, globalPool, registry, logger)

	const windowSize = 1_000 // ms of event time per window
	aggHandler := handler.NewAggregationHandler(int(cfg.NumberOfWorkerThreads), pipeline.NewAggSliceState, nil)
	aggIndex := registry.Register(aggHandler)

	memSink := sink.NewMemory(outSchema, outLayout)

	fns := []pipeline.AggFunction{{Kind: pipeline.AggSum, Field: "value", As: "sum"}}

	var probePipeline *pipeline.Pipeline
	probePipeline = pipeline.New(2, func() pipeline.Operator {
		probe := &pipeline.AggregationProbe{
			Fns:              fns,
			WindowStartField: "windowStart",
			WindowEndField:   "windowEnd",
		}
		probe.AddChild(pipeline.NewEmit(outSchema, outLayout, sink.Dispatch(memSink)))
		return probe
	})

	emitMergeTask := func(task pipeline.AggMergeTask) bool {
		return q.AddInternalTaskNonBlocking(worker.Task{Fn: func(ec *pipeline.ExecutionContext) error {
			if err := probePipeline.ProcessMerge(ec, task); err != nil {
				return err
			}
			for _, frag := range task.Fragments {
				aggHandler.Cleanup(frag)
			}
			return nil
		}})
	}

	buildPipeline := pipeline.New(1, func() pipeline.Operator {
		scan := pipeline.NewScan(inLayout, inSchema)
		build := &pipeline.AggregationBuild{
			HandlerIndex:  aggIndex,
			TimeFn:        pipeline.EventTime("ts"),
			SliceDuration: windowSize,
			KeyFields:     []string{"key"},
			Fns:           fns,
			EmitMerge: func(task pipeline.AggMergeTask) bool { return emitMergeTask(task) },
		}
		scan.AddChild(build)
		return scan
	})

	plan := lifecycle.NewPlan(1, 1, []*pipeline.Pipeline{buildPipeline, probePipeline}, registry, pool, logger)
	plan.AttachProducer()
	plan.AddDrainHook(func() {
		for _, task := range aggHandler.Drain() {
			emitMergeTask(task)
		}
	})

	if err := plan.Setup(); err != nil {
		return err
	}
	if err := plan.Start(context.Background()); err != nil {
		return err
	}
	fmt.Println(statusStyle.Render(fmt.Sprintf("plan %s with %d workers", plan.Status(), cfg.NumberOfWorkerThreads)))

	gen := &source.Generator{
		Schema: inSchema,
		Layout: inLayout,
		Next: func(i uint64) pipeline.Record {
			if i >= records {
				return nil
			}
			return pipeline.Record{
				"ts":    int64(i / 10), // monotone event time, 10 records per ms
				"key":   int32(i % 16),
				"value": int64(1),
			}
		},
		WatermarkFor: func(last uint64) uint64 { return last / 10 },
	}
	runner := &source.Runner{
		OriginID:      1,
		Source:        gen,
		Pool:          sourcePool,
		Queue:         q,
		Target:        buildPipeline,
		OnEndOfStream: plan.OnEndOfStream,
		Logger:        logger,
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("streaming"),
		progressbar.OptionSpinnerType(14),
	)
	start := time.Now()
	go func() {
		for plan.Status() == lifecycle.Running {
			_ = bar.Add(1)
			time.Sleep(50 * time.Millisecond)
		}
	}()

	if err := runner.Run(context.Background()); err != nil {
		plan.Fail(err)
	}

	result := <-plan.Result()
	_ = bar.Finish()
	fmt.Println()

	if result != lifecycle.Ok {
		return fmt.Errorf("plan terminated with error: %v", plan.Err())
	}

	recs := memSink.Records()
	sort.Slice(recs, func(i, j int) bool {
		if recs[i]["windowStart"] != recs[j]["windowStart"] {
			return recs[i]["windowStart"].(int64) < recs[j]["windowStart"].(int64)
		}
		return recs[i]["key"].(int32) < recs[j]["key"].(int32)
	})

	color.Green("done in %s: %d records in, %d window results out", time.Since(start).Round(time.Millisecond), records, len(recs))
	shown := 0
	for _, rec := range recs {
		if shown >= 10 {
			color.Yellow("... %d more", len(recs)-shown)
			break
		}
		fmt.Printf("  window [%d,%d) key=%d sum=%.0f\n",
			rec["windowStart"], rec["windowEnd"], rec["key"], rec["sum"])
		shown++
	}
	return nil
}
