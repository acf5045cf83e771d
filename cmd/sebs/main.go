// Package main provides the CLI entry point for sebs, a harness that runs
// serverless benchmark workloads and measures each stage of every
// invocation.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/samuelchassot/serverless-benchmarks/config"
	"github.com/samuelchassot/serverless-benchmarks/functions"
	"github.com/samuelchassot/serverless-benchmarks/harness"
	"github.com/samuelchassot/serverless-benchmarks/queue"
	"github.com/samuelchassot/serverless-benchmarks/report"
	"github.com/samuelchassot/serverless-benchmarks/server"
	"github.com/samuelchassot/serverless-benchmarks/storage"
	"github.com/samuelchassot/serverless-benchmarks/store"
	"github.com/samuelchassot/serverless-benchmarks/workload"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries what every subcommand shares once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	logJSON    bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "sebs",
		Short: "Serverless benchmark harness",
		Long: `Sebs runs serverless benchmark workloads (video processing, compression,
image recognition, graph MST) through a common harness that downloads the
input, runs the operation, uploads the output and reports how long each
stage took.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "",
		"Path to YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	flags.BoolVar(&a.logJSON, "log-json", false,
		"Log as JSON instead of text")

	root.AddCommand(
		newInvokeCmd(a),
		newGenerateCmd(a),
		newReplayCmd(a),
		newServeCmd(a),
		newWorkerCmd(a),
		newReportCmd(a),
		newListCmd(a),
	)

	return root
}

func (a *app) init() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	if a.logJSON {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	} else {
		a.logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a.cfg = cfg

	return nil
}

// storage returns the configured backend. It connects on first use, so
// commands that never transfer never dial.
func (a *app) storage() storage.Client {
	cfg := a.cfg.Storage

	return storage.NewLazy(func(ctx context.Context) (storage.Client, error) {
		a.logger.Debug("opening storage backend", slog.String("backend", cfg.Backend))

		switch cfg.Backend {
		case "s3":
			return storage.NewS3(ctx, storage.S3Options{
				Region:    cfg.S3.Region,
				Endpoint:  cfg.S3.Endpoint,
				PathStyle: cfg.S3.PathStyle,
			})
		case "memory":
			return storage.NewMemory(), nil
		default:
			return storage.NewLocal(cfg.Root), nil
		}
	})
}

func (a *app) harnesses() ([]harness.Benchmark, map[string]*harness.Harness, error) {
	objects := a.storage()

	benchmarks, err := functions.Catalog(functions.Tools{
		Dir:        a.cfg.Tools.Dir,
		FFmpeg:     a.cfg.Tools.FFmpeg,
		Watermark:  a.cfg.Tools.Watermark,
		Classifier: a.cfg.Tools.Classifier,
		ClassIndex: a.cfg.Tools.ClassIndex,
		ModelDir:   a.cfg.ModelDir,
	}, objects, harness.NewExecRunner(a.logger), a.logger)
	if err != nil {
		return nil, nil, err
	}

	hs, err := functions.Harnesses(benchmarks, objects, harness.Options{
		ScratchDir:  a.cfg.ScratchDir,
		KeepScratch: a.cfg.KeepScratch,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, nil, err
	}

	return benchmarks, hs, nil
}

func (a *app) harness(name string) (*harness.Harness, error) {
	_, hs, err := a.harnesses()
	if err != nil {
		return nil, err
	}

	h, ok := hs[name]
	if !ok {
		return nil, fmt.Errorf("unknown benchmark %q", name)
	}

	return h, nil
}

func (a *app) results(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, a.cfg.Results.Driver, a.cfg.Results.DSN)
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func newInvokeCmd(a *app) *cobra.Command {
	var (
		eventPath string
		record    bool
	)

	cmd := &cobra.Command{
		Use:   "invoke <benchmark>",
		Short: "Run one invocation and print its envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			h, err := a.harness(args[0])
			if err != nil {
				return err
			}

			data, err := readInput(eventPath)
			if err != nil {
				return fmt.Errorf("read event: %w", err)
			}

			ev, err := harness.ParseEvent(data)
			if err != nil {
				return err
			}

			env, invokeErr := h.Invoke(ctx, ev)

			if record {
				if err := a.record(ctx, h, ev, env, invokeErr); err != nil {
					return err
				}
			}

			if invokeErr != nil {
				return invokeErr
			}

			return printJSON(cmd.OutOrStdout(), env)
		},
	}

	cmd.Flags().StringVar(&eventPath, "event", "-",
		"Path to the JSON job event (- for stdin)")
	cmd.Flags().BoolVar(&record, "record", false,
		"Persist the invocation in the results store")

	return cmd
}

func (a *app) record(ctx context.Context, h *harness.Harness, ev *harness.Event, env *harness.Envelope, invokeErr error) error {
	results, err := a.results(ctx)
	if err != nil {
		return err
	}
	defer results.Close()

	rec, err := store.NewRecord(h.Name(), h.OperationName(ev), env, invokeErr)
	if err != nil {
		return err
	}

	_, err = results.Save(ctx, rec)

	return err
}

func newGenerateCmd(a *app) *cobra.Command {
	var (
		count        int
		seed         int64
		distribution string
		minValue     int64
		maxValue     int64
		keys         []string
		ops          []string
		inputBucket  string
		outputBucket string
		modelBucket  string
		modelKey     string
		outputPath   string
	)

	cmd := &cobra.Command{
		Use:   "generate <benchmark>",
		Short: "Generate a deterministic JSONL stream of job events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := workload.Defaults(args[0])
			flags := cmd.Flags()

			cfg.Count = count
			cfg.Seed = seed
			cfg.Keys = keys
			cfg.Ops = ops

			if flags.Changed("distribution") {
				cfg.Distribution = distribution
			}
			if flags.Changed("min") {
				cfg.MinValue = minValue
			}
			if flags.Changed("max") {
				cfg.MaxValue = maxValue
			}
			if flags.Changed("input-bucket") {
				cfg.InputBucket = inputBucket
			}
			if flags.Changed("output-bucket") {
				cfg.OutputBucket = outputBucket
			}
			if flags.Changed("model-bucket") {
				cfg.ModelBucket = modelBucket
			}
			if flags.Changed("model-key") {
				cfg.ModelKey = modelKey
			}

			w := cmd.OutOrStdout()
			if outputPath != "" && outputPath != "-" {
				f, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()

				w = f
			}

			summary, err := workload.NewGenerator(cfg).Generate(w)
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}

			a.logger.InfoContext(cmd.Context(), "workload generated",
				slog.String("benchmark", cfg.Benchmark),
				slog.Int("events", summary.Events),
				slog.Int("distinct_keys", summary.DistinctKeys),
				slog.Int64("seed", cfg.Seed),
			)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&count, "count", 10,
		"Number of events")
	flags.Int64Var(&seed, "seed", 1,
		"Random seed")
	flags.StringVar(&distribution, "distribution", "uniform",
		"Duration/size distribution: uniform, power-law, exponential")
	flags.Int64Var(&minValue, "min", 0,
		"Minimum video duration or graph size")
	flags.Int64Var(&maxValue, "max", 0,
		"Maximum video duration or graph size")
	flags.StringSliceVar(&keys, "keys", nil,
		"Input object keys to pick from")
	flags.StringSliceVar(&ops, "ops", nil,
		"Operations to pick from")
	flags.StringVar(&inputBucket, "input-bucket", "",
		"Input bucket")
	flags.StringVar(&outputBucket, "output-bucket", "",
		"Output bucket")
	flags.StringVar(&modelBucket, "model-bucket", "",
		"Model bucket (image-recognition)")
	flags.StringVar(&modelKey, "model-key", "",
		"Model object key (image-recognition)")
	flags.StringVarP(&outputPath, "output", "o", "",
		"Write events to file instead of stdout")

	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		eventsPath string
		parallel   int
		noRecord   bool
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "replay <benchmark>",
		Short: "Run every event of a JSONL file and report the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			h, err := a.harness(args[0])
			if err != nil {
				return err
			}

			data, err := readInput(eventsPath)
			if err != nil {
				return fmt.Errorf("read events: %w", err)
			}

			var recorder store.Recorder
			if !noRecord {
				results, err := a.results(ctx)
				if err != nil {
					return err
				}
				defer results.Close()

				recorder = results
			}

			records, err := replay(ctx, a.logger, h, data, parallel, recorder)
			if err != nil {
				return err
			}

			if outputJSON {
				return report.GenerateJSON(cmd.OutOrStdout(), records)
			}

			return report.Generate(cmd.OutOrStdout(), records)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&eventsPath, "events", "-",
		"Path to the JSONL events file (- for stdin)")
	flags.IntVar(&parallel, "parallel", 1,
		"Number of concurrent invocations")
	flags.BoolVar(&noRecord, "no-record", false,
		"Do not persist records in the results store")
	flags.BoolVar(&outputJSON, "json", false,
		"Output results as JSON instead of table")

	return cmd
}

// replay invokes h once per non-empty line of data. Every line is parsed
// before the first invocation. Failed invocations are recorded and do not
// stop the replay.
func replay(ctx context.Context, logger *slog.Logger, h *harness.Harness, data []byte, parallel int, results store.Recorder) ([]store.Record, error) {
	type job struct {
		line int
		ev   *harness.Event
	}

	var jobs []job

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for line := 1; scanner.Scan(); line++ {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		ev, err := harness.ParseEvent([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		jobs = append(jobs, job{line: line, ev: ev})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	var (
		mu      sync.Mutex
		records = make([]store.Record, 0, len(jobs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))

	for _, j := range jobs {
		g.Go(func() error {
			env, invokeErr := h.Invoke(gctx, j.ev)
			if invokeErr != nil {
				logger.Warn("invocation failed",
					slog.Int("line", j.line),
					slog.String("error", invokeErr.Error()),
				)
			}

			rec, err := store.NewRecord(h.Name(), h.OperationName(j.ev), env, invokeErr)
			if err != nil {
				return err
			}

			if results != nil {
				if rec, err = results.Save(gctx, rec); err != nil {
					return fmt.Errorf("line %d: %w", j.line, err)
				}
			}

			mu.Lock()
			records = append(records, rec)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return records, nil
}

func newServeCmd(a *app) *cobra.Command {
	var (
		addr     string
		noRecord bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve invocations over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			_, hs, err := a.harnesses()
			if err != nil {
				return err
			}

			opts := server.Options{
				RPS:    a.cfg.Server.RPS,
				Burst:  a.cfg.Server.Burst,
				Logger: a.logger,
			}

			if !noRecord {
				results, err := a.results(ctx)
				if err != nil {
					return err
				}
				defer results.Close()

				opts.Recorder = results
			}

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			return server.New(hs, opts).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "",
		"Listen address (default from config)")
	cmd.Flags().BoolVar(&noRecord, "no-record", false,
		"Do not persist records in the results store")

	return cmd
}

func newWorkerCmd(a *app) *cobra.Command {
	var (
		maxInFlight int
		noRecord    bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve invocations from NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			_, hs, err := a.harnesses()
			if err != nil {
				return err
			}

			opts := queue.Options{
				Subject:     a.cfg.NATS.Subject,
				Queue:       a.cfg.NATS.Queue,
				MaxInFlight: maxInFlight,
				Logger:      a.logger,
			}

			if !noRecord {
				results, err := a.results(ctx)
				if err != nil {
					return err
				}
				defer results.Close()

				opts.Recorder = results
			}

			w, err := queue.NewWorker(hs, opts)
			if err != nil {
				return err
			}

			nc, err := queue.Connect(a.cfg.NATS.URL, a.logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			return w.Run(ctx, nc)
		},
	}

	cmd.Flags().IntVar(&maxInFlight, "max-in-flight", 1,
		"Maximum concurrent invocations")
	cmd.Flags().BoolVar(&noRecord, "no-record", false,
		"Do not persist records in the results store")

	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "report [benchmark]",
		Short: "Report stored invocation records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			results, err := a.results(ctx)
			if err != nil {
				return err
			}
			defer results.Close()

			var benchmark string
			if len(args) == 1 {
				benchmark = args[0]
			}

			records, err := results.List(ctx, benchmark)
			if err != nil {
				return err
			}

			if outputJSON {
				return report.GenerateJSON(cmd.OutOrStdout(), records)
			}

			return report.Generate(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false,
		"Output results as JSON instead of table")

	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List benchmarks and their operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			benchmarks, _, err := a.harnesses()
			if err != nil {
				return err
			}

			for _, b := range benchmarks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n",
					b.Name, strings.Join(b.Operations.Names(), ","))
			}

			return nil
		},
	}
}
