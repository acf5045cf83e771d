package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/samuelchassot/serverless-benchmarks/storage"
)

// InputKind says what a benchmark downloads before computing.
type InputKind int

const (
	InputNone InputKind = iota
	InputObject
	InputDirectory
)

// Benchmark describes one workload: where its input comes from, whether
// its output is uploaded and which operations it offers.
type Benchmark struct {
	Name  string
	Input InputKind

	// KeyField is the event path holding the input key or prefix.
	// Defaults to "object.key".
	KeyField string

	// Upload pushes the operation's output file to bucket.output.
	Upload bool

	Operations *Registry

	// DefaultOperation is used when the event carries no object.op.
	// Empty means object.op is required.
	DefaultOperation string
}

// Options configures a Harness.
type Options struct {
	ScratchDir  string // defaults to os.TempDir()
	KeepScratch bool
	Clock       Clock
	Logger      *slog.Logger
}

// Harness runs invocations of a single benchmark. It is safe for
// concurrent use; each invocation gets its own scratch directory.
type Harness struct {
	bench       Benchmark
	storage     storage.Client
	timer       *Timer
	scratchDir  string
	keepScratch bool
	logger      *slog.Logger
}

// New validates bench and returns a Harness using store for transfers.
// store may be nil only for benchmarks that neither download nor upload.
func New(bench Benchmark, store storage.Client, opts Options) (*Harness, error) {
	if bench.Name == "" {
		return nil, errors.New("benchmark name is required")
	}
	if bench.Operations == nil || len(bench.Operations.Names()) == 0 {
		return nil, fmt.Errorf("benchmark %s: no operations registered", bench.Name)
	}
	if store == nil && (bench.Input != InputNone || bench.Upload) {
		return nil, fmt.Errorf("benchmark %s: storage client required", bench.Name)
	}
	if bench.KeyField == "" {
		bench.KeyField = "object.key"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("benchmark", bench.Name))

	scratch := opts.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}

	return &Harness{
		bench:       bench,
		storage:     store,
		timer:       NewTimer(opts.Clock, logger),
		scratchDir:  scratch,
		keepScratch: opts.KeepScratch,
		logger:      logger,
	}, nil
}

// Name returns the benchmark name.
func (h *Harness) Name() string { return h.bench.Name }

// Operations lists the operation names the benchmark accepts.
func (h *Harness) Operations() []string { return h.bench.Operations.Names() }

// OperationName returns the operation ev selects: object.op when it is a
// string, the default operation otherwise.
func (h *Harness) OperationName(ev *Event) string {
	if ev != nil {
		if op, err := ev.String("object.op"); err == nil {
			return op
		}
	}
	return h.bench.DefaultOperation
}

type job struct {
	inBucket  string
	key       string
	outBucket string
	opName    string
	op        Operation
}

func (h *Harness) parse(ev *Event) (*job, error) {
	if ev == nil {
		return nil, malformed("no event")
	}

	var (
		j   job
		err error
	)

	if h.bench.Input != InputNone {
		if j.inBucket, err = ev.String("bucket.input"); err != nil {
			return nil, err
		}
		if j.key, err = ev.String(h.bench.KeyField); err != nil {
			return nil, err
		}
		if h.bench.Input == InputObject {
			switch path.Base(j.key) {
			case ".", "..", "/":
				return nil, malformed("field %q has no file name: %q", h.bench.KeyField, j.key)
			}
		}
	}

	if h.bench.Upload {
		if j.outBucket, err = ev.String("bucket.output"); err != nil {
			return nil, err
		}
	}

	switch {
	case ev.Has("object.op"):
		if j.opName, err = ev.String("object.op"); err != nil {
			return nil, err
		}
	case h.bench.DefaultOperation != "":
		j.opName = h.bench.DefaultOperation
	default:
		return nil, malformed("missing field %q", "object.op")
	}

	if j.op, err = h.bench.Operations.Lookup(j.opName); err != nil {
		return nil, err
	}

	if checker, ok := j.op.(EventChecker); ok {
		if err := checker.CheckEvent(ev); err != nil {
			return nil, err
		}
	}

	return &j, nil
}

func (h *Harness) fail(stage string, err error) error {
	return &StageError{Benchmark: h.bench.Name, Stage: stage, Err: err}
}

type transfer struct {
	path string
	key  string
	size int64
}

// Invoke runs ev through download, compute and upload and returns the
// envelope. Any failure aborts the invocation; no partial envelope is
// ever returned.
func (h *Harness) Invoke(ctx context.Context, ev *Event) (*Envelope, error) {
	id := uuid.NewString()
	logger := h.logger.With(slog.String("invocation", id))

	// Step 1: Extract what this benchmark needs from the event.
	j, err := h.parse(ev)
	if err != nil {
		return nil, h.fail(StageEvent, err)
	}

	logger = logger.With(slog.String("op", j.opName))

	// Step 2: Claim a scratch directory no other invocation can name.
	scratch := filepath.Join(h.scratchDir, h.bench.Name+"-"+id)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, h.fail(StageDownload, fmt.Errorf("create scratch dir: %w", err))
	}

	if !h.keepScratch {
		defer func() {
			if err := os.RemoveAll(scratch); err != nil {
				logger.Warn("failed to remove scratch dir",
					slog.String("path", scratch),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	m := NewMeasurement()
	in := &Input{
		Event:      ev,
		ScratchDir: scratch,
		Timer:      h.timer,
		Logger:     logger,
	}

	// Step 3: Download.
	if h.bench.Input != InputNone {
		got, elapsed, err := Measure(h.timer, StageDownload, func() (transfer, error) {
			return h.download(ctx, j, scratch)
		})
		if err != nil {
			return nil, h.fail(StageDownload, err)
		}

		in.Path = got.path
		m[MetricDownloadTime] = Micros(elapsed)
		m[MetricDownloadSize] = float64(got.size)

		logger.Debug("download finished",
			slog.Duration("elapsed", elapsed),
			slog.Int64("bytes", got.size),
		)
	}

	// Step 4: Prepare and compute.
	if p, ok := j.op.(Preparer); ok {
		subs, err := p.Prepare(ctx, in)
		if err != nil {
			return nil, h.fail(StagePrepare, err)
		}

		for _, s := range subs {
			m.AddSubStage(s)
		}
	}

	out, elapsed, err := Measure(h.timer, StageCompute, func() (*Output, error) {
		return j.op.Run(ctx, in)
	})
	if err != nil {
		return nil, h.fail(StageCompute, err)
	}
	if out == nil {
		out = &Output{}
	}

	m[MetricComputeTime] += Micros(elapsed)

	logger.Debug("compute finished", slog.Duration("elapsed", elapsed))

	// Step 5: Upload.
	result := out.Result

	if h.bench.Upload {
		if out.Path == "" {
			return nil, h.fail(StageCompute,
				fmt.Errorf("operation %s produced no output file", j.opName))
		}

		got, elapsed, err := Measure(h.timer, StageUpload, func() (transfer, error) {
			return h.upload(ctx, j, out.Path)
		})
		if err != nil {
			return nil, h.fail(StageUpload, err)
		}

		m[MetricUploadTime] = Micros(elapsed)
		m[MetricUploadSize] = float64(got.size)

		if result == nil {
			result = ObjectResult{Bucket: j.outBucket, Key: got.key}
		}

		logger.Debug("upload finished",
			slog.Duration("elapsed", elapsed),
			slog.Int64("bytes", got.size),
			slog.String("key", got.key),
		)
	}

	if result == nil {
		result = map[string]any{}
	}

	logger.Info("invocation complete",
		slog.Float64(MetricDownloadTime, m[MetricDownloadTime]),
		slog.Float64(MetricComputeTime, m[MetricComputeTime]),
		slog.Float64(MetricUploadTime, m[MetricUploadTime]),
	)

	return &Envelope{Result: result, Measurement: m}, nil
}

func (h *Harness) download(ctx context.Context, j *job, scratch string) (transfer, error) {
	var (
		local string
		err   error
	)

	switch h.bench.Input {
	case InputDirectory:
		local, err = h.storage.DownloadDirectory(ctx, j.inBucket, j.key,
			filepath.Join(scratch, "input"))
	default:
		local, err = h.storage.Download(ctx, j.inBucket, j.key,
			filepath.Join(scratch, "input", path.Base(j.key)))
	}
	if err != nil {
		return transfer{}, err
	}

	size, err := pathSize(local)
	if err != nil {
		return transfer{}, fmt.Errorf("measure input size: %w", err)
	}

	return transfer{path: local, key: j.key, size: size}, nil
}

func (h *Harness) upload(ctx context.Context, j *job, local string) (transfer, error) {
	size, err := pathSize(local)
	if err != nil {
		return transfer{}, fmt.Errorf("measure output size: %w", err)
	}

	stored, err := h.storage.Upload(ctx, j.outBucket, filepath.Base(local), local)
	if err != nil {
		return transfer{}, err
	}

	return transfer{path: local, key: stored, size: size}, nil
}
