package functions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/samuelchassot/serverless-benchmarks/harness"
	"github.com/samuelchassot/serverless-benchmarks/storage"
)

// RecognitionBenchmark is the name of the image classification benchmark.
const RecognitionBenchmark = "image-recognition"

// Model is a classifier's weights on local disk plus the labels its
// output indices map to.
type Model struct {
	Path   string
	Labels []string
}

// Prediction is the result record of one classification.
type Prediction struct {
	Idx   int    `json:"idx"`
	Class string `json:"class"`
}

// Recognition classifies one image per invocation. The model is fetched
// and loaded by the first invocation in the process and reused by every
// later one, whatever model key they name.
type Recognition struct {
	Storage    storage.Client
	Classifier string // tool invoked as: <classifier> --model M --image I
	ClassIndex string // ImageNet class index: {"0": ["n01440764", "tench"], ...}
	ModelDir   string
	Runner     harness.ToolRunner

	slot harness.WarmSlot[*Model]
}

func (r *Recognition) Name() string { return "classify" }

func (r *Recognition) CheckEvent(ev *harness.Event) error {
	if _, err := ev.String("bucket.model"); err != nil {
		return err
	}

	_, err := ev.String("object.model")

	return err
}

// Prepare makes sure the model is loaded. Only the invocation that loads
// it reports non-zero model timings.
func (r *Recognition) Prepare(ctx context.Context, in *harness.Input) ([]harness.SubStage, error) {
	var fetch, load time.Duration

	_, _, err := r.slot.Get(func() (*Model, error) {
		bucket, err := in.Event.String("bucket.model")
		if err != nil {
			return nil, err
		}
		key, err := in.Event.String("object.model")
		if err != nil {
			return nil, err
		}

		dest := filepath.Join(r.ModelDir, path.Base(key))

		local, d, err := harness.Measure(in.Timer, "model_download", func() (string, error) {
			return r.Storage.Download(ctx, bucket, key, dest)
		})
		if err != nil {
			return nil, fmt.Errorf("download model: %w", err)
		}
		fetch = d

		model, d, err := harness.Measure(in.Timer, "model_load", func() (*Model, error) {
			return LoadModel(local, r.ClassIndex)
		})
		if err != nil {
			return nil, fmt.Errorf("load model: %w", err)
		}
		load = d

		in.Logger.Info("model loaded",
			slog.String("path", model.Path),
			slog.Int("labels", len(model.Labels)),
		)

		return model, nil
	})
	if err != nil {
		return nil, err
	}

	return []harness.SubStage{
		{Name: "model_download_time", Phase: harness.PhaseDownload, Elapsed: fetch},
		{Name: "model_time", Phase: harness.PhaseCompute, Elapsed: load},
	}, nil
}

func (r *Recognition) Run(ctx context.Context, in *harness.Input) (*harness.Output, error) {
	model, ok := r.slot.Load()
	if !ok {
		return nil, errors.New("model not loaded")
	}

	out, err := r.Runner.Run(ctx, r.Classifier, "--model", model.Path, "--image", in.Path)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	idx, err := parseClassifierOutput(out)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(model.Labels) {
		return nil, fmt.Errorf("classifier index %d outside %d labels", idx, len(model.Labels))
	}

	return &harness.Output{Result: Prediction{Idx: idx, Class: model.Labels[idx]}}, nil
}

// parseClassifierOutput reads the index from the last line of the
// classifier's output, which must be a JSON object like {"idx": 281}.
// Earlier lines are treated as log noise.
func parseClassifierOutput(out []byte) (int, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	last := lines[len(lines)-1]

	idx := gjson.GetBytes(last, "idx")
	if !gjson.ValidBytes(last) || idx.Type != gjson.Number {
		return 0, fmt.Errorf("unexpected classifier output: %q", last)
	}

	return int(idx.Int()), nil
}

// LoadModel checks the weights at modelPath and reads the label table
// from classIndexPath.
func LoadModel(modelPath, classIndexPath string) (*Model, error) {
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("stat weights: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("weights file %s is empty", modelPath)
	}

	data, err := os.ReadFile(classIndexPath)
	if err != nil {
		return nil, fmt.Errorf("read class index: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("class index %s is not valid JSON", classIndexPath)
	}

	index := gjson.ParseBytes(data)
	n := len(index.Map())
	labels := make([]string, n)

	for i := 0; i < n; i++ {
		label := index.Get(strconv.Itoa(i) + ".1")
		if !label.Exists() {
			return nil, fmt.Errorf("class index has no label for %d", i)
		}
		labels[i] = label.String()
	}

	return &Model{Path: modelPath, Labels: labels}, nil
}

// Benchmark describes the image recognition benchmark for the harness.
func (r *Recognition) Benchmark() (harness.Benchmark, error) {
	reg, err := harness.NewRegistry(r)
	if err != nil {
		return harness.Benchmark{}, fmt.Errorf("%s: %w", RecognitionBenchmark, err)
	}

	return harness.Benchmark{
		Name:             RecognitionBenchmark,
		Input:            harness.InputObject,
		KeyField:         "object.input",
		Operations:       reg,
		DefaultOperation: r.Name(),
	}, nil
}
