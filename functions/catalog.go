// Package functions holds the benchmark workloads: video processing,
// directory compression, image recognition and graph MST. Each delegates
// its real work to an external tool or library and plugs into the harness
// as a Benchmark.
package functions

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/samuelchassot/serverless-benchmarks/harness"
	"github.com/samuelchassot/serverless-benchmarks/storage"
)

// Tools locates the binaries and data files the workloads depend on.
type Tools struct {
	Dir        string
	FFmpeg     string
	Watermark  string
	Classifier string
	ClassIndex string
	ModelDir   string
}

// Catalog builds every benchmark. The returned slice is sorted by name.
func Catalog(tools Tools, store storage.Client, runner harness.ToolRunner, logger *slog.Logger) ([]harness.Benchmark, error) {
	ffmpeg := harness.ResolveTool(tools.FFmpeg, tools.Dir, "ffmpeg")
	if err := harness.EnsureExecutable(ffmpeg); err != nil {
		logger.Debug("ffmpeg not made executable",
			slog.String("path", ffmpeg),
			slog.String("error", err.Error()),
		)
	}

	builders := []interface {
		Benchmark() (harness.Benchmark, error)
	}{
		&Video{
			FFmpeg:    ffmpeg,
			Watermark: tools.Watermark,
			Runner:    runner,
		},
		Compression{},
		&Recognition{
			Storage:    store,
			Classifier: harness.ResolveTool(tools.Classifier, tools.Dir, "classifier"),
			ClassIndex: tools.ClassIndex,
			ModelDir:   tools.ModelDir,
			Runner:     runner,
		},
		&GraphMST{},
	}

	benchmarks := make([]harness.Benchmark, 0, len(builders))

	for _, b := range builders {
		bench, err := b.Benchmark()
		if err != nil {
			return nil, fmt.Errorf("build catalog: %w", err)
		}
		benchmarks = append(benchmarks, bench)
	}

	sort.Slice(benchmarks, func(i, j int) bool {
		return benchmarks[i].Name < benchmarks[j].Name
	})

	return benchmarks, nil
}

// Harnesses wraps every benchmark of the catalog in a Harness sharing
// store and opts.
func Harnesses(benchmarks []harness.Benchmark, store storage.Client, opts harness.Options) (map[string]*harness.Harness, error) {
	out := make(map[string]*harness.Harness, len(benchmarks))

	for _, b := range benchmarks {
		h, err := harness.New(b, store, opts)
		if err != nil {
			return nil, err
		}
		out[b.Name] = h
	}

	return out, nil
}
