// Package workload generates deterministic JSONL streams of job events
// for the benchmarks. The same Config always produces the same stream.
package workload

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	mrand "math/rand"

	"github.com/samuelchassot/serverless-benchmarks/functions"
)

// Buckets names the buckets an event reads from and writes to.
type Buckets struct {
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Object describes the object an event operates on.
type Object struct {
	Key      string `json:"key,omitempty"`
	Input    string `json:"input,omitempty"`
	Model    string `json:"model,omitempty"`
	Op       string `json:"op,omitempty"`
	Duration int64  `json:"duration,omitempty"`
}

// Event is one line of a generated workload.
type Event struct {
	Bucket *Buckets `json:"bucket,omitempty"`
	Object *Object  `json:"object,omitempty"`
	Size   int64    `json:"size,omitempty"`
}

// Summary contains statistics about the generated workload.
type Summary struct {
	Events       int
	DistinctKeys int
	MinValue     int64 // smallest duration or size drawn
	MaxValue     int64
}

// Config controls workload generation parameters.
type Config struct {
	Benchmark string
	Count     int
	Seed      int64

	InputBucket  string
	OutputBucket string
	ModelBucket  string
	ModelKey     string

	// Keys is the pool of input objects events pick from. Empty means a
	// synthetic pool of Objects keys.
	Keys    []string
	Objects int

	// Ops is the pool of operations. Empty means every operation of a
	// benchmark that requires one, and no object.op otherwise.
	Ops []string

	// MinValue and MaxValue bound the drawn video duration (seconds) or
	// graph size (nodes).
	MinValue     int64
	MaxValue     int64
	Distribution string
}

// Defaults fills unset fields with values suitable for benchmark.
func Defaults(benchmark string) Config {
	cfg := Config{
		Benchmark:    benchmark,
		Count:        10,
		Seed:         1,
		InputBucket:  "sebs-input",
		OutputBucket: "sebs-output",
		ModelBucket:  "sebs-models",
		ModelKey:     "resnet50.pth",
		Objects:      4,
		Distribution: "uniform",
	}

	switch benchmark {
	case functions.VideoBenchmark:
		cfg.MinValue, cfg.MaxValue = 1, 10
	case functions.GraphMSTBenchmark:
		cfg.MinValue, cfg.MaxValue = 1000, 10000
	}

	return cfg
}

var videoOps = []string{"extract-gif", "watermark", "transcode"}

// Generator produces deterministic workloads from a Config.
type Generator struct {
	cfg Config
	rng *mrand.Rand
}

// NewGenerator creates a Generator from the given Config.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		cfg: cfg,
		rng: mrand.New(mrand.NewSource(cfg.Seed)),
	}
}

// Generate writes a JSONL workload to w and returns a Summary.
func (g *Generator) Generate(w io.Writer) (Summary, error) {
	var summary Summary

	next, err := g.builder()
	if err != nil {
		return summary, err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	keys := make(map[string]struct{})

	for i := 0; i < g.cfg.Count; i++ {
		ev, key, value := next()

		if err := enc.Encode(ev); err != nil {
			return summary, fmt.Errorf("encode event %d: %w", i, err)
		}

		if key != "" {
			keys[key] = struct{}{}
		}
		if value > 0 {
			if summary.MinValue == 0 || value < summary.MinValue {
				summary.MinValue = value
			}
			summary.MaxValue = max(summary.MaxValue, value)
		}

		summary.Events++
	}

	summary.DistinctKeys = len(keys)

	return summary, nil
}

// builder returns a function producing the next event together with the
// key and the drawn value it used.
func (g *Generator) builder() (func() (Event, string, int64), error) {
	switch g.cfg.Benchmark {
	case functions.VideoBenchmark:
		if g.cfg.MinValue < 1 || g.cfg.MaxValue < g.cfg.MinValue {
			return nil, fmt.Errorf("invalid duration range [%d, %d]", g.cfg.MinValue, g.cfg.MaxValue)
		}

		ops := g.cfg.Ops
		if len(ops) == 0 {
			ops = videoOps
		}
		keys := g.keyPool("video", ".mp4")

		return func() (Event, string, int64) {
			key := keys[g.rng.Intn(len(keys))]
			op := ops[g.rng.Intn(len(ops))]
			d := g.draw()

			return Event{
				Bucket: &Buckets{Input: g.cfg.InputBucket, Output: g.cfg.OutputBucket},
				Object: &Object{Key: key, Op: op, Duration: d},
			}, key, d
		}, nil

	case functions.CompressionBenchmark:
		keys := g.keyPool("dataset", "")

		return func() (Event, string, int64) {
			key := keys[g.rng.Intn(len(keys))]

			return Event{
				Bucket: &Buckets{Input: g.cfg.InputBucket, Output: g.cfg.OutputBucket},
				Object: &Object{Key: key, Op: g.optionalOp()},
			}, key, 0
		}, nil

	case functions.RecognitionBenchmark:
		keys := g.keyPool("image", ".jpg")

		return func() (Event, string, int64) {
			key := keys[g.rng.Intn(len(keys))]

			return Event{
				Bucket: &Buckets{Input: g.cfg.InputBucket, Model: g.cfg.ModelBucket},
				Object: &Object{Input: key, Model: g.cfg.ModelKey, Op: g.optionalOp()},
			}, key, 0
		}, nil

	case functions.GraphMSTBenchmark:
		if g.cfg.MinValue < 1 || g.cfg.MaxValue < g.cfg.MinValue {
			return nil, fmt.Errorf("invalid graph size range [%d, %d]", g.cfg.MinValue, g.cfg.MaxValue)
		}

		return func() (Event, string, int64) {
			size := g.draw()
			return Event{Size: size}, "", size
		}, nil

	default:
		return nil, fmt.Errorf("unknown benchmark %q", g.cfg.Benchmark)
	}
}

func (g *Generator) keyPool(stem, ext string) []string {
	if len(g.cfg.Keys) > 0 {
		return g.cfg.Keys
	}

	n := max(g.cfg.Objects, 1)
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%03d%s", stem, i, ext)
	}

	return keys
}

func (g *Generator) optionalOp() string {
	if len(g.cfg.Ops) == 0 {
		return ""
	}
	return g.cfg.Ops[g.rng.Intn(len(g.cfg.Ops))]
}

// draw samples a value in [MinValue, MaxValue] from the configured
// distribution.
func (g *Generator) draw() int64 {
	lo, hi := float64(g.cfg.MinValue), float64(g.cfg.MaxValue)

	switch g.cfg.Distribution {
	case "power-law":
		alpha := 1.5
		u := g.rng.Float64()
		v := lo / math.Pow(1-u, 1/alpha)

		return int64(math.Min(v, hi))

	case "exponential":
		lambda := math.Log(2) / math.Max((hi-lo)/4, 1)
		u := g.rng.Float64()
		v := lo - math.Log(1-u)/lambda

		return int64(math.Max(lo, math.Min(v, hi)))

	default:
		return g.cfg.MinValue + g.rng.Int63n(g.cfg.MaxValue-g.cfg.MinValue+1)
	}
}
