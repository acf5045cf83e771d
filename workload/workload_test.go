package workload

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/samuelchassot/serverless-benchmarks/functions"
	"github.com/samuelchassot/serverless-benchmarks/harness"
)

func TestGenerateDeterministic(t *testing.T) {
	cfg := Defaults(functions.VideoBenchmark)
	cfg.Count = 50
	cfg.Seed = 42

	var buf1, buf2 bytes.Buffer

	sum1, err := NewGenerator(cfg).Generate(&buf1)
	if err != nil {
		t.Fatalf("first generation failed: %v", err)
	}

	sum2, err := NewGenerator(cfg).Generate(&buf2)
	if err != nil {
		t.Fatalf("second generation failed: %v", err)
	}

	if buf1.String() != buf2.String() {
		t.Error("workloads are not deterministic for same seed")
	}

	if sum1 != sum2 {
		t.Errorf("summaries differ: %+v vs %+v", sum1, sum2)
	}

	cfg.Seed = 43
	var buf3 bytes.Buffer
	if _, err := NewGenerator(cfg).Generate(&buf3); err != nil {
		t.Fatalf("third generation failed: %v", err)
	}
	if buf3.String() == buf1.String() {
		t.Error("different seeds produced the same workload")
	}
}

// Every generated line must be accepted by the harness event parser and
// carry the fields its benchmark reads.
func TestGenerateParsesAsEvents(t *testing.T) {
	tests := []struct {
		benchmark string
		fields    []string
	}{
		{functions.VideoBenchmark, []string{"bucket.input", "bucket.output", "object.key", "object.op"}},
		{functions.CompressionBenchmark, []string{"bucket.input", "bucket.output", "object.key"}},
		{functions.RecognitionBenchmark, []string{"bucket.input", "bucket.model", "object.input", "object.model"}},
		{functions.GraphMSTBenchmark, nil},
	}

	for _, tt := range tests {
		t.Run(tt.benchmark, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := Defaults(tt.benchmark)

			sum, err := NewGenerator(cfg).Generate(&buf)
			if err != nil {
				t.Fatalf("generation failed: %v", err)
			}
			if sum.Events != cfg.Count {
				t.Errorf("events = %d, want %d", sum.Events, cfg.Count)
			}

			scanner := bufio.NewScanner(&buf)
			lineNum := 0

			for scanner.Scan() {
				lineNum++

				ev, err := harness.ParseEvent(scanner.Bytes())
				if err != nil {
					t.Errorf("line %d: %v", lineNum, err)
					continue
				}

				for _, f := range tt.fields {
					if _, err := ev.String(f); err != nil {
						t.Errorf("line %d: %v", lineNum, err)
					}
				}

				switch tt.benchmark {
				case functions.VideoBenchmark:
					d, err := ev.Int("object.duration")
					if err != nil || d < cfg.MinValue || d > cfg.MaxValue {
						t.Errorf("line %d: duration = %d (%v)", lineNum, d, err)
					}
				case functions.GraphMSTBenchmark:
					n, err := ev.Int("size")
					if err != nil || n < cfg.MinValue || n > cfg.MaxValue {
						t.Errorf("line %d: size = %d (%v)", lineNum, n, err)
					}
				}
			}

			if lineNum != cfg.Count {
				t.Errorf("lines = %d, want %d", lineNum, cfg.Count)
			}
		})
	}
}

func TestGenerateKeyPool(t *testing.T) {
	cfg := Defaults(functions.CompressionBenchmark)
	cfg.Count = 200
	cfg.Keys = []string{"acmart", "thesis"}

	var buf bytes.Buffer
	sum, err := NewGenerator(cfg).Generate(&buf)
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}

	if sum.DistinctKeys != 2 {
		t.Errorf("distinct keys = %d, want 2", sum.DistinctKeys)
	}
	if strings.Contains(buf.String(), `"op"`) {
		t.Error("compression events carry object.op without an op pool")
	}
}

func TestDistributions(t *testing.T) {
	for _, dist := range []string{"power-law", "exponential", "uniform"} {
		t.Run(dist, func(t *testing.T) {
			cfg := Defaults(functions.GraphMSTBenchmark)
			cfg.Count = 100
			cfg.Distribution = dist

			var buf bytes.Buffer
			sum, err := NewGenerator(cfg).Generate(&buf)
			if err != nil {
				t.Fatalf("generation failed: %v", err)
			}

			if sum.MinValue < cfg.MinValue || sum.MaxValue > cfg.MaxValue {
				t.Errorf("values [%d, %d] outside [%d, %d]",
					sum.MinValue, sum.MaxValue, cfg.MinValue, cfg.MaxValue)
			}
		})
	}
}

func TestGenerateRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown benchmark", Config{Benchmark: "matmul", Count: 1}},
		{"graph size zero", Config{Benchmark: functions.GraphMSTBenchmark, Count: 1, MinValue: 0, MaxValue: 50}},
		{"empty duration range", Config{Benchmark: functions.VideoBenchmark, Count: 1, MinValue: 5, MaxValue: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if _, err := NewGenerator(tt.cfg).Generate(&buf); err == nil {
				t.Error("expected error")
			}
			if buf.Len() != 0 {
				t.Errorf("wrote %d bytes before failing", buf.Len())
			}
		})
	}
}
