package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/samuelchassot/serverless-benchmarks/harness"
	"github.com/samuelchassot/serverless-benchmarks/store"
)

func record(bench, op string, compute, download float64) store.Record {
	m := harness.NewMeasurement()
	m[harness.MetricComputeTime] = compute
	m[harness.MetricDownloadSize] = download

	return store.Record{Benchmark: bench, Operation: op, Measurement: m}
}

func TestGenerateAllSucceeded(t *testing.T) {
	records := []store.Record{
		record("video-processing", "watermark", 4000, 1024*1024),
		record("video-processing", "extract-gif", 1000, 1024*1024),
		record("video-processing", "extract-gif", 3000, 1024*1024),
	}

	var buf bytes.Buffer
	if err := Generate(&buf, records); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "all succeeded") {
		t.Error("expected 'all succeeded' without failures")
	}
	if !strings.Contains(output, "| extract-gif | 2 | 0 |") {
		t.Errorf("expected extract-gif row with 2 runs, got:\n%s", output)
	}
	if !strings.Contains(output, "2.00ms") {
		t.Error("expected 2.00ms mean compute for extract-gif")
	}
	if !strings.Contains(output, "2.00x") {
		t.Error("expected 2.00x for watermark (twice as slow)")
	}
	if !strings.Contains(output, "1 MB") {
		t.Error("expected 1 MB input size")
	}

	if strings.Index(output, "extract-gif") > strings.Index(output, "watermark") {
		t.Error("rows not sorted by operation")
	}
}

func TestGenerateFailures(t *testing.T) {
	records := []store.Record{
		record("compression", "compress", 500, 0),
		{
			Benchmark: "compression",
			Operation: "compress",
			Stage:     harness.StageDownload,
			Error:     "compression: download: object not found: in/ghost\nextra",
		},
	}

	var buf bytes.Buffer
	if err := Generate(&buf, records); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "1 FAILED") {
		t.Error("expected failure count")
	}
	if !strings.Contains(output, "(download): compression: download: object not found: in/ghost") {
		t.Errorf("expected failure detail, got:\n%s", output)
	}
	if strings.Contains(output, "extra") {
		t.Error("failure detail not truncated to its first line")
	}
	if !strings.Contains(output, "500µs") {
		t.Error("failed record included in the mean")
	}
}

func TestGenerateEmpty(t *testing.T) {
	var buf bytes.Buffer
	err := Generate(&buf, nil)
	if err == nil {
		t.Error("expected error for empty records")
	}
}

func TestGenerateJSON(t *testing.T) {
	records := []store.Record{
		record("graph-mst", "mst", 1000, 0),
		record("graph-mst", "mst", 3000, 0),
	}

	var buf bytes.Buffer
	if err := GenerateJSON(&buf, records); err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}

	var parsed []Row
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if len(parsed) != 1 {
		t.Fatalf("expected 1 row, got %d", len(parsed))
	}
	if parsed[0].Invocations != 2 || parsed[0].ComputeUs != 2000 {
		t.Errorf("row = %+v, want 2 invocations at 2000µs", parsed[0])
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input uint64
		want  string
	}{
		{0, "-"},
		{512, "512 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1048576, "1 MB"},
		{1073741824, "1 GB"},
	}

	for _, tt := range tests {
		got := formatBytes(tt.input)
		if got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatMicros(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{0, "0µs"},
		{999, "999µs"},
		{1000, "1.00ms"},
		{1500, "1.50ms"},
		{1e6, "1.00s"},
		{6e7, "60.00s"},
	}

	for _, tt := range tests {
		got := formatMicros(tt.input)
		if got != tt.want {
			t.Errorf("formatMicros(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
