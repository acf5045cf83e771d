package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samuelchassot/serverless-benchmarks/harness"
	"github.com/samuelchassot/serverless-benchmarks/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sizeHarness(t *testing.T) *harness.Harness {
	t.Helper()

	op := harness.OperationFunc("size", func(_ context.Context, in *harness.Input) (*harness.Output, error) {
		n, err := in.Event.Int("size")
		if err != nil {
			return nil, err
		}
		return &harness.Output{Result: map[string]int64{"size": n}}, nil
	})

	reg, err := harness.NewRegistry(op)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	h, err := harness.New(harness.Benchmark{Name: "sizes", Operations: reg, DefaultOperation: "size"}, nil,
		harness.Options{ScratchDir: t.TempDir(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return h
}

func TestReplayRecordsEveryEvent(t *testing.T) {
	results, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "r.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer results.Close()

	data := []byte("{\"size\": 1}\n\n{\"size\": 2}\n{\"size\": \"x\"}\n{\"size\": 4}\n")

	records, err := replay(context.Background(), quietLogger(), sizeHarness(t), data, 3, results)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if len(records) != 4 {
		t.Fatalf("records = %d, want 4", len(records))
	}

	failed := 0
	for _, r := range records {
		if r.Failed() {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}

	stored, err := results.List(context.Background(), "sizes")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(stored) != 4 {
		t.Errorf("stored = %d, want 4", len(stored))
	}
}

func TestReplayRejectsBadLine(t *testing.T) {
	_, err := replay(context.Background(), quietLogger(), sizeHarness(t), []byte("{\"size\": 1}\nnot json\n"), 1, nil)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("err = %v, want line 2 failure", err)
	}
}

func TestListCommand(t *testing.T) {
	t.Setenv("SEBS_STORAGE_BACKEND", "memory")
	t.Setenv("SEBS_SCRATCH_DIR", t.TempDir())

	var out bytes.Buffer

	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"list", "--log-level", "error"})

	if err := root.Execute(); err != nil {
		t.Fatalf("list failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	want := []string{
		"compression\tcompress",
		"graph-mst\tmst",
		"image-recognition\tclassify",
		"video-processing\textract-gif,transcode,watermark",
	}

	if len(lines) != len(want) {
		t.Fatalf("list output:\n%s", out.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestGenerateCommand(t *testing.T) {
	t.Setenv("SEBS_STORAGE_BACKEND", "memory")
	path := filepath.Join(t.TempDir(), "events.jsonl")

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"generate", "graph-mst", "--count", "5", "--seed", "7", "-o", path, "--log-level", "error"})

	if err := root.Execute(); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read events failed: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 5 {
		t.Errorf("events = %d, want 5", n)
	}
}
