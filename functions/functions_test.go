package functions

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/samuelchassot/serverless-benchmarks/harness"
	"github.com/samuelchassot/serverless-benchmarks/storage"
)

// fakeRunner records tool invocations. By default it writes a small file
// at the last argument, mimicking a tool that produces an output file.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	output []byte
	err    error
	noFile bool
}

func (f *fakeRunner) Run(_ context.Context, tool string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{tool}, args...))
	f.mu.Unlock()

	if f.err != nil {
		return f.output, f.err
	}

	if !f.noFile && len(args) > 0 {
		if err := os.WriteFile(args[len(args)-1], []byte("rendered"), 0o644); err != nil {
			return nil, err
		}
	}

	return f.output, nil
}

func (f *fakeRunner) lastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.calls) == 0 {
		return nil
	}

	return f.calls[len(f.calls)-1]
}

// countingStorage counts downloads per key.
type countingStorage struct {
	storage.Client

	mu        sync.Mutex
	downloads map[string]int
}

func (c *countingStorage) Download(ctx context.Context, bucket, key, dest string) (string, error) {
	c.mu.Lock()
	if c.downloads == nil {
		c.downloads = make(map[string]int)
	}
	c.downloads[key]++
	c.mu.Unlock()

	return c.Client.Download(ctx, bucket, key, dest)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, bench harness.Benchmark, store storage.Client) *harness.Harness {
	t.Helper()

	h, err := harness.New(bench, store, harness.Options{
		ScratchDir: t.TempDir(),
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("harness.New failed: %v", err)
	}

	return h
}

func event(t *testing.T, raw string) *harness.Event {
	t.Helper()

	ev, err := harness.ParseEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}

	return ev
}

func TestCatalog(t *testing.T) {
	benchmarks, err := Catalog(Tools{FFmpeg: "/bin/true"}, storage.NewMemory(), &fakeRunner{}, quietLogger())
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}

	want := []string{CompressionBenchmark, GraphMSTBenchmark, RecognitionBenchmark, VideoBenchmark}
	if len(benchmarks) != len(want) {
		t.Fatalf("got %d benchmarks, want %d", len(benchmarks), len(want))
	}

	for i, b := range benchmarks {
		if b.Name != want[i] {
			t.Errorf("benchmark %d = %q, want %q", i, b.Name, want[i])
		}
	}

	hs, err := Harnesses(benchmarks, storage.NewMemory(), harness.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Harnesses failed: %v", err)
	}
	if len(hs) != len(want) {
		t.Errorf("got %d harnesses, want %d", len(hs), len(want))
	}
}
