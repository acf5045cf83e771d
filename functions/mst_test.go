package functions

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/samuelchassot/serverless-benchmarks/harness"
)

func TestGraphMST(t *testing.T) {
	g := &GraphMST{}
	bench, err := g.Benchmark()
	if err != nil {
		t.Fatalf("Benchmark failed: %v", err)
	}

	h := newHarness(t, bench, nil)
	env, err := h.Invoke(context.Background(), event(t, `{"size": 200}`))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	res, ok := env.Result.(MSTResult)
	if !ok {
		t.Fatalf("result type = %T, want MSTResult", env.Result)
	}
	if res.Vertices != 200 {
		t.Errorf("vertices = %d, want 200", res.Vertices)
	}
	// The generated graph is connected and unit weighted, so the tree
	// spans every vertex.
	if res.TreeEdges != 199 || res.Weight != 199 {
		t.Errorf("tree = %d edges weight %v, want 199/199", res.TreeEdges, res.Weight)
	}

	if _, ok := env.Measurement["graph_generating_time"]; !ok {
		t.Error("missing graph_generating_time")
	}
	for _, k := range harness.BaseMetrics {
		if _, ok := env.Measurement[k]; !ok {
			t.Errorf("missing metric %s", k)
		}
	}
	if env.Measurement[harness.MetricDownloadSize] != 0 || env.Measurement[harness.MetricUploadSize] != 0 {
		t.Error("storage-free benchmark reported transfer sizes")
	}
}

func TestGraphMSTRejectsSize(t *testing.T) {
	bench, _ := (&GraphMST{MaxSize: 1000}).Benchmark()
	h := newHarness(t, bench, nil)

	for _, raw := range []string{`{}`, `{"size": "big"}`, `{"size": 0}`, `{"size": -4}`, `{"size": 2.5}`, `{"size": 5000}`} {
		if _, err := h.Invoke(context.Background(), event(t, raw)); !errors.Is(err, harness.ErrMalformedEvent) {
			t.Errorf("Invoke(%s) err = %v, want ErrMalformedEvent", raw, err)
		}
	}
}

func TestGraphMSTSmallSizes(t *testing.T) {
	bench, _ := (&GraphMST{}).Benchmark()
	h := newHarness(t, bench, nil)

	tests := []struct {
		size      int
		wantEdges int
	}{
		{1, 0},
		{2, 1},
		{5, 4},
		{10, 9},
		{11, 10},
	}

	for _, tt := range tests {
		env, err := h.Invoke(context.Background(), event(t, fmt.Sprintf(`{"size": %d}`, tt.size)))
		if err != nil {
			t.Errorf("size %d: Invoke failed: %v", tt.size, err)
			continue
		}

		res := env.Result.(MSTResult)
		if res.Vertices != tt.size || res.TreeEdges != tt.wantEdges || res.Weight != float64(tt.wantEdges) {
			t.Errorf("size %d: result = %+v, want %d vertices and %d edges", tt.size, res, tt.size, tt.wantEdges)
		}
	}
}
