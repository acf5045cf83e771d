package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/samuelchassot/serverless-benchmarks/harness"
	"github.com/samuelchassot/serverless-benchmarks/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestSaveAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := harness.NewMeasurement()
	m[harness.MetricComputeTime] = 1500
	m[harness.MetricDownloadSize] = 4096

	env := &harness.Envelope{
		Result:      harness.ObjectResult{Bucket: "out", Key: "processed-a.gif"},
		Measurement: m,
	}

	rec, err := NewRecord("video-processing", "extract-gif", env, nil)
	if err != nil {
		t.Fatalf("NewRecord failed: %v", err)
	}
	if _, err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stageErr := &harness.StageError{
		Benchmark: "video-processing",
		Stage:     harness.StageDownload,
		Err:       fmt.Errorf("%w: in/missing.mp4", storage.ErrObjectNotFound),
	}
	failed, _ := NewRecord("video-processing", "watermark", nil, stageErr)
	failed.CreatedAt = rec.CreatedAt.Add(time.Second)
	if _, err := s.Save(ctx, failed); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	other, _ := NewRecord("graph-mst", "mst", &harness.Envelope{Result: map[string]any{}, Measurement: harness.NewMeasurement()}, nil)
	if _, err := s.Save(ctx, other); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.List(ctx, "video-processing")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}

	if got[0].ID != rec.ID || got[0].Operation != "extract-gif" {
		t.Errorf("first record = %+v", got[0])
	}
	if got[0].Measurement[harness.MetricComputeTime] != 1500 {
		t.Errorf("compute_time = %v, want 1500", got[0].Measurement[harness.MetricComputeTime])
	}

	var res harness.ObjectResult
	if err := json.Unmarshal(got[0].Result, &res); err != nil || res.Key != "processed-a.gif" {
		t.Errorf("result = %s (%v)", got[0].Result, err)
	}
	if !got[0].CreatedAt.Equal(rec.CreatedAt.Truncate(time.Microsecond)) {
		t.Errorf("created_at = %v, want %v", got[0].CreatedAt, rec.CreatedAt)
	}

	if !got[1].Failed() || got[1].Stage != harness.StageDownload {
		t.Errorf("second record = %+v, want failed download", got[1])
	}
	if got[1].Measurement != nil {
		t.Errorf("failed record measurement = %v, want nil", got[1].Measurement)
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all records = %d, want 3", len(all))
	}
}

func TestSaveAssignsIdentity(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.Save(context.Background(), Record{Benchmark: "compression"})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Errorf("record = %+v, want id and timestamp", rec)
	}

	if _, err := s.Save(context.Background(), rec); err == nil {
		t.Error("expected error for duplicate id")
	}
	if _, err := s.Save(context.Background(), Record{}); err == nil {
		t.Error("expected error for record without benchmark")
	}
}

func TestOpenRejectsDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver string
		input  string
		want   string
	}{
		{DriverSQLite, "a = $1 AND b = $2", "a = ? AND b = ?"},
		{DriverSQLite, "VALUES ($1, $10)", "VALUES (?, ?)"},
		{DriverSQLite, "price $ 5", "price $ 5"},
		{DriverPostgres, "a = $1", "a = $1"},
	}

	for _, tt := range tests {
		s := &Store{driver: tt.driver}
		if got := s.rebind(tt.input); got != tt.want {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
