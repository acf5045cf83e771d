package harness

import (
	"log/slog"
	"time"
)

// Phase names the top-level metric a sub-stage is folded into.
type Phase int

const (
	// PhaseNone sub-stages are reported under their own key only.
	PhaseNone Phase = iota
	PhaseDownload
	PhaseCompute
)

// SubStage is a separately timed step inside an operation, such as
// fetching and loading a model.
type SubStage struct {
	Name    string
	Phase   Phase
	Elapsed time.Duration
}

// Timer turns clock readings into non-negative stage durations.
type Timer struct {
	clock  Clock
	logger *slog.Logger
}

// NewTimer returns a Timer reading clock. A nil clock means RealClock.
func NewTimer(clock Clock, logger *slog.Logger) *Timer {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Timer{clock: clock, logger: logger}
}

func (t *Timer) elapsed(stage string, start, end time.Time) time.Duration {
	d := end.Sub(start)
	if d < 0 {
		t.logger.Warn("negative stage duration clamped to zero",
			slog.String("stage", stage),
			slog.Duration("raw", d),
		)

		return 0
	}

	return d
}

// Measure runs fn on the calling goroutine and returns its value together
// with the time it took. When fn fails the duration is dropped and only
// the error is returned.
func Measure[T any](t *Timer, stage string, fn func() (T, error)) (T, time.Duration, error) {
	start := t.clock.Now()
	v, err := fn()
	end := t.clock.Now()

	if err != nil {
		var zero T
		return zero, 0, err
	}

	return v, t.elapsed(stage, start, end), nil
}

// Micros converts d to whole microseconds.
func Micros(d time.Duration) float64 {
	return float64(d.Microseconds())
}
