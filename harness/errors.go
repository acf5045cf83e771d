package harness

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEvent marks a job event missing a required field or
	// carrying one of the wrong type.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnknownOperation marks an operation name absent from the registry.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrExternalProcess marks a tool that exited non-zero.
	ErrExternalProcess = errors.New("external process failed")

	// ErrConstruction marks a warm resource that could not be built.
	ErrConstruction = errors.New("warm resource construction failed")
)

// Invocation stages, in execution order.
const (
	StageEvent    = "event"
	StageDownload = "download"
	StagePrepare  = "prepare"
	StageCompute  = "compute"
	StageUpload   = "upload"
)

// StageError reports which stage of which benchmark aborted an invocation.
type StageError struct {
	Benchmark string
	Stage     string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Benchmark, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage recorded in err, if any.
func StageOf(err error) (string, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}

	return "", false
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}
