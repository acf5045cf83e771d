package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Input is what an operation sees of the invocation running it.
type Input struct {
	// Path is the downloaded input file or directory. Empty for
	// benchmarks without input.
	Path string

	Event *Event

	// ScratchDir belongs to this invocation only; outputs go here.
	ScratchDir string

	Timer  *Timer
	Logger *slog.Logger

	// State carries whatever Prepare hands over to Run.
	State any
}

// Output is what an operation produced.
type Output struct {
	// Path of the artifact to upload, if the benchmark uploads one.
	Path string

	// Result overrides the default {bucket, key} result record.
	Result any
}

// Operation is one named compute step.
type Operation interface {
	Name() string
	Run(ctx context.Context, in *Input) (*Output, error)
}

// EventChecker is implemented by operations that need event fields beyond
// the ones the harness extracts. It runs before any storage call.
type EventChecker interface {
	CheckEvent(ev *Event) error
}

// Preparer is implemented by operations with timed set-up work, such as
// building a warm resource. Prepare runs between download and compute and
// its sub-stages are merged into the measurement.
type Preparer interface {
	Prepare(ctx context.Context, in *Input) ([]SubStage, error)
}

type funcOperation struct {
	name string
	run  func(ctx context.Context, in *Input) (*Output, error)
}

func (o funcOperation) Name() string { return o.name }

func (o funcOperation) Run(ctx context.Context, in *Input) (*Output, error) {
	return o.run(ctx, in)
}

// OperationFunc adapts a function into an Operation.
func OperationFunc(name string, run func(ctx context.Context, in *Input) (*Output, error)) Operation {
	return funcOperation{name: name, run: run}
}

// Registry is an immutable name -> Operation table. It is safe for
// concurrent lookups.
type Registry struct {
	ops   map[string]Operation
	names []string
}

// NewRegistry registers ops under their names.
func NewRegistry(ops ...Operation) (*Registry, error) {
	r := &Registry{ops: make(map[string]Operation, len(ops))}

	for _, op := range ops {
		name := op.Name()
		if name == "" {
			return nil, fmt.Errorf("register operation: empty name")
		}
		if _, dup := r.ops[name]; dup {
			return nil, fmt.Errorf("register operation %q: already registered", name)
		}

		r.ops[name] = op
		r.names = append(r.names, name)
	}

	sort.Strings(r.names)

	return r, nil
}

// Lookup returns the operation registered as name.
func (r *Registry) Lookup(name string) (Operation, error) {
	op, ok := r.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownOperation, name, r.names)
	}

	return op, nil
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}
