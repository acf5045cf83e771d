// Package queue serves benchmark invocations from NATS. A worker
// subscribes to <subject>.<benchmark> in a queue group, so invocations
// are spread over every worker in the group.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samuelchassot/serverless-benchmarks/harness"
	"github.com/samuelchassot/serverless-benchmarks/store"
)

// ErrorReply is the reply to a failed invocation.
type ErrorReply struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// Options configures a Worker.
type Options struct {
	Subject string // subject prefix
	Queue   string // queue group

	// MaxInFlight bounds concurrent invocations. Defaults to 1.
	MaxInFlight int

	// DrainTimeout bounds how long Run waits on shutdown for delivered
	// messages to be dispatched. Defaults to 30s.
	DrainTimeout time.Duration

	Recorder store.Recorder // optional
	Logger   *slog.Logger
}

// Worker dispatches NATS messages to benchmark harnesses.
type Worker struct {
	harnesses map[string]*harness.Harness
	opts      Options
	logger    *slog.Logger
	sem       chan struct{}
	wg        sync.WaitGroup
}

// NewWorker returns a worker over harnesses keyed by benchmark name.
func NewWorker(harnesses map[string]*harness.Harness, opts Options) (*Worker, error) {
	if opts.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		harnesses: harnesses,
		opts:      opts,
		logger:    logger,
		sem:       make(chan struct{}, max(opts.MaxInFlight, 1)),
	}, nil
}

// Connect dials url with reconnects logged through logger.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("sebs-worker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}

	return nc, nil
}

// Subject returns the subject a benchmark's jobs are published on.
func (w *Worker) Subject(benchmark string) string {
	return w.opts.Subject + "." + benchmark
}

// Run subscribes every benchmark on nc and processes messages until ctx
// is cancelled. It then drains the subscriptions and returns once every
// delivered message has been invoked and replied to.
func (w *Worker) Run(ctx context.Context, nc *nats.Conn) error {
	var subs []*nats.Subscription

	for name := range w.harnesses {
		subject := w.Subject(name)

		sub, err := nc.QueueSubscribe(subject, w.opts.Queue, func(msg *nats.Msg) {
			w.dispatch(ctx, name, msg)
		})
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}

		subs = append(subs, sub)

		w.logger.Info("subscribed",
			slog.String("subject", subject),
			slog.String("queue", w.opts.Queue),
		)
	}

	<-ctx.Done()

	for _, s := range subs {
		if err := s.Drain(); err != nil {
			w.logger.Warn("failed to drain subscription",
				slog.String("subject", s.Subject),
				slog.String("error", err.Error()),
			)
		}
	}

	// Drain returns before pending messages are delivered. A subscription
	// turns invalid only after its last callback returned, so once every
	// one is invalid no further dispatch can start.
	drainErr := w.awaitDrained(nc, subs)

	w.wg.Wait()

	if err := nc.FlushTimeout(5 * time.Second); err != nil && !nc.IsClosed() {
		w.logger.Warn("failed to flush replies", slog.String("error", err.Error()))
	}

	return drainErr
}

func (w *Worker) awaitDrained(nc *nats.Conn, subs []*nats.Subscription) error {
	timeout := w.opts.DrainTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for _, s := range subs {
		for s.IsValid() && !nc.IsClosed() {
			if time.Now().After(deadline) {
				return fmt.Errorf("drain %s: timed out after %s", s.Subject, timeout)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	return nil
}

func (w *Worker) dispatch(ctx context.Context, benchmark string, msg *nats.Msg) {
	w.sem <- struct{}{}
	w.wg.Add(1)

	go func() {
		defer func() {
			<-w.sem
			w.wg.Done()
		}()

		// Invocations already accepted run to completion even when the
		// worker is stopping.
		reply := w.Handle(context.WithoutCancel(ctx), benchmark, msg.Data)

		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			w.logger.Warn("failed to reply",
				slog.String("benchmark", benchmark),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Handle runs one job event for benchmark and returns the JSON reply: the
// envelope on success, an ErrorReply otherwise.
func (w *Worker) Handle(ctx context.Context, benchmark string, data []byte) []byte {
	h, ok := w.harnesses[benchmark]
	if !ok {
		return encode(ErrorReply{Error: fmt.Sprintf("unknown benchmark %q", benchmark)})
	}

	ev, err := harness.ParseEvent(data)
	if err != nil {
		return encode(ErrorReply{Error: err.Error(), Stage: harness.StageEvent})
	}

	env, err := h.Invoke(ctx, ev)
	w.record(ctx, h, ev, env, err)

	if err != nil {
		stage, _ := harness.StageOf(err)
		w.logger.Warn("invocation failed",
			slog.String("benchmark", benchmark),
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)

		return encode(ErrorReply{Error: err.Error(), Stage: stage})
	}

	return encode(env)
}

func (w *Worker) record(ctx context.Context, h *harness.Harness, ev *harness.Event, env *harness.Envelope, invokeErr error) {
	if w.opts.Recorder == nil {
		return
	}

	rec, err := store.NewRecord(h.Name(), h.OperationName(ev), env, invokeErr)
	if err == nil {
		_, err = w.opts.Recorder.Save(ctx, rec)
	}
	if err != nil {
		w.logger.Warn("failed to record invocation",
			slog.String("benchmark", h.Name()),
			slog.String("error", err.Error()),
		)
	}
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(ErrorReply{Error: "encode reply: " + err.Error()})
	}
	return data
}
