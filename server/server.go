// Package server exposes the benchmarks over HTTP. Each request body is
// one job event; the response is the invocation envelope.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/samuelchassot/serverless-benchmarks/harness"
	"github.com/samuelchassot/serverless-benchmarks/storage"
	"github.com/samuelchassot/serverless-benchmarks/store"
)

const maxEventBytes = 1 << 20

// Options configures a Server.
type Options struct {
	RPS      float64        // 0 disables rate limiting
	Burst    int
	Recorder store.Recorder // optional
	Logger   *slog.Logger
}

// Server routes invocation requests to benchmark harnesses.
type Server struct {
	harnesses map[string]*harness.Harness
	limiter   *rate.Limiter
	recorder  store.Recorder
	logger    *slog.Logger
	router    *mux.Router
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// BenchmarkInfo describes one benchmark in GET /benchmarks.
type BenchmarkInfo struct {
	Name       string   `json:"name"`
	Operations []string `json:"operations"`
}

// New builds a Server over harnesses keyed by benchmark name.
func New(harnesses map[string]*harness.Harness, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		harnesses: harnesses,
		recorder:  opts.Recorder,
		logger:    logger,
		router:    mux.NewRouter(),
	}

	if opts.RPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(opts.Burst, 1))
	}

	s.router.HandleFunc("/invoke/{benchmark}", s.handleInvoke).Methods(http.MethodPost)
	s.router.HandleFunc("/benchmarks", s.handleBenchmarks).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["benchmark"]

	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
		return
	}

	h, ok := s.harnesses[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("unknown benchmark %q", name)})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "read body: " + err.Error()})
		return
	}

	ev, err := harness.ParseEvent(body)
	if err != nil {
		writeJSON(w, StatusCode(err), ErrorResponse{Error: err.Error(), Stage: harness.StageEvent})
		return
	}

	env, err := h.Invoke(r.Context(), ev)
	s.record(r.Context(), h, ev, env, err)

	if err != nil {
		stage, _ := harness.StageOf(err)
		s.logger.Warn("invocation failed",
			slog.String("benchmark", name),
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)
		writeJSON(w, StatusCode(err), ErrorResponse{Error: err.Error(), Stage: stage})

		return
	}

	writeJSON(w, http.StatusOK, env)
}

func (s *Server) record(ctx context.Context, h *harness.Harness, ev *harness.Event, env *harness.Envelope, invokeErr error) {
	if s.recorder == nil {
		return
	}

	rec, err := store.NewRecord(h.Name(), h.OperationName(ev), env, invokeErr)
	if err == nil {
		_, err = s.recorder.Save(ctx, rec)
	}
	if err != nil {
		s.logger.Warn("failed to record invocation",
			slog.String("benchmark", h.Name()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) handleBenchmarks(w http.ResponseWriter, _ *http.Request) {
	infos := make([]BenchmarkInfo, 0, len(s.harnesses))
	for name, h := range s.harnesses {
		infos = append(infos, BenchmarkInfo{Name: name, Operations: h.Operations()})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// StatusCode maps an invocation error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, harness.ErrMalformedEvent), errors.Is(err, harness.ErrUnknownOperation):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, harness.ErrExternalProcess):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
