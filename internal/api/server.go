// Package api exposes the HTTP interface for the chart crawler.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
	"github.com/JakeFAU/billboard-chart-crawler/internal/clock/system"
	"github.com/JakeFAU/billboard-chart-crawler/internal/config"
	"github.com/JakeFAU/billboard-chart-crawler/internal/metrics"
	"github.com/JakeFAU/billboard-chart-crawler/internal/orchestrator"
)

// Runner executes ingestion batches.
type Runner interface {
	Run(ctx context.Context, date time.Time) (orchestrator.Report, error)
	Backfill(ctx context.Context, start, end time.Time) (orchestrator.Report, error)
}

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router chi.Router
	runner Runner
	idGen  chart.IDGenerator
	clock  chart.Clock
	logger *zap.Logger
	runs   *runRegistry

	// Background runs outlive their request and stop when Close is called.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runner Runner,
	idGen chart.IDGenerator,
	clock chart.Clock,
	cfg config.Config,
	logger *zap.Logger,
) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runs, err := newRunRegistry(cfg.Server.RunHistory)
	if err != nil {
		return nil, fmt.Errorf("create run registry: %w", err)
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:  runner,
		idGen:   idGen,
		clock:   clock,
		logger:  logger.Named("api"),
		runs:    runs,
		baseCtx: baseCtx,
		cancel:  cancel,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Server.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.Server.APIKey))
		}
		r.Use(timeoutMiddleware(30 * time.Second))
		r.Post("/runs", s.submitRun)
		r.Post("/backfills", s.submitBackfill)
		r.Get("/runs/{run_id}", s.getRun)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close cancels in-flight runs and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every submitted run has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.baseCtx.Err() != nil {
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runRequest struct {
	Date string `json:"date"`
}

type backfillRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	// An empty body runs for today.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	date := system.DateOf(s.clock.Now())
	if req.Date != "" {
		parsed, err := chart.ParseDate(req.Date)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	s.start(w, "run", date, date, func(ctx context.Context) (orchestrator.Report, error) {
		return s.runner.Run(ctx, date)
	})
}

func (s *Server) submitBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	start, err := chart.ParseDate(req.Start)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	end, err := chart.ParseDate(req.End)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		s.writeError(w, http.StatusBadRequest, "end must not be before start")
		return
	}
	s.start(w, "backfill", start, end, func(ctx context.Context) (orchestrator.Report, error) {
		return s.runner.Backfill(ctx, start, end)
	})
}

func (s *Server) start(w http.ResponseWriter, kind string, start, end time.Time, fn func(context.Context) (orchestrator.Report, error)) {
	if s.baseCtx.Err() != nil {
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	id, err := s.idGen.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("generate run id: %v", err))
		return
	}
	run := &runState{
		id:        id,
		kind:      kind,
		start:     start,
		end:       end,
		status:    runRunning,
		submitted: s.clock.Now(),
	}
	s.runs.add(run)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		report, err := fn(s.baseCtx)
		run.finish(s.clock.Now(), report, err)
		if err != nil {
			s.logger.Error("Run failed", zap.String("id", id), zap.String("kind", kind), zap.Error(err))
			return
		}
		s.logger.Info("Run finished",
			zap.String("id", id),
			zap.String("kind", kind),
			zap.Int("succeeded", report.Succeeded()),
			zap.Int("failed", len(report.Failed())),
		)
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": runRunning})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.get(chi.URLParam(r, "run_id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, run.view())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.Stack("stack"))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
