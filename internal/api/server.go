// Package api provides the optional HTTP ops endpoint. It reports run
// state and statistics, serves Prometheus metrics, and streams live
// probe events over a websocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsenet/pulsescan/internal/errors"
	"github.com/pulsenet/pulsescan/internal/logging"
	"github.com/pulsenet/pulsescan/internal/metrics"
	"github.com/pulsenet/pulsescan/internal/scan"
)

const (
	readTimeout     = 10 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second

	httpErrorThreshold = 400
)

// RunProvider reports on the run the endpoint serves. The scan
// controller implements it.
type RunProvider interface {
	RunID() string
	State() scan.State
	Stats() scan.Stats
	Admitted() uint64
	Events() *scan.Bus
}

// Server is the HTTP ops endpoint. All routes are read-only; the run
// itself is driven by the CLI.
type Server struct {
	addr     string
	version  string
	provider RunProvider
	logger   *logging.Logger
	router   *mux.Router
	server   *http.Server

	mu       sync.Mutex
	listener net.Listener
	started  time.Time
}

// HealthResponse is the payload served at /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse is the payload served at /api/v1/status.
type StatusResponse struct {
	RunID         string     `json:"run_id"`
	State         string     `json:"state"`
	Admitted      uint64     `json:"admitted"`
	Stats         scan.Stats `json:"stats"`
	UptimeSeconds float64    `json:"uptime_seconds"`
}

// New creates an ops server bound to addr, reporting on provider.
// The provider must not be nil.
func New(addr, version string, provider RunProvider) *Server {
	s := &Server{
		addr:     addr,
		version:  version,
		provider: provider,
		logger:   logging.Default().WithComponent("api"),
	}

	s.router = mux.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	return s
}

// Start binds the listener and serves until the context is canceled
// or the server fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapScanError(errors.CodeServiceUnavailable,
			fmt.Sprintf("failed to bind API listener on %s", s.addr), err)
	}

	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	s.logger.Info("API server starting", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if serveErr := s.server.Serve(listener); serveErr != nil && !stderrors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case err := <-errCh:
		return errors.WrapScanError(errors.CodeServiceUnavailable, "API server failed", err)
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop gracefully shuts down the server, waiting briefly for open
// requests to finish.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("API server stopping")
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.WrapScanError(errors.CodeServiceUnavailable, "API server shutdown failed", err)
	}
	return nil
}

// Addr reports the bound listener address; empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{http.MethodGet}),
	))
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(
		metrics.GetGlobalMetrics().GetRegistry(),
		promhttp.HandlerOpts{},
	)).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
}

// loggingMiddleware logs each request and records request metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", duration,
			"remote_addr", r.RemoteAddr)

		labels := metrics.Labels{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": fmt.Sprintf("%d", wrapped.statusCode),
		}
		metrics.Counter("http_requests_total", labels)
		metrics.Histogram("http_request_duration_seconds", duration.Seconds(), metrics.Labels{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		if wrapped.statusCode >= httpErrorThreshold {
			metrics.Counter("http_errors_total", labels)
		}
	})
}

// recoveryMiddleware turns handler panics into 500 responses.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("HTTP request panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec)
				s.writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "internal server error",
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying writer so websocket upgrades can
// reach the raw connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	var uptime float64
	if !started.IsZero() {
		uptime = time.Since(started).Seconds()
	}

	s.writeJSON(w, http.StatusOK, StatusResponse{
		RunID:         s.provider.RunID(),
		State:         s.provider.State().String(),
		Admitted:      s.provider.Admitted(),
		Stats:         s.provider.Stats(),
		UptimeSeconds: uptime,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
