// Package monitor exposes each process's health, snapshot state, and
// Prometheus metrics over HTTP, adapted from the teacher's dashboard
// API server into the supervisor-facing surface SPEC_FULL.md's DOMAIN
// STACK assigns to prometheus/client_golang.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SnapshotProvider is implemented by whatever component owns the live
// state a process wants to expose (position, last quote, supervisor
// heartbeat age). Kept minimal so cmd/* binaries can each supply their
// own view without this package depending on internal/strategy et al.
type SnapshotProvider interface {
	Snapshot() any
}

// Server runs the per-process monitoring HTTP surface: /health,
// /snapshot, and /metrics.
type Server struct {
	provider SnapshotProvider
	registry *prometheus.Registry
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a monitor server bound to addr (e.g. ":9090").
// registry may be nil, in which case a fresh one is created internally.
func NewServer(addr string, provider SnapshotProvider, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	mux := http.NewServeMux()
	h := &handlers{provider: provider, logger: logger.With("component", "monitor")}
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/snapshot", h.handleSnapshot)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		provider: provider,
		registry: registry,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "monitor"),
	}
}

// Registry returns the Prometheus registry backing /metrics, so callers
// can MustRegister their own collectors (e.g. supervisor gauges) before
// or after Start.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start runs the HTTP server, blocking until it stops or errors.
func (s *Server) Start() error {
	s.logger.Info("monitor server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor: server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping monitor server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type handlers struct {
	provider SnapshotProvider
	logger   *slog.Logger
}

func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *handlers) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var payload any
	if h.provider != nil {
		payload = h.provider.Snapshot()
	}

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
