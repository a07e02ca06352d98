// Package server exposes the agent over HTTP: the push receive endpoint
// senders deliver to, health and status probes, and a small management
// surface for windows and notification interactions.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"webpush-agent/internal/clients"
	"webpush-agent/internal/display"
	"webpush-agent/internal/platform"
	"webpush-agent/internal/worker"
)

// Subscriptions reads the live push subscription.
type Subscriptions interface {
	Subscription(ctx context.Context) (*platform.Record, error)
	Invalidate(ctx context.Context) error
}

// Dispatcher feeds events into the background worker.
type Dispatcher interface {
	Push(ctx context.Context, ev worker.PushEvent) error
	Click(ctx context.Context, ev worker.ClickEvent) error
	Close(ctx context.Context, ev worker.CloseEvent) error
	Registration(ctx context.Context) (*worker.Registration, error)
}

// Server handles HTTP requests.
type Server struct {
	subs     Subscriptions
	worker   Dispatcher
	surface  *display.Surface
	registry *clients.Registry
	logger   *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Subscriptions Subscriptions
	Worker        Dispatcher
	Surface       *display.Surface
	Registry      *clients.Registry
	Logger        *slog.Logger
}

// New creates the HTTP handler.
func New(cfg *Config) *Server {
	return &Server{
		subs:     cfg.Subscriptions,
		worker:   cfg.Worker,
		surface:  cfg.Surface,
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/wp/", s.handlePush)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/statusz", s.handleStatus)
	mux.HandleFunc("/windows", s.handleWindows)
	mux.HandleFunc("/notifications/click", s.handleClick)
	mux.HandleFunc("/notifications/close", s.handleClose)
	return mux
}

// ListenAndServe starts the server on the given port and drains it when
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Timeouts prevent resource exhaustion from slow or stalled peers.
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	s.logger.Info("Starting HTTP server", "port", port)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := struct {
		Registration *worker.Registration `json:"registration"`
		Subscribed   bool                 `json:"subscribed"`
		Shown        int                  `json:"notifications_shown"`
		Windows      int                  `json:"windows_open"`
	}{}

	reg, err := s.worker.Registration(r.Context())
	if err != nil {
		s.logger.Warn("Failed to read registration", "error", err)
	}
	status.Registration = reg

	if _, err := s.subs.Subscription(r.Context()); err == nil {
		status.Subscribed = true
	}
	status.Shown = len(s.surface.Active())
	status.Windows = len(s.registry.List(r.Context()))

	writeJSON(w, s.logger, http.StatusOK, &status)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write JSON response", "error", err)
	}
}

// pathToken extracts the trailing token from /wp/{token}.
func pathToken(path string) string {
	token := strings.TrimPrefix(path, "/wp/")
	if token == "" || strings.Contains(token, "/") {
		return ""
	}
	return token
}

func parseTTL(r *http.Request) int {
	ttl, err := strconv.Atoi(r.Header.Get("TTL"))
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}
