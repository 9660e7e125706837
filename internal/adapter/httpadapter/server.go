package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/intelmap-ingest/internal/domain"
)

const (
	defaultWindow = 72 * time.Hour
	defaultLimit  = 500
	maxLimit      = 5000
)

// MessageReader serves the recent-messages query.
type MessageReader interface {
	RecentMessages(ctx context.Context, since time.Time, limit int) ([]domain.MessageRecord, error)
}

// Server exposes health, readiness, metrics, and the recent-messages API.
type Server struct {
	httpServer *http.Server
	messages   MessageReader
	now        func() time.Time
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// /api/messages routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, messages MessageReader, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		messages: messages,
		now:      time.Now,
		logger:   logger.With("component", "http"),
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/messages", s.handleMessages)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleMessages returns messages newer than ?since (a duration, default
// 72h), newest first, each with its locations.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	window, limit, err := parseMessagesQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	records, err := s.messages.RecentMessages(r.Context(), s.now().Add(-window), limit)
	if err != nil {
		s.logger.Error("recent messages query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if records == nil {
		records = []domain.MessageRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func parseMessagesQuery(r *http.Request) (time.Duration, int, error) {
	q := r.URL.Query()

	window := defaultWindow
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return 0, 0, errors.New("since must be a positive duration such as 72h")
		}
		window = d
	}

	limit := defaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxLimit {
			return 0, 0, errors.New("limit must be between 1 and 5000")
		}
		limit = n
	}
	return window, limit, nil
}

// Readiness combines several checkers; the first failure wins.
type Readiness []sharedobs.ReadinessChecker

func (r Readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
