// Package api serves the session and statement HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"math"
	"net/http"
	"time"

	"duckgate/internal/domain"
	"duckgate/internal/middleware"
	"duckgate/internal/session"
)

const maxBodyBytes = 1 << 20

// Sessions is the registry surface the API needs.
type Sessions interface {
	CreateSession(ctx context.Context, kind domain.SessionKind, ttl time.Duration) (string, error)
	GetSession(ctx context.Context, id string) (*session.Session, error)
	TouchSession(ctx context.Context, id string) error
	TerminateSession(ctx context.Context, id string) error
	ListSessions() iter.Seq[domain.SessionSummary]
	SweepExpired(ctx context.Context) int
	Stats() domain.RegistryStats
}

// Statements is the executor surface the API needs.
type Statements interface {
	Submit(ctx context.Context, sessionID, sqlText string, opts domain.StatementOptions) (string, error)
	GetStatement(ctx context.Context, handle string) (domain.StatementSnapshot, error)
	Cancel(ctx context.Context, handle string) (domain.CancelOutcome, error)
	Wait(ctx context.Context, handle string) (domain.StatementSnapshot, error)
}

// HandlerConfig tunes request handling.
type HandlerConfig struct {
	// SubmitWait is how long a submission waits for a terminal state before
	// answering 202 with a handle.
	SubmitWait time.Duration
}

// Handler implements the HTTP endpoints.
type Handler struct {
	cfg        HandlerConfig
	sessions   Sessions
	statements Statements
	history    domain.StatementHistoryReader
	clock      domain.Clock
	logger     *slog.Logger
}

// NewHandler creates a Handler. history may be nil, which disables the
// history endpoint.
func NewHandler(cfg HandlerConfig, sessions Sessions, statements Statements, history domain.StatementHistoryReader, clock domain.Clock, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		sessions:   sessions,
		statements: statements,
		history:    history,
		clock:      clock,
		logger:     logger.With("component", "api"),
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	stats := h.sessions.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": stats.ActiveSessions,
		"max_sessions":    stats.MaxSessions,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and writes an apiError body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := httpStatusFromDomainError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err,
			"request_id", middleware.RequestIDFromContext(r.Context()))
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, apiError{
		Code:      code,
		Message:   msg,
		RequestID: middleware.RequestIDFromContext(r.Context()),
	})
}

// maxSeconds is the largest second count a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// durationFromSeconds converts a client-supplied second count, rejecting
// values a time.Duration cannot represent. Sign checks are left to callers.
func durationFromSeconds(field string, n int64) (time.Duration, error) {
	if n > maxSeconds {
		return 0, domain.ErrValidation("%s must be at most %d", field, maxSeconds)
	}
	return time.Duration(n) * time.Second, nil
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}
