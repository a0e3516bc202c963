package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"duckgate/internal/domain"
)

type createSessionRequest struct {
	Type       string `json:"type"`
	Path       string `json:"path"`
	TTLSeconds *int64 `json:"ttl_seconds"`
}

type sessionJSON struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Path           string    `json:"path,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	TTLSeconds     int64     `json:"ttl_seconds"`
	Busy           bool      `json:"busy"`
}

func sessionToAPI(s domain.SessionSummary) sessionJSON {
	return sessionJSON{
		ID:             s.ID,
		Type:           string(s.Kind.Mode),
		Path:           s.Kind.Path,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
		ExpiresAt:      s.ExpiresAt(),
		TTLSeconds:     int64(s.TTL / time.Second),
		Busy:           s.Busy,
	}
}

type statsJSON struct {
	ActiveSessions    int     `json:"active_sessions"`
	MaxSessions       int     `json:"max_sessions"`
	UsagePercent      float64 `json:"usage_percent"`
	DefaultTTLSeconds int64   `json:"default_ttl_seconds"`
	EvictionPolicy    string  `json:"eviction_policy"`
	Evictions         int64   `json:"evictions"`
	Expirations       int64   `json:"expirations"`
}

func statsToAPI(s domain.RegistryStats) statsJSON {
	return statsJSON{
		ActiveSessions:    s.ActiveSessions,
		MaxSessions:       s.MaxSessions,
		UsagePercent:      s.UsagePercent,
		DefaultTTLSeconds: int64(s.DefaultTTL / time.Second),
		EvictionPolicy:    string(s.EvictionPolicy),
		Evictions:         s.Evictions,
		Expirations:       s.Expirations,
	}
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	kind, err := domain.ParseSessionKind(req.Type, req.Path)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var ttl time.Duration
	if req.TTLSeconds != nil {
		if *req.TTLSeconds <= 0 {
			h.writeError(w, r, domain.ErrValidation("ttl_seconds must be positive"))
			return
		}
		if ttl, err = durationFromSeconds("ttl_seconds", *req.TTLSeconds); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	id, err := h.sessions.CreateSession(r.Context(), kind, ttl)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sess, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"session": sessionToAPI(sess.Summary()),
		"message": fmt.Sprintf("Created %s session %s", kind.Mode, id),
	})
}

func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := make([]sessionJSON, 0)
	for s := range h.sessions.ListSessions() {
		sessions = append(sessions, sessionToAPI(s))
	}
	stats := h.sessions.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"active_sessions": stats.ActiveSessions,
		"max_sessions":    stats.MaxSessions,
		"sessions":        sessions,
	})
}

func (h *Handler) sessionStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsToAPI(h.sessions.Stats()))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": sessionToAPI(sess.Summary())})
}

func (h *Handler) touchSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.sessions.TouchSession(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	sess, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": sessionToAPI(sess.Summary())})
}

func (h *Handler) terminateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.sessions.TerminateSession(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Session %s terminated successfully", id),
	})
}

func (h *Handler) cleanupSessions(w http.ResponseWriter, r *http.Request) {
	n := h.sessions.SweepExpired(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"message":          fmt.Sprintf("Cleaned up %d expired sessions", n),
		"sessions_cleaned": n,
	})
}
