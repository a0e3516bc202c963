package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"duckgate/internal/domain"
)

type historyEntryJSON struct {
	ID            int64      `json:"id"`
	Handle        string     `json:"statement_handle"`
	SessionID     string     `json:"session_id"`
	Principal     string     `json:"principal,omitempty"`
	SQLText       string     `json:"sql_text"`
	TranslatedSQL *string    `json:"translated_sql,omitempty"`
	Status        string     `json:"status"`
	ErrorCode     *string    `json:"error_code,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	RowCount      int64      `json:"row_count"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   time.Time  `json:"completed_at"`
}

func historyEntryToAPI(e domain.HistoryEntry) historyEntryJSON {
	return historyEntryJSON{
		ID:            e.ID,
		Handle:        e.Handle,
		SessionID:     e.SessionID,
		Principal:     e.Principal,
		SQLText:       e.SQLText,
		TranslatedSQL: e.TranslatedSQL,
		Status:        string(e.Status),
		ErrorCode:     e.ErrorCode,
		ErrorMessage:  e.ErrorMessage,
		RowCount:      e.RowCount,
		DurationMs:    e.DurationMs,
		CreatedAt:     e.CreatedAt,
		StartedAt:     e.StartedAt,
		CompletedAt:   e.CompletedAt,
	}
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilterFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, total, err := h.history.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]historyEntryJSON, len(entries))
	for i, e := range entries {
		out[i] = historyEntryToAPI(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"total":   total,
		"limit":   filter.EffectiveLimit(),
		"offset":  filter.Offset,
	})
}

func (h *Handler) getHistoryEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.history.Get(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyEntryToAPI(e))
}

type historyStatsJSON struct {
	Total          int64            `json:"total"`
	ByStatus       map[string]int64 `json:"by_status"`
	AvgDurationMs  float64          `json:"avg_duration_ms"`
	TotalRowCount  int64            `json:"total_row_count"`
	FirstCompleted *time.Time       `json:"first_completed_at,omitempty"`
	LastCompleted  *time.Time       `json:"last_completed_at,omitempty"`
}

func (h *Handler) historyStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.history.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	byStatus := make(map[string]int64, len(s.ByStatus))
	for st, n := range s.ByStatus {
		byStatus[string(st)] = n
	}
	writeJSON(w, http.StatusOK, historyStatsJSON{
		Total:          s.Total,
		ByStatus:       byStatus,
		AvgDurationMs:  s.AvgDurationMs,
		TotalRowCount:  s.TotalRowCount,
		FirstCompleted: s.FirstCompleted,
		LastCompleted:  s.LastCompleted,
	})
}

func historyFilterFromQuery(r *http.Request) (domain.HistoryFilter, error) {
	q := r.URL.Query()
	var f domain.HistoryFilter
	if v := q.Get("session_id"); v != "" {
		f.SessionID = &v
	}
	if v := q.Get("status"); v != "" {
		st := domain.StatementStatus(strings.ToUpper(v))
		if !st.IsTerminal() {
			return f, domain.ErrValidation("status must be one of SUCCEEDED, FAILED, CANCELED")
		}
		f.Status = &st
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, domain.ErrValidation("since must be an RFC 3339 timestamp")
		}
		f.Since = &t
	}
	if v := q.Get("text"); v != "" {
		f.Text = &v
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, domain.ErrValidation("%s must be a non-negative integer", key)
		}
		*dst = n
	}
	return f, nil
}
