package api

import (
	"errors"
	"net/http"
	"strings"

	"duckgate/internal/domain"
)

const codeSQLExecution = "SQL_EXECUTION_ERROR"

type queryRequest struct {
	SQL       string `json:"sql"`
	SessionID string `json:"session_id"`
	Timeout   *int64 `json:"timeout"` // seconds
	Database  string `json:"database"`
	Schema    string `json:"schema"`
}

type queryResponse struct {
	Success       bool             `json:"success"`
	Data          []map[string]any `json:"data"`
	Columns       []string         `json:"columns"`
	ExecutionTime float64          `json:"execution_time"`
	TranslatedSQL string           `json:"translated_sql"`
	Message       string           `json:"message"`
	SessionID     string           `json:"session_id"`
	Handle        string           `json:"statement_handle"`
}

type queryErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Detail    string `json:"detail"`
	SessionID string `json:"session_id"`
	Handle    string `json:"statement_handle,omitempty"`
}

// query runs one statement synchronously. A missing or unknown session_id
// gets a fresh memory session, whose id is returned for reuse.
func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		h.writeError(w, r, domain.ErrValidation("sql is required"))
		return
	}
	opts := domain.StatementOptions{Database: req.Database, Schema: req.Schema}
	if req.Timeout != nil {
		if *req.Timeout < 0 {
			h.writeError(w, r, domain.ErrValidation("timeout must not be negative"))
			return
		}
		timeout, err := durationFromSeconds("timeout", *req.Timeout)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		opts.Timeout = timeout
	}

	sessionID, err := h.sessionForQuery(r, req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	handle, err := h.statements.Submit(r.Context(), sessionID, req.SQL, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.statements.Wait(r.Context(), handle)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if snap.Status != domain.StatementStatusSucceeded {
		detail := "SQL execution canceled"
		if snap.Error != nil {
			detail = snap.Error.Message
		}
		writeJSON(w, http.StatusBadRequest, queryErrorResponse{
			Error:     codeSQLExecution,
			Detail:    detail,
			SessionID: sessionID,
			Handle:    handle,
		})
		return
	}
	writeJSON(w, http.StatusOK, queryResult(snap))
}

// sessionForQuery returns id when it names a live session and creates a
// memory session otherwise.
func (h *Handler) sessionForQuery(r *http.Request, id string) (string, error) {
	if id != "" {
		_, err := h.sessions.GetSession(r.Context(), id)
		var notFound *domain.SessionNotFoundError
		switch {
		case err == nil:
			return id, nil
		case !errors.As(err, &notFound):
			return "", err
		}
		h.logger.Debug("query session not found, creating one", "session_id", id)
	}
	return h.sessions.CreateSession(r.Context(), domain.MemoryKind(), 0)
}

func queryResult(snap domain.StatementSnapshot) queryResponse {
	out := queryResponse{
		Success:   true,
		Data:      []map[string]any{},
		Columns:   []string{},
		Message:   "Query executed successfully",
		SessionID: snap.SessionID,
		Handle:    snap.Handle,
	}
	if snap.StartedAt != nil && snap.CompletedAt != nil {
		out.ExecutionTime = snap.CompletedAt.Sub(*snap.StartedAt).Seconds()
	}
	rs := snap.Result
	if rs == nil {
		return out
	}
	out.TranslatedSQL = rs.TranslatedSQL
	for _, c := range rs.Columns {
		out.Columns = append(out.Columns, c.Name)
	}
	for _, row := range rs.Rows {
		m := make(map[string]any, len(row))
		for i, v := range row {
			if i < len(rs.Columns) {
				m[rs.Columns[i].Name] = v
			}
		}
		out.Data = append(out.Data, m)
	}
	if len(rs.Columns) == 0 {
		out.Message = "Statement executed successfully"
	}
	return out
}
