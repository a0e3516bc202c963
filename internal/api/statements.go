package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"duckgate/internal/domain"
	"duckgate/internal/middleware"
)

// SessionHeader names the session a statement runs in.
const SessionHeader = "X-Session-ID"

type submitStatementRequest struct {
	Statement string `json:"statement"`
	Timeout   *int64 `json:"timeout"` // seconds
	Database  string `json:"database"`
	Schema    string `json:"schema"`
	Warehouse string `json:"warehouse"`
	Role      string `json:"role"`
}

type cancelJSON struct {
	Code            string `json:"code"`
	SQLState        string `json:"sqlState"`
	Message         string `json:"message"`
	StatementHandle string `json:"statementHandle"`
	Outcome         string `json:"outcome"`
}

func (h *Handler) submitStatement(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		sessionID = r.URL.Query().Get("sessionId")
	}
	if sessionID == "" {
		h.writeError(w, r, domain.ErrValidation("session id is required (%s header or sessionId query parameter)", SessionHeader))
		return
	}

	var req submitStatementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	opts := domain.StatementOptions{
		Database:  req.Database,
		Schema:    req.Schema,
		Warehouse: req.Warehouse,
		Role:      req.Role,
	}
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

	handle, err := h.statements.Submit(r.Context(), sessionID, req.Statement, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Debug("statement accepted", "handle", handle, "session_id", sessionID,
		"request_id", middleware.RequestIDFromContext(r.Context()))

	snap, err := h.waitForStatement(r, handle)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeStatement(w, snap)
}

// waitForStatement waits up to the submit budget unless the client asked
// for async execution.
func (h *Handler) waitForStatement(r *http.Request, handle string) (domain.StatementSnapshot, error) {
	if h.cfg.SubmitWait <= 0 || strings.EqualFold(r.URL.Query().Get("async"), "true") {
		return h.statements.GetStatement(r.Context(), handle)
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.SubmitWait)
	defer cancel()
	snap, err := h.statements.Wait(ctx, handle)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return snap, nil
	}
	return snap, err
}

func (h *Handler) getStatement(w http.ResponseWriter, r *http.Request) {
	snap, err := h.statements.GetStatement(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.writeStatementError(w, r, err)
		return
	}
	h.writeStatement(w, snap)
}

func (h *Handler) cancelStatement(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	outcome, err := h.statements.Cancel(r.Context(), handle)
	if err != nil {
		h.writeStatementError(w, r, err)
		return
	}

	body := cancelJSON{
		StatementHandle: handle,
		Outcome:         string(outcome),
		SQLState:        domain.SQLStateQueryCanceled,
	}
	status := http.StatusOK
	switch outcome {
	case domain.CancelOutcomeCanceled:
		body.Code, body.Message = codeCanceled, "SQL execution canceled"
	case domain.CancelOutcomePending:
		status = http.StatusAccepted
		body.Code, body.Message = codeAsyncInProgress, "Cancellation requested; statement is stopping"
	default:
		body.Code, body.SQLState, body.Message = codeSuccess, sqlStateSuccess, "Statement already finished"
	}
	writeJSON(w, status, body)
}

func (h *Handler) writeStatement(w http.ResponseWriter, snap domain.StatementSnapshot) {
	status, body := statementResponse(snap, h.clock.Now())
	writeJSON(w, status, body)
}

// writeStatementError uses the warehouse error body for unknown handles.
func (h *Handler) writeStatementError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *domain.StatementNotFoundError
	if errors.As(err, &notFound) {
		writeJSON(w, http.StatusNotFound, statementJSON{
			Code:            codeNoSuchStatement,
			SQLState:        "02000",
			Message:         err.Error(),
			StatementHandle: notFound.Handle,
			DateTime:        h.clock.Now().UTC().Format(time.RFC3339Nano),
		})
		return
	}
	h.writeError(w, r, err)
}
