package api

import (
	"errors"
	"net/http"

	"duckgate/internal/domain"
)

// apiError is the JSON body of every non-statement error response.
type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// Error codes for non-statement failures.
const (
	codeInvalidRequest    = "INVALID_REQUEST"
	codeSessionNotFound   = "SESSION_NOT_FOUND"
	codeStatementNotFound = "STATEMENT_NOT_FOUND"
	codeNotFound          = "NOT_FOUND"
	codeConflict          = "CONFLICT"
	codeCapacityExceeded  = "CAPACITY_EXCEEDED"
	codeInternal          = "INTERNAL_ERROR"
)

// httpStatusFromDomainError maps domain errors to an HTTP status and code.
func httpStatusFromDomainError(err error) (int, string) {
	var (
		sessionNotFound   *domain.SessionNotFoundError
		statementNotFound *domain.StatementNotFoundError
		notFound          *domain.NotFoundError
		validation        *domain.ValidationError
		conflict          *domain.ConflictError
		capacity          *domain.CapacityExceededError
	)

	switch {
	case errors.As(err, &sessionNotFound):
		return http.StatusNotFound, codeSessionNotFound
	case errors.As(err, &statementNotFound):
		return http.StatusNotFound, codeStatementNotFound
	case errors.As(err, &notFound):
		return http.StatusNotFound, codeNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.As(err, &conflict):
		return http.StatusConflict, codeConflict
	case errors.As(err, &capacity):
		return http.StatusServiceUnavailable, codeCapacityExceeded
	default:
		return http.StatusInternalServerError, codeInternal
	}
}
