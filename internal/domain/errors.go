// Package domain defines core types, interfaces, and errors for the statement proxy.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// SessionNotFoundError indicates a session is absent, expired, or terminated.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %q not found or terminated", e.SessionID)
}

// StatementNotFoundError indicates an unknown or purged statement handle.
type StatementNotFoundError struct {
	Handle string
}

func (e *StatementNotFoundError) Error() string {
	return fmt.Sprintf("statement %q not found", e.Handle)
}

// CapacityExceededError indicates the registry is full and nothing could be evicted.
type CapacityExceededError struct {
	MaxSessions int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("maximum number of sessions (%d) reached and no session could be evicted", e.MaxSessions)
}

// InvariantViolationError reports resource-ownership corruption such as a
// double close of an engine handle. It always indicates a bug.
type InvariantViolationError struct {
	Message string
}

func (e *InvariantViolationError) Error() string { return "invariant violation: " + e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrSessionNotFound creates a SessionNotFoundError for the given id.
func ErrSessionNotFound(id string) *SessionNotFoundError {
	return &SessionNotFoundError{SessionID: id}
}

// ErrStatementNotFound creates a StatementNotFoundError for the given handle.
func ErrStatementNotFound(handle string) *StatementNotFoundError {
	return &StatementNotFoundError{Handle: handle}
}

// ErrCapacityExceeded creates a CapacityExceededError.
func ErrCapacityExceeded(maxSessions int) *CapacityExceededError {
	return &CapacityExceededError{MaxSessions: maxSessions}
}

// ErrInvariant creates an InvariantViolationError with a formatted message.
func ErrInvariant(format string, args ...interface{}) *InvariantViolationError {
	return &InvariantViolationError{Message: fmt.Sprintf(format, args...)}
}

// TranslationError is returned by a Translator when SQL cannot be rewritten
// into the engine dialect.
type TranslationError struct {
	Message string
}

func (e *TranslationError) Error() string { return "translation failed: " + e.Message }

// ErrTranslation creates a TranslationError with a formatted message.
func ErrTranslation(format string, args ...interface{}) *TranslationError {
	return &TranslationError{Message: fmt.Sprintf(format, args...)}
}
