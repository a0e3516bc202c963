package domain

import "time"

// StatementStatus represents the lifecycle state of a submitted statement.
type StatementStatus string

// Statement lifecycle statuses.
const (
	StatementStatusSubmitted StatementStatus = "SUBMITTED"
	StatementStatusRunning   StatementStatus = "RUNNING"
	StatementStatusSucceeded StatementStatus = "SUCCEEDED"
	StatementStatusFailed    StatementStatus = "FAILED"
	StatementStatusCanceled  StatementStatus = "CANCELED"
)

// IsTerminal reports whether the status can no longer change.
func (s StatementStatus) IsTerminal() bool {
	switch s {
	case StatementStatusSucceeded, StatementStatusFailed, StatementStatusCanceled:
		return true
	}
	return false
}

// StatementErrorCode classifies a failed statement.
type StatementErrorCode string

// Statement error codes.
const (
	StatementErrorTranslation StatementErrorCode = "TRANSLATION"
	StatementErrorExecution   StatementErrorCode = "EXECUTION"
	StatementErrorTimeout     StatementErrorCode = "TIMEOUT"
)

// SQLSTATE values reported for failed statements.
const (
	SQLStateSyntaxError   = "42000"
	SQLStateExecution     = "XX000"
	SQLStateQueryCanceled = "57014"
)

// StatementError is the recorded failure of a statement.
type StatementError struct {
	Code     StatementErrorCode
	SQLState string
	Message  string
}

func (e *StatementError) Error() string { return string(e.Code) + ": " + e.Message }

// StatementOptions are per-statement settings. Database, Schema, Warehouse and
// Role are passed through to the translator untouched.
type StatementOptions struct {
	Timeout   time.Duration
	Database  string
	Schema    string
	Warehouse string
	Role      string
}

// TranslationContext returns the translator view of the options.
func (o StatementOptions) TranslationContext() TranslationContext {
	return TranslationContext{
		Database:  o.Database,
		Schema:    o.Schema,
		Warehouse: o.Warehouse,
		Role:      o.Role,
	}
}

// Column describes one result column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// ResultSet holds a fully materialized statement result.
type ResultSet struct {
	Columns       []Column
	Rows          [][]any
	TranslatedSQL string
}

// RowCount returns the number of rows in the result.
func (r *ResultSet) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// StatementSnapshot is an immutable copy of a statement's state.
type StatementSnapshot struct {
	Handle          string
	SessionID       string
	Principal       string
	SQLText         string
	Options         StatementOptions
	Status          StatementStatus
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Result          *ResultSet
	Error           *StatementError
	CancelRequested bool
}

// CancelOutcome reports what a cancel request achieved.
type CancelOutcome string

// Cancel outcomes.
const (
	// CancelOutcomeCanceled means the statement had not started and never will.
	CancelOutcomeCanceled CancelOutcome = "CANCELED"
	// CancelOutcomePending means the statement was running and has been signalled.
	CancelOutcomePending CancelOutcome = "PENDING"
	// CancelOutcomeAlreadyTerminal means nothing changed.
	CancelOutcomeAlreadyTerminal CancelOutcome = "ALREADY_TERMINAL"
)
