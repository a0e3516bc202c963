package statement

import (
	"context"
	"sync"
	"time"

	"duckgate/internal/domain"
)

// Statement is one submitted SQL unit. All transitions go through mu and are
// refused once the status is terminal.
type Statement struct {
	handle    string
	sessionID string
	principal string
	sqlText   string
	options   domain.StatementOptions
	createdAt time.Time
	clock     domain.Clock

	// ctx is cancelled by Cancel and Abort; the background unit runs under it.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu              sync.Mutex
	status          domain.StatementStatus
	startedAt       *time.Time
	completedAt     *time.Time
	result          *domain.ResultSet
	err             *domain.StatementError
	cancelRequested bool
}

func newStatement(sessionID, principal, sqlText string, opts domain.StatementOptions, clock domain.Clock) *Statement {
	ctx, cancel := context.WithCancel(context.Background())
	return &Statement{
		handle:    domain.NewID(),
		sessionID: sessionID,
		principal: principal,
		sqlText:   sqlText,
		options:   opts,
		createdAt: clock.Now(),
		clock:     clock,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    domain.StatementStatusSubmitted,
	}
}

// Snapshot returns an immutable copy of the statement state.
func (s *Statement) Snapshot() domain.StatementSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.StatementSnapshot{
		Handle:          s.handle,
		SessionID:       s.sessionID,
		Principal:       s.principal,
		SQLText:         s.sqlText,
		Options:         s.options,
		Status:          s.status,
		CreatedAt:       s.createdAt,
		StartedAt:       s.startedAt,
		CompletedAt:     s.completedAt,
		Result:          s.result,
		Error:           s.err,
		CancelRequested: s.cancelRequested,
	}
}

// Abort forces the statement to Canceled. Called by the session registry
// when the owning session is terminated.
func (s *Statement) Abort() {
	s.mu.Lock()
	if !s.status.IsTerminal() {
		s.cancelRequested = true
		s.completeLocked(domain.StatementStatusCanceled, nil, nil)
	}
	s.mu.Unlock()
	s.cancel()
}

// requestCancel sets the cancel flag. A Submitted statement is canceled at
// once; a Running one is signalled and finishes on its own.
func (s *Statement) requestCancel() domain.CancelOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case domain.StatementStatusSubmitted:
		s.cancelRequested = true
		s.completeLocked(domain.StatementStatusCanceled, nil, nil)
		s.cancel()
		return domain.CancelOutcomeCanceled
	case domain.StatementStatusRunning:
		s.cancelRequested = true
		s.cancel()
		return domain.CancelOutcomePending
	default:
		return domain.CancelOutcomeAlreadyTerminal
	}
}

func (s *Statement) isCancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

// start moves Submitted to Running. Returns false if the statement was
// canceled in the meantime.
func (s *Statement) start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatementStatusSubmitted || s.cancelRequested {
		return false
	}
	now := s.clock.Now()
	s.status = domain.StatementStatusRunning
	s.startedAt = &now
	return true
}

// finish records a terminal state. Returns false if already terminal.
func (s *Statement) finish(status domain.StatementStatus, result *domain.ResultSet, serr *domain.StatementError) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return false
	}
	s.completeLocked(status, result, serr)
	return true
}

func (s *Statement) completeLocked(status domain.StatementStatus, result *domain.ResultSet, serr *domain.StatementError) {
	now := s.clock.Now()
	s.status = status
	s.completedAt = &now
	if status == domain.StatementStatusSucceeded {
		s.result = result
	}
	if status == domain.StatementStatusFailed {
		s.err = serr
	}
	close(s.done)
}

func (s *Statement) terminalBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.IsTerminal() && s.completedAt != nil && s.completedAt.Before(cutoff)
}
