// Package statement runs submitted SQL asynchronously against session engine
// handles and serves status, results and cancellation to pollers.
package statement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"duckgate/internal/domain"
	"duckgate/internal/session"
)

// DefaultRetention is how long terminal statements stay pollable.
const DefaultRetention = 15 * time.Minute

const historyTimeout = 5 * time.Second

// Config controls executor limits.
type Config struct {
	// MaxConcurrent caps statements executing at once across all sessions.
	// Zero means unbounded.
	MaxConcurrent int64
	// Retention is how long terminal statements are kept before Purge drops them.
	Retention time.Duration
}

// Sessions is the part of the session registry the executor depends on.
// Implemented by session.Registry.
type Sessions interface {
	Use(ctx context.Context, id string) (*session.Session, error)
	Refresh(id string) bool
	Active(id string) bool
}

// Executor accepts statements and executes them in the background, one at a
// time per session and in submission order.
type Executor struct {
	sessions   Sessions
	translator domain.Translator
	clock      domain.Clock
	history    domain.StatementHistory
	sem        *semaphore.Weighted
	cfg        Config
	logger     *slog.Logger

	mu         sync.RWMutex
	statements map[string]*Statement

	wg sync.WaitGroup
}

// NewExecutor creates an Executor. history may be nil.
func NewExecutor(cfg Config, sessions Sessions, translator domain.Translator, clock domain.Clock, history domain.StatementHistory, logger *slog.Logger) *Executor {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		sessions:   sessions,
		translator: translator,
		clock:      clock,
		history:    history,
		cfg:        cfg,
		logger:     logger.With("component", "statement-executor"),
		statements: make(map[string]*Statement),
	}
	if cfg.MaxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	return e
}

// Retention returns the configured retention period.
func (e *Executor) Retention() time.Duration { return e.cfg.Retention }

// Submit validates the session, records the statement as Submitted, reserves
// its execution turn and starts the background unit. It never waits for
// execution.
func (e *Executor) Submit(ctx context.Context, sessionID, sqlText string, opts domain.StatementOptions) (string, error) {
	if strings.TrimSpace(sqlText) == "" {
		return "", domain.ErrValidation("sql statement is required")
	}
	if opts.Timeout < 0 {
		return "", domain.ErrValidation("timeout must not be negative")
	}

	sess, err := e.sessions.Use(ctx, sessionID)
	if err != nil {
		return "", err
	}

	var principal string
	if p, ok := domain.PrincipalFromContext(ctx); ok {
		principal = p.Name
	}
	st := newStatement(sessionID, principal, sqlText, opts, e.clock)
	turn, err := sess.Reserve(st)
	if err != nil {
		st.cancel()
		return "", err
	}

	e.mu.Lock()
	e.statements[st.handle] = st
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(st, sess, turn)

	e.logger.Debug("statement submitted", "handle", st.handle, "session_id", sessionID)
	return st.handle, nil
}

func (e *Executor) lookup(handle string) (*Statement, error) {
	e.mu.RLock()
	st, ok := e.statements[handle]
	e.mu.RUnlock()
	if !ok {
		return nil, domain.ErrStatementNotFound(handle)
	}
	return st, nil
}

// GetStatement returns a snapshot of the statement. Polling refreshes the
// owning session when it is still active.
func (e *Executor) GetStatement(_ context.Context, handle string) (domain.StatementSnapshot, error) {
	st, err := e.lookup(handle)
	if err != nil {
		return domain.StatementSnapshot{}, err
	}
	e.sessions.Refresh(st.sessionID)
	return st.Snapshot(), nil
}

// Cancel requests cancellation. It never waits for the statement to stop.
func (e *Executor) Cancel(_ context.Context, handle string) (domain.CancelOutcome, error) {
	st, err := e.lookup(handle)
	if err != nil {
		return "", err
	}
	outcome := st.requestCancel()
	e.logger.Info("statement cancel requested", "handle", handle, "outcome", string(outcome))
	return outcome, nil
}

// Wait blocks until the statement is terminal or ctx is done, and returns the
// latest snapshot either way. The ctx error is returned when it fires first.
func (e *Executor) Wait(ctx context.Context, handle string) (domain.StatementSnapshot, error) {
	st, err := e.lookup(handle)
	if err != nil {
		return domain.StatementSnapshot{}, err
	}
	select {
	case <-st.done:
		return st.Snapshot(), nil
	case <-ctx.Done():
		return st.Snapshot(), ctx.Err()
	}
}

// Purge drops terminal statements that completed more than olderThan ago
// and whose session is no longer active, and returns how many were removed.
// Statements of an active session stay pollable regardless of age.
func (e *Executor) Purge(olderThan time.Duration) int {
	cutoff := e.clock.Now().Add(-olderThan)

	e.mu.RLock()
	candidates := make(map[string]string)
	for h, st := range e.statements {
		if st.terminalBefore(cutoff) {
			candidates[h] = st.sessionID
		}
	}
	e.mu.RUnlock()

	active := make(map[string]bool)
	for _, sid := range candidates {
		if _, seen := active[sid]; !seen {
			active[sid] = e.sessions.Active(sid)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for h, sid := range candidates {
		if active[sid] {
			continue
		}
		if _, ok := e.statements[h]; ok {
			delete(e.statements, h)
			n++
		}
	}
	return n
}

// Len returns the number of retained statements.
func (e *Executor) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.statements)
}

// Close waits for every background unit to exit. Sessions should be shut
// down first so queued units are aborted.
func (e *Executor) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for statements: %w", ctx.Err())
	}
}

// run is the background unit and the only place a statement executes.
func (e *Executor) run(st *Statement, sess *session.Session, turn *session.Turn) {
	defer e.wg.Done()
	defer e.record(st)
	defer st.cancel()

	if st.isCancelRequested() {
		turn.Abandon()
		st.finish(domain.StatementStatusCanceled, nil, nil)
		return
	}
	if err := turn.Wait(st.ctx); err != nil {
		turn.Abandon()
		st.finish(domain.StatementStatusCanceled, nil, nil)
		return
	}
	defer turn.Release()

	if e.sem != nil {
		if err := e.sem.Acquire(st.ctx, 1); err != nil {
			st.finish(domain.StatementStatusCanceled, nil, nil)
			return
		}
		defer e.sem.Release(1)
	}

	if !st.start() {
		return
	}

	ctx := st.ctx
	if st.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.options.Timeout)
		defer cancel()
	}

	translated, err := e.translator.Translate(ctx, st.sqlText, st.options.TranslationContext())
	if err != nil {
		e.fail(ctx, st, domain.StatementErrorTranslation, domain.SQLStateSyntaxError, err)
		return
	}

	result, err := sess.Execute(ctx, translated)
	switch {
	case st.isCancelRequested():
		st.finish(domain.StatementStatusCanceled, nil, nil)
	case err != nil:
		e.fail(ctx, st, domain.StatementErrorExecution, domain.SQLStateExecution, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		// The engine ignored the deadline and finished late; the result is discarded.
		e.fail(ctx, st, domain.StatementErrorTimeout, domain.SQLStateQueryCanceled, ctx.Err())
	default:
		if result == nil {
			result = &domain.ResultSet{}
		}
		result.TranslatedSQL = translated
		st.finish(domain.StatementStatusSucceeded, result, nil)
	}
}

// fail records a failure, classifying deadline expiry as a timeout and an
// observed cancel as Canceled.
func (e *Executor) fail(ctx context.Context, st *Statement, code domain.StatementErrorCode, sqlState string, err error) {
	if st.isCancelRequested() {
		st.finish(domain.StatementStatusCanceled, nil, nil)
		return
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		st.finish(domain.StatementStatusFailed, nil, &domain.StatementError{
			Code:     domain.StatementErrorTimeout,
			SQLState: domain.SQLStateQueryCanceled,
			Message:  fmt.Sprintf("statement exceeded timeout of %s", st.options.Timeout),
		})
		return
	}
	st.finish(domain.StatementStatusFailed, nil, &domain.StatementError{
		Code:     code,
		SQLState: sqlState,
		Message:  err.Error(),
	})
}

// record writes the terminal statement to history. Best effort: failures are
// logged and never affect the statement.
func (e *Executor) record(st *Statement) {
	snap := st.Snapshot()
	if !snap.Status.IsTerminal() {
		e.logger.Error("statement unit exited without terminal state", "handle", snap.Handle, "status", string(snap.Status))
		st.finish(domain.StatementStatusCanceled, nil, nil)
		snap = st.Snapshot()
	}
	e.logger.Debug("statement finished", "handle", snap.Handle, "session_id", snap.SessionID, "status", string(snap.Status))
	if e.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := e.history.Record(ctx, domain.NewHistoryEntry(snap)); err != nil {
		e.logger.Warn("record statement history", "handle", snap.Handle, "error", err)
	}
}
