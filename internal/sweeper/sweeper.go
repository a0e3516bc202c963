// Package sweeper periodically expires idle sessions and purges old
// statements on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"duckgate/internal/domain"
)

// DefaultSchedule runs a sweep every five minutes.
const DefaultSchedule = "@every 5m"

// Sessions is the registry surface the sweeper drives.
type Sessions interface {
	SweepExpired(ctx context.Context) int
}

// Statements is the executor surface the sweeper drives.
type Statements interface {
	Purge(olderThan time.Duration) int
	Retention() time.Duration
}

// HistoryPruner deletes persisted history older than a cutoff.
type HistoryPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the sweep schedule. A zero HistoryRetention keeps
// history forever.
type Config struct {
	Schedule         string
	HistoryRetention time.Duration
}

// Result reports what one sweep removed.
type Result struct {
	ExpiredSessions int
	PurgedStmts     int
	PrunedHistory   int64
}

// Sweeper runs Result-producing sweeps on a cron schedule.
type Sweeper struct {
	cfg        Config
	cron       *cron.Cron
	sessions   Sessions
	statements Statements
	history    HistoryPruner
	clock      domain.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	started bool
}

// New creates a sweeper. history may be nil.
func New(cfg Config, sessions Sessions, statements Statements, history HistoryPruner, clock domain.Clock, logger *slog.Logger) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:        cfg,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sessions:   sessions,
		statements: statements,
		history:    history,
		clock:      clock,
		logger:     logger.With("component", "sweeper"),
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return domain.ErrConflict("sweeper already started")
	}

	base := context.WithoutCancel(ctx)
	id, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.RunOnce(base) })
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.Schedule, err)
	}
	s.entry = id
	s.started = true
	s.cron.Start()
	s.logger.Info("sweeper started", "schedule", s.cfg.Schedule)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cron.Remove(s.entry)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// Next returns the time of the next scheduled sweep, or zero if stopped.
func (s *Sweeper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// RunOnce performs a single sweep immediately.
func (s *Sweeper) RunOnce(ctx context.Context) Result {
	var res Result
	res.ExpiredSessions = s.sessions.SweepExpired(ctx)
	res.PurgedStmts = s.statements.Purge(s.statements.Retention())

	if s.history != nil && s.cfg.HistoryRetention > 0 {
		n, err := s.history.Prune(ctx, s.clock.Now().Add(-s.cfg.HistoryRetention))
		if err != nil {
			s.logger.Warn("history prune failed", "error", err)
		}
		res.PrunedHistory = n
	}

	if res != (Result{}) {
		s.logger.Info("sweep completed",
			"expired_sessions", res.ExpiredSessions,
			"purged_statements", res.PurgedStmts,
			"pruned_history", res.PrunedHistory,
		)
	}
	return res
}
