package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckgate/internal/clock"
	"duckgate/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeSessions struct {
	calls   atomic.Int64
	expired int
}

func (f *fakeSessions) SweepExpired(context.Context) int {
	f.calls.Add(1)
	return f.expired
}

type fakeStatements struct {
	mu        sync.Mutex
	retention time.Duration
	purgedFor []time.Duration
	purged    int
}

func (f *fakeStatements) Purge(olderThan time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgedFor = append(f.purgedFor, olderThan)
	return f.purged
}

func (f *fakeStatements) Retention() time.Duration { return f.retention }

type fakeHistory struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (f *fakeHistory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSweeper_RunOnce(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{expired: 2}
	stmts := &fakeStatements{retention: 15 * time.Minute, purged: 4}
	hist := &fakeHistory{}
	s := New(Config{HistoryRetention: 24 * time.Hour}, sessions, stmts, hist, clock.NewManual(t0), discardLogger())

	res := s.RunOnce(context.Background())

	assert.Equal(t, Result{ExpiredSessions: 2, PurgedStmts: 4, PrunedHistory: 3}, res)
	assert.Equal(t, []time.Duration{15 * time.Minute}, stmts.purgedFor)
	require.Len(t, hist.cutoffs, 1)
	assert.Equal(t, t0.Add(-24*time.Hour), hist.cutoffs[0])
}

func TestSweeper_RunOnceWithoutHistory(t *testing.T) {
	t.Parallel()

	s := New(Config{HistoryRetention: time.Hour}, &fakeSessions{}, &fakeStatements{}, nil, clock.Real{}, discardLogger())
	assert.Equal(t, Result{}, s.RunOnce(context.Background()))
}

func TestSweeper_ZeroHistoryRetentionKeepsHistory(t *testing.T) {
	t.Parallel()

	hist := &fakeHistory{}
	s := New(Config{}, &fakeSessions{}, &fakeStatements{}, hist, clock.Real{}, discardLogger())
	s.RunOnce(context.Background())
	assert.Empty(t, hist.cutoffs)
}

func TestSweeper_HistoryPruneFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{expired: 1}
	hist := &fakeHistory{err: testutil.ErrTest}
	s := New(Config{HistoryRetention: time.Hour}, sessions, &fakeStatements{}, hist, clock.Real{}, discardLogger())

	res := s.RunOnce(context.Background())
	assert.Equal(t, 1, res.ExpiredSessions)
	assert.Zero(t, res.PrunedHistory)
}

func TestSweeper_Start(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{name: "default schedule", schedule: ""},
		{name: "every descriptor", schedule: "@every 1m"},
		{name: "five field cron", schedule: "*/5 * * * *"},
		{name: "invalid schedule", schedule: "not a schedule", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := New(Config{Schedule: tt.schedule}, &fakeSessions{}, &fakeStatements{}, nil, clock.Real{}, discardLogger())
			t.Cleanup(s.Stop)

			err := s.Start(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, s.Next().IsZero())
				return
			}
			require.NoError(t, err)
			assert.False(t, s.Next().IsZero())
		})
	}
}

func TestSweeper_StartTwiceConflicts(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeSessions{}, &fakeStatements{}, nil, clock.Real{}, discardLogger())
	t.Cleanup(s.Stop)

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))
}

func TestSweeper_RunsOnSchedule(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{}
	s := New(Config{Schedule: "@every 1s"}, sessions, &fakeStatements{}, nil, clock.Real{}, discardLogger())
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return sessions.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()

	after := sessions.calls.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, after, sessions.calls.Load())
}

func TestSweeper_StopWithoutStart(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeSessions{}, &fakeStatements{}, nil, clock.Real{}, discardLogger())
	assert.NotPanics(t, s.Stop)
}

func TestSweeper_NilLoggerUsesDefault(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeSessions{expired: 1}, &fakeStatements{}, nil, clock.Real{}, nil)
	assert.Equal(t, Result{ExpiredSessions: 1}, s.RunOnce(context.Background()))
}
