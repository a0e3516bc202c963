// Package session manages isolated client sessions: creation under a capacity
// limit, LRU eviction, idle expiry, and the single shared termination path.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"duckgate/internal/domain"
)

// Registry defaults. NewRegistry applies DefaultTTL and DefaultTerminateGrace
// when the corresponding Config field is zero.
const (
	DefaultMaxSessions    = 100
	DefaultTTL            = time.Hour
	DefaultTerminateGrace = 5 * time.Second
)

// terminateParallelism bounds concurrent terminations during sweep and shutdown.
const terminateParallelism = 8

// Config controls registry limits and policies.
type Config struct {
	// MaxSessions caps active sessions. Zero disables creation entirely.
	MaxSessions int
	// DefaultTTL is used when CreateSession receives a zero ttl.
	DefaultTTL time.Duration
	// TerminateGrace bounds how long termination waits for in-flight work
	// before closing the engine handle.
	TerminateGrace time.Duration
	// ProtectBusySessions excludes sessions with queued or running statements
	// from eviction.
	ProtectBusySessions bool
	// StrictInvariants panics on resource ownership violations instead of
	// logging and force-terminating the session.
	StrictInvariants bool
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = DefaultTerminateGrace
	}
	return c
}

type terminateReason string

const (
	reasonRequested terminateReason = "requested"
	reasonEvicted   terminateReason = "evicted"
	reasonExpired   terminateReason = "expired"
	reasonShutdown  terminateReason = "shutdown"
	reasonViolation terminateReason = "invariant_violation"
)

// Registry is the bounded set of active sessions. The map only ever holds
// Active sessions; removal from the map and the status flip happen together
// under mu, so exactly one caller owns each termination.
type Registry struct {
	cfg    Config
	opener domain.EngineOpener
	clock  domain.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	evictions   atomic.Int64
	expirations atomic.Int64
}

// NewRegistry creates a Registry that opens engine handles with opener.
func NewRegistry(cfg Config, opener domain.EngineOpener, clock domain.Clock, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg.withDefaults(),
		opener:   opener,
		clock:    clock,
		logger:   logger.With("component", "session-registry"),
		sessions: make(map[string]*Session),
	}
}

// Config returns the effective configuration.
func (r *Registry) Config() Config { return r.cfg }

// CreateSession opens an engine handle and registers a new Active session.
// A zero ttl selects the default. At capacity the least recently used
// session is evicted before the new one is registered. The handle is opened
// first, so a failed open never costs a victim; while a creation is in
// flight at most one extra handle per concurrent creator is open.
func (r *Registry) CreateSession(ctx context.Context, kind domain.SessionKind, ttl time.Duration) (string, error) {
	if err := kind.Validate(); err != nil {
		return "", err
	}
	if ttl < 0 {
		return "", domain.ErrValidation("ttl must not be negative")
	}
	if ttl == 0 {
		ttl = r.cfg.DefaultTTL
	}
	if r.cfg.MaxSessions <= 0 {
		return "", domain.ErrCapacityExceeded(0)
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return "", domain.ErrConflict("session registry is shut down")
	}

	h, err := r.opener.Open(ctx, kind)
	if err != nil {
		return "", fmt.Errorf("open engine for %s session: %w", kind, err)
	}

	id := domain.NewID()
	victims, err := r.register(id, kind, ttl, h)
	for _, v := range victims {
		r.evictions.Add(1)
		r.logger.Info("evicting least recently used session", "session_id", v.session.id)
		_ = r.finish(ctx, v, reasonEvicted)
	}
	if err != nil {
		if cerr := h.Close(); cerr != nil {
			r.logger.Warn("close unregistered engine handle", "error", cerr)
		}
		return "", err
	}

	r.logger.Info("session created", "session_id", id, "kind", kind.String(), "ttl", ttl)
	return id, nil
}

type detached struct {
	session *Session
	work    []Work
}

// register inserts the session, detaching LRU victims while at capacity.
func (r *Registry) register(id string, kind domain.SessionKind, ttl time.Duration, h domain.EngineHandle) ([]detached, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrConflict("session registry is shut down")
	}

	var victims []detached
	for len(r.sessions) >= r.cfg.MaxSessions {
		v := r.pickVictimLocked()
		if v == nil {
			return victims, domain.ErrCapacityExceeded(r.cfg.MaxSessions)
		}
		if d, ok := r.detachLocked(v.id, v); ok {
			victims = append(victims, d)
		}
	}
	r.sessions[id] = newSession(r, id, kind, ttl, h, r.clock.Now())
	return victims, nil
}

// pickVictimLocked selects the session with the oldest last access, ties
// broken by earliest creation. Caller holds mu.
func (r *Registry) pickVictimLocked() *Session {
	var victim *Session
	var victimAccess time.Time
	for _, s := range r.sessions {
		if r.cfg.ProtectBusySessions && s.Busy() {
			continue
		}
		access := s.LastAccessedAt()
		if victim == nil ||
			access.Before(victimAccess) ||
			(access.Equal(victimAccess) && s.createdAt.Before(victim.createdAt)) {
			victim, victimAccess = s, access
		}
	}
	return victim
}

// detachLocked removes the session from the map and marks it Terminated.
// If want is non-nil the entry must still be that session. Caller holds mu.
func (r *Registry) detachLocked(id string, want *Session) (detached, bool) {
	s, ok := r.sessions[id]
	if !ok || (want != nil && s != want) {
		return detached{}, false
	}
	delete(r.sessions, id)
	work, ok := s.markTerminated()
	if !ok {
		return detached{}, false
	}
	return detached{session: s, work: work}, true
}

// finish is the shared termination path: abort tracked work, wait for
// in-flight units up to the grace period, then close the handle once.
// Runs without registry locks held.
func (r *Registry) finish(ctx context.Context, d detached, reason terminateReason) error {
	s := d.session
	for _, w := range d.work {
		w.Abort()
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.TerminateGrace)
	defer cancel()
	if err := s.slot.drain(dctx); err != nil {
		r.logger.Warn("in-flight statements did not finish within grace period",
			"session_id", s.id, "grace", r.cfg.TerminateGrace)
	}

	if err := s.closeHandle(); err != nil {
		var inv *domain.InvariantViolationError
		if errors.As(err, &inv) {
			r.violation(s, err)
			return nil
		}
		r.logger.Warn("close engine handle", "session_id", s.id, "error", err)
		return fmt.Errorf("close engine for session %s: %w", s.id, err)
	}
	r.logger.Info("session terminated", "session_id", s.id, "reason", string(reason), "aborted", len(d.work))
	return nil
}

// lookup returns the Active session, terminating it lazily when expired.
func (r *Registry) lookup(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound(id)
	}
	if s.expired(r.clock.Now()) {
		r.expire(ctx, s)
		return nil, domain.ErrSessionNotFound(id)
	}
	return s, nil
}

func (r *Registry) expire(ctx context.Context, s *Session) bool {
	r.mu.Lock()
	if !s.expired(r.clock.Now()) {
		r.mu.Unlock()
		return false
	}
	d, ok := r.detachLocked(s.id, s)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.expirations.Add(1)
	_ = r.finish(ctx, d, reasonExpired)
	return true
}

// GetSession returns the Active session with the given id without touching
// it. Absent, terminated and expired sessions all report SessionNotFound.
func (r *Registry) GetSession(ctx context.Context, id string) (*Session, error) {
	return r.lookup(ctx, id)
}

// TouchSession refreshes the session's last access time.
func (r *Registry) TouchSession(ctx context.Context, id string) error {
	_, err := r.Use(ctx, id)
	return err
}

// Use returns the Active session and touches it.
func (r *Registry) Use(ctx context.Context, id string) (*Session, error) {
	s, err := r.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.touch(r.clock.Now()); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh touches the session if it is still active and unexpired. It never
// terminates, so callers on a read path are never blocked by a termination.
func (r *Registry) Refresh(id string) bool {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	now := r.clock.Now()
	if s.expired(now) {
		return false
	}
	return s.touch(now) == nil
}

// Active reports whether id names a registered session. It neither touches
// nor expires the session.
func (r *Registry) Active(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// TerminateSession aborts the session's statements, closes its engine handle
// and removes it. A second call reports SessionNotFound.
func (r *Registry) TerminateSession(ctx context.Context, id string) error {
	r.mu.Lock()
	d, ok := r.detachLocked(id, nil)
	r.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound(id)
	}
	return r.finish(ctx, d, reasonRequested)
}

// ListSessions returns a snapshot of the active sessions ordered by creation.
// The sequence can be ranged repeatedly and always yields the same snapshot.
func (r *Registry) ListSessions() iter.Seq[domain.SessionSummary] {
	r.mu.RLock()
	snap := make([]domain.SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		snap = append(snap, s.Summary())
	}
	r.mu.RUnlock()

	slices.SortFunc(snap, func(a, b domain.SessionSummary) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return slices.Values(snap)
}

// SweepExpired terminates every session idle for at least its ttl and
// returns how many were terminated.
func (r *Registry) SweepExpired(ctx context.Context) int {
	now := r.clock.Now()
	r.mu.RLock()
	var candidates []*Session
	for _, s := range r.sessions {
		if s.expired(now) {
			candidates = append(candidates, s)
		}
	}
	r.mu.RUnlock()
	if len(candidates) == 0 {
		return 0
	}

	var swept atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(terminateParallelism)
	for _, s := range candidates {
		g.Go(func() error {
			if r.expire(ctx, s) {
				swept.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(swept.Load())
	if n > 0 {
		r.logger.Info("expired sessions swept", "count", n)
	}
	return n
}

// Stats summarizes registry occupancy.
func (r *Registry) Stats() domain.RegistryStats {
	r.mu.RLock()
	active := len(r.sessions)
	r.mu.RUnlock()

	maxSessions := max(r.cfg.MaxSessions, 0)
	var usage float64
	if maxSessions > 0 {
		usage = float64(active) / float64(maxSessions) * 100
	}
	policy := domain.EvictionLRU
	if r.cfg.ProtectBusySessions {
		policy = domain.EvictionLRUIdleOnly
	}
	return domain.RegistryStats{
		ActiveSessions: active,
		MaxSessions:    maxSessions,
		UsagePercent:   usage,
		DefaultTTL:     r.cfg.DefaultTTL,
		EvictionPolicy: policy,
		Evictions:      r.evictions.Load(),
		Expirations:    r.expirations.Load(),
	}
}

// Shutdown terminates every session and rejects further creation.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	all := make([]detached, 0, len(r.sessions))
	for id := range r.sessions {
		if d, ok := r.detachLocked(id, nil); ok {
			all = append(all, d)
		}
	}
	r.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  []error
	)
	g := new(errgroup.Group)
	g.SetLimit(terminateParallelism)
	for _, d := range all {
		g.Go(func() error {
			if err := r.finish(ctx, d, reasonShutdown); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("session registry shut down", "terminated", len(all))
	return errors.Join(errs...)
}

// violation handles a resource ownership violation on s. Development builds
// panic; production logs and force-terminates the session.
func (r *Registry) violation(s *Session, err error) {
	if r.cfg.StrictInvariants {
		panic(err)
	}
	r.logger.Error("invariant violation", "session_id", s.id, "error", err)

	r.mu.Lock()
	d, ok := r.detachLocked(s.id, s)
	r.mu.Unlock()
	if !ok {
		return
	}
	go func() { _ = r.finish(context.Background(), d, reasonViolation) }()
}
