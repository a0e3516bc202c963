package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"duckgate/internal/domain"
)

// Work is an in-flight unit bound to a session. Abort is called when the
// session is terminated and must move the unit to a terminal state.
type Work interface {
	Abort()
}

// Session is one isolated client session. It owns an engine handle that is
// closed exactly once, when the session is terminated.
type Session struct {
	id        string
	kind      domain.SessionKind
	createdAt time.Time
	ttl       time.Duration
	handle    domain.EngineHandle
	slot      *slot
	reg       *Registry

	handleClosed atomic.Bool

	mu           sync.Mutex
	lastAccessed time.Time
	status       domain.SessionStatus
	work         map[Work]struct{}
}

func newSession(reg *Registry, id string, kind domain.SessionKind, ttl time.Duration, h domain.EngineHandle, now time.Time) *Session {
	return &Session{
		id:           id,
		kind:         kind,
		createdAt:    now,
		ttl:          ttl,
		handle:       h,
		slot:         newSlot(),
		reg:          reg,
		lastAccessed: now,
		status:       domain.SessionStatusActive,
		work:         make(map[Work]struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Kind returns the storage kind.
func (s *Session) Kind() domain.SessionKind { return s.kind }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// TTL returns the idle time-to-live.
func (s *Session) TTL() time.Duration { return s.ttl }

// LastAccessedAt returns the last touch time.
func (s *Session) LastAccessedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

// Status returns the lifecycle status.
func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Busy reports whether statements are queued or executing on the session.
func (s *Session) Busy() bool { return s.slot.busy() }

// Summary returns a point-in-time view of the session.
func (s *Session) Summary() domain.SessionSummary {
	s.mu.Lock()
	sum := domain.SessionSummary{
		ID:             s.id,
		Kind:           s.kind,
		CreatedAt:      s.createdAt,
		LastAccessedAt: s.lastAccessed,
		TTL:            s.ttl,
		Status:         s.status,
	}
	s.mu.Unlock()
	sum.Busy = s.slot.busy()
	return sum
}

// Reserve binds w to the session and reserves the next execution turn.
// Calls on one session must happen in submission order.
func (s *Session) Reserve(w Work) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.SessionStatusActive {
		return nil, domain.ErrSessionNotFound(s.id)
	}
	t, err := s.slot.reserve()
	if err != nil {
		return nil, domain.ErrSessionNotFound(s.id)
	}
	s.work[w] = struct{}{}
	t.onFinish = func() { s.untrack(w) }
	t.onViolation = func(err error) { s.reg.violation(s, err) }
	return t, nil
}

// Execute runs sql on the session's engine handle. The caller must hold an
// acquired turn.
func (s *Session) Execute(ctx context.Context, sql string) (*domain.ResultSet, error) {
	if s.handleClosed.Load() {
		return nil, domain.ErrSessionNotFound(s.id)
	}
	return s.handle.Execute(ctx, sql)
}

func (s *Session) untrack(w Work) {
	s.mu.Lock()
	delete(s.work, w)
	s.mu.Unlock()
}

func (s *Session) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAccessed) >= s.ttl
}

func (s *Session) touch(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.SessionStatusActive {
		return domain.ErrSessionNotFound(s.id)
	}
	if now.After(s.lastAccessed) {
		s.lastAccessed = now
	}
	return nil
}

// markTerminated flips the status, closes the slot to new reservations, and
// returns the work that must be aborted. Returns false if already terminated.
func (s *Session) markTerminated() ([]Work, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.SessionStatusTerminated {
		return nil, false
	}
	s.status = domain.SessionStatusTerminated
	s.slot.close()
	work := make([]Work, 0, len(s.work))
	for w := range s.work {
		work = append(work, w)
	}
	return work, true
}

func (s *Session) closeHandle() error {
	if !s.handleClosed.CompareAndSwap(false, true) {
		return domain.ErrInvariant("engine handle of session %s closed twice", s.id)
	}
	return s.handle.Close()
}
