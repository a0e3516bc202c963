package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"duckgate/internal/domain"
)

// errSlotClosed is returned when a turn is requested or awaited on a session
// that has been terminated.
var errSlotClosed = errors.New("execution slot closed")

// slot serializes execution on one session. Turns are reserved in
// submission order and each turn starts only after its predecessor has been
// released or abandoned.
type slot struct {
	mu      sync.Mutex
	tail    <-chan struct{}
	closed  chan struct{}
	once    sync.Once
	pending int
}

func newSlot() *slot {
	done := make(chan struct{})
	close(done)
	return &slot{tail: done, closed: make(chan struct{})}
}

// reserve appends a turn to the queue. Must be called in submission order.
func (s *slot) reserve() (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return nil, errSlotClosed
	default:
	}
	t := &Turn{slot: s, prev: s.tail, done: make(chan struct{})}
	s.tail = t.done
	s.pending++
	return t, nil
}

// close stops new reservations and wakes every waiting turn.
func (s *slot) close() {
	s.once.Do(func() { close(s.closed) })
}

// drain blocks until every reserved turn has finished or ctx is done.
// Only meaningful after close.
func (s *slot) drain(ctx context.Context) error {
	s.mu.Lock()
	tail := s.tail
	s.mu.Unlock()
	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slot) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

func (s *slot) finish() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

// Turn is one reserved execution window on a session. Exactly one of
// Release (after a successful Wait) or Abandon must be called.
type Turn struct {
	slot     *slot
	prev     <-chan struct{}
	done     chan struct{}
	finished atomic.Bool

	// onFinish runs once when the turn is released or abandoned.
	onFinish func()
	// onViolation receives a double release.
	onViolation func(error)
}

// Wait blocks until the previous turn finishes. It fails when ctx is done or
// the session is terminated first; the caller must then Abandon the turn.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.prev:
	case <-t.slot.closed:
		return errSlotClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.slot.closed:
		return errSlotClosed
	default:
		return nil
	}
}

// Release ends an acquired turn and lets the next one start. Releasing twice
// is an invariant violation.
func (t *Turn) Release() {
	if !t.finished.CompareAndSwap(false, true) {
		err := domain.ErrInvariant("execution slot released twice")
		if t.onViolation != nil {
			t.onViolation(err)
			return
		}
		panic(err)
	}
	t.complete()
	close(t.done)
}

// Abandon gives up a turn that never started. The successor is released only
// once the predecessor has finished, so windows never overlap.
func (t *Turn) Abandon() {
	if !t.finished.CompareAndSwap(false, true) {
		return
	}
	select {
	case <-t.prev:
		t.complete()
		close(t.done)
	default:
		go func() {
			<-t.prev
			t.complete()
			close(t.done)
		}()
	}
}

func (t *Turn) complete() {
	t.slot.finish()
	if t.onFinish != nil {
		t.onFinish()
	}
}
