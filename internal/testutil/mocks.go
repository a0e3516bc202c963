// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"duckgate/internal/domain"
)

// === Engine Mocks ===

// MockEngineHandle implements domain.EngineHandle for testing. Execute runs
// ExecuteFn when set and otherwise returns an empty result. Overlapping
// Execute calls are counted so tests can assert serialization.
type MockEngineHandle struct {
	ExecuteFn func(ctx context.Context, sql string) (*domain.ResultSet, error)
	CloseFn   func() error

	executeCalls atomic.Int64
	closeCalls   atomic.Int64
	inFlight     atomic.Int64
	maxInFlight  atomic.Int64

	mu       sync.Mutex
	executed []string
}

// Execute implements the interface method for testing.
func (m *MockEngineHandle) Execute(ctx context.Context, sql string) (*domain.ResultSet, error) {
	m.executeCalls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.executed = append(m.executed, sql)
	m.mu.Unlock()

	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, sql)
	}
	return &domain.ResultSet{}, nil
}

// Close implements the interface method for testing.
func (m *MockEngineHandle) Close() error {
	m.closeCalls.Add(1)
	if m.CloseFn != nil {
		return m.CloseFn()
	}
	return nil
}

// ExecuteCalls returns how many times Execute was invoked.
func (m *MockEngineHandle) ExecuteCalls() int { return int(m.executeCalls.Load()) }

// CloseCalls returns how many times Close was invoked.
func (m *MockEngineHandle) CloseCalls() int { return int(m.closeCalls.Load()) }

// MaxInFlight returns the highest number of concurrent Execute calls observed.
func (m *MockEngineHandle) MaxInFlight() int { return int(m.maxInFlight.Load()) }

// Executed returns the SQL passed to Execute in call order.
func (m *MockEngineHandle) Executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.executed...)
}

// MockEngineOpener implements domain.EngineOpener for testing. Each Open
// returns a new handle built by NewHandle (or a bare MockEngineHandle) and
// records it in Handles.
type MockEngineOpener struct {
	OpenFn    func(ctx context.Context, kind domain.SessionKind) (domain.EngineHandle, error)
	NewHandle func(kind domain.SessionKind) *MockEngineHandle

	mu      sync.Mutex
	handles []*MockEngineHandle
}

// Open implements the interface method for testing.
func (m *MockEngineOpener) Open(ctx context.Context, kind domain.SessionKind) (domain.EngineHandle, error) {
	if m.OpenFn != nil {
		return m.OpenFn(ctx, kind)
	}
	h := &MockEngineHandle{}
	if m.NewHandle != nil {
		h = m.NewHandle(kind)
	}
	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()
	return h, nil
}

// Handles returns every handle opened so far, in open order.
func (m *MockEngineOpener) Handles() []*MockEngineHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockEngineHandle(nil), m.handles...)
}

// Handle returns the i-th opened handle.
func (m *MockEngineOpener) Handle(i int) *MockEngineHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[i]
}

// === Translator Mock ===

// MockTranslator implements domain.Translator for testing. Without TranslateFn
// it returns the input unchanged.
type MockTranslator struct {
	TranslateFn func(ctx context.Context, sql string, tc domain.TranslationContext) (string, error)
}

// Translate implements the interface method for testing.
func (m *MockTranslator) Translate(ctx context.Context, sql string, tc domain.TranslationContext) (string, error) {
	if m.TranslateFn != nil {
		return m.TranslateFn(ctx, sql, tc)
	}
	return sql, nil
}

// === Statement History Mock ===

// MockHistory implements domain.StatementHistory and
// domain.StatementHistoryReader for testing.
type MockHistory struct {
	RecordFn func(ctx context.Context, e *domain.HistoryEntry) error
	ListFn   func(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, int64, error)
	GetFn    func(ctx context.Context, handle string) (domain.HistoryEntry, error)
	StatsFn  func(ctx context.Context) (domain.HistoryStats, error)

	mu      sync.Mutex
	entries []*domain.HistoryEntry
}

// Record implements the interface method for testing.
func (m *MockHistory) Record(ctx context.Context, e *domain.HistoryEntry) error {
	if m.RecordFn != nil {
		if err := m.RecordFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

// List implements the interface method for testing.
func (m *MockHistory) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockHistory.List")
}

// Get implements the interface method for testing.
func (m *MockHistory) Get(ctx context.Context, handle string) (domain.HistoryEntry, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, handle)
	}
	panic("unexpected call to MockHistory.Get")
}

// Stats implements the interface method for testing.
func (m *MockHistory) Stats(ctx context.Context) (domain.HistoryStats, error) {
	if m.StatsFn != nil {
		return m.StatsFn(ctx)
	}
	panic("unexpected call to MockHistory.Stats")
}

// Entries returns the collected entries.
func (m *MockHistory) Entries() []*domain.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.HistoryEntry(nil), m.entries...)
}

// ErrTest is a sentinel error for tests.
var ErrTest = errors.New("test error")

// Compile-time interface checks.
var (
	_ domain.EngineHandle           = (*MockEngineHandle)(nil)
	_ domain.EngineOpener           = (*MockEngineOpener)(nil)
	_ domain.Translator             = (*MockTranslator)(nil)
	_ domain.StatementHistory       = (*MockHistory)(nil)
	_ domain.StatementHistoryReader = (*MockHistory)(nil)
)
