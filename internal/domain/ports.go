package domain

import (
	"context"
	"time"
)

// TranslationContext carries per-statement overrides into a Translator.
type TranslationContext struct {
	Database  string
	Schema    string
	Warehouse string
	Role      string
}

// Translator rewrites client SQL into the engine dialect.
// Implemented by translate.Snowflake and translate.Passthrough.
type Translator interface {
	Translate(ctx context.Context, sql string, tc TranslationContext) (string, error)
}

// EngineHandle is one isolated engine connection owned by a single session.
// Execute is never called concurrently on the same handle and Close is
// called exactly once.
type EngineHandle interface {
	Execute(ctx context.Context, sql string) (*ResultSet, error)
	Close() error
}

// EngineOpener opens engine handles for new sessions.
// Implemented by engine.DuckDBOpener.
type EngineOpener interface {
	Open(ctx context.Context, kind SessionKind) (EngineHandle, error)
}

// Clock is the time source used for TTL and statement timestamps.
type Clock interface {
	Now() time.Time
}

// StatementHistory receives one entry per statement that reaches a terminal state.
// Implemented by history.Repo.
type StatementHistory interface {
	Record(ctx context.Context, e *HistoryEntry) error
}

// StatementHistoryReader queries recorded history entries. Get returns a
// *NotFoundError for an unknown handle.
type StatementHistoryReader interface {
	List(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, int64, error)
	Get(ctx context.Context, handle string) (HistoryEntry, error)
	Stats(ctx context.Context) (HistoryStats, error)
}
