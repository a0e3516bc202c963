package domain

import "time"

// HistoryEntry is the durable record of a terminal statement.
type HistoryEntry struct {
	ID            int64
	Handle        string
	SessionID     string
	Principal     string
	SQLText       string
	TranslatedSQL *string
	Status        StatementStatus
	ErrorCode     *string
	ErrorMessage  *string
	RowCount      int64
	DurationMs    *int64
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   time.Time
}

// NewHistoryEntry builds a history entry from a terminal snapshot.
func NewHistoryEntry(s StatementSnapshot) *HistoryEntry {
	e := &HistoryEntry{
		Handle:    s.Handle,
		SessionID: s.SessionID,
		Principal: s.Principal,
		SQLText:   s.SQLText,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		StartedAt: s.StartedAt,
	}
	if s.CompletedAt != nil {
		e.CompletedAt = *s.CompletedAt
		if s.StartedAt != nil {
			ms := s.CompletedAt.Sub(*s.StartedAt).Milliseconds()
			e.DurationMs = &ms
		}
	}
	if s.Result != nil {
		e.RowCount = int64(len(s.Result.Rows))
		if s.Result.TranslatedSQL != "" {
			t := s.Result.TranslatedSQL
			e.TranslatedSQL = &t
		}
	}
	if s.Error != nil {
		code, msg := string(s.Error.Code), s.Error.Message
		e.ErrorCode, e.ErrorMessage = &code, &msg
	}
	return e
}

// DefaultHistoryLimit is the page size used when a filter does not set one.
const DefaultHistoryLimit = 100

// MaxHistoryLimit caps the page size of history listings.
const MaxHistoryLimit = 1000

// HistoryFilter selects history entries, newest first.
type HistoryFilter struct {
	SessionID *string
	Status    *StatementStatus
	Since     *time.Time
	// Text matches a substring of the submitted or translated SQL.
	Text   *string
	Limit  int
	Offset int
}

// EffectiveLimit clamps Limit to [1, MaxHistoryLimit].
func (f HistoryFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultHistoryLimit
	case f.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return f.Limit
}

// HistoryStats summarizes recorded statements.
type HistoryStats struct {
	Total          int64
	ByStatus       map[StatementStatus]int64
	AvgDurationMs  float64
	TotalRowCount  int64
	FirstCompleted *time.Time
	LastCompleted  *time.Time
}
