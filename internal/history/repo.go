package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"duckgate/internal/domain"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	_ domain.StatementHistory       = (*Repo)(nil)
	_ domain.StatementHistoryReader = (*Repo)(nil)
)

// Repo stores statement history in SQLite.
type Repo struct {
	write *sql.DB
	read  *sql.DB
}

// Open opens (creating if needed) the history database at path and applies
// migrations.
func Open(ctx context.Context, path string) (*Repo, error) {
	write, err := openSQLite(ctx, path, true, 1)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, write); err != nil {
		_ = write.Close()
		return nil, err
	}
	read, err := openSQLite(ctx, path, false, 4)
	if err != nil {
		_ = write.Close()
		return nil, err
	}
	return &Repo{write: write, read: read}, nil
}

// Close closes both pools.
func (r *Repo) Close() error {
	return errors.Join(r.read.Close(), r.write.Close())
}

// Record inserts one entry. Recording the same handle twice is a no-op.
func (r *Repo) Record(ctx context.Context, e *domain.HistoryEntry) error {
	var startedAt *string
	if e.StartedAt != nil {
		s := formatTime(*e.StartedAt)
		startedAt = &s
	}
	_, err := r.write.ExecContext(ctx, `
		INSERT INTO statement_history (
			handle, session_id, principal, sql_text, translated_sql, status,
			error_code, error_message, row_count, duration_ms,
			created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (handle) DO NOTHING`,
		e.Handle, e.SessionID, e.Principal, e.SQLText, e.TranslatedSQL, string(e.Status),
		e.ErrorCode, e.ErrorMessage, e.RowCount, e.DurationMs,
		formatTime(e.CreatedAt), startedAt, formatTime(e.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert statement history: %w", err)
	}
	return nil
}

// List returns entries matching filter, most recently completed first, and
// the total number of matches.
func (r *Repo) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, int64, error) {
	var (
		where []string
		args  []any
	)
	if filter.SessionID != nil {
		where = append(where, "session_id = ?")
		args = append(args, *filter.SessionID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "completed_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Text != nil && *filter.Text != "" {
		pattern := "%" + likeEscaper.Replace(*filter.Text) + "%"
		where = append(where, `(sql_text LIKE ? ESCAPE '\' OR translated_sql LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.read.QueryRowContext(ctx, "SELECT COUNT(*) FROM statement_history"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count statement history: %w", err)
	}

	query := `SELECT ` + entryColumns + ` FROM statement_history` + clause +
		` ORDER BY completed_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.read.QueryContext(ctx, query, append(args, filter.EffectiveLimit(), max(filter.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list statement history: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	entries := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Get returns the entry recorded for handle.
func (r *Repo) Get(ctx context.Context, handle string) (domain.HistoryEntry, error) {
	row := r.read.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM statement_history WHERE handle = ?`, handle)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HistoryEntry{}, domain.ErrNotFound("history entry %q not found", handle)
	}
	return e, err
}

// Stats summarizes every recorded entry.
func (r *Repo) Stats(ctx context.Context) (domain.HistoryStats, error) {
	stats := domain.HistoryStats{ByStatus: make(map[domain.StatementStatus]int64)}
	var (
		avg         sql.NullFloat64
		first, last sql.NullString
	)
	err := r.read.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(duration_ms), COALESCE(SUM(row_count), 0), MIN(completed_at), MAX(completed_at)
		FROM statement_history`).Scan(&stats.Total, &avg, &stats.TotalRowCount, &first, &last)
	if err != nil {
		return stats, fmt.Errorf("statement history stats: %w", err)
	}
	stats.AvgDurationMs = avg.Float64
	if first.Valid {
		t := parseTime(first.String)
		stats.FirstCompleted = &t
	}
	if last.Valid {
		t := parseTime(last.String)
		stats.LastCompleted = &t
	}

	rows, err := r.read.QueryContext(ctx, "SELECT status, COUNT(*) FROM statement_history GROUP BY status")
	if err != nil {
		return stats, fmt.Errorf("statement history stats: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("scan statement history stats: %w", err)
		}
		stats.ByStatus[domain.StatementStatus(status)] = n
	}
	return stats, rows.Err()
}

const entryColumns = `id, handle, session_id, principal, sql_text, translated_sql, status,
	error_code, error_message, row_count, duration_ms, created_at, started_at, completed_at`

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (domain.HistoryEntry, error) {
	var (
		e                    domain.HistoryEntry
		status               string
		createdAt, completed string
		startedAt            sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Handle, &e.SessionID, &e.Principal, &e.SQLText, &e.TranslatedSQL, &status,
		&e.ErrorCode, &e.ErrorMessage, &e.RowCount, &e.DurationMs, &createdAt, &startedAt, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan statement history: %w", err)
	}
	e.Status = domain.StatementStatus(status)
	e.CreatedAt = parseTime(createdAt)
	e.CompletedAt = parseTime(completed)
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		e.StartedAt = &t
	}
	return e, nil
}

// Prune deletes entries completed before cutoff and returns how many were removed.
func (r *Repo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.write.ExecContext(ctx, "DELETE FROM statement_history WHERE completed_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune statement history: %w", err)
	}
	return res.RowsAffected()
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
