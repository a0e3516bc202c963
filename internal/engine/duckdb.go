// Package engine provides DuckDB-backed engine handles for sessions.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/google/uuid"

	"duckgate/internal/domain"
	"duckgate/internal/storage"
)

// Settings are DuckDB options applied to every new handle.
type Settings struct {
	// MaxMemory is passed to SET max_memory, e.g. "2GB". Empty keeps the default.
	MaxMemory string
	// Threads is passed to SET threads. Zero keeps the default.
	Threads int
}

// DuckDBOpener opens one isolated DuckDB database per session.
type DuckDBOpener struct {
	resolver *storage.Resolver
	settings Settings
	logger   *slog.Logger
}

var (
	_ domain.EngineOpener = (*DuckDBOpener)(nil)
	_ domain.EngineHandle = (*Handle)(nil)
)

// NewDuckDBOpener creates an opener. resolver handles persistent paths.
func NewDuckDBOpener(resolver *storage.Resolver, settings Settings, logger *slog.Logger) *DuckDBOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &DuckDBOpener{resolver: resolver, settings: settings, logger: logger.With("component", "duckdb")}
}

// Open creates a handle for kind. Memory sessions get a private in-memory
// database; persistent sessions open the file their backend prepares.
func (o *DuckDBOpener) Open(ctx context.Context, kind domain.SessionKind) (domain.EngineHandle, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	var (
		backend storage.Backend
		dsn     string
	)
	if kind.Mode == domain.SessionModePersistent {
		if o.resolver == nil {
			return nil, fmt.Errorf("persistent sessions are not configured")
		}
		b, err := o.resolver.Resolve(ctx, kind.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", kind.Path, err)
		}
		local, err := b.Prepare(ctx)
		if err != nil {
			_ = b.Cleanup(ctx)
			return nil, fmt.Errorf("prepare %q: %w", kind.Path, err)
		}
		backend, dsn = b, local
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		o.cleanup(ctx, backend)
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// One connection per session keeps SET statements and temp objects visible
	// to every statement of the session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		o.cleanup(ctx, backend)
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	if err := o.apply(ctx, db); err != nil {
		_ = db.Close()
		o.cleanup(ctx, backend)
		return nil, err
	}

	h := &Handle{db: db, backend: backend, logger: o.logger}
	if backend != nil {
		o.logger.Debug("opened persistent database", "location", backend.Info().Location, "local_path", dsn)
	}
	return h, nil
}

func (o *DuckDBOpener) apply(ctx context.Context, db *sql.DB) error {
	if o.settings.MaxMemory != "" {
		if _, err := db.ExecContext(ctx, "SET max_memory = "+quoteLiteral(o.settings.MaxMemory)); err != nil {
			return fmt.Errorf("set max_memory: %w", err)
		}
	}
	if o.settings.Threads > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET threads = %d", o.settings.Threads)); err != nil {
			return fmt.Errorf("set threads: %w", err)
		}
	}
	return nil
}

func (o *DuckDBOpener) cleanup(ctx context.Context, b storage.Backend) {
	if b == nil {
		return
	}
	if err := b.Cleanup(ctx); err != nil {
		o.logger.Warn("cleanup storage backend", "error", err)
	}
}

// Handle is one session's DuckDB database.
type Handle struct {
	db      *sql.DB
	backend storage.Backend
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Execute runs sql and materializes the full result.
func (h *Handle) Execute(ctx context.Context, query string) (*domain.ResultSet, error) {
	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	rs, err := scanRows(rows)
	if cerr := rows.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	if h.backend != nil && h.backend.Info().Remote && IsWriteStatement(query) {
		if err := h.sync(ctx); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// sync checkpoints the WAL into the database file and pushes it upstream.
func (h *Handle) sync(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := h.backend.Sync(ctx); err != nil {
		return fmt.Errorf("sync %s: %w", h.backend.Info().Location, err)
	}
	return nil
}

// Close closes the database, then syncs and cleans up the storage backend.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		var errs []error
		if err := h.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close duckdb: %w", err))
		}
		if h.backend != nil {
			ctx := context.Background()
			if err := h.backend.Sync(ctx); err != nil {
				errs = append(errs, err)
			}
			if err := h.backend.Cleanup(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

func scanRows(rows *sql.Rows) (*domain.ResultSet, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]domain.Column, len(types))
	for i, ct := range types {
		nullable, ok := ct.Nullable()
		cols[i] = domain.Column{
			Name:     ct.Name(),
			Type:     ct.DatabaseTypeName(),
			Nullable: nullable || !ok,
		}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			vals[i] = normalize(cols[i].Type, v)
		}
		resultRows = append(resultRows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &domain.ResultSet{Columns: cols, Rows: resultRows}, nil
}

// normalize converts driver values into JSON-friendly ones.
func normalize(dbType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if dbType == "UUID" && len(b) == 16 {
		if id, err := uuid.FromBytes(b); err == nil {
			return id.String()
		}
	}
	return string(b)
}

// writeKeywords are leading keywords of statements that modify the database.
var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true,
	"COPY": true, "IMPORT": true, "ATTACH": true, "DETACH": true,
}

// IsWriteStatement reports whether query starts with a data or schema
// modifying keyword. Leading comments and WITH clauses are not inspected.
func IsWriteStatement(query string) bool {
	fields := strings.Fields(strings.TrimLeft(query, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	return writeKeywords[strings.ToUpper(fields[0])]
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
