// Package app wires configuration into a running duckgate server: engine,
// registry, executor, history, sweeper and the HTTP handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"duckgate/internal/api"
	"duckgate/internal/clock"
	"duckgate/internal/config"
	"duckgate/internal/domain"
	"duckgate/internal/engine"
	"duckgate/internal/history"
	"duckgate/internal/middleware"
	"duckgate/internal/session"
	"duckgate/internal/statement"
	"duckgate/internal/storage"
	"duckgate/internal/sweeper"
	"duckgate/internal/translate"
)

// Deps holds what main() must provide.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
	// Opener overrides the DuckDB opener (tests). Nil uses DuckDB.
	Opener domain.EngineOpener
	// Clock overrides the wall clock (tests). Nil uses clock.Real.
	Clock domain.Clock
}

// App holds the fully-wired application.
type App struct {
	Registry *session.Registry
	Executor *statement.Executor
	History  *history.Repo // nil when history is disabled
	Sweeper  *sweeper.Sweeper
	Handler  http.Handler

	logger     *slog.Logger
	stopLimits context.CancelFunc
}

// NewEngineOpener returns the DuckDB opener configured from cfg's storage and
// engine settings.
func NewEngineOpener(cfg *config.Config, logger *slog.Logger) *engine.DuckDBOpener {
	resolver := storage.NewResolver(storage.Config{
		DataDir: cfg.Storage.DataDir,
		S3: storage.S3Config{
			KeyID:    cfg.Storage.S3KeyID,
			Secret:   cfg.Storage.S3Secret,
			Endpoint: cfg.Storage.S3Endpoint,
			Region:   cfg.Storage.S3Region,
		},
		GCSCredentialsFile:    cfg.Storage.GCSCredentialsFile,
		AzureConnectionString: cfg.Storage.AzureConnectionString,
	})
	return engine.NewDuckDBOpener(resolver, engine.Settings{
		MaxMemory: cfg.DuckDB.MaxMemory,
		Threads:   cfg.DuckDB.Threads,
	}, logger)
}

// New builds every component from deps. The sweeper is not started; call
// Start.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	opener := deps.Opener
	if opener == nil {
		opener = NewEngineOpener(cfg, logger)
	}

	a := &App{logger: logger}

	// The history sink and reader stay untyped nil when disabled.
	var (
		sink   domain.StatementHistory
		reader domain.StatementHistoryReader
		pruner sweeper.HistoryPruner
	)
	if cfg.HistoryEnabled() {
		repo, err := history.Open(ctx, cfg.History.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open statement history: %w", err)
		}
		a.History = repo
		sink, reader, pruner = repo, repo, repo
		logger.Info("statement history enabled", "path", cfg.History.DBPath)
	}

	a.Registry = session.NewRegistry(session.Config{
		MaxSessions:         cfg.Session.MaxSessions,
		DefaultTTL:          cfg.Session.TTL,
		TerminateGrace:      cfg.Session.TerminateGrace,
		ProtectBusySessions: cfg.Session.ProtectBusy,
		StrictInvariants:    cfg.StrictInvariants(),
	}, opener, clk, logger)

	a.Executor = statement.NewExecutor(statement.Config{
		MaxConcurrent: cfg.Statement.MaxConcurrent,
		Retention:     cfg.Statement.Retention,
	}, a.Registry, translate.NewSnowflake(), clk, sink, logger)

	a.Sweeper = sweeper.New(sweeper.Config{
		Schedule:         cfg.Session.SweepSchedule,
		HistoryRetention: cfg.History.Retention,
	}, a.Registry, a.Executor, pruner, clk, logger)

	limitCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	a.stopLimits = stop
	routerOpts := api.RouterOptions{
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if cfg.RateLimitRPS > 0 {
		routerOpts.RateLimiter = middleware.NewRateLimiter(limitCtx, middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		})
	}
	if cfg.AuthEnabled() {
		v, err := middleware.NewHS256Validator(cfg.JWTSecret)
		if err != nil {
			stop()
			return nil, errors.Join(err, a.closeHistory())
		}
		routerOpts.Validator = v
	}

	h := api.NewHandler(api.HandlerConfig{SubmitWait: cfg.Statement.SubmitWait}, a.Registry, a.Executor, reader, clk, logger)
	a.Handler = api.NewRouter(h, routerOpts)
	return a, nil
}

// Start starts background maintenance.
func (a *App) Start(ctx context.Context) error {
	return a.Sweeper.Start(ctx)
}

// Close shuts components down in reverse order of construction: sweeper,
// sessions (canceling their statements), executor, history.
func (a *App) Close(ctx context.Context) error {
	a.Sweeper.Stop()
	a.stopLimits()

	var errs []error
	if err := a.Registry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown sessions: %w", err))
	}
	if err := a.Executor.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.closeHistory(); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("application closed")
	return errors.Join(errs...)
}

func (a *App) closeHistory() error {
	if a.History == nil {
		return nil
	}
	if err := a.History.Close(); err != nil {
		return fmt.Errorf("close statement history: %w", err)
	}
	return nil
}
