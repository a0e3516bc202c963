package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"duckgate/internal/app"
	"duckgate/internal/config"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		listen      string
		maxSessions int
		sessionTTL  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the statement API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.ListenAddr = listen
			}
			if flags.Changed("max-sessions") {
				cfg.Session.MaxSessions = maxSessions
			}
			if flags.Changed("session-ttl") {
				if sessionTTL <= 0 {
					return fmt.Errorf("--session-ttl must be positive")
				}
				cfg.Session.TTL = sessionTTL
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			slog.SetDefault(logger)
			for _, w := range cfg.Warnings {
				logger.Warn(w)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
			defer stop()

			ln, err := net.Listen("tcp", cfg.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
			}
			return serve(ctx, ln, app.Deps{Cfg: cfg, Logger: logger})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides LISTEN_ADDR)")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "Maximum concurrent sessions (overrides MAX_SESSIONS)")
	cmd.Flags().DurationVar(&sessionTTL, "session-ttl", 0, "Default session TTL (overrides SESSION_TTL)")
	return cmd
}

// serve runs the API on ln until ctx is done, then drains HTTP requests and
// closes the application. ln is closed on return.
func serve(ctx context.Context, ln net.Listener, deps app.Deps) error {
	logger := deps.Logger

	a, err := app.New(ctx, deps)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("init app: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = ln.Close()
		return errors.Join(fmt.Errorf("start app: %w", err), a.Close(context.WithoutCancel(ctx)))
	}

	srv := &http.Server{
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("duckgate listening", "addr", ln.Addr().String(), "version", version)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), a.Close(shutdownCtx))
	})
	return g.Wait()
}
