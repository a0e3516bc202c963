package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"duckgate/internal/app"
	"duckgate/internal/clock"
	"duckgate/internal/config"
	"duckgate/internal/domain"
	"duckgate/internal/session"
	"duckgate/internal/statement"
	"duckgate/internal/translate"
)

type queryOptions struct {
	DBPath      string
	Timeout     time.Duration
	Database    string
	Schema      string
	NoTranslate bool
	Format      string
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <sql>...",
		Short: "Run statements in a local session and print the results",
		Long: `Run one or more statements in order against a single local session.
Pass "-" to read the statement text from stdin.`,
		Example: `  duckgate query "SELECT NVL(NULL, 1) AS x"
  duckgate query --db analytics "CREATE TABLE t AS SELECT 1 AS id" "SELECT * FROM t"
  echo "SELECT CURRENT_TIMESTAMP()" | duckgate query -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stmts, err := readStatements(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			opts.Format = getOutputFormat(cmd)
			return runQuery(cmd.Context(), cmd.OutOrStdout(), app.NewEngineOpener(cfg, logger), logger, stmts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "Persistent database path or URI (default: in-memory)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "Per-statement timeout (0 = none)")
	cmd.Flags().StringVar(&opts.Database, "database", "", "Default database for unqualified names")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "Default schema for unqualified names")
	cmd.Flags().BoolVar(&opts.NoTranslate, "no-translate", false, "Send SQL to the engine unchanged")
	return cmd
}

func readStatements(args []string, stdin io.Reader) ([]string, error) {
	stmts := make([]string, 0, len(args))
	for _, a := range args {
		if a == "-" {
			b, err := io.ReadAll(stdin)
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			a = string(b)
		}
		if strings.TrimSpace(a) == "" {
			return nil, fmt.Errorf("empty statement")
		}
		stmts = append(stmts, a)
	}
	return stmts, nil
}

// runQuery opens one session, submits every statement up front, then prints
// each result in submission order. The first failed statement stops output
// and is returned as the error; later statements are canceled with the session.
func runQuery(ctx context.Context, w io.Writer, opener domain.EngineOpener, logger *slog.Logger, stmts []string, opts queryOptions) error {
	var translator domain.Translator = translate.NewSnowflake()
	if opts.NoTranslate {
		translator = translate.Passthrough{}
	}

	reg := session.NewRegistry(session.Config{MaxSessions: 1, StrictInvariants: true}, opener, clock.Real{}, logger)
	exec := statement.NewExecutor(statement.Config{}, reg, translator, clock.Real{}, nil, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = reg.Shutdown(closeCtx)
		_ = exec.Close(closeCtx)
	}()

	kind := domain.MemoryKind()
	if opts.DBPath != "" {
		kind = domain.PersistentKind(opts.DBPath)
	}
	sessionID, err := reg.CreateSession(ctx, kind, 0)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	stmtOpts := domain.StatementOptions{Timeout: opts.Timeout, Database: opts.Database, Schema: opts.Schema}
	handles := make([]string, 0, len(stmts))
	for _, sql := range stmts {
		h, err := exec.Submit(ctx, sessionID, sql, stmtOpts)
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		handles = append(handles, h)
	}

	for i, h := range handles {
		snap, err := exec.Wait(ctx, h)
		if err != nil {
			_, _ = exec.Cancel(context.WithoutCancel(ctx), h)
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
		if err := printSnapshot(w, snap, opts.Format); err != nil {
			return err
		}
		if snap.Status != domain.StatementStatusSucceeded {
			return statementFailure(i+1, snap)
		}
	}
	return nil
}

func printSnapshot(w io.Writer, snap domain.StatementSnapshot, format string) error {
	if snap.Status != domain.StatementStatusSucceeded || snap.Result == nil {
		return nil
	}
	if format == "json" {
		return printResultJSON(w, snap.Result)
	}
	return printResultTable(w, snap.Result)
}

func statementFailure(n int, snap domain.StatementSnapshot) error {
	if snap.Status == domain.StatementStatusCanceled {
		return fmt.Errorf("statement %d canceled", n)
	}
	if snap.Error == nil {
		return fmt.Errorf("statement %d ended in status %s", n, snap.Status)
	}
	return fmt.Errorf("statement %d failed (%s, SQLSTATE %s): %s", n, snap.Error.Code, snap.Error.SQLState, snap.Error.Message)
}
