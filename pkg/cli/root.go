// Package cli implements the duckgate command line: serve, query and version.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"duckgate/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		output  string
	)

	rootCmd := &cobra.Command{
		Use:           "duckgate",
		Short:         "SQL statement gateway over isolated DuckDB sessions",
		Long:          "duckgate serves a warehouse-style statement API backed by per-client DuckDB sessions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			return config.LoadDotEnv(envFile)
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table|json")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}
