package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"duckgate/internal/domain"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

type resultJSON struct {
	Columns       []string `json:"columns"`
	Types         []string `json:"types"`
	Rows          [][]any  `json:"rows"`
	TranslatedSQL string   `json:"translated_sql,omitempty"`
}

func printResultJSON(w io.Writer, rs *domain.ResultSet) error {
	out := resultJSON{
		Columns:       make([]string, len(rs.Columns)),
		Types:         make([]string, len(rs.Columns)),
		Rows:          rs.Rows,
		TranslatedSQL: rs.TranslatedSQL,
	}
	for i, c := range rs.Columns {
		out.Columns[i], out.Types[i] = c.Name, c.Type
	}
	if out.Rows == nil {
		out.Rows = [][]any{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// printResultTable renders rs as an aligned table followed by a row count.
// Cells are truncated to fit the terminal when w is one.
func printResultTable(w io.Writer, rs *domain.ResultSet) error {
	limit := cellLimit(w, len(rs.Columns))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	header := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		header[i] = truncate(strings.ToUpper(c.Name), limit)
	}
	if len(header) > 0 {
		_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	}
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = truncate(cellString(v), limit)
		}
		_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	noun := "rows"
	if len(rs.Rows) == 1 {
		noun = "row"
	}
	_, err := fmt.Fprintf(w, "(%d %s)\n", len(rs.Rows), noun)
	return err
}

// cellLimit returns the max cell width for w, or 0 for no limit.
func cellLimit(w io.Writer, cols int) int {
	f, ok := w.(*os.File)
	if !ok || cols == 0 || !term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd())) //nolint:gosec // fd fits in int
	if err != nil || width <= 0 {
		return 0
	}
	return max(8, width/cols-2)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len([]rune(s)) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case time.Time:
		return x.Format("2006-01-02 15:04:05.999999999")
	case []any, map[string]any:
		b, err := json.Marshal(x)
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}
