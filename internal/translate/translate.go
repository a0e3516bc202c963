// Package translate rewrites Snowflake SQL into the DuckDB dialect.
package translate

import (
	"context"
	"regexp"
	"strings"

	"duckgate/internal/domain"
)

var (
	_ domain.Translator = (*Snowflake)(nil)
	_ domain.Translator = Passthrough{}
)

// functionRenames maps Snowflake function names to DuckDB equivalents.
var functionRenames = map[string]string{
	"NVL":    "COALESCE",
	"IFNULL": "COALESCE",
	"IFF":    "IF",
	"LEN":    "LENGTH",
}

// niladicRenames are zero-argument calls that DuckDB spells as keywords.
var niladicRenames = map[string]string{
	"SYSDATE":           "CURRENT_TIMESTAMP",
	"GETDATE":           "CURRENT_TIMESTAMP",
	"CURRENT_TIMESTAMP": "CURRENT_TIMESTAMP",
	"LOCALTIMESTAMP":    "LOCALTIMESTAMP",
}

// typeRenames maps Snowflake type names to DuckDB types.
var typeRenames = map[string]string{
	"NUMBER":        "DECIMAL",
	"VARIANT":       "JSON",
	"OBJECT":        "JSON",
	"ARRAY":         "JSON",
	"TIMESTAMP_NTZ": "TIMESTAMP",
	"TIMESTAMP_LTZ": "TIMESTAMPTZ",
	"TIMESTAMP_TZ":  "TIMESTAMPTZ",
	"DATETIME":      "TIMESTAMP",
	"STRING":        "VARCHAR",
	"TEXT":          "VARCHAR",
	"BYTEINT":       "TINYINT",
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// Snowflake translates Snowflake SQL to DuckDB SQL. It works on tokens, so
// string literals, quoted identifiers and comments are never rewritten.
type Snowflake struct{}

// NewSnowflake creates a Snowflake translator.
func NewSnowflake() *Snowflake { return &Snowflake{} }

// Translate rewrites one statement. Multiple statements, stage and ingest
// commands, and empty input are rejected with a TranslationError.
func (t *Snowflake) Translate(_ context.Context, sql string, tc domain.TranslationContext) (string, error) {
	if err := validateContext(tc); err != nil {
		return "", err
	}
	toks, err := prepare(sql)
	if err != nil {
		return "", err
	}
	if err := rejectUnsupported(toks); err != nil {
		return "", err
	}
	return render(rewrite(toks)), nil
}

// Passthrough returns SQL unchanged apart from trailing semicolons, for
// clients that already speak the DuckDB dialect.
type Passthrough struct{}

// Translate implements domain.Translator.
func (Passthrough) Translate(_ context.Context, sql string, tc domain.TranslationContext) (string, error) {
	if err := validateContext(tc); err != nil {
		return "", err
	}
	toks, err := prepare(sql)
	if err != nil {
		return "", err
	}
	return render(toks), nil
}

func validateContext(tc domain.TranslationContext) error {
	for _, f := range []struct{ name, value string }{
		{"database", tc.Database},
		{"schema", tc.Schema},
		{"warehouse", tc.Warehouse},
		{"role", tc.Role},
	} {
		if f.value != "" && !identPattern.MatchString(f.value) {
			return domain.ErrTranslation("invalid %s identifier %q", f.name, f.value)
		}
	}
	return nil
}

// prepare tokenizes sql, drops trailing semicolons and insists on exactly
// one non-empty statement.
func prepare(sql string) ([]token, error) {
	toks, err := tokenize(sql)
	if err != nil {
		return nil, domain.ErrTranslation("%s", err.Error())
	}

	end := len(toks)
	for end > 0 {
		tk := toks[end-1]
		if !tk.significant() || tk.text == ";" {
			end--
			continue
		}
		break
	}
	toks = toks[:end]

	start := 0
	for start < len(toks) && !toks[start].significant() {
		start++
	}
	if start == len(toks) {
		return nil, domain.ErrTranslation("empty SQL statement")
	}
	for _, tk := range toks {
		if tk.kind == tokPunct && tk.text == ";" {
			return nil, domain.ErrTranslation("multiple statements are not supported")
		}
	}
	return toks, nil
}

// rejectUnsupported refuses stage and ingest commands that have no DuckDB
// equivalent in a session.
func rejectUnsupported(toks []token) error {
	words := leadingWords(toks, 5)
	if len(words) == 0 {
		return nil
	}
	switch words[0] {
	case "PUT", "GET", "REMOVE", "RM", "LIST", "LS":
		return domain.ErrTranslation("%s is not supported", words[0])
	case "COPY":
		if len(words) > 1 && words[1] == "INTO" {
			return domain.ErrTranslation("COPY INTO is not supported")
		}
	case "CREATE", "DROP", "ALTER", "DESCRIBE", "SHOW":
		rest := words[1:]
		for len(rest) > 0 && (rest[0] == "OR" || rest[0] == "REPLACE" || rest[0] == "TEMPORARY" || rest[0] == "TEMP") {
			rest = rest[1:]
		}
		if len(rest) > 0 && (rest[0] == "STAGE" || rest[0] == "STAGES") {
			return domain.ErrTranslation("%s STAGE is not supported", words[0])
		}
		if len(rest) > 1 && rest[0] == "FILE" && (rest[1] == "FORMAT" || rest[1] == "FORMATS") {
			return domain.ErrTranslation("%s FILE FORMAT is not supported", words[0])
		}
	}
	return nil
}

// leadingWords returns up to n upper-cased leading word tokens.
func leadingWords(toks []token, n int) []string {
	var words []string
	for _, tk := range toks {
		if !tk.significant() {
			continue
		}
		if tk.kind != tokWord {
			break
		}
		words = append(words, strings.ToUpper(tk.text))
		if len(words) == n {
			break
		}
	}
	return words
}

// rewrite applies function and type renames to word tokens.
func rewrite(toks []token) []token {
	out := make([]token, len(toks))
	copy(out, toks)

	ddl := false
	if w := leadingWords(toks, 1); len(w) == 1 && (w[0] == "CREATE" || w[0] == "ALTER") {
		ddl = true
	}

	// castDepth records paren depths opened by CAST( or TRY_CAST(.
	var castDepth []int
	depth := 0
	prev := -1 // index of the previous significant token

	for i := 0; i < len(out); i++ {
		tk := out[i]
		if !tk.significant() {
			continue
		}
		switch {
		case tk.kind == tokPunct && tk.text == "(":
			depth++
			if prev >= 0 && out[prev].kind == tokWord {
				name := strings.ToUpper(out[prev].text)
				if name == "CAST" || name == "TRY_CAST" {
					castDepth = append(castDepth, depth)
				}
			}
		case tk.kind == tokPunct && tk.text == ")":
			if n := len(castDepth); n > 0 && castDepth[n-1] == depth {
				castDepth = castDepth[:n-1]
			}
			depth--
		case tk.kind == tokWord:
			upper := strings.ToUpper(tk.text)
			next := nextSignificant(out, i)
			qualified := prev >= 0 && out[prev].text == "."
			calls := next >= 0 && out[next].text == "("

			if calls && !qualified {
				if repl, ok := niladicRenames[upper]; ok {
					if closeIdx := nextSignificant(out, next); closeIdx >= 0 && out[closeIdx].text == ")" {
						out[i].text = repl
						blank(out, next, closeIdx)
						break
					}
				}
				if repl, ok := functionRenames[upper]; ok {
					out[i].text = repl
					break
				}
			}
			if repl, ok := typeRenames[upper]; ok && !qualified && inTypePosition(out, prev, depth, castDepth, ddl) {
				out[i].text = repl
			}
		}
		prev = i
	}
	return out
}

// inTypePosition reports whether the word after prev is a type name: after
// "::", after AS inside CAST, after TYPE, or after a column name inside a
// CREATE/ALTER column list.
func inTypePosition(toks []token, prev, depth int, castDepth []int, ddl bool) bool {
	if prev < 0 {
		return false
	}
	p := toks[prev]
	if p.kind == tokPunct && p.text == "::" {
		return true
	}
	if p.kind == tokWord {
		up := strings.ToUpper(p.text)
		if up == "AS" && len(castDepth) > 0 && castDepth[len(castDepth)-1] == depth {
			return true
		}
		if up == "TYPE" && ddl {
			return true
		}
	}
	if ddl && depth >= 1 && (p.kind == tokWord || p.kind == tokQuotedIdent) {
		before := prevSignificant(toks, prev)
		return before >= 0 && (toks[before].text == "(" || toks[before].text == ",")
	}
	return false
}

func nextSignificant(toks []token, i int) int {
	for j := i + 1; j < len(toks); j++ {
		if toks[j].significant() {
			return j
		}
	}
	return -1
}

func prevSignificant(toks []token, i int) int {
	for j := i - 1; j >= 0; j-- {
		if toks[j].significant() {
			return j
		}
	}
	return -1
}

// blank empties tokens from..to inclusive.
func blank(toks []token, from, to int) {
	for j := from; j <= to; j++ {
		toks[j] = token{kind: tokSpace}
	}
}

func render(toks []token) string {
	var b strings.Builder
	for _, tk := range toks {
		b.WriteString(tk.text)
	}
	return strings.TrimSpace(b.String())
}
