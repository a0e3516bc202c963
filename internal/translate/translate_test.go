package translate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckgate/internal/domain"
)

func TestSnowflake_Rewrites(t *testing.T) {
	t.Parallel()
	tr := NewSnowflake()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain select untouched", "SELECT 1", "SELECT 1"},
		{"trailing semicolons stripped", "SELECT 1;;  ", "SELECT 1"},
		{"nvl", "SELECT nvl(a, 0) FROM t", "SELECT COALESCE(a, 0) FROM t"},
		{"iff", "SELECT IFF(x > 1, 'big', 'small')", "SELECT IF(x > 1, 'big', 'small')"},
		{"len", "SELECT LEN(name) FROM t", "SELECT LENGTH(name) FROM t"},
		{"sysdate", "SELECT SYSDATE()", "SELECT CURRENT_TIMESTAMP"},
		{"current_timestamp call", "SELECT CURRENT_TIMESTAMP( )", "SELECT CURRENT_TIMESTAMP"},
		{"cast to number", "SELECT CAST(x AS NUMBER(10,2)) FROM t", "SELECT CAST(x AS DECIMAL(10,2)) FROM t"},
		{"double colon cast", "SELECT payload::VARIANT, ts::timestamp_ntz FROM t", "SELECT payload::JSON, ts::TIMESTAMP FROM t"},
		{
			"create table column types",
			"CREATE TABLE t (id NUMBER(38,0), doc VARIANT, at TIMESTAMP_LTZ, \"object\" OBJECT)",
			"CREATE TABLE t (id DECIMAL(38,0), doc JSON, at TIMESTAMPTZ, \"object\" JSON)",
		},
		{"alter column type", "ALTER TABLE t ALTER COLUMN c TYPE NUMBER", "ALTER TABLE t ALTER COLUMN c TYPE DECIMAL"},
		{"strings untouched", "SELECT 'NVL(x)', 'a;b' AS s", "SELECT 'NVL(x)', 'a;b' AS s"},
		{"quoted identifiers untouched", `SELECT "NVL"("LEN") FROM "NUMBER"`, `SELECT "NVL"("LEN") FROM "NUMBER"`},
		{"comments untouched", "SELECT /* nvl(a, b); len(x) */ 1", "SELECT /* nvl(a, b); len(x) */ 1"},
		{"trailing comment dropped", "SELECT 1; -- done\n", "SELECT 1"},
		{"column named number not a type", "SELECT number FROM t WHERE number > 1", "SELECT number FROM t WHERE number > 1"},
		{"qualified name kept", "SELECT t.len(x), s.variant FROM t", "SELECT t.len(x), s.variant FROM t"},
		{"escaped quote in string", "SELECT 'it''s nvl(x)'", "SELECT 'it''s nvl(x)'"},
		{"dollar string", "SELECT $$nvl(a);$$", "SELECT $$nvl(a);$$"},
		{"duckdb copy to allowed", "COPY t TO 'out.csv'", "COPY t TO 'out.csv'"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tr.Translate(context.Background(), tc.in, domain.TranslationContext{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSnowflake_Rejects(t *testing.T) {
	t.Parallel()
	tr := NewSnowflake()

	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"empty", "", "empty"},
		{"only whitespace and comments", "  -- nothing\n /* here */ ;", "empty"},
		{"multiple statements", "SELECT 1; SELECT 2", "multiple statements"},
		{"put", "PUT file:///tmp/data.csv @my_stage", "PUT"},
		{"get", "get @my_stage/file.csv file:///tmp", "GET"},
		{"copy into", "COPY INTO t FROM @stage", "COPY INTO"},
		{"create stage", "CREATE OR REPLACE STAGE s URL='s3://x'", "STAGE"},
		{"create file format", "CREATE FILE FORMAT csv_fmt TYPE = CSV", "FILE FORMAT"},
		{"unterminated string", "SELECT 'oops", "unterminated"},
		{"unterminated comment", "SELECT 1 /* never closed", "unterminated"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tr.Translate(context.Background(), tc.in, domain.TranslationContext{})
			var te *domain.TranslationError
			require.ErrorAs(t, err, &te)
			assert.Contains(t, te.Error(), tc.msg)
		})
	}
}

func TestSnowflake_ValidatesContextIdentifiers(t *testing.T) {
	t.Parallel()
	tr := NewSnowflake()

	_, err := tr.Translate(context.Background(), "SELECT 1", domain.TranslationContext{Database: "ANALYTICS", Schema: "PUBLIC", Warehouse: "COMPUTE_WH", Role: "SYSADMIN"})
	require.NoError(t, err)

	for _, tc := range []domain.TranslationContext{
		{Database: "bad name"},
		{Schema: "x;drop"},
		{Role: "1role"},
	} {
		_, err := tr.Translate(context.Background(), "SELECT 1", tc)
		var te *domain.TranslationError
		require.ErrorAs(t, err, &te)
	}
}

func TestPassthrough(t *testing.T) {
	t.Parallel()
	got, err := Passthrough{}.Translate(context.Background(), "SELECT nvl(a, 1) FROM t;", domain.TranslationContext{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT nvl(a, 1) FROM t", got)

	_, err = Passthrough{}.Translate(context.Background(), " ; ", domain.TranslationContext{})
	require.Error(t, err)
}

func TestTokenize_IsLossless(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"SELECT a, b::INT FROM \"t\"\"x\" WHERE c = 'it''s' -- tail",
		"/* c */ SELECT 1.5e10, $1, x->>'k'",
		"select ünïcode_col from t",
	}
	for _, in := range inputs {
		toks, err := tokenize(in)
		require.NoError(t, err)
		var b strings.Builder
		for _, tk := range toks {
			b.WriteString(tk.text)
		}
		assert.Equal(t, in, b.String())
	}
}
