package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckgate/internal/domain"
)

func TestValidateOutputFormat(t *testing.T) {
	for _, ok := range []string{"", "table", "json"} {
		assert.NoError(t, validateOutputFormat(ok), ok)
	}
	assert.Error(t, validateOutputFormat("csv"))
}

func TestPrintResultTable(t *testing.T) {
	rs := &domain.ResultSet{
		Columns: []domain.Column{{Name: "id"}, {Name: "name"}},
		Rows: [][]any{
			{int64(1), "alpha"},
			{int64(22), nil},
		},
	}
	var out bytes.Buffer
	require.NoError(t, printResultTable(&out, rs))
	assert.Equal(t, "ID  NAME\n1   alpha\n22  NULL\n(2 rows)\n", out.String())
}

func TestPrintResultTable_NoRows(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printResultTable(&out, &domain.ResultSet{}))
	assert.Equal(t, "(0 rows)\n", out.String())
}

func TestCellString(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"string", "x", "x"},
		{"int", int32(7), "7"},
		{"bool", true, "true"},
		{"time", ts, "2024-03-01 12:30:00.0000005"},
		{"list", []any{int64(1), "a"}, `[1,"a"]`},
		{"struct", map[string]any{"k": int64(1)}, `{"k":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cellString(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abcdef", truncate("abcdef", 0))
	assert.Equal(t, "abcdef", truncate("abcdef", 6))
	assert.Equal(t, "abc…", truncate("abcdef", 4))
}

func TestCellLimit_NonTerminal(t *testing.T) {
	assert.Equal(t, 0, cellLimit(&bytes.Buffer{}, 3))
}
