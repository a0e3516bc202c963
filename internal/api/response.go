package api

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"duckgate/internal/domain"
)

// Warehouse response codes.
const (
	codeSuccess         = "090001"
	codeAsyncInProgress = "333334"
	codeCanceled        = "000604"
	codeCompilation     = "001003"
	codeExecution       = "000603"
	codeTimeout         = "000630"
	codeNoSuchStatement = "000709"

	sqlStateSuccess = "00000"
	resultFormat    = "jsonv2"
)

type rowTypeJSON struct {
	Name       string  `json:"name"`
	Database   string  `json:"database"`
	Schema     string  `json:"schema"`
	Table      string  `json:"table"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	Precision  *int    `json:"precision"`
	Scale      *int    `json:"scale"`
	Length     *int    `json:"length"`
	ByteLength *int    `json:"byteLength"`
	Collation  *string `json:"collation"`
}

type partitionInfoJSON struct {
	RowCount         int `json:"rowCount"`
	UncompressedSize int `json:"uncompressedSize"`
	CompressedSize   int `json:"compressedSize"`
}

type resultSetMetaDataJSON struct {
	NumRows       int                 `json:"numRows"`
	Format        string              `json:"format"`
	RowType       []rowTypeJSON       `json:"rowType"`
	PartitionInfo []partitionInfoJSON `json:"partitionInfo"`
}

// statementJSON is the warehouse-style statement response.
type statementJSON struct {
	Code               string                 `json:"code"`
	SQLState           string                 `json:"sqlState"`
	Message            string                 `json:"message"`
	StatementHandle    string                 `json:"statementHandle"`
	StatementStatusURL string                 `json:"statementStatusUrl"`
	Status             string                 `json:"status"`
	CreatedOn          int64                  `json:"createdOn"`
	DateTime           string                 `json:"dateTime"`
	ErrorCode          string                 `json:"errorCode,omitempty"`
	TranslatedSQL      string                 `json:"translatedSql,omitempty"`
	ResultSetMetaData  *resultSetMetaDataJSON `json:"resultSetMetaData,omitempty"`
	Data               [][]*string            `json:"data,omitempty"`
}

func statementStatusURL(handle string) string { return "/api/v2/statements/" + handle }

// statementResponse maps a snapshot to its HTTP status and body. now stamps
// dateTime.
func statementResponse(s domain.StatementSnapshot, now time.Time) (int, statementJSON) {
	body := statementJSON{
		SQLState:           sqlStateSuccess,
		StatementHandle:    s.Handle,
		StatementStatusURL: statementStatusURL(s.Handle),
		Status:             string(s.Status),
		CreatedOn:          s.CreatedAt.UnixMilli(),
		DateTime:           now.UTC().Format(time.RFC3339Nano),
	}

	switch s.Status {
	case domain.StatementStatusSucceeded:
		body.Code = codeSuccess
		body.Message = "Statement executed successfully."
		if s.Result != nil {
			body.TranslatedSQL = s.Result.TranslatedSQL
			body.ResultSetMetaData, body.Data = mapResultSet(s.Result, s.Options)
		}
		return http.StatusOK, body

	case domain.StatementStatusFailed:
		body.Code = codeExecution
		body.Message = "SQL execution failed"
		if s.Error != nil {
			body.Code = failureCode(s.Error.Code)
			body.ErrorCode = string(s.Error.Code)
			body.SQLState = s.Error.SQLState
			body.Message = s.Error.Message
		}
		return http.StatusUnprocessableEntity, body

	case domain.StatementStatusCanceled:
		body.Code = codeCanceled
		body.SQLState = domain.SQLStateQueryCanceled
		body.Message = "SQL execution canceled"
		return http.StatusUnprocessableEntity, body

	default:
		body.Code = codeAsyncInProgress
		body.Message = "Asynchronous execution in progress. Use provided query id to perform query monitoring and management."
		return http.StatusAccepted, body
	}
}

func failureCode(c domain.StatementErrorCode) string {
	switch c {
	case domain.StatementErrorTranslation:
		return codeCompilation
	case domain.StatementErrorTimeout:
		return codeTimeout
	default:
		return codeExecution
	}
}

func mapResultSet(rs *domain.ResultSet, opts domain.StatementOptions) (*resultSetMetaDataJSON, [][]*string) {
	rowTypes := make([]rowTypeJSON, len(rs.Columns))
	for i, c := range rs.Columns {
		rowTypes[i] = rowType(c, opts)
	}

	data := make([][]*string, len(rs.Rows))
	size := 0
	for i, row := range rs.Rows {
		out := make([]*string, len(row))
		for j, v := range row {
			out[j] = formatValue(v)
			if out[j] != nil {
				size += len(*out[j])
			}
		}
		data[i] = out
	}

	return &resultSetMetaDataJSON{
		NumRows: len(rs.Rows),
		Format:  resultFormat,
		RowType: rowTypes,
		PartitionInfo: []partitionInfoJSON{{
			RowCount:         len(rs.Rows),
			UncompressedSize: size,
		}},
	}, data
}

var decimalType = regexp.MustCompile(`^DECIMAL\((\d+),\s*(\d+)\)$`)

// rowType describes a column using warehouse type names. Names are
// upper-cased.
func rowType(c domain.Column, opts domain.StatementOptions) rowTypeJSON {
	rt := rowTypeJSON{
		Name:     strings.ToUpper(c.Name),
		Database: strings.ToUpper(opts.Database),
		Schema:   strings.ToUpper(opts.Schema),
		Nullable: c.Nullable,
	}
	typ := strings.ToUpper(strings.TrimSpace(c.Type))

	switch {
	case decimalType.MatchString(typ):
		m := decimalType.FindStringSubmatch(typ)
		p, _ := strconv.Atoi(m[1])
		s, _ := strconv.Atoi(m[2])
		rt.Type, rt.Precision, rt.Scale = "fixed", &p, &s
	case typ == "DECIMAL":
		p, s := 18, 3
		rt.Type, rt.Precision, rt.Scale = "fixed", &p, &s
	case isIntegerType(typ):
		p, s := 38, 0
		rt.Type, rt.Precision, rt.Scale = "fixed", &p, &s
	case typ == "DOUBLE" || typ == "FLOAT" || typ == "REAL":
		rt.Type = "real"
	case typ == "BOOLEAN":
		rt.Type = "boolean"
	case typ == "DATE":
		rt.Type = "date"
	case strings.HasPrefix(typ, "TIME WITH") || typ == "TIMETZ" || typ == "TIME":
		rt.Type = "time"
	case typ == "TIMESTAMPTZ" || typ == "TIMESTAMP WITH TIME ZONE":
		rt.Type = "timestamp_tz"
	case strings.HasPrefix(typ, "TIMESTAMP"):
		rt.Type = "timestamp_ntz"
	case typ == "BLOB":
		rt.Type = "binary"
	case strings.HasSuffix(typ, "[]") || strings.HasPrefix(typ, "LIST"):
		rt.Type = "array"
	case typ == "JSON" || strings.HasPrefix(typ, "STRUCT") || strings.HasPrefix(typ, "MAP"):
		rt.Type = "object"
	default:
		rt.Type = "text"
		l := 16777216
		rt.Length, rt.ByteLength = &l, &l
	}
	return rt
}

func isIntegerType(typ string) bool {
	switch typ {
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT":
		return true
	}
	return false
}

// formatValue renders a value as its jsonv2 string form. NULL stays nil.
func formatValue(v any) *string {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = x
	case bool:
		s = strconv.FormatBool(x)
	case int:
		s = strconv.Itoa(x)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		s = fmt.Sprint(x)
	case float32:
		s = strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		s = strconv.FormatFloat(x, 'g', -1, 64)
	case *big.Int:
		s = x.String()
	case time.Time:
		s = x.Format("2006-01-02 15:04:05.999999999")
	case []any, map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			s = fmt.Sprint(x)
		} else {
			s = string(b)
		}
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	return &s
}
