package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckgate/internal/domain"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{name: "generated when absent"},
		{name: "reused when well formed", incoming: "req-123_abc.1", reuse: true},
		{name: "replaced when malformed", incoming: "bad id\n"},
		{name: "replaced when too long", incoming: strings.Repeat("a", maxRequestIDLen+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string
			h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
			if tt.reuse {
				assert.Equal(t, tt.incoming, seen)
				return
			}
			_, err := uuid.Parse(seen)
			assert.NoError(t, err)
		})
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestAccessLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestID(AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v2/statements", nil)
	req.Header.Set(RequestIDHeader, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "http", line["component"])
	assert.Equal(t, "POST", line["method"])
	assert.Equal(t, "/api/v2/statements", line["path"])
	assert.InDelta(t, float64(http.StatusTeapot), line["status"], 0)
	assert.InDelta(t, float64(len("short and stout")), line["bytes"], 0)
	assert.Equal(t, "abc", line["request_id"])
}

func TestAccessLog_DefaultStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := AccessLog(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.InDelta(t, float64(http.StatusOK), line["status"], 0)
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rl := NewRateLimiter(ctx, RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
	h := rl.Handler(okHandler)

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000").Code)
	second := send("10.0.0.1:1001")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "2", second.Header().Get("X-RateLimit-Limit"))

	third := send("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000").Code, "other clients have their own bucket")
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rl := NewRateLimiter(ctx, RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	now := time.Now()
	rl.limiter("a", now.Add(-time.Hour))
	rl.limiter("b", now)

	rl.evictIdle(now)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "a")
	assert.Contains(t, rl.clients, "b")
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims, method jwt.SigningMethod) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	const secret = "test-secret"
	v, err := NewHS256Validator(secret)
	require.NoError(t, err)

	valid := jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{name: "valid token", header: "Bearer " + signToken(t, secret, valid, jwt.SigningMethodHS256), wantStatus: http.StatusOK, wantUser: "alice"},
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other", valid, jwt.SigningMethodHS256), wantStatus: http.StatusUnauthorized},
		{name: "wrong algorithm", header: "Bearer " + signToken(t, secret, valid, jwt.SigningMethodHS512), wantStatus: http.StatusUnauthorized},
		{
			name:       "expired",
			header:     "Bearer " + signToken(t, secret, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Hour).Unix()}, jwt.SigningMethodHS256),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no expiry",
			header:     "Bearer " + signToken(t, secret, jwt.MapClaims{"sub": "alice"}, jwt.SigningMethodHS256),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no subject",
			header:     "Bearer " + signToken(t, secret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}, jwt.SigningMethodHS256),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got string
			h := Authenticate(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p, ok := domain.PrincipalFromContext(r.Context())
				require.True(t, ok)
				got = p.Name
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantUser, got)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestNewHS256Validator_RequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := NewHS256Validator("")
	require.Error(t, err)
}
