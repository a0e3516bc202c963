package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"duckgate/internal/domain"
)

// HS256Validator validates JWTs signed with a shared HS256 secret.
type HS256Validator struct {
	secret []byte
}

// NewHS256Validator creates a validator for HS256 tokens.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

// Validate verifies tokenString and returns the principal it names. The
// principal is the "sub" claim; tokens without one are rejected.
func (v *HS256Validator) Validate(tokenString string) (domain.ContextPrincipal, error) {
	tok, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return domain.ContextPrincipal{}, fmt.Errorf("token verification failed: %w", err)
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return domain.ContextPrincipal{}, fmt.Errorf("parse claims: %w", err)
	}
	if sub == "" {
		return domain.ContextPrincipal{}, errors.New("token has no subject")
	}
	return domain.ContextPrincipal{Name: sub}, nil
}

// Authenticate requires a valid "Authorization: Bearer <jwt>" header and
// stores the principal in the request context. Failures get 401.
func Authenticate(v *HS256Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			p, err := v.Validate(token)
			if err != nil {
				writeUnauthorized(w, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(r.Context(), p)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="duckgate"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    "401",
		"message": "unauthorized: " + msg,
	})
}
