// Package jwt authenticates Admin API requests with a bearer JWT,
// trimmed from the teacher's middleware down to a single static signing
// key: no JWKS cache, no background refresh goroutine, no subject-type
// detector. This API has one signer (the orchestrator itself) and one
// audience (operators), so neither is needed.
package jwt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const claimsContextKey contextKey = iota

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Config holds the middleware's static dependencies.
type Config struct {
	SigningKey []byte
	Issuer     string // validated against the token's iss claim if non-empty
}

// Middleware authenticates the bearer token on every request and, on
// success, stores its claims in the request context for downstream
// authorization (internal/authz/casbin) and audit logging to read.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := extractBearer(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, ErrMissingToken.Error())
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return config.SigningKey, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
				return
			}

			if config.Issuer != "" {
				iss, _ := claims["iss"].(string)
				if iss != config.Issuer {
					writeError(w, http.StatusUnauthorized, "invalid issuer")
					return
				}
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject returns the sub claim of the request's validated token, empty
// if the request was never authenticated (middleware not mounted, or
// running in a test harness that bypasses it).
func Subject(r *http.Request) string {
	claims, ok := r.Context().Value(claimsContextKey).(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "bearer "
	if !strings.HasPrefix(strings.ToLower(header), prefix) {
		return "", errors.New("missing or malformed authorization header")
	}
	return header[len(prefix):], nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}
