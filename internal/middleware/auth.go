package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cafe-pos/terminal/internal/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenSource returns the terminal's active session token, or "".
type TokenSource interface {
	Token() string
}

// Authenticate admits requests whose bearer token is the terminal's active
// session token. The UI receives that token from POST /auth/login.
func Authenticate(tokens TokenSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization format"})
				return
			}

			active := tokens.Token()
			if active == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "session expired, please log in again"})
				return
			}
			if subtle.ConstantTimeCompare([]byte(active), []byte(parts[1])) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}

			ctx := r.Context()
			// Opaque tokens carry no claims; the request is still admitted.
			if claims, err := auth.Inspect(parts[1]); err == nil {
				ctx = context.WithValue(ctx, claimsKey, claims)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the decoded session claims, or nil for opaque
// tokens.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
