package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive (RFC 7235).
func BearerToken(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(strings.Join(fields[1:], " "))
}

// RequestToken is BearerToken with a ?token= fallback, for WebSocket
// clients that cannot set headers.
func RequestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return BearerToken(r)
}

// ValidToken compares in constant time. An empty expected token rejects
// everything.
func ValidToken(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// RequireToken rejects requests that do not carry the static API token.
func RequireToken(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				log.WithField("path", r.URL.Path).Debug("auth_missing_token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !ValidToken(expected, token) {
				log.WithField("path", r.URL.Path).Warn("auth_invalid_token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
