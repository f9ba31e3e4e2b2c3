// Package middleware provides the HTTP cross-cutting layers: bearer
// session authentication, Redis-backed per-user rate limiting, and
// Prometheus request instrumentation.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kerna-app/kerna/pkg/contextkeys"
	"github.com/kerna-app/kerna/pkg/httputil"
)

// SessionValidator resolves a bearer token to a user ID
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (string, error)
}

// SessionMiddleware authenticates requests with opaque bearer tokens
type SessionMiddleware struct {
	sessions SessionValidator
	logger   *logrus.Logger
}

// NewSessionMiddleware creates a session auth middleware
func NewSessionMiddleware(sessions SessionValidator, logger *logrus.Logger) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions, logger: logger}
}

// Require rejects requests without a valid session and attaches the user
// ID to the request context
func (m *SessionMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}

		userID, err := m.sessions.ValidateSession(r.Context(), token)
		if err != nil {
			httputil.WriteUnauthorized(w, "Invalid or expired session")
			return
		}

		ctx := contextkeys.WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from the Authorization header
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ClientIP returns the originating client address, honoring proxies
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
