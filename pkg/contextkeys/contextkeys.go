// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so key
// usage stays discoverable and typo-proof.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *auth.Session
	// Set by: middleware.SessionMiddleware (pkg/middleware/auth.go)
	// Required by: all authenticated API endpoints
	SessionKey Key = "session"

	// UserIDKey contains the authenticated user ID string
	// Set by: middleware.SessionMiddleware
	// Used by: handlers, ledger calls, audit logging
	UserIDKey Key = "user_id"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: middleware.MetricsMiddleware
	// Used by: logging
	RequestIDKey Key = "request_id"
)

// WithUserID stores the authenticated user ID on the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserID extracts the authenticated user ID, or "" when unauthenticated
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestID stores the request ID on the context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID extracts the request ID, or "" when absent
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
