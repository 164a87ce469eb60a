package api

import (
	"context"
	"time"
)

// QueryTimeout is the default timeout for database queries
const QueryTimeout = 10 * time.Second

// WithQueryTimeout creates a context with query timeout
func WithQueryTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, QueryTimeout)
}

type contextKey string

const authUserKey contextKey = "authUser"

// AuthUser carries the authenticated caller's identity through the request context
type AuthUser struct {
	AccountID string
	Email     string
}

// WithAuthUser stashes the authenticated user on the context
func WithAuthUser(parent context.Context, user AuthUser) context.Context {
	return context.WithValue(parent, authUserKey, user)
}

// AuthUserFromContext returns the authenticated user stashed by the middleware
func AuthUserFromContext(ctx context.Context) (AuthUser, bool) {
	user, ok := ctx.Value(authUserKey).(AuthUser)
	return user, ok
}
