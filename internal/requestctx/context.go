package requestctx

import (
	"context"
	"time"
)

type contextKey string

const fiberLocalsKey = "requestctx"

// Key is the typed context key used for storing the request Context.
var Key contextKey = "elova/requestctx"

// Context captures the signed-in user resolved from a session token.
type Context struct {
	RequestID string
	UserID    string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// IsAdmin reports whether the session belongs to an administrator.
func (c *Context) IsAdmin() bool {
	return c != nil && c.Role == "admin"
}

// WithContext embeds the request context into the parent context.
func WithContext(parent context.Context, rc *Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, rc)
}

// FromContext retrieves the request context if present.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(Key).(*Context)
	return rc, ok && rc != nil
}

// FiberLocalsKey returns the key used in fiber.Locals for request context storage.
func FiberLocalsKey() string {
	return fiberLocalsKey
}
