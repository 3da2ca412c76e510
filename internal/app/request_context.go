package app

import (
	"context"
	"errors"

	"github.com/newflowio/elova/internal/requestctx"
)

// Authenticate resolves a session token into the request context used by
// handlers. The user must still exist.
func (c *Container) Authenticate(ctx context.Context, token string) (*requestctx.Context, error) {
	if c == nil || c.Auth == nil {
		return nil, errors.New("auth service unavailable")
	}
	claims, err := c.Auth.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := c.Auth.Me(ctx, claims)
	if err != nil {
		return nil, err
	}
	rc := &requestctx.Context{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	}
	if claims.ExpiresAt != nil {
		rc.ExpiresAt = claims.ExpiresAt.Time
	}
	return rc, nil
}
