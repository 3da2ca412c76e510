package api

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/httpserver/httputil"
	"github.com/newflowio/elova/internal/requestctx"
)

// sessionAuth accepts a bearer token or the session cookie and stores the
// resolved user on the request.
func sessionAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := sessionToken(c, container)
		if token == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
		}

		rc, err := container.Authenticate(userContext(c), token)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid or expired session")
		}
		if id, ok := c.Locals("requestid").(string); ok {
			rc.RequestID = id
		}

		c.Locals(requestctx.FiberLocalsKey(), rc)
		c.SetUserContext(requestctx.WithContext(userContext(c), rc))
		return c.Next()
	}
}

func sessionToken(c *fiber.Ctx, container *app.Container) string {
	if token := httputil.BearerToken(c); token != "" {
		return token
	}
	return strings.TrimSpace(c.Cookies(container.Config.Auth.CookieName))
}

func currentUser(c *fiber.Ctx) (*requestctx.Context, bool) {
	rc, ok := c.Locals(requestctx.FiberLocalsKey()).(*requestctx.Context)
	return rc, ok && rc != nil
}

func userContext(c *fiber.Ctx) context.Context {
	if c == nil {
		return context.Background()
	}
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}
