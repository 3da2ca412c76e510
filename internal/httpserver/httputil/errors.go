package httputil

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const bearerPrefix = "bearer "

// WriteError standardizes JSON error responses across the API.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

// BearerToken returns the token from an "Authorization: Bearer" header, or
// an empty string.
func BearerToken(c *fiber.Ctx) string {
	raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(raw) <= len(bearerPrefix) || !strings.HasPrefix(strings.ToLower(raw), bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(raw[len(bearerPrefix):])
}
