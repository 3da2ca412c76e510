package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/auth"
	"github.com/newflowio/elova/internal/httpserver/httputil"
)

type authHandler struct {
	container *app.Container
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func registerAuthRoutes(router fiber.Router, container *app.Container) {
	handler := &authHandler{container: container}
	router.Post("/auth/login", handler.login)
	router.Post("/auth/setup-login", handler.login)
	router.Post("/auth/logout", handler.logout)
	router.Get("/auth/session", handler.session)
}

func (h *authHandler) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "email and password are required")
	}

	session, user, err := h.container.Auth.Login(userContext(c), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid credentials")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "login failed")
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"message":   "Login successful",
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
		"user":      sessionUser{ID: user.ID, Email: user.Email, Role: user.Role},
	})
}

func (h *authHandler) logout(c *fiber.Ctx) error {
	c.ClearCookie(h.container.Config.Auth.CookieName)
	return c.JSON(fiber.Map{"success": true, "message": "Logged out successfully"})
}

// session never fails: an absent or invalid token reports unauthenticated.
func (h *authHandler) session(c *fiber.Ctx) error {
	token := sessionToken(c, h.container)
	if token != "" {
		if rc, err := h.container.Authenticate(userContext(c), token); err == nil {
			return c.JSON(fiber.Map{
				"authenticated": true,
				"user":          sessionUser{ID: rc.UserID, Email: rc.Email, Role: rc.Role},
				"expiresAt":     rc.ExpiresAt,
			})
		}
	}
	return c.JSON(fiber.Map{"authenticated": false, "user": nil})
}
