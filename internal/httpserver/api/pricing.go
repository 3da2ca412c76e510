package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/httpserver/httputil"
)

type pricingHandler struct {
	container *app.Container
}

func registerPricingRoutes(router fiber.Router, container *app.Container) {
	handler := &pricingHandler{container: container}
	router.Get("/config/ai-pricing", handler.table)
}

func registerCronRoutes(router fiber.Router, container *app.Container) {
	handler := &pricingHandler{container: container}
	router.Get("/cron/sync-pricing", handler.cronSync)
}

func (h *pricingHandler) table(c *fiber.Ctx) error {
	table, err := h.container.Pricing.Table(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to fetch pricing configuration")
	}
	return c.JSON(fiber.Map{
		"data":     table,
		"fallback": h.container.Pricing.Fallback(),
	})
}

// cronSync refreshes the price table from OpenRouter. When a cron secret is
// configured the caller must present it as a bearer token.
func (h *pricingHandler) cronSync(c *fiber.Ctx) error {
	if secret := h.container.Config.Server.CronSecret; secret != "" {
		token := httputil.BearerToken(c)
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "unauthorized")
		}
	}

	ctx := userContext(c)
	n, err := h.container.Pricing.Sync(ctx)
	if err != nil {
		h.container.Logger.ErrorContext(ctx, "pricing sync failed", slog.String("error", err.Error()))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to sync pricing models",
		})
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"message":   fmt.Sprintf("Synced %d models", n),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
