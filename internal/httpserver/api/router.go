// Package api exposes the JSON API consumed by the dashboard.
package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
)

// Register wires the public and session protected /api routes.
func Register(app *fiber.App, container *app.Container) {
	public := app.Group("/api")
	registerAboutRoutes(public, container)
	registerAuthRoutes(public, container)
	registerSetupRoutes(public, container)
	registerCronRoutes(public, container)

	protected := app.Group("/api", sessionAuth(container))
	registerInitialSyncRoutes(protected, container)
	registerSyncRoutes(protected, container)
	registerExecutionRoutes(protected, container)
	registerDashboardRoutes(protected, container)
	registerPricingRoutes(protected, container)
	registerProviderRoutes(protected, container)
	registerWorkflowRoutes(protected, container)
}
