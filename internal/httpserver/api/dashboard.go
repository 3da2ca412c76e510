package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/httpserver/httputil"
	dashboardsvc "github.com/newflowio/elova/internal/services/dashboard"
)

type dashboardHandler struct {
	service *dashboardsvc.Service
}

type chartsResponse struct {
	Success bool `json:"success"`
	dashboardsvc.Charts
}

func registerDashboardRoutes(router fiber.Router, container *app.Container) {
	handler := &dashboardHandler{service: container.Dashboard}
	router.Get("/dashboard/charts", handler.charts)
	router.Get("/dashboard/summary", handler.summary)
}

func (h *dashboardHandler) charts(c *fiber.Ctx) error {
	charts, err := h.service.Charts(userContext(c), c.Query("timeRange"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(chartsResponse{Success: true, Charts: charts})
}

func (h *dashboardHandler) summary(c *fiber.Ctx) error {
	sum, err := h.service.Summary(userContext(c), c.Query("timeRange"), c.Query("providerId"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "data": sum})
}
