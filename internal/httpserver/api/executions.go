package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/httpserver/httputil"
	executionsvc "github.com/newflowio/elova/internal/services/executions"
)

type executionHandler struct {
	service *executionsvc.Service
}

func registerExecutionRoutes(router fiber.Router, container *app.Container) {
	handler := &executionHandler{service: container.Executions}
	router.Get("/executions", handler.list)
}

func (h *executionHandler) list(c *fiber.Ctx) error {
	q := executionsvc.Query{
		ProviderID:  c.Query("providerId"),
		WorkflowID:  c.Query("workflowId"),
		TimeRange:   c.Query("timeRange"),
		CustomStart: c.Query("customStart"),
		CustomEnd:   c.Query("customEnd"),
		Search:      c.Query("search"),
		Limit:       c.QueryInt("limit", executionsvc.DefaultLimit),
		Page:        c.QueryInt("page", 1),
	}
	for _, raw := range c.Context().QueryArgs().PeekMulti("status") {
		q.Statuses = append(q.Statuses, string(raw))
	}

	page, err := h.service.List(userContext(c), q)
	if err != nil {
		if errors.Is(err, executionsvc.ErrInvalidTimeRange) {
			return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to fetch executions")
	}
	out := fiber.Map{"success": true, "data": page}
	if page.Warning != "" {
		out["warning"] = page.Warning
	}
	return c.JSON(out)
}
