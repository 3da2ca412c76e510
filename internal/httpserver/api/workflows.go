package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/httpserver/httputil"
	workflowsvc "github.com/newflowio/elova/internal/services/workflows"
)

type workflowHandler struct {
	service *workflowsvc.Service
}

func registerWorkflowRoutes(router fiber.Router, container *app.Container) {
	handler := &workflowHandler{service: container.Workflows}
	router.Get("/workflows", handler.list)
	router.Put("/workflows/tracking", handler.setTracking)
	router.Get("/workflows/:id/backups", handler.backups)
	router.Get("/backups/:id", handler.backup)
}

func writeWorkflowError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, workflowsvc.ErrNotFound), errors.Is(err, workflowsvc.ErrBackupNotFound):
		return httputil.WriteError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, workflowsvc.ErrInvalidTracking):
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, workflowsvc.ErrBackupsDisabled):
		return httputil.WriteError(c, fiber.StatusNotImplemented, err.Error())
	default:
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
}

func (h *workflowHandler) list(c *fiber.Ctx) error {
	items, err := h.service.List(userContext(c), workflowsvc.ListParams{
		ProviderID:  c.Query("providerId"),
		TrackedOnly: c.QueryBool("trackedOnly", false),
	})
	if err != nil {
		return writeWorkflowError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": items})
}

func (h *workflowHandler) setTracking(c *fiber.Ctx) error {
	var req workflowsvc.TrackingRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	res, err := h.service.SetTracking(userContext(c), req)
	if err != nil {
		return writeWorkflowError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": res})
}

func (h *workflowHandler) backups(c *fiber.Ctx) error {
	items, err := h.service.Backups(userContext(c), c.Params("id"))
	if err != nil {
		return writeWorkflowError(c, err)
	}
	return c.JSON(fiber.Map{"backups": items})
}

func (h *workflowHandler) backup(c *fiber.Ctx) error {
	b, err := h.service.Backup(userContext(c), c.Params("id"))
	if err != nil {
		return writeWorkflowError(c, err)
	}
	return c.JSON(b)
}
