package api

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/auth"
	"github.com/newflowio/elova/internal/httpserver/httputil"
	"github.com/newflowio/elova/internal/n8n"
	providersvc "github.com/newflowio/elova/internal/services/providers"
	setupsvc "github.com/newflowio/elova/internal/services/setup"
)

type setupHandler struct {
	container *app.Container
	service   *setupsvc.Service
}

type instanceRequest struct {
	URL    string `json:"url"`
	APIKey string `json:"apiKey"`
}

type remoteWorkflow struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	IsActive bool     `json:"isActive"`
	Tags     []string `json:"tags"`
}

func registerSetupRoutes(router fiber.Router, container *app.Container) {
	handler := &setupHandler{container: container, service: container.Setup}
	router.Get("/setup/status", handler.status)
	router.Post("/setup/test-connection", handler.testConnection)
	router.Post("/setup/complete", handler.complete)
	router.Post("/onboarding/test-n8n", handler.testConnection)
	router.Post("/onboarding/workflows", handler.remoteWorkflows)
}

func registerInitialSyncRoutes(router fiber.Router, container *app.Container) {
	handler := &setupHandler{container: container, service: container.Setup}
	router.Get("/setup/initial-sync", handler.initialSyncStatus)
	router.Post("/setup/initial-sync", handler.startInitialSync)
}

func (h *setupHandler) status(c *fiber.Ctx) error {
	st, err := h.service.Status(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(st)
}

func (h *setupHandler) parseInstance(c *fiber.Ctx) (instanceRequest, bool) {
	var req instanceRequest
	if err := c.BodyParser(&req); err != nil {
		return req, false
	}
	req.URL = strings.TrimSpace(req.URL)
	req.APIKey = strings.TrimSpace(req.APIKey)
	return req, req.URL != "" && req.APIKey != ""
}

func (h *setupHandler) testConnection(c *fiber.Ctx) error {
	req, ok := h.parseInstance(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusBadRequest, "URL and API key are required")
	}
	res := h.container.Providers.TestConnection(userContext(c), req.URL, req.APIKey)
	if !res.Success {
		return httputil.WriteError(c, fiber.StatusBadRequest, res.Error)
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"message":       "Successfully connected to n8n instance",
		"workflowCount": res.WorkflowCount,
		"version":       res.Version,
		"authMode":      res.AuthMode,
		"internalApi":   res.InternalAPI,
		"url":           strings.TrimRight(req.URL, "/"),
	})
}

func (h *setupHandler) remoteWorkflows(c *fiber.Ctx) error {
	req, ok := h.parseInstance(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusBadRequest, "URL and API key are required")
	}
	items, err := h.container.Providers.RemoteWorkflows(userContext(c), req.URL, req.APIKey)
	if err != nil {
		if errors.Is(err, providersvc.ErrInvalidInput) {
			return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
		}
		return httputil.WriteError(c, fiber.StatusBadGateway, n8n.Message(err))
	}
	out := make([]remoteWorkflow, 0, len(items))
	for _, wf := range items {
		tags := []string(wf.Tags)
		if tags == nil {
			tags = []string{}
		}
		out = append(out, remoteWorkflow{ID: wf.ID.String(), Name: wf.Name, IsActive: wf.Active, Tags: tags})
	}
	return c.JSON(fiber.Map{"success": true, "data": out})
}

func (h *setupHandler) complete(c *fiber.Ctx) error {
	var req setupsvc.CompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	res, err := h.service.Complete(userContext(c), req)
	switch {
	case err == nil:
		return c.JSON(res)
	case errors.Is(err, setupsvc.ErrAlreadyInitialized):
		return httputil.WriteError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, setupsvc.ErrAdminRequired),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, providersvc.ErrInvalidInput):
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	default:
		h.container.Logger.ErrorContext(userContext(c), "complete setup", slog.String("error", err.Error()))
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to complete setup")
	}
}

func (h *setupHandler) initialSyncStatus(c *fiber.Ctx) error {
	st, err := h.service.Progress(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(st)
}

func (h *setupHandler) startInitialSync(c *fiber.Ctx) error {
	if err := h.service.StartInitialSync(); err != nil {
		if errors.Is(err, setupsvc.ErrInitialSyncRunning) {
			return httputil.WriteError(c, fiber.StatusConflict, err.Error())
		}
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, err.Error())
	}
	st, _ := h.service.Progress(userContext(c))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true, "message": "Initial sync started", "status": st})
}
