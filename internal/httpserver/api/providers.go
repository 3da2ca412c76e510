package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/httpserver/httputil"
	providersvc "github.com/newflowio/elova/internal/services/providers"
	"github.com/newflowio/elova/internal/syncer"
)

type providerHandler struct {
	container *app.Container
	service   *providersvc.Service
}

func registerProviderRoutes(router fiber.Router, container *app.Container) {
	handler := &providerHandler{container: container, service: container.Providers}
	router.Get("/providers", handler.list)
	router.Post("/providers", requireAdmin, handler.create)
	router.Get("/providers/:id", handler.get)
	router.Put("/providers/:id", requireAdmin, handler.update)
	router.Delete("/providers/:id", requireAdmin, handler.delete)
	router.Post("/providers/:id/test", handler.test)
	router.Post("/providers/:id/sync", handler.sync)
}

func requireAdmin(c *fiber.Ctx) error {
	if rc, ok := currentUser(c); !ok || !rc.IsAdmin() {
		return httputil.WriteError(c, fiber.StatusForbidden, "administrator role required")
	}
	return c.Next()
}

func writeProviderError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, providersvc.ErrNotFound):
		return httputil.WriteError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, providersvc.ErrInvalidInput):
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, providersvc.ErrDuplicate):
		return httputil.WriteError(c, fiber.StatusConflict, err.Error())
	default:
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
}

func (h *providerHandler) list(c *fiber.Ctx) error {
	items, err := h.service.List(userContext(c))
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(fiber.Map{"providers": items})
}

func (h *providerHandler) get(c *fiber.Ctx) error {
	p, err := h.service.Get(userContext(c), c.Params("id"))
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(p)
}

func (h *providerHandler) create(c *fiber.Ctx) error {
	var in providersvc.Input
	if err := c.BodyParser(&in); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	var owner *string
	if rc, ok := currentUser(c); ok {
		owner = &rc.UserID
	}
	p, conn, err := h.service.Create(userContext(c), owner, in)
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"provider": p, "connection": conn})
}

func (h *providerHandler) update(c *fiber.Ctx) error {
	var in providersvc.Input
	if err := c.BodyParser(&in); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	p, err := h.service.Update(userContext(c), c.Params("id"), in)
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(p)
}

func (h *providerHandler) delete(c *fiber.Ctx) error {
	if err := h.service.Delete(userContext(c), c.Params("id")); err != nil {
		return writeProviderError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *providerHandler) test(c *fiber.Ctx) error {
	res, err := h.service.Test(userContext(c), c.Params("id"))
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(res)
}

func (h *providerHandler) sync(c *fiber.Ctx) error {
	p, err := h.service.Get(userContext(c), c.Params("id"))
	if err != nil {
		return writeProviderError(c, err)
	}
	typ, err := syncer.ParseType(c.Query("type"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}
	if ok, err := allowManualSync(c, h.container); !ok {
		return err
	}
	res, err := h.container.Syncer.SyncProvider(userContext(c), p.ID, syncer.Options{Type: typ, Trigger: syncer.TriggerManual})
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(fiber.Map{"success": res.Error == "", "result": res})
}
