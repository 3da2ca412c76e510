package api

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/httpserver/httputil"
	"github.com/newflowio/elova/internal/limits"
	"github.com/newflowio/elova/internal/syncer"
)

const maxSyncRuns = 200

type syncHandler struct {
	container *app.Container
}

type syncRequest struct {
	ProviderID string `json:"providerId" query:"providerId"`
	Type       string `json:"type" query:"type"`
}

func registerSyncRoutes(router fiber.Router, container *app.Container) {
	handler := &syncHandler{container: container}
	router.Get("/sync/status", handler.status)
	router.Post("/sync", handler.trigger)
	router.Get("/sync/runs", handler.runs)
}

func (h *syncHandler) status(c *fiber.Ctx) error {
	ctx := userContext(c)
	st, err := h.container.SyncStatus.Get(ctx)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	out := fiber.Map{
		"status":  st,
		"running": h.container.Syncer.Running(ctx) || h.container.Scheduler.Running(),
		"scheduler": fiber.Map{
			"enabled":         h.container.Config.Sync.Enabled,
			"intervalMinutes": int(h.container.Scheduler.Interval(ctx).Minutes()),
		},
	}
	if last, ok := h.container.Syncer.LastResult(); ok {
		out["lastResult"] = last
	}
	return c.JSON(out)
}

func (h *syncHandler) trigger(c *fiber.Ctx) error {
	var req syncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
		}
	} else if err := c.QueryParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid query")
	}
	typ, err := syncer.ParseType(req.Type)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}

	if ok, err := allowManualSync(c, h.container); !ok {
		return err
	}

	ctx := userContext(c)

	if id := strings.TrimSpace(req.ProviderID); id != "" {
		res, err := h.container.Syncer.SyncProvider(ctx, id, syncer.Options{Type: typ, Trigger: syncer.TriggerManual})
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return httputil.WriteError(c, fiber.StatusNotFound, "provider not found")
			}
			return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"success": res.Error == "", "result": res})
	}

	var res syncer.Result
	if typ == syncer.TypeFull {
		res, err = h.container.Scheduler.RunOnce(ctx, syncer.TriggerManual)
	} else {
		res, err = h.container.Syncer.SyncAllProviders(ctx, syncer.Options{Type: typ, Trigger: syncer.TriggerManual})
	}
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			return httputil.WriteError(c, fiber.StatusConflict, err.Error())
		}
		// Provider failures still produce a result worth returning.
		if res.StartedAt.IsZero() {
			return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
		}
	}
	workflows, executions, backups := res.Totals()
	return c.JSON(fiber.Map{
		"success": res.Failed() == 0,
		"result":  res,
		"totals": fiber.Map{
			"workflows":  workflows,
			"executions": executions,
			"backups":    backups,
		},
	})
}

func (h *syncHandler) runs(c *fiber.Ctx) error {
	params := db.ListSyncRunsParams{Limit: c.QueryInt("limit", 50)}
	if params.Limit > maxSyncRuns {
		params.Limit = maxSyncRuns
	}
	if id := strings.TrimSpace(c.Query("providerId")); id != "" {
		params.ProviderID = &id
	}
	runs, err := h.container.Queries.ListSyncRuns(userContext(c), params)
	if err != nil {
		if db.IsMissingTable(err) {
			return c.JSON(fiber.Map{"runs": []db.SyncRun{}})
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []db.SyncRun{}
	}
	return c.JSON(fiber.Map{"runs": runs})
}

// allowManualSync applies the per-user manual sync budget. When it returns
// false the response has already been written.
func allowManualSync(c *fiber.Ctx, container *app.Container) (bool, error) {
	caller := c.IP()
	if rc, ok := currentUser(c); ok {
		caller = rc.UserID
	}
	if err := container.AllowManualSync(userContext(c), caller); err != nil {
		if errors.Is(err, limits.ErrLimitExceeded) {
			return false, httputil.WriteError(c, fiber.StatusTooManyRequests, "manual sync limit reached, try again shortly")
		}
		return false, httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return true, nil
}
