package httpserver

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
)

const healthTimeout = 2 * time.Second

// dependencyCheck pings one backing service. A failing check degrades the
// whole response.
type dependencyCheck struct {
	name  string
	ping  func(context.Context) error
	extra fiber.Map
}

func dependencyChecks(container *app.Container) []dependencyCheck {
	var checks []dependencyCheck
	if container.DB != nil {
		checks = append(checks, dependencyCheck{
			name:  "database",
			ping:  container.DB.PingContext,
			extra: fiber.Map{"driver": string(container.Dialect)},
		})
	}
	if container.Redis != nil {
		checks = append(checks, dependencyCheck{
			name: "redis",
			ping: func(ctx context.Context) error { return container.Redis.Ping(ctx).Err() },
		})
	}
	return checks
}

// healthHandler reports the database and redis, plus the last scheduled
// sync. Sync failures are informational and leave the response healthy,
// since they usually mean an n8n instance is down rather than Elova.
func healthHandler(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
		defer cancel()

		overall := "ok"
		checks := make(map[string]fiber.Map)
		for _, dc := range dependencyChecks(container) {
			start := time.Now()
			err := dc.ping(ctx)
			check := fiber.Map{"status": "ok", "latency_ms": time.Since(start).Milliseconds()}
			for k, v := range dc.extra {
				check[k] = v
			}
			if err != nil {
				check["status"] = "error"
				check["error"] = err.Error()
				overall = "degraded"
			}
			checks[dc.name] = check
		}
		if sc := syncCheck(ctx, container); sc != nil {
			checks["sync"] = sc
		}

		status := fiber.StatusOK
		if overall != "ok" {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status": overall,
			"checks": checks,
		})
	}
}

func syncCheck(ctx context.Context, container *app.Container) fiber.Map {
	if container.SyncStatus == nil {
		return nil
	}
	st, err := container.SyncStatus.Get(ctx)
	if err != nil {
		return fiber.Map{"status": "unknown", "error": err.Error()}
	}
	check := fiber.Map{"status": string(st.State)}
	if st.CompletedAt != nil {
		check["completed_at"] = st.CompletedAt.UTC().Format(time.RFC3339)
	}
	if st.Error != "" {
		check["error"] = st.Error
	}
	if container.Scheduler != nil {
		check["running"] = container.Scheduler.Running()
	}
	return check
}
