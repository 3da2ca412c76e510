package httpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/httpserver/api"
	"github.com/newflowio/elova/internal/httpserver/httputil"
)

const defaultShutdownDelay = 5 * time.Second

// Server serves the Elova API, health and metrics endpoints.
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *app.Container
}

// New wires middleware and routes for the given container.
func New(container *app.Container) (*Server, error) {
	if container == nil {
		return nil, fmt.Errorf("dependency container is required")
	}
	cfg := container.Config
	if cfg == nil {
		return nil, fmt.Errorf("container missing config")
	}

	app := fiber.New(fiberConfig(cfg.Server))
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(recover.New())

	if obs := container.Observability; obs != nil {
		app.Use(requestMetrics(obs))
		if obs.TracerProvider() != nil {
			app.Use(requestTracing())
		}
		if handler := obs.PrometheusHandler(); handler != nil {
			app.Get("/metrics", adaptor.HTTPHandler(handler))
		}
	}

	app.Get("/healthz", healthHandler(container))
	api.Register(app, container)

	return &Server{
		app:       app,
		cfg:       cfg,
		container: container,
	}, nil
}

// fiberConfig maps the server section onto fiber. Execution detail payloads
// can be large, so the body limit and buffers follow configuration.
func fiberConfig(sc config.ServerConfig) fiber.Config {
	bodyLimit := sc.BodyLimitMB * 1024 * 1024
	if bodyLimit <= 0 {
		bodyLimit = fiber.DefaultBodyLimit
	}
	return fiber.Config{
		AppName:               "elova",
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
		ReadTimeout:           sc.ReadTimeout,
		WriteTimeout:          sc.WriteTimeout,
		ReadBufferSize:        8 * 1024,
		WriteBufferSize:       8 * 1024,
		ErrorHandler:          jsonErrorHandler,
	}
}

// jsonErrorHandler keeps unhandled errors in the API's {"error": ...} shape.
func jsonErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := ""
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		status = ferr.Code
		msg = ferr.Message
	}
	return httputil.WriteError(c, status, msg)
}

// App exposes the underlying fiber app, mainly for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks until ctx is cancelled or the listener fails. On
// cancellation in-flight requests get GracefulShutdownDelay to finish.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.cfg.Server.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	delay := s.cfg.Server.GracefulShutdownDelay
	if delay <= 0 {
		delay = defaultShutdownDelay
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), delay)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
