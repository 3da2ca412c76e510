package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/buildinfo"
)

func registerAboutRoutes(router fiber.Router, container *app.Container) {
	environment := container.Config.Environment
	router.Get("/about", func(c *fiber.Ctx) error {
		return c.JSON(buildinfo.Info(environment))
	})
}
