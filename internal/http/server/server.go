// Package server assembles the agent's fiber application.
package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"ticket-delivery/internal/config"
	"ticket-delivery/internal/delivery"
	"ticket-delivery/internal/http/handlers"
	"ticket-delivery/internal/http/middleware"
	"ticket-delivery/internal/infra/logging"
	"ticket-delivery/internal/tokens"
)

// Deps are the collaborators the app is built from. Tokens may be nil when
// auth is disabled; Store must not be nil.
type Deps struct {
	Config   config.Config
	Delivery *delivery.Client
	Tokens   *tokens.Cache
	Store    fiber.Storage
}

// New creates and configures the Fiber app.
func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               d.Config.Server.Prefork,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

			return c.Status(code).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    code,
					"message": msg,
				},
			})
		},
	})

	middleware.Register(app, d.Config, d.Tokens, d.Store)
	registerRoutes(app, d)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func registerRoutes(app *fiber.App, d Deps) {
	v1 := app.Group("/v1")

	svc := handlers.NewTicketService(d.Delivery, d.Config.Service.Token)
	v1.Post("/tickets/deliver", svc.HandleDeliver)
	v1.Get("/surface", svc.HandleSurface)

	v1.Get("/monitor", monitor.New())
}
