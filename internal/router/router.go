package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/neetrino/ilona-chat/internal/config"
	"github.com/neetrino/ilona-chat/internal/handler"
	"github.com/neetrino/ilona-chat/internal/middleware"
	"github.com/neetrino/ilona-chat/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler   *handler.ChatHandler
	JWTMiddleware fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ChatHandler != nil {
		// Websocket handshake carries its own bearer credential, so the
		// upgrade route sits outside the header-based JWT middleware.
		deps.ChatHandler.RegisterWebsocket(api.Group("/chat"))

		chat := api.Group("/chat", jwtMiddleware, middleware.RequireRole("admin", "teacher", "student"))
		chat.Use("/:id/messages", methodLimiter(fiber.MethodPost, middleware.RateLimit("chat_send", 30, time.Minute)))
		deps.ChatHandler.Register(chat)
	}
}

// methodLimiter applies a middleware only to requests with the given method,
// so reads on the same path stay unthrottled.
func methodLimiter(method string, limit fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != method {
			return c.Next()
		}
		return limit(c)
	}
}
