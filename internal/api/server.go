package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberws "github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kpmajid/chat-app/internal/auth"
	"github.com/kpmajid/chat-app/internal/config"
	"github.com/kpmajid/chat-app/internal/engine"
	"github.com/kpmajid/chat-app/internal/metrics"
	"github.com/kpmajid/chat-app/internal/ws"
)

type Server struct {
	eng *engine.Engine
	log *zap.SugaredLogger
}

// NewServer wires the fiber app: REST routes and the websocket upgrade share
// the engine, so both transports run the same mutations.
func NewServer(cfg *config.Config, eng *engine.Engine, wsh *ws.Handler, validator *auth.Validator, limiter *RateLimiter, log *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "chat-app",
		DisableStartupMessage: !cfg.Development(),
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{eng: eng, log: log}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", fiberws.New(wsh.Serve))

	api := app.Group("/v1")
	api.Use(JWTAuthMiddleware(validator))
	if limiter != nil {
		api.Use(limiter.Middleware(func(c *fiber.Ctx) string {
			uid, _ := c.Locals("user_id").(string)
			return uid
		}))
	}

	api.Get("/users", s.listUsers)
	api.Get("/conversations", s.listConversations)
	api.Post("/conversations/direct", s.createDirect)
	api.Post("/conversations/group", s.createGroup)
	api.Get("/conversations/:conversation_id/messages", s.listMessages)
	api.Post("/conversations/:conversation_id/read", s.markRead)
	api.Post("/messages", s.sendMessage)
	api.Put("/messages/:message_id", s.editMessage)
	api.Delete("/messages/:message_id", s.deleteMessage)

	return app
}

// JWTAuthMiddleware attaches the verified principal to the request. Token
// issuance lives in the auth service; this side only validates.
func JWTAuthMiddleware(validator *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.ParseBearer(c.Get("Authorization"))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false, "message": "authentication required",
			})
		}
		claims, err := validator.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false, "message": "invalid token",
			})
		}
		c.Locals("user_id", claims.UserID)
		return c.Next()
	}
}
