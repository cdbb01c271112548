package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ROMARIC12/chat-sync/internal/auth"
	"github.com/ROMARIC12/chat-sync/internal/engine"
	"github.com/ROMARIC12/chat-sync/internal/presence"
	"github.com/ROMARIC12/chat-sync/internal/transport"
	"github.com/ROMARIC12/chat-sync/internal/ws"
)

type Server struct {
	engine    *engine.Reconciler
	tracker   *presence.Tracker
	sock      *transport.Socket
	hub       *ws.Hub
	jwtSecret string
	log       *zap.SugaredLogger
}

func NewServer(e *engine.Reconciler, tr *presence.Tracker, sock *transport.Socket, hub *ws.Hub, jwtSecret string, log *zap.SugaredLogger) *fiber.App {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{engine: e, tracker: tr, sock: sock, hub: hub, jwtSecret: jwtSecret, log: log}

	v1 := app.Group("/v1")
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "socket_connected": sock.Connected()})
	})

	v1.Get("/ws", s.upgradeWS)
	v1.Get("/ws", websocket.New(s.handleWS))

	authed := v1.Group("", s.requireAuth)
	authed.Get("/conversations", s.listConversations)
	authed.Get("/conversations/:key/messages", s.getMessages)
	authed.Post("/conversations/:key/open", s.openConversation)
	authed.Post("/conversations/:key/close", s.closeConversation)
	authed.Post("/conversations/:key/messages", s.sendMessage)
	authed.Delete("/messages/:id", s.deleteMessage)
	authed.Patch("/messages/:id/save", s.saveMessage)
	authed.Get("/presence", s.getPresence)
	authed.Post("/rooms/:id/join", s.joinRoom)
	authed.Post("/rooms/:id/leave", s.leaveRoom)

	return app
}

// requireAuth validates the bearer token when a secret is configured. Left
// open in development setups without one.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	if s.jwtSecret == "" {
		return c.Next()
	}
	token, err := auth.ParseBearerToken(c.Get("Authorization"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	claims, err := auth.ParseAndValidateToken(s.jwtSecret, token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}
	c.Locals("userID", claims.UserID)
	return c.Next()
}

func (s *Server) upgradeWS(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *Server) handleWS(conn *websocket.Conn) {
	if s.jwtSecret != "" {
		if _, err := auth.ParseAndValidateToken(s.jwtSecret, conn.Query("token")); err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
			_ = conn.Close()
			return
		}
	}
	cli := ws.NewClient(conn)
	s.hub.Register(cli)
	defer func() {
		s.hub.Unregister(cli)
		_ = conn.Close()
	}()
	go cli.WritePump()
	cli.ReadPump()
}
