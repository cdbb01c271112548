package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ROMARIC12/chat-sync/internal/models"
)

func (s *Server) listConversations(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"conversations": s.engine.Summaries(), "unread": s.engine.UnreadCounts()})
}

// getMessages returns the merged view with date separators, loading the
// history baseline on first access. History failures degrade to an empty
// view; the response never blocks on them.
func (s *Server) getMessages(c *fiber.Ctx) error {
	key := models.ConversationKey(c.Params("key"))
	if !s.engine.Loaded(key) {
		_ = s.engine.LoadHistory(c.Context(), key)
	}
	return c.JSON(fiber.Map{
		"conversation": key,
		"loaded":       s.engine.Loaded(key),
		"entries":      s.engine.View(key),
		"unread":       s.engine.Unread(key),
	})
}

func (s *Server) openConversation(c *fiber.Ctx) error {
	key := models.ConversationKey(c.Params("key"))
	s.engine.MarkOpen(key)
	if !s.engine.Loaded(key) {
		// detached: the fiber ctx is recycled once the handler returns
		go func() { _ = s.engine.LoadHistory(context.Background(), key) }()
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) closeConversation(c *fiber.Ctx) error {
	s.engine.MarkClosed(models.ConversationKey(c.Params("key")))
	return c.SendStatus(fiber.StatusNoContent)
}

type sendRequest struct {
	Message   string           `json:"message"`
	Type      models.Kind      `json:"type,omitempty"`
	MediaType models.MediaType `json:"mediaType,omitempty"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	key := models.ConversationKey(c.Params("key"))
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message is required"})
	}
	if req.Type == "" {
		req.Type = models.KindText
	}
	m := s.engine.Send(c.Context(), key, req.Message, req.Type, req.MediaType)
	return c.Status(fiber.StatusAccepted).JSON(m)
}

func (s *Server) deleteMessage(c *fiber.Ctx) error {
	key := models.ConversationKey(c.Query("conversation"))
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "conversation query param is required"})
	}
	s.engine.Delete(c.Context(), key, c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) saveMessage(c *fiber.Ctx) error {
	key := models.ConversationKey(c.Query("conversation"))
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "conversation query param is required"})
	}
	actor, _ := c.Locals("userID").(string)
	saved := s.engine.ToggleSave(c.Context(), key, c.Params("id"), actor)
	return c.JSON(fiber.Map{"saved": saved})
}

func (s *Server) getPresence(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"online": s.tracker.Snapshot(c.Context())})
}

func (s *Server) joinRoom(c *fiber.Ctx) error {
	if err := s.sock.JoinRoom(c.Params("id")); err != nil {
		s.log.Warnw("join room emit failed", "room", c.Params("id"), "error", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) leaveRoom(c *fiber.Ctx) error {
	if err := s.sock.LeaveRoom(c.Params("id")); err != nil {
		s.log.Warnw("leave room emit failed", "room", c.Params("id"), "error", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
