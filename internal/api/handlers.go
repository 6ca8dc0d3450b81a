package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kpmajid/chat-app/internal/apperr"
)

func (s *Server) userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

func ok(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(apperr.HTTPStatus(err)).JSON(fiber.Map{
		"success": false,
		"message": apperr.Message(err),
	})
}

func (s *Server) listUsers(c *fiber.Ctx) error {
	users, err := s.eng.ListUsers(c.Context(), s.userID(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "users fetched successfully", users)
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	uid := s.userID(c)
	convs, err := s.eng.ListConversations(c.Context(), uid)
	if err != nil {
		return fail(c, err)
	}
	// each caller sees their own unread counters
	out := make([]any, 0, len(convs))
	for _, cv := range convs {
		out = append(out, cv.ForUser(uid))
	}
	return ok(c, fiber.StatusOK, "conversations fetched successfully", out)
}

type createDirectReq struct {
	UserID string `json:"user_id"`
}

func (s *Server) createDirect(c *fiber.Ctx) error {
	var req createDirectReq
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperr.New(apperr.CodeInvalidArgument, "invalid payload"))
	}
	if req.UserID == "" {
		return fail(c, apperr.New(apperr.CodeInvalidArgument, "user_id is required"))
	}
	uid := s.userID(c)
	conv, err := s.eng.CreateDirect(c.Context(), uid, req.UserID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusCreated, "conversation ready", conv.ForUser(uid))
}

type createGroupReq struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

func (s *Server) createGroup(c *fiber.Ctx) error {
	var req createGroupReq
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperr.New(apperr.CodeInvalidArgument, "invalid payload"))
	}
	uid := s.userID(c)
	conv, err := s.eng.CreateGroup(c.Context(), uid, req.Name, req.Participants)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusCreated, "group conversation created successfully", conv.ForUser(uid))
}

type sendMessageReq struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperr.New(apperr.CodeInvalidArgument, "invalid payload"))
	}
	uid := s.userID(c)
	res, err := s.eng.SendMessage(c.Context(), uid, req.ConversationID, req.Content)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusCreated, "message sent successfully", fiber.Map{
		"message":      res.Message,
		"conversation": res.Conversation.ForUser(uid),
	})
}

type editMessageReq struct {
	Content string `json:"content"`
}

func (s *Server) editMessage(c *fiber.Ctx) error {
	var req editMessageReq
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperr.New(apperr.CodeInvalidArgument, "invalid payload"))
	}
	msg, err := s.eng.EditMessage(c.Context(), s.userID(c), c.Params("message_id"), req.Content)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "message updated successfully", fiber.Map{"message": msg})
}

func (s *Server) deleteMessage(c *fiber.Ctx) error {
	res, err := s.eng.DeleteMessage(c.Context(), s.userID(c), c.Params("message_id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "message deleted successfully", fiber.Map{
		"message_id": res.MessageID,
		"deleted_at": res.DeletedAt,
	})
}

func (s *Server) markRead(c *fiber.Ctx) error {
	convID := c.Params("conversation_id")
	if err := s.eng.MarkRead(c.Context(), s.userID(c), convID); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "conversation marked read", fiber.Map{
		"conversation_id": convID,
		"unread_count":    0,
	})
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)
	page, err := s.eng.ListMessages(c.Context(), s.userID(c), c.Params("conversation_id"), limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "messages fetched successfully", fiber.Map{
		"messages": page.Messages,
		"pagination": fiber.Map{
			"total":    page.Total,
			"limit":    page.Limit,
			"offset":   page.Offset,
			"has_more": page.HasMore,
		},
	})
}
