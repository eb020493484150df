package api

import (
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/ejjays/RN-chatapp/internal/service"
)

type resolveChatReq struct {
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,max=256,dive,required,max=128"`
	IsGroup        bool     `json:"is_group"`
	Name           string   `json:"name" validate:"max=200"`
}

func (s *Server) resolveChat(c *fiber.Ctx) error {
	var req resolveChatReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if err := s.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	ctx, cancel := s.ctx(c)
	defer cancel()
	caller := callerID(c)
	id, err := s.svc.ResolveChat(ctx, service.ResolveChatRequest{
		ParticipantIDs: append([]string{caller}, req.ParticipantIDs...),
		IsGroup:        req.IsGroup,
		Name:           req.Name,
		CreatedBy:      caller,
	})
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"chat_id": id})
}

func (s *Server) listChats(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	chats, err := s.svc.ListUserChats(ctx, callerID(c))
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, chats)
}

func (s *Server) getChat(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	chat, err := s.svc.GetChat(ctx, c.Params("chat_id"), callerID(c))
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, chat)
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	chatID := c.Params("chat_id")
	ctx, cancel := s.ctx(c)
	defer cancel()
	if err := s.svc.Authorize(ctx, chatID, callerID(c)); err != nil {
		return err
	}
	page, err := s.svc.ListMessages(ctx, chatID, c.QueryInt("page_size", 0), c.Query("cursor"))
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, page)
}

type sendMessageReq struct {
	Text       string `json:"text" validate:"max=10000"`
	ImageURL   string `json:"image_url" validate:"max=2048"`
	SenderName string `json:"sender_name" validate:"max=200"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if err := s.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	ctx, cancel := s.ctx(c)
	defer cancel()
	msg, err := s.svc.SendMessage(ctx, service.SendMessageCommand{
		ChatID:     c.Params("chat_id"),
		SenderID:   callerID(c),
		SenderName: req.SenderName,
		Text:       req.Text,
		ImageURL:   req.ImageURL,
	})
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusCreated, msg)
}

func (s *Server) markRead(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	if err := s.svc.MarkRead(ctx, c.Params("chat_id"), callerID(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

type typingReq struct {
	IsTyping *bool `json:"is_typing" validate:"required"`
}

func (s *Server) setTyping(c *fiber.Ctx) error {
	var req typingReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if err := s.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	ctx, cancel := s.ctx(c)
	defer cancel()
	if err := s.svc.SetTyping(ctx, c.Params("chat_id"), callerID(c), *req.IsTyping); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) uploadImage(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "file missing")
	}
	if limit := s.svc.Options().MaxImageBytes; fh.Size > int64(limit) {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "image too large")
	}
	f, err := fh.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "cannot open file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "cannot read file")
	}

	ctx, cancel := s.ctx(c)
	defer cancel()
	url, err := s.svc.UploadChatImage(ctx, c.Params("chat_id"), callerID(c), data)
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusCreated, fiber.Map{"url": url})
}

func (s *Server) listUsers(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	users, err := s.svc.ListUsers(ctx)
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, users)
}

func (s *Server) getUser(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	id := c.Params("user_id")
	if id == "me" {
		id = callerID(c)
	}
	u, err := s.svc.GetUser(ctx, id)
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, u)
}

type presenceReq struct {
	Online *bool `json:"online" validate:"required"`
}

func (s *Server) setPresence(c *fiber.Ctx) error {
	var req presenceReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if err := s.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	ctx, cancel := s.ctx(c)
	defer cancel()
	if err := s.svc.SetOnline(ctx, callerID(c), *req.Online); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
