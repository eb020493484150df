package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/service"
)

const (
	TypeMessages = "messages"
	TypeChats    = "chats"
	TypeTyping   = "typing"
	TypeError    = "error"
)

// Envelope is every frame sent or received on a stream.
type Envelope struct {
	Type     string `json:"type"`
	Data     any    `json:"data,omitempty"`
	IsTyping *bool  `json:"is_typing,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Handler struct {
	svc           *service.Service
	log           *zap.Logger
	pingInterval  time.Duration
	writeDeadline time.Duration
	maxMsgSize    int64
}

func NewHandler(svc *service.Service, log *zap.Logger) *Handler {
	return &Handler{
		svc:           svc,
		log:           log,
		pingInterval:  25 * time.Second,
		writeDeadline: 10 * time.Second,
		maxMsgSize:    4096,
	}
}

// Register mounts the stream routes on r. r must already authenticate the
// caller into Locals("user_id").
func (h *Handler) Register(r fiber.Router) {
	r.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	r.Get("/ws/chats/:chat_id/messages", h.authorizeChat, websocket.New(h.messages))
	r.Get("/ws/chats", websocket.New(h.chats))
}

// authorizeChat rejects the upgrade with a normal HTTP error when the caller
// may not watch the chat.
func (h *Handler) authorizeChat(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if err := h.svc.Authorize(c.UserContext(), c.Params("chat_id"), userID); err != nil {
		return err
	}
	return c.Next()
}

func (h *Handler) messages(conn *websocket.Conn) {
	chatID := conn.Params("chat_id")
	userID, _ := conn.Locals("user_id").(string)
	log := h.log.With(zap.String("chat_id", chatID), zap.String("user_id", userID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := h.svc.WatchMessages(ctx, chatID)
	if err != nil {
		h.fail(conn, err)
		return
	}
	defer sub.Close()

	inbound := func(env Envelope) {
		if env.Type != TypeTyping || env.IsTyping == nil {
			return
		}
		if err := h.svc.SetTyping(ctx, chatID, userID, *env.IsTyping); err != nil {
			log.Debug("typing from socket", zap.Error(err))
		}
	}
	stream(h, conn, log, TypeMessages, sub.C(), inbound)

	// a dropped socket should not leave the user typing until the TTL
	if err := h.svc.SetTyping(context.Background(), chatID, userID, false); err != nil {
		log.Debug("clear typing on close", zap.Error(err))
	}
}

func (h *Handler) chats(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	log := h.log.With(zap.String("user_id", userID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := h.svc.WatchUserChats(ctx, userID)
	if err != nil {
		h.fail(conn, err)
		return
	}
	defer sub.Close()

	stream(h, conn, log, TypeChats, sub.C(), nil)
}

func (h *Handler) fail(conn *websocket.Conn, err error) {
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeDeadline))
	_ = conn.WriteJSON(Envelope{Type: TypeError, Error: err.Error()})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
}

// stream writes snapshots from ch until the peer goes away or ch closes.
// Frames read from the peer go to inbound.
func stream[T any](h *Handler, conn *websocket.Conn, log *zap.Logger, typ string, ch <-chan T, inbound func(Envelope)) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(h.maxMsgSize)
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage || inbound == nil {
				continue
			}
			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			inbound(env)
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case v, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeDeadline))
			if err := conn.WriteJSON(Envelope{Type: typ, Data: v}); err != nil {
				log.Warn("write snapshot", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}
