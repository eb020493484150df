package api

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/auth"
	"github.com/ejjays/RN-chatapp/internal/metrics"
	"github.com/ejjays/RN-chatapp/internal/service"
	"github.com/ejjays/RN-chatapp/internal/ws"
)

type Options struct {
	Service  *service.Service
	Verifier auth.Verifier
	Log      *zap.Logger

	// RateLimitPerMin limits requests per client IP; 0 disables it.
	RateLimitPerMin int
	// SendLimiter limits SendMessage per caller across instances; optional.
	SendLimiter    *RateLimiter
	RequestTimeout time.Duration
	MaxImageBytes  int
}

type Server struct {
	svc      *service.Service
	log      *zap.Logger
	validate *validator.Validate
	timeout  time.Duration
}

// NewServer builds the fiber app. ctx bounds background helpers such as the
// rate limiter's visitor cleanup.
func NewServer(ctx context.Context, o Options) *fiber.App {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	bodyLimit := 4 * 1024 * 1024
	if o.MaxImageBytes+64*1024 > bodyLimit {
		bodyLimit = o.MaxImageBytes + 64*1024
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(o.Log),
		BodyLimit:             bodyLimit,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	s := &Server{svc: o.Service, log: o.Log, validate: validator.New(), timeout: o.RequestTimeout}

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	v1 := app.Group("/v1")
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1.Use(RequestLogger(o.Log))
	if o.RateLimitPerMin > 0 {
		v1.Use(NewIPRateLimiter(ctx, o.RateLimitPerMin, o.Log).Handler())
	}
	v1.Use(Auth(o.Verifier, o.Log))

	sendLimit := func(c *fiber.Ctx) error { return c.Next() }
	if o.SendLimiter != nil {
		sendLimit = o.SendLimiter.MiddlewareByKey(func(c *fiber.Ctx) string { return "send:" + callerID(c) })
	}

	v1.Post("/chats", s.resolveChat)
	v1.Get("/chats", s.listChats)
	v1.Get("/chats/:chat_id", s.getChat)
	v1.Get("/chats/:chat_id/messages", s.listMessages)
	v1.Post("/chats/:chat_id/messages", sendLimit, s.sendMessage)
	v1.Post("/chats/:chat_id/read", s.markRead)
	v1.Post("/chats/:chat_id/typing", s.setTyping)
	v1.Post("/chats/:chat_id/images", s.uploadImage)
	v1.Get("/users", s.listUsers)
	v1.Get("/users/:user_id", s.getUser)
	v1.Post("/users/me/presence", s.setPresence)

	ws.NewHandler(o.Service, o.Log).Register(v1)

	return app
}

func (s *Server) ctx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.timeout)
}
