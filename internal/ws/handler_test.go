package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/domain"
	"github.com/ejjays/RN-chatapp/internal/repository"
	"github.com/ejjays/RN-chatapp/internal/service"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startServer(t *testing.T) (string, *service.Service) {
	t.Helper()
	svc := service.New(service.Deps{Store: repository.NewMemoryRepository()}, service.Options{})
	t.Cleanup(svc.Close)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	// stands in for the auth middleware
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Query("as"))
		return c.Next()
	})
	NewHandler(svc, zap.NewNop()).Register(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String(), svc
}

func readFrame(t *testing.T, conn *fws.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestMessagesStream(t *testing.T) {
	base, svc := startServer(t)
	ctx := context.Background()
	chatID, err := svc.ResolveChat(ctx, service.ResolveChatRequest{ParticipantIDs: []string{"alice", "bob"}})
	require.NoError(t, err)

	conn, _, err := fws.DefaultDialer.Dial(base+"/ws/chats/"+chatID+"/messages?as=bob", nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, TypeMessages, first.Type)

	_, err = svc.SendMessage(ctx, service.SendMessageCommand{ChatID: chatID, SenderID: "alice", Text: "hello"})
	require.NoError(t, err)

	var msgs []domain.Message
	for len(msgs) == 0 {
		f := readFrame(t, conn)
		require.Equal(t, TypeMessages, f.Type)
		require.NoError(t, json.Unmarshal(f.Data, &msgs))
	}
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": TypeTyping, "is_typing": true}))
	assert.Eventually(t, func() bool {
		c, err := svc.GetChat(ctx, chatID, "alice")
		return err == nil && len(c.TypingUserIDs) == 1 && c.TypingUserIDs[0] == "bob"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChatsStream(t *testing.T) {
	base, svc := startServer(t)
	ctx := context.Background()

	conn, _, err := fws.DefaultDialer.Dial(base+"/ws/chats?as=carol", nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, TypeChats, first.Type)

	_, err = svc.ResolveChat(ctx, service.ResolveChatRequest{ParticipantIDs: []string{"alice", "carol"}})
	require.NoError(t, err)

	var chats []domain.Chat
	for len(chats) == 0 {
		f := readFrame(t, conn)
		require.NoError(t, json.Unmarshal(f.Data, &chats))
	}
	assert.Len(t, chats, 1)
}

func TestMessagesStreamRejectsOutsiders(t *testing.T) {
	base, svc := startServer(t)
	chatID, err := svc.ResolveChat(context.Background(), service.ResolveChatRequest{ParticipantIDs: []string{"alice", "bob"}})
	require.NoError(t, err)

	_, resp, err := fws.DefaultDialer.Dial(base+"/ws/chats/"+chatID+"/messages?as=mallory", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
}
