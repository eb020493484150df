package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejjays/RN-chatapp/internal/auth"
	"github.com/ejjays/RN-chatapp/internal/domain"
	"github.com/ejjays/RN-chatapp/internal/repository"
	"github.com/ejjays/RN-chatapp/internal/service"
)

const testSecret = "test-secret"

type envelope struct {
	Status  string            `json:"status"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  []ValidationError `json:"errors"`
}

func newTestApp(t *testing.T, perMin int) (*fiber.App, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	svc := service.New(service.Deps{Store: repo}, service.Options{})
	t.Cleanup(svc.Close)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	app := NewServer(ctx, Options{
		Service:         svc,
		Verifier:        auth.NewHS256Validator(testSecret),
		RateLimitPerMin: perMin,
	})
	return app, repo
}

func token(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func do(t *testing.T, app *fiber.App, method, path, user string, body any) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func TestHealthAndAuth(t *testing.T) {
	app, _ := newTestApp(t, 0)

	status, env := do(t, app, http.MethodGet, "/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", env.Status)

	status, env = do(t, app, http.MethodGet, "/v1/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", env.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatFlow(t *testing.T) {
	app, _ := newTestApp(t, 0)

	status, env := do(t, app, http.MethodPost, "/v1/chats", "alice", map[string]any{"participant_ids": []string{"bob"}})
	require.Equal(t, http.StatusOK, status, env.Message)
	var created struct {
		ChatID string `json:"chat_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotEmpty(t, created.ChatID)

	status, env = do(t, app, http.MethodPost, "/v1/chats", "bob", map[string]any{"participant_ids": []string{"alice"}})
	require.Equal(t, http.StatusOK, status)
	var again struct {
		ChatID string `json:"chat_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, created.ChatID, again.ChatID)

	base := "/v1/chats/" + created.ChatID
	status, env = do(t, app, http.MethodPost, base+"/messages", "alice", map[string]any{"text": "hi bob"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "hi bob", msg.Text)
	assert.Equal(t, "alice", msg.SenderID)

	status, env = do(t, app, http.MethodGet, "/v1/chats", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	var chats []domain.Chat
	require.NoError(t, json.Unmarshal(env.Data, &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, 1, chats[0].UnreadCount["bob"])
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "hi bob", chats[0].LastMessage.Text)

	status, env = do(t, app, http.MethodGet, base+"/messages?page_size=10", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	var page service.MessagePage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Messages, 1)
	assert.Empty(t, page.NextCursor)

	status, _ = do(t, app, http.MethodPost, base+"/read", "bob", nil)
	require.Equal(t, http.StatusOK, status)

	status, env = do(t, app, http.MethodGet, base, "bob", nil)
	require.Equal(t, http.StatusOK, status)
	var chat domain.Chat
	require.NoError(t, json.Unmarshal(env.Data, &chat))
	assert.Equal(t, 0, chat.UnreadCount["bob"])

	status, _ = do(t, app, http.MethodPost, base+"/typing", "bob", map[string]any{"is_typing": true})
	require.Equal(t, http.StatusOK, status)
	status, env = do(t, app, http.MethodGet, base, "alice", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &chat))
	assert.Equal(t, []string{"bob"}, chat.TypingUserIDs)
}

func TestErrorMapping(t *testing.T) {
	app, _ := newTestApp(t, 0)

	_, env := do(t, app, http.MethodPost, "/v1/chats", "alice", map[string]any{"participant_ids": []string{"bob"}})
	var created struct {
		ChatID string `json:"chat_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	base := "/v1/chats/" + created.ChatID

	status, env := do(t, app, http.MethodGet, base, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_participant", env.Code)

	status, env = do(t, app, http.MethodGet, base+"/messages", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, env = do(t, app, http.MethodGet, "/v1/chats/nope", "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", env.Code)

	status, env = do(t, app, http.MethodPost, base+"/messages", "alice", map[string]any{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", env.Code)

	status, env = do(t, app, http.MethodGet, base+"/messages?cursor=bad!", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = do(t, app, http.MethodPost, "/v1/chats", "alice", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, env.Errors)
	assert.Equal(t, "ParticipantIDs", env.Errors[0].Field)

	status, env = do(t, app, http.MethodPost, base+"/typing", "alice", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "required", env.Errors[0].Tag)

	status, env = do(t, app, http.MethodPost, "/v1/chats", "alice", map[string]any{"participant_ids": []string{"bob", "carol"}, "is_group": true})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", env.Code)
}

func TestUsersAndPresence(t *testing.T) {
	app, repo := newTestApp(t, 0)
	require.NoError(t, repo.UpsertUser(context.Background(), &domain.User{ID: "alice", DisplayName: "Alice"}))

	status, _ := do(t, app, http.MethodPost, "/v1/users/me/presence", "alice", map[string]any{"online": true})
	require.Equal(t, http.StatusOK, status)

	status, env := do(t, app, http.MethodGet, "/v1/users/me", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var u domain.User
	require.NoError(t, json.Unmarshal(env.Data, &u))
	assert.True(t, u.IsOnline)

	status, env = do(t, app, http.MethodGet, "/v1/users", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var users []domain.User
	require.NoError(t, json.Unmarshal(env.Data, &users))
	assert.Len(t, users, 1)
}

func TestIPRateLimit(t *testing.T) {
	app, _ := newTestApp(t, 1)

	var last int
	for i := 0; i < 6; i++ {
		last, _ = do(t, app, http.MethodGet, "/v1/users", "alice", nil)
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	status, _ := do(t, app, http.MethodGet, "/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestWebsocketRoutesRequireUpgrade(t *testing.T) {
	app, _ := newTestApp(t, 0)
	status, env := do(t, app, http.MethodGet, "/v1/ws/chats", "alice", nil)
	assert.Equal(t, http.StatusUpgradeRequired, status)
	assert.Equal(t, "upgrade_required", env.Code)
}
