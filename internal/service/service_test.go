package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejjays/RN-chatapp/internal/apperr"
	"github.com/ejjays/RN-chatapp/internal/domain"
	"github.com/ejjays/RN-chatapp/internal/reconcile"
	"github.com/ejjays/RN-chatapp/internal/repository"
	"github.com/ejjays/RN-chatapp/internal/retry"
)

var fastRetry = retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func newTestService(t *testing.T, store repository.Store) *Service {
	t.Helper()
	svc := New(Deps{Store: store}, Options{Retry: fastRetry, TypingTTL: 100 * time.Millisecond})
	t.Cleanup(svc.Close)
	return svc
}

func direct(t *testing.T, svc *Service, a, b string) string {
	t.Helper()
	id, err := svc.ResolveChat(context.Background(), ResolveChatRequest{ParticipantIDs: []string{a, b}})
	require.NoError(t, err)
	return id
}

func send(t *testing.T, svc *Service, chatID, from, text string) *domain.Message {
	t.Helper()
	m, err := svc.SendMessage(context.Background(), SendMessageCommand{ChatID: chatID, SenderID: from, SenderName: from, Text: text})
	require.NoError(t, err)
	return m
}

func TestResolveChatDirectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())

	first := direct(t, svc, "alice", "bob")
	second := direct(t, svc, "bob", "alice")
	assert.Equal(t, first, second)

	chats, err := svc.ListUserChats(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.False(t, chats[0].IsGroup)
	assert.ElementsMatch(t, []string{"alice", "bob"}, chats[0].ParticipantIDs)
	assert.Equal(t, map[string]int{"alice": 0, "bob": 0}, chats[0].UnreadCount)
}

func TestResolveChatKeepsParticipantOrder(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())

	id := direct(t, svc, "zed", "amy")
	c, err := svc.GetChat(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"zed", "amy"}, c.ParticipantIDs)

	// the reverse order resolves to the same chat without reordering it
	assert.Equal(t, id, direct(t, svc, "amy", "zed"))
	c, err = svc.GetChat(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"zed", "amy"}, c.ParticipantIDs)
}

func TestResolveChatConcurrentAcrossInstances(t *testing.T) {
	repo := repository.NewMemoryRepository()
	instances := []*Service{newTestService(t, repo), newTestService(t, repo)}

	const n = 32
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pair := []string{"alice", "bob"}
			if i%2 == 1 {
				pair = []string{"bob", "alice"}
			}
			id, err := instances[i%2].ResolveChat(context.Background(), ResolveChatRequest{ParticipantIDs: pair})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	chats, err := repo.ListChatsForUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestResolveChatValidation(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryRepository())
	ctx := context.Background()

	cases := map[string]ResolveChatRequest{
		"one participant":     {ParticipantIDs: []string{"alice"}},
		"same user twice":     {ParticipantIDs: []string{"alice", "alice"}},
		"three in direct":     {ParticipantIDs: []string{"alice", "bob", "carol"}},
		"empty id":            {ParticipantIDs: []string{"alice", ""}},
		"dotted id":           {ParticipantIDs: []string{"alice", "b.ob"}},
		"group without name":  {ParticipantIDs: []string{"alice", "bob"}, IsGroup: true, Name: "   "},
		"group name too long": {ParticipantIDs: []string{"alice", "bob"}, IsGroup: true, Name: strings.Repeat("x", 51)},
		"group of one":        {ParticipantIDs: []string{"alice"}, IsGroup: true, Name: "solo"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ResolveChat(ctx, req)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
}

func TestResolveChatGroupsAreNeverDeduplicated(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryRepository())
	ctx := context.Background()
	req := ResolveChatRequest{ParticipantIDs: []string{"alice", "bob", "carol"}, IsGroup: true, Name: "  " + strings.Repeat("é", 50) + " "}

	g1, err := svc.ResolveChat(ctx, req)
	require.NoError(t, err)
	g2, err := svc.ResolveChat(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, g1, g2)

	c, err := svc.GetChat(ctx, g1, "carol")
	require.NoError(t, err)
	assert.True(t, c.IsGroup)
	assert.Equal(t, strings.Repeat("é", 50), c.Name)
	assert.Equal(t, "alice", c.CreatedBy)
}

func TestSendAndMarkRead(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())
	chatID := direct(t, svc, "alice", "bob")

	m := send(t, svc, chatID, "alice", "  hi bob ")
	assert.Equal(t, "hi bob", m.Text)
	assert.Equal(t, domain.KindText, m.Kind)
	assert.Equal(t, []string{"alice"}, m.ReadBy)
	assert.False(t, m.ReadByOthers())

	c, err := svc.GetChat(ctx, chatID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount["bob"])
	assert.Equal(t, 0, c.UnreadCount["alice"])
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "hi bob", c.LastMessage.Text)
	assert.Equal(t, m.SentAt, c.LastMessageAt)

	require.NoError(t, svc.MarkRead(ctx, chatID, "bob"))
	require.NoError(t, svc.MarkRead(ctx, chatID, "bob"))

	c, err = svc.GetChat(ctx, chatID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, c.UnreadCount["bob"])

	page, err := svc.ListMessages(ctx, chatID, 0, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, page.Messages[0].ReadBy)
	assert.True(t, page.Messages[0].ReadByOthers())
}

func TestSendMessageErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())
	chatID := direct(t, svc, "alice", "bob")

	_, err := svc.SendMessage(ctx, SendMessageCommand{ChatID: "missing", SenderID: "alice", Text: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.SendMessage(ctx, SendMessageCommand{ChatID: chatID, SenderID: "mallory", Text: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)

	_, err = svc.SendMessage(ctx, SendMessageCommand{ChatID: chatID, SenderID: "alice", Text: "   "})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	err = svc.MarkRead(ctx, chatID, "mallory")
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)

	_, err = svc.GetChat(ctx, chatID, "mallory")
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)
}

func TestSendMessageUsesDirectoryProfile(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{ID: "alice", DisplayName: "Alice", PhotoURL: "https://img/a.jpg"}))
	svc := newTestService(t, repo)
	chatID := direct(t, svc, "alice", "bob")

	m, err := svc.SendMessage(ctx, SendMessageCommand{ChatID: chatID, SenderID: "alice", ImageURL: "memory://x.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", m.SenderName)
	assert.Equal(t, "https://img/a.jpg", m.SenderPhotoURL)
	assert.Equal(t, domain.KindImage, m.Kind)

	m, err = svc.SendMessage(ctx, SendMessageCommand{ChatID: chatID, SenderID: "bob", Text: "yo"})
	require.NoError(t, err)
	assert.Equal(t, "bob", m.SenderName)
}

func TestMessagesAreTotallyOrdered(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())
	chatID := direct(t, svc, "alice", "bob")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := "alice"
			if i%2 == 0 {
				from = "bob"
			}
			_, err := svc.SendMessage(ctx, SendMessageCommand{ChatID: chatID, SenderID: from, Text: "m"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	page, err := svc.ListMessages(ctx, chatID, 100, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 20)
	for i := 1; i < len(page.Messages); i++ {
		prev, cur := page.Messages[i-1], page.Messages[i]
		assert.Less(t, prev.Seq, cur.Seq)
		assert.False(t, cur.SentAt.Before(prev.SentAt))
	}

	c, err := svc.GetChat(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, c.UnreadCount["alice"])
	assert.Equal(t, 10, c.UnreadCount["bob"])
	assert.Equal(t, page.Messages[19].ID, c.LastMessage.MessageID)
}

func TestListMessagesPagination(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())
	chatID := direct(t, svc, "alice", "bob")
	for i := 0; i < 7; i++ {
		send(t, svc, chatID, "alice", string(rune('a'+i)))
	}

	full, err := svc.ListMessages(ctx, chatID, 100, "")
	require.NoError(t, err)
	assert.Empty(t, full.NextCursor)

	var pages [][]domain.Message
	cursor := ""
	for {
		p, err := svc.ListMessages(ctx, chatID, 3, cursor)
		require.NoError(t, err)
		pages = append(pages, p.Messages)
		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	require.Len(t, pages, 3)
	assert.Len(t, pages[2], 1)

	var joined []domain.Message
	for i := len(pages) - 1; i >= 0; i-- {
		joined = append(joined, pages[i]...)
	}
	assert.Equal(t, full.Messages, joined)
	assert.Equal(t, "g", pages[0][2].Text)

	_, err = svc.ListMessages(ctx, chatID, 3, "not a cursor")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.ListMessages(ctx, chatID, -1, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.ListMessages(ctx, "nope", 3, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	empty := direct(t, svc, "alice", "carol")
	p, err := svc.ListMessages(ctx, empty, 0, "")
	require.NoError(t, err)
	assert.NotNil(t, p.Messages)
	assert.Empty(t, p.Messages)
}

func TestGroupUnreadCounts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())
	g, err := svc.ResolveChat(ctx, ResolveChatRequest{ParticipantIDs: []string{"alice", "bob", "carol"}, IsGroup: true, Name: "team"})
	require.NoError(t, err)

	send(t, svc, g, "alice", "hello team")
	require.NoError(t, svc.MarkRead(ctx, g, "bob"))

	c, err := svc.GetChat(ctx, g, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 0, "bob": 0, "carol": 1}, c.UnreadCount)
}

func TestChatListOrderedByActivity(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())
	ab := direct(t, svc, "alice", "bob")
	time.Sleep(2 * time.Millisecond)
	ac := direct(t, svc, "alice", "carol")

	chats, err := svc.ListUserChats(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, ac, chats[0].ID)

	time.Sleep(2 * time.Millisecond)
	send(t, svc, ab, "bob", "bump")
	chats, err = svc.ListUserChats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ab, chats[0].ID)
}

func TestTyping(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())
	chatID := direct(t, svc, "alice", "bob")

	require.NoError(t, svc.SetTyping(ctx, chatID, "alice", true))
	c, err := svc.GetChat(ctx, chatID, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, c.TypingUserIDs)
	assert.Equal(t, "alice is typing…", c.TypingLabel)

	c, err = svc.GetChat(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.Empty(t, c.TypingLabel)

	assert.ErrorIs(t, svc.SetTyping(ctx, chatID, "mallory", true), apperr.ErrNotParticipant)
	assert.ErrorIs(t, svc.SetTyping(ctx, "nope", "alice", true), apperr.ErrNotFound)

	// expires without a refresh
	assert.Eventually(t, func() bool {
		c, err := svc.GetChat(ctx, chatID, "bob")
		return err == nil && len(c.TypingUserIDs) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.SetTyping(ctx, chatID, "bob", true))
	send(t, svc, chatID, "bob", "done typing")
	c, err = svc.GetChat(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.Empty(t, c.TypingUserIDs)
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
	}
	var zero T
	return zero
}

func TestWatchMessages(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())
	chatID := direct(t, svc, "alice", "bob")

	sub, err := svc.WatchMessages(ctx, chatID)
	require.NoError(t, err)
	assert.Empty(t, next(t, sub.C()))

	send(t, svc, chatID, "alice", "one")
	require.Eventually(t, func() bool {
		select {
		case msgs := <-sub.C():
			return len(msgs) == 1 && msgs[0].Text == "one"
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	sub.Close()
	sub.Close()
	for range sub.C() {
	}

	_, err = svc.WatchMessages(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestWatchUserChatsSeesTypingAndNewChats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{ID: "alice", DisplayName: "Alice", PhotoURL: "https://p/alice.png"}))
	svc := newTestService(t, repo)

	sub, err := svc.WatchUserChats(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, next(t, sub.C()))

	chatID := direct(t, svc, "alice", "bob")
	require.NoError(t, svc.SetTyping(ctx, chatID, "alice", true))

	var chats []domain.Chat
	require.Eventually(t, func() bool {
		select {
		case chats = <-sub.C():
			return len(chats) == 1 && len(chats[0].TypingUserIDs) == 1
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	// bob has no profile, so only alice is described
	require.Len(t, chats[0].ParticipantDetails, 1)
	assert.Equal(t, "Alice", chats[0].ParticipantDetails[0].DisplayName)
	assert.Equal(t, "https://p/alice.png", chats[0].ParticipantDetails[0].PhotoURL)
	assert.Equal(t, "Alice is typing…", chats[0].TypingLabel)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

// flakyStore fails ApplyMessageEffects a fixed number of times, or for as
// long as blocked is set.
type flakyStore struct {
	repository.Store
	failures atomic.Int32
	blocked  atomic.Bool
	calls    atomic.Int32
}

func (f *flakyStore) ApplyMessageEffects(ctx context.Context, m *domain.Message, recipients []string) error {
	f.calls.Add(1)
	if f.blocked.Load() || f.failures.Add(-1) >= 0 {
		return apperr.New(apperr.ErrStorageUnavailable, "apply effects", "injected")
	}
	return f.Store.ApplyMessageEffects(ctx, m, recipients)
}

func TestSendMessageReconcilesFailedEffects(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: repository.NewMemoryRepository()}
	svc := newTestService(t, store)
	chatID := direct(t, svc, "alice", "bob")

	store.failures.Store(3)
	m, err := svc.SendMessage(ctx, SendMessageCommand{ChatID: chatID, SenderID: "alice", Text: "eventually"})
	require.NoError(t, err)
	require.NotNil(t, m)

	require.Eventually(t, func() bool {
		c, err := svc.GetChat(ctx, chatID, "")
		return err == nil && c.UnreadCount["bob"] == 1 && c.LastMessage != nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, store.calls.Load(), int32(4))

	// replaying the same job must not double count
	require.NoError(t, svc.ApplyEffects(ctx, reconcile.Job{Message: *m, Recipients: []string{"bob"}}))
	c, err := svc.GetChat(ctx, chatID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount["bob"])
}

func TestDeferredEffectsDoNotUndoRead(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: repository.NewMemoryRepository()}
	svc := newTestService(t, store)
	chatID := direct(t, svc, "alice", "bob")

	store.blocked.Store(true)
	_, err := svc.SendMessage(ctx, SendMessageCommand{ChatID: chatID, SenderID: "alice", Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, svc.MarkRead(ctx, chatID, "bob"))

	time.Sleep(100 * time.Millisecond)
	store.blocked.Store(false)

	require.Eventually(t, func() bool {
		c, err := svc.GetChat(ctx, chatID, "")
		return err == nil && c.LastMessage != nil
	}, 5*time.Second, 10*time.Millisecond)

	c, err := svc.GetChat(ctx, chatID, "")
	require.NoError(t, err)
	assert.Equal(t, 0, c.UnreadCount["bob"])

	page, err := svc.ListMessages(ctx, chatID, 0, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, page.Messages[0].ReadBy)
}

func TestApplyEffectsKeepsNewestSummary(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())
	chatID := direct(t, svc, "alice", "bob")
	older := send(t, svc, chatID, "alice", "older")
	send(t, svc, chatID, "alice", "newer")

	// a late reconcile of an older message leaves the summary alone
	require.NoError(t, svc.ApplyEffects(ctx, reconcile.Job{Message: *older, Recipients: []string{"bob"}}))
	c, err := svc.GetChat(ctx, chatID, "")
	require.NoError(t, err)
	assert.Equal(t, "newer", c.LastMessage.Text)
	assert.Equal(t, 2, c.UnreadCount["bob"])
}

func TestUsersAndPresence(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{ID: "bob", DisplayName: "Bob"}))
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{ID: "alice", DisplayName: "Alice"}))
	svc := newTestService(t, repo)

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].DisplayName)

	require.NoError(t, svc.SetOnline(ctx, "bob", true))
	u, err := svc.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	assert.False(t, u.LastSeen.IsZero())

	assert.ErrorIs(t, svc.SetOnline(ctx, "ghost", true), apperr.ErrNotFound)
	_, err = svc.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSetOnlineRefreshesPeerChatLists(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{ID: "bob", DisplayName: "Bob"}))
	svc := newTestService(t, repo)
	direct(t, svc, "alice", "bob")

	sub, err := svc.WatchUserChats(ctx, "alice")
	require.NoError(t, err)
	defer sub.Close()
	first := next(t, sub.C())
	require.Len(t, first, 1)
	require.Len(t, first[0].ParticipantDetails, 1)
	assert.False(t, first[0].ParticipantDetails[0].IsOnline)

	require.NoError(t, svc.SetOnline(ctx, "bob", true))
	require.Eventually(t, func() bool {
		select {
		case chats := <-sub.C():
			return len(chats) == 1 && len(chats[0].ParticipantDetails) == 1 && chats[0].ParticipantDetails[0].IsOnline
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUploadChatImage(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryRepository())
	chatID := direct(t, svc, "alice", "bob")

	url, err := svc.UploadChatImage(ctx, chatID, "alice", pngBytes(t, 8, 8))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "memory://chats/"+chatID+"/images/"), url)

	_, err = svc.UploadChatImage(ctx, chatID, "alice", []byte("not an image"))
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.UploadChatImage(ctx, chatID, "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.UploadChatImage(ctx, chatID, "mallory", pngBytes(t, 8, 8))
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)
}

func TestCursorRoundTrip(t *testing.T) {
	seq, err := decodeCursor(encodeCursor(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	_, err = decodeCursor(encodeCursor(0))
	assert.Error(t, err)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	done := make(chan struct{})
	go func() {
		u := k.Lock("a")
		u()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	unlock()
	<-done
	assert.Empty(t, k.locks)
}
