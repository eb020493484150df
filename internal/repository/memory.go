package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ejjays/RN-chatapp/internal/apperr"
	"github.com/ejjays/RN-chatapp/internal/domain"
)

// MemoryRepository is a process-local Store. It serves the memory driver and
// tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	chats       map[string]*domain.Chat
	pairs       map[string]string
	messages    map[string]map[string]*domain.Message // chatID -> msgID -> message
	users       map[string]*domain.User
	appliedKeep int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		chats:       make(map[string]*domain.Chat),
		pairs:       make(map[string]string),
		messages:    make(map[string]map[string]*domain.Message),
		users:       make(map[string]*domain.User),
		appliedKeep: DefaultAppliedKeep,
	}
}

func (r *MemoryRepository) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if err := ctx.Err(); err != nil {
		return apperr.Storage("create chat", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[chat.ID]; ok {
		return apperr.New(apperr.ErrConcurrentCreateConflict, "create chat", "chat %s exists", chat.ID)
	}
	if chat.PairKey != "" {
		if _, ok := r.pairs[chat.PairKey]; ok {
			return apperr.New(apperr.ErrConcurrentCreateConflict, "create chat", "pair %s exists", chat.PairKey)
		}
		r.pairs[chat.PairKey] = chat.ID
	}
	c := chat.Clone()
	r.chats[c.ID] = c
	r.messages[c.ID] = make(map[string]*domain.Message)
	return nil
}

func (r *MemoryRepository) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Storage("get chat", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chats[chatID]
	if !ok {
		return nil, apperr.NotFound("get chat", "chat %s", chatID)
	}
	return c.Clone(), nil
}

func (r *MemoryRepository) FindChatByPair(ctx context.Context, pairKey string) (*domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Storage("find chat by pair", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.pairs[pairKey]
	if !ok {
		return nil, apperr.NotFound("find chat by pair", "pair %s", pairKey)
	}
	return r.chats[id].Clone(), nil
}

func (r *MemoryRepository) ListChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Storage("list chats", err)
	}
	r.mu.RLock()
	out := []domain.Chat{}
	for _, c := range r.chats {
		if c.HasParticipant(userID) {
			out = append(out, *c.Clone())
		}
	}
	r.mu.RUnlock()
	domain.SortByActivity(out)
	return out, nil
}

func (r *MemoryRepository) AllocateSeq(ctx context.Context, chatID, senderID string, now time.Time) (*Allocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Storage("allocate seq", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		return nil, apperr.NotFound("allocate seq", "chat %s", chatID)
	}
	if !c.HasParticipant(senderID) {
		return nil, apperr.NotParticipant("allocate seq", senderID, chatID)
	}
	c.NextSeq++
	if now.After(c.Clock) {
		c.Clock = now
	}
	return &Allocation{
		Seq:          c.NextSeq,
		SentAt:       c.Clock,
		Participants: append([]string(nil), c.ParticipantIDs...),
	}, nil
}

func (r *MemoryRepository) SaveMessage(ctx context.Context, m *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return apperr.Storage("save message", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs, ok := r.messages[m.ChatID]
	if !ok {
		return apperr.NotFound("save message", "chat %s", m.ChatID)
	}
	if _, exists := msgs[m.ID]; exists {
		return nil
	}
	msgs[m.ID] = m.Clone()
	return nil
}

func (r *MemoryRepository) GetMessage(ctx context.Context, chatID, messageID string) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Storage("get message", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[chatID][messageID]
	if !ok {
		return nil, apperr.NotFound("get message", "message %s", messageID)
	}
	return m.Clone(), nil
}

func (r *MemoryRepository) ListMessages(ctx context.Context, chatID string, limit int, beforeSeq int64) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	r.mu.RLock()
	all := make([]domain.Message, 0, len(r.messages[chatID]))
	for _, m := range r.messages[chatID] {
		if beforeSeq > 0 && m.Seq >= beforeSeq {
			continue
		}
		all = append(all, *m.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Seq > all[j].Seq })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) ApplyMessageEffects(ctx context.Context, m *domain.Message, recipients []string) error {
	if err := ctx.Err(); err != nil {
		return apperr.Storage("apply effects", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[m.ChatID]
	if !ok {
		return apperr.NotFound("apply effects", "chat %s", m.ChatID)
	}
	readBy := m.ReadBy
	if stored, ok := r.messages[m.ChatID][m.ID]; ok {
		readBy = stored.ReadBy
	}
	if !containsString(c.AppliedIDs, m.ID) {
		for _, u := range unreadRecipients(recipients, readBy) {
			c.UnreadCount[u]++
		}
		c.AppliedIDs = trimApplied(append(c.AppliedIDs, m.ID), r.appliedKeep)
	}
	if m.Seq > c.LastSeq {
		c.LastSeq = m.Seq
		c.LastMessage = m.Summary()
		c.LastMessageAt = m.SentAt
	}
	return nil
}

func (r *MemoryRepository) MarkChatRead(ctx context.Context, chatID, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperr.Storage("mark read", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		return 0, apperr.NotFound("mark read", "chat %s", chatID)
	}
	n := 0
	for _, m := range r.messages[chatID] {
		if !m.IsReadBy(userID) {
			m.ReadBy = append(m.ReadBy, userID)
			n++
		}
	}
	c.UnreadCount[userID] = 0
	return n, nil
}

func (r *MemoryRepository) UpsertUser(ctx context.Context, u *domain.User) error {
	if err := ctx.Err(); err != nil {
		return apperr.Storage("upsert user", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	if prev, ok := r.users[u.ID]; ok && !prev.CreatedAt.IsZero() {
		cp.CreatedAt = prev.CreatedAt
	}
	r.users[u.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Storage("get user", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, apperr.NotFound("get user", "user %s", userID)
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Storage("list users", err)
	}
	r.mu.RLock()
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) SetUserOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return apperr.Storage("set online", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return apperr.NotFound("set online", "user %s", userID)
	}
	u.IsOnline = online
	u.LastSeen = at
	return nil
}

func (r *MemoryRepository) Close(context.Context) error { return nil }

// SetAppliedKeep bounds the per-chat applied message id window. Call it
// before serving traffic.
func (r *MemoryRepository) SetAppliedKeep(n int) {
	if n > 0 {
		r.appliedKeep = n
	}
}
