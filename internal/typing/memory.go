package typing

import (
	"context"
	"sync"
	"time"

	"github.com/ejjays/RN-chatapp/internal/domain"
)

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time // chatID -> userID -> expiresAt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]time.Time)}
}

func (s *MemoryStore) Set(_ context.Context, chatID, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, ok := s.entries[chatID]
	if !ok {
		users = make(map[string]time.Time)
		s.entries[chatID] = users
	}
	users[userID] = expiresAt
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if users, ok := s.entries[chatID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.entries, chatID)
		}
	}
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, chatID, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, ok := s.entries[chatID]
	if !ok {
		return nil
	}
	if exp, ok := users[userID]; ok && !exp.After(expiresAt) {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.entries, chatID)
		}
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, chatID string, now time.Time) ([]domain.TypingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.TypingState{}
	for userID, exp := range s.entries[chatID] {
		if !exp.After(now) {
			delete(s.entries[chatID], userID)
			continue
		}
		out = append(out, domain.TypingState{ChatID: chatID, UserID: userID, ExpiresAt: exp})
	}
	return out, nil
}
