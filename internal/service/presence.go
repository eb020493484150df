package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/apperr"
	"github.com/ejjays/RN-chatapp/internal/retry"
)

// SetTyping marks userID as typing in chatID for the tracker TTL, or clears
// the mark. Each true call refreshes the TTL.
func (s *Service) SetTyping(ctx context.Context, chatID, userID string, isTyping bool) error {
	const op = "set typing"

	if err := s.requireIDs(op, map[string]string{"chat id": chatID, "user id": userID}); err != nil {
		return err
	}
	if _, err := s.requireMember(ctx, op, chatID, userID); err != nil {
		return err
	}
	if err := s.typing.SetTyping(ctx, chatID, userID, isTyping); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// typingChanged runs on every typing set, clear and expiry.
func (s *Service) typingChanged(chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	members, err := s.chatMembers(ctx, chatID)
	if err != nil {
		s.log.Warn("typing change for unknown chat", zap.String("chat_id", chatID), zap.Error(err))
		s.publish(ctx, chatID, nil)
		return
	}
	s.publish(ctx, chatID, members)
}

// SetOnline records a user's presence. Users known only to the identity
// provider are mirrored into the store first.
func (s *Service) SetOnline(ctx context.Context, userID string, online bool) error {
	const op = "set online"

	if err := s.requireIDs(op, map[string]string{"user id": userID}); err != nil {
		return err
	}
	now := s.now()
	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
		return s.store.SetUserOnline(ctx, userID, online, now)
	})
	if errors.Is(err, apperr.ErrNotFound) {
		u, lookupErr := s.users.GetUser(ctx, userID)
		if lookupErr != nil {
			return lookupErr
		}
		u.IsOnline = online
		u.LastSeen = now
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		err = retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
			return s.store.UpsertUser(ctx, u)
		})
	}
	if err != nil {
		return err
	}
	if inv, ok := s.users.(interface {
		Invalidate(ctx context.Context, userID string)
	}); ok {
		inv.Invalidate(ctx, userID)
	}
	s.presenceChanged(ctx, userID)
	return nil
}

// presenceChanged refreshes the chat lists of everyone sharing a chat with
// userID so their participant details pick up the new state.
func (s *Service) presenceChanged(ctx context.Context, userID string) {
	chats, err := s.store.ListChatsForUser(ctx, userID)
	if err != nil {
		s.log.Warn("presence fan-out", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, c := range chats {
		s.publish(ctx, c.ID, c.ParticipantIDs)
	}
}
