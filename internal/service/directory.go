package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/apperr"
	"github.com/ejjays/RN-chatapp/internal/domain"
	"github.com/ejjays/RN-chatapp/internal/events"
	"github.com/ejjays/RN-chatapp/internal/metrics"
	"github.com/ejjays/RN-chatapp/internal/retry"
)

const resolveAttempts = 3

type ResolveChatRequest struct {
	ParticipantIDs []string
	IsGroup        bool
	Name           string
	// CreatedBy defaults to the first participant.
	CreatedBy string
}

// ResolveChat returns the id of the 1:1 chat between two users, creating it
// on first use, or creates a new group chat. Concurrent resolves of the same
// pair always return the same id.
func (s *Service) ResolveChat(ctx context.Context, req ResolveChatRequest) (string, error) {
	const op = "resolve chat"

	ids, err := distinctIDs(op, req.ParticipantIDs)
	if err != nil {
		return "", err
	}
	createdBy := req.CreatedBy
	if createdBy == "" && len(ids) > 0 {
		createdBy = ids[0]
	}

	if !req.IsGroup {
		if len(ids) != 2 {
			return "", apperr.InvalidArgument(op, "a direct chat needs exactly 2 distinct participants, got %d", len(ids))
		}
		return s.resolveDirect(ctx, ids[0], ids[1], createdBy)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", apperr.InvalidArgument(op, "group name is required")
	}
	if n := utf8.RuneCountInString(name); n > s.opts.MaxGroupName {
		return "", apperr.InvalidArgument(op, "group name is %d characters, max %d", n, s.opts.MaxGroupName)
	}
	if len(ids) < 2 {
		return "", apperr.InvalidArgument(op, "a group needs at least 2 participants")
	}
	return s.createGroup(ctx, ids, name, createdBy)
}

func distinctIDs(op string, in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		id := strings.TrimSpace(raw)
		if !validID(id) {
			return nil, apperr.InvalidArgument(op, "participant id %q is empty or malformed", raw)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (s *Service) resolveDirect(ctx context.Context, a, b, createdBy string) (string, error) {
	key := domain.PairKey(a, b)
	unlock := s.pairLocks.Lock(key)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		existing, err := retry.Value(ctx, s.opts.Retry, func(ctx context.Context) (*domain.Chat, error) {
			return s.store.FindChatByPair(ctx, key)
		})
		if err == nil {
			return existing.ID, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return "", err
		}

		chat := s.newChat([]string{a, b}, false, "", createdBy)
		chat.PairKey = key

		err = retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
			return s.store.CreateChat(ctx, chat)
		})
		switch {
		case err == nil:
			s.chatCreated(ctx, chat)
			return chat.ID, nil
		case errors.Is(err, apperr.ErrConcurrentCreateConflict):
			// another instance won the race; its chat is found on the next pass
			lastErr = err
			s.log.Debug("direct chat created concurrently", zap.String("pair", key))
		default:
			return "", err
		}
	}
	return "", apperr.Wrap(apperr.ErrStorageUnavailable, "resolve chat", lastErr)
}

func (s *Service) createGroup(ctx context.Context, ids []string, name, createdBy string) (string, error) {
	chat := s.newChat(ids, true, name, createdBy)
	attempt := 0
	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
		attempt++
		err := s.store.CreateChat(ctx, chat)
		// the id is ours, so a conflict on a retry means the earlier attempt landed
		if attempt > 1 && errors.Is(err, apperr.ErrConcurrentCreateConflict) {
			return nil
		}
		return err
	})
	if err != nil {
		return "", err
	}
	s.chatCreated(ctx, chat)
	return chat.ID, nil
}

func (s *Service) newChat(ids []string, group bool, name, createdBy string) *domain.Chat {
	now := s.now()
	c := &domain.Chat{
		ID:             uuid.NewString(),
		ParticipantIDs: append([]string(nil), ids...),
		IsGroup:        group,
		Name:           name,
		CreatedAt:      now,
		CreatedBy:      createdBy,
		LastMessageAt:  now,
	}
	c.Normalize()
	return c
}

func (s *Service) chatCreated(ctx context.Context, c *domain.Chat) {
	kind := "direct"
	if c.IsGroup {
		kind = "group"
	}
	metrics.ChatsCreated.WithLabelValues(kind).Inc()
	s.participants.Store(c.ID, append([]string(nil), c.ParticipantIDs...))
	s.events.ChatCreated(events.ChatCreatedEvent{
		ChatID:    c.ID,
		Members:   c.ParticipantIDs,
		Name:      c.Name,
		IsGroup:   c.IsGroup,
		CreatedBy: c.CreatedBy,
	})
	s.publish(ctx, c.ID, c.ParticipantIDs)
	s.log.Info("chat created",
		zap.String("chat_id", c.ID),
		zap.String("kind", kind),
		zap.Int("participants", len(c.ParticipantIDs)))
}
