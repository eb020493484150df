package service

import (
	"context"

	"github.com/ejjays/RN-chatapp/internal/events"
	"github.com/ejjays/RN-chatapp/internal/retry"
)

// MarkRead records that userID has read every message currently in the chat
// and resets their unread counter. Calling it again is harmless.
func (s *Service) MarkRead(ctx context.Context, chatID, userID string) error {
	const op = "mark read"

	if err := s.requireIDs(op, map[string]string{"chat id": chatID, "user id": userID}); err != nil {
		return err
	}
	members, err := s.requireMember(ctx, op, chatID, userID)
	if err != nil {
		return err
	}

	n, err := retry.Value(ctx, s.opts.Retry, func(ctx context.Context) (int, error) {
		return s.store.MarkChatRead(ctx, chatID, userID)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, chatID, members)
	if n > 0 {
		s.events.MessageRead(events.MessageReadEvent{ChatID: chatID, UserID: userID, Updated: n})
	}
	return nil
}
