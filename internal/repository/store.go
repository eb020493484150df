package repository

import (
	"context"
	"time"

	"github.com/ejjays/RN-chatapp/internal/domain"
)

// DefaultAppliedKeep bounds the per-chat window of message ids whose
// counter side effects were already applied.
const DefaultAppliedKeep = 500

// Allocation is the ordering slot handed out for one new message.
type Allocation struct {
	Seq          int64
	SentAt       time.Time
	Participants []string
}

// Store is the durable entity store. Implementations never retry; errors are
// classified with apperr (NotFound, NotParticipant, ConcurrentCreateConflict,
// StorageUnavailable, Timeout).
type Store interface {
	// CreateChat fails with ConcurrentCreateConflict when chat.PairKey is
	// already taken.
	CreateChat(ctx context.Context, chat *domain.Chat) error
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)
	FindChatByPair(ctx context.Context, pairKey string) (*domain.Chat, error)
	// ListChatsForUser returns chats ordered by LastMessageAt, newest first.
	ListChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error)

	// AllocateSeq atomically bumps the chat's sequence and monotonic clock,
	// provided senderID is a participant.
	AllocateSeq(ctx context.Context, chatID, senderID string, now time.Time) (*Allocation, error)
	// SaveMessage inserts m once; saving the same id again is a no-op.
	SaveMessage(ctx context.Context, m *domain.Message) error
	GetMessage(ctx context.Context, chatID, messageID string) (*domain.Message, error)
	// ListMessages returns up to limit messages with Seq < beforeSeq (no
	// bound when beforeSeq is 0), newest first.
	ListMessages(ctx context.Context, chatID string, limit int, beforeSeq int64) ([]domain.Message, error)
	// ApplyMessageEffects increments unread counters of recipients once per
	// message id and advances the chat summary if m is newer than it.
	ApplyMessageEffects(ctx context.Context, m *domain.Message, recipients []string) error
	// MarkChatRead adds userID to readBy of every message lacking it and
	// zeroes the user's unread counter. It returns the number of messages
	// changed.
	MarkChatRead(ctx context.Context, chatID, userID string) (int, error)

	UpsertUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	SetUserOnline(ctx context.Context, userID string, online bool, at time.Time) error

	Close(ctx context.Context) error
}

func trimApplied(ids []string, keep int) []string {
	if keep > 0 && len(ids) > keep {
		return append([]string(nil), ids[len(ids)-keep:]...)
	}
	return ids
}

// unreadRecipients drops recipients who already read the message, so a late
// effects job never counts a message the user has marked read.
func unreadRecipients(recipients, readBy []string) []string {
	out := make([]string, 0, len(recipients))
	for _, u := range recipients {
		if !containsString(readBy, u) {
			out = append(out, u)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
