package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/apperr"
	"github.com/ejjays/RN-chatapp/internal/domain"
	"github.com/ejjays/RN-chatapp/internal/retry"
	"github.com/ejjays/RN-chatapp/internal/typing"
)

// MessagePage is one page of a chat's history, oldest first. NextCursor is
// empty when there are no older messages.
type MessagePage struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

const cursorPrefix = "seq:"

func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(seq, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, err
	}
	s, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, strconv.ErrSyntax
	}
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if seq <= 0 {
		return 0, strconv.ErrRange
	}
	return seq, nil
}

// ListMessages returns the newest pageSize messages older than cursor, in
// chronological order. An empty cursor starts from the newest message.
// pageSize 0 selects the default; sizes above the maximum are clamped.
func (s *Service) ListMessages(ctx context.Context, chatID string, pageSize int, cursor string) (*MessagePage, error) {
	const op = "list messages"

	if err := s.requireIDs(op, map[string]string{"chat id": chatID}); err != nil {
		return nil, err
	}
	switch {
	case pageSize < 0:
		return nil, apperr.InvalidArgument(op, "page size must be positive, got %d", pageSize)
	case pageSize == 0:
		pageSize = s.opts.PageSize
	case pageSize > s.opts.MaxPageSize:
		pageSize = s.opts.MaxPageSize
	}
	var before int64
	if cursor != "" {
		seq, err := decodeCursor(cursor)
		if err != nil {
			return nil, apperr.InvalidArgument(op, "malformed cursor")
		}
		before = seq
	}
	if _, err := s.chatMembers(ctx, chatID); err != nil {
		return nil, err
	}

	msgs, err := retry.Value(ctx, s.opts.Retry, func(ctx context.Context) ([]domain.Message, error) {
		return s.store.ListMessages(ctx, chatID, pageSize+1, before)
	})
	if err != nil {
		return nil, err
	}

	page := &MessagePage{}
	if len(msgs) > pageSize {
		msgs = msgs[:pageSize]
		page.NextCursor = encodeCursor(msgs[len(msgs)-1].Seq)
	}
	// store order is newest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	page.Messages = msgs
	return page, nil
}

// GetChat returns a chat with its current typing users. When userID is set
// the caller must be a participant.
func (s *Service) GetChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	const op = "get chat"

	if err := s.requireIDs(op, map[string]string{"chat id": chatID}); err != nil {
		return nil, err
	}
	c, err := s.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if userID != "" && !c.HasParticipant(userID) {
		return nil, apperr.NotParticipant(op, userID, chatID)
	}
	c.TypingUserIDs = s.typingUsers(ctx, chatID)
	c.ParticipantDetails = s.participantDetails(ctx, c.ParticipantIDs)
	if userID != "" {
		c.TypingLabel = s.typingLabel(ctx, c.TypingUserIDs, userID)
	}
	return c, nil
}

// ListUserChats returns every chat userID belongs to, most recent activity
// first, with typing users filled in.
func (s *Service) ListUserChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	const op = "list chats"

	if err := s.requireIDs(op, map[string]string{"user id": userID}); err != nil {
		return nil, err
	}
	chats, err := retry.Value(ctx, s.opts.Retry, func(ctx context.Context) ([]domain.Chat, error) {
		return s.store.ListChatsForUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	for i := range chats {
		chats[i].Normalize()
		chats[i].TypingUserIDs = s.typingUsers(ctx, chats[i].ID)
		chats[i].TypingLabel = s.typingLabel(ctx, chats[i].TypingUserIDs, userID)
		chats[i].ParticipantDetails = s.participantDetails(ctx, chats[i].ParticipantIDs)
		s.participants.Store(chats[i].ID, append([]string(nil), chats[i].ParticipantIDs...))
	}
	domain.SortByActivity(chats)
	return chats, nil
}

// typingUsers degrades to nobody typing when the typing store is down.
func (s *Service) typingUsers(ctx context.Context, chatID string) []string {
	ids, err := s.typing.Typing(ctx, chatID)
	if err != nil {
		s.log.Warn("read typing state", zap.String("chat_id", chatID), zap.Error(err))
		return []string{}
	}
	return ids
}

// participantDetails resolves member profiles in chat order. Users the
// directory does not know are left out.
func (s *Service) participantDetails(ctx context.Context, ids []string) []domain.User {
	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.users.GetUser(ctx, id)
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				s.log.Warn("participant profile lookup", zap.String("user_id", id), zap.Error(err))
			}
			continue
		}
		out = append(out, *u)
	}
	return out
}

// typingLabel renders the typing indicator seen by viewerID.
func (s *Service) typingLabel(ctx context.Context, typingIDs []string, viewerID string) string {
	var names []string
	for _, id := range typingIDs {
		if id == viewerID {
			continue
		}
		name, _ := s.senderProfile(ctx, id, "")
		names = append(names, name)
	}
	return typing.Label(names)
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := retry.Value(ctx, s.opts.Retry, func(ctx context.Context) ([]domain.User, error) {
		return s.users.ListUsers(ctx)
	})
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if err := s.requireIDs("get user", map[string]string{"user id": userID}); err != nil {
		return nil, err
	}
	return retry.Value(ctx, s.opts.Retry, func(ctx context.Context) (*domain.User, error) {
		return s.users.GetUser(ctx, userID)
	})
}
