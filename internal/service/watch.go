package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/domain"
	"github.com/ejjays/RN-chatapp/internal/hub"
	"github.com/ejjays/RN-chatapp/internal/metrics"
)

const refetchDelay = 500 * time.Millisecond

// Subscription streams snapshots. Only the latest snapshot is kept for a slow
// reader; intermediate ones are dropped. C is closed after Close or when the
// watch context ends.
type Subscription[T any] struct {
	ch     chan T
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription[T]) C() <-chan T { return s.ch }

// Close stops the subscription and waits for its goroutine to exit.
func (s *Subscription[T]) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

func watch[T any](ctx context.Context, log *zap.Logger, l *hub.Listener, fetch func(context.Context) (T, error)) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription[T]{
		ch:     make(chan T, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	metrics.ActiveSubscriptions.Inc()

	go func() {
		defer func() {
			l.Close()
			close(sub.ch)
			metrics.ActiveSubscriptions.Dec()
			close(sub.done)
		}()

		var retryC <-chan time.Time
		for {
			v, err := fetch(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				log.Warn("snapshot fetch failed", zap.Error(err))
				retryC = time.After(refetchDelay)
			} else {
				retryC = nil
				offer(sub.ch, v)
			}

			select {
			case <-ctx.Done():
				return
			case <-l.C():
			case <-retryC:
			}
		}
	}()
	return sub
}

// offer replaces any unread snapshot with v. Only the watch goroutine sends.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// WatchMessages emits the newest page of a chat's messages now and after
// every change to the chat.
func (s *Service) WatchMessages(ctx context.Context, chatID string) (*Subscription[[]domain.Message], error) {
	if err := s.requireIDs("watch messages", map[string]string{"chat id": chatID}); err != nil {
		return nil, err
	}
	if _, err := s.chatMembers(ctx, chatID); err != nil {
		return nil, err
	}
	l := s.hub.Subscribe(hub.ChatTopic(chatID))
	return watch(ctx, s.log.With(zap.String("chat_id", chatID)), l, func(ctx context.Context) ([]domain.Message, error) {
		page, err := s.ListMessages(ctx, chatID, s.opts.PageSize, "")
		if err != nil {
			return nil, err
		}
		return page.Messages, nil
	}), nil
}

// WatchUserChats emits the user's chat list now and after every change to
// any chat they belong to, including typing changes.
func (s *Service) WatchUserChats(ctx context.Context, userID string) (*Subscription[[]domain.Chat], error) {
	if err := s.requireIDs("watch chats", map[string]string{"user id": userID}); err != nil {
		return nil, err
	}
	l := s.hub.Subscribe(hub.UserTopic(userID))
	return watch(ctx, s.log.With(zap.String("user_id", userID)), l, func(ctx context.Context) ([]domain.Chat, error) {
		return s.ListUserChats(ctx, userID)
	}), nil
}
