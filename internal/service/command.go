package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/apperr"
	"github.com/ejjays/RN-chatapp/internal/blob"
	"github.com/ejjays/RN-chatapp/internal/domain"
	"github.com/ejjays/RN-chatapp/internal/events"
	"github.com/ejjays/RN-chatapp/internal/metrics"
	"github.com/ejjays/RN-chatapp/internal/reconcile"
	"github.com/ejjays/RN-chatapp/internal/repository"
	"github.com/ejjays/RN-chatapp/internal/retry"
)

type SendMessageCommand struct {
	ChatID         string
	SenderID       string
	SenderName     string
	SenderPhotoURL string
	Text           string
	ImageURL       string
}

// SendMessage persists a message and then applies its side effects (unread
// counters, chat summary). If the side effects cannot be applied now the
// message is still returned and the effects are handed to the reconciler.
func (s *Service) SendMessage(ctx context.Context, cmd SendMessageCommand) (*domain.Message, error) {
	const op = "send message"

	if err := s.requireIDs(op, map[string]string{"chat id": cmd.ChatID, "sender id": cmd.SenderID}); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(cmd.Text)
	imageURL := strings.TrimSpace(cmd.ImageURL)
	if text == "" && imageURL == "" {
		return nil, apperr.InvalidArgument(op, "message needs text or an image")
	}
	kind := domain.KindText
	if imageURL != "" {
		kind = domain.KindImage
	}

	name, photo := cmd.SenderName, cmd.SenderPhotoURL
	if name == "" {
		name, photo = s.senderProfile(ctx, cmd.SenderID, photo)
	}

	alloc, err := retry.Value(ctx, s.opts.Retry, func(ctx context.Context) (*repository.Allocation, error) {
		return s.store.AllocateSeq(ctx, cmd.ChatID, cmd.SenderID, s.now())
	})
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ChatID:         cmd.ChatID,
		SenderID:       cmd.SenderID,
		SenderName:     name,
		SenderPhotoURL: photo,
		Text:           text,
		ImageURL:       imageURL,
		Kind:           kind,
		SentAt:         alloc.SentAt,
		Seq:            alloc.Seq,
		ReadBy:         []string{cmd.SenderID},
	}
	if err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
		return s.store.SaveMessage(ctx, msg)
	}); err != nil {
		return nil, err
	}
	s.participants.Store(cmd.ChatID, append([]string(nil), alloc.Participants...))

	job := reconcile.Job{Message: *msg.Clone(), Recipients: others(alloc.Participants, cmd.SenderID)}
	if err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
		return s.store.ApplyMessageEffects(ctx, &job.Message, job.Recipients)
	}); err != nil {
		s.deferEffects(job, err)
	}
	s.publish(ctx, cmd.ChatID, alloc.Participants)

	if err := s.typing.SetTyping(ctx, cmd.ChatID, cmd.SenderID, false); err != nil {
		s.log.Warn("clear typing after send", zap.String("chat_id", cmd.ChatID), zap.Error(err))
	}

	metrics.MessagesSent.Inc()
	s.events.MessageCreated(events.MessageCreatedEvent{ChatID: cmd.ChatID, Message: msg})
	return msg, nil
}

func (s *Service) deferEffects(job reconcile.Job, cause error) {
	metrics.EffectsRetried.Inc()
	s.log.Warn("message effects deferred to reconciler",
		zap.String("chat_id", job.Message.ChatID),
		zap.String("message_id", job.Message.ID),
		zap.Error(cause))
	// the request context may already be done; the queue outlives it
	if err := s.effects.Enqueue(context.Background(), job); err != nil {
		s.log.Error("enqueue message effects",
			zap.String("message_id", job.Message.ID),
			zap.Error(err))
	}
}

// ApplyEffects is the reconcile.Applier for message side effects. It is
// idempotent per message id.
func (s *Service) ApplyEffects(ctx context.Context, job reconcile.Job) error {
	if err := s.store.ApplyMessageEffects(ctx, &job.Message, job.Recipients); err != nil {
		return err
	}
	s.publish(ctx, job.Message.ChatID, append(append([]string(nil), job.Recipients...), job.Message.SenderID))
	return nil
}

func (s *Service) senderProfile(ctx context.Context, userID, photo string) (string, string) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.log.Warn("sender profile lookup", zap.String("user_id", userID), zap.Error(err))
		}
		return userID, photo
	}
	if photo == "" {
		photo = u.PhotoURL
	}
	if u.DisplayName == "" {
		return userID, photo
	}
	return u.DisplayName, photo
}

// UploadChatImage normalizes an image and stores it for use as ImageURL in
// a later SendMessage.
func (s *Service) UploadChatImage(ctx context.Context, chatID, userID string, data []byte) (string, error) {
	const op = "upload image"

	if err := s.requireIDs(op, map[string]string{"chat id": chatID, "user id": userID}); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", apperr.InvalidArgument(op, "image is empty")
	}
	if len(data) > s.opts.MaxImageBytes {
		return "", apperr.InvalidArgument(op, "image is %d bytes, max %d", len(data), s.opts.MaxImageBytes)
	}
	if _, err := s.requireMember(ctx, op, chatID, userID); err != nil {
		return "", err
	}

	normalized, err := blob.NormalizeImage(data)
	if err != nil {
		if errors.Is(err, blob.ErrInvalidImage) {
			return "", apperr.Wrap(apperr.ErrInvalidArgument, op, err)
		}
		return "", apperr.Wrap(apperr.ErrInternal, op, err)
	}

	key := blob.ImageKey(chatID, uuid.NewString(), s.now().UnixMilli())
	ctx, cancel := context.WithTimeout(ctx, s.opts.BlobTimeout)
	defer cancel()
	url, err := s.blobs.Upload(ctx, key, "image/jpeg", normalized)
	if err != nil {
		return "", apperr.Storage(op, err)
	}
	return url, nil
}

func others(ids []string, self string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}
