package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/apperr"
	"github.com/ejjays/RN-chatapp/internal/blob"
	"github.com/ejjays/RN-chatapp/internal/domain"
	"github.com/ejjays/RN-chatapp/internal/events"
	"github.com/ejjays/RN-chatapp/internal/hub"
	"github.com/ejjays/RN-chatapp/internal/identity"
	"github.com/ejjays/RN-chatapp/internal/reconcile"
	"github.com/ejjays/RN-chatapp/internal/repository"
	"github.com/ejjays/RN-chatapp/internal/retry"
	"github.com/ejjays/RN-chatapp/internal/typing"
)

type Options struct {
	PageSize      int
	MaxPageSize   int
	MaxGroupName  int
	MaxImageBytes int
	TypingTTL     time.Duration
	BlobTimeout   time.Duration
	Retry         retry.Policy
}

func DefaultOptions() Options {
	return Options{
		PageSize:      50,
		MaxPageSize:   200,
		MaxGroupName:  50,
		MaxImageBytes: 10 * 1024 * 1024,
		TypingTTL:     typing.DefaultTTL,
		BlobTimeout:   30 * time.Second,
		Retry:         retry.DefaultPolicy(),
	}
}

type Deps struct {
	Store       repository.Store
	Users       identity.Directory
	TypingStore typing.Store
	Hub         *hub.Hub
	Blobs       blob.Store
	Events      events.Publisher
	Log         *zap.Logger
}

// Service is the chat synchronization core. Build one in main and share it.
type Service struct {
	store   repository.Store
	users   identity.Directory
	typing  *typing.Tracker
	hub     *hub.Hub
	blobs   blob.Store
	events  events.Publisher
	effects reconcile.Queue
	worker  *reconcile.Worker
	log     *zap.Logger
	opts    Options
	now     func() time.Time

	pairLocks    *keyedMutex
	participants sync.Map // chatID -> []string; membership never changes
}

func New(d Deps, opts Options) *Service {
	def := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.MaxPageSize < opts.PageSize {
		opts.MaxPageSize = def.MaxPageSize
	}
	if opts.MaxGroupName <= 0 {
		opts.MaxGroupName = def.MaxGroupName
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = def.MaxImageBytes
	}
	if opts.BlobTimeout <= 0 {
		opts.BlobTimeout = def.BlobTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = def.Retry
	}
	if d.Hub == nil {
		d.Hub = hub.New()
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.TypingStore == nil {
		d.TypingStore = typing.NewMemoryStore()
	}
	if d.Users == nil {
		d.Users = identity.NewStoreDirectory(d.Store)
	}
	if d.Blobs == nil {
		d.Blobs = blob.NewMemoryStore()
	}

	s := &Service{
		store:     d.Store,
		users:     d.Users,
		hub:       d.Hub,
		blobs:     d.Blobs,
		events:    d.Events,
		log:       d.Log,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		pairLocks: newKeyedMutex(),
	}
	s.typing = typing.NewTracker(d.TypingStore, opts.TypingTTL, s.typingChanged)
	s.worker = reconcile.NewWorker(s.ApplyEffects, 1, 0, s.log)
	s.worker.Start(context.Background())
	s.effects = s.worker
	return s
}

// SetEffectsQueue replaces the in-process reconciler used for side effects
// that could not be applied inline.
func (s *Service) SetEffectsQueue(q reconcile.Queue) {
	if s.worker != nil && q != reconcile.Queue(s.worker) {
		s.worker.Stop()
		s.worker = nil
	}
	s.effects = q
}

// Hub exposes the change hub so relays can be attached.
func (s *Service) Hub() *hub.Hub { return s.hub }

func (s *Service) Typing() *typing.Tracker { return s.typing }

func (s *Service) Options() Options { return s.opts }

// Close stops typing timers and the in-process reconciler.
func (s *Service) Close() {
	s.typing.Close()
	if s.worker != nil {
		s.worker.Stop()
	}
}

func validID(id string) bool {
	if id == "" || strings.ContainsAny(id, ".|$ \t\n") {
		return false
	}
	return true
}

func (s *Service) requireIDs(op string, ids map[string]string) error {
	for field, v := range ids {
		if !validID(v) {
			return apperr.InvalidArgument(op, "%s %q is empty or malformed", field, v)
		}
	}
	return nil
}

func (s *Service) getChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	c, err := retry.Value(ctx, s.opts.Retry, func(ctx context.Context) (*domain.Chat, error) {
		return s.store.GetChat(ctx, chatID)
	})
	if err != nil {
		return nil, err
	}
	s.participants.Store(c.ID, append([]string(nil), c.ParticipantIDs...))
	return c, nil
}

// chatMembers returns a chat's participants, reading the store only once
// per chat.
func (s *Service) chatMembers(ctx context.Context, chatID string) ([]string, error) {
	if v, ok := s.participants.Load(chatID); ok {
		return v.([]string), nil
	}
	c, err := s.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return c.ParticipantIDs, nil
}

func (s *Service) requireMember(ctx context.Context, op, chatID, userID string) ([]string, error) {
	members, err := s.chatMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m == userID {
			return members, nil
		}
	}
	return nil, apperr.NotParticipant(op, userID, chatID)
}

func (s *Service) publish(ctx context.Context, chatID string, participants []string) {
	s.hub.Publish(ctx, hub.Change{ChatID: chatID, Participants: participants})
}

// Authorize fails with NotFound or NotParticipant unless userID belongs to
// chatID.
func (s *Service) Authorize(ctx context.Context, chatID, userID string) error {
	const op = "authorize"
	if err := s.requireIDs(op, map[string]string{"chat id": chatID, "user id": userID}); err != nil {
		return err
	}
	_, err := s.requireMember(ctx, op, chatID, userID)
	return err
}
