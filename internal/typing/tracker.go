package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ejjays/RN-chatapp/internal/domain"
)

const DefaultTTL = 2 * time.Second

// Store keeps typing entries with an absolute expiry. Expired entries must
// never be returned by List.
type Store interface {
	Set(ctx context.Context, chatID, userID string, expiresAt time.Time) error
	Clear(ctx context.Context, chatID, userID string) error
	// Expire removes userID only while its stored expiry is at or before
	// expiresAt, so a refresh that raced the timer survives.
	Expire(ctx context.Context, chatID, userID string, expiresAt time.Time) error
	List(ctx context.Context, chatID string, now time.Time) ([]domain.TypingState, error)
}

type timerKey struct {
	chatID string
	userID string
}

type pending struct {
	timer     *time.Timer
	gen       uint64
	expiresAt time.Time
}

// Tracker owns typing TTLs. Expiry is driven by in-process timers so that
// subscribers see a "stopped typing" change without polling.
type Tracker struct {
	store  Store
	ttl    time.Duration
	notify func(chatID string)
	now    func() time.Time

	mu     sync.Mutex
	timers map[timerKey]pending
	gen    uint64
	closed bool
}

func NewTracker(store Store, ttl time.Duration, notify func(chatID string)) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &Tracker{
		store:  store,
		ttl:    ttl,
		notify: notify,
		now:    time.Now,
		timers: make(map[timerKey]pending),
	}
}

// SetClock replaces the wall clock used for expiry checks.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

func (t *Tracker) TTL() time.Duration { return t.ttl }

func (t *Tracker) SetTyping(ctx context.Context, chatID, userID string, isTyping bool) error {
	if !isTyping {
		return t.clear(ctx, chatID, userID)
	}
	expiresAt := t.now().Add(t.ttl)
	if err := t.store.Set(ctx, chatID, userID, expiresAt); err != nil {
		return err
	}

	key := timerKey{chatID: chatID, userID: userID}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	prev, refreshed := t.timers[key]
	if refreshed {
		prev.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timers[key] = pending{
		timer:     time.AfterFunc(t.ttl, func() { t.expire(key, gen) }),
		gen:       gen,
		expiresAt: expiresAt,
	}
	t.mu.Unlock()

	if !refreshed {
		t.notify(chatID)
	}
	return nil
}

func (t *Tracker) clear(ctx context.Context, chatID, userID string) error {
	key := timerKey{chatID: chatID, userID: userID}
	t.mu.Lock()
	if p, ok := t.timers[key]; ok {
		p.timer.Stop()
		delete(t.timers, key)
	}
	t.mu.Unlock()

	if err := t.store.Clear(ctx, chatID, userID); err != nil {
		return err
	}
	t.notify(chatID)
	return nil
}

func (t *Tracker) expire(key timerKey, gen uint64) {
	t.mu.Lock()
	p, ok := t.timers[key]
	if !ok || p.gen != gen || t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = t.store.Expire(ctx, key.chatID, key.userID, p.expiresAt)
	t.notify(key.chatID)
}

// Typing returns the users currently typing in chatID, sorted by user id.
func (t *Tracker) Typing(ctx context.Context, chatID string) ([]string, error) {
	states, err := t.store.List(ctx, chatID, t.now())
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, s.UserID)
	}
	sort.Strings(out)
	return out, nil
}

// Close stops all pending expiry timers.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for k, p := range t.timers {
		p.timer.Stop()
		delete(t.timers, k)
	}
}
