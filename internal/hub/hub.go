package hub

import (
	"context"
	"sync"
)

// Change describes a write that may invalidate snapshots. Listeners re-read
// state; the change itself carries no data.
type Change struct {
	ChatID       string   `json:"chat_id"`
	Participants []string `json:"participants,omitempty"`
	Origin       string   `json:"origin,omitempty"`
}

func ChatTopic(chatID string) string { return "chat:" + chatID }
func UserTopic(userID string) string { return "user:" + userID }

// Relay forwards local changes to other instances.
type Relay interface {
	Send(ctx context.Context, c Change) error
}

// Listener is a coalescing wake-up signal: any number of publishes between
// two reads collapse into a single pending signal.
type Listener struct {
	hub    *Hub
	topics []string
	ch     chan struct{}
	once   sync.Once
}

func (l *Listener) C() <-chan struct{} { return l.ch }

func (l *Listener) signal() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Close unsubscribes the listener. It is safe to call more than once.
func (l *Listener) Close() {
	l.once.Do(func() { l.hub.remove(l) })
}

type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[*Listener]struct{}
	relay     Relay
	onError   func(error)
}

func New() *Hub {
	return &Hub{listeners: make(map[string]map[*Listener]struct{})}
}

// SetRelay installs the cross-instance relay. errFn receives relay failures.
func (h *Hub) SetRelay(r Relay, errFn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = r
	h.onError = errFn
}

func (h *Hub) Subscribe(topics ...string) *Listener {
	l := &Listener{hub: h, topics: topics, ch: make(chan struct{}, 1)}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		set, ok := h.listeners[t]
		if !ok {
			set = make(map[*Listener]struct{})
			h.listeners[t] = set
		}
		set[l] = struct{}{}
	}
	return l
}

func (h *Hub) remove(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range l.topics {
		if set, ok := h.listeners[t]; ok {
			delete(set, l)
			if len(set) == 0 {
				delete(h.listeners, t)
			}
		}
	}
}

// Publish wakes local listeners and forwards the change to the relay.
func (h *Hub) Publish(ctx context.Context, c Change) {
	h.Deliver(c)

	h.mu.RLock()
	relay, onError := h.relay, h.onError
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	if err := relay.Send(ctx, c); err != nil && onError != nil {
		onError(err)
	}
}

// Deliver wakes local listeners only. Relays call it for remote changes.
func (h *Hub) Deliver(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Listener]struct{})
	wake := func(topic string) {
		for l := range h.listeners[topic] {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			l.signal()
		}
	}
	if c.ChatID != "" {
		wake(ChatTopic(c.ChatID))
	}
	for _, p := range c.Participants {
		wake(UserTopic(p))
	}
}

// Listeners returns the number of live listeners on topic.
func (h *Hub) Listeners(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[topic])
}
