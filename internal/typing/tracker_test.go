package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(NewMemoryStore(), DefaultTTL, nil)
	tr.SetClock(clock.Now)
	defer tr.Close()

	require.NoError(t, tr.SetTyping(ctx, "c1", "alice", true))
	users, err := tr.Typing(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	clock.Advance(1999 * time.Millisecond)
	users, _ = tr.Typing(ctx, "c1")
	assert.Equal(t, []string{"alice"}, users)

	clock.Advance(time.Millisecond)
	users, _ = tr.Typing(ctx, "c1")
	assert.Empty(t, users)
}

func TestTypingRefreshExtendsTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(NewMemoryStore(), DefaultTTL, nil)
	tr.SetClock(clock.Now)
	defer tr.Close()

	require.NoError(t, tr.SetTyping(ctx, "c1", "alice", true))
	clock.Advance(1500 * time.Millisecond)
	require.NoError(t, tr.SetTyping(ctx, "c1", "alice", true))
	clock.Advance(1500 * time.Millisecond)

	users, _ := tr.Typing(ctx, "c1")
	assert.Equal(t, []string{"alice"}, users)
}

func TestTypingFalseRemoves(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore(), DefaultTTL, nil)
	defer tr.Close()

	require.NoError(t, tr.SetTyping(ctx, "c1", "bob", true))
	require.NoError(t, tr.SetTyping(ctx, "c1", "alice", true))
	users, _ := tr.Typing(ctx, "c1")
	assert.Equal(t, []string{"alice", "bob"}, users)

	require.NoError(t, tr.SetTyping(ctx, "c1", "alice", false))
	users, _ = tr.Typing(ctx, "c1")
	assert.Equal(t, []string{"bob"}, users)

	// clearing a user who is not typing is a no-op
	require.NoError(t, tr.SetTyping(ctx, "c1", "carol", false))
}

func TestExpiryTimerNotifies(t *testing.T) {
	ctx := context.Background()
	notified := make(chan string, 4)
	tr := NewTracker(NewMemoryStore(), 30*time.Millisecond, func(chatID string) { notified <- chatID })
	defer tr.Close()

	require.NoError(t, tr.SetTyping(ctx, "c1", "alice", true))
	assert.Equal(t, "c1", <-notified)

	select {
	case id := <-notified:
		assert.Equal(t, "c1", id)
	case <-time.After(time.Second):
		t.Fatal("expiry did not notify")
	}

	users, _ := tr.Typing(ctx, "c1")
	assert.Empty(t, users)
}

func TestRefreshDoesNotRenotify(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	count := 0
	tr := NewTracker(NewMemoryStore(), time.Minute, func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer tr.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.SetTyping(ctx, "c1", "alice", true))
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

// A refresh whose store write lands while the old timer is firing must not
// be wiped by that timer.
func TestExpiryKeepsRacingRefresh(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	tr := NewTracker(store, DefaultTTL, nil)
	tr.SetClock(clock.Now)
	defer tr.Close()

	require.NoError(t, tr.SetTyping(ctx, "c1", "alice", true))
	key := timerKey{chatID: "c1", userID: "alice"}
	tr.mu.Lock()
	stale := tr.timers[key]
	tr.mu.Unlock()

	clock.Advance(time.Second)
	require.NoError(t, store.Set(ctx, "c1", "alice", clock.Now().Add(DefaultTTL)))
	tr.expire(key, stale.gen)

	users, err := tr.Typing(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	// without a refresh the same expiry does remove the entry
	require.NoError(t, store.Expire(ctx, "c1", "alice", clock.Now().Add(DefaultTTL)))
	users, _ = tr.Typing(ctx, "c1")
	assert.Empty(t, users)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "", Label(nil))
	assert.Equal(t, "Ann is typing…", Label([]string{"Ann"}))
	assert.Equal(t, "Ann and Bo are typing…", Label([]string{"Ann", "Bo"}))
	assert.Equal(t, "3 people are typing…", Label([]string{"Ann", "Bo", "Cy"}))
}
