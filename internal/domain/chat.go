package domain

import (
	"sort"
	"strings"
	"time"
)

// MessageSummary is the denormalized preview of a chat's newest message.
type MessageSummary struct {
	MessageID  string      `bson:"message_id" firestore:"messageId" json:"message_id"`
	SenderID   string      `bson:"sender_id" firestore:"senderId" json:"sender_id"`
	SenderName string      `bson:"sender_name" firestore:"senderName" json:"sender_name"`
	Text       string      `bson:"text,omitempty" firestore:"text,omitempty" json:"text,omitempty"`
	Kind       MessageKind `bson:"kind" firestore:"kind" json:"kind"`
	SentAt     time.Time   `bson:"sent_at" firestore:"sentAt" json:"sent_at"`
}

type Chat struct {
	ID             string          `bson:"_id" firestore:"-" json:"id"`
	ParticipantIDs []string        `bson:"participants" firestore:"participants" json:"participant_ids"`
	IsGroup        bool            `bson:"is_group" firestore:"isGroup" json:"is_group"`
	Name           string          `bson:"name,omitempty" firestore:"name,omitempty" json:"name,omitempty"`
	CreatedAt      time.Time       `bson:"created_at" firestore:"createdAt" json:"created_at"`
	CreatedBy      string          `bson:"created_by" firestore:"createdBy" json:"created_by"`
	LastMessage    *MessageSummary `bson:"last_message,omitempty" firestore:"lastMessage,omitempty" json:"last_message,omitempty"`
	LastMessageAt  time.Time       `bson:"last_message_at" firestore:"lastMessageAt" json:"last_message_at"`
	UnreadCount    map[string]int  `bson:"unread" firestore:"unreadCount" json:"unread_count"`
	TypingUserIDs  []string        `bson:"-" firestore:"-" json:"typing_user_ids"`
	TypingLabel    string          `bson:"-" firestore:"-" json:"typing_label,omitempty"`

	// profiles of ParticipantIDs, filled per read; unknown users are left out
	ParticipantDetails []User `bson:"-" firestore:"-" json:"participant_details"`

	// storage bookkeeping, never serialized to clients
	PairKey    string    `bson:"pair_key,omitempty" firestore:"pairKey,omitempty" json:"-"`
	NextSeq    int64     `bson:"next_seq" firestore:"nextSeq" json:"-"`
	Clock      time.Time `bson:"clock" firestore:"clock" json:"-"`
	LastSeq    int64     `bson:"last_seq" firestore:"lastSeq" json:"-"`
	AppliedIDs []string  `bson:"applied_ids" firestore:"appliedIds" json:"-"`
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.ParticipantIDs {
		if p == userID {
			return true
		}
	}
	return false
}

// Others returns every participant except userID, in chat order.
func (c *Chat) Others(userID string) []string {
	out := make([]string, 0, len(c.ParticipantIDs))
	for _, p := range c.ParticipantIDs {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

// Normalize fills nil collections left behind by decoders.
func (c *Chat) Normalize() {
	if c.ParticipantIDs == nil {
		c.ParticipantIDs = []string{}
	}
	if c.UnreadCount == nil {
		c.UnreadCount = map[string]int{}
	}
	for _, p := range c.ParticipantIDs {
		if _, ok := c.UnreadCount[p]; !ok {
			c.UnreadCount[p] = 0
		}
	}
	if c.TypingUserIDs == nil {
		c.TypingUserIDs = []string{}
	}
	if c.ParticipantDetails == nil {
		c.ParticipantDetails = []User{}
	}
	if c.AppliedIDs == nil {
		c.AppliedIDs = []string{}
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Chat) Clone() *Chat {
	cp := *c
	cp.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	cp.TypingUserIDs = append([]string(nil), c.TypingUserIDs...)
	cp.ParticipantDetails = append([]User(nil), c.ParticipantDetails...)
	cp.AppliedIDs = append([]string(nil), c.AppliedIDs...)
	cp.UnreadCount = make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		cp.UnreadCount[k] = v
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	cp.Normalize()
	return &cp
}

// PairKey is the canonical, order-independent key of a 1:1 chat.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// SortByActivity orders chats by most recent message first. Ties keep the
// newer chat first.
func SortByActivity(chats []Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		if !chats[i].LastMessageAt.Equal(chats[j].LastMessageAt) {
			return chats[i].LastMessageAt.After(chats[j].LastMessageAt)
		}
		if !chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].CreatedAt.After(chats[j].CreatedAt)
		}
		return chats[i].ID < chats[j].ID
	})
}
