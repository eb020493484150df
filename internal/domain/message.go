package domain

import (
	"fmt"
	"sort"
	"time"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

func (k MessageKind) Valid() bool {
	return k == KindText || k == KindImage
}

type Message struct {
	ID             string      `bson:"_id" firestore:"-" json:"id"`
	ChatID         string      `bson:"chat_id" firestore:"chatId" json:"chat_id"`
	SenderID       string      `bson:"sender_id" firestore:"senderId" json:"sender_id"`
	SenderName     string      `bson:"sender_name" firestore:"senderName" json:"sender_name"`
	SenderPhotoURL string      `bson:"sender_photo_url,omitempty" firestore:"senderPhotoURL,omitempty" json:"sender_photo_url,omitempty"`
	Text           string      `bson:"text,omitempty" firestore:"text,omitempty" json:"text,omitempty"`
	ImageURL       string      `bson:"image_url,omitempty" firestore:"imageURL,omitempty" json:"image_url,omitempty"`
	Kind           MessageKind `bson:"kind" firestore:"kind" json:"kind"`
	SentAt         time.Time   `bson:"sent_at" firestore:"sentAt" json:"sent_at"`
	Seq            int64       `bson:"seq" firestore:"seq" json:"seq"`
	ReadBy         []string    `bson:"read_by" firestore:"readBy" json:"read_by"`
}

// Validate rejects records whose shape cannot come from SendMessage.
func (m *Message) Validate() error {
	if m.ChatID == "" || m.SenderID == "" {
		return fmt.Errorf("message %s: missing chat or sender", m.ID)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("message %s: unknown kind %q", m.ID, m.Kind)
	}
	if m.Text == "" && m.ImageURL == "" {
		return fmt.Errorf("message %s: empty content", m.ID)
	}
	if m.ImageURL != "" && m.Kind != KindImage {
		return fmt.Errorf("message %s: image url on %s message", m.ID, m.Kind)
	}
	return nil
}

// ReadByOthers is true once anyone besides the sender has read the message.
func (m *Message) ReadByOthers() bool {
	return len(m.ReadBy) > 1
}

func (m *Message) IsReadBy(userID string) bool {
	for _, u := range m.ReadBy {
		if u == userID {
			return true
		}
	}
	return false
}

func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Text:       m.Text,
		Kind:       m.Kind,
		SentAt:     m.SentAt,
	}
}

func (m *Message) Clone() *Message {
	cp := *m
	cp.ReadBy = append([]string(nil), m.ReadBy...)
	return &cp
}

// SortChronological orders messages oldest first by (sentAt, seq).
func SortChronological(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].SentAt.Before(msgs[j].SentAt)
		}
		return msgs[i].Seq < msgs[j].Seq
	})
}
