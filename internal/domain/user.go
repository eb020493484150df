package domain

import "time"

type User struct {
	ID          string    `bson:"_id" firestore:"-" json:"id"`
	DisplayName string    `bson:"display_name" firestore:"displayName" json:"display_name"`
	PhotoURL    string    `bson:"photo_url,omitempty" firestore:"photoURL,omitempty" json:"photo_url,omitempty"`
	Email       string    `bson:"email" firestore:"email" json:"email"`
	IsOnline    bool      `bson:"is_online" firestore:"isOnline" json:"is_online"`
	LastSeen    time.Time `bson:"last_seen" firestore:"lastSeen" json:"last_seen"`
	CreatedAt   time.Time `bson:"created_at" firestore:"createdAt" json:"created_at"`
}

// TypingState is one user's typing indicator in one chat.
type TypingState struct {
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
