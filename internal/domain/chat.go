package domain

import "time"

// MaxMessageLength bounds the characters accepted in a single chat message.
const MaxMessageLength = 500

// Chat is one persisted exchange between a user and the completion API.
type Chat struct {
	ID        int64
	UserID    int64
	Message   string
	Response  string
	CreatedAt time.Time
}
