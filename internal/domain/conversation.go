package domain

import (
	"errors"
	"time"
)

var (
	// ErrChatNotFound is returned by session stores when no record exists for an id.
	ErrChatNotFound = errors.New("chat not found")
	// ErrChatExists is returned when creating a record under an id that is already taken.
	ErrChatExists = errors.New("chat already exists")
	// ErrVersionConflict is returned when an update lost a race against another writer.
	ErrVersionConflict = errors.New("chat version conflict")
)

// ChatSummary is the metadata projection of a conversation.
type ChatSummary struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Title     string    `json:"title" dynamodbav:"title"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Chat is a persisted conversation: its summary plus the ordered turns.
// Version counts successful updates and guards overwrites.
type Chat struct {
	ChatSummary
	Messages []Message `json:"messages" dynamodbav:"messages"`
	Version  int64     `json:"-" dynamodbav:"version"`
}

// Summary returns the metadata projection of the chat.
func (c Chat) Summary() ChatSummary {
	return c.ChatSummary
}
