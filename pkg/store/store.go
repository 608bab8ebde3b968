// Package store persists conversation transcripts in PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Conversation is one persisted dialogue.
type Conversation struct {
	ID        uuid.UUID
	Title     string
	CreatedAt time.Time
}

// Message is one persisted transcript entry. Citations holds the grounded
// web sources for model messages, as "title <uri>" strings.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           Role
	Text           string
	Citations      []string
	CreatedAt      time.Time
}

// Store is the transcript persistence surface.
type Store interface {
	CreateConversation(ctx context.Context, title string) (*Conversation, error)
	AppendMessage(ctx context.Context, msg Message) (*Message, error)
	Messages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error)
	Conversations(ctx context.Context, limit int) ([]Conversation, error)
	DeleteConversation(ctx context.Context, conversationID uuid.UUID) error
	Close() error
}
