// Package store persists the conversation transcript: user utterances and
// the assistant replies committed when a response finalizes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role identifies the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one committed transcript entry.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Incomplete bool      `json:"incomplete,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter narrows List. Zero values match everything; Limit keeps the most
// recent messages.
type Filter struct {
	SessionID string
	Limit     int
}

// Store records messages.
type Store interface {
	// Commit stores m, assigning ID and CreatedAt when unset, and returns
	// the stored message.
	Commit(ctx context.Context, m Message) (Message, error)
	// List returns matching messages oldest first.
	List(ctx context.Context, f Filter) ([]Message, error)
	Close() error
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store: closed")

func prepare(m Message, now time.Time) (Message, error) {
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return Message{}, errors.New("store: unknown role " + string(m.Role))
	}
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}
