// Package transport talks to the assistant backend: it submits user
// messages, streams response events, and answers permission requests.
package transport

import (
	"context"
	"errors"
)

// EventType discriminates backend stream events.
type EventType string

const (
	EventDelta        EventType = "delta"
	EventTurnComplete EventType = "turn-complete"
	EventIdle         EventType = "idle"
	EventToolCall     EventType = "tool-call"
	EventError        EventType = "error"
)

// ToolCall is a permission request for a tool the assistant wants to run.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Event is one message on the response stream.
type Event struct {
	Type EventType `json:"type"`
	Text string    `json:"text,omitempty"`
	Tool *ToolCall `json:"tool,omitempty"`
}

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("transport: stream closed")

// Stream delivers events for one session. Recv blocks; Close unblocks it.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Backend is the assistant server.
type Backend interface {
	Open(ctx context.Context, sessionID string) (Stream, error)
	Send(ctx context.Context, sessionID, text string) error
	RespondPermission(ctx context.Context, sessionID, callID string, allow bool) error
}
