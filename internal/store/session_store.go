package store

import (
	"context"
	"time"
)

// SessionPayload is the mutable conversation state persisted per (agent, end-user).
type SessionPayload struct {
	State          string         `json:"state"`
	MessageCount   int            `json:"message_count"`
	LastAgent      string         `json:"last_agent,omitempty"`
	LastConfidence float64        `json:"last_confidence,omitempty"`
	Extras         map[string]any `json:"extras"`
}

// Clone returns a copy whose Extras map can be mutated independently.
func (p SessionPayload) Clone() SessionPayload {
	out := p
	out.Extras = make(map[string]any, len(p.Extras))
	for k, v := range p.Extras {
		out.Extras[k] = v
	}
	return out
}

// SessionRecord is one conversation-state row.
type SessionRecord struct {
	Key        string         `json:"key"`
	AgentID    string         `json:"agent_id"`
	Contact    string         `json:"contact"`
	Payload    SessionPayload `json:"payload"`
	LastActive time.Time      `json:"last_active"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SessionStore is the durable key/value store for conversation sessions.
// There is no caching layer in front of it; every call reaches the backend.
type SessionStore interface {
	// GetSession returns ErrNotFound when no record exists for key.
	GetSession(ctx context.Context, key string) (*SessionRecord, error)
	// PutSession overwrites the whole record (last write wins).
	PutSession(ctx context.Context, rec *SessionRecord) error
	// TouchSession bumps last_active without altering the payload.
	// Touching a missing key is a no-op.
	TouchSession(ctx context.Context, key string, at time.Time) error
}
