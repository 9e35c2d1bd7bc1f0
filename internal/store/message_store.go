package store

import (
	"context"
	"time"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message statuses.
const (
	MessageReceived = "received"
	MessageQueued   = "queued"
	MessageSent     = "sent"
	MessageFailed   = "failed"
)

// MessageRecord is one persisted chat message.
type MessageRecord struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Contact    string    `json:"contact"`
	Direction  string    `json:"direction"`
	Type       string    `json:"type"`
	Body       string    `json:"body"`
	ExternalID string    `json:"external_id,omitempty"` // channel message id (wamid)
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageStore persists conversation messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *MessageRecord) error
	// UpdateMessageStatus sets status and, when non-empty, the external id.
	UpdateMessageStatus(ctx context.Context, id, status, externalID string) error
	// UpdateStatusByExternalID applies a channel status callback. Unknown ids are a no-op.
	UpdateStatusByExternalID(ctx context.Context, externalID, status string) error
	// ListRecentMessages returns up to limit messages, oldest first.
	ListRecentMessages(ctx context.Context, agentID, contact string, limit int) ([]MessageRecord, error)
}
