package store

import (
	"context"
	"time"
)

// Lead statuses of a contact's CRM record.
const (
	LeadNew         = "new"
	LeadQualified   = "qualified"
	LeadNegotiating = "negotiating"
	LeadClosedWon   = "closed_won"
	LeadClosedLost  = "closed_lost"
)

// Contact is the CRM record linked to an end-user address.
type Contact struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Address    string    `json:"address"`
	Name       string    `json:"name,omitempty"`
	LeadStatus string    `json:"lead_status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ContactStore persists contacts.
type ContactStore interface {
	// UpsertContact inserts or refreshes the name of (agent, address); lead status is kept.
	UpsertContact(ctx context.Context, c *Contact) error
	GetContact(ctx context.Context, agentID, address string) (*Contact, error)
	UpdateLeadStatus(ctx context.Context, contactID, status string) error
}
