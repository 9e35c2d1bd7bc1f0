package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

// ContactStore implements store.ContactStore.
type ContactStore struct{ d *DB }

func (s *ContactStore) UpsertContact(ctx context.Context, c *store.Contact) error {
	if c.ID == "" {
		c.ID = store.GenNewID()
	}
	if c.LeadStatus == "" {
		c.LeadStatus = store.LeadNew
	}
	now := utc(time.Now())
	err := s.d.db.QueryRowContext(ctx, s.d.q(
		`INSERT INTO contacts (id, agent_id, address, name, lead_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (agent_id, address) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE contacts.name END,
			updated_at = excluded.updated_at
		 RETURNING id, name, lead_status, created_at, updated_at`),
		c.ID, c.AgentID, c.Address, c.Name, c.LeadStatus, now,
	).Scan(&c.ID, &c.Name, &c.LeadStatus, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

func (s *ContactStore) GetContact(ctx context.Context, agentID, address string) (*store.Contact, error) {
	var c store.Contact
	err := s.d.db.QueryRowContext(ctx, s.d.q(
		`SELECT id, agent_id, address, name, lead_status, created_at, updated_at
		 FROM contacts WHERE agent_id = $1 AND address = $2`), agentID, address,
	).Scan(&c.ID, &c.AgentID, &c.Address, &c.Name, &c.LeadStatus, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *ContactStore) UpdateLeadStatus(ctx context.Context, contactID, status string) error {
	res, err := s.d.db.ExecContext(ctx, s.d.q(
		`UPDATE contacts SET lead_status = $1, updated_at = $2 WHERE id = $3`),
		status, utc(time.Now()), contactID)
	if err != nil {
		return fmt.Errorf("update lead status: %w", err)
	}
	return affectedOrNotFound(res)
}
