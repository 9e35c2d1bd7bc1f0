package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

// MessageStore implements store.MessageStore.
type MessageStore struct{ d *DB }

func (s *MessageStore) SaveMessage(ctx context.Context, m *store.MessageRecord) error {
	if m.ID == "" {
		m.ID = store.GenNewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.d.db.ExecContext(ctx, s.d.q(
		`INSERT INTO messages (id, agent_id, contact, direction, type, body, external_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
		m.ID, m.AgentID, m.Contact, m.Direction, m.Type, m.Body, m.ExternalID, m.Status, utc(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *MessageStore) UpdateMessageStatus(ctx context.Context, id, status, externalID string) error {
	res, err := s.d.db.ExecContext(ctx, s.d.q(
		`UPDATE messages SET status = $1,
			external_id = CASE WHEN $2 <> '' THEN $2 ELSE external_id END
		 WHERE id = $3`), status, externalID, id)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *MessageStore) UpdateStatusByExternalID(ctx context.Context, externalID, status string) error {
	if externalID == "" {
		return nil
	}
	_, err := s.d.db.ExecContext(ctx, s.d.q(`UPDATE messages SET status = $1 WHERE external_id = $2`), status, externalID)
	if err != nil {
		return fmt.Errorf("update message status by external id: %w", err)
	}
	return nil
}

func (s *MessageStore) ListRecentMessages(ctx context.Context, agentID, contact string, limit int) ([]store.MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.d.db.QueryContext(ctx, s.d.q(
		`SELECT id, agent_id, contact, direction, type, body, external_id, status, created_at
		 FROM messages WHERE agent_id = $1 AND contact = $2
		 ORDER BY created_at DESC LIMIT $3`), agentID, contact, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []store.MessageRecord
	for rows.Next() {
		var m store.MessageRecord
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Contact, &m.Direction, &m.Type, &m.Body, &m.ExternalID, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
