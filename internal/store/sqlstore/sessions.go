package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

// SessionStore implements store.SessionStore.
type SessionStore struct{ d *DB }

func (s *SessionStore) GetSession(ctx context.Context, key string) (*store.SessionRecord, error) {
	var (
		rec     store.SessionRecord
		payload []byte
	)
	err := s.d.db.QueryRowContext(ctx, s.d.q(
		`SELECT session_key, agent_id, contact, payload, last_active, created_at
		 FROM sessions WHERE session_key = $1`), key,
	).Scan(&rec.Key, &rec.AgentID, &rec.Contact, &payload, &rec.LastActive, &rec.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	if rec.Payload.Extras == nil {
		rec.Payload.Extras = map[string]any{}
	}
	return &rec, nil
}

func (s *SessionStore) PutSession(ctx context.Context, rec *store.SessionRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode session payload: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = rec.LastActive
	}
	_, err = s.d.db.ExecContext(ctx, s.d.q(
		`INSERT INTO sessions (session_key, agent_id, contact, payload, last_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_key) DO UPDATE SET
			agent_id = excluded.agent_id, contact = excluded.contact,
			payload = excluded.payload, last_active = excluded.last_active`),
		rec.Key, rec.AgentID, rec.Contact, payload, utc(rec.LastActive), utc(created),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *SessionStore) TouchSession(ctx context.Context, key string, at time.Time) error {
	_, err := s.d.db.ExecContext(ctx, s.d.q(`UPDATE sessions SET last_active = $1 WHERE session_key = $2`), utc(at), key)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}
