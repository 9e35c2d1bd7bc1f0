package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

// FollowUpStore implements store.FollowUpStore.
type FollowUpStore struct{ d *DB }

func (s *FollowUpStore) CreateFollowUp(ctx context.Context, t *store.FollowUpTask) error {
	if t.ID == "" {
		t.ID = store.GenNewID()
	}
	if t.Status == "" {
		t.Status = store.FollowUpPending
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := s.d.db.ExecContext(ctx, s.d.q(
		`INSERT INTO follow_ups (id, order_id, agent_id, contact, due_at, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)`),
		t.ID, t.OrderID, t.AgentID, t.Contact, utc(t.DueAt), t.Status, utc(now),
	)
	if err != nil {
		return fmt.Errorf("create follow-up: %w", err)
	}
	return nil
}

func (s *FollowUpStore) ClaimFollowUp(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.d.db.ExecContext(ctx, s.d.q(
		`UPDATE follow_ups SET status = $1, attempts = attempts + 1, claimed_at = $2, updated_at = $2
		 WHERE id = $3 AND (status = $4 OR (status = $1 AND claimed_at < $5))`),
		store.FollowUpRunning, utc(now), id, store.FollowUpPending, utc(now.Add(-store.FollowUpLease)),
	)
	if err != nil {
		return false, fmt.Errorf("claim follow-up: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists int
	err = s.d.db.QueryRowContext(ctx, s.d.q(`SELECT 1 FROM follow_ups WHERE id = $1`), id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, store.ErrNotFound
	}
	return false, err
}

func (s *FollowUpStore) CompleteFollowUp(ctx context.Context, id, status string) error {
	res, err := s.d.db.ExecContext(ctx, s.d.q(
		`UPDATE follow_ups SET status = $1, updated_at = $2 WHERE id = $3`), status, utc(time.Now()), id)
	if err != nil {
		return fmt.Errorf("complete follow-up: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *FollowUpStore) ListDueFollowUps(ctx context.Context, now time.Time, limit int) ([]store.FollowUpTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.d.db.QueryContext(ctx, s.d.q(
		`SELECT id, order_id, agent_id, contact, due_at, status, attempts, claimed_at, created_at, updated_at
		 FROM follow_ups
		 WHERE due_at <= $1 AND (status = $2 OR (status = $3 AND claimed_at < $4))
		 ORDER BY due_at LIMIT $5`),
		utc(now), store.FollowUpPending, store.FollowUpRunning, utc(now.Add(-store.FollowUpLease)), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due follow-ups: %w", err)
	}
	defer rows.Close()

	var out []store.FollowUpTask
	for rows.Next() {
		var (
			t       store.FollowUpTask
			claimed sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.AgentID, &t.Contact, &t.DueAt, &t.Status, &t.Attempts, &claimed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan follow-up: %w", err)
		}
		if claimed.Valid {
			ts := claimed.Time
			t.ClaimedAt = &ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
