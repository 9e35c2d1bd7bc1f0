package store

import (
	"context"
	"time"
)

// Follow-up task statuses.
const (
	FollowUpPending = "pending"
	FollowUpRunning = "running"
	FollowUpDone    = "done"
	FollowUpFailed  = "failed"
)

// FollowUpLease is how long a claimed task may stay running before another
// sweep is allowed to reclaim it.
const FollowUpLease = 10 * time.Minute

// FollowUpTask is a durable scheduled re-engagement message.
type FollowUpTask struct {
	ID        string     `json:"id"`
	OrderID   string     `json:"order_id"`
	AgentID   string     `json:"agent_id"`
	Contact   string     `json:"contact"`
	DueAt     time.Time  `json:"due_at"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FollowUpStore persists follow-up tasks.
type FollowUpStore interface {
	CreateFollowUp(ctx context.Context, t *FollowUpTask) error
	// ClaimFollowUp atomically moves a pending (or lease-expired running) task to running.
	// Returns false when another worker already holds it or it is finished.
	ClaimFollowUp(ctx context.Context, id string, now time.Time) (bool, error)
	CompleteFollowUp(ctx context.Context, id, status string) error
	// ListDueFollowUps returns claimable tasks due at or before now, oldest first.
	ListDueFollowUps(ctx context.Context, now time.Time, limit int) ([]FollowUpTask, error)
}
