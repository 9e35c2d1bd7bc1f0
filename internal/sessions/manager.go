package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

// DefaultState is the conversation state of a fresh session.
const DefaultState = "greeting"

// PaymentState survives inactivity: only a payment event moves a session out of it.
const PaymentState = "payment"

// DefaultInactivityTimeout is used when the manager is built with a zero timeout.
const DefaultInactivityTimeout = 24 * time.Hour

// Manager handles session lifecycle over a durable SessionStore.
// Every call reads or writes the store directly.
type Manager struct {
	store      store.SessionStore
	inactivity time.Duration
	now        func() time.Time
}

// NewManager creates a manager. inactivity <= 0 uses DefaultInactivityTimeout.
func NewManager(s store.SessionStore, inactivity time.Duration) *Manager {
	if inactivity <= 0 {
		inactivity = DefaultInactivityTimeout
	}
	return &Manager{store: s, inactivity: inactivity, now: time.Now}
}

// SetClock overrides the time source (tests).
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// NewPayload returns the default payload of a fresh session.
func NewPayload() store.SessionPayload {
	return store.SessionPayload{State: DefaultState, Extras: map[string]any{}}
}

// Restart returns the payload a session starts over with after inactivity.
// The message count and routing history reset; a session waiting on payment
// keeps its state and extras (product, quantity, order).
func Restart(prev store.SessionPayload) store.SessionPayload {
	p := NewPayload()
	if prev.State == PaymentState {
		p = prev.Clone()
		p.MessageCount = 0
		p.LastAgent = ""
		p.LastConfidence = 0
	}
	return p
}

// IsNewSession reports whether no record exists or the record has been inactive
// longer than the threshold. It never writes.
func (m *Manager) IsNewSession(ctx context.Context, k Key) (bool, error) {
	rec, err := m.store.GetSession(ctx, k.String())
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}
	return m.now().Sub(rec.LastActive) > m.inactivity, nil
}

// GetSessionData returns the stored payload or a fresh default.
func (m *Manager) GetSessionData(ctx context.Context, k Key) (store.SessionPayload, error) {
	rec, err := m.store.GetSession(ctx, k.String())
	if errors.Is(err, store.ErrNotFound) {
		return NewPayload(), nil
	}
	if err != nil {
		return store.SessionPayload{}, fmt.Errorf("get session: %w", err)
	}
	p := rec.Payload
	if p.State == "" {
		p.State = DefaultState
	}
	if p.Extras == nil {
		p.Extras = map[string]any{}
	}
	return p, nil
}

// SaveSessionData overwrites the whole payload (last write wins) and bumps last-active.
func (m *Manager) SaveSessionData(ctx context.Context, k Key, p store.SessionPayload) error {
	if p.Extras == nil {
		p.Extras = map[string]any{}
	}
	err := m.store.PutSession(ctx, &store.SessionRecord{
		Key:        k.String(),
		AgentID:    k.AgentID,
		Contact:    k.Contact,
		Payload:    p,
		LastActive: m.now(),
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// UpdateSession bumps the last-active marker without touching the payload.
func (m *Manager) UpdateSession(ctx context.Context, k Key) error {
	if err := m.store.TouchSession(ctx, k.String(), m.now()); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// SetState loads the payload, replaces its state and saves it back.
// Used by event-driven agents that move a conversation forward outside the inbound path.
func (m *Manager) SetState(ctx context.Context, k Key, state string) error {
	p, err := m.GetSessionData(ctx, k)
	if err != nil {
		return err
	}
	p.State = state
	return m.SaveSessionData(ctx, k, p)
}
