// Package memstore implements every store interface in process memory.
// It backs database.driver=memory and the package tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

// Store holds all tables behind one mutex.
type Store struct {
	mu        sync.RWMutex
	agents    map[string]store.AgentConfig
	sessions  map[string]store.SessionRecord
	messages  []store.MessageRecord
	contacts  map[string]store.Contact // agentID|address
	orders    map[string]store.Order
	products  map[string]store.Product // agentID|id
	followUps map[string]store.FollowUpTask

	// AgentReads counts source-of-truth agent lookups (used by resolver tests).
	AgentReads int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		agents:    make(map[string]store.AgentConfig),
		sessions:  make(map[string]store.SessionRecord),
		contacts:  make(map[string]store.Contact),
		orders:    make(map[string]store.Order),
		products:  make(map[string]store.Product),
		followUps: make(map[string]store.FollowUpTask),
	}
}

// Stores wraps s in the store container.
func (s *Store) Stores() *store.Stores {
	return &store.Stores{
		Agents:    s,
		Sessions:  s,
		Messages:  s,
		Contacts:  s,
		Orders:    s,
		Products:  s,
		FollowUps: s,
		Close:     func() error { return nil },
	}
}

func pairKey(a, b string) string { return a + "|" + b }

// --- agents ---

func (s *Store) GetAgentConfig(_ context.Context, id string) (*store.AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AgentReads++
	a, ok := s.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) GetAgentConfigByAddress(_ context.Context, address string) (*store.AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AgentReads++
	for _, a := range s.agents {
		if a.ChannelAddress == address {
			a := a
			return &a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) PutAgentConfig(_ context.Context, cfg *store.AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cfg
	c.UpdatedAt = time.Now()
	s.agents[c.ID] = c
	return nil
}

// --- sessions ---

func (s *Store) GetSession(_ context.Context, key string) (*store.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec.Payload = rec.Payload.Clone()
	return &rec, nil
}

func (s *Store) PutSession(_ context.Context, rec *store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	r.Payload = rec.Payload.Clone()
	if prev, ok := s.sessions[r.Key]; ok {
		r.CreatedAt = prev.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = r.LastActive
	}
	s.sessions[r.Key] = r
	return nil
}

func (s *Store) TouchSession(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[key]; ok {
		rec.LastActive = at
		s.sessions[key] = rec
	}
	return nil
}

// --- messages ---

func (s *Store) SaveMessage(_ context.Context, msg *store.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = store.GenNewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *Store) UpdateMessageStatus(_ context.Context, id, status, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Status = status
			if externalID != "" {
				s.messages[i].ExternalID = externalID
			}
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) UpdateStatusByExternalID(_ context.Context, externalID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ExternalID == externalID {
			s.messages[i].Status = status
		}
	}
	return nil
}

func (s *Store) ListRecentMessages(_ context.Context, agentID, contact string, limit int) ([]store.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.MessageRecord
	for i := len(s.messages) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		m := s.messages[i]
		if m.AgentID == agentID && m.Contact == contact {
			out = append(out, m)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Messages returns a snapshot of every stored message (test helper).
func (s *Store) Messages() []store.MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.MessageRecord(nil), s.messages...)
}

// --- contacts ---

func (s *Store) UpsertContact(_ context.Context, c *store.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(c.AgentID, c.Address)
	now := time.Now()
	if prev, ok := s.contacts[k]; ok {
		if c.Name != "" {
			prev.Name = c.Name
		}
		prev.UpdatedAt = now
		s.contacts[k] = prev
		*c = prev
		return nil
	}
	if c.ID == "" {
		c.ID = store.GenNewID()
	}
	if c.LeadStatus == "" {
		c.LeadStatus = store.LeadNew
	}
	c.CreatedAt, c.UpdatedAt = now, now
	s.contacts[k] = *c
	return nil
}

func (s *Store) GetContact(_ context.Context, agentID, address string) (*store.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[pairKey(agentID, address)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) UpdateLeadStatus(_ context.Context, contactID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.contacts {
		if c.ID == contactID {
			c.LeadStatus = status
			c.UpdatedAt = time.Now()
			s.contacts[k] = c
			return nil
		}
	}
	return store.ErrNotFound
}

// --- orders & products ---

func (s *Store) CreateOrder(_ context.Context, o *store.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = store.GenNewID()
	}
	if o.Status == "" {
		o.Status = store.OrderPending
	}
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	s.orders[o.ID] = *o
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*store.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return nil
}

func (s *Store) GetProduct(_ context.Context, agentID, id string) (*store.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[pairKey(agentID, id)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context, agentID string) ([]store.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Product
	for _, p := range s.products {
		if p.AgentID == agentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) PutProduct(_ context.Context, p *store.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = store.GenNewID()
	}
	s.products[pairKey(p.AgentID, p.ID)] = *p
	return nil
}

// --- follow-ups ---

func (s *Store) CreateFollowUp(_ context.Context, t *store.FollowUpTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = store.GenNewID()
	}
	if t.Status == "" {
		t.Status = store.FollowUpPending
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.followUps[t.ID] = *t
	return nil
}

func claimable(t store.FollowUpTask, now time.Time) bool {
	switch t.Status {
	case store.FollowUpPending:
		return true
	case store.FollowUpRunning:
		return t.ClaimedAt != nil && t.ClaimedAt.Before(now.Add(-store.FollowUpLease))
	}
	return false
}

func (s *Store) ClaimFollowUp(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.followUps[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if !claimable(t, now) {
		return false, nil
	}
	t.Status = store.FollowUpRunning
	t.Attempts++
	t.ClaimedAt = &now
	t.UpdatedAt = now
	s.followUps[id] = t
	return true, nil
}

func (s *Store) CompleteFollowUp(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.followUps[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	s.followUps[id] = t
	return nil
}

func (s *Store) ListDueFollowUps(_ context.Context, now time.Time, limit int) ([]store.FollowUpTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.FollowUpTask
	for _, t := range s.followUps {
		if !t.DueAt.After(now) && claimable(t, now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FollowUps returns a snapshot of every task (test helper).
func (s *Store) FollowUps() []store.FollowUpTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.FollowUpTask, 0, len(s.followUps))
	for _, t := range s.followUps {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out
}
