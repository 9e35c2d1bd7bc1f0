package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

func openTestDB(t *testing.T) *store.Stores {
	t.Helper()
	db, err := Open(SQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.MigrateUp())
	return db.Stores()
}

func TestRebind(t *testing.T) {
	d := &DB{dialect: SQLite}
	assert.Equal(t, "SELECT * FROM t WHERE a = ?1 AND b = ?12", d.q("SELECT * FROM t WHERE a = $1 AND b = $12"))
	pg := &DB{dialect: Postgres}
	assert.Equal(t, "a = $1", pg.q("a = $1"))
}

func TestAgentConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	cfg := &store.AgentConfig{
		ID: "agent-1", Name: "Sofía", ChannelAddress: "10001", AutoReply: true,
		BusinessHours: store.BusinessHours{Start: "09:00", End: "18:00", Days: []string{"mon", "tue"}},
		MaxConcurrent: 4,
	}
	require.NoError(t, s.Agents.PutAgentConfig(ctx, cfg))

	got, err := s.Agents.GetAgentConfigByAddress(ctx, "10001")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.ID)
	assert.True(t, got.AutoReply)
	assert.Equal(t, []string{"mon", "tue"}, got.BusinessHours.Days)

	_, err = s.Agents.GetAgentConfig(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionUpsertAndTouch(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)
	t0 := time.Now().Add(-time.Hour).UTC()

	rec := &store.SessionRecord{
		Key: "agent:a:whatsapp:direct:1", AgentID: "a", Contact: "1", LastActive: t0,
		Payload: store.SessionPayload{State: "qualifying", MessageCount: 2, Extras: map[string]any{"product_id": "p1"}},
	}
	require.NoError(t, s.Sessions.PutSession(ctx, rec))

	t1 := time.Now().UTC()
	require.NoError(t, s.Sessions.TouchSession(ctx, rec.Key, t1))

	got, err := s.Sessions.GetSession(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, "qualifying", got.Payload.State)
	assert.Equal(t, "p1", got.Payload.Extras["product_id"])
	assert.WithinDuration(t, t1, got.LastActive, time.Second)
}

func TestFollowUpClaimAndDue(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)
	now := time.Now().UTC()

	task := &store.FollowUpTask{OrderID: "o1", AgentID: "a", Contact: "1", DueAt: now.Add(-time.Minute)}
	require.NoError(t, s.FollowUps.CreateFollowUp(ctx, task))
	future := &store.FollowUpTask{OrderID: "o2", AgentID: "a", Contact: "1", DueAt: now.Add(time.Hour)}
	require.NoError(t, s.FollowUps.CreateFollowUp(ctx, future))

	due, err := s.FollowUps.ListDueFollowUps(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, task.ID, due[0].ID)

	ok, err := s.FollowUps.ClaimFollowUp(ctx, task.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.FollowUps.ClaimFollowUp(ctx, task.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.FollowUps.ClaimFollowUp(ctx, "missing", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestContactsAndOrders(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	c := &store.Contact{AgentID: "a", Address: "521"}
	require.NoError(t, s.Contacts.UpsertContact(ctx, c))
	require.NoError(t, s.Contacts.UpdateLeadStatus(ctx, c.ID, store.LeadClosedWon))
	again := &store.Contact{AgentID: "a", Address: "521", Name: "Ana"}
	require.NoError(t, s.Contacts.UpsertContact(ctx, again))
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, store.LeadClosedWon, again.LeadStatus)

	o := &store.Order{AgentID: "a", Contact: "521", Amount: 1999, Currency: "MXN", Quantity: 1}
	require.NoError(t, s.Orders.CreateOrder(ctx, o))
	require.NoError(t, s.Orders.UpdateOrderStatus(ctx, o.ID, store.OrderPaid))
	got, err := s.Orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, store.OrderPaid, got.Status)
	assert.Equal(t, int64(1999), got.Amount)
}

func TestMessagesStatusAndHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)
	base := time.Now().Add(-time.Minute)
	for i, body := range []string{"hola", "quiero info", "gracias"} {
		m := &store.MessageRecord{AgentID: "a", Contact: "1", Direction: store.DirectionInbound, Type: "text",
			Body: body, Status: store.MessageReceived, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.Messages.SaveMessage(ctx, m))
	}
	out := &store.MessageRecord{AgentID: "a", Contact: "1", Direction: store.DirectionOutbound, Type: "text",
		Body: "¡Hola!", Status: store.MessageQueued, CreatedAt: base.Add(5 * time.Second)}
	require.NoError(t, s.Messages.SaveMessage(ctx, out))
	require.NoError(t, s.Messages.UpdateMessageStatus(ctx, out.ID, store.MessageSent, "wamid.1"))
	require.NoError(t, s.Messages.UpdateStatusByExternalID(ctx, "wamid.1", "read"))

	msgs, err := s.Messages.ListRecentMessages(ctx, "a", "1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "gracias", msgs[0].Body)
	assert.Equal(t, "wamid.1", msgs[1].ExternalID)
	assert.Equal(t, "read", msgs[1].Status)
}
