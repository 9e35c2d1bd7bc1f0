package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

func TestSessionPutIsFullOverwrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	require.NoError(t, s.PutSession(ctx, &store.SessionRecord{
		Key: "k", LastActive: now,
		Payload: store.SessionPayload{State: "qualifying", Extras: map[string]any{"a": "1"}},
	}))
	require.NoError(t, s.PutSession(ctx, &store.SessionRecord{
		Key: "k", LastActive: now,
		Payload: store.SessionPayload{State: "closing", Extras: map[string]any{}},
	}))

	rec, err := s.GetSession(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "closing", rec.Payload.State)
	assert.Empty(t, rec.Payload.Extras)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestContactUpsertKeepsLeadStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := &store.Contact{AgentID: "a1", Address: "521"}
	require.NoError(t, s.UpsertContact(ctx, c))
	require.NoError(t, s.UpdateLeadStatus(ctx, c.ID, store.LeadClosedWon))

	again := &store.Contact{AgentID: "a1", Address: "521", Name: "Ana"}
	require.NoError(t, s.UpsertContact(ctx, again))
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, store.LeadClosedWon, again.LeadStatus)
	assert.Equal(t, "Ana", again.Name)
}

func TestFollowUpClaimOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	task := &store.FollowUpTask{OrderID: "o1", DueAt: now.Add(-time.Minute)}
	require.NoError(t, s.CreateFollowUp(ctx, task))

	due, err := s.ListDueFollowUps(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	ok, err := s.ClaimFollowUp(ctx, task.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimFollowUp(ctx, task.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	// lease expiry makes it claimable again
	ok, err = s.ClaimFollowUp(ctx, task.ID, now.Add(store.FollowUpLease+time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.CompleteFollowUp(ctx, task.ID, store.FollowUpDone))
	due, err = s.ListDueFollowUps(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestListRecentMessagesOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, body := range []string{"one", "two", "three"} {
		require.NoError(t, s.SaveMessage(ctx, &store.MessageRecord{AgentID: "a", Contact: "c", Body: body}))
	}
	require.NoError(t, s.SaveMessage(ctx, &store.MessageRecord{AgentID: "a", Contact: "other", Body: "x"}))

	msgs, err := s.ListRecentMessages(ctx, "a", "c", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Body)
	assert.Equal(t, "three", msgs[1].Body)
}
