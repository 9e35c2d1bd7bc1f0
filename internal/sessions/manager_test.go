package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/internal/store/memstore"
)

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(memstore.New(), time.Hour)
	m.SetClock(func() time.Time { return now })
	return m, &now
}

func TestIsNewSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	k := Key{AgentID: "a", Contact: "521"}

	first, err := m.IsNewSession(ctx, k)
	require.NoError(t, err)
	second, err := m.IsNewSession(ctx, k)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, first, second)

	require.NoError(t, m.SaveSessionData(ctx, k, NewPayload()))
	first, _ = m.IsNewSession(ctx, k)
	second, _ = m.IsNewSession(ctx, k)
	assert.False(t, first)
	assert.Equal(t, first, second)
}

func TestIsNewSessionAfterInactivity(t *testing.T) {
	ctx := context.Background()
	m, now := newTestManager(t)
	k := Key{AgentID: "a", Contact: "521"}
	require.NoError(t, m.SaveSessionData(ctx, k, NewPayload()))

	*now = now.Add(59 * time.Minute)
	isNew, err := m.IsNewSession(ctx, k)
	require.NoError(t, err)
	assert.False(t, isNew)

	require.NoError(t, m.UpdateSession(ctx, k))
	*now = now.Add(61 * time.Minute)
	isNew, err = m.IsNewSession(ctx, k)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestRestart(t *testing.T) {
	stale := store.SessionPayload{State: "closing", MessageCount: 9, LastAgent: "closer", Extras: map[string]any{"product_id": "p1"}}
	assert.Equal(t, NewPayload(), Restart(stale))

	paying := store.SessionPayload{State: PaymentState, MessageCount: 9, LastAgent: "payment", LastConfidence: 1, Extras: map[string]any{"order_id": "o1"}}
	got := Restart(paying)
	assert.Equal(t, PaymentState, got.State)
	assert.Zero(t, got.MessageCount)
	assert.Empty(t, got.LastAgent)
	assert.Equal(t, "o1", got.Extras["order_id"])

	got.Extras["order_id"] = "changed"
	assert.Equal(t, "o1", paying.Extras["order_id"], "restart copies extras")
}

func TestGetSessionDataDefault(t *testing.T) {
	m, _ := newTestManager(t)
	p, err := m.GetSessionData(context.Background(), Key{AgentID: "a", Contact: "x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultState, p.State)
	assert.NotNil(t, p.Extras)
	assert.Empty(t, p.Extras)
}

func TestUpdateSessionKeepsPayload(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	k := Key{AgentID: "a", Contact: "x"}
	p := NewPayload()
	p.State = "payment"
	p.Extras["order_id"] = "o1"
	require.NoError(t, m.SaveSessionData(ctx, k, p))
	require.NoError(t, m.UpdateSession(ctx, k))

	got, err := m.GetSessionData(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "payment", got.State)
	assert.Equal(t, "o1", got.Extras["order_id"])
}

func TestSetState(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	k := Key{AgentID: "a", Contact: "x"}
	require.NoError(t, m.SetState(ctx, k, "follow_up"))
	got, err := m.GetSessionData(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "follow_up", got.State)
}

func TestKeyRoundTrip(t *testing.T) {
	k := Key{AgentID: "agent-1", Contact: "5215512345678"}
	assert.Equal(t, "agent:agent-1:whatsapp:direct:5215512345678", k.String())
	parsed, ok := ParseKey(k.String())
	require.True(t, ok)
	assert.Equal(t, k, parsed)

	_, ok = ParseKey("global")
	assert.False(t, ok)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("user-1")
			defer unlock()
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, km.Len())
}
