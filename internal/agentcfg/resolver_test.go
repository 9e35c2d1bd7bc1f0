package agentcfg

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/internal/store/memstore"
	"github.com/nextlevelbuilder/salesclaw/pkg/protocol"
)

func seed(t *testing.T) *memstore.Store {
	t.Helper()
	ms := memstore.New()
	require.NoError(t, ms.PutAgentConfig(context.Background(), &store.AgentConfig{
		ID: "a1", Name: "Tienda", ChannelAddress: "PN1", AutoReply: true,
	}))
	ms.AgentReads = 0
	return ms
}

func TestGetConfigCachesStoreRead(t *testing.T) {
	ms := seed(t)
	r := NewResolver(ms, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cfg, err := r.GetConfig(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "Tienda", cfg.Name)
	}
	assert.Equal(t, 1, ms.AgentReads)
}

func TestGetConfigByChannelAddress(t *testing.T) {
	ms := seed(t)
	r := NewResolver(ms, Options{})
	ctx := context.Background()

	cfg, err := r.GetConfigByChannelAddress(ctx, "PN1")
	require.NoError(t, err)
	assert.Equal(t, "a1", cfg.ID)

	_, err = r.GetConfigByChannelAddress(ctx, "PN1")
	require.NoError(t, err)
	_, err = r.GetConfig(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, ms.AgentReads, "address lookup warms the id tiers")
}

func TestUnknownAgent(t *testing.T) {
	r := NewResolver(seed(t), Options{})
	_, err := r.GetConfig(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	_, err = r.GetConfigByChannelAddress(context.Background(), "PN-missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestTiersExpire(t *testing.T) {
	ms := seed(t)
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	r := NewResolver(ms, Options{LocalTTL: time.Second, SharedTTL: time.Minute, Now: clock})
	ctx := context.Background()

	_, err := r.GetConfig(ctx, "a1")
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()
	_, err = r.GetConfig(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, ms.AgentReads, "shared tier still warm")

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	_, err = r.GetConfig(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, ms.AgentReads)
}

func TestInvalidateEvictsAddressChange(t *testing.T) {
	ms := seed(t)
	r := NewResolver(ms, Options{})
	ctx := context.Background()

	_, err := r.GetConfigByChannelAddress(ctx, "PN1")
	require.NoError(t, err)

	require.NoError(t, ms.PutAgentConfig(ctx, &store.AgentConfig{ID: "a1", Name: "Tienda", ChannelAddress: "PN2"}))
	r.Invalidate(ctx, "a1")

	_, err = r.GetConfigByChannelAddress(ctx, "PN1")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	cfg, err := r.GetConfigByChannelAddress(ctx, "PN2")
	require.NoError(t, err)
	assert.Equal(t, "a1", cfg.ID)
}

func TestInvalidateViaBus(t *testing.T) {
	ms := seed(t)
	r := NewResolver(ms, Options{})
	b := bus.New()
	r.Subscribe(b)
	ctx := context.Background()

	_, err := r.GetConfig(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, ms.PutAgentConfig(ctx, &store.AgentConfig{ID: "a1", Name: "Renamed", ChannelAddress: "PN1"}))

	b.Publish("", protocol.EventCacheInvalidate, bus.CacheInvalidatePayload{Kind: bus.CacheKindAgent, Key: "a1"})

	cfg, err := r.GetConfig(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", cfg.Name)
}

func TestConcurrentMissesCollapse(t *testing.T) {
	ms := seed(t)
	r := NewResolver(ms, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.GetConfig(context.Background(), "a1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, ms.AgentReads, 20)
	assert.GreaterOrEqual(t, ms.AgentReads, 1)
}

func TestReturnedConfigIsACopy(t *testing.T) {
	r := NewResolver(seed(t), Options{})
	cfg, err := r.GetConfig(context.Background(), "a1")
	require.NoError(t, err)
	cfg.Name = "mutated"

	again, err := r.GetConfig(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Tienda", again.Name)
}
