// Package agentcfg resolves per-tenant agent configuration through two cache
// tiers in front of the agent store.
package agentcfg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/cache"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/pkg/protocol"
)

// ErrAgentNotFound is returned when no agent matches the id or channel address.
var ErrAgentNotFound = errors.New("agent not found")

const subscriberID = "agentcfg-resolver"

// Options tunes the resolver tiers.
type Options struct {
	LocalTTL   time.Duration
	SharedTTL  time.Duration
	MaxEntries int
	Now        func() time.Time
}

// Resolver looks up agent configs: local tier, then shared tier, then store.
// Concurrent misses for the same key share one store read.
type Resolver struct {
	store  store.AgentConfigStore
	local  *cache.Cache[store.AgentConfig]
	shared *cache.Cache[store.AgentConfig]
	addrs  *cache.Cache[string] // channel address -> agent id
	group  singleflight.Group
}

// NewResolver creates a resolver over s.
func NewResolver(s store.AgentConfigStore, opts Options) *Resolver {
	if opts.LocalTTL <= 0 {
		opts.LocalTTL = 30 * time.Second
	}
	if opts.SharedTTL <= 0 {
		opts.SharedTTL = 5 * time.Minute
	}
	return &Resolver{
		store:  s,
		local:  cache.New[store.AgentConfig](cache.Options{DefaultTTL: opts.LocalTTL, MaxEntries: opts.MaxEntries, Now: opts.Now}),
		shared: cache.New[store.AgentConfig](cache.Options{DefaultTTL: opts.SharedTTL, MaxEntries: opts.MaxEntries, Now: opts.Now}),
		addrs:  cache.New[string](cache.Options{DefaultTTL: opts.SharedTTL, MaxEntries: opts.MaxEntries, Now: opts.Now}),
	}
}

// GetConfig returns the config for agentID. The result is a copy.
func (r *Resolver) GetConfig(ctx context.Context, agentID string) (*store.AgentConfig, error) {
	if cfg, ok := r.local.Get(agentID); ok {
		return &cfg, nil
	}
	if cfg, ok := r.shared.Get(agentID); ok {
		r.local.Set(agentID, cfg, 0)
		return &cfg, nil
	}

	v, err, _ := r.group.Do("id:"+agentID, func() (interface{}, error) {
		return r.store.GetAgentConfig(ctx, agentID)
	})
	if err != nil {
		return nil, r.wrap(err, "agent "+agentID)
	}
	cfg := *v.(*store.AgentConfig)
	r.fill(cfg)
	return &cfg, nil
}

// GetConfigByChannelAddress returns the agent whose WhatsApp number id is address.
func (r *Resolver) GetConfigByChannelAddress(ctx context.Context, address string) (*store.AgentConfig, error) {
	if id, ok := r.addrs.Get(address); ok {
		cfg, err := r.GetConfig(ctx, id)
		if err == nil && cfg.ChannelAddress == address {
			return cfg, nil
		}
		// The agent moved numbers or vanished; forget the mapping and look it up again.
		r.addrs.Delete(address)
	}

	v, err, _ := r.group.Do("addr:"+address, func() (interface{}, error) {
		return r.store.GetAgentConfigByAddress(ctx, address)
	})
	if err != nil {
		return nil, r.wrap(err, "address "+address)
	}
	cfg := *v.(*store.AgentConfig)
	r.fill(cfg)
	return &cfg, nil
}

// Invalidate drops agentID from both tiers along with its address mapping.
// The mapping is derived from the cached copy and a fresh store read, so an
// address change is evicted on both the old and the new number.
func (r *Resolver) Invalidate(ctx context.Context, agentID string) {
	if cfg, ok := r.shared.Get(agentID); ok {
		r.addrs.Delete(cfg.ChannelAddress)
	}
	if cfg, ok := r.local.Get(agentID); ok {
		r.addrs.Delete(cfg.ChannelAddress)
	}
	r.local.Delete(agentID)
	r.shared.Delete(agentID)

	fresh, err := r.store.GetAgentConfig(ctx, agentID)
	switch {
	case err == nil:
		r.addrs.Delete(fresh.ChannelAddress)
	case errors.Is(err, store.ErrNotFound):
	default:
		slog.Warn("agentcfg: fresh read during invalidation failed", "agent_id", agentID, "error", err)
	}
	slog.Debug("agentcfg: invalidated", "agent_id", agentID)
}

// InvalidateAll empties every tier.
func (r *Resolver) InvalidateAll() {
	r.local.Clear()
	r.shared.Clear()
	r.addrs.Clear()
}

// Subscribe listens for cache.invalidate events of kind agent.
func (r *Resolver) Subscribe(events bus.EventPublisher) {
	events.Subscribe(subscriberID, func(e bus.Event) {
		if e.Name != protocol.EventCacheInvalidate {
			return
		}
		p, ok := e.Payload.(bus.CacheInvalidatePayload)
		if !ok || p.Kind != bus.CacheKindAgent {
			return
		}
		if p.Key == "" {
			r.InvalidateAll()
			return
		}
		r.Invalidate(context.Background(), p.Key)
	})
}

// Run purges expired entries from every tier until ctx is cancelled.
func (r *Resolver) Run(ctx context.Context) {
	go r.local.Run(ctx)
	go r.addrs.Run(ctx)
	r.shared.Run(ctx)
}

func (r *Resolver) fill(cfg store.AgentConfig) {
	r.shared.Set(cfg.ID, cfg, 0)
	r.local.Set(cfg.ID, cfg, 0)
	if cfg.ChannelAddress != "" {
		r.addrs.Set(cfg.ChannelAddress, cfg.ID, 0)
	}
}

func (r *Resolver) wrap(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrAgentNotFound)
	}
	return fmt.Errorf("load agent config (%s): %w", what, err)
}
