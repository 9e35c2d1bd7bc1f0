package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/salesclaw/internal/agentcfg"
	"github.com/nextlevelbuilder/salesclaw/internal/agents"
	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/cache"
	"github.com/nextlevelbuilder/salesclaw/internal/channels"
	"github.com/nextlevelbuilder/salesclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/salesclaw/internal/config"
	"github.com/nextlevelbuilder/salesclaw/internal/delivery"
	"github.com/nextlevelbuilder/salesclaw/internal/gateway"
	httpapi "github.com/nextlevelbuilder/salesclaw/internal/http"
	"github.com/nextlevelbuilder/salesclaw/internal/inbound"
	"github.com/nextlevelbuilder/salesclaw/internal/orchestrator"
	"github.com/nextlevelbuilder/salesclaw/internal/providers"
	"github.com/nextlevelbuilder/salesclaw/internal/router"
	"github.com/nextlevelbuilder/salesclaw/internal/sessions"
	"github.com/nextlevelbuilder/salesclaw/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, delivery queue and event gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "path", resolveConfigPath(), "hash", cfg.Hash(), "driver", cfg.Database.Driver)

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	msgBus := bus.New()

	// Agent config: resolver tiers, invalidated over the bus by the admin API.
	resolver := agentcfg.NewResolver(stores.Agents, agentcfg.Options{
		LocalTTL:   cfg.Cache.LocalTTL(),
		SharedTTL:  cfg.Cache.AgentConfigTTL(),
		MaxEntries: cfg.Cache.MaxEntries,
	})
	resolver.Subscribe(msgBus)

	// Router: builtin rules, optional hot-reloaded keyword file, model fallback.
	registry := router.NewRegistry(router.BuiltinRules()...)
	var watcher *router.RulesWatcher
	if cfg.Router.RulesFile != "" {
		watcher = router.NewRulesWatcher(cfg.Router.RulesFile, registry)
		if err := watcher.Load(); err != nil {
			return err
		}
	}
	oa := cfg.Providers.OpenAI
	if oa.APIKey == "" {
		slog.Warn("no OpenAI API key configured; replies and classification will fail")
	}
	provider := providers.NewOpenAIProvider("openai", oa.APIKey, oa.APIBase, oa.Model, time.Duration(oa.TimeoutSec)*time.Second)
	rt := router.New(registry,
		router.NewLLMClassifier(provider, cfg.Router.ClassifierModel),
		router.WithThreshold(cfg.Router.ConfidenceThreshold),
	)
	orch := orchestrator.New(rt, provider, agents.NewProductValidator(stores.Products), orchestrator.Options{
		Model:       oa.Model,
		Temperature: oa.Temperature,
		MaxTokens:   oa.MaxTokens,
	})

	// Delivery: Cloud API client, retrying queue, direct outbox.
	wa := whatsapp.NewClient(cfg.Channels.WhatsApp)
	queue := delivery.New(wa, stores.Messages, msgBus, delivery.Options{
		MaxRetries: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay(),
	})
	outbox := agents.NewOutbox(wa, stores.Messages, msgBus)

	sessMgr := sessions.NewManager(stores.Sessions, cfg.Sessions.InactivityTimeout())
	locks := sessions.NewKeyedMutex()

	followUps := agents.NewFollowUps(agents.FollowUpDeps{
		Tasks:    stores.FollowUps,
		Orders:   stores.Orders,
		Configs:  resolver,
		Sessions: sessMgr,
		Locks:    locks,
		Outbox:   outbox,
		Events:   msgBus,
	}, agents.FollowUpOptions{
		Delay:    time.Duration(cfg.FollowUp.DelayMin) * time.Minute,
		Message:  cfg.FollowUp.Message,
		Schedule: cfg.FollowUp.SweepSchedule,
	})
	confirmation := agents.NewConfirmation(agents.ConfirmationDeps{
		Orders:    stores.Orders,
		Contacts:  stores.Contacts,
		Configs:   resolver,
		Sessions:  sessMgr,
		Locks:     locks,
		Outbox:    outbox,
		FollowUps: followUps,
		Events:    msgBus,
	})

	cacheOpts := cache.Options{MaxEntries: cfg.Cache.MaxEntries, SweepInterval: cfg.Cache.SweepInterval()}
	dedup := cache.New[struct{}](cacheOpts)
	replies := cache.New[string](cacheOpts)

	handler := inbound.New(inbound.Deps{
		Configs:  resolver,
		Reader:   wa,
		Messages: stores.Messages,
		Contacts: stores.Contacts,
		Sessions: sessMgr,
		Locks:    locks,
		Replier:  orch,
		Queue:    queue,
		Outbox:   outbox,
		Events:   msgBus,
		Dedup:    dedup,
		Replies:  replies,
	}, inbound.Options{
		HistoryTurns: cfg.Router.HistoryTurns,
		ReplyTTL:     cfg.Cache.ReplyTTL(),
		DedupTTL:     cfg.Cache.DedupTTL(),
	})
	handler.Subscribe(msgBus)

	var limiter *channels.WebhookRateLimiter
	if cfg.Gateway.RateLimitRPM > 0 {
		limiter = channels.NewWebhookRateLimiter(cfg.Gateway.RateLimitRPM)
	}
	webhook := whatsapp.NewWebhook(cfg.Channels.WhatsApp, handler, handler, limiter)
	webhook.Start(ctx)

	token := cfg.Gateway.Token
	if token == "" {
		slog.Warn("SALESCLAW_GATEWAY_TOKEN is empty; admin API and event stream are unauthenticated")
	}
	server := gateway.NewServer(cfg.Gateway, msgBus,
		webhook,
		httpapi.NewAgentsHandler(stores.Agents, token, msgBus),
		httpapi.NewPaymentsHandler(confirmation, token),
		httpapi.NewCatalogHandler(httpapi.CatalogDeps{
			Agents:   stores.Agents,
			Products: stores.Products,
			Orders:   stores.Orders,
			Sessions: sessMgr,
			Locks:    locks,
		}, token),
		httpapi.NewRulesHandler(registry, token, msgBus),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		if err := queue.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return followUps.Run(gctx) })
	g.Go(func() error { resolver.Run(gctx); return nil })
	g.Go(func() error { dedup.Run(gctx); return nil })
	g.Go(func() error { replies.Run(gctx); return nil })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	slog.Info("salesclaw started", "version", Version, "addr", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))
	err = g.Wait()
	webhook.Wait()
	slog.Info("salesclaw stopped")
	return err
}
