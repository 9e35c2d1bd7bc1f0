// Package inbound is the entry point for customer messages: it resolves the
// tenant, records the message and produces, queues and remembers the reply.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/salesclaw/internal/agents"
	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/cache"
	"github.com/nextlevelbuilder/salesclaw/internal/channels"
	"github.com/nextlevelbuilder/salesclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/salesclaw/internal/delivery"
	"github.com/nextlevelbuilder/salesclaw/internal/orchestrator"
	"github.com/nextlevelbuilder/salesclaw/internal/router"
	"github.com/nextlevelbuilder/salesclaw/internal/sessions"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/pkg/protocol"
)

// ApologyMessage is sent when a reply could not be produced.
const ApologyMessage = "Lo sentimos, tuvimos un problema procesando tu mensaje. Por favor intenta de nuevo en unos minutos."

const (
	defaultHistoryTurns = 6
	messageTypeText     = "text"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/salesclaw/internal/inbound")

// ConfigResolver maps a tenant WhatsApp number to its agent.
type ConfigResolver interface {
	GetConfigByChannelAddress(ctx context.Context, address string) (*store.AgentConfig, error)
}

// ReadMarker flips the read receipt on an inbound message.
type ReadMarker interface {
	MarkRead(ctx context.Context, from whatsapp.Sender, messageID string) error
}

// Replier produces the reply for a routed message.
type Replier interface {
	Reply(ctx context.Context, cfg *store.AgentConfig, rc router.RoutingContext) (*orchestrator.Reply, error)
}

// Enqueuer accepts outbound messages for delivery.
type Enqueuer interface {
	Enqueue(t delivery.Task) error
}

// Deps are the collaborators of the handler.
type Deps struct {
	Configs  ConfigResolver
	Reader   ReadMarker // may be nil
	Messages store.MessageStore
	Contacts store.ContactStore
	Sessions *sessions.Manager
	Locks    *sessions.KeyedMutex
	Replier  Replier
	Queue    Enqueuer
	Outbox   *agents.Outbox
	Events   bus.EventPublisher // may be nil
	Dedup    *cache.Cache[struct{}]
	Replies  *cache.Cache[string]
}

// Options tunes the handler.
type Options struct {
	HistoryTurns int
	ReplyTTL     time.Duration
	DedupTTL     time.Duration
	Now          func() time.Time
}

// Handler processes inbound WhatsApp messages. HandleIncoming is safe for
// concurrent use; messages from one customer are serialized.
type Handler struct {
	d    Deps
	opts Options

	semMu sync.Mutex
	sems  map[string]*agentSem
}

type agentSem struct {
	limit int
	sem   *semaphore.Weighted
}

func New(d Deps, opts Options) *Handler {
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = defaultHistoryTurns
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if d.Locks == nil {
		d.Locks = sessions.NewKeyedMutex()
	}
	return &Handler{d: d, opts: opts, sems: make(map[string]*agentSem)}
}

// HandleIncoming processes one message. It has no return value: every failure
// is logged, and failures after the message was accepted for a reply send an
// apology instead.
func (h *Handler) HandleIncoming(ctx context.Context, msg whatsapp.InboundMessage) {
	start := h.opts.Now()
	ctx, span := tracer.Start(ctx, "inbound.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("whatsapp.recipient", msg.RecipientAddress),
		attribute.String("whatsapp.type", msg.Type),
	)

	cfg, err := h.d.Configs.GetConfigByChannelAddress(ctx, msg.RecipientAddress)
	if err != nil {
		span.SetStatus(codes.Error, "agent not resolved")
		slog.Warn("inbound: no agent for recipient", "recipient", msg.RecipientAddress, "message_id", msg.MessageID, "error", err)
		return
	}
	span.SetAttributes(attribute.String("agent.id", cfg.ID))

	if msg.MessageID != "" && h.d.Dedup != nil && !h.d.Dedup.Add(msg.MessageID, struct{}{}, h.opts.DedupTTL) {
		slog.Debug("inbound: duplicate message dropped", "agent_id", cfg.ID, "message_id", msg.MessageID)
		return
	}
	if h.d.Reader != nil && msg.MessageID != "" {
		if err := h.d.Reader.MarkRead(ctx, agents.SenderFor(cfg), msg.MessageID); err != nil {
			slog.Warn("inbound: mark read", "agent_id", cfg.ID, "message_id", msg.MessageID, "error", err)
		}
	}

	inboundID := h.record(ctx, cfg, msg)

	if !cfg.AutoReply {
		slog.Debug("inbound: auto-reply disabled", "agent_id", cfg.ID)
		return
	}
	if cfg.OutOfHoursMessage != "" && !cfg.WithinBusinessHours(start) {
		slog.Info("inbound: outside business hours", "agent_id", cfg.ID, "contact", msg.SenderAddress)
		if err := h.enqueueReply(ctx, cfg, msg.SenderAddress, cfg.OutOfHoursMessage); err != nil {
			slog.Error("inbound: queue out-of-hours message", "agent_id", cfg.ID, "error", err)
		}
		return
	}

	if msg.Body != "" && h.d.Replies != nil {
		if text, ok := h.d.Replies.Get(replyKey(cfg.ID, msg.Body)); ok {
			span.SetAttributes(attribute.Bool("reply.cached", true))
			if _, err := h.d.Outbox.SendDirect(ctx, cfg, msg.SenderAddress, text); err != nil {
				slog.Error("inbound: send cached reply", "agent_id", cfg.ID, "contact", msg.SenderAddress, "error", err)
			}
			return
		}
	}

	if msg.Type != messageTypeText {
		slog.Info("inbound: unhandled message type", "agent_id", cfg.ID, "type", msg.Type, "message_id", msg.MessageID)
		return
	}

	if err := h.reply(ctx, cfg, msg, inboundID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reply failed")
		slog.Error("inbound: reply failed, sending apology", "agent_id", cfg.ID, "contact", msg.SenderAddress, "error", err)
		if _, err := h.d.Outbox.SendDirect(context.WithoutCancel(ctx), cfg, msg.SenderAddress, ApologyMessage); err != nil {
			slog.Error("inbound: send apology", "agent_id", cfg.ID, "contact", msg.SenderAddress, "error", err)
		}
		return
	}

	if target := cfg.ResponseTimeTarget(); target > 0 {
		if elapsed := h.opts.Now().Sub(start); elapsed > target {
			slog.Warn("inbound: response time target exceeded", "agent_id", cfg.ID, "elapsed", elapsed, "target", target)
		}
	}
}

// record persists the inbound message, upserts the contact and broadcasts it.
// Failures are logged; the reply still goes out.
func (h *Handler) record(ctx context.Context, cfg *store.AgentConfig, msg whatsapp.InboundMessage) string {
	ts := time.Unix(msg.Timestamp, 0)
	if msg.Timestamp == 0 {
		ts = h.opts.Now()
	}
	rec := &store.MessageRecord{
		AgentID:    cfg.ID,
		Contact:    msg.SenderAddress,
		Direction:  store.DirectionInbound,
		Type:       msg.Type,
		Body:       msg.Body,
		ExternalID: msg.MessageID,
		Status:     store.MessageReceived,
		CreatedAt:  ts,
	}
	if err := h.d.Messages.SaveMessage(ctx, rec); err != nil {
		slog.Warn("inbound: persist message", "agent_id", cfg.ID, "message_id", msg.MessageID, "error", err)
	}
	if err := h.d.Contacts.UpsertContact(ctx, &store.Contact{AgentID: cfg.ID, Address: msg.SenderAddress, Name: msg.SenderName}); err != nil {
		slog.Warn("inbound: upsert contact", "agent_id", cfg.ID, "contact", msg.SenderAddress, "error", err)
	}
	h.publish(cfg.ID, protocol.EventMessageNew, bus.MessageEvent{
		MessageID: rec.ID,
		AgentID:   cfg.ID,
		Contact:   msg.SenderAddress,
		Direction: store.DirectionInbound,
		Type:      msg.Type,
		Body:      msg.Body,
		Timestamp: ts.Unix(),
	})
	slog.Debug("inbound: message received", "agent_id", cfg.ID, "contact", msg.SenderAddress,
		"type", msg.Type, "preview", channels.Truncate(msg.Body, 60))
	return rec.ID
}

func (h *Handler) reply(ctx context.Context, cfg *store.AgentConfig, msg whatsapp.InboundMessage, inboundID string) error {
	key := sessions.Key{AgentID: cfg.ID, Contact: msg.SenderAddress}
	unlock := h.d.Locks.Lock(key.String())
	defer unlock()

	release, err := h.acquire(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wait for agent capacity: %w", err)
	}
	defer release()

	isNew, err := h.d.Sessions.IsNewSession(ctx, key)
	if err != nil {
		return err
	}
	payload, err := h.d.Sessions.GetSessionData(ctx, key)
	if err != nil {
		return err
	}
	var history []router.Turn
	if isNew {
		payload = sessions.Restart(payload)
	} else if history, err = h.history(ctx, cfg.ID, msg.SenderAddress, inboundID); err != nil {
		return err
	}
	payload = payload.Clone()
	payload.MessageCount++

	rc := router.RoutingContext{
		AgentID:      cfg.ID,
		Message:      msg.Body,
		CurrentState: router.State(payload.State),
		History:      history,
		Payload:      payload,
		MessageCount: payload.MessageCount,
	}
	rep, err := h.d.Replier.Reply(ctx, cfg, rc)
	if err != nil {
		return err
	}

	if h.d.Replies != nil {
		h.d.Replies.Set(replyKey(cfg.ID, msg.Body), rep.Text, h.opts.ReplyTTL)
	}
	if err := h.enqueueReply(ctx, cfg, msg.SenderAddress, rep.Text); err != nil {
		return err
	}

	payload.State = string(rep.Route.State)
	payload.LastAgent = string(rep.Route.Agent)
	payload.LastConfidence = rep.Route.Confidence
	if err := h.d.Sessions.SaveSessionData(ctx, key, payload); err != nil {
		return err
	}
	h.publish(cfg.ID, protocol.EventSessionState, bus.SessionStateEvent{
		AgentID:    cfg.ID,
		Contact:    msg.SenderAddress,
		State:      payload.State,
		Agent:      payload.LastAgent,
		Confidence: payload.LastConfidence,
		Reason:     rep.Route.Reason,
	})
	return nil
}

// enqueueReply persists an outbound record and hands it to the delivery queue.
func (h *Handler) enqueueReply(ctx context.Context, cfg *store.AgentConfig, to, body string) error {
	rec := &store.MessageRecord{
		AgentID:   cfg.ID,
		Contact:   to,
		Direction: store.DirectionOutbound,
		Type:      messageTypeText,
		Body:      body,
		Status:    store.MessageQueued,
		CreatedAt: h.opts.Now(),
	}
	if err := h.d.Messages.SaveMessage(ctx, rec); err != nil {
		return fmt.Errorf("persist reply: %w", err)
	}
	if err := h.d.Queue.Enqueue(delivery.Task{
		MessageID: rec.ID,
		AgentID:   cfg.ID,
		Sender:    agents.SenderFor(cfg),
		To:        to,
		Body:      body,
	}); err != nil {
		return fmt.Errorf("enqueue reply: %w", err)
	}
	h.publish(cfg.ID, protocol.EventMessageNew, bus.MessageEvent{
		MessageID: rec.ID,
		AgentID:   cfg.ID,
		Contact:   to,
		Direction: store.DirectionOutbound,
		Type:      messageTypeText,
		Body:      body,
		Timestamp: rec.CreatedAt.Unix(),
	})
	return nil
}

// history returns the recent conversation, oldest first, without the message being answered.
func (h *Handler) history(ctx context.Context, agentID, contact, skipID string) ([]router.Turn, error) {
	recs, err := h.d.Messages.ListRecentMessages(ctx, agentID, contact, h.opts.HistoryTurns+1)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]router.Turn, 0, len(recs))
	for _, m := range recs {
		if m.ID == skipID || m.Body == "" {
			continue
		}
		role := "user"
		if m.Direction == store.DirectionOutbound {
			role = "assistant"
		}
		turns = append(turns, router.Turn{Role: role, Text: m.Body})
	}
	if len(turns) > h.opts.HistoryTurns {
		turns = turns[len(turns)-h.opts.HistoryTurns:]
	}
	return turns, nil
}

// acquire takes a slot of the agent's concurrency cap. A cap of 0 is unlimited.
func (h *Handler) acquire(ctx context.Context, cfg *store.AgentConfig) (func(), error) {
	if cfg.MaxConcurrent <= 0 {
		return func() {}, nil
	}
	h.semMu.Lock()
	s, ok := h.sems[cfg.ID]
	if !ok || s.limit != cfg.MaxConcurrent {
		s = &agentSem{limit: cfg.MaxConcurrent, sem: semaphore.NewWeighted(int64(cfg.MaxConcurrent))}
		h.sems[cfg.ID] = s
	}
	h.semMu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.sem.Release(1) }, nil
}

// HandleStatus applies a delivery receipt from the webhook.
func (h *Handler) HandleStatus(ctx context.Context, st whatsapp.StatusUpdate) {
	status := st.Status
	switch status {
	case protocol.DeliverySent, protocol.DeliveryDelivered, protocol.DeliveryRead, protocol.DeliveryFailed:
	default:
		slog.Debug("inbound: ignoring delivery status", "status", status, "delivery_id", st.DeliveryID)
		return
	}
	if err := h.d.Messages.UpdateStatusByExternalID(ctx, st.DeliveryID, status); err != nil {
		slog.Warn("inbound: apply delivery status", "delivery_id", st.DeliveryID, "error", err)
	}

	cfg, err := h.d.Configs.GetConfigByChannelAddress(ctx, st.RecipientAddress)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Debug("inbound: status for unknown agent", "recipient", st.RecipientAddress, "error", err)
		}
		return
	}
	h.publish(cfg.ID, protocol.EventDeliveryStatus, bus.DeliveryStatusEvent{
		DeliveryID: st.DeliveryID,
		AgentID:    cfg.ID,
		To:         st.Contact,
		Status:     status,
		Error:      st.Error,
	})
}

func (h *Handler) publish(agentID, name string, payload interface{}) {
	if h.d.Events == nil {
		return
	}
	h.d.Events.Broadcast(bus.Event{Channel: bus.AgentChannel(agentID), Name: name, Payload: payload})
}

func replyKey(agentID, text string) string { return agentID + "\x00" + text }

// Subscribe drops memoized replies whenever agent config or routing rules
// change, since either can change what the reply should have been.
func (h *Handler) Subscribe(events bus.EventPublisher) {
	if h.d.Replies == nil {
		return
	}
	events.Subscribe("inbound-replies", func(e bus.Event) {
		if e.Name != protocol.EventCacheInvalidate {
			return
		}
		p, ok := e.Payload.(bus.CacheInvalidatePayload)
		if !ok {
			return
		}
		switch p.Kind {
		case bus.CacheKindAgent, bus.CacheKindRouter, bus.CacheKindReply:
			n := h.d.Replies.Len()
			h.d.Replies.Clear()
			slog.Debug("inbound: reply cache cleared", "kind", p.Kind, "key", p.Key, "entries", n)
		}
	})
}
