// Package agents holds the task handlers that act on a conversation outside
// the inbound reply path: payment confirmation, scheduled follow-ups and
// catalog checks.
package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/pkg/protocol"
)

// Gateway sends one text message and returns the channel delivery id.
type Gateway interface {
	SendText(ctx context.Context, from whatsapp.Sender, to, body string) (string, error)
}

// ConfigSource resolves agent configuration by id.
type ConfigSource interface {
	GetConfig(ctx context.Context, agentID string) (*store.AgentConfig, error)
}

// SenderFor returns the WhatsApp credentials an agent sends with.
func SenderFor(cfg *store.AgentConfig) whatsapp.Sender {
	return whatsapp.Sender{PhoneNumberID: cfg.ChannelAddress, AccessToken: cfg.AccessToken}
}

// Outbox sends a message straight through the gateway, bypassing the delivery
// queue, and records the outcome.
type Outbox struct {
	gw       Gateway
	messages store.MessageStore
	events   bus.EventPublisher
}

// NewOutbox creates an outbox. messages and events may be nil.
func NewOutbox(gw Gateway, messages store.MessageStore, events bus.EventPublisher) *Outbox {
	return &Outbox{gw: gw, messages: messages, events: events}
}

// SendDirect sends body to the contact and persists an outbound record with
// the resulting status. The send error, if any, is returned.
func (o *Outbox) SendDirect(ctx context.Context, cfg *store.AgentConfig, to, body string) (string, error) {
	deliveryID, sendErr := o.gw.SendText(ctx, SenderFor(cfg), to, body)

	rec := &store.MessageRecord{
		AgentID:    cfg.ID,
		Contact:    to,
		Direction:  store.DirectionOutbound,
		Type:       "text",
		Body:       body,
		ExternalID: deliveryID,
		Status:     store.MessageSent,
		CreatedAt:  time.Now(),
	}
	if sendErr != nil {
		rec.Status = store.MessageFailed
	}
	if o.messages != nil {
		if err := o.messages.SaveMessage(ctx, rec); err != nil {
			slog.Warn("agents: persist outbound message", "agent_id", cfg.ID, "error", err)
		}
	}
	if o.events != nil {
		channel := bus.AgentChannel(cfg.ID)
		o.events.Broadcast(bus.Event{Channel: channel, Name: protocol.EventMessageNew, Payload: bus.MessageEvent{
			MessageID: rec.ID,
			AgentID:   cfg.ID,
			Contact:   to,
			Direction: store.DirectionOutbound,
			Type:      rec.Type,
			Body:      body,
			Timestamp: rec.CreatedAt.Unix(),
		}})
		status := bus.DeliveryStatusEvent{MessageID: rec.ID, DeliveryID: deliveryID, AgentID: cfg.ID, To: to, Status: protocol.DeliverySent, Attempts: 1}
		if sendErr != nil {
			status.Status = protocol.DeliveryFailed
			status.Error = sendErr.Error()
		}
		o.events.Broadcast(bus.Event{Channel: channel, Name: protocol.EventDeliveryStatus, Payload: status})
	}
	return deliveryID, sendErr
}
