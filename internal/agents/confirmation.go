package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/router"
	"github.com/nextlevelbuilder/salesclaw/internal/sessions"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/pkg/protocol"
)

// ErrOrderNotFound is returned when a payment event references an unknown order.
var ErrOrderNotFound = errors.New("order not found")

// Payment outcomes derived from the provider status.
const (
	PaymentApproved = "approved"
	PaymentFailed   = "failed"
	PaymentOther    = "other"
)

var failedStatuses = map[string]bool{
	"DECLINED": true,
	"REJECTED": true,
	"FAILED":   true,
	"ERROR":    true,
}

// ClassifyPayment maps a provider status to approved, failed or other.
func ClassifyPayment(status string) string {
	s := strings.ToUpper(strings.TrimSpace(status))
	switch {
	case s == "APPROVED":
		return PaymentApproved
	case failedStatuses[s]:
		return PaymentFailed
	}
	return PaymentOther
}

// PaymentEvent is a payment-provider notification for one order.
type PaymentEvent struct {
	OrderID   string `json:"order_id" validate:"required"`
	Status    string `json:"status" validate:"required"`
	Reference string `json:"reference,omitempty"`
}

// ConfirmationResult summarizes what Handle did.
type ConfirmationResult struct {
	OrderID    string `json:"order_id"`
	Outcome    string `json:"outcome"`
	State      string `json:"state,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Delivered  bool   `json:"delivered"`
	FollowUpID string `json:"follow_up_id,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"` // approval for an order already paid; nothing was done
}

// FollowUpScheduler schedules the post-purchase re-engagement message.
type FollowUpScheduler interface {
	Schedule(ctx context.Context, order *store.Order) (*store.FollowUpTask, error)
}

// Confirmation reacts to payment events: it notifies the customer, moves the
// conversation forward and, on approval, schedules a follow-up.
type Confirmation struct {
	orders    store.OrderStore
	contacts  store.ContactStore
	configs   ConfigSource
	sessions  *sessions.Manager
	locks     *sessions.KeyedMutex
	outbox    *Outbox
	followUps FollowUpScheduler
	events    bus.EventPublisher
}

// ConfirmationDeps are the collaborators of a Confirmation agent.
type ConfirmationDeps struct {
	Orders    store.OrderStore
	Contacts  store.ContactStore
	Configs   ConfigSource
	Sessions  *sessions.Manager
	Locks     *sessions.KeyedMutex // shared with the inbound handler; may be nil
	Outbox    *Outbox
	FollowUps FollowUpScheduler
	Events    bus.EventPublisher // may be nil
}

func NewConfirmation(d ConfirmationDeps) *Confirmation {
	return &Confirmation{
		orders:    d.Orders,
		contacts:  d.Contacts,
		configs:   d.Configs,
		sessions:  d.Sessions,
		locks:     d.Locks,
		outbox:    d.Outbox,
		followUps: d.FollowUps,
		events:    d.Events,
	}
}

// Handle processes one payment event. A failed send is logged and reported in
// the result; lookup and store failures are returned as errors.
func (c *Confirmation) Handle(ctx context.Context, ev PaymentEvent) (*ConfirmationResult, error) {
	order, err := c.orders.GetOrder(ctx, ev.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("order %s: %w", ev.OrderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	cfg, err := c.configs.GetConfig(ctx, order.AgentID)
	if err != nil {
		return nil, fmt.Errorf("resolve agent for order %s: %w", order.ID, err)
	}

	outcome := ClassifyPayment(ev.Status)
	res := &ConfirmationResult{OrderID: order.ID, Outcome: outcome}
	if outcome == PaymentApproved && order.Status == store.OrderPaid {
		slog.Info("confirmation: order already paid, ignoring repeated approval", "order_id", order.ID, "agent_id", cfg.ID)
		res.Duplicate = true
		return res, nil
	}
	slog.Info("confirmation: payment event", "order_id", order.ID, "agent_id", cfg.ID, "status", ev.Status, "outcome", outcome)

	switch outcome {
	case PaymentApproved:
		if err := c.orders.UpdateOrderStatus(ctx, order.ID, store.OrderPaid); err != nil {
			return nil, fmt.Errorf("mark order paid: %w", err)
		}
		c.closeLead(ctx, cfg.ID, order.Contact)
	case PaymentFailed:
		if err := c.orders.UpdateOrderStatus(ctx, order.ID, store.OrderFailed); err != nil {
			return nil, fmt.Errorf("mark order failed: %w", err)
		}
	}

	body := confirmationMessage(outcome, order, cfg, ev.Status)
	deliveryID, sendErr := c.outbox.SendDirect(ctx, cfg, order.Contact, body)
	if sendErr != nil {
		slog.Error("confirmation: send failed", "order_id", order.ID, "contact", order.Contact, "error", sendErr)
	} else {
		res.Delivered = true
		res.DeliveryID = deliveryID
	}

	var next router.State
	switch outcome {
	case PaymentApproved:
		next = router.StateFollowUp
	case PaymentFailed:
		next = router.StateClosing
	}
	if next != "" {
		if err := c.setState(ctx, sessions.Key{AgentID: cfg.ID, Contact: order.Contact}, next); err != nil {
			return nil, err
		}
		res.State = string(next)
	}

	if outcome == PaymentApproved && c.followUps != nil {
		task, err := c.followUps.Schedule(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("schedule follow-up: %w", err)
		}
		res.FollowUpID = task.ID
	}
	return res, nil
}

func (c *Confirmation) closeLead(ctx context.Context, agentID, address string) {
	contact, err := c.contacts.GetContact(ctx, agentID, address)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("confirmation: no contact linked to order", "agent_id", agentID, "contact", address)
		return
	}
	if err == nil {
		err = c.contacts.UpdateLeadStatus(ctx, contact.ID, store.LeadClosedWon)
	}
	if err != nil {
		slog.Warn("confirmation: update lead status", "agent_id", agentID, "contact", address, "error", err)
	}
}

func (c *Confirmation) setState(ctx context.Context, k sessions.Key, state router.State) error {
	if c.locks != nil {
		unlock := c.locks.Lock(k.String())
		defer unlock()
	}
	if err := c.sessions.SetState(ctx, k, string(state)); err != nil {
		return fmt.Errorf("set session state: %w", err)
	}
	if c.events != nil {
		c.events.Broadcast(bus.Event{
			Channel: bus.AgentChannel(k.AgentID),
			Name:    protocol.EventSessionState,
			Payload: bus.SessionStateEvent{AgentID: k.AgentID, Contact: k.Contact, State: string(state), Reason: "payment"},
		})
	}
	return nil
}

func confirmationMessage(outcome string, order *store.Order, cfg *store.AgentConfig, status string) string {
	business := cfg.BusinessName
	if business == "" {
		business = cfg.Name
	}
	switch outcome {
	case PaymentApproved:
		return fmt.Sprintf("¡Pago confirmado! Tu pedido %s fue aprobado. Gracias por comprar en %s, te avisaremos cuando vaya en camino.", order.ID, business)
	case PaymentFailed:
		return fmt.Sprintf("No pudimos procesar el pago de tu pedido %s. ¿Quieres intentarlo de nuevo con otro medio de pago?", order.ID)
	}
	return fmt.Sprintf("El pago de tu pedido %s está en estado %s. Te escribimos apenas se confirme.", order.ID, strings.ToLower(status))
}
