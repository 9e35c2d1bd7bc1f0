// Package orchestrator turns a routed inbound message into reply text: it asks
// the smart router which agent should answer, checks the catalog when the
// customer is about to buy and prompts the model as that agent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/salesclaw/internal/agents"
	"github.com/nextlevelbuilder/salesclaw/internal/providers"
	"github.com/nextlevelbuilder/salesclaw/internal/router"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

// ErrEmptyReply is returned when the model produces no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

var tracer = otel.Tracer("github.com/nextlevelbuilder/salesclaw/internal/orchestrator")

// Router picks the agent and next state for a message.
type Router interface {
	Route(ctx context.Context, rc router.RoutingContext) router.RoutingResult
}

// ProductValidator checks the product a session is about to buy.
type ProductValidator interface {
	Validate(ctx context.Context, agentID string, payload store.SessionPayload) (agents.ProductCheck, error)
}

// Reply is the generated answer together with the routing decision behind it.
type Reply struct {
	Text    string
	Route   router.RoutingResult
	Product *agents.ProductCheck
	Usage   *providers.Usage
}

// Options tunes generation.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Orchestrator generates replies.
type Orchestrator struct {
	router    Router
	provider  providers.Provider
	validator ProductValidator
	opts      Options
}

// New creates an orchestrator. validator may be nil.
func New(r Router, p providers.Provider, validator ProductValidator, opts Options) *Orchestrator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	return &Orchestrator{router: r, provider: p, validator: validator, opts: opts}
}

// Reply routes rc and generates the answer as the selected agent.
func (o *Orchestrator) Reply(ctx context.Context, cfg *store.AgentConfig, rc router.RoutingContext) (*Reply, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.reply")
	defer span.End()

	route := o.router.Route(ctx, rc)
	out := &Reply{Route: route}
	span.SetAttributes(
		attribute.String("route.agent", string(route.Agent)),
		attribute.String("route.state", string(route.State)),
	)

	if route.Agent == router.AgentCloser && o.validator != nil {
		check, err := o.validator.Validate(ctx, cfg.ID, rc.Payload)
		if err != nil {
			return nil, fmt.Errorf("validate product: %w", err)
		}
		out.Product = &check
		if !check.OK {
			slog.Info("orchestrator: product check failed before closing", "agent_id", cfg.ID, "reason", check.Reason)
		}
	}

	req := providers.ChatRequest{
		Messages:    BuildMessages(cfg, rc, route, out.Product),
		Model:       o.opts.Model,
		Temperature: providers.Float64(o.opts.Temperature),
		MaxTokens:   o.opts.MaxTokens,
	}
	resp, err := o.provider.Chat(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	text := SanitizeReply(resp.Content)
	if text == "" {
		return nil, ErrEmptyReply
	}
	out.Text = text
	out.Usage = resp.Usage
	return out, nil
}

// BuildMessages assembles the system prompt, the history digest and the new message.
func BuildMessages(cfg *store.AgentConfig, rc router.RoutingContext, route router.RoutingResult, check *agents.ProductCheck) []providers.Message {
	var sb strings.Builder
	business := cfg.BusinessName
	if business == "" {
		business = cfg.Name
	}
	fmt.Fprintf(&sb, "You are the %s of %s, chatting with a customer on WhatsApp.\n", strings.ReplaceAll(string(route.Agent), "_", " "), business)
	sb.WriteString(personaFor(route.Agent))
	sb.WriteString("\n")
	if cfg.Persona != "" {
		fmt.Fprintf(&sb, "\nBrand voice: %s\n", cfg.Persona)
	}
	if cfg.ProductNotes != "" {
		fmt.Fprintf(&sb, "\nCatalog notes:\n%s\n", cfg.ProductNotes)
	}
	fmt.Fprintf(&sb, "\nConversation stage: %s.\n", route.State)
	if check != nil {
		switch {
		case check.OK && check.Product != nil:
			fmt.Fprintf(&sb, "Selected product: %s, quantity %d, unit price %d %s. It is in stock.\n",
				check.Product.Name, check.Quantity, check.Product.Price, check.Product.Currency)
		case check.Reason == agents.ProductNotSelected:
			sb.WriteString("No product has been selected yet; confirm which product the customer wants before asking for payment.\n")
		default:
			fmt.Fprintf(&sb, "The product the customer wants cannot be sold right now (%s). Apologize briefly and suggest an alternative.\n", check.Reason)
		}
	}
	sb.WriteString("\nReply in the customer's language. Keep it short, friendly and plain text suitable for WhatsApp.")

	msgs := make([]providers.Message, 0, len(rc.History)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: sb.String()})
	for _, t := range rc.History {
		role := "user"
		if t.Role == "assistant" {
			role = "assistant"
		}
		msgs = append(msgs, providers.Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: rc.Message})
	return msgs
}
