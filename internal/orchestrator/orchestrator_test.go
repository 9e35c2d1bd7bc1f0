package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/salesclaw/internal/agents"
	"github.com/nextlevelbuilder/salesclaw/internal/providers"
	"github.com/nextlevelbuilder/salesclaw/internal/router"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/internal/store/memstore"
)

type fixedRouter struct{ res router.RoutingResult }

func (f fixedRouter) Route(context.Context, router.RoutingContext) router.RoutingResult { return f.res }

type fakeProvider struct {
	reply string
	err   error
	last  providers.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &providers.ChatResponse{Content: f.reply}, nil
}
func (f *fakeProvider) DefaultModel() string { return "fake" }
func (f *fakeProvider) Name() string         { return "fake" }

var agentCfg = &store.AgentConfig{ID: "a1", Name: "Tienda", BusinessName: "Tienda Sol", ProductNotes: "Café 500g: 30000 COP"}

func TestReplyUsesRoutedPersona(t *testing.T) {
	p := &fakeProvider{reply: "  ¡Hola! Bienvenido a Tienda Sol.  "}
	o := New(fixedRouter{router.RoutingResult{Agent: router.AgentGreeter, State: router.StateGreeting, Confidence: 0.95}}, p, nil, Options{Model: "m"})

	rep, err := o.Reply(context.Background(), agentCfg, router.RoutingContext{
		Message: "hola",
		History: []router.Turn{{Role: "assistant", Text: "antes"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "¡Hola! Bienvenido a Tienda Sol.", rep.Text)
	assert.Equal(t, router.AgentGreeter, rep.Route.Agent)
	assert.Nil(t, rep.Product)

	require.Len(t, p.last.Messages, 3)
	assert.Equal(t, "system", p.last.Messages[0].Role)
	assert.Contains(t, p.last.Messages[0].Content, "greeter of Tienda Sol")
	assert.Contains(t, p.last.Messages[0].Content, "Café 500g")
	assert.Equal(t, "assistant", p.last.Messages[1].Role)
	assert.Equal(t, providers.Message{Role: "user", Content: "hola"}, p.last.Messages[2])
	assert.Equal(t, "m", p.last.Model)
}

func TestReplyValidatesProductWhenClosing(t *testing.T) {
	ms := memstore.New()
	require.NoError(t, ms.PutProduct(context.Background(), &store.Product{ID: "p1", AgentID: "a1", Name: "Café", Stock: 0, Active: true}))
	p := &fakeProvider{reply: "Lo siento, está agotado."}
	o := New(fixedRouter{router.RoutingResult{Agent: router.AgentCloser, State: router.StateClosing, Confidence: 0.9}},
		p, agents.NewProductValidator(ms), Options{})

	rep, err := o.Reply(context.Background(), agentCfg, router.RoutingContext{
		Message: "quiero comprar",
		Payload: store.SessionPayload{Extras: map[string]any{agents.ExtraProductID: "p1"}},
	})
	require.NoError(t, err)
	require.NotNil(t, rep.Product)
	assert.False(t, rep.Product.OK)
	assert.Equal(t, agents.ProductOutOfStock, rep.Product.Reason)
	assert.Contains(t, p.last.Messages[0].Content, agents.ProductOutOfStock)
}

func TestReplyErrors(t *testing.T) {
	route := fixedRouter{router.RoutingResult{Agent: router.AgentQualifier, State: router.StateQualifying}}

	_, err := New(route, &fakeProvider{err: errors.New("boom")}, nil, Options{}).
		Reply(context.Background(), agentCfg, router.RoutingContext{Message: "x"})
	assert.Error(t, err)

	_, err = New(route, &fakeProvider{reply: "   "}, nil, Options{}).
		Reply(context.Background(), agentCfg, router.RoutingContext{Message: "x"})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestEveryAgentHasPersona(t *testing.T) {
	for _, a := range router.Agents {
		_, ok := personas[a]
		assert.True(t, ok, a)
	}
}
