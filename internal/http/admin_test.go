package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/salesclaw/internal/agents"
	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/router"
	"github.com/nextlevelbuilder/salesclaw/internal/sessions"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/internal/store/memstore"
	"github.com/nextlevelbuilder/salesclaw/pkg/protocol"
)

const testToken = "admin-secret"

type recorder struct {
	mu     sync.Mutex
	events []bus.CacheInvalidatePayload
}

func (r *recorder) attach(b *bus.MessageBus) {
	b.Subscribe("recorder", func(e bus.Event) {
		if e.Name != protocol.EventCacheInvalidate {
			return
		}
		r.mu.Lock()
		r.events = append(r.events, e.Payload.(bus.CacheInvalidatePayload))
		r.mu.Unlock()
	})
}

func (r *recorder) all() []bus.CacheInvalidatePayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.CacheInvalidatePayload(nil), r.events...)
}

type fakeConfirmer struct {
	got []agents.PaymentEvent
	err error
}

func (f *fakeConfirmer) Handle(_ context.Context, ev agents.PaymentEvent) (*agents.ConfirmationResult, error) {
	f.got = append(f.got, ev)
	if f.err != nil {
		return nil, f.err
	}
	return &agents.ConfirmationResult{OrderID: ev.OrderID, Outcome: agents.ClassifyPayment(ev.Status), Delivered: true}, nil
}

type fixture struct {
	srv      *httptest.Server
	ms       *memstore.Store
	registry *router.Registry
	confirm  *fakeConfirmer
	rec      *recorder
	sessions *sessions.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ms:       memstore.New(),
		registry: router.NewRegistry(router.BuiltinRules()...),
		confirm:  &fakeConfirmer{},
		rec:      &recorder{},
	}
	f.sessions = sessions.NewManager(f.ms, 0)
	b := bus.New()
	f.rec.attach(b)

	mux := http.NewServeMux()
	NewAgentsHandler(f.ms, testToken, b).RegisterRoutes(mux)
	NewPaymentsHandler(f.confirm, testToken).RegisterRoutes(mux)
	NewCatalogHandler(CatalogDeps{
		Agents:   f.ms,
		Products: f.ms,
		Orders:   f.ms,
		Sessions: f.sessions,
		Locks:    sessions.NewKeyedMutex(),
	}, testToken).RegisterRoutes(mux)
	NewRulesHandler(f.registry, testToken, b).RegisterRoutes(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestRequiresToken(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/v1/router/rules")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPutAgentCreatesAndInvalidates(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/v1/agents/tienda-1", `{"name":"Tienda","channel_address":"1055","access_token":"EAAG"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var got store.AgentConfig
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, maskedToken, got.AccessToken)
	assert.True(t, got.AutoReply)

	stored, err := f.ms.GetAgentConfig(context.Background(), "tienda-1")
	require.NoError(t, err)
	assert.Equal(t, "EAAG", stored.AccessToken)

	// Writing back the masked token keeps the stored one.
	resp, body = f.do(t, http.MethodPut, "/v1/agents/tienda-1", `{"name":"Tienda 2","channel_address":"1055","access_token":"***","auto_reply":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	stored, err = f.ms.GetAgentConfig(context.Background(), "tienda-1")
	require.NoError(t, err)
	assert.Equal(t, "EAAG", stored.AccessToken)
	assert.False(t, stored.AutoReply)

	assert.Equal(t, []bus.CacheInvalidatePayload{
		{Kind: bus.CacheKindAgent, Key: "tienda-1"},
		{Kind: bus.CacheKindAgent, Key: "tienda-1"},
	}, f.rec.all())
}

func TestPutAgentValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name, path, body string
	}{
		{"bad slug", "/v1/agents/Tienda_1", `{"name":"x","channel_address":"1"}`},
		{"missing name", "/v1/agents/t1", `{"channel_address":"1"}`},
		{"non numeric address", "/v1/agents/t1", `{"name":"x","channel_address":"+57 300"}`},
		{"bad json", "/v1/agents/t1", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetAgent(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/v1/agents/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, f.ms.PutAgentConfig(context.Background(), &store.AgentConfig{ID: "a1", Name: "A", ChannelAddress: "1", AccessToken: "secret"}))
	resp, body := f.do(t, http.MethodGet, "/v1/agents/a1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "secret")
}

func TestInvalidateEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/v1/agents/a1/invalidate", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/v1/agents/*/invalidate", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Equal(t, []bus.CacheInvalidatePayload{
		{Kind: bus.CacheKindAgent, Key: "a1"},
		{Kind: bus.CacheKindAgent, Key: ""},
	}, f.rec.all())
}

func TestPaymentEvent(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/payments/events", `{"order_id":"o1","status":"APPROVED","reference":"ref-9"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res agents.ConfirmationResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, agents.PaymentApproved, res.Outcome)
	require.Len(t, f.confirm.got, 1)
	assert.Equal(t, "ref-9", f.confirm.got[0].Reference)

	resp, _ = f.do(t, http.MethodPost, "/v1/payments/events", `{"status":"APPROVED"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, f.confirm.got, 1, "invalid events never reach the agent")

	f.confirm.err = fmt.Errorf("order o2: %w", agents.ErrOrderNotFound)
	resp, _ = f.do(t, http.MethodPost, "/v1/payments/events", `{"order_id":"o2","status":"APPROVED"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.confirm.err = fmt.Errorf("mark order paid: boom")
	resp, _ = f.do(t, http.MethodPost, "/v1/payments/events", `{"order_id":"o3","status":"APPROVED"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCatalogAndOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, _ := f.do(t, http.MethodGet, "/v1/agents/a1/products", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "unknown agent")

	require.NoError(t, f.ms.PutAgentConfig(ctx, &store.AgentConfig{ID: "a1", Name: "A", ChannelAddress: "1"}))

	resp, body := f.do(t, http.MethodPut, "/v1/agents/a1/products/p1", `{"name":"Crema","price":25000,"currency":"COP","stock":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodGet, "/v1/agents/a1/products", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Crema")

	resp, body = f.do(t, http.MethodPost, "/v1/agents/a1/orders", `{"contact":"573001112233","product_id":"p1","quantity":2}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var o store.Order
	require.NoError(t, json.Unmarshal(body, &o))
	assert.EqualValues(t, 50000, o.Amount)
	assert.Equal(t, store.OrderPending, o.Status)

	resp, body = f.do(t, http.MethodGet, "/v1/orders/"+o.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), o.ID)

	resp, _ = f.do(t, http.MethodPost, "/v1/agents/a1/orders", `{"contact":"573001112233","product_id":"p1","quantity":3}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "insufficient stock")

	resp, _ = f.do(t, http.MethodPost, "/v1/agents/a1/orders", `{"contact":"573001112233","product_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/v1/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrderBindsSessionForValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ms.PutAgentConfig(ctx, &store.AgentConfig{ID: "a1", Name: "A", ChannelAddress: "1"}))
	resp, body := f.do(t, http.MethodPut, "/v1/agents/a1/products/p1", `{"name":"Crema","price":25000,"currency":"COP","stock":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodPost, "/v1/agents/a1/orders", `{"contact":"573001112233","product_id":"p1","quantity":2}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var o store.Order
	require.NoError(t, json.Unmarshal(body, &o))

	k := sessions.Key{AgentID: "a1", Contact: "573001112233"}
	p, err := f.sessions.GetSessionData(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, string(router.StatePayment), p.State)
	assert.Equal(t, "p1", p.Extras[agents.ExtraProductID])
	assert.Equal(t, 2, p.Extras[agents.ExtraQuantity])
	assert.Equal(t, o.ID, p.Extras[agents.ExtraOrderID])

	res, _ := f.registry.Evaluate(router.RoutingContext{Message: "ya pagué", CurrentState: router.State(p.State)}, router.DefaultThreshold)
	require.NotNil(t, res)
	assert.Equal(t, router.AgentPayment, res.Agent)

	// After a declined payment the closer re-checks the bound product against the catalog.
	validator := agents.NewProductValidator(f.ms)
	check, err := validator.Validate(ctx, "a1", p)
	require.NoError(t, err)
	assert.True(t, check.OK)
	require.NotNil(t, check.Product)
	assert.Equal(t, "p1", check.Product.ID)
	assert.Equal(t, 2, check.Quantity)

	resp, body = f.do(t, http.MethodPut, "/v1/agents/a1/products/p1", `{"name":"Crema","price":25000,"currency":"COP","stock":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	check, err = validator.Validate(ctx, "a1", p)
	require.NoError(t, err)
	assert.Equal(t, agents.ProductOutOfStock, check.Reason)
}

func TestRulesLifecycle(t *testing.T) {
	f := newFixture(t)
	builtins := len(f.registry.List())

	rule := `{"agent":"product_expert","state":"product_discovery","confidence":0.9,"keywords":["envio","domicilio"]}`
	resp, body := f.do(t, http.MethodPut, "/v1/router/rules/envios", rule)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Len(t, f.registry.List(), builtins+1)

	res, _ := f.registry.Evaluate(router.RoutingContext{Message: "¿hacen envío a domicilio?", CurrentState: router.StateQualifying}, 0.8)
	require.NotNil(t, res)
	assert.Equal(t, router.AgentProductExpert, res.Agent)

	resp, body = f.do(t, http.MethodGet, "/v1/router/rules", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"envios"`)

	resp, _ = f.do(t, http.MethodPut, "/v1/router/rules/envios", `{"agent":"nobody","state":"greeting","confidence":0.9,"keywords":["x"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	builtin := f.registry.List()[0].Name
	resp, _ = f.do(t, http.MethodDelete, "/v1/router/rules/"+builtin, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPut, "/v1/router/rules/"+builtin, rule)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/v1/router/rules/envios", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/v1/router/rules/envios", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Len(t, f.registry.List(), builtins)

	assert.Equal(t, []bus.CacheInvalidatePayload{
		{Kind: bus.CacheKindRouter, Key: "envios"},
		{Kind: bus.CacheKindRouter, Key: "envios"},
	}, f.rec.all())
}
