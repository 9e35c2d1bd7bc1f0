package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/salesclaw/internal/agents"
	"github.com/nextlevelbuilder/salesclaw/internal/router"
	"github.com/nextlevelbuilder/salesclaw/internal/sessions"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

// CatalogHandler manages an agent's products and orders.
// Creating an order binds it to the contact's session and parks the session in payment.
type CatalogHandler struct {
	agents   store.AgentConfigStore
	products store.ProductStore
	orders   store.OrderStore
	sessions *sessions.Manager
	locks    *sessions.KeyedMutex // shared with the inbound handler
	token    string
}

// CatalogDeps are the collaborators of a CatalogHandler.
type CatalogDeps struct {
	Agents   store.AgentConfigStore
	Products store.ProductStore
	Orders   store.OrderStore
	Sessions *sessions.Manager
	Locks    *sessions.KeyedMutex
}

// NewCatalogHandler creates a handler for product and order endpoints.
func NewCatalogHandler(d CatalogDeps, token string) *CatalogHandler {
	locks := d.Locks
	if locks == nil {
		locks = sessions.NewKeyedMutex()
	}
	return &CatalogHandler{
		agents:   d.Agents,
		products: d.Products,
		orders:   d.Orders,
		sessions: d.Sessions,
		locks:    locks,
		token:    token,
	}
}

// RegisterRoutes registers catalog routes on the given mux.
func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/agents/{id}/products", h.authMiddleware(h.handleListProducts))
	mux.HandleFunc("PUT /v1/agents/{id}/products/{productID}", h.authMiddleware(h.handlePutProduct))
	mux.HandleFunc("POST /v1/agents/{id}/orders", h.authMiddleware(h.handleCreateOrder))
	mux.HandleFunc("GET /v1/orders/{orderID}", h.authMiddleware(h.handleGetOrder))
}

func (h *CatalogHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return requireToken(h.token, func(w http.ResponseWriter, r *http.Request) {
		if id := r.PathValue("id"); id != "" {
			if _, err := h.agents.GetAgentConfig(r.Context(), id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
					return
				}
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
		}
		next(w, r)
	})
}

type productRequest struct {
	Name     string `json:"name" validate:"required,max=256"`
	Price    int64  `json:"price" validate:"gte=0"`
	Currency string `json:"currency" validate:"required,len=3,uppercase"`
	Stock    int    `json:"stock" validate:"gte=0"`
	Active   *bool  `json:"active,omitempty"`
}

type orderRequest struct {
	Contact   string `json:"contact" validate:"required,numeric"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"omitempty,gte=1"`
}

func (h *CatalogHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if products == nil {
		products = []store.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"products": products})
}

func (h *CatalogHandler) handlePutProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	p := &store.Product{
		ID:       r.PathValue("productID"),
		AgentID:  r.PathValue("id"),
		Name:     req.Name,
		Price:    req.Price,
		Currency: req.Currency,
		Stock:    req.Stock,
		Active:   req.Active == nil || *req.Active,
	}
	if err := h.products.PutProduct(r.Context(), p); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *CatalogHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	agentID := r.PathValue("id")

	p, err := h.products.GetProduct(r.Context(), agentID, req.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown product"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !p.Active {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "product is not active"})
		return
	}
	if p.Stock < req.Quantity {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "insufficient stock"})
		return
	}

	now := time.Now().UTC()
	o := &store.Order{
		ID:        store.GenNewID(),
		AgentID:   agentID,
		Contact:   req.Contact,
		ProductID: p.ID,
		Quantity:  req.Quantity,
		Amount:    p.Price * int64(req.Quantity),
		Currency:  p.Currency,
		Status:    store.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.orders.CreateOrder(r.Context(), o); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.attachOrder(r.Context(), o); err != nil {
		slog.Error("http: bind order to session", "order_id", o.ID, "agent_id", agentID, "contact", o.Contact, "error", err)
	}
	writeJSON(w, http.StatusCreated, o)
}

// attachOrder records the order's product selection in the contact's session
// and moves it to payment, where it stays until a payment event arrives.
func (h *CatalogHandler) attachOrder(ctx context.Context, o *store.Order) error {
	if h.sessions == nil {
		return nil
	}
	k := sessions.Key{AgentID: o.AgentID, Contact: o.Contact}
	unlock := h.locks.Lock(k.String())
	defer unlock()

	p, err := h.sessions.GetSessionData(ctx, k)
	if err != nil {
		return err
	}
	p = p.Clone()
	p.Extras[agents.ExtraProductID] = o.ProductID
	p.Extras[agents.ExtraQuantity] = o.Quantity
	p.Extras[agents.ExtraOrderID] = o.ID
	p.State = string(router.StatePayment)
	return h.sessions.SaveSessionData(ctx, k, p)
}

func (h *CatalogHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), r.PathValue("orderID"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, o)
}
