package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/salesclaw/internal/agents"
)

// PaymentConfirmer reacts to payment notifications.
type PaymentConfirmer interface {
	Handle(ctx context.Context, ev agents.PaymentEvent) (*agents.ConfirmationResult, error)
}

// PaymentsHandler receives payment-provider callbacks.
type PaymentsHandler struct {
	confirm PaymentConfirmer
	token   string
}

// NewPaymentsHandler creates a handler for payment event endpoints.
func NewPaymentsHandler(confirm PaymentConfirmer, token string) *PaymentsHandler {
	return &PaymentsHandler{confirm: confirm, token: token}
}

// RegisterRoutes registers the payment routes on the given mux.
func (h *PaymentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/payments/events", requireToken(h.token, h.handleEvent))
}

func (h *PaymentsHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev agents.PaymentEvent
	if !decodeAndValidate(w, r, &ev) {
		return
	}

	res, err := h.confirm.Handle(r.Context(), ev)
	switch {
	case errors.Is(err, agents.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	case err != nil:
		slog.Error("http: payment event failed", "order_id", ev.OrderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
