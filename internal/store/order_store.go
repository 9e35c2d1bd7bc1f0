package store

import (
	"context"
	"time"
)

// Order statuses.
const (
	OrderPending = "pending"
	OrderPaid    = "paid"
	OrderFailed  = "failed"
)

// Order is a purchase awaiting or having received payment.
type Order struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Contact   string    `json:"contact"` // end-user channel address
	ProductID string    `json:"product_id,omitempty"`
	Quantity  int       `json:"quantity"`
	Amount    int64     `json:"amount"` // minor units
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderStore persists orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, id, status string) error
}

// Product is a catalog item an agent can sell.
type Product struct {
	ID       string `json:"id"`
	AgentID  string `json:"agent_id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"` // minor units
	Currency string `json:"currency"`
	Stock    int    `json:"stock"`
	Active   bool   `json:"active"`
}

// ProductStore is the read side of an agent's catalog.
type ProductStore interface {
	GetProduct(ctx context.Context, agentID, id string) (*Product, error)
	ListProducts(ctx context.Context, agentID string) ([]Product, error)
	PutProduct(ctx context.Context, p *Product) error
}
