package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

// OrderStore implements store.OrderStore.
type OrderStore struct{ d *DB }

func (s *OrderStore) CreateOrder(ctx context.Context, o *store.Order) error {
	if o.ID == "" {
		o.ID = store.GenNewID()
	}
	if o.Status == "" {
		o.Status = store.OrderPending
	}
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	_, err := s.d.db.ExecContext(ctx, s.d.q(
		`INSERT INTO orders (id, agent_id, contact, product_id, quantity, amount, currency, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`),
		o.ID, o.AgentID, o.Contact, o.ProductID, o.Quantity, o.Amount, o.Currency, o.Status, utc(now),
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (s *OrderStore) GetOrder(ctx context.Context, id string) (*store.Order, error) {
	var o store.Order
	err := s.d.db.QueryRowContext(ctx, s.d.q(
		`SELECT id, agent_id, contact, product_id, quantity, amount, currency, status, created_at, updated_at
		 FROM orders WHERE id = $1`), id,
	).Scan(&o.ID, &o.AgentID, &o.Contact, &o.ProductID, &o.Quantity, &o.Amount, &o.Currency, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (s *OrderStore) UpdateOrderStatus(ctx context.Context, id, status string) error {
	res, err := s.d.db.ExecContext(ctx, s.d.q(
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`), status, utc(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return affectedOrNotFound(res)
}

// ProductStore implements store.ProductStore.
type ProductStore struct{ d *DB }

func (s *ProductStore) GetProduct(ctx context.Context, agentID, id string) (*store.Product, error) {
	var p store.Product
	err := s.d.db.QueryRowContext(ctx, s.d.q(
		`SELECT id, agent_id, name, price, currency, stock, active
		 FROM products WHERE agent_id = $1 AND id = $2`), agentID, id,
	).Scan(&p.ID, &p.AgentID, &p.Name, &p.Price, &p.Currency, &p.Stock, &p.Active)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *ProductStore) ListProducts(ctx context.Context, agentID string) ([]store.Product, error) {
	rows, err := s.d.db.QueryContext(ctx, s.d.q(
		`SELECT id, agent_id, name, price, currency, stock, active
		 FROM products WHERE agent_id = $1 ORDER BY name`), agentID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []store.Product
	for rows.Next() {
		var p store.Product
		if err := rows.Scan(&p.ID, &p.AgentID, &p.Name, &p.Price, &p.Currency, &p.Stock, &p.Active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ProductStore) PutProduct(ctx context.Context, p *store.Product) error {
	if p.ID == "" {
		p.ID = store.GenNewID()
	}
	_, err := s.d.db.ExecContext(ctx, s.d.q(
		`INSERT INTO products (id, agent_id, name, price, currency, stock, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (agent_id, id) DO UPDATE SET
			name = excluded.name, price = excluded.price, currency = excluded.currency,
			stock = excluded.stock, active = excluded.active`),
		p.ID, p.AgentID, p.Name, p.Price, p.Currency, p.Stock, p.Active,
	)
	if err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}
