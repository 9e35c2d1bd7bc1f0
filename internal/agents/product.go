package agents

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

// Session payload extras written when an order is created and read by product validation.
const (
	ExtraProductID = "product_id"
	ExtraQuantity  = "quantity"
	ExtraOrderID   = "order_id"
)

// Reasons a product check can fail.
const (
	ProductNotSelected = "no_product_selected"
	ProductUnknown     = "unknown_product"
	ProductInactive    = "product_inactive"
	ProductOutOfStock  = "out_of_stock"
)

// ProductCheck is the outcome of validating the product a session is about to buy.
type ProductCheck struct {
	OK       bool           `json:"ok"`
	Reason   string         `json:"reason,omitempty"`
	Product  *store.Product `json:"product,omitempty"`
	Quantity int            `json:"quantity"`
}

// ProductValidator checks the session's selected product against the catalog.
type ProductValidator struct {
	products store.ProductStore
}

func NewProductValidator(products store.ProductStore) *ProductValidator {
	return &ProductValidator{products: products}
}

// Validate looks up payload's product and reports whether it can be sold.
// A missing or unsellable product is a failed check, not an error.
func (v *ProductValidator) Validate(ctx context.Context, agentID string, payload store.SessionPayload) (ProductCheck, error) {
	id := extraString(payload.Extras, ExtraProductID)
	qty := extraInt(payload.Extras, ExtraQuantity)
	if qty <= 0 {
		qty = 1
	}
	check := ProductCheck{Quantity: qty}
	if id == "" {
		check.Reason = ProductNotSelected
		return check, nil
	}

	p, err := v.products.GetProduct(ctx, agentID, id)
	if errors.Is(err, store.ErrNotFound) {
		check.Reason = ProductUnknown
		return check, nil
	}
	if err != nil {
		return check, fmt.Errorf("get product %s: %w", id, err)
	}
	check.Product = p
	switch {
	case !p.Active:
		check.Reason = ProductInactive
	case p.Stock < qty:
		check.Reason = ProductOutOfStock
	default:
		check.OK = true
	}
	return check, nil
}

func extraString(extras map[string]any, key string) string {
	switch v := extras[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

// extraInt accepts the shapes a JSON round trip can produce.
func extraInt(extras map[string]any, key string) int {
	switch v := extras[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
