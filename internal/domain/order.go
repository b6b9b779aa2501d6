// Package domain holds the ticket delivery vocabulary. It stays free of
// transport (HTTP) and host (browser, printer) concerns.
package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderItem is one line of an order as the Document Service expects it.
type OrderItem struct {
	ID       string
	Name     string
	Quantity int
	UnitCost decimal.Decimal
}

type wireItem struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Quantity int         `json:"quantity"`
	Cost     json.Number `json:"cost"`
}

type wireItemIn struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"`
}

// MarshalJSON writes cost as a JSON number with two decimals (10.00, not "10").
func (i OrderItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireItem{
		ID:       i.ID,
		Name:     i.Name,
		Quantity: i.Quantity,
		Cost:     json.Number(i.UnitCost.StringFixed(2)),
	})
}

// UnmarshalJSON accepts cost either as a number or a quoted decimal.
func (i *OrderItem) UnmarshalJSON(b []byte) error {
	var w wireItemIn
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*i = OrderItem{ID: w.ID, Name: w.Name, Quantity: w.Quantity, UnitCost: w.Cost}
	return nil
}

// Validate enforces quantity > 0 and unit_cost >= 0.
func (i OrderItem) Validate() error {
	if i.Quantity <= 0 {
		return fmt.Errorf("item %q: quantity must be positive, got %d", i.ID, i.Quantity)
	}
	if i.UnitCost.IsNegative() {
		return fmt.Errorf("item %q: cost must not be negative, got %s", i.ID, i.UnitCost)
	}
	return nil
}

// Total is quantity * unit cost.
func (i OrderItem) Total() decimal.Decimal {
	return i.UnitCost.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// TicketRequest is the body of a generate-ticket call. Nil optionals are sent as null.
type TicketRequest struct {
	Items        []OrderItem `json:"order_items"`
	OrderNumber  *string     `json:"order_number"`
	CustomerName *string     `json:"customer_name"`
}

// Validate checks the request before anything is sent.
func (r TicketRequest) Validate() error {
	if len(r.Items) == 0 {
		return ErrNoItems
	}
	for _, it := range r.Items {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Body serializes the request exactly as it goes on the wire.
func (r TicketRequest) Body() ([]byte, error) {
	return json.Marshal(r)
}

// Total sums all item totals.
func (r TicketRequest) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range r.Items {
		sum = sum.Add(it.Total())
	}
	return sum
}

// StringPtr returns nil for "", otherwise &s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
