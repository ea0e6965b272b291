package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
)

// PlaceOrderItemInput is one cart line at checkout. VariantID is the zero
// UUID for products without variants.
type PlaceOrderItemInput struct {
	ProductID uuid.UUID
	VariantID uuid.UUID
	Qty       int
}

// PlaceOrderInput captures everything needed to place an order.
type PlaceOrderInput struct {
	TenantID      uuid.UUID
	CustomerID    uuid.UUID
	Currency      enums.Currency
	DiscountCents int
	Notes         *string
	Items         []PlaceOrderItemInput
}

// PaymentEvent is the closed set of payment notifications the lifecycle
// reacts to. Providers retry delivery, so every variant must be replayable.
type PaymentEvent interface {
	isPaymentEvent()
	EventOrderID() uuid.UUID
}

// PaymentSucceeded reports a completed charge for an order.
type PaymentSucceeded struct {
	TenantID  uuid.UUID
	OrderID   uuid.UUID
	PaymentID string
}

func (PaymentSucceeded) isPaymentEvent() {}

// EventOrderID returns the order the event applies to.
func (e PaymentSucceeded) EventOrderID() uuid.UUID { return e.OrderID }

// PaymentFailed reports a charge that did not complete.
type PaymentFailed struct {
	TenantID uuid.UUID
	OrderID  uuid.UUID
	Reason   string
}

func (PaymentFailed) isPaymentEvent() {}

// EventOrderID returns the order the event applies to.
func (e PaymentFailed) EventOrderID() uuid.UUID { return e.OrderID }

// OrderFilters describe the inputs supported by the order list.
type OrderFilters struct {
	Status        *enums.OrderStatus
	PaymentStatus *enums.PaymentStatus
	CustomerID    *uuid.UUID
	DateFrom      *time.Time
	DateTo        *time.Time
}

// OrderSummary exposes the aggregated fields returned in order listings.
type OrderSummary struct {
	ID            uuid.UUID           `json:"id"`
	OrderNumber   int64               `json:"order_number"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	RefundStatus  enums.RefundStatus  `json:"refund_status"`
	TotalCents    int                 `json:"total_cents"`
	Currency      enums.Currency      `json:"currency"`
	TotalItems    int                 `json:"total_items"`
	NeedsReview   bool                `json:"needs_review"`
	PlacedAt      time.Time           `json:"placed_at"`
}

// OrderList wraps the paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
