package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
)

// OrderPlacedEvent signals a new order with its stock reservation held.
type OrderPlacedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	CustomerID    uuid.UUID `json:"customer_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	TotalCents    int       `json:"total_cents"`
}

// OrderConfirmedEvent is emitted once payment succeeds and stock is deducted.
type OrderConfirmedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	PaymentID     string    `json:"payment_id"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// OrderPaymentFailedEvent reports a failed payment and the released hold.
type OrderPaymentFailedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	Reason        string    `json:"reason,omitempty"`
}

// OrderCancelledEvent is emitted when a pre-shipment order is cancelled.
type OrderCancelledEvent struct {
	OrderID       uuid.UUID         `json:"order_id"`
	TenantID      uuid.UUID         `json:"tenant_id"`
	PriorStatus   enums.OrderStatus `json:"prior_status"`
	StockRestored bool              `json:"stock_restored"`
	CancelledAt   time.Time         `json:"cancelled_at"`
}

// OrderNeedsReviewEvent flags an order whose confirm-time stock deduct failed.
type OrderNeedsReviewEvent struct {
	OrderID  uuid.UUID `json:"order_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Reason   string    `json:"reason"`
}

// OrderShippedEvent is emitted when fulfillment hands the order to a carrier.
type OrderShippedEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	ShippedAt time.Time `json:"shipped_at"`
}

// OrderDeliveredEvent starts the return window clock.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// ReservationExpiredEvent reports a stale hold swept by the expiry job.
type ReservationExpiredEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	OrderID       uuid.UUID `json:"order_id"`
	ExpiredAt     time.Time `json:"expired_at"`
}

// ReturnOpenedEvent signals a new return request inside the return window.
type ReturnOpenedEvent struct {
	ReturnRequestID uuid.UUID `json:"return_request_id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	OrderID         uuid.UUID `json:"order_id"`
	ItemCount       int       `json:"item_count"`
}

// ReturnApprovedEvent is emitted when an operator approves a return.
type ReturnApprovedEvent struct {
	ReturnRequestID uuid.UUID `json:"return_request_id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	OrderID         uuid.UUID `json:"order_id"`
	ApprovedAt      time.Time `json:"approved_at"`
}

// ReturnReceivedEvent marks physical receipt of the returned goods.
type ReturnReceivedEvent struct {
	ReturnRequestID uuid.UUID `json:"return_request_id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	OrderID         uuid.UUID `json:"order_id"`
	ReceivedAt      time.Time `json:"received_at"`
}

// ReturnInspectedEvent carries the per-item accept/reject outcome.
type ReturnInspectedEvent struct {
	ReturnRequestID uuid.UUID `json:"return_request_id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	OrderID         uuid.UUID `json:"order_id"`
	AcceptedCount   int       `json:"accepted_count"`
	RejectedCount   int       `json:"rejected_count"`
}

// ReturnRefundedEvent reports the completed refund and restock.
type ReturnRefundedEvent struct {
	ReturnRequestID  uuid.UUID `json:"return_request_id"`
	TenantID         uuid.UUID `json:"tenant_id"`
	OrderID          uuid.UUID `json:"order_id"`
	RefundID         uuid.UUID `json:"refund_id"`
	AmountCents      int       `json:"amount_cents"`
	ProviderRefundID string    `json:"provider_refund_id"`
}

// ReturnRejectedEvent is emitted when inspection rejects every item.
type ReturnRejectedEvent struct {
	ReturnRequestID uuid.UUID `json:"return_request_id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	OrderID         uuid.UUID `json:"order_id"`
}

// InventoryLowStockEvent fires when a deduct drops a level to or below its
// reorder point.
type InventoryLowStockEvent struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	ProductID    uuid.UUID `json:"product_id"`
	VariantID    uuid.UUID `json:"variant_id"`
	StockQty     int       `json:"stock_qty"`
	ReorderPoint int       `json:"reorder_point"`
}

// InventoryAdjustedEvent records a manual stock correction.
type InventoryAdjustedEvent struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	ProductID uuid.UUID `json:"product_id"`
	VariantID uuid.UUID `json:"variant_id"`
	Delta     int       `json:"delta"`
	StockQty  int       `json:"stock_qty"`
	Reason    string    `json:"reason,omitempty"`
}
