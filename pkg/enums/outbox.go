package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregateReservation   OutboxAggregateType = "inventory_reservation"
	AggregateReturnRequest OutboxAggregateType = "return_request"
	AggregateInventory     OutboxAggregateType = "inventory_level"
	AggregateRefund        OutboxAggregateType = "refund"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateReservation,
	AggregateReturnRequest,
	AggregateInventory,
	AggregateRefund,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres. Downstream
// consumers (notification dispatch, email rendering, analytics) subscribe to
// these; the core only appends them inside the owning transaction.
type OutboxEventType string

const (
	EventOrderPlaced        OutboxEventType = "order_placed"
	EventOrderConfirmed     OutboxEventType = "order_confirmed"
	EventOrderPaymentFailed OutboxEventType = "order_payment_failed"
	EventOrderCancelled     OutboxEventType = "order_cancelled"
	EventOrderNeedsReview   OutboxEventType = "order_needs_review"
	EventOrderShipped       OutboxEventType = "order_shipped"
	EventOrderDelivered     OutboxEventType = "order_delivered"
	EventReservationExpired OutboxEventType = "reservation_expired"
	EventReturnOpened       OutboxEventType = "return_opened"
	EventReturnApproved     OutboxEventType = "return_approved"
	EventReturnReceived     OutboxEventType = "return_received"
	EventReturnInspected    OutboxEventType = "return_inspected"
	EventReturnRefunded     OutboxEventType = "return_refunded"
	EventReturnRejected     OutboxEventType = "return_rejected"
	EventInventoryLowStock  OutboxEventType = "inventory_low_stock"
	EventInventoryAdjusted  OutboxEventType = "inventory_adjusted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderConfirmed,
	EventOrderPaymentFailed,
	EventOrderCancelled,
	EventOrderNeedsReview,
	EventOrderShipped,
	EventOrderDelivered,
	EventReservationExpired,
	EventReturnOpened,
	EventReturnApproved,
	EventReturnReceived,
	EventReturnInspected,
	EventReturnRefunded,
	EventReturnRejected,
	EventInventoryLowStock,
	EventInventoryAdjusted,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
