package paymentwebhook

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/kestrelcommerce/fulfillment-backend/internal/orders"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
)

// ErrUnknownEventType marks a provider notification this service does not
// consume. Callers acknowledge the delivery and drop it; erroring would put
// the provider into a retry loop over an event nobody handles.
var ErrUnknownEventType = errors.New("unknown payment event type")

const (
	// EventTypeSucceeded is the provider notification for a completed charge.
	EventTypeSucceeded = "payment.succeeded"
	// EventTypeFailed is the provider notification for a charge that did not
	// complete.
	EventTypeFailed = "payment.failed"
)

// Event is the wire envelope the payment provider delivers. EventID keys the
// replay guard; the rest maps onto the order lifecycle's payment events.
type Event struct {
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	TenantID  uuid.UUID `json:"tenant_id"`
	OrderID   uuid.UUID `json:"order_id"`
	PaymentID string    `json:"payment_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// PaymentEvent converts the envelope into the lifecycle's closed event set.
func (e Event) PaymentEvent() (orders.PaymentEvent, error) {
	if strings.TrimSpace(e.EventID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	if e.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if e.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	switch e.Type {
	case EventTypeSucceeded:
		if strings.TrimSpace(e.PaymentID) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required for a succeeded event")
		}
		return orders.PaymentSucceeded{
			TenantID:  e.TenantID,
			OrderID:   e.OrderID,
			PaymentID: e.PaymentID,
		}, nil
	case EventTypeFailed:
		reason := strings.TrimSpace(e.Reason)
		if reason == "" {
			reason = "payment declined"
		}
		return orders.PaymentFailed{
			TenantID: e.TenantID,
			OrderID:  e.OrderID,
			Reason:   reason,
		}, nil
	default:
		return nil, ErrUnknownEventType
	}
}
