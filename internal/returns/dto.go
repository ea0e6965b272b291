package returns

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
)

// OpenReturnItemInput is one order item the customer wants to send back.
type OpenReturnItemInput struct {
	OrderItemID uuid.UUID
	Qty         int
}

// OpenReturnInput captures a new return request for a delivered order.
type OpenReturnInput struct {
	TenantID uuid.UUID
	OrderID  uuid.UUID
	Reason   string
	Items    []OpenReturnItemInput
}

// ItemDecision records one inspection outcome. RejectionReason is required
// when Accepted is false.
type ItemDecision struct {
	ReturnItemID    uuid.UUID
	Accepted        bool
	RejectionReason string
}

// InspectInput carries the full inspection sheet for a received return.
type InspectInput struct {
	TenantID        uuid.UUID
	ReturnRequestID uuid.UUID
	Decisions       []ItemDecision
}

// ReturnFilters describe the inputs supported by the return list.
type ReturnFilters struct {
	Status  *enums.ReturnStatus
	OrderID *uuid.UUID
}

// ReturnSummary exposes the aggregated fields returned in return listings.
type ReturnSummary struct {
	ID        uuid.UUID          `json:"id"`
	OrderID   uuid.UUID          `json:"order_id"`
	Status    enums.ReturnStatus `json:"status"`
	Reason    string             `json:"reason"`
	ItemCount int                `json:"item_count"`
	CreatedAt time.Time          `json:"created_at"`
}

// ReturnList wraps the paginated returns plus the next page cursor.
type ReturnList struct {
	Returns    []ReturnSummary `json:"returns"`
	NextCursor string          `json:"next_cursor,omitempty"`
}
