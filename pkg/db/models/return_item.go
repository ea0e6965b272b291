package models

import (
	"time"

	"github.com/google/uuid"
)

// ReturnItem references one order item being sent back. Accepted stays nil
// until inspection records a decision; RefundPriceCents is only meaningful for
// accepted items.
type ReturnItem struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ReturnRequestID  uuid.UUID `gorm:"column:return_request_id;type:uuid;not null;index"`
	OrderItemID      uuid.UUID `gorm:"column:order_item_id;type:uuid;not null"`
	Qty              int       `gorm:"column:qty;not null"`
	Accepted         *bool     `gorm:"column:accepted"`
	RejectionReason  *string   `gorm:"column:rejection_reason"`
	RefundPriceCents int       `gorm:"column:refund_price_cents;not null;default:0"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
