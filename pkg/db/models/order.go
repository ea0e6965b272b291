package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
)

// Order carries the dual status/payment-status state machine. Orders are never
// deleted; cancellation and refunds are recorded as state, not removal.
type Order struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID      uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index"`
	CustomerID    uuid.UUID           `gorm:"column:customer_id;type:uuid;not null"`
	OrderNumber   int64               `gorm:"column:order_number;not null"`
	Status        enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	RefundStatus  enums.RefundStatus  `gorm:"column:refund_status;type:refund_status;not null;default:'none'"`
	Currency      enums.Currency      `gorm:"column:currency;type:text;not null;default:'USD'"`
	SubtotalCents int                 `gorm:"column:subtotal_cents;not null"`
	DiscountCents int                 `gorm:"column:discount_cents;not null;default:0"`
	TotalCents    int                 `gorm:"column:total_cents;not null"`
	PaymentID     *string             `gorm:"column:payment_id"`
	NeedsReview   bool                `gorm:"column:needs_review;not null;default:false"`
	Notes         *string             `gorm:"column:notes"`
	PlacedAt      time.Time           `gorm:"column:placed_at;autoCreateTime"`
	DeliveredAt   *time.Time          `gorm:"column:delivered_at"`
	CancelledAt   *time.Time          `gorm:"column:cancelled_at"`
	Items         []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
