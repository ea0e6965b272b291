package models

import (
	"time"

	"github.com/google/uuid"
)

// Refund records the outcome of a processed return: the amount actually
// refunded and the provider's reference for it.
type Refund struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID         uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;index"`
	OrderID          uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ReturnRequestID  uuid.UUID `gorm:"column:return_request_id;type:uuid;not null;uniqueIndex"`
	AmountCents      int       `gorm:"column:amount_cents;not null"`
	Provider         string    `gorm:"column:provider;not null"`
	ProviderRefundID string    `gorm:"column:provider_refund_id;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}
