package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
)

// ReturnRequest tracks a post-delivery return through approval, receipt,
// inspection, and refund. Each transition stamps its own timestamp so the
// workflow history is reconstructible without an audit table.
type ReturnRequest struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID    uuid.UUID          `gorm:"column:tenant_id;type:uuid;not null;index"`
	OrderID     uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	Status      enums.ReturnStatus `gorm:"column:status;type:return_status;not null;default:'pending'"`
	Reason      string             `gorm:"column:reason;not null"`
	Note        *string            `gorm:"column:note"`
	ApprovedAt  *time.Time         `gorm:"column:approved_at"`
	ReceivedAt  *time.Time         `gorm:"column:received_at"`
	InspectedAt *time.Time         `gorm:"column:inspected_at"`
	RefundedAt  *time.Time         `gorm:"column:refunded_at"`
	RejectedAt  *time.Time         `gorm:"column:rejected_at"`
	Items       []ReturnItem       `gorm:"foreignKey:ReturnRequestID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
