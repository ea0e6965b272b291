package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
)

// InventoryReservation records the intent to deduct specific stock quantities
// for one order. Nothing is deducted while the reservation is held; the deduct
// happens inside the confirm transition, exactly once.
type InventoryReservation struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID    uuid.UUID               `gorm:"column:tenant_id;type:uuid;not null;index"`
	OrderID     uuid.UUID               `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Status      enums.ReservationStatus `gorm:"column:status;type:reservation_status;not null;default:'held'"`
	ExpiresAt   *time.Time              `gorm:"column:expires_at;index"`
	ConfirmedAt *time.Time              `gorm:"column:confirmed_at"`
	ReleasedAt  *time.Time              `gorm:"column:released_at"`
	Lines       []ReservationLine       `gorm:"foreignKey:ReservationID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// ReservationLine is one (product, variant, qty) hold inside a reservation.
type ReservationLine struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ReservationID uuid.UUID `gorm:"column:reservation_id;type:uuid;not null;index"`
	ProductID     uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	VariantID     uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
	Qty           int       `gorm:"column:qty;not null"`
}
