package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
)

// Product is a sellable unit owned by a tenant. Stock is not stored here;
// the inventory_levels table is the authoritative counter and is only mutated
// through the stock ledger.
type Product struct {
	ID             uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID       uuid.UUID      `gorm:"column:tenant_id;type:uuid;not null;index"`
	SKU            string         `gorm:"column:sku;not null"`
	Name           string         `gorm:"column:name;not null"`
	UnitPriceCents int            `gorm:"column:unit_price_cents;not null"`
	Currency       enums.Currency `gorm:"column:currency;type:text;not null;default:'USD'"`
	ReorderPoint   int            `gorm:"column:reorder_point;not null;default:0"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
