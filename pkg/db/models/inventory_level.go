package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryLevel is the authoritative available-stock counter per tenant,
// product, and variant. VariantID uses the zero UUID when the product has no
// variants so the (tenant, product, variant) key stays a single unique index
// and the conditional decrement stays a single statement.
type InventoryLevel struct {
	TenantID     uuid.UUID `gorm:"column:tenant_id;type:uuid;primaryKey"`
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	VariantID    uuid.UUID `gorm:"column:variant_id;type:uuid;primaryKey"`
	StockQty     int       `gorm:"column:stock_qty;not null;default:0"`
	ReorderPoint int       `gorm:"column:reorder_point;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
