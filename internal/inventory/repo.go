package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
)

// Repository defines persistence operations for inventory levels.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindLevel(ctx context.Context, tenantID, productID, variantID uuid.UUID) (*models.InventoryLevel, error)
	UpsertLevel(ctx context.Context, level *models.InventoryLevel) error
	// Deduct atomically decrements stock_qty when at least qty units are
	// available. Returns false when the guard rejects the decrement.
	Deduct(ctx context.Context, tenantID, productID, variantID uuid.UUID, qty int) (bool, error)
	Restore(ctx context.Context, tenantID, productID, variantID uuid.UUID, qty int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindLevel(ctx context.Context, tenantID, productID, variantID uuid.UUID) (*models.InventoryLevel, error) {
	var level models.InventoryLevel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ? AND variant_id = ?", tenantID, productID, variantID).
		First(&level).Error
	if err != nil {
		return nil, err
	}
	return &level, nil
}

func (r *repository) UpsertLevel(ctx context.Context, level *models.InventoryLevel) error {
	return r.db.WithContext(ctx).Save(level).Error
}

func (r *repository) Deduct(ctx context.Context, tenantID, productID, variantID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_levels
		SET stock_qty = stock_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND product_id = ? AND variant_id = ? AND stock_qty >= ?
	`, qty, tenantID, productID, variantID, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Restore(ctx context.Context, tenantID, productID, variantID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_levels
		SET stock_qty = stock_qty + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND product_id = ? AND variant_id = ?
	`, qty, tenantID, productID, variantID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
