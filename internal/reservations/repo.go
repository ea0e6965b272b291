package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
)

// Repository defines persistence operations for inventory reservations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reservation *models.InventoryReservation) (*models.InventoryReservation, error)
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*models.InventoryReservation, error)
	FindByOrderID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.InventoryReservation, error)
	// ClaimHeld moves a reservation out of the held state. The WHERE guard on
	// status makes the transition happen at most once under concurrency.
	ClaimHeld(ctx context.Context, id uuid.UUID, to enums.ReservationStatus, now time.Time) (bool, error)
	FindStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]models.InventoryReservation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a reservations repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reservation *models.InventoryReservation) (*models.InventoryReservation, error) {
	if err := r.db.WithContext(ctx).Create(reservation).Error; err != nil {
		return nil, err
	}
	return reservation, nil
}

func (r *repository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*models.InventoryReservation, error) {
	var reservation models.InventoryReservation
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) FindByOrderID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.InventoryReservation, error) {
	var reservation models.InventoryReservation
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("tenant_id = ? AND order_id = ?", tenantID, orderID).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) ClaimHeld(ctx context.Context, id uuid.UUID, to enums.ReservationStatus, now time.Time) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	switch to {
	case enums.ReservationStatusConfirmed:
		updates["confirmed_at"] = now
	case enums.ReservationStatusReleased, enums.ReservationStatusExpired:
		updates["released_at"] = now
	}

	res := r.db.WithContext(ctx).
		Model(&models.InventoryReservation{}).
		Where("id = ? AND status = ?", id, enums.ReservationStatusHeld).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]models.InventoryReservation, error) {
	var reservations []models.InventoryReservation
	q := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", enums.ReservationStatusHeld, cutoff).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}
