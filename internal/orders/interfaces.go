package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	FindProducts(ctx context.Context, tenantID uuid.UUID, productIDs []uuid.UUID) ([]models.Product, error)
	NextOrderNumber(ctx context.Context, tenantID uuid.UUID) (int64, error)
	Update(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	List(ctx context.Context, tenantID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error)
	FindPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}
