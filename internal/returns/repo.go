package returns

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/pagination"
)

// Repository defines persistence operations for return requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.ReturnRequest) (*models.ReturnRequest, error)
	FindByID(ctx context.Context, tenantID, requestID uuid.UUID) (*models.ReturnRequest, error)
	FindActiveByOrderID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.ReturnRequest, error)
	// Transition moves a return between states. The WHERE guard on the current
	// status serializes racing writers; the loser sees false.
	Transition(ctx context.Context, requestID uuid.UUID, from, to enums.ReturnStatus, stamps map[string]any) (bool, error)
	UpdateItem(ctx context.Context, itemID uuid.UUID, updates map[string]any) error
	List(ctx context.Context, tenantID uuid.UUID, params pagination.Params, filters ReturnFilters) (*ReturnList, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a returns repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, request *models.ReturnRequest) (*models.ReturnRequest, error) {
	if err := r.db.WithContext(ctx).Create(request).Error; err != nil {
		return nil, err
	}
	return request, nil
}

func (r *repository) FindByID(ctx context.Context, tenantID, requestID uuid.UUID) (*models.ReturnRequest, error) {
	var request models.ReturnRequest
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("tenant_id = ? AND id = ?", tenantID, requestID).
		First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) FindActiveByOrderID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.ReturnRequest, error) {
	var request models.ReturnRequest
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ? AND status NOT IN ?",
			tenantID, orderID,
			[]enums.ReturnStatus{enums.ReturnStatusRefunded, enums.ReturnStatusRejected}).
		First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) Transition(ctx context.Context, requestID uuid.UUID, from, to enums.ReturnStatus, stamps map[string]any) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for column, value := range stamps {
		updates[column] = value
	}
	res := r.db.WithContext(ctx).
		Model(&models.ReturnRequest{}).
		Where("id = ? AND status = ?", requestID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateItem(ctx context.Context, itemID uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.ReturnItem{}).
		Where("id = ?", itemID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, tenantID uuid.UUID, params pagination.Params, filters ReturnFilters) (*ReturnList, error) {
	limit := pagination.NormalizeLimit(params.Limit)

	q := r.db.WithContext(ctx).
		Model(&models.ReturnRequest{}).
		Preload("Items").
		Where("tenant_id = ?", tenantID)

	if filters.Status != nil {
		q = q.Where("status = ?", *filters.Status)
	}
	if filters.OrderID != nil {
		q = q.Where("order_id = ?", *filters.OrderID)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		q = q.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var requests []models.ReturnRequest
	if err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&requests).Error; err != nil {
		return nil, err
	}

	list := &ReturnList{Returns: make([]ReturnSummary, 0, len(requests))}
	if len(requests) > limit {
		last := requests[limit-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		requests = requests[:limit]
	}
	for _, request := range requests {
		list.Returns = append(list.Returns, ReturnSummary{
			ID:        request.ID,
			OrderID:   request.OrderID,
			Status:    request.Status,
			Reason:    request.Reason,
			ItemCount: len(request.Items),
			CreatedAt: request.CreatedAt,
		})
	}
	return list, nil
}
