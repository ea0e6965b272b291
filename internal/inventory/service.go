package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Line is one (product, variant, qty) movement against the stock ledger.
// VariantID is the zero UUID for products without variants.
type Line struct {
	ProductID uuid.UUID
	VariantID uuid.UUID
	Qty       int
}

// AdjustInput captures a manual stock correction.
type AdjustInput struct {
	TenantID  uuid.UUID
	ProductID uuid.UUID
	VariantID uuid.UUID
	Delta     int
	Reason    string
}

// Service owns every stock_qty mutation. Deduct and Restore run inside the
// caller's transaction so stock movements commit atomically with the state
// transition that caused them.
type Service interface {
	Deduct(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, lines []Line) error
	Restore(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, lines []Line) error
	Adjust(ctx context.Context, input AdjustInput) (int, error)
	GetLevel(ctx context.Context, tenantID, productID, variantID uuid.UUID) (int, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// NewService builds the stock ledger service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: outbox}, nil
}

func (s *service) Deduct(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, lines []Line) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock deduction")
	}
	if err := validateLines(tenantID, lines); err != nil {
		return err
	}

	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		ok, err := repo.Deduct(ctx, tenantID, line.ProductID, line.VariantID, line.Qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deduct stock")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStockUnavailable,
				fmt.Sprintf("insufficient stock for product %s", line.ProductID))
		}
	}

	for _, line := range lines {
		if err := s.maybeEmitLowStock(ctx, tx, repo, tenantID, line); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) Restore(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, lines []Line) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock restore")
	}
	if err := validateLines(tenantID, lines); err != nil {
		return err
	}

	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		if err := repo.Restore(ctx, tenantID, line.ProductID, line.VariantID, line.Qty); err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound,
					fmt.Sprintf("no inventory level for product %s", line.ProductID))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore stock")
		}
	}
	return nil
}

func (s *service) Adjust(ctx context.Context, input AdjustInput) (int, error) {
	if input.TenantID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.ProductID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.Delta == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "delta must be non-zero")
	}

	var newQty int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if input.Delta > 0 {
			if err := repo.Restore(ctx, input.TenantID, input.ProductID, input.VariantID, input.Delta); err != nil {
				if err == gorm.ErrRecordNotFound {
					return pkgerrors.New(pkgerrors.CodeNotFound, "inventory level not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust stock")
			}
		} else {
			ok, err := repo.Deduct(ctx, input.TenantID, input.ProductID, input.VariantID, -input.Delta)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust stock")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeStockUnavailable, "adjustment would drive stock negative")
			}
		}

		level, err := repo.FindLevel(ctx, input.TenantID, input.ProductID, input.VariantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload inventory level")
		}
		newQty = level.StockQty

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInventoryAdjusted,
			AggregateType: enums.AggregateInventory,
			AggregateID:   input.ProductID,
			Version:       1,
			Data: payloads.InventoryAdjustedEvent{
				TenantID:  input.TenantID,
				ProductID: input.ProductID,
				VariantID: input.VariantID,
				Delta:     input.Delta,
				StockQty:  level.StockQty,
				Reason:    input.Reason,
			},
		})
	})
	if err != nil {
		return 0, err
	}
	return newQty, nil
}

func (s *service) GetLevel(ctx context.Context, tenantID, productID, variantID uuid.UUID) (int, error) {
	level, err := s.repo.FindLevel(ctx, tenantID, productID, variantID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "inventory level not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory level")
	}
	return level.StockQty, nil
}

func (s *service) maybeEmitLowStock(ctx context.Context, tx *gorm.DB, repo Repository, tenantID uuid.UUID, line Line) error {
	level, err := repo.FindLevel(ctx, tenantID, line.ProductID, line.VariantID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload inventory level")
	}
	if level.ReorderPoint <= 0 || level.StockQty > level.ReorderPoint {
		return nil
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInventoryLowStock,
		AggregateType: enums.AggregateInventory,
		AggregateID:   line.ProductID,
		Version:       1,
		Data: payloads.InventoryLowStockEvent{
			TenantID:     tenantID,
			ProductID:    line.ProductID,
			VariantID:    line.VariantID,
			StockQty:     level.StockQty,
			ReorderPoint: level.ReorderPoint,
		},
	})
}

func validateLines(tenantID uuid.UUID, lines []Line) error {
	if tenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
		}
	}
	return nil
}
