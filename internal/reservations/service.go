package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/internal/inventory"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/metrics"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// stockLedger is the slice of the inventory service a reservation needs:
// deduction at confirm time. Holds never touch stock.
type stockLedger interface {
	Deduct(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, lines []inventory.Line) error
}

// ReserveInput captures a new hold against stock for one order.
type ReserveInput struct {
	TenantID uuid.UUID
	OrderID  uuid.UUID
	Lines    []inventory.Line
}

// Service manages the reservation lifecycle. A reservation is created held,
// and leaves held exactly once: confirmed (stock deducted), released, or
// expired. Reserve, Confirm, and Release run inside the caller's transaction
// so the reservation transition commits atomically with the order change that
// drives it.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.InventoryReservation, error)
	Confirm(ctx context.Context, tx *gorm.DB, tenantID, orderID uuid.UUID) error
	Release(ctx context.Context, tx *gorm.DB, tenantID, orderID uuid.UUID) error
	ExpireStale(ctx context.Context, batchSize int) (int, error)
	GetByOrderID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.InventoryReservation, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	stock  stockLedger
	mets   *metrics.FulfillmentMetrics
	ttl    time.Duration
	now    func() time.Time
}

// NewService builds the reservation service. ttl bounds how long a hold stays
// claimable before the expiry sweep picks it up.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, stock stockLedger, mets *metrics.FulfillmentMetrics, ttl time.Duration) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("reservations repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("reservation ttl must be positive")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: outbox,
		stock:  stock,
		mets:   mets,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (s *service) Reserve(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.InventoryReservation, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required to reserve stock")
	}
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}
	for _, line := range input.Lines {
		if line.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
		}
	}

	repo := s.repo.WithTx(tx)
	if existing, err := repo.FindByOrderID(ctx, input.TenantID, input.OrderID); err == nil && existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already has a reservation")
	} else if err != nil && err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing reservation")
	}

	expiresAt := s.now().UTC().Add(s.ttl)
	reservation := &models.InventoryReservation{
		TenantID:  input.TenantID,
		OrderID:   input.OrderID,
		Status:    enums.ReservationStatusHeld,
		ExpiresAt: &expiresAt,
	}
	for _, line := range input.Lines {
		reservation.Lines = append(reservation.Lines, models.ReservationLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Qty:       line.Qty,
		})
	}

	created, err := repo.Create(ctx, reservation)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
	}
	s.mets.IncReservationTransition(string(enums.ReservationStatusHeld))
	return created, nil
}

func (s *service) Confirm(ctx context.Context, tx *gorm.DB, tenantID, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required to confirm reservation")
	}

	repo := s.repo.WithTx(tx)
	reservation, err := repo.FindByOrderID(ctx, tenantID, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}

	switch reservation.Status {
	case enums.ReservationStatusConfirmed:
		// Replayed confirm. Stock was already deducted once.
		return nil
	case enums.ReservationStatusReleased, enums.ReservationStatusExpired:
		return pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("reservation is %s and can no longer be confirmed", reservation.Status))
	}

	claimed, err := repo.ClaimHeld(ctx, reservation.ID, enums.ReservationStatusConfirmed, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim reservation")
	}
	if !claimed {
		return pkgerrors.New(pkgerrors.CodeConflict, "reservation left held concurrently")
	}

	lines := make([]inventory.Line, 0, len(reservation.Lines))
	for _, line := range reservation.Lines {
		lines = append(lines, inventory.Line{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Qty:       line.Qty,
		})
	}
	if err := s.stock.Deduct(ctx, tx, tenantID, lines); err != nil {
		// The rollback leaves the reservation held for the caller to handle.
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStockUnavailable {
			s.mets.IncStockDeductFailure()
		}
		return err
	}

	s.mets.IncReservationTransition(string(enums.ReservationStatusConfirmed))
	return nil
}

func (s *service) Release(ctx context.Context, tx *gorm.DB, tenantID, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required to release reservation")
	}

	repo := s.repo.WithTx(tx)
	reservation, err := repo.FindByOrderID(ctx, tenantID, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}

	switch reservation.Status {
	case enums.ReservationStatusReleased, enums.ReservationStatusExpired:
		// Nothing held, nothing to undo.
		return nil
	case enums.ReservationStatusConfirmed:
		return pkgerrors.New(pkgerrors.CodeConflict, "reservation already confirmed")
	}

	claimed, err := repo.ClaimHeld(ctx, reservation.ID, enums.ReservationStatusReleased, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release reservation")
	}
	if !claimed {
		return pkgerrors.New(pkgerrors.CodeConflict, "reservation left held concurrently")
	}
	s.mets.IncReservationTransition(string(enums.ReservationStatusReleased))
	return nil
}

func (s *service) ExpireStale(ctx context.Context, batchSize int) (int, error) {
	cutoff := s.now().UTC()
	stale, err := s.repo.FindStaleHeld(ctx, cutoff, batchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find stale reservations")
	}

	expired := 0
	for _, reservation := range stale {
		reservation := reservation
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			claimed, err := repo.ClaimHeld(ctx, reservation.ID, enums.ReservationStatusExpired, cutoff)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire reservation")
			}
			if !claimed {
				// Confirmed or released between the sweep query and the claim.
				return nil
			}
			expired++
			s.mets.IncReservationTransition(string(enums.ReservationStatusExpired))
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReservationExpired,
				AggregateType: enums.AggregateReservation,
				AggregateID:   reservation.ID,
				Version:       1,
				Data: payloads.ReservationExpiredEvent{
					ReservationID: reservation.ID,
					TenantID:      reservation.TenantID,
					OrderID:       reservation.OrderID,
					ExpiredAt:     cutoff,
				},
			})
		})
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

func (s *service) GetByOrderID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.InventoryReservation, error) {
	reservation, err := s.repo.FindByOrderID(ctx, tenantID, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	return reservation, nil
}
