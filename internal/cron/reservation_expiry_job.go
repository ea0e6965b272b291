package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/logger"
)

const (
	defaultSweepBatch = 100
	defaultPendingTTL = 24 * time.Hour
)

type reservationSweeper interface {
	ExpireStale(ctx context.Context, batchSize int) (int, error)
}

type pendingPaymentReader interface {
	FindPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderCanceller interface {
	Cancel(ctx context.Context, tenantID, orderID uuid.UUID) error
}

// ReservationExpiryJobParams configure the stale-hold sweeper.
type ReservationExpiryJobParams struct {
	Logger       *logger.Logger
	Reservations reservationSweeper
	Orders       pendingPaymentReader
	Canceller    orderCanceller
	BatchSize    int
	// PendingTTL is how long an order may wait for payment before the sweep
	// cancels it along with its expired hold.
	PendingTTL time.Duration
}

// NewReservationExpiryJob builds the job that expires stale holds and cancels
// the unpaid orders behind them.
func NewReservationExpiryJob(params ReservationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation sweeper required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("pending order reader required")
	}
	if params.Canceller == nil {
		return nil, fmt.Errorf("order canceller required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &reservationExpiryJob{
		logg:         params.Logger,
		reservations: params.Reservations,
		orders:       params.Orders,
		canceller:    params.Canceller,
		batch:        batch,
		pendingTTL:   ttl,
		now:          time.Now,
	}, nil
}

type reservationExpiryJob struct {
	logg         *logger.Logger
	reservations reservationSweeper
	orders       pendingPaymentReader
	canceller    orderCanceller
	batch        int
	pendingTTL   time.Duration
	now          func() time.Time
}

func (j *reservationExpiryJob) Name() string { return "reservation-expiry" }

func (j *reservationExpiryJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.sweepExpiredHolds(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.cancelUnpaidOrders(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *reservationExpiryJob) sweepExpiredHolds(ctx context.Context) error {
	expired, err := j.reservations.ExpireStale(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("expire stale reservations: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": expired})
	j.logg.Info(logCtx, "reservation expiry sweep complete")
	return nil
}

func (j *reservationExpiryJob) cancelUnpaidOrders(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.pendingTTL)
	stale, err := j.orders.FindPendingPaymentBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query stale unpaid orders: %w", err)
	}

	cancelled := 0
	var errs []error
	for _, order := range stale {
		if err := j.canceller.Cancel(ctx, order.TenantID, order.ID); err != nil {
			// A racing payment or cancel is fine; the order made progress
			// without us.
			if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeStateConflict {
				continue
			}
			errs = append(errs, fmt.Errorf("cancel unpaid order %s: %w", order.ID, err))
			continue
		}
		cancelled++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"scanned":   len(stale),
		"cancelled": cancelled,
	})
	j.logg.Info(logCtx, "unpaid order sweep complete")
	return multierr.Combine(errs...)
}
