package orders

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/internal/inventory"
	"github.com/kestrelcommerce/fulfillment-backend/internal/ledger"
	"github.com/kestrelcommerce/fulfillment-backend/internal/reservations"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/metrics"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox/payloads"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/pagination"
)

// ErrAlreadyProcessed marks a payment event whose effect was already applied.
// Webhook handlers acknowledge it instead of propagating, so provider retries
// stop.
var ErrAlreadyProcessed = pkgerrors.New(pkgerrors.CodeConflict, "payment event already processed")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// reservationManager is the slice of the reservations service the lifecycle
// drives: reserve at placement, confirm on payment success, release otherwise.
type reservationManager interface {
	Reserve(ctx context.Context, tx *gorm.DB, input reservations.ReserveInput) (*models.InventoryReservation, error)
	Confirm(ctx context.Context, tx *gorm.DB, tenantID, orderID uuid.UUID) error
	Release(ctx context.Context, tx *gorm.DB, tenantID, orderID uuid.UUID) error
	GetByOrderID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.InventoryReservation, error)
}

// stockLedger covers the stock reads and restores the lifecycle needs outside
// the reservation path.
type stockLedger interface {
	GetLevel(ctx context.Context, tenantID, productID, variantID uuid.UUID) (int, error)
	Restore(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, lines []inventory.Line) error
}

type ledgerRecorder interface {
	WithTx(tx *gorm.DB) ledger.Service
}

// Service drives the order state machine. The payment axis moves on provider
// webhooks, the fulfillment axis on Advance, and both feed the reservation
// lifecycle.
type Service interface {
	Place(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
	HandlePaymentEvent(ctx context.Context, event PaymentEvent) error
	Cancel(ctx context.Context, tenantID, orderID uuid.UUID) error
	Advance(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	GetByID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, tenantID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error)
}

type service struct {
	repo         Repository
	tx           txRunner
	outbox       outboxPublisher
	reservations reservationManager
	stock        stockLedger
	ledger       ledgerRecorder
	mets         *metrics.FulfillmentMetrics
	now          func() time.Time
}

// NewService builds the order lifecycle service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, resv reservationManager, stock stockLedger, ledg ledgerRecorder, mets *metrics.FulfillmentMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if resv == nil {
		return nil, fmt.Errorf("reservation manager required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if ledg == nil {
		return nil, fmt.Errorf("ledger recorder required")
	}
	return &service{
		repo:         repo,
		tx:           tx,
		outbox:       outbox,
		reservations: resv,
		stock:        stock,
		ledger:       ledg,
		mets:         mets,
		now:          time.Now,
	}, nil
}

func (s *service) Place(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order must have at least one item")
	}
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
		}
	}
	if input.DiscountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount cannot be negative")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
	}

	// Availability screen before anything is written. The authoritative check
	// is the guarded deduct at confirm time; this one just fails obvious
	// out-of-stock carts fast.
	for _, item := range input.Items {
		qty, err := s.stock.GetLevel(ctx, input.TenantID, item.ProductID, item.VariantID)
		if err != nil {
			return nil, err
		}
		if qty < item.Qty {
			return nil, pkgerrors.New(pkgerrors.CodeStockUnavailable,
				fmt.Sprintf("product %s has insufficient stock", item.ProductID))
		}
	}

	productIDs := make([]uuid.UUID, 0, len(input.Items))
	for _, item := range input.Items {
		productIDs = append(productIDs, item.ProductID)
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		products, err := repo.FindProducts(ctx, input.TenantID, productIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}
		productsByID := make(map[uuid.UUID]models.Product, len(products))
		for _, product := range products {
			productsByID[product.ID] = product
		}

		subtotal := 0
		items := make([]models.OrderItem, 0, len(input.Items))
		lines := make([]inventory.Line, 0, len(input.Items))
		for _, item := range input.Items {
			product, ok := productsByID[item.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound,
					fmt.Sprintf("product %s not found", item.ProductID))
			}
			lineTotal := product.UnitPriceCents * item.Qty
			subtotal += lineTotal
			items = append(items, models.OrderItem{
				ProductID:      product.ID,
				VariantID:      item.VariantID,
				SKU:            product.SKU,
				Name:           product.Name,
				UnitPriceCents: product.UnitPriceCents,
				Qty:            item.Qty,
				TotalCents:     lineTotal,
			})
			lines = append(lines, inventory.Line{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Qty:       item.Qty,
			})
		}
		if input.DiscountCents > subtotal {
			return pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds subtotal")
		}

		orderNumber, err := repo.NextOrderNumber(ctx, input.TenantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
		}

		order, err = repo.Create(ctx, &models.Order{
			TenantID:      input.TenantID,
			CustomerID:    input.CustomerID,
			OrderNumber:   orderNumber,
			Status:        enums.OrderStatusPending,
			PaymentStatus: enums.PaymentStatusPending,
			RefundStatus:  enums.RefundStatusNone,
			Currency:      currency,
			SubtotalCents: subtotal,
			DiscountCents: input.DiscountCents,
			TotalCents:    subtotal - input.DiscountCents,
			Notes:         input.Notes,
			Items:         items,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		reservation, err := s.reservations.Reserve(ctx, tx, reservations.ReserveInput{
			TenantID: input.TenantID,
			OrderID:  order.ID,
			Lines:    lines,
		})
		if err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderPlacedEvent{
				OrderID:       order.ID,
				TenantID:      order.TenantID,
				CustomerID:    order.CustomerID,
				ReservationID: reservation.ID,
				TotalCents:    order.TotalCents,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// HandlePaymentEvent dispatches a provider notification to the matching
// transition. The switch is exhaustive over the closed event set.
func (s *service) HandlePaymentEvent(ctx context.Context, event PaymentEvent) error {
	var err error
	switch e := event.(type) {
	case PaymentSucceeded:
		err = s.handlePaymentSucceeded(ctx, e)
	case PaymentFailed:
		err = s.handlePaymentFailed(ctx, e)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment event variant")
	}
	if stdErrors.Is(err, ErrAlreadyProcessed) {
		s.mets.IncWebhookReplay()
	}
	return err
}

func (s *service) handlePaymentSucceeded(ctx context.Context, event PaymentSucceeded) error {
	if event.TenantID == uuid.Nil || event.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant and order ids required")
	}
	if event.PaymentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, event.TenantID, event.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		switch order.PaymentStatus {
		case enums.PaymentStatusCompleted, enums.PaymentStatusRefunded:
			return ErrAlreadyProcessed
		case enums.PaymentStatusFailed:
			return pkgerrors.New(pkgerrors.CodeConflict, "payment already failed for this order")
		}

		if err := s.reservations.Confirm(ctx, tx, event.TenantID, event.OrderID); err != nil {
			return err
		}

		now := s.now().UTC()
		if err := repo.Update(ctx, order.ID, map[string]any{
			"payment_status": enums.PaymentStatusCompleted,
			"status":         enums.OrderStatusProcessing,
			"payment_id":     event.PaymentID,
			"updated_at":     now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}

		metadata, _ := json.Marshal(map[string]string{"payment_id": event.PaymentID})
		if _, err := s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
			TenantID:    order.TenantID,
			OrderID:     order.ID,
			Type:        enums.LedgerEventTypePaymentCompleted,
			AmountCents: order.TotalCents,
			Metadata:    metadata,
		}); err != nil {
			return err
		}

		reservation, err := s.reservations.GetByOrderID(ctx, event.TenantID, event.OrderID)
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderConfirmed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderConfirmedEvent{
				OrderID:       order.ID,
				TenantID:      order.TenantID,
				ReservationID: reservation.ID,
				PaymentID:     event.PaymentID,
				ConfirmedAt:   now,
			},
		})
	})
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStockUnavailable {
		// Payment cleared but the stock is gone. Fail the order and flag it
		// for manual follow-up; the money side needs an operator refund.
		return s.failConfirmedPayment(ctx, event)
	}
	return err
}

// failConfirmedPayment runs after a confirm-time stock failure rolled back.
// The reservation is still held here, so the usual release path applies.
func (s *service) failConfirmedPayment(ctx context.Context, event PaymentSucceeded) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, event.TenantID, event.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if err := s.reservations.Release(ctx, tx, event.TenantID, event.OrderID); err != nil {
			return err
		}

		now := s.now().UTC()
		if err := repo.Update(ctx, order.ID, map[string]any{
			"status":         enums.OrderStatusCancelled,
			"payment_status": enums.PaymentStatusFailed,
			"needs_review":   true,
			"payment_id":     event.PaymentID,
			"cancelled_at":   now,
			"updated_at":     now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}

		metadata, _ := json.Marshal(map[string]string{
			"payment_id": event.PaymentID,
			"reason":     "stock_unavailable_at_confirm",
		})
		if _, err := s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
			TenantID:    order.TenantID,
			OrderID:     order.ID,
			Type:        enums.LedgerEventTypePaymentFailed,
			AmountCents: order.TotalCents,
			Metadata:    metadata,
		}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderNeedsReview,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderNeedsReviewEvent{
				OrderID:  order.ID,
				TenantID: order.TenantID,
				Reason:   "stock unavailable at payment confirmation",
			},
		})
	})
}

func (s *service) handlePaymentFailed(ctx context.Context, event PaymentFailed) error {
	if event.TenantID == uuid.Nil || event.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant and order ids required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, event.TenantID, event.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		switch order.PaymentStatus {
		case enums.PaymentStatusFailed:
			return ErrAlreadyProcessed
		case enums.PaymentStatusCompleted, enums.PaymentStatusRefunded:
			// Out-of-order delivery. A confirmed reservation must not be
			// released by a stale failure notification.
			return pkgerrors.New(pkgerrors.CodeConflict, "stale payment failure for a completed order")
		}

		if err := s.reservations.Release(ctx, tx, event.TenantID, event.OrderID); err != nil {
			return err
		}

		now := s.now().UTC()
		if err := repo.Update(ctx, order.ID, map[string]any{
			"payment_status": enums.PaymentStatusFailed,
			"status":         enums.OrderStatusCancelled,
			"cancelled_at":   now,
			"updated_at":     now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}

		metadata, _ := json.Marshal(map[string]string{"reason": event.Reason})
		if _, err := s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
			TenantID:    order.TenantID,
			OrderID:     order.ID,
			Type:        enums.LedgerEventTypePaymentFailed,
			AmountCents: order.TotalCents,
			Metadata:    metadata,
		}); err != nil {
			return err
		}

		reservation, err := s.reservations.GetByOrderID(ctx, event.TenantID, event.OrderID)
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderPaymentFailedEvent{
				OrderID:       order.ID,
				TenantID:      order.TenantID,
				ReservationID: reservation.ID,
				Reason:        event.Reason,
			},
		})
	})
}

func (s *service) Cancel(ctx context.Context, tenantID, orderID uuid.UUID) error {
	if tenantID == uuid.Nil || orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant and order ids required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, tenantID, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		switch order.Status {
		case enums.OrderStatusCancelled:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already cancelled")
		case enums.OrderStatusShipped, enums.OrderStatusDelivered:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already left the warehouse")
		}

		now := s.now().UTC()
		stockRestored := false
		updates := map[string]any{
			"status":       enums.OrderStatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		}

		switch order.PaymentStatus {
		case enums.PaymentStatusPending:
			// Nothing deducted yet, releasing the hold is enough.
			if err := s.reservations.Release(ctx, tx, tenantID, orderID); err != nil {
				return err
			}
		case enums.PaymentStatusCompleted:
			// Stock was deducted at confirm. Put it back and flag the order so
			// an operator settles the payment side.
			lines := make([]inventory.Line, 0, len(order.Items))
			for _, item := range order.Items {
				lines = append(lines, inventory.Line{
					ProductID: item.ProductID,
					VariantID: item.VariantID,
					Qty:       item.Qty,
				})
			}
			if err := s.stock.Restore(ctx, tx, tenantID, lines); err != nil {
				return err
			}
			stockRestored = true
			updates["needs_review"] = true
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be cancelled in its current payment state")
		}

		if err := repo.Update(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderCancelledEvent{
				OrderID:       order.ID,
				TenantID:      order.TenantID,
				PriorStatus:   order.Status,
				StockRestored: stockRestored,
				CancelledAt:   now,
			},
		})
	})
}

func (s *service) Advance(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	if tenantID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant and order ids required")
	}

	var advanced *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, tenantID, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		next, ok := order.Status.NextFulfillmentStatus()
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order cannot advance from %s", order.Status))
		}

		now := s.now().UTC()
		updates := map[string]any{
			"status":     next,
			"updated_at": now,
		}
		if next == enums.OrderStatusDelivered {
			updates["delivered_at"] = now
		}
		if err := repo.Update(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}

		order.Status = next
		if next == enums.OrderStatusDelivered {
			order.DeliveredAt = &now
		}
		advanced = order

		switch next {
		case enums.OrderStatusShipped:
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderShipped,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Data: payloads.OrderShippedEvent{
					OrderID:   order.ID,
					TenantID:  order.TenantID,
					ShippedAt: now,
				},
			})
		case enums.OrderStatusDelivered:
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderDelivered,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Data: payloads.OrderDeliveredEvent{
					OrderID:     order.ID,
					TenantID:    order.TenantID,
					DeliveredAt: now,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return advanced, nil
}

func (s *service) GetByID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, tenantID, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, tenantID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	list, err := s.repo.List(ctx, tenantID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}
