package refunds

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/internal/inventory"
	"github.com/kestrelcommerce/fulfillment-backend/internal/ledger"
	"github.com/kestrelcommerce/fulfillment-backend/internal/orders"
	"github.com/kestrelcommerce/fulfillment-backend/internal/returns"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/metrics"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox/payloads"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/square"
)

const providerName = "square"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// paymentProvider issues the money movement. Satisfied by the Square client.
type paymentProvider interface {
	RefundPayment(ctx context.Context, params square.RefundCreateParams) (*sq.PaymentRefund, error)
}

type stockRestorer interface {
	Restore(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, lines []inventory.Line) error
}

type ledgerRecorder interface {
	WithTx(tx *gorm.DB) ledger.Service
}

// Processor settles inspected returns: it moves money at the provider, then
// records the refund, restores accepted stock, and closes the return in a
// single transaction.
type Processor interface {
	Process(ctx context.Context, tenantID, returnRequestID uuid.UUID) (*models.Refund, error)
}

type processor struct {
	repo     Repository
	returns  returns.Repository
	orders   orders.Repository
	tx       txRunner
	outbox   outboxPublisher
	stock    stockRestorer
	ledger   ledgerRecorder
	provider paymentProvider
	mets     *metrics.FulfillmentMetrics
	now      func() time.Time
}

// NewProcessor wires the refund processor and validates its collaborators.
func NewProcessor(repo Repository, returnsRepo returns.Repository, ordersRepo orders.Repository, tx txRunner, outboxPub outboxPublisher, stock stockRestorer, ledg ledgerRecorder, provider paymentProvider, mets *metrics.FulfillmentMetrics) (Processor, error) {
	if repo == nil {
		return nil, fmt.Errorf("refunds repository required")
	}
	if returnsRepo == nil {
		return nil, fmt.Errorf("returns repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxPub == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock restorer required")
	}
	if ledg == nil {
		return nil, fmt.Errorf("ledger recorder required")
	}
	if provider == nil {
		return nil, fmt.Errorf("payment provider required")
	}
	return &processor{
		repo:     repo,
		returns:  returnsRepo,
		orders:   ordersRepo,
		tx:       tx,
		outbox:   outboxPub,
		stock:    stock,
		ledger:   ledg,
		provider: provider,
		mets:     mets,
		now:      time.Now,
	}, nil
}

func (p *processor) Process(ctx context.Context, tenantID, returnRequestID uuid.UUID) (*models.Refund, error) {
	if tenantID == uuid.Nil || returnRequestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant and return ids required")
	}

	request, err := p.returns.FindByID(ctx, tenantID, returnRequestID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "return request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load return request")
	}
	if request.Status != enums.ReturnStatusInspected {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("return cannot be refunded from %s", request.Status))
	}
	if _, err := p.repo.FindByReturnRequestID(ctx, tenantID, returnRequestID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "return already refunded")
	} else if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing refund")
	}

	order, err := p.orders.FindByID(ctx, tenantID, request.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.PaymentStatus != enums.PaymentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot refund an order with payment status %s", order.PaymentStatus))
	}
	if order.PaymentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvariant, "paid order missing payment reference")
	}

	itemsByID := make(map[uuid.UUID]models.OrderItem, len(order.Items))
	for _, item := range order.Items {
		itemsByID[item.ID] = item
	}

	amountCents := 0
	var restoreLines []inventory.Line
	for _, item := range request.Items {
		if item.Accepted == nil || !*item.Accepted {
			continue
		}
		ordered, ok := itemsByID[item.OrderItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeInvariant, "return item references unknown order item")
		}
		amountCents += item.RefundPriceCents
		restoreLines = append(restoreLines, inventory.Line{
			ProductID: ordered.ProductID,
			VariantID: ordered.VariantID,
			Qty:       item.Qty,
		})
	}
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvariant, "inspected return carries no accepted amount")
	}

	previouslyRefunded := 0
	priorRefunds, err := p.repo.ListByOrderID(ctx, tenantID, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list prior refunds")
	}
	for _, prior := range priorRefunds {
		previouslyRefunded += prior.AmountCents
	}
	// The cap is an invariant, not a clamp. Exceeding it means inspection
	// priced the items wrong, and that needs a human, not a silent truncation.
	if previouslyRefunded+amountCents > order.TotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeInvariant,
			fmt.Sprintf("refund of %d cents would exceed order total %d (already refunded %d)",
				amountCents, order.TotalCents, previouslyRefunded))
	}

	// Money moves before the local transaction. The key is derived from the
	// return request, so a retry after a crash converges on the same provider
	// refund instead of paying twice.
	dollars := decimal.NewFromInt(int64(amountCents)).Div(decimal.NewFromInt(100))
	providerRefund, err := p.provider.RefundPayment(ctx, square.RefundCreateParams{
		PaymentID:      *order.PaymentID,
		AmountCents:    int64(amountCents),
		Currency:       order.Currency.String(),
		Reason:         fmt.Sprintf("return %s: %s (%s)", request.ID, request.Reason, dollars.StringFixed(2)),
		IdempotencyKey: fmt.Sprintf("return-%s", request.ID),
	})
	if err != nil {
		return nil, err
	}

	providerRefundID := providerRefund.GetID()
	refund := &models.Refund{
		TenantID:         tenantID,
		OrderID:          order.ID,
		ReturnRequestID:  request.ID,
		AmountCents:      amountCents,
		Provider:         providerName,
		ProviderRefundID: providerRefundID,
	}

	refundStatus := enums.RefundStatusPartial
	if previouslyRefunded+amountCents == order.TotalCents {
		refundStatus = enums.RefundStatusFull
	}

	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := p.repo.WithTx(tx).Create(ctx, refund); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "record refund")
		}

		now := p.now().UTC()
		ok, err := p.returns.WithTx(tx).Transition(ctx, request.ID,
			enums.ReturnStatusInspected, enums.ReturnStatusRefunded,
			map[string]any{"refunded_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close return")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "return left inspected concurrently")
		}

		orderUpdates := map[string]any{"refund_status": refundStatus}
		if refundStatus == enums.RefundStatusFull {
			orderUpdates["payment_status"] = enums.PaymentStatusRefunded
		}
		if err := p.orders.WithTx(tx).Update(ctx, order.ID, orderUpdates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order refund status")
		}

		// Only accepted items go back on the shelf.
		if err := p.stock.Restore(ctx, tx, tenantID, restoreLines); err != nil {
			return err
		}

		metadata, err := json.Marshal(map[string]string{
			"provider_refund_id": refund.ProviderRefundID,
			"return_request_id":  request.ID.String(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode ledger metadata")
		}
		if _, err := p.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
			TenantID:    tenantID,
			OrderID:     order.ID,
			Type:        enums.LedgerEventTypeRefundIssued,
			AmountCents: -amountCents,
			Metadata:    metadata,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund ledger event")
		}

		return p.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnRefunded,
			AggregateType: enums.AggregateReturnRequest,
			AggregateID:   request.ID,
			Version:       1,
			Data: payloads.ReturnRefundedEvent{
				ReturnRequestID:  request.ID,
				TenantID:         tenantID,
				OrderID:          order.ID,
				RefundID:         refund.ID,
				AmountCents:      amountCents,
				ProviderRefundID: refund.ProviderRefundID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	p.mets.ObserveRefund(amountCents)
	return refund, nil
}
