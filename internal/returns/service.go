package returns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/logger"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox/payloads"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// orderReader loads the delivered order a return is opened against.
type orderReader interface {
	FindByID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
}

// labelGenerator produces a return shipping label. Generation is best effort:
// a failure is logged and never blocks the approval.
type labelGenerator interface {
	Generate(ctx context.Context, request *models.ReturnRequest) (string, error)
}

// refundProcessor settles an inspected return: provider refund, stock
// restoration, and the terminal transition to refunded.
type refundProcessor interface {
	Process(ctx context.Context, tenantID, returnRequestID uuid.UUID) (*models.Refund, error)
}

// Service drives the return workflow for delivered orders:
// pending → approved → received → inspected → refunded, with rejected as the
// alternate terminal.
type Service interface {
	Open(ctx context.Context, input OpenReturnInput) (*models.ReturnRequest, error)
	Approve(ctx context.Context, tenantID, requestID uuid.UUID, note *string) error
	MarkReceived(ctx context.Context, tenantID, requestID uuid.UUID) error
	Inspect(ctx context.Context, input InspectInput) (*models.ReturnRequest, error)
	Refund(ctx context.Context, tenantID, requestID uuid.UUID) (*models.Refund, error)
	GetByID(ctx context.Context, tenantID, requestID uuid.UUID) (*models.ReturnRequest, error)
	List(ctx context.Context, tenantID uuid.UUID, params pagination.Params, filters ReturnFilters) (*ReturnList, error)
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	orders     orderReader
	labels     labelGenerator
	refunds    refundProcessor
	logg       *logger.Logger
	windowDays int
	now        func() time.Time
}

// NewService builds the return workflow service. windowDays bounds how long
// after delivery a return may be opened.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, orders orderReader, labels labelGenerator, refunds refundProcessor, logg *logger.Logger, windowDays int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("returns repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order reader required")
	}
	if refunds == nil {
		return nil, fmt.Errorf("refund processor required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if windowDays <= 0 {
		return nil, fmt.Errorf("return window must be positive")
	}
	return &service{
		repo:       repo,
		tx:         tx,
		outbox:     outbox,
		orders:     orders,
		labels:     labels,
		refunds:    refunds,
		logg:       logg,
		windowDays: windowDays,
		now:        time.Now,
	}, nil
}

func (s *service) Open(ctx context.Context, input OpenReturnInput) (*models.ReturnRequest, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}
	seen := make(map[uuid.UUID]bool, len(input.Items))
	for _, item := range input.Items {
		if item.OrderItemID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item id required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
		}
		if seen[item.OrderItemID] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate order item in return")
		}
		seen[item.OrderItemID] = true
	}

	order, err := s.orders.FindByID(ctx, input.TenantID, input.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status != enums.OrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "returns require a delivered order")
	}
	if order.DeliveredAt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvariant, "delivered order missing delivery timestamp")
	}
	// The boundary day itself is still inside the window.
	deadline := order.DeliveredAt.AddDate(0, 0, s.windowDays)
	if s.now().UTC().After(deadline) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("return window of %d days has closed", s.windowDays))
	}

	itemsByID := make(map[uuid.UUID]models.OrderItem, len(order.Items))
	for _, item := range order.Items {
		itemsByID[item.ID] = item
	}
	for _, item := range input.Items {
		ordered, ok := itemsByID[item.OrderItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item does not belong to the order")
		}
		if item.Qty > ordered.Qty {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "return qty exceeds ordered qty")
		}
	}

	var request *models.ReturnRequest
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if _, err := repo.FindActiveByOrderID(ctx, input.TenantID, input.OrderID); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already has an open return")
		} else if err != gorm.ErrRecordNotFound {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing return")
		}

		request = &models.ReturnRequest{
			TenantID: input.TenantID,
			OrderID:  input.OrderID,
			Status:   enums.ReturnStatusPending,
			Reason:   input.Reason,
		}
		for _, item := range input.Items {
			request.Items = append(request.Items, models.ReturnItem{
				OrderItemID: item.OrderItemID,
				Qty:         item.Qty,
			})
		}
		if _, err := repo.Create(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create return request")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnOpened,
			AggregateType: enums.AggregateReturnRequest,
			AggregateID:   request.ID,
			Version:       1,
			Data: payloads.ReturnOpenedEvent{
				ReturnRequestID: request.ID,
				TenantID:        request.TenantID,
				OrderID:         request.OrderID,
				ItemCount:       len(request.Items),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *service) Approve(ctx context.Context, tenantID, requestID uuid.UUID, note *string) error {
	if tenantID == uuid.Nil || requestID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant and return ids required")
	}

	var request *models.ReturnRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		request, err = repo.FindByID(ctx, tenantID, requestID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "return request not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load return request")
		}
		if request.Status != enums.ReturnStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("return cannot be approved from %s", request.Status))
		}

		now := s.now().UTC()
		stamps := map[string]any{"approved_at": now}
		if note != nil {
			stamps["note"] = *note
		}
		ok, err := repo.Transition(ctx, requestID, enums.ReturnStatusPending, enums.ReturnStatusApproved, stamps)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approve return")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "return left pending concurrently")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnApproved,
			AggregateType: enums.AggregateReturnRequest,
			AggregateID:   requestID,
			Version:       1,
			Data: payloads.ReturnApprovedEvent{
				ReturnRequestID: requestID,
				TenantID:        tenantID,
				OrderID:         request.OrderID,
				ApprovedAt:      now,
			},
		})
	})
	if err != nil {
		return err
	}

	// Shipping label generation must never block the approval.
	if s.labels != nil {
		if labelURL, err := s.labels.Generate(ctx, request); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "return_request_id", requestID.String()),
				"return label generation failed: "+err.Error())
		} else {
			s.logg.Info(s.logg.WithField(ctx, "return_label_url", labelURL), "return label generated")
		}
	}
	return nil
}

func (s *service) MarkReceived(ctx context.Context, tenantID, requestID uuid.UUID) error {
	if tenantID == uuid.Nil || requestID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant and return ids required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		request, err := repo.FindByID(ctx, tenantID, requestID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "return request not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load return request")
		}
		if request.Status != enums.ReturnStatusApproved {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("return cannot be received from %s", request.Status))
		}

		now := s.now().UTC()
		ok, err := repo.Transition(ctx, requestID, enums.ReturnStatusApproved, enums.ReturnStatusReceived,
			map[string]any{"received_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark return received")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "return left approved concurrently")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnReceived,
			AggregateType: enums.AggregateReturnRequest,
			AggregateID:   requestID,
			Version:       1,
			Data: payloads.ReturnReceivedEvent{
				ReturnRequestID: requestID,
				TenantID:        tenantID,
				OrderID:         request.OrderID,
				ReceivedAt:      now,
			},
		})
	})
}

func (s *service) Inspect(ctx context.Context, input InspectInput) (*models.ReturnRequest, error) {
	if input.TenantID == uuid.Nil || input.ReturnRequestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant and return ids required")
	}
	if len(input.Decisions) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one decision required")
	}

	var request *models.ReturnRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		request, err = repo.FindByID(ctx, input.TenantID, input.ReturnRequestID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "return request not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load return request")
		}
		if request.Status != enums.ReturnStatusReceived {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("return cannot be inspected from %s", request.Status))
		}

		decisionsByItem := make(map[uuid.UUID]ItemDecision, len(input.Decisions))
		for _, decision := range input.Decisions {
			if _, dup := decisionsByItem[decision.ReturnItemID]; dup {
				return pkgerrors.New(pkgerrors.CodeValidation, "duplicate decision for return item")
			}
			if !decision.Accepted && strings.TrimSpace(decision.RejectionReason) == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "rejection reason required")
			}
			decisionsByItem[decision.ReturnItemID] = decision
		}
		// Every item needs a decision before the transition commits.
		if len(decisionsByItem) != len(request.Items) {
			return pkgerrors.New(pkgerrors.CodeValidation, "every return item requires a decision")
		}

		order, err := s.orders.FindByID(ctx, input.TenantID, request.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		pricesByOrderItem := make(map[uuid.UUID]int, len(order.Items))
		for _, item := range order.Items {
			pricesByOrderItem[item.ID] = item.UnitPriceCents
		}

		accepted, rejected := 0, 0
		for i := range request.Items {
			item := &request.Items[i]
			decision, ok := decisionsByItem[item.ID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeValidation, "decision references unknown return item")
			}

			updates := map[string]any{"accepted": decision.Accepted, "updated_at": s.now().UTC()}
			if decision.Accepted {
				unitPrice, ok := pricesByOrderItem[item.OrderItemID]
				if !ok {
					return pkgerrors.New(pkgerrors.CodeInvariant, "return item references unknown order item")
				}
				// Refund at the purchase-time snapshot, never the current price.
				refund := unitPrice * item.Qty
				updates["refund_price_cents"] = refund
				item.RefundPriceCents = refund
				accepted++
			} else {
				updates["rejection_reason"] = decision.RejectionReason
				updates["refund_price_cents"] = 0
				rejected++
			}
			acceptedCopy := decision.Accepted
			item.Accepted = &acceptedCopy

			if err := repo.UpdateItem(ctx, item.ID, updates); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record inspection decision")
			}
		}

		now := s.now().UTC()
		if accepted == 0 {
			// Nothing survived inspection, so there is nothing to refund.
			ok, err := repo.Transition(ctx, request.ID, enums.ReturnStatusReceived, enums.ReturnStatusRejected,
				map[string]any{"inspected_at": now, "rejected_at": now})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject return")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "return left received concurrently")
			}
			request.Status = enums.ReturnStatusRejected
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReturnRejected,
				AggregateType: enums.AggregateReturnRequest,
				AggregateID:   request.ID,
				Version:       1,
				Data: payloads.ReturnRejectedEvent{
					ReturnRequestID: request.ID,
					TenantID:        request.TenantID,
					OrderID:         request.OrderID,
				},
			})
		}

		ok, err := repo.Transition(ctx, request.ID, enums.ReturnStatusReceived, enums.ReturnStatusInspected,
			map[string]any{"inspected_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "inspect return")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "return left received concurrently")
		}
		request.Status = enums.ReturnStatusInspected
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnInspected,
			AggregateType: enums.AggregateReturnRequest,
			AggregateID:   request.ID,
			Version:       1,
			Data: payloads.ReturnInspectedEvent{
				ReturnRequestID: request.ID,
				TenantID:        request.TenantID,
				OrderID:         request.OrderID,
				AcceptedCount:   accepted,
				RejectedCount:   rejected,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *service) Refund(ctx context.Context, tenantID, requestID uuid.UUID) (*models.Refund, error) {
	if tenantID == uuid.Nil || requestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant and return ids required")
	}

	request, err := s.repo.FindByID(ctx, tenantID, requestID)
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

	return s.refunds.Process(ctx, tenantID, requestID)
}

func (s *service) GetByID(ctx context.Context, tenantID, requestID uuid.UUID) (*models.ReturnRequest, error) {
	request, err := s.repo.FindByID(ctx, tenantID, requestID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "return request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load return request")
	}
	return request, nil
}

func (s *service) List(ctx context.Context, tenantID uuid.UUID, params pagination.Params, filters ReturnFilters) (*ReturnList, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	list, err := s.repo.List(ctx, tenantID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list returns")
	}
	return list, nil
}
