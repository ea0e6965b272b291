package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/internal/inventory"
	"github.com/kestrelcommerce/fulfillment-backend/internal/ledger"
	"github.com/kestrelcommerce/fulfillment-backend/internal/reservations"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox"
)

type stubTxRunner struct {
	db *gorm.DB
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

type stubOutbox struct {
	emitted []outbox.DomainEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.emitted = append(s.emitted, event)
	return nil
}

func (s *stubOutbox) eventTypes() []enums.OutboxEventType {
	out := make([]enums.OutboxEventType, 0, len(s.emitted))
	for _, e := range s.emitted {
		out = append(out, e.EventType)
	}
	return out
}

type stubResvManager struct {
	byOrder    map[uuid.UUID]*models.InventoryReservation
	confirmErr error
	confirmed  []uuid.UUID
	released   []uuid.UUID
}

func newStubResvManager() *stubResvManager {
	return &stubResvManager{byOrder: map[uuid.UUID]*models.InventoryReservation{}}
}

func (s *stubResvManager) seed(tenantID, orderID uuid.UUID, status enums.ReservationStatus) *models.InventoryReservation {
	reservation := &models.InventoryReservation{
		ID:       uuid.New(),
		TenantID: tenantID,
		OrderID:  orderID,
		Status:   status,
	}
	s.byOrder[orderID] = reservation
	return reservation
}

func (s *stubResvManager) Reserve(ctx context.Context, tx *gorm.DB, input reservations.ReserveInput) (*models.InventoryReservation, error) {
	reservation := s.seed(input.TenantID, input.OrderID, enums.ReservationStatusHeld)
	for _, line := range input.Lines {
		reservation.Lines = append(reservation.Lines, models.ReservationLine{
			ReservationID: reservation.ID,
			ProductID:     line.ProductID,
			VariantID:     line.VariantID,
			Qty:           line.Qty,
		})
	}
	return reservation, nil
}

func (s *stubResvManager) Confirm(ctx context.Context, tx *gorm.DB, tenantID, orderID uuid.UUID) error {
	if s.confirmErr != nil {
		return s.confirmErr
	}
	s.confirmed = append(s.confirmed, orderID)
	if reservation, ok := s.byOrder[orderID]; ok {
		reservation.Status = enums.ReservationStatusConfirmed
	}
	return nil
}

func (s *stubResvManager) Release(ctx context.Context, tx *gorm.DB, tenantID, orderID uuid.UUID) error {
	s.released = append(s.released, orderID)
	if reservation, ok := s.byOrder[orderID]; ok {
		reservation.Status = enums.ReservationStatusReleased
	}
	return nil
}

func (s *stubResvManager) GetByOrderID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.InventoryReservation, error) {
	if reservation, ok := s.byOrder[orderID]; ok {
		return reservation, nil
	}
	return s.seed(tenantID, orderID, enums.ReservationStatusHeld), nil
}

type stubStockLedger struct {
	levels   map[uuid.UUID]int
	restored []inventory.Line
}

func (s *stubStockLedger) GetLevel(ctx context.Context, tenantID, productID, variantID uuid.UUID) (int, error) {
	qty, ok := s.levels[productID]
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "inventory level not found")
	}
	return qty, nil
}

func (s *stubStockLedger) Restore(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, lines []inventory.Line) error {
	s.restored = append(s.restored, lines...)
	return nil
}

type fakeLedgerService struct {
	recorded []ledger.RecordLedgerEventInput
}

func (f *fakeLedgerService) WithTx(tx *gorm.DB) ledger.Service {
	return f
}

func (f *fakeLedgerService) RecordEvent(ctx context.Context, input ledger.RecordLedgerEventInput) (*models.LedgerEvent, error) {
	f.recorded = append(f.recorded, input)
	return &models.LedgerEvent{TenantID: input.TenantID, OrderID: input.OrderID, Type: input.Type, AmountCents: input.AmountCents}, nil
}

func (f *fakeLedgerService) HasEvent(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	for _, event := range f.recorded {
		if event.OrderID == orderID && event.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

type ordersTestEnv struct {
	svc   Service
	db    *gorm.DB
	ob    *stubOutbox
	resv  *stubResvManager
	stock *stubStockLedger
	ledg  *fakeLedgerService
}

func newOrdersTestEnv(t *testing.T) *ordersTestEnv {
	t.Helper()
	db := setupOrdersTestDB(t)
	ob := &stubOutbox{}
	resv := newStubResvManager()
	stock := &stubStockLedger{levels: map[uuid.UUID]int{}}
	ledg := &fakeLedgerService{}
	svc, err := NewService(NewRepository(db), &stubTxRunner{db: db}, ob, resv, stock, ledg, nil)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return &ordersTestEnv{svc: svc, db: db, ob: ob, resv: resv, stock: stock, ledg: ledg}
}

func seedOrderItem(t *testing.T, db *gorm.DB, orderID, productID uuid.UUID, qty, unitPriceCents int) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO order_items (id, order_id, product_id, variant_id, sku, name, unit_price_cents, qty, total_cents)
		 VALUES (?, ?, ?, ?, 'SKU-1', 'Widget', ?, ?, ?)`,
		uuid.New(), orderID, productID, uuid.Nil, unitPriceCents, qty, unitPriceCents*qty,
	).Error; err != nil {
		t.Fatalf("seed order item: %v", err)
	}
}

func TestService_PlaceSnapshotsPricesAndReserves(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	productID := seedProduct(t, env.db, tenantID, 2500)
	env.stock.levels[productID] = 10

	order, err := env.svc.Place(ctx, PlaceOrderInput{
		TenantID:   tenantID,
		CustomerID: uuid.New(),
		Items: []PlaceOrderItemInput{
			{ProductID: productID, VariantID: uuid.Nil, Qty: 3},
		},
	})
	if err != nil {
		t.Fatalf("Place error: %v", err)
	}

	if order.SubtotalCents != 7500 || order.TotalCents != 7500 {
		t.Fatalf("unexpected totals: subtotal=%d total=%d", order.SubtotalCents, order.TotalCents)
	}
	if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("unexpected initial statuses: %s/%s", order.Status, order.PaymentStatus)
	}
	if len(order.Items) != 1 || order.Items[0].UnitPriceCents != 2500 {
		t.Fatalf("expected price snapshot, got %+v", order.Items)
	}

	reservation, ok := env.resv.byOrder[order.ID]
	if !ok || reservation.Status != enums.ReservationStatusHeld {
		t.Fatalf("expected held reservation for order")
	}
	if len(env.ob.emitted) != 1 || env.ob.emitted[0].EventType != enums.EventOrderPlaced {
		t.Fatalf("expected order_placed event, got %v", env.ob.eventTypes())
	}
}

func TestService_PlaceInsufficientStockFailsFast(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	productID := seedProduct(t, env.db, tenantID, 1000)
	env.stock.levels[productID] = 1

	_, err := env.svc.Place(ctx, PlaceOrderInput{
		TenantID:   tenantID,
		CustomerID: uuid.New(),
		Items:      []PlaceOrderItemInput{{ProductID: productID, Qty: 2}},
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStockUnavailable {
		t.Fatalf("expected stock unavailable, got %v", err)
	}
	if len(env.resv.byOrder) != 0 {
		t.Fatal("no reservation should exist after a failed placement")
	}
}

func TestService_PlaceUnknownProduct(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	productID := uuid.New()
	env.stock.levels[productID] = 5

	_, err := env.svc.Place(ctx, PlaceOrderInput{
		TenantID:   uuid.New(),
		CustomerID: uuid.New(),
		Items:      []PlaceOrderItemInput{{ProductID: productID, Qty: 1}},
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_PaymentSucceededConfirmsOrder(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := seedOrder(t, env.db, tenantID, 1, enums.OrderStatusPending, enums.PaymentStatusPending, time.Now().UTC())
	env.resv.seed(tenantID, orderID, enums.ReservationStatusHeld)

	err := env.svc.HandlePaymentEvent(ctx, PaymentSucceeded{
		TenantID:  tenantID,
		OrderID:   orderID,
		PaymentID: "pay-123",
	})
	if err != nil {
		t.Fatalf("HandlePaymentEvent error: %v", err)
	}

	order, err := env.svc.GetByID(ctx, tenantID, orderID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if order.PaymentStatus != enums.PaymentStatusCompleted || order.Status != enums.OrderStatusProcessing {
		t.Fatalf("unexpected statuses: %s/%s", order.Status, order.PaymentStatus)
	}
	if order.PaymentID == nil || *order.PaymentID != "pay-123" {
		t.Fatalf("payment id not recorded: %v", order.PaymentID)
	}
	if len(env.resv.confirmed) != 1 {
		t.Fatalf("expected one confirm, got %d", len(env.resv.confirmed))
	}
	if len(env.ledg.recorded) != 1 || env.ledg.recorded[0].Type != enums.LedgerEventTypePaymentCompleted {
		t.Fatalf("expected payment_completed ledger event, got %+v", env.ledg.recorded)
	}
	if len(env.ob.emitted) != 1 || env.ob.emitted[0].EventType != enums.EventOrderConfirmed {
		t.Fatalf("expected order_confirmed event, got %v", env.ob.eventTypes())
	}
}

func TestService_PaymentSucceededReplayIsAcknowledged(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := seedOrder(t, env.db, tenantID, 1, enums.OrderStatusProcessing, enums.PaymentStatusCompleted, time.Now().UTC())

	err := env.svc.HandlePaymentEvent(ctx, PaymentSucceeded{
		TenantID:  tenantID,
		OrderID:   orderID,
		PaymentID: "pay-123",
	})
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if len(env.resv.confirmed) != 0 {
		t.Fatal("replay must not confirm again")
	}
	if len(env.ledg.recorded) != 0 {
		t.Fatal("replay must not write ledger events")
	}
}

func TestService_PaymentSucceededStockGoneFlagsOrder(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := seedOrder(t, env.db, tenantID, 1, enums.OrderStatusPending, enums.PaymentStatusPending, time.Now().UTC())
	env.resv.seed(tenantID, orderID, enums.ReservationStatusHeld)
	env.resv.confirmErr = pkgerrors.New(pkgerrors.CodeStockUnavailable, "insufficient stock")

	err := env.svc.HandlePaymentEvent(ctx, PaymentSucceeded{
		TenantID:  tenantID,
		OrderID:   orderID,
		PaymentID: "pay-123",
	})
	if err != nil {
		t.Fatalf("expected flagged order, got error %v", err)
	}

	order, err := env.svc.GetByID(ctx, tenantID, orderID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if order.Status != enums.OrderStatusCancelled || order.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("unexpected statuses: %s/%s", order.Status, order.PaymentStatus)
	}
	if !order.NeedsReview {
		t.Fatal("order should be flagged for manual follow-up")
	}
	if len(env.resv.released) != 1 {
		t.Fatalf("expected reservation release, got %d", len(env.resv.released))
	}
	if len(env.ob.emitted) != 1 || env.ob.emitted[0].EventType != enums.EventOrderNeedsReview {
		t.Fatalf("expected order_needs_review event, got %v", env.ob.eventTypes())
	}
	if len(env.ledg.recorded) != 1 || env.ledg.recorded[0].Type != enums.LedgerEventTypePaymentFailed {
		t.Fatalf("expected payment_failed ledger event, got %+v", env.ledg.recorded)
	}
}

func TestService_PaymentFailedReleasesAndCancels(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := seedOrder(t, env.db, tenantID, 1, enums.OrderStatusPending, enums.PaymentStatusPending, time.Now().UTC())
	env.resv.seed(tenantID, orderID, enums.ReservationStatusHeld)

	err := env.svc.HandlePaymentEvent(ctx, PaymentFailed{
		TenantID: tenantID,
		OrderID:  orderID,
		Reason:   "card_declined",
	})
	if err != nil {
		t.Fatalf("HandlePaymentEvent error: %v", err)
	}

	order, err := env.svc.GetByID(ctx, tenantID, orderID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if order.Status != enums.OrderStatusCancelled || order.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("unexpected statuses: %s/%s", order.Status, order.PaymentStatus)
	}
	if order.CancelledAt == nil {
		t.Fatal("cancelled_at should be set")
	}
	if len(env.resv.released) != 1 {
		t.Fatalf("expected one release, got %d", len(env.resv.released))
	}
	if len(env.ob.emitted) != 1 || env.ob.emitted[0].EventType != enums.EventOrderPaymentFailed {
		t.Fatalf("expected order_payment_failed event, got %v", env.ob.eventTypes())
	}
}

func TestService_StalePaymentFailedAfterSuccessRejected(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := seedOrder(t, env.db, tenantID, 1, enums.OrderStatusProcessing, enums.PaymentStatusCompleted, time.Now().UTC())
	env.resv.seed(tenantID, orderID, enums.ReservationStatusConfirmed)

	err := env.svc.HandlePaymentEvent(ctx, PaymentFailed{
		TenantID: tenantID,
		OrderID:  orderID,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected already-processed conflict, got %v", err)
	}
	if len(env.resv.released) != 0 {
		t.Fatal("a confirmed reservation must never be released by a stale failure")
	}

	order, err := env.svc.GetByID(ctx, tenantID, orderID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if order.PaymentStatus != enums.PaymentStatusCompleted {
		t.Fatalf("payment status must stay completed, got %s", order.PaymentStatus)
	}
}

func TestService_PaymentFailedReplayIsAcknowledged(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := seedOrder(t, env.db, tenantID, 1, enums.OrderStatusCancelled, enums.PaymentStatusFailed, time.Now().UTC())

	err := env.svc.HandlePaymentEvent(ctx, PaymentFailed{TenantID: tenantID, OrderID: orderID})
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestService_CancelPendingPaymentReleasesHold(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := seedOrder(t, env.db, tenantID, 1, enums.OrderStatusPending, enums.PaymentStatusPending, time.Now().UTC())
	env.resv.seed(tenantID, orderID, enums.ReservationStatusHeld)

	if err := env.svc.Cancel(ctx, tenantID, orderID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}

	order, err := env.svc.GetByID(ctx, tenantID, orderID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if order.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	if len(env.resv.released) != 1 {
		t.Fatalf("expected release, got %d", len(env.resv.released))
	}
	if len(env.stock.restored) != 0 {
		t.Fatal("pending-payment cancel must not restore stock")
	}
	if len(env.ob.emitted) != 1 || env.ob.emitted[0].EventType != enums.EventOrderCancelled {
		t.Fatalf("expected order_cancelled event, got %v", env.ob.eventTypes())
	}
}

func TestService_CancelPaidOrderRestoresStock(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	productID := uuid.New()
	orderID := seedOrder(t, env.db, tenantID, 1, enums.OrderStatusProcessing, enums.PaymentStatusCompleted, time.Now().UTC())
	seedOrderItem(t, env.db, orderID, productID, 2, 1500)

	if err := env.svc.Cancel(ctx, tenantID, orderID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}

	if len(env.stock.restored) != 1 || env.stock.restored[0].ProductID != productID || env.stock.restored[0].Qty != 2 {
		t.Fatalf("expected restore of 2 units, got %+v", env.stock.restored)
	}

	order, err := env.svc.GetByID(ctx, tenantID, orderID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if !order.NeedsReview {
		t.Fatal("paid-order cancel should flag for payment follow-up")
	}
}

func TestService_CancelShippedOrderRejected(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := seedOrder(t, env.db, tenantID, 1, enums.OrderStatusShipped, enums.PaymentStatusCompleted, time.Now().UTC())

	err := env.svc.Cancel(ctx, tenantID, orderID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestService_AdvanceProgression(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := seedOrder(t, env.db, tenantID, 1, enums.OrderStatusProcessing, enums.PaymentStatusCompleted, time.Now().UTC())

	order, err := env.svc.Advance(ctx, tenantID, orderID)
	if err != nil {
		t.Fatalf("Advance error: %v", err)
	}
	if order.Status != enums.OrderStatusPacked {
		t.Fatalf("expected packed, got %s", order.Status)
	}

	order, err = env.svc.Advance(ctx, tenantID, orderID)
	if err != nil {
		t.Fatalf("Advance error: %v", err)
	}
	if order.Status != enums.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", order.Status)
	}

	order, err = env.svc.Advance(ctx, tenantID, orderID)
	if err != nil {
		t.Fatalf("Advance error: %v", err)
	}
	if order.Status != enums.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", order.Status)
	}
	if order.DeliveredAt == nil {
		t.Fatal("delivered_at should be set")
	}

	types := env.ob.eventTypes()
	if len(types) != 2 || types[0] != enums.EventOrderShipped || types[1] != enums.EventOrderDelivered {
		t.Fatalf("expected shipped then delivered events, got %v", types)
	}

	if _, err := env.svc.Advance(ctx, tenantID, orderID); pkgerrors.As(err) == nil {
		t.Fatalf("expected state conflict past delivered, got %v", err)
	}
}

func TestService_AdvancePendingRejected(t *testing.T) {
	env := newOrdersTestEnv(t)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := seedOrder(t, env.db, tenantID, 1, enums.OrderStatusPending, enums.PaymentStatusPending, time.Now().UTC())

	_, err := env.svc.Advance(ctx, tenantID, orderID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}
