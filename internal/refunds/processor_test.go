package refunds

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/internal/inventory"
	"github.com/kestrelcommerce/fulfillment-backend/internal/ledger"
	"github.com/kestrelcommerce/fulfillment-backend/internal/orders"
	"github.com/kestrelcommerce/fulfillment-backend/internal/returns"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/square"
)

type stubTxRunner struct {
	db *gorm.DB
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubStockRestorer struct {
	restored [][]inventory.Line
	err      error
}

func (s *stubStockRestorer) Restore(_ context.Context, _ *gorm.DB, _ uuid.UUID, lines []inventory.Line) error {
	if s.err != nil {
		return s.err
	}
	s.restored = append(s.restored, lines)
	return nil
}

type stubProvider struct {
	calls    []square.RefundCreateParams
	refundID string
	err      error
}

func (s *stubProvider) RefundPayment(_ context.Context, params square.RefundCreateParams) (*sq.PaymentRefund, error) {
	s.calls = append(s.calls, params)
	if s.err != nil {
		return nil, s.err
	}
	refund := &sq.PaymentRefund{}
	refund.ID = s.refundID
	return refund, nil
}

type fakeLedgerService struct {
	recorded []ledger.RecordLedgerEventInput
}

func (f *fakeLedgerService) WithTx(_ *gorm.DB) ledger.Service {
	return f
}

func (f *fakeLedgerService) RecordEvent(_ context.Context, input ledger.RecordLedgerEventInput) (*models.LedgerEvent, error) {
	f.recorded = append(f.recorded, input)
	return &models.LedgerEvent{}, nil
}

func (f *fakeLedgerService) HasEvent(_ context.Context, _ uuid.UUID, _ enums.LedgerEventType) (bool, error) {
	return false, nil
}

func setupRefundsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  order_number INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  refund_status TEXT NOT NULL DEFAULT 'none',
  currency TEXT NOT NULL DEFAULT 'USD',
  subtotal_cents INTEGER NOT NULL DEFAULT 0,
  discount_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL DEFAULT 0,
  payment_id TEXT,
  needs_review BOOLEAN NOT NULL DEFAULT 0,
  notes TEXT,
  placed_at DATETIME,
  delivered_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  variant_id TEXT NOT NULL,
  sku TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  unit_price_cents INTEGER NOT NULL,
  qty INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS return_requests (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  reason TEXT NOT NULL,
  note TEXT,
  approved_at DATETIME,
  received_at DATETIME,
  inspected_at DATETIME,
  refunded_at DATETIME,
  rejected_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS return_items (
  id TEXT PRIMARY KEY,
  return_request_id TEXT NOT NULL,
  order_item_id TEXT NOT NULL,
  qty INTEGER NOT NULL,
  accepted BOOLEAN,
  rejection_reason TEXT,
  refund_price_cents INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS refunds (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  return_request_id TEXT NOT NULL UNIQUE,
  amount_cents INTEGER NOT NULL,
  provider TEXT NOT NULL,
  provider_refund_id TEXT NOT NULL,
  created_at DATETIME
);`
	if err := db.Exec(schema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		for _, table := range []string{"refunds", "return_items", "return_requests", "order_items", "orders"} {
			db.Exec("DELETE FROM " + table)
		}
	})
	return db
}

type refundsTestEnv struct {
	db       *gorm.DB
	proc     *processor
	outbox   *stubOutbox
	stock    *stubStockRestorer
	provider *stubProvider
	ledger   *fakeLedgerService
}

func newRefundsTestEnv(t *testing.T) *refundsTestEnv {
	t.Helper()

	db := setupRefundsTestDB(t)
	env := &refundsTestEnv{
		db:       db,
		outbox:   &stubOutbox{},
		stock:    &stubStockRestorer{},
		provider: &stubProvider{refundID: "sqref-1"},
		ledger:   &fakeLedgerService{},
	}
	proc, err := NewProcessor(NewRepository(db), returns.NewRepository(db), orders.NewRepository(db),
		&stubTxRunner{db: db}, env.outbox, env.stock, env.ledger, env.provider, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	env.proc = proc.(*processor)
	return env
}

type seededReturn struct {
	tenantID  uuid.UUID
	orderID   uuid.UUID
	requestID uuid.UUID
	productA  uuid.UUID
	productB  uuid.UUID
	itemA     uuid.UUID
	itemB     uuid.UUID
	returnA   uuid.UUID
	returnB   uuid.UUID
}

// seedInspectedReturn builds a paid $55.00 order (2 units at $20.00 plus one at
// $15.00) with an inspected return: both units of the first item accepted at
// the snapshot price, the second item rejected.
func (env *refundsTestEnv) seedInspectedReturn(t *testing.T) seededReturn {
	t.Helper()

	s := seededReturn{
		tenantID:  uuid.New(),
		orderID:   uuid.New(),
		requestID: uuid.New(),
		productA:  uuid.New(),
		productB:  uuid.New(),
		itemA:     uuid.New(),
		itemB:     uuid.New(),
		returnA:   uuid.New(),
		returnB:   uuid.New(),
	}

	mustExec := func(sqlText string, args ...any) {
		t.Helper()
		if err := env.db.Exec(sqlText, args...).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	mustExec(`INSERT INTO orders (id, tenant_id, customer_id, order_number, status, payment_status, refund_status, currency, subtotal_cents, total_cents, payment_id, placed_at, created_at)
		VALUES (?, ?, ?, 1, 'delivered', 'completed', 'none', 'USD', 5500, 5500, 'sqpay-1', ?, ?)`,
		s.orderID, s.tenantID, uuid.New(), time.Now().UTC(), time.Now().UTC())
	mustExec(`INSERT INTO order_items (id, order_id, product_id, variant_id, unit_price_cents, qty, total_cents)
		VALUES (?, ?, ?, ?, 2000, 2, 4000)`, s.itemA, s.orderID, s.productA, uuid.Nil)
	mustExec(`INSERT INTO order_items (id, order_id, product_id, variant_id, unit_price_cents, qty, total_cents)
		VALUES (?, ?, ?, ?, 1500, 1, 1500)`, s.itemB, s.orderID, s.productB, uuid.Nil)
	mustExec(`INSERT INTO return_requests (id, tenant_id, order_id, status, reason, created_at)
		VALUES (?, ?, ?, 'inspected', 'damaged', ?)`, s.requestID, s.tenantID, s.orderID, time.Now().UTC())
	mustExec(`INSERT INTO return_items (id, return_request_id, order_item_id, qty, accepted, refund_price_cents)
		VALUES (?, ?, ?, 2, 1, 4000)`, s.returnA, s.requestID, s.itemA)
	mustExec(`INSERT INTO return_items (id, return_request_id, order_item_id, qty, accepted, rejection_reason, refund_price_cents)
		VALUES (?, ?, ?, 1, 0, 'customer damage', 0)`, s.returnB, s.requestID, s.itemB)
	return s
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	var appErr *pkgerrors.Error
	if !stdErrors.As(err, &appErr) {
		t.Fatalf("expected coded error, got %v", err)
	}
	if appErr.Code() != code {
		t.Fatalf("expected code %s, got %s (%v)", code, appErr.Code(), err)
	}
}

func TestProcessRefundsAcceptedItemsOnly(t *testing.T) {
	env := newRefundsTestEnv(t)
	ctx := context.Background()
	s := env.seedInspectedReturn(t)

	refund, err := env.proc.Process(ctx, s.tenantID, s.requestID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if refund.AmountCents != 4000 {
		t.Fatalf("expected refund of 4000, got %d", refund.AmountCents)
	}
	if refund.ProviderRefundID != "sqref-1" {
		t.Fatalf("expected provider refund id, got %q", refund.ProviderRefundID)
	}

	if len(env.provider.calls) != 1 {
		t.Fatalf("expected one provider call, got %d", len(env.provider.calls))
	}
	call := env.provider.calls[0]
	if call.PaymentID != "sqpay-1" || call.AmountCents != 4000 {
		t.Fatalf("unexpected provider params: %+v", call)
	}

	var status string
	var refundedAt *time.Time
	if err := env.db.Raw("SELECT status, refunded_at FROM return_requests WHERE id = ?", s.requestID).
		Row().Scan(&status, &refundedAt); err != nil {
		t.Fatalf("read request: %v", err)
	}
	if status != "refunded" || refundedAt == nil {
		t.Fatalf("expected refunded with timestamp, got %s / %v", status, refundedAt)
	}

	var refundStatus, paymentStatus string
	if err := env.db.Raw("SELECT refund_status, payment_status FROM orders WHERE id = ?", s.orderID).
		Row().Scan(&refundStatus, &paymentStatus); err != nil {
		t.Fatalf("read order: %v", err)
	}
	if refundStatus != "partial" {
		t.Fatalf("expected partial refund status, got %s", refundStatus)
	}
	if paymentStatus != "completed" {
		t.Fatalf("partial refund must not flip payment status, got %s", paymentStatus)
	}

	// Only the accepted item goes back on the shelf.
	if len(env.stock.restored) != 1 || len(env.stock.restored[0]) != 1 {
		t.Fatalf("expected one restore of one line, got %v", env.stock.restored)
	}
	line := env.stock.restored[0][0]
	if line.ProductID != s.productA || line.Qty != 2 {
		t.Fatalf("unexpected restore line: %+v", line)
	}

	if len(env.ledger.recorded) != 1 {
		t.Fatalf("expected one ledger event, got %d", len(env.ledger.recorded))
	}
	entry := env.ledger.recorded[0]
	if entry.Type != enums.LedgerEventTypeRefundIssued || entry.AmountCents != -4000 {
		t.Fatalf("unexpected ledger event: %+v", entry)
	}

	if len(env.outbox.events) != 1 || env.outbox.events[0].EventType != enums.EventReturnRefunded {
		t.Fatalf("expected return_refunded event, got %v", env.outbox.events)
	}
}

func TestProcessFullRefundMarksOrderRefunded(t *testing.T) {
	env := newRefundsTestEnv(t)
	ctx := context.Background()
	s := env.seedInspectedReturn(t)

	// Accept the second item too, bringing the refund to the full order total.
	if err := env.db.Exec(
		"UPDATE return_items SET accepted = 1, rejection_reason = NULL, refund_price_cents = 1500 WHERE id = ?",
		s.returnB).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	refund, err := env.proc.Process(ctx, s.tenantID, s.requestID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if refund.AmountCents != 5500 {
		t.Fatalf("expected refund of 5500, got %d", refund.AmountCents)
	}

	var refundStatus, paymentStatus string
	if err := env.db.Raw("SELECT refund_status, payment_status FROM orders WHERE id = ?", s.orderID).
		Row().Scan(&refundStatus, &paymentStatus); err != nil {
		t.Fatalf("read order: %v", err)
	}
	if refundStatus != "full" || paymentStatus != "refunded" {
		t.Fatalf("expected full/refunded, got %s/%s", refundStatus, paymentStatus)
	}
}

func TestProcessDoubleRefundRejected(t *testing.T) {
	env := newRefundsTestEnv(t)
	ctx := context.Background()
	s := env.seedInspectedReturn(t)

	if _, err := env.proc.Process(ctx, s.tenantID, s.requestID); err != nil {
		t.Fatalf("first Process: %v", err)
	}

	_, err := env.proc.Process(ctx, s.tenantID, s.requestID)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	if len(env.provider.calls) != 1 {
		t.Fatalf("replay must not reach the provider, got %d calls", len(env.provider.calls))
	}
	var count int64
	if err := env.db.Raw("SELECT COUNT(*) FROM refunds WHERE return_request_id = ?", s.requestID).Scan(&count).Error; err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one refund row, got %d", count)
	}
}

func TestProcessCapViolationReported(t *testing.T) {
	env := newRefundsTestEnv(t)
	ctx := context.Background()
	s := env.seedInspectedReturn(t)

	// Price the accepted item above the order total.
	if err := env.db.Exec("UPDATE return_items SET refund_price_cents = 9000 WHERE id = ?", s.returnA).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := env.proc.Process(ctx, s.tenantID, s.requestID)
	requireCode(t, err, pkgerrors.CodeInvariant)

	if len(env.provider.calls) != 0 {
		t.Fatalf("cap violation must not reach the provider")
	}
	var status string
	if err := env.db.Raw("SELECT status FROM return_requests WHERE id = ?", s.requestID).Scan(&status).Error; err != nil {
		t.Fatalf("read request: %v", err)
	}
	if status != "inspected" {
		t.Fatalf("return must stay inspected, got %s", status)
	}
}

func TestProcessRequiresCompletedPayment(t *testing.T) {
	env := newRefundsTestEnv(t)
	ctx := context.Background()
	s := env.seedInspectedReturn(t)

	if err := env.db.Exec("UPDATE orders SET payment_status = 'pending' WHERE id = ?", s.orderID).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := env.proc.Process(ctx, s.tenantID, s.requestID)
	requireCode(t, err, pkgerrors.CodeStateConflict)
	if len(env.provider.calls) != 0 {
		t.Fatalf("unpaid order must not reach the provider")
	}
}

func TestProcessProviderFailureLeavesReturnOpen(t *testing.T) {
	env := newRefundsTestEnv(t)
	ctx := context.Background()
	s := env.seedInspectedReturn(t)

	env.provider.err = pkgerrors.New(pkgerrors.CodeDependency, "square refund payment failed")

	_, err := env.proc.Process(ctx, s.tenantID, s.requestID)
	requireCode(t, err, pkgerrors.CodeDependency)

	var status string
	if err := env.db.Raw("SELECT status FROM return_requests WHERE id = ?", s.requestID).Scan(&status).Error; err != nil {
		t.Fatalf("read request: %v", err)
	}
	if status != "inspected" {
		t.Fatalf("return must stay inspected after a provider failure, got %s", status)
	}
	var count int64
	if err := env.db.Raw("SELECT COUNT(*) FROM refunds").Scan(&count).Error; err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if count != 0 {
		t.Fatalf("no refund row may exist after a provider failure, got %d", count)
	}
}
