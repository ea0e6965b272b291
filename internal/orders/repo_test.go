package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/pagination"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  sku TEXT NOT NULL,
  name TEXT NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  reorder_point INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  order_number INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  refund_status TEXT NOT NULL DEFAULT 'none',
  currency TEXT NOT NULL DEFAULT 'USD',
  subtotal_cents INTEGER NOT NULL,
  discount_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL,
  payment_id TEXT,
  needs_review INTEGER NOT NULL DEFAULT 0,
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
  sku TEXT NOT NULL,
  name TEXT NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  qty INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	t.Cleanup(func() {
		db.Exec("DELETE FROM order_items")
		db.Exec("DELETE FROM orders")
		db.Exec("DELETE FROM products")
	})
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, tenantID uuid.UUID, priceCents int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, db.Exec(
		"INSERT INTO products (id, tenant_id, sku, name, unit_price_cents) VALUES (?, ?, ?, ?, ?)",
		id, tenantID, fmt.Sprintf("SKU-%s", id.String()[:8]), "Widget", priceCents,
	).Error)
	return id
}

func seedOrder(t *testing.T, db *gorm.DB, tenantID uuid.UUID, number int64, status enums.OrderStatus, paymentStatus enums.PaymentStatus, placedAt time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, db.Exec(
		`INSERT INTO orders (id, tenant_id, customer_id, order_number, status, payment_status, subtotal_cents, total_cents, placed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1000, 1000, ?, ?)`,
		id, tenantID, uuid.New(), number, status, paymentStatus, placedAt, placedAt,
	).Error)
	return id
}

func TestRepositoryCreatePersistsItems(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	order := &models.Order{
		ID:            uuid.New(),
		TenantID:      tenantID,
		CustomerID:    uuid.New(),
		OrderNumber:   1,
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		RefundStatus:  enums.RefundStatusNone,
		Currency:      enums.CurrencyUSD,
		SubtotalCents: 4000,
		TotalCents:    4000,
		Items: []models.OrderItem{
			{ID: uuid.New(), ProductID: uuid.New(), VariantID: uuid.Nil, SKU: "SKU-1", Name: "Widget", UnitPriceCents: 2000, Qty: 2, TotalCents: 4000},
		},
	}

	created, err := repo.Create(ctx, order)
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, tenantID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	require.Len(t, found.Items, 1)
	assert.Equal(t, 2000, found.Items[0].UnitPriceCents)
}

func TestRepositoryFindByIDTenantScoped(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	orderID := seedOrder(t, db, uuid.New(), 1, enums.OrderStatusPending, enums.PaymentStatusPending, time.Now().UTC())

	_, err := repo.FindByID(ctx, uuid.New(), orderID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryNextOrderNumber(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()

	next, err := repo.NextOrderNumber(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	seedOrder(t, db, tenantID, 7, enums.OrderStatusPending, enums.PaymentStatusPending, time.Now().UTC())

	next, err = repo.NextOrderNumber(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), next)

	// Another tenant's numbering starts fresh.
	next, err = repo.NextOrderNumber(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}

func TestRepositoryFindProducts(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	productA := seedProduct(t, db, tenantID, 1500)
	seedProduct(t, db, uuid.New(), 9900)

	products, err := repo.FindProducts(ctx, tenantID, []uuid.UUID{productA, uuid.New()})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, productA, products[0].ID)
	assert.Equal(t, 1500, products[0].UnitPriceCents)
}

func TestRepositoryUpdateMissingOrder(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)

	err := repo.Update(context.Background(), uuid.New(), map[string]any{"status": enums.OrderStatusProcessing})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryListFiltersAndPaginates(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedOrder(t, db, tenantID, int64(i+1), enums.OrderStatusProcessing, enums.PaymentStatusCompleted, base.Add(time.Duration(i)*time.Minute))
	}
	seedOrder(t, db, tenantID, 6, enums.OrderStatusCancelled, enums.PaymentStatusFailed, base)

	status := enums.OrderStatusProcessing
	list, err := repo.List(ctx, tenantID, pagination.Params{Limit: 3}, OrderFilters{Status: &status})
	require.NoError(t, err)
	assert.Len(t, list.Orders, 3)
	require.NotEmpty(t, list.NextCursor)

	rest, err := repo.List(ctx, tenantID, pagination.Params{Limit: 3, Cursor: list.NextCursor}, OrderFilters{Status: &status})
	require.NoError(t, err)
	assert.Len(t, rest.Orders, 2)
	assert.Empty(t, rest.NextCursor)

	seen := map[int64]bool{}
	for _, o := range append(list.Orders, rest.Orders...) {
		seen[o.OrderNumber] = true
	}
	assert.Len(t, seen, 5)
}

func TestRepositoryFindPendingPaymentBefore(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	old := time.Now().UTC().Add(-2 * time.Hour)
	fresh := time.Now().UTC().Add(time.Hour)

	staleID := seedOrder(t, db, tenantID, 1, enums.OrderStatusPending, enums.PaymentStatusPending, old)
	seedOrder(t, db, tenantID, 2, enums.OrderStatusPending, enums.PaymentStatusPending, fresh)
	seedOrder(t, db, tenantID, 3, enums.OrderStatusProcessing, enums.PaymentStatusCompleted, old)

	orders, err := repo.FindPendingPaymentBefore(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, staleID, orders[0].ID)
}
