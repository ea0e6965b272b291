package returns

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/enums"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/pagination"
)

func setupReturnsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
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
);`
	require.NoError(t, db.Exec(schema).Error)
	t.Cleanup(func() {
		db.Exec("DELETE FROM return_items")
		db.Exec("DELETE FROM return_requests")
	})
	return db
}

func seedReturnRequest(t *testing.T, db *gorm.DB, tenantID, orderID uuid.UUID, status enums.ReturnStatus, createdAt time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, db.Exec(
		"INSERT INTO return_requests (id, tenant_id, order_id, status, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, tenantID, orderID, status, "damaged", createdAt,
	).Error)
	return id
}

func seedReturnItem(t *testing.T, db *gorm.DB, requestID, orderItemID uuid.UUID, qty int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, db.Exec(
		"INSERT INTO return_items (id, return_request_id, order_item_id, qty) VALUES (?, ?, ?, ?)",
		id, requestID, orderItemID, qty,
	).Error)
	return id
}

func TestReturnsRepositoryTransitionGuardsCurrentStatus(t *testing.T) {
	db := setupReturnsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	id := seedReturnRequest(t, db, uuid.New(), uuid.New(), enums.ReturnStatusPending, time.Now().UTC())

	now := time.Now().UTC()
	ok, err := repo.Transition(ctx, id, enums.ReturnStatusPending, enums.ReturnStatusApproved,
		map[string]any{"approved_at": now})
	require.NoError(t, err)
	assert.True(t, ok)

	// Replaying the same transition loses: the request already left pending.
	ok, err = repo.Transition(ctx, id, enums.ReturnStatusPending, enums.ReturnStatusApproved, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	var status string
	var approvedAt *time.Time
	require.NoError(t, db.Raw("SELECT status FROM return_requests WHERE id = ?", id).Scan(&status).Error)
	require.NoError(t, db.Raw("SELECT approved_at FROM return_requests WHERE id = ?", id).Scan(&approvedAt).Error)
	assert.Equal(t, "approved", status)
	assert.NotNil(t, approvedAt)
}

func TestReturnsRepositoryFindActiveByOrderID(t *testing.T) {
	db := setupReturnsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := uuid.New()

	// Terminal returns do not count as active.
	seedReturnRequest(t, db, tenantID, orderID, enums.ReturnStatusRejected, time.Now().UTC())
	_, err := repo.FindActiveByOrderID(ctx, tenantID, orderID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	activeID := seedReturnRequest(t, db, tenantID, orderID, enums.ReturnStatusApproved, time.Now().UTC())
	found, err := repo.FindActiveByOrderID(ctx, tenantID, orderID)
	require.NoError(t, err)
	assert.Equal(t, activeID, found.ID)
}

func TestReturnsRepositoryFindByIDPreloadsItems(t *testing.T) {
	db := setupReturnsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	id := seedReturnRequest(t, db, tenantID, uuid.New(), enums.ReturnStatusPending, time.Now().UTC())
	seedReturnItem(t, db, id, uuid.New(), 2)
	seedReturnItem(t, db, id, uuid.New(), 1)

	found, err := repo.FindByID(ctx, tenantID, id)
	require.NoError(t, err)
	assert.Len(t, found.Items, 2)

	// Another tenant cannot see the request.
	_, err = repo.FindByID(ctx, uuid.New(), id)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestReturnsRepositoryUpdateItem(t *testing.T) {
	db := setupReturnsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	requestID := seedReturnRequest(t, db, uuid.New(), uuid.New(), enums.ReturnStatusReceived, time.Now().UTC())
	itemID := seedReturnItem(t, db, requestID, uuid.New(), 3)

	err := repo.UpdateItem(ctx, itemID, map[string]any{
		"accepted":           true,
		"refund_price_cents": 4500,
	})
	require.NoError(t, err)

	var refund int
	require.NoError(t, db.Raw("SELECT refund_price_cents FROM return_items WHERE id = ?", itemID).Scan(&refund).Error)
	assert.Equal(t, 4500, refund)

	err = repo.UpdateItem(ctx, uuid.New(), map[string]any{"accepted": false})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestReturnsRepositoryListFiltersAndPaginates(t *testing.T) {
	db := setupReturnsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		seedReturnRequest(t, db, tenantID, uuid.New(), enums.ReturnStatusPending, base.Add(time.Duration(i)*time.Minute))
	}
	seedReturnRequest(t, db, tenantID, uuid.New(), enums.ReturnStatusRefunded, base.Add(10*time.Minute))
	seedReturnRequest(t, db, uuid.New(), uuid.New(), enums.ReturnStatusPending, base)

	pending := enums.ReturnStatusPending
	page, err := repo.List(ctx, tenantID, pagination.Params{Limit: 3}, ReturnFilters{Status: &pending})
	require.NoError(t, err)
	require.Len(t, page.Returns, 3)
	require.NotEmpty(t, page.NextCursor)

	rest, err := repo.List(ctx, tenantID, pagination.Params{Limit: 3, Cursor: page.NextCursor}, ReturnFilters{Status: &pending})
	require.NoError(t, err)
	assert.Len(t, rest.Returns, 1)
	assert.Empty(t, rest.NextCursor)

	seen := make(map[uuid.UUID]bool)
	for _, summary := range append(page.Returns, rest.Returns...) {
		assert.Equal(t, enums.ReturnStatusPending, summary.Status)
		seen[summary.ID] = true
	}
	assert.Len(t, seen, 4)
}
