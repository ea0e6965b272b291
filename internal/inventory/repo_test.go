package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupInventoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS inventory_levels (
  tenant_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  variant_id TEXT NOT NULL,
  stock_qty INTEGER NOT NULL DEFAULT 0,
  reorder_point INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME,
  PRIMARY KEY (tenant_id, product_id, variant_id)
);`
	require.NoError(t, db.Exec(schema).Error)
	t.Cleanup(func() {
		db.Exec("DELETE FROM inventory_levels")
	})
	return db
}

func seedLevel(t *testing.T, db *gorm.DB, tenantID, productID uuid.UUID, qty, reorder int) {
	t.Helper()
	require.NoError(t, db.Exec(
		"INSERT INTO inventory_levels (tenant_id, product_id, variant_id, stock_qty, reorder_point) VALUES (?, ?, ?, ?, ?)",
		tenantID, productID, uuid.Nil, qty, reorder,
	).Error)
}

func TestRepositoryDeductGuardsAvailability(t *testing.T) {
	db := setupInventoryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	productID := uuid.New()
	seedLevel(t, db, tenantID, productID, 5, 0)

	ok, err := repo.Deduct(ctx, tenantID, productID, uuid.Nil, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	level, err := repo.FindLevel(ctx, tenantID, productID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 2, level.StockQty)

	// More than remains: the guard must reject and leave the row untouched.
	ok, err = repo.Deduct(ctx, tenantID, productID, uuid.Nil, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	level, err = repo.FindLevel(ctx, tenantID, productID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 2, level.StockQty)
}

func TestRepositoryDeductExactRemainder(t *testing.T) {
	db := setupInventoryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	productID := uuid.New()
	seedLevel(t, db, tenantID, productID, 4, 0)

	ok, err := repo.Deduct(ctx, tenantID, productID, uuid.Nil, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	level, err := repo.FindLevel(ctx, tenantID, productID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 0, level.StockQty)
}

func TestRepositoryDeductMissingLevel(t *testing.T) {
	db := setupInventoryTestDB(t)
	repo := NewRepository(db)

	ok, err := repo.Deduct(context.Background(), uuid.New(), uuid.New(), uuid.Nil, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryRestore(t *testing.T) {
	db := setupInventoryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	productID := uuid.New()
	seedLevel(t, db, tenantID, productID, 1, 0)

	require.NoError(t, repo.Restore(ctx, tenantID, productID, uuid.Nil, 4))

	level, err := repo.FindLevel(ctx, tenantID, productID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 5, level.StockQty)
}

func TestRepositoryRestoreMissingLevel(t *testing.T) {
	db := setupInventoryTestDB(t)
	repo := NewRepository(db)

	err := repo.Restore(context.Background(), uuid.New(), uuid.New(), uuid.Nil, 2)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryTenantIsolation(t *testing.T) {
	db := setupInventoryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	productID := uuid.New()
	tenantA := uuid.New()
	tenantB := uuid.New()
	seedLevel(t, db, tenantA, productID, 10, 0)
	seedLevel(t, db, tenantB, productID, 2, 0)

	ok, err := repo.Deduct(ctx, tenantA, productID, uuid.Nil, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	levelB, err := repo.FindLevel(ctx, tenantB, productID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 2, levelB.StockQty)
}
