package reservations

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
)

func setupReservationTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS inventory_reservations (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  order_id TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'held',
  expires_at DATETIME,
  confirmed_at DATETIME,
  released_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS reservation_lines (
  id TEXT PRIMARY KEY,
  reservation_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  variant_id TEXT NOT NULL,
  qty INTEGER NOT NULL
);`
	require.NoError(t, db.Exec(schema).Error)
	t.Cleanup(func() {
		db.Exec("DELETE FROM reservation_lines")
		db.Exec("DELETE FROM inventory_reservations")
	})
	return db
}

func seedReservation(t *testing.T, db *gorm.DB, tenantID, orderID uuid.UUID, status enums.ReservationStatus, expiresAt *time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, db.Exec(
		"INSERT INTO inventory_reservations (id, tenant_id, order_id, status, expires_at) VALUES (?, ?, ?, ?, ?)",
		id, tenantID, orderID, status, expiresAt,
	).Error)
	return id
}

func seedReservationLine(t *testing.T, db *gorm.DB, reservationID, productID uuid.UUID, qty int) {
	t.Helper()
	require.NoError(t, db.Exec(
		"INSERT INTO reservation_lines (id, reservation_id, product_id, variant_id, qty) VALUES (?, ?, ?, ?, ?)",
		uuid.New(), reservationID, productID, uuid.Nil, qty,
	).Error)
}

func TestRepositoryClaimHeldOnce(t *testing.T) {
	db := setupReservationTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	id := seedReservation(t, db, tenantID, uuid.New(), enums.ReservationStatusHeld, nil)

	claimed, err := repo.ClaimHeld(ctx, id, enums.ReservationStatusConfirmed, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, claimed)

	// The second claim must lose: the reservation already left held.
	claimed, err = repo.ClaimHeld(ctx, id, enums.ReservationStatusReleased, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, claimed)

	reservation, err := repo.FindByID(ctx, tenantID, id)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusConfirmed, reservation.Status)
	assert.NotNil(t, reservation.ConfirmedAt)
	assert.Nil(t, reservation.ReleasedAt)
}

func TestRepositoryClaimHeldSetsReleasedAt(t *testing.T) {
	db := setupReservationTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	id := seedReservation(t, db, tenantID, uuid.New(), enums.ReservationStatusHeld, nil)

	claimed, err := repo.ClaimHeld(ctx, id, enums.ReservationStatusExpired, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, claimed)

	reservation, err := repo.FindByID(ctx, tenantID, id)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusExpired, reservation.Status)
	assert.NotNil(t, reservation.ReleasedAt)
}

func TestRepositoryFindByOrderIDPreloadsLines(t *testing.T) {
	db := setupReservationTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	orderID := uuid.New()
	id := seedReservation(t, db, tenantID, orderID, enums.ReservationStatusHeld, nil)
	seedReservationLine(t, db, id, uuid.New(), 2)
	seedReservationLine(t, db, id, uuid.New(), 1)

	reservation, err := repo.FindByOrderID(ctx, tenantID, orderID)
	require.NoError(t, err)
	assert.Equal(t, id, reservation.ID)
	assert.Len(t, reservation.Lines, 2)
}

func TestRepositoryFindByOrderIDTenantScoped(t *testing.T) {
	db := setupReservationTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	orderID := uuid.New()
	seedReservation(t, db, uuid.New(), orderID, enums.ReservationStatusHeld, nil)

	_, err := repo.FindByOrderID(ctx, uuid.New(), orderID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryFindStaleHeld(t *testing.T) {
	db := setupReservationTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	staleID := seedReservation(t, db, tenantID, uuid.New(), enums.ReservationStatusHeld, &past)
	seedReservation(t, db, tenantID, uuid.New(), enums.ReservationStatusHeld, &future)
	seedReservation(t, db, tenantID, uuid.New(), enums.ReservationStatusConfirmed, &past)

	stale, err := repo.FindStaleHeld(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, staleID, stale[0].ID)
}

func TestRepositoryFindStaleHeldHonorsLimit(t *testing.T) {
	db := setupReservationTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	past := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedReservation(t, db, tenantID, uuid.New(), enums.ReservationStatusHeld, &past)
	}

	stale, err := repo.FindStaleHeld(ctx, time.Now().UTC(), 3)
	require.NoError(t, err)
	assert.Len(t, stale, 3)
}
