package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormBalanceStore_GetMissing(t *testing.T) {
	db := newTestDatabase(t)
	store := NewGormBalanceStore(db.DB)

	_, err := store.Get(context.Background(), cell("A", "L1"))

	var notFound *inventory.BalanceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "A", notFound.ItemID)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestGormBalanceStore_LockCreatesZeroRow(t *testing.T) {
	db := newTestDatabase(t)
	store := NewGormBalanceStore(db.DB)
	ctx := context.Background()

	b, err := store.LockForUpdate(ctx, cell("A", "L1"))
	require.NoError(t, err)
	assert.True(t, b.OnHand.IsZero())
	assert.True(t, b.Available.IsZero())
	assert.Equal(t, int64(0), b.Version)

	// a second lock finds the same row instead of failing on the key
	again, err := store.LockForUpdate(ctx, cell("A", "L1"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Version)

	// zero rows are not listed as balances
	listed, err := store.ListByItem(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestGormBalanceStore_PutBumpsVersion(t *testing.T) {
	db := newTestDatabase(t)
	store := NewGormBalanceStore(db.DB)
	ctx := context.Background()

	b := seedBalance(t, db.DB, cell("A", "L1"), "10", "3")
	assert.Equal(t, int64(1), b.Version)

	got, err := store.Get(ctx, cell("A", "L1"))
	require.NoError(t, err)
	assert.True(t, got.OnHand.Equal(dec("10")))
	assert.True(t, got.Allocated.Equal(dec("3")))
	assert.True(t, got.Available.Equal(dec("7")))
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.UpdatedAt.Equal(testNow))
}

func TestGormBalanceStore_PutStaleVersion(t *testing.T) {
	db := newTestDatabase(t)
	store := NewGormBalanceStore(db.DB)
	ctx := context.Background()

	seedBalance(t, db.DB, cell("A", "L1"), "10", "0")

	stale, err := store.Get(ctx, cell("A", "L1"))
	require.NoError(t, err)
	stale.Version = 0
	stale.OnHand = dec("11")
	stale.Available = dec("11")

	err = store.Put(ctx, stale)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	assert.Equal(t, int64(0), stale.Version)
}

func TestGormBalanceStore_PutRejectsBrokenBalance(t *testing.T) {
	db := newTestDatabase(t)
	store := NewGormBalanceStore(db.DB)
	ctx := context.Background()

	b, err := store.LockForUpdate(ctx, cell("A", "L1"))
	require.NoError(t, err)
	b.OnHand = dec("5")
	b.Allocated = dec("6")
	b.Available = dec("-1")

	var violation *inventory.InvariantViolationError
	require.ErrorAs(t, store.Put(ctx, b), &violation)

	unchanged, err := store.LockForUpdate(ctx, cell("A", "L1"))
	require.NoError(t, err)
	assert.True(t, unchanged.OnHand.IsZero())
}

func TestGormBalanceStore_ListByItem(t *testing.T) {
	db := newTestDatabase(t)
	store := NewGormBalanceStore(db.DB)

	seedBalance(t, db.DB, cell("A", "L2"), "4", "0")
	seedBalance(t, db.DB, cell("A", "L1"), "6", "1")
	seedBalance(t, db.DB, cell("B", "L1"), "9", "0")

	balances, err := store.ListByItem(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "L1", balances[0].LocationID)
	assert.Equal(t, "L2", balances[1].LocationID)
}

func TestGormBalanceStore_PutDeadlock(t *testing.T) {
	gormDB, mock := newMockDB(t)
	store := NewGormBalanceStore(gormDB)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "inventory_balance" SET`)).
		WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})

	b := inventory.NewBalance(cell("A", "L1"))
	b.Version = 3
	err := store.Put(context.Background(), b)

	assert.ErrorIs(t, err, shared.ErrDeadlock)
	assert.Equal(t, int64(3), b.Version)
	expectNoMockLeftovers(t, mock)
}

func TestGormBalanceStore_PutVersionMiss(t *testing.T) {
	gormDB, mock := newMockDB(t)
	store := NewGormBalanceStore(gormDB)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "inventory_balance" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Put(context.Background(), inventory.NewBalance(cell("A", "L1")))

	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	expectNoMockLeftovers(t, mock)
}

func TestGormBalanceStore_ListSerializationFailure(t *testing.T) {
	gormDB, mock := newMockDB(t)
	store := NewGormBalanceStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "inventory_balance"`)).
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})

	_, err := store.ListByItem(context.Background(), "A")

	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	expectNoMockLeftovers(t, mock)
}
