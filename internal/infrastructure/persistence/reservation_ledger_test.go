package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReservation(t *testing.T, ref inventory.Ref, c inventory.Cell, q string, expiresAt *time.Time, created time.Time) *inventory.Reservation {
	t.Helper()
	r, err := inventory.NewReservation(ref, c, dec(q), dec(q), 0, expiresAt, nil, created)
	require.NoError(t, err)
	return r
}

func createReservation(t *testing.T, l *GormReservationLedger, ref inventory.Ref, c inventory.Cell, q string, expiresAt *time.Time) *inventory.Reservation {
	t.Helper()
	r := newReservation(t, ref, c, q, expiresAt, testNow)
	require.NoError(t, l.Create(context.Background(), r))
	return r
}

func ptr(t time.Time) *time.Time { return &t }

func TestGormReservationLedger_CreateAndFind(t *testing.T) {
	db := newTestDatabase(t)
	l := NewGormReservationLedger(db.DB)
	ctx := context.Background()

	r, err := inventory.NewReservation(
		inventory.NewRef("SO-LINE", "42"), cell("A", "L1"),
		dec("3.5"), dec("5"), 7, ptr(testNow.Add(time.Hour)), []string{"L2", "L3"}, testNow,
	)
	require.NoError(t, err)
	require.NoError(t, l.Create(ctx, r))

	got, err := l.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, inventory.ReservationActive, got.Status)
	assert.True(t, got.Quantity.Equal(dec("3.5")))
	assert.True(t, got.RequestedQuantity.Equal(dec("5")))
	assert.Equal(t, 7, got.Priority)
	assert.Equal(t, []string{"L2", "L3"}, got.Substitutes)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(testNow.Add(time.Hour)))

	byRef, err := l.FindByRef(ctx, inventory.NewRef("SO-LINE", "42"))
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	assert.Equal(t, r.ID, byRef[0].ID)
}

func TestGormReservationLedger_DuplicateRefCell(t *testing.T) {
	db := newTestDatabase(t)
	l := NewGormReservationLedger(db.DB)
	ref := inventory.NewRef("SO-LINE", "42")

	createReservation(t, l, ref, cell("A", "L1"), "1", nil)
	// another cell for the same cause is allowed
	createReservation(t, l, ref, cell("A", "L2"), "1", nil)

	err := l.Create(context.Background(), newReservation(t, ref, cell("A", "L1"), "2", nil, testNow))

	var dup *inventory.DuplicateReservationError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "42", dup.RefID)
	assert.True(t, errors.Is(err, shared.ErrDuplicateReservation))
}

func TestGormReservationLedger_Transitions(t *testing.T) {
	db := newTestDatabase(t)
	l := NewGormReservationLedger(db.DB)
	ctx := context.Background()

	r := createReservation(t, l, inventory.NewRef("SO-LINE", "1"), cell("A", "L1"), "2", nil)

	require.NoError(t, l.Consume(ctx, r.ID, testNow.Add(time.Minute)))

	got, err := l.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationConsumed, got.Status)
	assert.True(t, got.UpdatedAt.Equal(testNow.Add(time.Minute)))

	err = l.Release(ctx, r.ID, testNow.Add(2*time.Minute))
	var notActive *inventory.ReservationNotActiveError
	require.ErrorAs(t, err, &notActive)
	assert.Equal(t, inventory.ReservationConsumed, notActive.ActualStatus)

	err = l.Consume(ctx, uuid.New(), testNow)
	var notFound *inventory.ReservationNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestGormReservationLedger_Sums(t *testing.T) {
	db := newTestDatabase(t)
	l := NewGormReservationLedger(db.DB)
	ctx := context.Background()
	c := cell("A", "L1")

	createReservation(t, l, inventory.NewRef("SO-LINE", "1"), c, "2.5", nil)
	createReservation(t, l, inventory.NewRef("SO-LINE", "2"), c, "1.25", ptr(testNow.Add(-time.Minute)))
	released := createReservation(t, l, inventory.NewRef("SO-LINE", "3"), c, "4", ptr(testNow.Add(-time.Minute)))
	createReservation(t, l, inventory.NewRef("SO-LINE", "4"), cell("A", "L2"), "9", nil)
	require.NoError(t, l.Release(ctx, released.ID, testNow))

	active, err := l.SumActive(ctx, c)
	require.NoError(t, err)
	assert.True(t, active.Equal(dec("3.75")), active.String())

	overdue, err := l.SumOverdue(ctx, c, testNow)
	require.NoError(t, err)
	assert.True(t, overdue.Equal(dec("1.25")), overdue.String())

	empty, err := l.SumActive(ctx, cell("Z", "L1"))
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestGormReservationLedger_ExpireActiveFor(t *testing.T) {
	db := newTestDatabase(t)
	l := NewGormReservationLedger(db.DB)
	ctx := context.Background()
	c := cell("A", "L1")

	overdue := createReservation(t, l, inventory.NewRef("SO-LINE", "1"), c, "2", ptr(testNow.Add(-time.Second)))
	live := createReservation(t, l, inventory.NewRef("SO-LINE", "2"), c, "3", ptr(testNow.Add(time.Hour)))
	createReservation(t, l, inventory.NewRef("SO-LINE", "3"), c, "4", nil)

	cells, err := l.FindOverdueCells(ctx, testNow, 10)
	require.NoError(t, err)
	assert.Equal(t, []inventory.Cell{c}, cells)

	expired, err := l.ExpireActiveFor(ctx, c, testNow)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, overdue.ID, expired[0].ID)
	assert.Equal(t, inventory.ReservationExpired, expired[0].Status)

	again, err := l.ExpireActiveFor(ctx, c, testNow)
	require.NoError(t, err)
	assert.Empty(t, again)

	active, err := l.FindActiveByCell(ctx, c)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, live.ID, active[0].ID)

	cells, err = l.FindOverdueCells(ctx, testNow, 10)
	require.NoError(t, err)
	assert.Empty(t, cells)
}

func TestGormReservationLedger_FindOverdueCellsOrdered(t *testing.T) {
	db := newTestDatabase(t)
	l := NewGormReservationLedger(db.DB)
	past := ptr(testNow.Add(-time.Minute))

	createReservation(t, l, inventory.NewRef("SO-LINE", "1"), cell("B", "L1"), "1", past)
	createReservation(t, l, inventory.NewRef("SO-LINE", "2"), cell("A", "L2"), "1", past)
	createReservation(t, l, inventory.NewRef("SO-LINE", "3"), cell("A", "L1"), "1", past)
	createReservation(t, l, inventory.NewRef("SO-LINE", "4"), cell("A", "L1"), "1", past)

	cells, err := l.FindOverdueCells(context.Background(), testNow, 2)
	require.NoError(t, err)
	assert.Equal(t, []inventory.Cell{cell("A", "L1"), cell("A", "L2")}, cells)
}

func TestGormReservationLedger_Stats(t *testing.T) {
	db := newTestDatabase(t)
	l := NewGormReservationLedger(db.DB)
	ctx := context.Background()

	createReservation(t, l, inventory.NewRef("SO-LINE", "1"), cell("A", "L1"), "2", nil)
	createReservation(t, l, inventory.NewRef("SO-LINE", "2"), cell("A", "L1"), "3", nil)
	consumed := createReservation(t, l, inventory.NewRef("SO-LINE", "3"), cell("A", "L1"), "1.5", nil)
	require.NoError(t, l.Consume(ctx, consumed.ID, testNow))

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, inventory.ReservationActive, stats[0].Status)
	assert.Equal(t, int64(2), stats[0].Count)
	assert.True(t, stats[0].Quantity.Equal(dec("5")))
	assert.Equal(t, inventory.ReservationConsumed, stats[1].Status)
	assert.True(t, stats[1].Quantity.Equal(dec("1.5")))
}

func TestGormReservationLedger_CreateUniqueViolationOnPostgres(t *testing.T) {
	gormDB, mock := newMockDB(t)
	l := NewGormReservationLedger(gormDB)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "inventory_reservation"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_inventory_reservation_ref_cell"})

	err := l.Create(context.Background(), newReservation(t, inventory.NewRef("SO-LINE", "9"), cell("A", "L1"), "1", nil, testNow))

	var dup *inventory.DuplicateReservationError
	assert.ErrorAs(t, err, &dup)
	expectNoMockLeftovers(t, mock)
}
