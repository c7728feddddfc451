package persistence

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	appinv "github.com/erp/inventory-core/internal/application/inventory"
	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIsolation(t *testing.T) {
	tests := map[string]sql.IsolationLevel{
		"":                sql.LevelRepeatableRead,
		"REPEATABLE_READ": sql.LevelRepeatableRead,
		" serializable ":  sql.LevelSerializable,
	}
	for in, want := range tests {
		got, err := parseIsolation(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, name := range []string{"snapshot", "read_committed"} {
		_, err := NewGormTransactionScope(nil, TransactionOptions{Isolation: name})
		assert.Error(t, err, name)
	}
}

func TestGormTransactionScope_CommitsAllStores(t *testing.T) {
	db := newTestDatabase(t)
	scope, err := NewGormTransactionScope(db.DB, TransactionOptions{})
	require.NoError(t, err)
	ctx := context.Background()
	c := cell("A", "L1")
	op := uuid.New()

	err = scope.Execute(ctx, func(repos appinv.TransactionalRepositories) error {
		b, err := repos.Balances().LockForUpdate(ctx, c)
		if err != nil {
			return err
		}
		prev := b.Snapshot()
		if err := b.Receive(dec("10")); err != nil {
			return err
		}
		if err := b.Allocate(dec("4")); err != nil {
			return err
		}
		b.UpdatedAt = testNow
		if err := repos.Balances().Put(ctx, b); err != nil {
			return err
		}
		entry, err := inventory.NewInventoryTransaction(inventory.KindPurchaseReceipt, prev, b, inventory.EntryContext{
			OperationID: op,
			OccurredAt:  testNow,
		})
		if err != nil {
			return err
		}
		if err := repos.Journal().Append(ctx, entry); err != nil {
			return err
		}
		r, err := inventory.NewReservation(inventory.NewRef("SO-LINE", "1"), c, dec("4"), dec("4"), 0, nil, nil, testNow)
		if err != nil {
			return err
		}
		return repos.Reservations().Create(ctx, r)
	})
	require.NoError(t, err)

	reader := scope.Reader()
	b, err := reader.Balances().Get(ctx, c)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(dec("6")))

	entries, err := reader.Journal().ListByOperation(ctx, op)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	sum, err := reader.Reservations().SumActive(ctx, c)
	require.NoError(t, err)
	assert.True(t, sum.Equal(dec("4")))
}

func TestGormTransactionScope_RollsBackOnError(t *testing.T) {
	db := newTestDatabase(t)
	scope, err := NewGormTransactionScope(db.DB, TransactionOptions{})
	require.NoError(t, err)
	ctx := context.Background()
	boom := errors.New("boom")

	err = scope.Execute(ctx, func(repos appinv.TransactionalRepositories) error {
		b, err := repos.Balances().LockForUpdate(ctx, cell("A", "L1"))
		if err != nil {
			return err
		}
		require.NoError(t, b.Receive(dec("10")))
		if err := repos.Balances().Put(ctx, b); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = scope.Reader().Balances().Get(ctx, cell("A", "L1"))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormTransactionScope_PostgresStatements(t *testing.T) {
	gormDB, mock := newMockDB(t)
	scope, err := NewGormTransactionScope(gormDB, TransactionOptions{
		Isolation:   "serializable",
		LockTimeout: 1500 * time.Millisecond,
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL lock_timeout = '1500ms'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "inventory_balance" SET`)).
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	err = scope.Execute(context.Background(), func(repos appinv.TransactionalRepositories) error {
		b := inventory.NewBalance(cell("A", "L1"))
		return repos.Balances().Put(context.Background(), b)
	})

	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	expectNoMockLeftovers(t, mock)
}
