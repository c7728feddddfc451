package persistence

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestDatabase returns a migrated, shared in-memory SQLite database
// private to the test. A single connection keeps every statement on the
// same in-memory file.
func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), DatabaseOptions{LogLevel: "silent"})
	require.NoError(t, err)

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newMockDB returns a GORM handle speaking PostgreSQL to sqlmock.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return gormDB, mock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cell(item, location string) inventory.Cell {
	return inventory.Cell{ItemID: item, LocationID: location}
}

// seedBalance writes a balance with the given on_hand and allocated.
func seedBalance(t *testing.T, db *gorm.DB, c inventory.Cell, onHand, allocated string) *inventory.Balance {
	t.Helper()
	store := NewGormBalanceStore(db)
	b, err := store.LockForUpdate(context.Background(), c)
	require.NoError(t, err)
	b.OnHand = dec(onHand)
	b.Allocated = dec(allocated)
	b.Available = b.OnHand.Sub(b.Allocated)
	b.UpdatedAt = testNow
	require.NoError(t, store.Put(context.Background(), b))
	return b
}

func expectNoMockLeftovers(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	require.NoError(t, mock.ExpectationsWereMet())
}
