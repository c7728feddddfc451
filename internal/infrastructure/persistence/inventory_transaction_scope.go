package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	appinv "github.com/erp/inventory-core/internal/application/inventory"
	"github.com/erp/inventory-core/internal/domain/inventory"
	"gorm.io/gorm"
)

// TransactionOptions tunes the transactions opened by GormTransactionScope.
type TransactionOptions struct {
	// Isolation is "repeatable_read" (default) or "serializable". Row locks
	// keep per-cell updates ordered at either level.
	Isolation string
	// LockTimeout bounds each row-lock wait on PostgreSQL. Zero leaves the
	// server default; the operation deadline still applies.
	LockTimeout time.Duration
}

// GormTransactionScope implements TransactionScope using GORM transactions.
// It provides atomic execution of multiple store operations.
type GormTransactionScope struct {
	db        *gorm.DB
	txOptions *sql.TxOptions
	opts      TransactionOptions
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB, opts TransactionOptions) (*GormTransactionScope, error) {
	level, err := parseIsolation(opts.Isolation)
	if err != nil {
		return nil, err
	}
	return &GormTransactionScope{
		db:        db,
		txOptions: &sql.TxOptions{Isolation: level},
		opts:      opts,
	}, nil
}

func parseIsolation(name string) (sql.IsolationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return sql.LevelDefault, fmt.Errorf("unsupported isolation level %q", name)
	}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appinv.TransactionalRepositories) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.applyLockTimeout(tx); err != nil {
			return err
		}
		return fn(&gormTransactionalRepositories{tx: tx})
	}, s.txOptionsFor())
	return translateError(err)
}

// txOptionsFor drops the isolation level on SQLite, which only knows
// serializable transactions.
func (s *GormTransactionScope) txOptionsFor() *sql.TxOptions {
	if s.db.Dialector.Name() != "postgres" {
		return nil
	}
	return s.txOptions
}

func (s *GormTransactionScope) applyLockTimeout(tx *gorm.DB) error {
	if s.opts.LockTimeout <= 0 || tx.Dialector.Name() != "postgres" {
		return nil
	}
	stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.opts.LockTimeout.Milliseconds())
	return translateError(tx.Exec(stmt).Error)
}

// Reader returns stores bound to the pool, outside any transaction.
func (s *GormTransactionScope) Reader() appinv.TransactionalRepositories {
	return &gormTransactionalRepositories{tx: s.db}
}

// gormTransactionalRepositories provides access to all stores within a transaction.
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

// Balances returns the balance store scoped to the current transaction.
func (r *gormTransactionalRepositories) Balances() inventory.BalanceStore {
	return NewGormBalanceStore(r.tx)
}

// Journal returns the journal scoped to the current transaction.
func (r *gormTransactionalRepositories) Journal() inventory.Journal {
	return NewGormJournal(r.tx)
}

// Reservations returns the reservation ledger scoped to the current transaction.
func (r *gormTransactionalRepositories) Reservations() inventory.ReservationLedger {
	return NewGormReservationLedger(r.tx)
}

// Ensure GormTransactionScope implements TransactionScope
var _ appinv.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ appinv.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
