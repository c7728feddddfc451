package inventory

import (
	"context"

	"github.com/erp/inventory-core/internal/domain/inventory"
)

// TransactionScope provides transactional access to the inventory stores.
// When a function is executed within a transaction scope, all store operations
// will be part of the same database transaction and will be committed or rolled back atomically.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// If the function succeeds, the transaction is committed.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error

	// Reader returns stores bound to the pool outside any transaction.
	// Reads through them are Read Committed and take no locks.
	Reader() TransactionalRepositories
}

// TransactionalRepositories provides access to all inventory stores within a transaction.
// All stores returned share the same underlying database transaction.
type TransactionalRepositories interface {
	// Balances returns the balance store scoped to the current transaction
	Balances() inventory.BalanceStore
	// Journal returns the journal scoped to the current transaction
	Journal() inventory.Journal
	// Reservations returns the reservation ledger scoped to the current transaction
	Reservations() inventory.ReservationLedger
}

// NoOpTransactionScope is a transaction scope that doesn't actually use transactions.
// It backs read-only access and tests that run against in-memory stores.
type NoOpTransactionScope struct {
	balances     inventory.BalanceStore
	journal      inventory.Journal
	reservations inventory.ReservationLedger
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given stores.
func NewNoOpTransactionScope(
	balances inventory.BalanceStore,
	journal inventory.Journal,
	reservations inventory.ReservationLedger,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{
		balances:     balances,
		journal:      journal,
		reservations: reservations,
	}
}

// Execute runs the function without a real transaction.
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// Reader returns the scope itself.
func (s *NoOpTransactionScope) Reader() TransactionalRepositories {
	return s
}

// Balances returns the balance store.
func (s *NoOpTransactionScope) Balances() inventory.BalanceStore {
	return s.balances
}

// Journal returns the journal.
func (s *NoOpTransactionScope) Journal() inventory.Journal {
	return s.journal
}

// Reservations returns the reservation ledger.
func (s *NoOpTransactionScope) Reservations() inventory.ReservationLedger {
	return s.reservations
}

// Ensure NoOpTransactionScope implements both interfaces
var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
