package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceStore persists per-cell balances. Locking methods must run inside
// the transaction that will write the row.
type BalanceStore interface {
	// Get reads a balance without locking; the result may be stale.
	// Returns a *BalanceNotFoundError for a cell that was never created.
	Get(ctx context.Context, cell Cell) (*Balance, error)

	// LockForUpdate acquires a row-level exclusive lock on the cell,
	// creating a zero row first if none exists.
	LockForUpdate(ctx context.Context, cell Cell) (*Balance, error)

	// Put writes the balance with version+1. It refuses a balance that
	// breaks the invariants and reports a concurrency conflict when the
	// stored version moved underneath the caller.
	Put(ctx context.Context, b *Balance) error

	// ListByItem returns the balances of an item across locations.
	ListByItem(ctx context.Context, itemID string) ([]Balance, error)
}

// Journal is the append-only log of balance deltas.
type Journal interface {
	// Append inserts the entry and assigns its ID.
	Append(ctx context.Context, entry *InventoryTransaction) error

	// ListByCell returns the most recent entries of a cell in ascending id
	// order. A limit <= 0 returns everything.
	ListByCell(ctx context.Context, cell Cell, limit int) ([]InventoryTransaction, error)

	// ListByRef returns every entry written for an external cause.
	ListByRef(ctx context.Context, ref Ref) ([]InventoryTransaction, error)

	// ListByOperation returns the entries written by the given operations.
	ListByOperation(ctx context.Context, operationIDs ...uuid.UUID) ([]InventoryTransaction, error)

	// ListAfter returns up to limit entries with id > afterID in ascending
	// id order. The page stops before the first entry that occurred after
	// until, so no newer entry is ever skipped over.
	ListAfter(ctx context.Context, afterID int64, until time.Time, limit int) ([]InventoryTransaction, error)
}

// ReservationLedger is the record of commitments backing allocated stock.
// Mutations assume the caller holds the lock on the reservation's cell.
type ReservationLedger interface {
	// Create inserts an Active reservation. A unique-key violation on
	// (ref_type, ref_id, item_id, location_id) returns *DuplicateReservationError.
	Create(ctx context.Context, r *Reservation) error

	// Consume moves an Active reservation to Consumed.
	Consume(ctx context.Context, id uuid.UUID, now time.Time) error

	// Release moves an Active reservation to Released.
	Release(ctx context.Context, id uuid.UUID, now time.Time) error

	// ExpireActiveFor marks every Active reservation of the cell whose
	// expires_at is before now as Expired and returns them.
	ExpireActiveFor(ctx context.Context, cell Cell, now time.Time) ([]Reservation, error)

	// SumActive returns the total quantity of Active reservations of a cell.
	SumActive(ctx context.Context, cell Cell) (decimal.Decimal, error)

	// SumOverdue returns the total quantity of Active reservations of a
	// cell that have passed their deadline but were not yet expired.
	SumOverdue(ctx context.Context, cell Cell, now time.Time) (decimal.Decimal, error)

	// FindByID loads a reservation by id.
	FindByID(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// FindByRef loads every reservation of an external cause, any status.
	FindByRef(ctx context.Context, ref Ref) ([]Reservation, error)

	// FindActiveByCell loads the Active reservations of a cell.
	FindActiveByCell(ctx context.Context, cell Cell) ([]Reservation, error)

	// FindOverdueCells returns up to limit distinct cells that hold Active
	// reservations past their deadline.
	FindOverdueCells(ctx context.Context, now time.Time, limit int) ([]Cell, error)

	// Stats returns count and quantity per status.
	Stats(ctx context.Context) ([]ReservationStatusStat, error)
}

// ReservationStatusStat aggregates reservations in one status.
type ReservationStatusStat struct {
	Status   ReservationStatus `json:"status"`
	Count    int64             `json:"count"`
	Quantity decimal.Decimal   `json:"quantity"`
}

// ReplayCheckpointStore remembers how far the journal has been republished.
type ReplayCheckpointStore interface {
	Load(ctx context.Context, name string) (int64, error)
	Save(ctx context.Context, name string, lastID int64) error
}
