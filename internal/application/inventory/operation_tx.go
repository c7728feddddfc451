package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	systemActor   = "system"
	expiredReason = "reservation expired"
)

// opTx is the state of one attempt of one operation inside its database
// transaction.
type opTx struct {
	ctx   context.Context
	repos TransactionalRepositories
	ec    inventory.EntryContext
	// idempotent is set when the caller supplied the operation id.
	idempotent bool

	locked map[inventory.Cell]*inventory.Balance
	last   *inventory.Cell

	entries         []*inventory.InventoryTransaction
	expiredCount    int
	expiredQuantity decimal.Decimal
}

func newOpTx(ctx context.Context, repos TransactionalRepositories, ec inventory.EntryContext, idempotent bool) *opTx {
	return &opTx{
		ctx:             ctx,
		repos:           repos,
		ec:              ec,
		idempotent:      idempotent,
		locked:          make(map[inventory.Cell]*inventory.Balance),
		expiredQuantity: decimal.Zero,
	}
}

func (t *opTx) now() time.Time {
	return t.ec.OccurredAt
}

// lock acquires row locks on cells in canonical order, creating missing
// rows, then expires overdue reservations on each cell so that allocated
// only reflects live reservations from here on.
func (t *opTx) lock(cells ...inventory.Cell) error {
	for _, c := range inventory.CanonicalOrder(cells...) {
		if _, ok := t.locked[c]; ok {
			continue
		}
		if t.last != nil && !t.last.Less(c) {
			return fmt.Errorf("lock order violated: %s requested after %s", c, *t.last)
		}
		b, err := t.repos.Balances().LockForUpdate(t.ctx, c)
		if err != nil {
			return err
		}
		t.locked[c] = b
		locked := c
		t.last = &locked
		if err := t.expireOverdue(b); err != nil {
			return err
		}
	}
	return nil
}

// balance returns a cell locked earlier in this transaction.
func (t *opTx) balance(c inventory.Cell) *inventory.Balance {
	b, ok := t.locked[c]
	if !ok {
		panic(fmt.Sprintf("inventory: cell %s used without lock", c))
	}
	return b
}

// existing returns a locked cell that had been written before. A row that
// LockForUpdate just created has version 0.
func (t *opTx) existing(c inventory.Cell) (*inventory.Balance, error) {
	b := t.balance(c)
	if b.Version == 0 {
		return nil, &inventory.BalanceNotFoundError{ItemID: c.ItemID, LocationID: c.LocationID}
	}
	return b, nil
}

// apply mutates a locked cell and records the step.
func (t *opTx) apply(c inventory.Cell, kind inventory.TransactionKind, mutate func(b *inventory.Balance) error) error {
	b := t.balance(c)
	prev := b.Snapshot()
	if err := mutate(b); err != nil {
		return err
	}
	return t.write(kind, prev, b, t.ec)
}

// write persists the balance with a new version and appends the matching
// journal entry.
func (t *opTx) write(kind inventory.TransactionKind, prev inventory.BalanceSnapshot, b *inventory.Balance, ec inventory.EntryContext) error {
	b.UpdatedAt = ec.OccurredAt
	if err := t.repos.Balances().Put(t.ctx, b); err != nil {
		return err
	}
	entry, err := inventory.NewInventoryTransaction(kind, prev, b, ec)
	if err != nil {
		return err
	}
	if err := t.repos.Journal().Append(t.ctx, entry); err != nil {
		return err
	}
	t.entries = append(t.entries, entry)
	return nil
}

// expireOverdue moves overdue Active reservations of the cell to Expired
// and returns their quantity to available. Each expiry is its own logical
// operation so that it is published as a ReservationReleased event of the
// reservation's cause.
func (t *opTx) expireOverdue(b *inventory.Balance) error {
	expired, err := t.repos.Reservations().ExpireActiveFor(t.ctx, b.Cell(), t.now())
	if err != nil {
		return err
	}
	for _, r := range expired {
		prev := b.Snapshot()
		if err := b.Deallocate(r.Quantity); err != nil {
			return err
		}
		ec := inventory.EntryContext{
			OperationID: uuid.NewSHA1(r.ID, []byte(inventory.ReservationExpired.String())),
			OccurredAt:  t.now(),
			Ref:         r.Ref(),
			Reason:      expiredReason,
			Actor:       systemActor,
		}
		if err := t.write(inventory.KindRelease, prev, b, ec); err != nil {
			return err
		}
		t.expiredCount++
		t.expiredQuantity = t.expiredQuantity.Add(r.Quantity)
	}
	return nil
}

// priorEntries returns the entries of an earlier commit of the same
// caller-supplied operation id.
func (t *opTx) priorEntries() ([]inventory.InventoryTransaction, error) {
	if !t.idempotent {
		return nil, nil
	}
	return t.repos.Journal().ListByOperation(t.ctx, t.ec.OperationID)
}

// lastState returns the post-image of the last entry for the cell.
func lastState(entries []inventory.InventoryTransaction, c inventory.Cell) (inventory.InventoryTransaction, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Cell() == c {
			return entries[i], true
		}
	}
	return inventory.InventoryTransaction{}, false
}

func viewOf(b *inventory.Balance) BalanceView {
	return BalanceView{
		ItemID:     b.ItemID,
		LocationID: b.LocationID,
		OnHand:     b.OnHand,
		Allocated:  b.Allocated,
		Available:  b.Available,
		Version:    b.Version,
		UpdatedAt:  b.UpdatedAt,
	}
}

func viewOfEntry(e inventory.InventoryTransaction) BalanceView {
	return BalanceView{
		ItemID:     e.ItemID,
		LocationID: e.LocationID,
		OnHand:     e.NewOnHand,
		Allocated:  e.NewAllocated,
		Available:  e.NewOnHand.Sub(e.NewAllocated),
		Version:    e.BalanceVersion,
		UpdatedAt:  e.OccurredAt,
	}
}
