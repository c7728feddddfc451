package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the authoritative stock position of one cell.
// Available is materialized and must equal OnHand - Allocated whenever the
// balance is written.
type Balance struct {
	ItemID     string
	LocationID string
	OnHand     decimal.Decimal
	Allocated  decimal.Decimal
	Available  decimal.Decimal
	Version    int64
	UpdatedAt  time.Time
}

// NewBalance returns the zero balance of a cell.
func NewBalance(cell Cell) *Balance {
	return &Balance{
		ItemID:     cell.ItemID,
		LocationID: cell.LocationID,
		OnHand:     decimal.Zero,
		Allocated:  decimal.Zero,
		Available:  decimal.Zero,
	}
}

// Cell returns the coordinate of the balance.
func (b *Balance) Cell() Cell {
	return Cell{ItemID: b.ItemID, LocationID: b.LocationID}
}

// BalanceSnapshot is an immutable copy of a balance used for journal
// pre-images and query results.
type BalanceSnapshot struct {
	Cell      Cell            `json:"cell"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Allocated decimal.Decimal `json:"allocated"`
	Available decimal.Decimal `json:"available"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Snapshot copies the current state.
func (b *Balance) Snapshot() BalanceSnapshot {
	return BalanceSnapshot{
		Cell:      b.Cell(),
		OnHand:    b.OnHand,
		Allocated: b.Allocated,
		Available: b.Available,
		Version:   b.Version,
		UpdatedAt: b.UpdatedAt,
	}
}

// Validate checks on_hand >= 0, 0 <= allocated <= on_hand and
// available == on_hand - allocated.
func (b *Balance) Validate() error {
	switch {
	case b.OnHand.IsNegative():
		return &InvariantViolationError{Cell: b.Cell(), Detail: "on_hand is negative"}
	case b.Allocated.IsNegative():
		return &InvariantViolationError{Cell: b.Cell(), Detail: "allocated is negative"}
	case b.Allocated.GreaterThan(b.OnHand):
		return &InvariantViolationError{Cell: b.Cell(), Detail: "allocated exceeds on_hand"}
	case !b.Available.Equal(b.OnHand.Sub(b.Allocated)):
		return &InvariantViolationError{Cell: b.Cell(), Detail: "available does not equal on_hand - allocated"}
	}
	return nil
}

// Receive increases on_hand.
func (b *Balance) Receive(q decimal.Decimal) error {
	if err := ValidatePositiveQuantity("quantity", q); err != nil {
		return err
	}
	b.OnHand = b.OnHand.Add(q)
	b.recompute()
	return nil
}

// Issue removes unallocated stock from on_hand.
func (b *Balance) Issue(q decimal.Decimal) error {
	if err := ValidatePositiveQuantity("quantity", q); err != nil {
		return err
	}
	if b.Available.LessThan(q) {
		return b.insufficient(q)
	}
	b.OnHand = b.OnHand.Sub(q)
	b.recompute()
	return nil
}

// Allocate commits available stock to a reservation.
func (b *Balance) Allocate(q decimal.Decimal) error {
	if err := ValidatePositiveQuantity("quantity", q); err != nil {
		return err
	}
	if b.Available.LessThan(q) {
		return b.insufficient(q)
	}
	b.Allocated = b.Allocated.Add(q)
	b.recompute()
	return nil
}

// Deallocate returns allocated stock to available.
func (b *Balance) Deallocate(q decimal.Decimal) error {
	if err := ValidatePositiveQuantity("quantity", q); err != nil {
		return err
	}
	if b.Allocated.LessThan(q) {
		return &InvariantViolationError{Cell: b.Cell(), Detail: "deallocating more than allocated"}
	}
	b.Allocated = b.Allocated.Sub(q)
	b.recompute()
	return nil
}

// ConsumeAllocated ships allocated stock: on_hand and allocated both drop by q.
func (b *Balance) ConsumeAllocated(q decimal.Decimal) error {
	if err := ValidatePositiveQuantity("quantity", q); err != nil {
		return err
	}
	if b.Allocated.LessThan(q) || b.OnHand.LessThan(q) {
		return &InvariantViolationError{Cell: b.Cell(), Detail: "consuming more than allocated"}
	}
	b.OnHand = b.OnHand.Sub(q)
	b.Allocated = b.Allocated.Sub(q)
	b.recompute()
	return nil
}

// Adjust applies a signed correction to on_hand. The result may not fall
// below allocated.
func (b *Balance) Adjust(delta decimal.Decimal) error {
	if err := ValidateSignedQuantity("delta", delta); err != nil {
		return err
	}
	next := b.OnHand.Add(delta)
	if next.LessThan(b.Allocated) || next.IsNegative() {
		return &AdjustmentWouldViolateAllocationError{
			ItemID:          b.ItemID,
			LocationID:      b.LocationID,
			Allocated:       b.Allocated,
			RequestedOnHand: next,
		}
	}
	b.OnHand = next
	b.recompute()
	return nil
}

func (b *Balance) recompute() {
	b.Available = b.OnHand.Sub(b.Allocated)
}

func (b *Balance) insufficient(q decimal.Decimal) error {
	return &InsufficientAvailabilityError{
		ItemID:     b.ItemID,
		LocationID: b.LocationID,
		Requested:  q,
		Available:  b.Available,
	}
}
