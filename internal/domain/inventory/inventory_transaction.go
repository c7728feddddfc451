package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind classifies a journal entry.
type TransactionKind uint8

const (
	// KindSalesOrder is stock shipped against a sales order
	KindSalesOrder TransactionKind = iota + 1
	// KindSalesReturn is stock coming back from a customer
	KindSalesReturn
	// KindPurchaseReceipt is stock received from a supplier
	KindPurchaseReceipt
	// KindPurchaseReturn is stock sent back to a supplier
	KindPurchaseReturn
	// KindManufacturingConsumption is material issued to a work order
	KindManufacturingConsumption
	// KindManufacturingProduction is finished goods from a work order
	KindManufacturingProduction
	// KindAdjustment is a signed correction such as a cycle count
	KindAdjustment
	// KindTransferOut is the source leg of a transfer
	KindTransferOut
	// KindTransferIn is the destination leg of a transfer
	KindTransferIn
	// KindReserve increases allocated
	KindReserve
	// KindRelease decreases allocated without touching on_hand
	KindRelease
)

var transactionKindNames = map[TransactionKind]string{
	KindSalesOrder:               "SalesOrder",
	KindSalesReturn:              "SalesReturn",
	KindPurchaseReceipt:          "PurchaseReceipt",
	KindPurchaseReturn:           "PurchaseReturn",
	KindManufacturingConsumption: "ManufacturingConsumption",
	KindManufacturingProduction:  "ManufacturingProduction",
	KindAdjustment:               "Adjustment",
	KindTransferOut:              "TransferOut",
	KindTransferIn:               "TransferIn",
	KindReserve:                  "Reserve",
	KindRelease:                  "Release",
}

// AllTransactionKinds returns every kind in declaration order
func AllTransactionKinds() []TransactionKind {
	kinds := make([]TransactionKind, 0, len(transactionKindNames))
	for k := KindSalesOrder; k <= KindRelease; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// String returns the persisted name of the kind
func (k TransactionKind) String() string {
	if name, ok := transactionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TransactionKind(%d)", uint8(k))
}

// IsValid returns true if the kind is one of the declared values
func (k TransactionKind) IsValid() bool {
	_, ok := transactionKindNames[k]
	return ok
}

// AffectsAllocation reports whether signed_quantity describes the change to
// allocated rather than on_hand.
func (k TransactionKind) AffectsAllocation() bool {
	return k == KindReserve || k == KindRelease
}

// IsInflow returns true for kinds that add on_hand
func (k TransactionKind) IsInflow() bool {
	switch k {
	case KindSalesReturn, KindPurchaseReceipt, KindManufacturingProduction, KindTransferIn:
		return true
	}
	return false
}

// IsOutflow returns true for kinds that remove on_hand
func (k TransactionKind) IsOutflow() bool {
	switch k {
	case KindSalesOrder, KindPurchaseReturn, KindManufacturingConsumption, KindTransferOut:
		return true
	}
	return false
}

// ParseTransactionKind maps a persisted name back to the kind
func ParseTransactionKind(name string) (TransactionKind, error) {
	for k, n := range transactionKindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("inventory: invalid transaction kind: %q", name)
}

// MarshalText implements encoding.TextMarshaler
func (k TransactionKind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("inventory: invalid transaction kind: %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *TransactionKind) UnmarshalText(text []byte) error {
	parsed, err := ParseTransactionKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// InventoryTransaction is an immutable journal entry describing one balance
// delta at one cell. Corrections are made with new entries.
type InventoryTransaction struct {
	ID             int64
	OccurredAt     time.Time
	ItemID         string
	LocationID     string
	Kind           TransactionKind
	SignedQuantity decimal.Decimal
	PrevOnHand     decimal.Decimal
	NewOnHand      decimal.Decimal
	PrevAllocated  decimal.Decimal
	NewAllocated   decimal.Decimal
	// BalanceVersion is the cell version this entry produced.
	BalanceVersion int64
	// OperationID groups the entries written by one logical operation.
	OperationID uuid.UUID
	RefType     string
	RefID       string
	Reason      string
	Actor       string
}

// EntryContext carries the operation-wide attributes stamped on every
// journal entry an operation writes.
type EntryContext struct {
	OperationID uuid.UUID
	OccurredAt  time.Time
	Ref         Ref
	Reason      string
	Actor       string
}

// NewInventoryTransaction builds the journal entry for the step that moved a
// cell from prev to next.
func NewInventoryTransaction(
	kind TransactionKind,
	prev BalanceSnapshot,
	next *Balance,
	ec EntryContext,
) (*InventoryTransaction, error) {
	if !kind.IsValid() {
		return nil, invalidInput("invalid transaction kind %d", uint8(kind))
	}
	if prev.Cell != next.Cell() {
		return nil, &InvariantViolationError{Cell: next.Cell(), Detail: "journal pre-image belongs to another cell"}
	}
	signed := next.OnHand.Sub(prev.OnHand)
	if kind.AffectsAllocation() {
		signed = next.Allocated.Sub(prev.Allocated)
	}
	if signed.IsZero() {
		return nil, &InvariantViolationError{Cell: next.Cell(), Detail: fmt.Sprintf("%s entry with zero delta", kind)}
	}
	return &InventoryTransaction{
		OccurredAt:     ec.OccurredAt,
		ItemID:         next.ItemID,
		LocationID:     next.LocationID,
		Kind:           kind,
		SignedQuantity: signed,
		PrevOnHand:     prev.OnHand,
		NewOnHand:      next.OnHand,
		PrevAllocated:  prev.Allocated,
		NewAllocated:   next.Allocated,
		BalanceVersion: next.Version,
		OperationID:    ec.OperationID,
		RefType:        ec.Ref.Type,
		RefID:          ec.Ref.ID,
		Reason:         ec.Reason,
		Actor:          ec.Actor,
	}, nil
}

// Cell returns the cell the entry belongs to.
func (t *InventoryTransaction) Cell() Cell {
	return Cell{ItemID: t.ItemID, LocationID: t.LocationID}
}

// Ref returns the external cause, which may be zero.
func (t *InventoryTransaction) Ref() Ref {
	return Ref{Type: t.RefType, ID: t.RefID}
}

// OnHandDelta returns new_on_hand - prev_on_hand.
func (t *InventoryTransaction) OnHandDelta() decimal.Decimal {
	return t.NewOnHand.Sub(t.PrevOnHand)
}

// AllocatedDelta returns new_allocated - prev_allocated.
func (t *InventoryTransaction) AllocatedDelta() decimal.Decimal {
	return t.NewAllocated.Sub(t.PrevAllocated)
}

// Follows reports whether t continues the chain left by prev on the same
// cell: its pre-images equal prev's post-images.
func (t *InventoryTransaction) Follows(prev *InventoryTransaction) bool {
	return t.Cell() == prev.Cell() &&
		t.PrevOnHand.Equal(prev.NewOnHand) &&
		t.PrevAllocated.Equal(prev.NewAllocated)
}
