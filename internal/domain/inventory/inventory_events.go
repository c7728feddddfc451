package inventory

import (
	"cmp"
	"slices"
	"time"

	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type constants
const (
	EventTypeInventoryReserved    = "InventoryReserved"
	EventTypeReservationReleased  = "ReservationReleased"
	EventTypeInventoryConsumed    = "InventoryConsumed"
	EventTypeInventoryReceived    = "InventoryReceived"
	EventTypeInventoryProduced    = "InventoryProduced"
	EventTypeInventoryAdjusted    = "InventoryAdjusted"
	EventTypeInventoryTransferred = "InventoryTransferred"
	EventTypeInventoryReturned    = "InventoryReturned"
)

// AllEventTypes returns every event type the core publishes
func AllEventTypes() []string {
	return []string{
		EventTypeInventoryReserved,
		EventTypeReservationReleased,
		EventTypeInventoryConsumed,
		EventTypeInventoryReceived,
		EventTypeInventoryProduced,
		EventTypeInventoryAdjusted,
		EventTypeInventoryTransferred,
		EventTypeInventoryReturned,
	}
}

// CellState is the post-commit state of one affected cell.
type CellState struct {
	ItemID     string          `json:"item_id"`
	LocationID string          `json:"location_id"`
	OnHand     decimal.Decimal `json:"on_hand"`
	Allocated  decimal.Decimal `json:"allocated"`
	Version    int64           `json:"version"`
}

// Cell returns the coordinate of the state.
func (s CellState) Cell() Cell {
	return Cell{ItemID: s.ItemID, LocationID: s.LocationID}
}

// InventoryEvent is the single event published for one committed operation.
// Sequence is the highest journal id the operation wrote, so it strictly
// increases with commit order; each CellState carries the per-cell version.
type InventoryEvent struct {
	shared.BaseDomainEvent
	OperationID uuid.UUID       `json:"operation_id"`
	ItemID      string          `json:"item_id"`
	LocationID  string          `json:"location_id"`
	OnHand      decimal.Decimal `json:"on_hand"`
	Allocated   decimal.Decimal `json:"allocated"`
	Version     int64           `json:"version"`
	RefType     string          `json:"ref_type,omitempty"`
	RefID       string          `json:"ref_id,omitempty"`
	Cells       []CellState     `json:"cells"`
	Destination *CellState      `json:"destination,omitempty"`
}

// Cell returns the primary cell of the event.
func (e *InventoryEvent) Cell() Cell {
	return Cell{ItemID: e.ItemID, LocationID: e.LocationID}
}

// eventTypePriority decides the event type when one operation wrote entries
// of several kinds, e.g. a partial consume writes SalesOrder and Release.
var eventTypePriority = []struct {
	eventType string
	kinds     []TransactionKind
}{
	{EventTypeInventoryTransferred, []TransactionKind{KindTransferOut, KindTransferIn}},
	{EventTypeInventoryConsumed, []TransactionKind{KindSalesOrder, KindManufacturingConsumption, KindPurchaseReturn}},
	{EventTypeInventoryReserved, []TransactionKind{KindReserve}},
	{EventTypeInventoryReceived, []TransactionKind{KindPurchaseReceipt}},
	{EventTypeInventoryProduced, []TransactionKind{KindManufacturingProduction}},
	{EventTypeInventoryAdjusted, []TransactionKind{KindAdjustment}},
	{EventTypeInventoryReturned, []TransactionKind{KindSalesReturn}},
	{EventTypeReservationReleased, []TransactionKind{KindRelease}},
}

// BuildEvents turns journal entries into one event per operation, ordered by
// sequence. Entries are grouped by operation id; callers must pass complete
// groups. The same entries always yield the same events, including IDs, so
// replaying the journal republishes byte-identical messages.
func BuildEvents(entries []*InventoryTransaction) []*InventoryEvent {
	groups := make(map[uuid.UUID][]*InventoryTransaction)
	var order []uuid.UUID
	for _, e := range entries {
		if _, seen := groups[e.OperationID]; !seen {
			order = append(order, e.OperationID)
		}
		groups[e.OperationID] = append(groups[e.OperationID], e)
	}

	events := make([]*InventoryEvent, 0, len(order))
	for _, opID := range order {
		if ev := buildEvent(opID, groups[opID]); ev != nil {
			events = append(events, ev)
		}
	}
	slices.SortFunc(events, func(a, b *InventoryEvent) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return events
}

func buildEvent(opID uuid.UUID, group []*InventoryTransaction) *InventoryEvent {
	if len(group) == 0 {
		return nil
	}
	group = slices.Clone(group)
	slices.SortFunc(group, func(a, b *InventoryTransaction) int {
		return cmp.Compare(a.ID, b.ID)
	})

	eventType, primary := classify(group)
	last := group[len(group)-1]

	// final state per cell, in first-touched order
	var cells []CellState
	index := make(map[Cell]int)
	for _, e := range group {
		st := CellState{
			ItemID:     e.ItemID,
			LocationID: e.LocationID,
			OnHand:     e.NewOnHand,
			Allocated:  e.NewAllocated,
			Version:    e.BalanceVersion,
		}
		if i, ok := index[e.Cell()]; ok {
			cells[i] = st
			continue
		}
		index[e.Cell()] = len(cells)
		cells = append(cells, st)
	}

	p := cells[index[primary.Cell()]]
	ev := &InventoryEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, primary.Cell().String(), last.ID, last.OccurredAt.UTC().Truncate(time.Microsecond)),
		OperationID:     opID,
		ItemID:          p.ItemID,
		LocationID:      p.LocationID,
		OnHand:          p.OnHand,
		Allocated:       p.Allocated,
		Version:         p.Version,
		RefType:         primary.RefType,
		RefID:           primary.RefID,
		Cells:           cells,
	}
	if eventType == EventTypeInventoryTransferred {
		for _, e := range group {
			if e.Kind == KindTransferIn {
				dest := cells[index[e.Cell()]]
				ev.Destination = &dest
				break
			}
		}
	}
	return ev
}

func classify(group []*InventoryTransaction) (string, *InventoryTransaction) {
	for _, p := range eventTypePriority {
		for _, e := range group {
			if slices.Contains(p.kinds, e.Kind) {
				// a transfer is keyed by its source leg
				if p.eventType == EventTypeInventoryTransferred && e.Kind != KindTransferOut {
					continue
				}
				return p.eventType, e
			}
		}
	}
	return EventTypeInventoryAdjusted, group[0]
}
