package inventory

import (
	"testing"
	"time"

	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(id int64, op uuid.UUID, kind TransactionKind, item, location, onHand, allocated string, version int64) *InventoryTransaction {
	return &InventoryTransaction{
		ID:             id,
		OccurredAt:     eventTime,
		ItemID:         item,
		LocationID:     location,
		Kind:           kind,
		NewOnHand:      dec(onHand),
		NewAllocated:   dec(allocated),
		BalanceVersion: version,
		OperationID:    op,
		RefType:        "SalesOrder",
		RefID:          "SO-1",
	}
}

func TestBuildEvents_OneEventPerOperation(t *testing.T) {
	reserve := uuid.New()
	receive := uuid.New()

	events := BuildEvents([]*InventoryTransaction{
		entry(12, reserve, KindReserve, "B", "L1", "5", "2", 3),
		entry(10, receive, KindPurchaseReceipt, "A", "L1", "9", "0", 1),
		entry(11, reserve, KindReserve, "A", "L1", "9", "4", 2),
	})
	require.Len(t, events, 2)

	assert.Equal(t, EventTypeInventoryReceived, events[0].EventType())
	assert.Equal(t, int64(10), events[0].Sequence())

	ev := events[1]
	assert.Equal(t, EventTypeInventoryReserved, ev.EventType())
	assert.Equal(t, reserve, ev.OperationID)
	assert.Equal(t, int64(12), ev.Sequence(), "sequence is the last journal id of the operation")
	assert.Equal(t, "A@L1", ev.AggregateID())
	assert.Equal(t, "SalesOrder", ev.RefType)
	require.Len(t, ev.Cells, 2)
	assert.Equal(t, Cell{ItemID: "A", LocationID: "L1"}, ev.Cells[0].Cell())
	assert.True(t, dec("2").Equal(ev.Cells[1].Allocated))
	assert.Equal(t, 1, ev.SchemaVersion())
}

func TestBuildEvents_Classification(t *testing.T) {
	tests := []struct {
		name  string
		kinds []TransactionKind
		want  string
	}{
		{"partial consume", []TransactionKind{KindSalesOrder, KindRelease}, EventTypeInventoryConsumed},
		{"production", []TransactionKind{KindManufacturingProduction}, EventTypeInventoryProduced},
		{"return", []TransactionKind{KindSalesReturn}, EventTypeInventoryReturned},
		{"adjust", []TransactionKind{KindAdjustment}, EventTypeInventoryAdjusted},
		{"release", []TransactionKind{KindRelease}, EventTypeReservationReleased},
		{"material issue", []TransactionKind{KindManufacturingConsumption}, EventTypeInventoryConsumed},
		{"purchase return", []TransactionKind{KindPurchaseReturn}, EventTypeInventoryConsumed},
		{"expiry before reserve", []TransactionKind{KindRelease, KindReserve}, EventTypeInventoryReserved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := uuid.New()
			var entries []*InventoryTransaction
			for i, k := range tt.kinds {
				entries = append(entries, entry(int64(i+1), op, k, "A", "L1", "1", "0", int64(i+1)))
			}
			events := BuildEvents(entries)
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, events[0].EventType())
		})
	}
}

func TestBuildEvents_Transfer(t *testing.T) {
	op := uuid.New()
	events := BuildEvents([]*InventoryTransaction{
		entry(21, op, KindTransferIn, "A", "L2", "3", "0", 1),
		entry(20, op, KindTransferOut, "A", "L1", "7", "0", 5),
	})
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, EventTypeInventoryTransferred, ev.EventType())
	assert.Equal(t, "L1", ev.LocationID, "keyed by the source leg")
	assert.True(t, dec("7").Equal(ev.OnHand))
	require.NotNil(t, ev.Destination)
	assert.Equal(t, "L2", ev.Destination.LocationID)
	assert.True(t, dec("3").Equal(ev.Destination.OnHand))
}

func TestBuildEvents_Deterministic(t *testing.T) {
	op := uuid.New()
	entries := []*InventoryTransaction{entry(5, op, KindAdjustment, "A", "L1", "4", "0", 2)}

	first := BuildEvents(entries)
	second := BuildEvents(entries)
	require.Len(t, first, 1)
	assert.Equal(t, first[0].EventID(), second[0].EventID())
	assert.Equal(t, shared.EventIDForSequence(EventTypeInventoryAdjusted, 5), first[0].EventID())
	assert.Empty(t, BuildEvents(nil))
}

func TestBuildEvents_LastStatePerCell(t *testing.T) {
	op := uuid.New()
	events := BuildEvents([]*InventoryTransaction{
		entry(1, op, KindSalesOrder, "A", "L1", "6", "2", 4),
		entry(2, op, KindRelease, "A", "L1", "6", "0", 5),
	})
	require.Len(t, events, 1)
	require.Len(t, events[0].Cells, 1)
	assert.Equal(t, int64(5), events[0].Version)
	assert.True(t, events[0].Allocated.IsZero())
}
