package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var eventTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newInventoryEvent(eventType string, seq int64) *inventory.InventoryEvent {
	return &inventory.InventoryEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "A@L1", seq, eventTime),
		OperationID:     uuid.New(),
		ItemID:          "A",
		LocationID:      "L1",
		OnHand:          decimal.RequireFromString("10"),
		Allocated:       decimal.RequireFromString("2.5"),
		Version:         seq,
		Cells: []inventory.CellState{{
			ItemID:     "A",
			LocationID: "L1",
			OnHand:     decimal.RequireFromString("10"),
			Allocated:  decimal.RequireFromString("2.5"),
			Version:    seq,
		}},
	}
}

type recordingHandler struct {
	eventTypes []string
	err        error
	panics     bool

	mu      sync.Mutex
	handled []shared.DomainEvent
}

func newRecordingHandler(eventTypes ...string) *recordingHandler {
	return &recordingHandler{eventTypes: eventTypes}
}

func (h *recordingHandler) Handle(ctx context.Context, ev shared.DomainEvent) error {
	h.mu.Lock()
	h.handled = append(h.handled, ev)
	h.mu.Unlock()
	if h.panics {
		panic("boom")
	}
	return h.err
}

func (h *recordingHandler) EventTypes() []string { return h.eventTypes }

func (h *recordingHandler) sequences() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.handled))
	for i, ev := range h.handled {
		out[i] = ev.Sequence()
	}
	return out
}

func TestInMemoryEventBus_DeliversInSequenceOrder(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	h := newRecordingHandler()
	bus.Subscribe(h)

	err := bus.Publish(context.Background(),
		newInventoryEvent(inventory.EventTypeInventoryReceived, 7),
		newInventoryEvent(inventory.EventTypeInventoryReserved, 3),
		newInventoryEvent(inventory.EventTypeInventoryConsumed, 5),
	)

	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5, 7}, h.sequences())
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	reserved := newRecordingHandler(inventory.EventTypeInventoryReserved)
	all := newRecordingHandler()
	bus.Subscribe(reserved)
	bus.Subscribe(all)

	require.NoError(t, bus.Publish(context.Background(),
		newInventoryEvent(inventory.EventTypeInventoryReserved, 1),
		newInventoryEvent(inventory.EventTypeInventoryReceived, 2),
	))

	assert.Equal(t, []int64{1}, reserved.sequences())
	assert.Equal(t, []int64{1, 2}, all.sequences())

	bus.Unsubscribe(reserved)
	require.NoError(t, bus.Publish(context.Background(), newInventoryEvent(inventory.EventTypeInventoryReserved, 3)))
	assert.Equal(t, []int64{1}, reserved.sequences())
}

func TestInMemoryEventBus_HandlerFailuresAreIsolated(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	failing := newRecordingHandler()
	failing.err = errors.New("downstream unavailable")
	panicking := newRecordingHandler()
	panicking.panics = true
	healthy := newRecordingHandler()
	bus.Subscribe(failing)
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	err := bus.Publish(context.Background(), newInventoryEvent(inventory.EventTypeInventoryAdjusted, 1))

	require.NoError(t, err)
	assert.Len(t, failing.sequences(), 1)
	assert.Len(t, panicking.sequences(), 1)
	assert.Equal(t, []int64{1}, healthy.sequences())
}

func TestInMemoryEventBus_StopRejectsPublish(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	ctx := context.Background()

	require.NoError(t, bus.Stop(ctx))
	assert.ErrorIs(t, bus.Publish(ctx, newInventoryEvent(inventory.EventTypeInventoryAdjusted, 1)), ErrBusStopped)

	require.NoError(t, bus.Start(ctx))
	assert.NoError(t, bus.Publish(ctx, newInventoryEvent(inventory.EventTypeInventoryAdjusted, 2)))
}

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	a := newRecordingHandler()
	b := newRecordingHandler()

	r.Register(a, "X", "Y")
	r.Register(a, "X")
	r.Register(b)
	r.Register(a)

	assert.Equal(t, []shared.EventHandler{a, b}, r.Handlers("X"))
	assert.Equal(t, []shared.EventHandler{b, a}, r.Handlers("Z"))
	assert.Equal(t, 2, r.Len())

	r.Unregister(a)
	assert.Equal(t, []shared.EventHandler{b}, r.Handlers("X"))
	assert.Equal(t, 1, r.Len())
}

func TestMultiPublisher_JoinsFailures(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	h := newRecordingHandler()
	bus.Subscribe(h)
	stopped := NewInMemoryEventBus(nil)
	require.NoError(t, stopped.Stop(context.Background()))

	p := NewMultiPublisher(stopped, nil, bus)
	err := p.Publish(context.Background(), newInventoryEvent(inventory.EventTypeInventoryReceived, 4))

	assert.ErrorIs(t, err, ErrBusStopped)
	assert.Equal(t, []int64{4}, h.sequences())
}
