package event

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
)

// ContentTypeJSON is the content type of encoded events
const ContentTypeJSON = "application/json"

// Codec encodes events for transports and decodes them back into their
// concrete types by event kind.
type Codec struct {
	mu        sync.RWMutex
	factories map[string]func() shared.DomainEvent
}

// NewCodec creates a codec with no registered kinds
func NewCodec() *Codec {
	return &Codec{factories: make(map[string]func() shared.DomainEvent)}
}

// NewInventoryCodec creates a codec that knows every inventory event kind
func NewInventoryCodec() *Codec {
	c := NewCodec()
	for _, eventType := range inventory.AllEventTypes() {
		c.Register(eventType, func() shared.DomainEvent { return &inventory.InventoryEvent{} })
	}
	return c
}

// Register binds eventType to a factory of its concrete type
func (c *Codec) Register(eventType string, factory func() shared.DomainEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[eventType] = factory
}

// Encode serializes ev as JSON
func (c *Codec) Encode(ev shared.DomainEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.EventType(), err)
	}
	return data, nil
}

// Decode restores an event of kind eventType
func (c *Codec) Decode(eventType string, data []byte) (shared.DomainEvent, error) {
	c.mu.RLock()
	factory, ok := c.factories[eventType]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	ev := factory()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", eventType, err)
	}
	if ev.EventType() != eventType {
		return nil, fmt.Errorf("decode %s event: payload carries kind %q", eventType, ev.EventType())
	}
	return ev, nil
}
