package shared

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DomainEvent represents an event that occurred in the domain
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	// AggregateID identifies the stream the event belongs to and is used as
	// the partition key by transports that preserve per-key order.
	AggregateID() string
	// Sequence is the global, commit-ordered position of the event.
	Sequence() int64
}

// VersionedEvent extends DomainEvent with schema versioning support
type VersionedEvent interface {
	DomainEvent
	SchemaVersion() int
}

// BaseDomainEvent provides common fields for all domain events
type BaseDomainEvent struct {
	ID        uuid.UUID `json:"event_id"`
	Type      string    `json:"event_kind"`
	Timestamp time.Time `json:"occurred_at"`
	AggID     string    `json:"aggregate_id"`
	Seq       int64     `json:"sequence"`
	Version   int       `json:"schema_version,omitempty"`
}

// EventID returns the unique event identifier
func (e *BaseDomainEvent) EventID() uuid.UUID {
	return e.ID
}

// EventType returns the type of the event
func (e *BaseDomainEvent) EventType() string {
	return e.Type
}

// OccurredAt returns when the event occurred
func (e *BaseDomainEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID returns the partition key of the event
func (e *BaseDomainEvent) AggregateID() string {
	return e.AggID
}

// Sequence returns the global sequence of the event
func (e *BaseDomainEvent) Sequence() int64 {
	return e.Seq
}

// SchemaVersion returns the schema version of the event
// Returns 1 if no version is set
func (e *BaseDomainEvent) SchemaVersion() int {
	if e.Version == 0 {
		return 1
	}
	return e.Version
}

// sequenceNamespace seeds name-based event IDs so that an event rebuilt from
// the journal carries the same ID as the one published at commit time.
var sequenceNamespace = uuid.MustParse("6f1c2a4e-8b1d-4c55-9f0e-3a7d2b9c4e10")

// EventIDForSequence derives the deterministic event ID for a sequence.
func EventIDForSequence(eventType string, sequence int64) uuid.UUID {
	return uuid.NewSHA1(sequenceNamespace, []byte(eventType+":"+strconv.FormatInt(sequence, 10)))
}

// NewBaseDomainEvent creates a new base domain event with schema version 1
func NewBaseDomainEvent(eventType, aggID string, sequence int64, occurredAt time.Time) BaseDomainEvent {
	return BaseDomainEvent{
		ID:        EventIDForSequence(eventType, sequence),
		Type:      eventType,
		Timestamp: occurredAt,
		AggID:     aggID,
		Seq:       sequence,
		Version:   1,
	}
}
