package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationStatus is the lifecycle state of a reservation.
// Transitions only run Active -> {Consumed, Released, Expired}.
type ReservationStatus uint8

const (
	ReservationActive ReservationStatus = iota + 1
	ReservationConsumed
	ReservationReleased
	ReservationExpired
)

// AllReservationStatuses returns every status in declaration order
func AllReservationStatuses() []ReservationStatus {
	return []ReservationStatus{
		ReservationActive,
		ReservationConsumed,
		ReservationReleased,
		ReservationExpired,
	}
}

// String returns the persisted name of the status
func (s ReservationStatus) String() string {
	switch s {
	case ReservationActive:
		return "Active"
	case ReservationConsumed:
		return "Consumed"
	case ReservationReleased:
		return "Released"
	case ReservationExpired:
		return "Expired"
	}
	return fmt.Sprintf("ReservationStatus(%d)", uint8(s))
}

// IsValid checks if the status is one of the declared values
func (s ReservationStatus) IsValid() bool {
	return s >= ReservationActive && s <= ReservationExpired
}

// IsTerminal reports whether no further transition is allowed.
func (s ReservationStatus) IsTerminal() bool {
	return s != ReservationActive
}

// ParseReservationStatus maps a persisted name back to the status
func ParseReservationStatus(name string) (ReservationStatus, error) {
	for _, s := range AllReservationStatuses() {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("inventory: invalid reservation status: %q", name)
}

// MarshalText implements encoding.TextMarshaler
func (s ReservationStatus) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("inventory: invalid reservation status: %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *ReservationStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseReservationStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Reservation is a claim on quantity of one cell for an external cause.
type Reservation struct {
	ID         uuid.UUID
	RefType    string
	RefID      string
	ItemID     string
	LocationID string
	Quantity   decimal.Decimal
	// RequestedQuantity is what the caller asked for on the originating
	// request. A repeated reserve is a no-op only when it matches.
	RequestedQuantity decimal.Decimal
	Status            ReservationStatus
	// Priority is stored for future eviction policies and not acted on.
	Priority    int
	ExpiresAt   *time.Time
	Substitutes []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewReservation creates an Active reservation.
func NewReservation(
	ref Ref,
	cell Cell,
	quantity, requested decimal.Decimal,
	priority int,
	expiresAt *time.Time,
	substitutes []string,
	now time.Time,
) (*Reservation, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := cell.Validate(); err != nil {
		return nil, err
	}
	if err := ValidatePositiveQuantity("quantity", quantity); err != nil {
		return nil, err
	}
	return &Reservation{
		ID:                uuid.New(),
		RefType:           ref.Type,
		RefID:             ref.ID,
		ItemID:            cell.ItemID,
		LocationID:        cell.LocationID,
		Quantity:          quantity,
		RequestedQuantity: requested,
		Status:            ReservationActive,
		Priority:          priority,
		ExpiresAt:         expiresAt,
		Substitutes:       substitutes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Cell returns the reserved cell.
func (r *Reservation) Cell() Cell {
	return Cell{ItemID: r.ItemID, LocationID: r.LocationID}
}

// Ref returns the external cause.
func (r *Reservation) Ref() Ref {
	return Ref{Type: r.RefType, ID: r.RefID}
}

// IsActive returns true while the reservation backs allocated stock.
func (r *Reservation) IsActive() bool {
	return r.Status == ReservationActive
}

// IsExpiredAt reports whether an Active reservation has passed its deadline.
func (r *Reservation) IsExpiredAt(now time.Time) bool {
	return r.IsActive() && r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Consume marks the reservation as consumed (fulfillment)
func (r *Reservation) Consume(now time.Time) error {
	return r.transition(ReservationConsumed, now)
}

// Release marks the reservation as released (cancellation)
func (r *Reservation) Release(now time.Time) error {
	return r.transition(ReservationReleased, now)
}

// Expire marks the reservation as expired
func (r *Reservation) Expire(now time.Time) error {
	return r.transition(ReservationExpired, now)
}

func (r *Reservation) transition(to ReservationStatus, now time.Time) error {
	if r.Status != ReservationActive {
		return &ReservationNotActiveError{ID: r.ID, ActualStatus: r.Status}
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}
