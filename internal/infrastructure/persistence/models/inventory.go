package models

import (
	"encoding/json"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceModel is the persistence model for a cell balance.
type BalanceModel struct {
	ItemID     string          `gorm:"type:varchar(64);primaryKey"`
	LocationID string          `gorm:"type:varchar(64);primaryKey"`
	OnHand     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Allocated  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Available  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Version    int64           `gorm:"not null;default:0"`
	UpdatedAt  time.Time       `gorm:"not null;autoUpdateTime:false"`
}

// TableName returns the table name for GORM
func (BalanceModel) TableName() string {
	return "inventory_balance"
}

// ToDomain converts the persistence model to a domain Balance.
func (m *BalanceModel) ToDomain() *inventory.Balance {
	return &inventory.Balance{
		ItemID:     m.ItemID,
		LocationID: m.LocationID,
		OnHand:     m.OnHand,
		Allocated:  m.Allocated,
		Available:  m.Available,
		Version:    m.Version,
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

// BalanceModelFromDomain creates a persistence model from a domain Balance.
func BalanceModelFromDomain(b *inventory.Balance) *BalanceModel {
	return &BalanceModel{
		ItemID:     b.ItemID,
		LocationID: b.LocationID,
		OnHand:     b.OnHand,
		Allocated:  b.Allocated,
		Available:  b.Available,
		Version:    b.Version,
		UpdatedAt:  b.UpdatedAt,
	}
}

// ReservationModel is the persistence model for a reservation. Status is
// stored by name and substitutes as a JSON array.
type ReservationModel struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	RefType           string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_inventory_reservation_ref_cell,priority:1"`
	RefID             string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_inventory_reservation_ref_cell,priority:2"`
	ItemID            string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_inventory_reservation_ref_cell,priority:3;index:idx_inventory_reservation_cell_status,priority:1"`
	LocationID        string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_inventory_reservation_ref_cell,priority:4;index:idx_inventory_reservation_cell_status,priority:2"`
	Quantity          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	RequestedQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Status            string          `gorm:"type:varchar(16);not null;index:idx_inventory_reservation_cell_status,priority:3"`
	Priority          int             `gorm:"not null;default:0"`
	ExpiresAt         *time.Time      `gorm:"index"`
	Substitutes       string          `gorm:"type:text;not null;default:'[]'"`
	CreatedAt         time.Time       `gorm:"not null;autoCreateTime:false"`
	UpdatedAt         time.Time       `gorm:"not null;autoUpdateTime:false"`
}

// TableName returns the table name for GORM
func (ReservationModel) TableName() string {
	return "inventory_reservation"
}

// ToDomain converts the persistence model to a domain Reservation.
func (m *ReservationModel) ToDomain() (*inventory.Reservation, error) {
	status, err := inventory.ParseReservationStatus(m.Status)
	if err != nil {
		return nil, err
	}
	var substitutes []string
	if m.Substitutes != "" {
		if err := json.Unmarshal([]byte(m.Substitutes), &substitutes); err != nil {
			return nil, err
		}
	}
	r := &inventory.Reservation{
		ID:                m.ID,
		RefType:           m.RefType,
		RefID:             m.RefID,
		ItemID:            m.ItemID,
		LocationID:        m.LocationID,
		Quantity:          m.Quantity,
		RequestedQuantity: m.RequestedQuantity,
		Status:            status,
		Priority:          m.Priority,
		Substitutes:       substitutes,
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
	if m.ExpiresAt != nil {
		at := m.ExpiresAt.UTC()
		r.ExpiresAt = &at
	}
	return r, nil
}

// ReservationModelFromDomain creates a persistence model from a domain Reservation.
func ReservationModelFromDomain(r *inventory.Reservation) (*ReservationModel, error) {
	substitutes := r.Substitutes
	if substitutes == nil {
		substitutes = []string{}
	}
	raw, err := json.Marshal(substitutes)
	if err != nil {
		return nil, err
	}
	return &ReservationModel{
		ID:                r.ID,
		RefType:           r.RefType,
		RefID:             r.RefID,
		ItemID:            r.ItemID,
		LocationID:        r.LocationID,
		Quantity:          r.Quantity,
		RequestedQuantity: r.RequestedQuantity,
		Status:            r.Status.String(),
		Priority:          r.Priority,
		ExpiresAt:         r.ExpiresAt,
		Substitutes:       string(raw),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}, nil
}

// InventoryTransactionModel is the persistence model for a journal entry.
// The id is a database sequence and doubles as the event sequence.
type InventoryTransactionModel struct {
	ID             int64           `gorm:"primaryKey;autoIncrement"`
	OccurredAt     time.Time       `gorm:"not null;index:idx_inventory_transaction_cell_time,priority:3"`
	ItemID         string          `gorm:"type:varchar(64);not null;index:idx_inventory_transaction_cell_time,priority:1"`
	LocationID     string          `gorm:"type:varchar(64);not null;index:idx_inventory_transaction_cell_time,priority:2"`
	Kind           string          `gorm:"type:varchar(32);not null"`
	SignedQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	PrevOnHand     decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	NewOnHand      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	PrevAllocated  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	NewAllocated   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	BalanceVersion int64           `gorm:"not null"`
	OperationID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	RefType        string          `gorm:"type:varchar(64);index:idx_inventory_transaction_ref,priority:1"`
	RefID          string          `gorm:"type:varchar(64);index:idx_inventory_transaction_ref,priority:2"`
	Reason         string          `gorm:"type:varchar(255)"`
	Actor          string          `gorm:"type:varchar(64)"`
}

// TableName returns the table name for GORM
func (InventoryTransactionModel) TableName() string {
	return "inventory_transaction"
}

// ToDomain converts the persistence model to a domain journal entry.
func (m *InventoryTransactionModel) ToDomain() (*inventory.InventoryTransaction, error) {
	kind, err := inventory.ParseTransactionKind(m.Kind)
	if err != nil {
		return nil, err
	}
	return &inventory.InventoryTransaction{
		ID:             m.ID,
		OccurredAt:     m.OccurredAt.UTC(),
		ItemID:         m.ItemID,
		LocationID:     m.LocationID,
		Kind:           kind,
		SignedQuantity: m.SignedQuantity,
		PrevOnHand:     m.PrevOnHand,
		NewOnHand:      m.NewOnHand,
		PrevAllocated:  m.PrevAllocated,
		NewAllocated:   m.NewAllocated,
		BalanceVersion: m.BalanceVersion,
		OperationID:    m.OperationID,
		RefType:        m.RefType,
		RefID:          m.RefID,
		Reason:         m.Reason,
		Actor:          m.Actor,
	}, nil
}

// InventoryTransactionModelFromDomain creates a persistence model from a
// domain journal entry. A zero ID lets the database assign one.
func InventoryTransactionModelFromDomain(t *inventory.InventoryTransaction) *InventoryTransactionModel {
	return &InventoryTransactionModel{
		ID:             t.ID,
		OccurredAt:     t.OccurredAt,
		ItemID:         t.ItemID,
		LocationID:     t.LocationID,
		Kind:           t.Kind.String(),
		SignedQuantity: t.SignedQuantity,
		PrevOnHand:     t.PrevOnHand,
		NewOnHand:      t.NewOnHand,
		PrevAllocated:  t.PrevAllocated,
		NewAllocated:   t.NewAllocated,
		BalanceVersion: t.BalanceVersion,
		OperationID:    t.OperationID,
		RefType:        t.RefType,
		RefID:          t.RefID,
		Reason:         t.Reason,
		Actor:          t.Actor,
	}
}

// EventCheckpointModel records the last journal id a replayer published.
type EventCheckpointModel struct {
	Name      string    `gorm:"type:varchar(64);primaryKey"`
	LastID    int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (EventCheckpointModel) TableName() string {
	return "inventory_event_checkpoint"
}

// InventoryModels lists the models owned by the inventory core, in
// creation order, for AutoMigrate in tests and development.
func InventoryModels() []any {
	return []any{
		&BalanceModel{},
		&ReservationModel{},
		&InventoryTransactionModel{},
		&EventCheckpointModel{},
	}
}
