package inventory

import (
	"fmt"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mode selects all-or-nothing or satisfy-what-you-can semantics for
// reserving and issuing operations.
type Mode uint8

const (
	// ModeStrict aborts the whole operation when any request is short
	ModeStrict Mode = iota
	// ModeBestEffort commits the satisfied subset and reports the shortfall
	ModeBestEffort
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModeStrict:
		return "Strict"
	case ModeBestEffort:
		return "BestEffort"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode maps a name to a mode. The empty string selects Strict.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "", "Strict", "strict":
		return ModeStrict, nil
	case "BestEffort", "best_effort", "besteffort":
		return ModeBestEffort, nil
	}
	return 0, fmt.Errorf("inventory: invalid mode: %q", name)
}

// Envelope carries the attributes common to every mutating command.
type Envelope struct {
	Ref    inventory.Ref
	Reason string
	Actor  string
	// OperationID is an optional idempotency key. Receive, Produce, Return,
	// Adjust, Issue and Transfer commands that reuse the ID of a committed
	// operation return the recorded outcome instead of applying twice.
	OperationID uuid.UUID
}

// Command is implemented by every engine command and query.
type Command interface {
	// Operation names the command in logs, spans and metrics.
	Operation() string
	isCommand()
}

// Result is implemented by every engine result.
type Result interface {
	isResult()
}

// Operation names
const (
	OpReserve           = "reserve"
	OpRelease           = "release"
	OpConsume           = "consume"
	OpReceive           = "receive"
	OpAdjust            = "adjust"
	OpTransfer          = "transfer"
	OpFulfill           = "fulfill"
	OpReturn            = "return"
	OpIssue             = "issue"
	OpExpire            = "expire"
	OpGetBalance        = "get_balance"
	OpCheckAvailability = "check_availability"
)

// ReserveRequest asks for quantity of one cell. Substitutes are alternative
// items at the same location, tried in the given order.
type ReserveRequest struct {
	ItemID      string
	LocationID  string
	Quantity    decimal.Decimal
	Substitutes []string
}

// ReserveCommand places reservations for one external cause.
type ReserveCommand struct {
	Envelope
	Requests  []ReserveRequest
	ExpiresAt *time.Time
	// Priority is stored on the reservation and otherwise informational.
	Priority int
	Mode     Mode
}

// ReservedLine is one reservation backing part of a request.
type ReservedLine struct {
	RequestIndex  int             `json:"request_index"`
	ReservationID uuid.UUID       `json:"reservation_id"`
	ItemID        string          `json:"reserved_item"`
	LocationID    string          `json:"location_id"`
	Quantity      decimal.Decimal `json:"reserved_quantity"`
	// Status is the reservation's current state. A replayed line may be
	// Consumed, Released or Expired, in which case it holds no stock.
	Status inventory.ReservationStatus `json:"status"`
	// Replayed marks a line returned from an earlier identical request.
	Replayed bool `json:"replayed,omitempty"`
}

// Shortfall reports the unsatisfied part of a best-effort request.
type Shortfall struct {
	RequestIndex int             `json:"request_index"`
	ItemID       string          `json:"item_id"`
	LocationID   string          `json:"location_id"`
	Requested    decimal.Decimal `json:"requested"`
	Satisfied    decimal.Decimal `json:"satisfied"`
	Missing      decimal.Decimal `json:"missing"`
}

// ReserveResult lists the reservations created or replayed per request.
type ReserveResult struct {
	Lines         []ReservedLine `json:"lines"`
	FullyReserved bool           `json:"fully_reserved"`
	Shortfalls    []Shortfall    `json:"shortfalls,omitempty"`
}

// ReleaseCommand releases a reservation by ID, or every reservation of
// Envelope.Ref when ReservationID is nil.
type ReleaseCommand struct {
	Envelope
	ReservationID uuid.UUID
}

// ReleaseResult summarizes a release.
type ReleaseResult struct {
	CountReleased         int             `json:"count_released"`
	TotalQuantityReleased decimal.Decimal `json:"total_quantity_released"`
	ReleasedIDs           []uuid.UUID     `json:"released_ids,omitempty"`
}

// ConsumeCommand ships reserved stock. It targets one reservation by ID, or
// every Active reservation of Envelope.Ref when ReservationID is nil.
type ConsumeCommand struct {
	Envelope
	ReservationID uuid.UUID
	Quantity      decimal.Decimal
	// Kind is SalesOrder (default) or ManufacturingConsumption.
	Kind inventory.TransactionKind
}

// ConsumeResult reports the shipped quantity and the released remainder.
type ConsumeResult struct {
	Consumed              decimal.Decimal `json:"consumed"`
	AutoReleasedRemainder decimal.Decimal `json:"auto_released_remainder"`
	ConsumedIDs           []uuid.UUID     `json:"consumed_ids,omitempty"`
}

// ReceiveCommand adds stock. Kind is PurchaseReceipt (default) or
// ManufacturingProduction.
type ReceiveCommand struct {
	Envelope
	ItemID     string
	LocationID string
	Quantity   decimal.Decimal
	Kind       inventory.TransactionKind
}

// OnHandResult reports the post-commit on_hand of a single-cell operation.
type OnHandResult struct {
	NewOnHand decimal.Decimal `json:"new_on_hand"`
	Balance   BalanceView     `json:"balance"`
	Replayed  bool            `json:"replayed,omitempty"`
}

// AdjustCommand applies a signed correction to on_hand.
type AdjustCommand struct {
	Envelope
	ItemID     string
	LocationID string
	Delta      decimal.Decimal
}

// TransferCommand moves stock of one item between locations.
type TransferCommand struct {
	Envelope
	ItemID      string
	Source      string
	Destination string
	Quantity    decimal.Decimal
}

// TransferResult reports both post-commit on_hand values.
type TransferResult struct {
	SourceOnHand decimal.Decimal `json:"source_on_hand"`
	DestOnHand   decimal.Decimal `json:"dest_on_hand"`
	Replayed     bool            `json:"replayed,omitempty"`
}

// LineStatus is the shipping state of a sales order line.
type LineStatus uint8

const (
	LineStatusPending LineStatus = iota + 1
	LineStatusPartiallyShipped
	LineStatusShipped
	LineStatusCancelled
)

// String returns the status name
func (s LineStatus) String() string {
	switch s {
	case LineStatusPending:
		return "Pending"
	case LineStatusPartiallyShipped:
		return "PartiallyShipped"
	case LineStatusShipped:
		return "Shipped"
	case LineStatusCancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("LineStatus(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler
func (s LineStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FulfillCommand ships an order line identified by Envelope.Ref. The line's
// Active reservations are consumed when present; otherwise ItemID and
// LocationID name the cell for a direct shipment from available stock.
type FulfillCommand struct {
	Envelope
	ShippedQuantity decimal.Decimal
	// OrderedQuantity bounds cumulative shipments of the line. When zero,
	// the quantity originally requested by the line's reservations is used.
	OrderedQuantity decimal.Decimal
	ItemID          string
	LocationID      string
}

// FulfillResult reports the shipment and the resulting line status.
type FulfillResult struct {
	Consumed              decimal.Decimal `json:"consumed"`
	AutoReleasedRemainder decimal.Decimal `json:"auto_released_remainder"`
	ShippedToDate         decimal.Decimal `json:"shipped_to_date"`
	LineStatus            LineStatus      `json:"line_status"`
	FromReservation       bool            `json:"from_reservation"`
}

// ReturnCommand puts customer-returned stock back on hand.
type ReturnCommand struct {
	Envelope
	ItemID     string
	LocationID string
	Quantity   decimal.Decimal
}

// IssueCommand removes unreserved stock directly. Kind is SalesOrder
// (default), ManufacturingConsumption or PurchaseReturn.
type IssueCommand struct {
	Envelope
	ItemID     string
	LocationID string
	Quantity   decimal.Decimal
	Kind       inventory.TransactionKind
	Mode       Mode
}

// IssueResult reports a direct issue.
type IssueResult struct {
	Issued    decimal.Decimal `json:"issued"`
	NewOnHand decimal.Decimal `json:"new_on_hand"`
	Shortfall *Shortfall      `json:"shortfall,omitempty"`
	Replayed  bool            `json:"replayed,omitempty"`
}

// ExpireCommand expires the overdue reservations of one cell.
type ExpireCommand struct {
	Cell inventory.Cell
}

// ExpireResult reports what an expiration pass released.
type ExpireResult struct {
	Expired  int             `json:"expired"`
	Quantity decimal.Decimal `json:"quantity"`
}

// GetBalanceQuery reads one cell.
type GetBalanceQuery struct {
	ItemID     string
	LocationID string
}

// BalanceView is a reconciled, read-only view of a balance: Active
// reservations that are past their deadline no longer count as allocated.
type BalanceView struct {
	ItemID     string          `json:"item_id"`
	LocationID string          `json:"location_id"`
	OnHand     decimal.Decimal `json:"on_hand"`
	Allocated  decimal.Decimal `json:"allocated"`
	Available  decimal.Decimal `json:"available"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// GetBalanceResult holds the balance, or nil for a cell never created.
type GetBalanceResult struct {
	Balance *BalanceView `json:"balance"`
}

// AvailabilityRequirement is one line of an availability check.
type AvailabilityRequirement struct {
	ItemID     string
	LocationID string
	Required   decimal.Decimal
}

// CheckAvailabilityQuery checks lines without locking.
type CheckAvailabilityQuery struct {
	Lines []AvailabilityRequirement
}

// AvailabilityLine is the advisory answer for one requirement.
type AvailabilityLine struct {
	ItemID     string          `json:"item_id"`
	LocationID string          `json:"location_id"`
	Required   decimal.Decimal `json:"required"`
	Available  decimal.Decimal `json:"available"`
	Sufficient bool            `json:"sufficient"`
}

// CheckAvailabilityResult lists per-line answers in input order.
type CheckAvailabilityResult struct {
	Lines         []AvailabilityLine `json:"lines"`
	AllSufficient bool               `json:"all_sufficient"`
}

func (ReserveCommand) Operation() string         { return OpReserve }
func (ReleaseCommand) Operation() string         { return OpRelease }
func (ConsumeCommand) Operation() string         { return OpConsume }
func (ReceiveCommand) Operation() string         { return OpReceive }
func (AdjustCommand) Operation() string          { return OpAdjust }
func (TransferCommand) Operation() string        { return OpTransfer }
func (FulfillCommand) Operation() string         { return OpFulfill }
func (ReturnCommand) Operation() string          { return OpReturn }
func (IssueCommand) Operation() string           { return OpIssue }
func (ExpireCommand) Operation() string          { return OpExpire }
func (GetBalanceQuery) Operation() string        { return OpGetBalance }
func (CheckAvailabilityQuery) Operation() string { return OpCheckAvailability }

func (ReserveCommand) isCommand()         {}
func (ReleaseCommand) isCommand()         {}
func (ConsumeCommand) isCommand()         {}
func (ReceiveCommand) isCommand()         {}
func (AdjustCommand) isCommand()          {}
func (TransferCommand) isCommand()        {}
func (FulfillCommand) isCommand()         {}
func (ReturnCommand) isCommand()          {}
func (IssueCommand) isCommand()           {}
func (ExpireCommand) isCommand()          {}
func (GetBalanceQuery) isCommand()        {}
func (CheckAvailabilityQuery) isCommand() {}

func (*ReserveResult) isResult()           {}
func (*ReleaseResult) isResult()           {}
func (*ConsumeResult) isResult()           {}
func (*OnHandResult) isResult()            {}
func (*TransferResult) isResult()          {}
func (*FulfillResult) isResult()           {}
func (*IssueResult) isResult()             {}
func (*ExpireResult) isResult()            {}
func (*GetBalanceResult) isResult()        {}
func (*CheckAvailabilityResult) isResult() {}
