package dto

import (
	"fmt"
	"time"

	appinv "github.com/erp/inventory-core/internal/application/inventory"
	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Quantities are decoded with shopspring/decimal, which accepts both JSON
// numbers and strings. Sign and range checks happen in the engine so the
// HTTP and in-process paths reject the same inputs.

// EnvelopeRequest carries the attributes shared by every mutating request.
type EnvelopeRequest struct {
	RefType     string `json:"ref_type" binding:"max=50" example:"SalesOrder"`
	RefID       string `json:"ref_id" binding:"max=100" example:"SO-1001"`
	Reason      string `json:"reason" binding:"max=255" example:"cycle count"`
	Actor       string `json:"actor" binding:"max=64" example:"wms-sync"`
	OperationID string `json:"operation_id" binding:"omitempty,uuid" example:"6f1c2a4e-8b1d-4c55-9f0e-3a7d2b9c4e10"`
}

// Envelope converts the request to the application envelope. A header
// supplied actor is used when the body names none.
func (r EnvelopeRequest) Envelope(headerActor string) appinv.Envelope {
	env := appinv.Envelope{
		Ref:    inventory.NewRef(r.RefType, r.RefID),
		Reason: r.Reason,
		Actor:  r.Actor,
	}
	if env.Actor == "" {
		env.Actor = headerActor
	}
	if id, err := uuid.Parse(r.OperationID); err == nil {
		env.OperationID = id
	}
	return env
}

// ReserveLineRequest asks for quantity of one cell
type ReserveLineRequest struct {
	ItemID      string          `json:"item_id" binding:"required,max=64" example:"A"`
	LocationID  string          `json:"location_id" binding:"required,max=64" example:"L1"`
	Quantity    decimal.Decimal `json:"quantity" swaggertype:"string" example:"5"`
	Substitutes []string        `json:"substitutes" binding:"max=10,dive,required,max=64"`
}

// ReserveRequest places reservations for one cause
type ReserveRequest struct {
	EnvelopeRequest
	Lines     []ReserveLineRequest `json:"lines" binding:"required,min=1,max=100,dive"`
	ExpiresAt *time.Time           `json:"expires_at"`
	Priority  int                  `json:"priority" binding:"gte=0"`
	Mode      string               `json:"mode" binding:"omitempty,oneof=Strict BestEffort strict best_effort"`
}

// ToCommand converts the request to a reserve command
func (r ReserveRequest) ToCommand(actor string) (appinv.ReserveCommand, error) {
	mode, err := appinv.ParseMode(r.Mode)
	if err != nil {
		return appinv.ReserveCommand{}, invalidInput(err)
	}
	lines := make([]appinv.ReserveRequest, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = appinv.ReserveRequest{
			ItemID:      l.ItemID,
			LocationID:  l.LocationID,
			Quantity:    l.Quantity,
			Substitutes: l.Substitutes,
		}
	}
	return appinv.ReserveCommand{
		Envelope:  r.Envelope(actor),
		Requests:  lines,
		ExpiresAt: r.ExpiresAt,
		Priority:  r.Priority,
		Mode:      mode,
	}, nil
}

// ReleaseRequest releases one reservation, or all of the cause's
// reservations when reservation_id is omitted
type ReleaseRequest struct {
	EnvelopeRequest
	ReservationID string `json:"reservation_id" binding:"omitempty,uuid"`
}

// ToCommand converts the request to a release command
func (r ReleaseRequest) ToCommand(actor string) (appinv.ReleaseCommand, error) {
	id, err := parseOptionalUUID("reservation_id", r.ReservationID)
	if err != nil {
		return appinv.ReleaseCommand{}, err
	}
	return appinv.ReleaseCommand{
		Envelope:      r.Envelope(actor),
		ReservationID: id,
	}, nil
}

// ConsumeRequest ships reserved stock
type ConsumeRequest struct {
	EnvelopeRequest
	ReservationID string          `json:"reservation_id" binding:"omitempty,uuid"`
	Quantity      decimal.Decimal `json:"quantity" swaggertype:"string" example:"3"`
	Kind          string          `json:"kind" binding:"omitempty,oneof=SalesOrder ManufacturingConsumption"`
}

// ToCommand converts the request to a consume command
func (r ConsumeRequest) ToCommand(actor string) (appinv.ConsumeCommand, error) {
	kind, err := parseKind(r.Kind)
	if err != nil {
		return appinv.ConsumeCommand{}, err
	}
	id, err := parseOptionalUUID("reservation_id", r.ReservationID)
	if err != nil {
		return appinv.ConsumeCommand{}, err
	}
	return appinv.ConsumeCommand{
		Envelope:      r.Envelope(actor),
		ReservationID: id,
		Quantity:      r.Quantity,
		Kind:          kind,
	}, nil
}

// CellQuantityRequest names a cell and a quantity
type CellQuantityRequest struct {
	EnvelopeRequest
	ItemID     string          `json:"item_id" binding:"required,max=64" example:"A"`
	LocationID string          `json:"location_id" binding:"required,max=64" example:"L1"`
	Quantity   decimal.Decimal `json:"quantity" swaggertype:"string" example:"10"`
}

// ReceiveRequest adds purchased or produced stock
type ReceiveRequest struct {
	CellQuantityRequest
	Kind string `json:"kind" binding:"omitempty,oneof=PurchaseReceipt ManufacturingProduction"`
}

// ToCommand converts the request to a receive command
func (r ReceiveRequest) ToCommand(actor string) (appinv.ReceiveCommand, error) {
	kind, err := parseKind(r.Kind)
	if err != nil {
		return appinv.ReceiveCommand{}, err
	}
	return appinv.ReceiveCommand{
		Envelope:   r.Envelope(actor),
		ItemID:     r.ItemID,
		LocationID: r.LocationID,
		Quantity:   r.Quantity,
		Kind:       kind,
	}, nil
}

// ReturnRequest puts customer-returned stock back on hand
type ReturnRequest struct {
	CellQuantityRequest
}

// ToCommand converts the request to a return command
func (r ReturnRequest) ToCommand(actor string) appinv.ReturnCommand {
	return appinv.ReturnCommand{
		Envelope:   r.Envelope(actor),
		ItemID:     r.ItemID,
		LocationID: r.LocationID,
		Quantity:   r.Quantity,
	}
}

// IssueRequest removes unreserved stock directly
type IssueRequest struct {
	CellQuantityRequest
	Kind string `json:"kind" binding:"omitempty,oneof=SalesOrder ManufacturingConsumption PurchaseReturn"`
	Mode string `json:"mode" binding:"omitempty,oneof=Strict BestEffort strict best_effort"`
}

// ToCommand converts the request to an issue command
func (r IssueRequest) ToCommand(actor string) (appinv.IssueCommand, error) {
	kind, err := parseKind(r.Kind)
	if err != nil {
		return appinv.IssueCommand{}, err
	}
	mode, err := appinv.ParseMode(r.Mode)
	if err != nil {
		return appinv.IssueCommand{}, invalidInput(err)
	}
	return appinv.IssueCommand{
		Envelope:   r.Envelope(actor),
		ItemID:     r.ItemID,
		LocationID: r.LocationID,
		Quantity:   r.Quantity,
		Kind:       kind,
		Mode:       mode,
	}, nil
}

// AdjustRequest applies a signed correction
type AdjustRequest struct {
	EnvelopeRequest
	ItemID     string          `json:"item_id" binding:"required,max=64" example:"A"`
	LocationID string          `json:"location_id" binding:"required,max=64" example:"L1"`
	Delta      decimal.Decimal `json:"delta" swaggertype:"string" example:"-2"`
}

// ToCommand converts the request to an adjust command
func (r AdjustRequest) ToCommand(actor string) appinv.AdjustCommand {
	return appinv.AdjustCommand{
		Envelope:   r.Envelope(actor),
		ItemID:     r.ItemID,
		LocationID: r.LocationID,
		Delta:      r.Delta,
	}
}

// TransferRequest moves stock between two locations
type TransferRequest struct {
	EnvelopeRequest
	ItemID      string          `json:"item_id" binding:"required,max=64" example:"A"`
	Source      string          `json:"source_location_id" binding:"required,max=64" example:"L1"`
	Destination string          `json:"destination_location_id" binding:"required,max=64" example:"L2"`
	Quantity    decimal.Decimal `json:"quantity" swaggertype:"string" example:"4"`
}

// ToCommand converts the request to a transfer command
func (r TransferRequest) ToCommand(actor string) appinv.TransferCommand {
	return appinv.TransferCommand{
		Envelope:    r.Envelope(actor),
		ItemID:      r.ItemID,
		Source:      r.Source,
		Destination: r.Destination,
		Quantity:    r.Quantity,
	}
}

// FulfillRequest ships an order line
type FulfillRequest struct {
	EnvelopeRequest
	ShippedQuantity decimal.Decimal `json:"shipped_quantity" swaggertype:"string" example:"5"`
	OrderedQuantity decimal.Decimal `json:"ordered_quantity" swaggertype:"string" example:"10"`
	ItemID          string          `json:"item_id" binding:"max=64"`
	LocationID      string          `json:"location_id" binding:"max=64"`
}

// ToCommand converts the request to a fulfill command
func (r FulfillRequest) ToCommand(actor string) appinv.FulfillCommand {
	return appinv.FulfillCommand{
		Envelope:        r.Envelope(actor),
		ShippedQuantity: r.ShippedQuantity,
		OrderedQuantity: r.OrderedQuantity,
		ItemID:          r.ItemID,
		LocationID:      r.LocationID,
	}
}

// AvailabilityLineRequest is one requirement of an availability check
type AvailabilityLineRequest struct {
	ItemID     string          `json:"item_id" binding:"required,max=64"`
	LocationID string          `json:"location_id" binding:"required,max=64"`
	Required   decimal.Decimal `json:"required" swaggertype:"string" example:"3"`
}

// CheckAvailabilityRequest checks lines without reserving
type CheckAvailabilityRequest struct {
	Lines []AvailabilityLineRequest `json:"lines" binding:"required,min=1,max=500,dive"`
}

// ToQuery converts the request to an availability query
func (r CheckAvailabilityRequest) ToQuery() appinv.CheckAvailabilityQuery {
	lines := make([]appinv.AvailabilityRequirement, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = appinv.AvailabilityRequirement{ItemID: l.ItemID, LocationID: l.LocationID, Required: l.Required}
	}
	return appinv.CheckAvailabilityQuery{Lines: lines}
}

// ReservationListQuery selects the reservations of one cause
type ReservationListQuery struct {
	RefType string `form:"ref_type" binding:"required,max=50"`
	RefID   string `form:"ref_id" binding:"required,max=100"`
}

// JournalQuery selects journal entries of a cell or a cause
type JournalQuery struct {
	ItemID     string `form:"item_id" binding:"required_without=RefType,max=64"`
	LocationID string `form:"location_id" binding:"required_with=ItemID,max=64"`
	RefType    string `form:"ref_type" binding:"required_with=RefID,max=50"`
	RefID      string `form:"ref_id" binding:"required_with=RefType,max=100"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// FulfillmentStatusQuery selects one order line
type FulfillmentStatusQuery struct {
	RefType         string `form:"ref_type" binding:"required,max=50"`
	RefID           string `form:"ref_id" binding:"required,max=100"`
	OrderedQuantity string `form:"ordered_quantity"`
}

// Ordered parses the optional ordered quantity
func (q FulfillmentStatusQuery) Ordered() (decimal.Decimal, error) {
	if q.OrderedQuantity == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(q.OrderedQuantity)
	if err != nil {
		return decimal.Zero, shared.NewDomainError(shared.CodeInvalidInput, "ordered_quantity is not a decimal")
	}
	return d, nil
}

// ReservationResponse is the API view of a reservation
type ReservationResponse struct {
	ID                string          `json:"id"`
	RefType           string          `json:"ref_type"`
	RefID             string          `json:"ref_id"`
	ItemID            string          `json:"item_id"`
	LocationID        string          `json:"location_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	RequestedQuantity decimal.Decimal `json:"requested_quantity"`
	Status            string          `json:"status"`
	Priority          int             `json:"priority"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
	Substitutes       []string        `json:"substitutes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ToReservationResponses converts domain reservations to API views
func ToReservationResponses(rs []inventory.Reservation) []ReservationResponse {
	out := make([]ReservationResponse, len(rs))
	for i, r := range rs {
		out[i] = ReservationResponse{
			ID:                r.ID.String(),
			RefType:           r.RefType,
			RefID:             r.RefID,
			ItemID:            r.ItemID,
			LocationID:        r.LocationID,
			Quantity:          r.Quantity,
			RequestedQuantity: r.RequestedQuantity,
			Status:            r.Status.String(),
			Priority:          r.Priority,
			ExpiresAt:         r.ExpiresAt,
			Substitutes:       r.Substitutes,
			CreatedAt:         r.CreatedAt,
			UpdatedAt:         r.UpdatedAt,
		}
	}
	return out
}

// JournalEntryResponse is the API view of a journal entry
type JournalEntryResponse struct {
	ID             int64           `json:"id"`
	OccurredAt     time.Time       `json:"occurred_at"`
	ItemID         string          `json:"item_id"`
	LocationID     string          `json:"location_id"`
	Kind           string          `json:"kind"`
	SignedQuantity decimal.Decimal `json:"signed_quantity"`
	PrevOnHand     decimal.Decimal `json:"prev_on_hand"`
	NewOnHand      decimal.Decimal `json:"new_on_hand"`
	PrevAllocated  decimal.Decimal `json:"prev_allocated"`
	NewAllocated   decimal.Decimal `json:"new_allocated"`
	BalanceVersion int64           `json:"balance_version"`
	OperationID    string          `json:"operation_id"`
	RefType        string          `json:"ref_type,omitempty"`
	RefID          string          `json:"ref_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Actor          string          `json:"actor,omitempty"`
}

// ToJournalEntryResponses converts journal entries to API views
func ToJournalEntryResponses(entries []inventory.InventoryTransaction) []JournalEntryResponse {
	out := make([]JournalEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = JournalEntryResponse{
			ID:             e.ID,
			OccurredAt:     e.OccurredAt,
			ItemID:         e.ItemID,
			LocationID:     e.LocationID,
			Kind:           e.Kind.String(),
			SignedQuantity: e.SignedQuantity,
			PrevOnHand:     e.PrevOnHand,
			NewOnHand:      e.NewOnHand,
			PrevAllocated:  e.PrevAllocated,
			NewAllocated:   e.NewAllocated,
			BalanceVersion: e.BalanceVersion,
			OperationID:    e.OperationID.String(),
			RefType:        e.RefType,
			RefID:          e.RefID,
			Reason:         e.Reason,
			Actor:          e.Actor,
		}
	}
	return out
}

// BatchCommandRequest is one command of a batch. Exactly one field is set.
type BatchCommandRequest struct {
	Reserve  *ReserveRequest  `json:"reserve,omitempty"`
	Release  *ReleaseRequest  `json:"release,omitempty"`
	Consume  *ConsumeRequest  `json:"consume,omitempty"`
	Receive  *ReceiveRequest  `json:"receive,omitempty"`
	Adjust   *AdjustRequest   `json:"adjust,omitempty"`
	Transfer *TransferRequest `json:"transfer,omitempty"`
	Fulfill  *FulfillRequest  `json:"fulfill,omitempty"`
	Return   *ReturnRequest   `json:"return,omitempty"`
	Issue    *IssueRequest    `json:"issue,omitempty"`
}

// BatchRequest runs independent commands concurrently
type BatchRequest struct {
	Commands []BatchCommandRequest `json:"commands" binding:"required,min=1,max=200,dive"`
}

// ToCommand converts the single populated field to an engine command
func (r BatchCommandRequest) ToCommand(actor string) (appinv.Command, error) {
	var (
		cmd appinv.Command
		err error
		set int
	)
	if r.Reserve != nil {
		set++
		cmd, err = r.Reserve.ToCommand(actor)
	}
	if r.Release != nil {
		set++
		cmd, err = r.Release.ToCommand(actor)
	}
	if r.Consume != nil {
		set++
		cmd, err = r.Consume.ToCommand(actor)
	}
	if r.Receive != nil {
		set++
		cmd, err = r.Receive.ToCommand(actor)
	}
	if r.Adjust != nil {
		set++
		cmd = r.Adjust.ToCommand(actor)
	}
	if r.Transfer != nil {
		set++
		cmd = r.Transfer.ToCommand(actor)
	}
	if r.Fulfill != nil {
		set++
		cmd = r.Fulfill.ToCommand(actor)
	}
	if r.Return != nil {
		set++
		cmd = r.Return.ToCommand(actor)
	}
	if r.Issue != nil {
		set++
		cmd, err = r.Issue.ToCommand(actor)
	}
	if set != 1 {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("batch command must name exactly one operation, got %d", set))
	}
	return cmd, err
}

// BatchOutcome is the result or error of one batch command
type BatchOutcome struct {
	Operation string     `json:"operation,omitempty"`
	Result    any        `json:"result,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

func parseKind(name string) (inventory.TransactionKind, error) {
	if name == "" {
		return 0, nil
	}
	kind, err := inventory.ParseTransactionKind(name)
	if err != nil {
		return 0, invalidInput(err)
	}
	return kind, nil
}

// parseOptionalUUID never maps a malformed id to uuid.Nil: for release and
// consume a nil id widens the target to every reservation of the cause.
func parseOptionalUUID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, shared.NewDomainError(shared.CodeInvalidInput, field+" is not a valid UUID")
	}
	return id, nil
}

func invalidInput(err error) error {
	return shared.NewDomainError(shared.CodeInvalidInput, err.Error())
}
