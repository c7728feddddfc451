package inventory

import (
	"fmt"

	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InsufficientAvailabilityError is returned when a strict reserve, consume,
// issue or transfer cannot be satisfied from the cell's available stock.
type InsufficientAvailabilityError struct {
	ItemID     string
	LocationID string
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientAvailabilityError) Error() string {
	return fmt.Sprintf("insufficient availability for %s@%s: requested %s, available %s",
		e.ItemID, e.LocationID, e.Requested.String(), e.Available.String())
}

func (e *InsufficientAvailabilityError) Unwrap() error {
	return shared.NewDomainError(shared.CodeInsufficientAvailability, e.Error())
}

// AdjustmentWouldViolateAllocationError is returned when an adjustment would
// leave on-hand below the allocated quantity.
type AdjustmentWouldViolateAllocationError struct {
	ItemID          string
	LocationID      string
	Allocated       decimal.Decimal
	RequestedOnHand decimal.Decimal
}

func (e *AdjustmentWouldViolateAllocationError) Error() string {
	return fmt.Sprintf("adjustment of %s@%s would set on_hand to %s below allocated %s",
		e.ItemID, e.LocationID, e.RequestedOnHand.String(), e.Allocated.String())
}

func (e *AdjustmentWouldViolateAllocationError) Unwrap() error {
	return shared.NewDomainError(shared.CodeAdjustmentWouldViolateAllocation, e.Error())
}

// DuplicateReservationError is returned when a reservation for the same
// cause already exists with different parameters.
type DuplicateReservationError struct {
	RefType string
	RefID   string
}

func (e *DuplicateReservationError) Error() string {
	return fmt.Sprintf("reservation %s/%s already exists with different parameters", e.RefType, e.RefID)
}

func (e *DuplicateReservationError) Unwrap() error {
	return shared.NewDomainError(shared.CodeDuplicateReservation, e.Error())
}

// ReservationNotActiveError is returned when consume or release targets a
// reservation that already left the Active state.
type ReservationNotActiveError struct {
	ID           uuid.UUID
	ActualStatus ReservationStatus
}

func (e *ReservationNotActiveError) Error() string {
	return fmt.Sprintf("reservation %s is %s, not Active", e.ID, e.ActualStatus)
}

func (e *ReservationNotActiveError) Unwrap() error {
	return shared.NewDomainError(shared.CodeReservationNotActive, e.Error())
}

// BalanceNotFoundError is returned for a cell that has never been created.
type BalanceNotFoundError struct {
	ItemID     string
	LocationID string
}

func (e *BalanceNotFoundError) Error() string {
	return fmt.Sprintf("no balance for %s@%s", e.ItemID, e.LocationID)
}

func (e *BalanceNotFoundError) Unwrap() error {
	return shared.NewDomainError(shared.CodeNotFound, e.Error())
}

// ReservationNotFoundError is returned when no reservation matches an id or ref.
type ReservationNotFoundError struct {
	ID  uuid.UUID
	Ref Ref
}

func (e *ReservationNotFoundError) Error() string {
	if e.ID != uuid.Nil {
		return fmt.Sprintf("reservation %s not found", e.ID)
	}
	return fmt.Sprintf("no reservation for %s", e.Ref)
}

func (e *ReservationNotFoundError) Unwrap() error {
	return shared.NewDomainError(shared.CodeNotFound, e.Error())
}

// ConflictError is surfaced after the retry budget for serialization
// failures or deadlocks is exhausted.
type ConflictError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: concurrency conflict after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() []error {
	return []error{shared.NewDomainError(shared.CodeConflict, e.Error()), e.Err}
}

// TimeoutError is returned when an operation's deadline expires. The
// transaction has been rolled back but the caller cannot tell whether a
// commit raced the deadline, so the outcome is unknown.
type TimeoutError struct {
	Operation string
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: deadline exceeded: %v", e.Operation, e.Err)
}

func (e *TimeoutError) Unwrap() []error {
	return []error{shared.NewDomainError(shared.CodeTimeout, e.Error()), e.Err}
}

// InternalError wraps database and I/O failures unrelated to business state.
type InternalError struct {
	Operation string
	Err       error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *InternalError) Unwrap() []error {
	return []error{shared.NewDomainError(shared.CodeInternal, e.Error()), e.Err}
}

// InvariantViolationError signals a programming error: a write that would
// break the balance invariants was attempted and refused.
type InvariantViolationError struct {
	Cell   Cell
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("balance invariant violated at %s: %s", e.Cell, e.Detail)
}

func (e *InvariantViolationError) Unwrap() error {
	return shared.NewDomainError(shared.CodeInternal, e.Error())
}

func invalidInput(format string, args ...any) error {
	return shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf(format, args...))
}
