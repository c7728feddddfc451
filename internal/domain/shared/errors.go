package shared

import "errors"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is matches any DomainError carrying the same code, so detailed errors
// created with NewDomainError satisfy errors.Is against the sentinels below.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Error codes surfaced to callers of the inventory core
const (
	CodeInsufficientAvailability         = "INSUFFICIENT_AVAILABILITY"
	CodeAdjustmentWouldViolateAllocation = "ADJUSTMENT_WOULD_VIOLATE_ALLOCATION"
	CodeDuplicateReservation             = "DUPLICATE_RESERVATION"
	CodeReservationNotActive             = "RESERVATION_NOT_ACTIVE"
	CodeNotFound                         = "NOT_FOUND"
	CodeConflict                         = "CONCURRENCY_CONFLICT"
	CodeDeadlock                         = "DEADLOCK_DETECTED"
	CodeTimeout                          = "TIMEOUT"
	CodeInternal                         = "INTERNAL_ERROR"
	CodeInvalidInput                     = "INVALID_INPUT"
)

// Common domain errors
var (
	ErrInsufficientAvailability         = NewDomainError(CodeInsufficientAvailability, "Insufficient availability")
	ErrAdjustmentWouldViolateAllocation = NewDomainError(CodeAdjustmentWouldViolateAllocation, "Adjustment would drive on-hand below allocated")
	ErrDuplicateReservation             = NewDomainError(CodeDuplicateReservation, "Reservation already exists with different parameters")
	ErrReservationNotActive             = NewDomainError(CodeReservationNotActive, "Reservation is not active")
	ErrNotFound                         = NewDomainError(CodeNotFound, "Resource not found")
	ErrConcurrencyConflict              = NewDomainError(CodeConflict, "Resource was modified by another process")
	ErrDeadlock                         = NewDomainError(CodeDeadlock, "Database deadlock detected")
	ErrTimeout                          = NewDomainError(CodeTimeout, "Operation deadline exceeded")
	ErrInternal                         = NewDomainError(CodeInternal, "Internal error")
	ErrInvalidInput                     = NewDomainError(CodeInvalidInput, "Invalid input provided")
)

// IsBusinessError reports whether err carries one of the final business codes
// that callers must not retry.
func IsBusinessError(err error) bool {
	de, ok := asDomainError(err)
	if !ok {
		return false
	}
	switch de.Code {
	case CodeInsufficientAvailability,
		CodeAdjustmentWouldViolateAllocation,
		CodeDuplicateReservation,
		CodeReservationNotActive,
		CodeNotFound,
		CodeInvalidInput:
		return true
	}
	return false
}

// CodeOf returns the DomainError code carried by err, or CodeInternal.
func CodeOf(err error) string {
	if de, ok := asDomainError(err); ok {
		return de.Code
	}
	return CodeInternal
}

func asDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
