package dto

import (
	"net/http"

	"github.com/erp/inventory-core/internal/domain/shared"
)

// Domain error codes pass through to clients unchanged. The codes below are
// produced by the transport itself.
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeInvalidJSON is used when the body is not valid JSON
	ErrCodeInvalidJSON = "INVALID_JSON"
	// ErrCodeValidation is used when binding tags reject the request
	ErrCodeValidation = "VALIDATION_ERROR"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	// ErrCodeRateLimited is used when the client exceeded its request budget
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeUnavailable is used when a dependency such as the database is down
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	// Input errors -> 400 Bad Request
	shared.CodeInvalidInput: http.StatusBadRequest,
	ErrCodeBadRequest:       http.StatusBadRequest,
	ErrCodeInvalidJSON:      http.StatusBadRequest,
	ErrCodeValidation:       http.StatusBadRequest,

	shared.CodeNotFound: http.StatusNotFound,

	// Business rule errors -> 422 Unprocessable Entity
	shared.CodeInsufficientAvailability:         http.StatusUnprocessableEntity,
	shared.CodeAdjustmentWouldViolateAllocation: http.StatusUnprocessableEntity,
	shared.CodeReservationNotActive:             http.StatusUnprocessableEntity,

	// Conflicts -> 409; the transient ones are safe to retry
	shared.CodeDuplicateReservation: http.StatusConflict,
	shared.CodeConflict:             http.StatusConflict,
	shared.CodeDeadlock:             http.StatusConflict,

	shared.CodeTimeout:     http.StatusGatewayTimeout,
	shared.CodeInternal:    http.StatusInternalServerError,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeUnavailable:     http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether a client may resubmit the same request
// unchanged after receiving code.
func IsRetryable(code string) bool {
	switch code {
	case shared.CodeConflict, shared.CodeDeadlock, shared.CodeTimeout, ErrCodeRateLimited, ErrCodeUnavailable:
		return true
	}
	return false
}
