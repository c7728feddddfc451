package inventory

import (
	"fmt"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
)

const (
	maxReasonLength = 255
	maxActorLength  = 64
)

func invalid(format string, args ...any) error {
	return shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf(format, args...))
}

// validateEnvelope checks the common command fields. The reference is
// mandatory only for operations keyed by their cause.
func validateEnvelope(env Envelope, refRequired bool) error {
	if refRequired || !env.Ref.IsZero() {
		if err := env.Ref.Validate(); err != nil {
			return err
		}
	}
	if len(env.Reason) > maxReasonLength {
		return invalid("reason cannot exceed %d characters", maxReasonLength)
	}
	if len(env.Actor) > maxActorLength {
		return invalid("actor cannot exceed %d characters", maxActorLength)
	}
	return nil
}

func validateMode(m Mode) error {
	if m != ModeStrict && m != ModeBestEffort {
		return invalid("invalid mode %d", uint8(m))
	}
	return nil
}

// kindOrDefault resolves an optional kind against the kinds an operation
// accepts; the first allowed kind is the default.
func kindOrDefault(kind inventory.TransactionKind, allowed ...inventory.TransactionKind) (inventory.TransactionKind, error) {
	if kind == 0 {
		return allowed[0], nil
	}
	for _, k := range allowed {
		if k == kind {
			return kind, nil
		}
	}
	return 0, invalid("transaction kind %s is not allowed here", kind)
}
