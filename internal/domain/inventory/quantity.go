package inventory

import (
	"fmt"

	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// QuantityScale is the number of fractional digits carried by every quantity.
const QuantityScale = 4

// maxQuantity matches the decimal(18,4) column precision.
var maxQuantity = decimal.RequireFromString("99999999999999.9999")

// ValidatePositiveQuantity rejects zero, negative, over-precise and
// out-of-range quantities.
func ValidatePositiveQuantity(field string, q decimal.Decimal) error {
	if !q.IsPositive() {
		return shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("%s must be positive", field))
	}
	return validateScale(field, q)
}

// ValidateSignedQuantity rejects zero, over-precise and out-of-range deltas.
func ValidateSignedQuantity(field string, q decimal.Decimal) error {
	if q.IsZero() {
		return shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("%s cannot be zero", field))
	}
	return validateScale(field, q)
}

func validateScale(field string, q decimal.Decimal) error {
	if !q.Equal(q.Truncate(QuantityScale)) {
		return shared.NewDomainError(shared.CodeInvalidInput,
			fmt.Sprintf("%s cannot have more than %d decimal places", field, QuantityScale))
	}
	if q.Abs().GreaterThan(maxQuantity) {
		return shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("%s is out of range", field))
	}
	return nil
}

// MinQuantity returns the smaller of a and b.
func MinQuantity(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// SumQuantities adds quantities without rounding.
func SumQuantities(qs ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, q := range qs {
		total = total.Add(q)
	}
	return total
}
