package inventory

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/erp/inventory-core/internal/domain/shared"
)

// MaxIdentifierLength bounds item and location identifiers.
const MaxIdentifierLength = 64

// Cell identifies one (item, location) stock position.
type Cell struct {
	ItemID     string `json:"item_id"`
	LocationID string `json:"location_id"`
}

// NewCell creates a validated cell.
func NewCell(itemID, locationID string) (Cell, error) {
	c := Cell{ItemID: itemID, LocationID: locationID}
	if err := c.Validate(); err != nil {
		return Cell{}, err
	}
	return c, nil
}

// Validate checks that both identifiers are present and bounded.
func (c Cell) Validate() error {
	if err := ValidateIdentifier("item_id", c.ItemID); err != nil {
		return err
	}
	return ValidateIdentifier("location_id", c.LocationID)
}

// String returns "item@location".
func (c Cell) String() string {
	return c.ItemID + "@" + c.LocationID
}

// Compare orders cells by (item_id, location_id) lexicographically.
func (c Cell) Compare(o Cell) int {
	if r := cmp.Compare(c.ItemID, o.ItemID); r != 0 {
		return r
	}
	return cmp.Compare(c.LocationID, o.LocationID)
}

// Less reports whether c sorts before o in canonical lock order.
func (c Cell) Less(o Cell) bool {
	return c.Compare(o) < 0
}

// CanonicalOrder returns the distinct cells sorted ascending by
// (item_id, location_id). Every path that locks more than one cell must
// acquire the locks in this order.
func CanonicalOrder(cells ...Cell) []Cell {
	out := slices.Clone(cells)
	slices.SortFunc(out, Cell.Compare)
	return slices.Compact(out)
}

// ValidateIdentifier checks that an item or location id is present and bounded.
func ValidateIdentifier(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("%s cannot be empty", field))
	}
	if len(value) > MaxIdentifierLength {
		return shared.NewDomainError(shared.CodeInvalidInput,
			fmt.Sprintf("%s cannot exceed %d characters", field, MaxIdentifierLength))
	}
	return nil
}

// Ref is the flat back-pointer to the external cause of an operation,
// e.g. ("SalesOrder", "SO-1001").
type Ref struct {
	Type string `json:"ref_type"`
	ID   string `json:"ref_id"`
}

// NewRef creates a reference.
func NewRef(refType, refID string) Ref {
	return Ref{Type: refType, ID: refID}
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// Validate requires both halves of the reference.
func (r Ref) Validate() error {
	if r.Type == "" || r.ID == "" {
		return shared.NewDomainError(shared.CodeInvalidInput, "ref_type and ref_id are required")
	}
	if len(r.Type) > 50 || len(r.ID) > 100 {
		return shared.NewDomainError(shared.CodeInvalidInput, "ref_type or ref_id too long")
	}
	return nil
}

// String returns "type/id".
func (r Ref) String() string {
	return r.Type + "/" + r.ID
}
