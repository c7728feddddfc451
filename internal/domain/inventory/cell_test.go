package inventory

import (
	"strings"
	"testing"

	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCell(t *testing.T) {
	c, err := NewCell("SKU-1", "WH-A")
	require.NoError(t, err)
	assert.Equal(t, "SKU-1@WH-A", c.String())

	tests := []struct {
		name, item, location string
	}{
		{"empty item", "", "WH-A"},
		{"blank location", "SKU-1", "  "},
		{"item too long", strings.Repeat("x", MaxIdentifierLength+1), "WH-A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCell(tt.item, tt.location)
			assert.Equal(t, shared.CodeInvalidInput, shared.CodeOf(err))
		})
	}
}

func TestCanonicalOrder(t *testing.T) {
	a1 := Cell{ItemID: "A", LocationID: "L1"}
	a2 := Cell{ItemID: "A", LocationID: "L2"}
	b1 := Cell{ItemID: "B", LocationID: "L1"}

	got := CanonicalOrder(b1, a2, a1, a2)
	assert.Equal(t, []Cell{a1, a2, b1}, got, "sorted by item then location without duplicates")

	assert.True(t, a1.Less(a2))
	assert.True(t, a2.Less(b1))
	assert.False(t, b1.Less(b1))
	assert.Zero(t, a1.Compare(a1))
}

func TestCanonicalOrder_DoesNotMutateInput(t *testing.T) {
	in := []Cell{{ItemID: "B", LocationID: "L"}, {ItemID: "A", LocationID: "L"}}
	_ = CanonicalOrder(in...)
	assert.Equal(t, "B", in[0].ItemID)
}

func TestRef(t *testing.T) {
	assert.True(t, Ref{}.IsZero())
	r := NewRef("SalesOrder", "SO-1")
	assert.False(t, r.IsZero())
	assert.NoError(t, r.Validate())
	assert.Equal(t, "SalesOrder/SO-1", r.String())

	assert.Error(t, NewRef("SalesOrder", "").Validate())
	assert.Error(t, NewRef(strings.Repeat("t", 51), "1").Validate())
	assert.Error(t, NewRef("T", strings.Repeat("i", 101)).Validate())
}

func TestValidateQuantities(t *testing.T) {
	assert.NoError(t, ValidatePositiveQuantity("q", dec("0.0001")))
	assert.Error(t, ValidatePositiveQuantity("q", dec("0")))
	assert.Error(t, ValidatePositiveQuantity("q", dec("-2")))
	assert.Error(t, ValidatePositiveQuantity("q", dec("1.23456")))
	assert.Error(t, ValidatePositiveQuantity("q", dec("100000000000000")))

	assert.NoError(t, ValidateSignedQuantity("d", dec("-3.5")))
	assert.Error(t, ValidateSignedQuantity("d", dec("0")))

	assert.True(t, dec("2").Equal(MinQuantity(dec("2"), dec("3"))))
	assert.True(t, dec("6.5").Equal(SumQuantities(dec("1"), dec("2.5"), dec("3"))))
}
