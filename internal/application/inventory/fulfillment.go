package inventory

import (
	"context"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fulfill ships a sales order line. When the line holds Active reservations
// the shipment consumes them and releases what is left; otherwise it is a
// direct issue from available stock that fails when short. Cumulative
// shipments may not exceed the ordered quantity.
func (e *Engine) Fulfill(ctx context.Context, cmd FulfillCommand) (*FulfillResult, error) {
	if err := validateEnvelope(cmd.Envelope, true); err != nil {
		return nil, err
	}
	if err := inventory.ValidatePositiveQuantity("shipped_quantity", cmd.ShippedQuantity); err != nil {
		return nil, err
	}
	if !cmd.OrderedQuantity.IsZero() {
		if err := inventory.ValidatePositiveQuantity("ordered_quantity", cmd.OrderedQuantity); err != nil {
			return nil, err
		}
	}
	var directCell *inventory.Cell
	if cmd.ItemID != "" || cmd.LocationID != "" {
		c, err := inventory.NewCell(cmd.ItemID, cmd.LocationID)
		if err != nil {
			return nil, err
		}
		directCell = &c
	}

	var result *FulfillResult
	err := e.run(ctx, OpFulfill, e.cfg.SingleCellTimeout, cmd.Envelope, func(tx *opTx) error {
		reservations, err := tx.repos.Reservations().FindByRef(tx.ctx, cmd.Ref)
		if err != nil {
			return err
		}
		entries, err := tx.repos.Journal().ListByRef(tx.ctx, cmd.Ref)
		if err != nil {
			return err
		}
		ordered := orderedQuantity(cmd.OrderedQuantity, reservations)
		shippedBefore := shippedQuantity(entries)
		shippedToDate := shippedBefore.Add(cmd.ShippedQuantity)
		if ordered.IsPositive() && shippedToDate.GreaterThan(ordered) {
			return invalid("cannot ship more than ordered: ordered %s, already shipped %s, shipping %s",
				ordered, shippedBefore, cmd.ShippedQuantity)
		}

		r := &FulfillResult{AutoReleasedRemainder: decimal.Zero, ShippedToDate: shippedToDate}
		if hasLive(reservations, tx.now()) {
			consumed, err := tx.consumeReservations(uuid.Nil, cmd.Ref, cmd.ShippedQuantity, inventory.KindSalesOrder)
			if err != nil {
				return err
			}
			r.Consumed = consumed.Consumed
			r.AutoReleasedRemainder = consumed.AutoReleasedRemainder
			r.FromReservation = true
		} else {
			cell := directCell
			if cell == nil && len(reservations) > 0 {
				c := reservations[0].Cell()
				cell = &c
			}
			if cell == nil {
				return invalid("item_id and location_id are required to ship a line without reservations")
			}
			issued, err := tx.issue(*cell, cmd.ShippedQuantity, inventory.KindSalesOrder, ModeStrict)
			if err != nil {
				return err
			}
			r.Consumed = issued.Issued
		}
		r.LineStatus = lineStatus(ordered, shippedToDate, reservations)
		result = r
		return nil
	}, telemetry.SpanAttrQuantity, cmd.ShippedQuantity.String())
	if err != nil {
		return nil, err
	}
	return result, nil
}

// orderedQuantity falls back to the quantity requested when the line was
// reserved. An order line is reserved by one request, so every row of the
// line carries the same requested quantity.
func orderedQuantity(explicit decimal.Decimal, reservations []inventory.Reservation) decimal.Decimal {
	if explicit.IsPositive() {
		return explicit
	}
	if len(reservations) > 0 {
		return reservations[0].RequestedQuantity
	}
	return decimal.Zero
}

// shippedQuantity sums the sales outflows journaled for a line.
func shippedQuantity(entries []inventory.InventoryTransaction) decimal.Decimal {
	shipped := decimal.Zero
	for _, e := range entries {
		if e.Kind == inventory.KindSalesOrder {
			shipped = shipped.Sub(e.SignedQuantity)
		}
	}
	return shipped
}

// hasLive reports whether any reservation is Active and not yet overdue.
func hasLive(reservations []inventory.Reservation, now time.Time) bool {
	for _, r := range reservations {
		if r.IsActive() && !r.IsExpiredAt(now) {
			return true
		}
	}
	return false
}

func lineStatus(ordered, shipped decimal.Decimal, reservations []inventory.Reservation) LineStatus {
	if shipped.IsPositive() {
		if ordered.IsZero() || shipped.GreaterThanOrEqual(ordered) {
			return LineStatusShipped
		}
		return LineStatusPartiallyShipped
	}
	if len(reservations) == 0 {
		return LineStatusPending
	}
	for _, r := range reservations {
		if r.Status == inventory.ReservationActive || r.Status == inventory.ReservationConsumed {
			return LineStatusPending
		}
	}
	return LineStatusCancelled
}
