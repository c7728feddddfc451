package inventory

import (
	"context"
	"slices"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/erp/inventory-core/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Release cancels a reservation, or every reservation of a cause, returning
// the quantity to available. Reservations that are no longer Active are
// left untouched, so releasing twice is harmless.
func (e *Engine) Release(ctx context.Context, cmd ReleaseCommand) (*ReleaseResult, error) {
	if err := validateEnvelope(cmd.Envelope, cmd.ReservationID == uuid.Nil); err != nil {
		return nil, err
	}

	var result *ReleaseResult
	err := e.run(ctx, OpRelease, e.cfg.SingleCellTimeout, cmd.Envelope, func(tx *opTx) error {
		targets, err := tx.lockReservations(cmd.ReservationID, cmd.Ref)
		if err != nil {
			return err
		}
		r := &ReleaseResult{TotalQuantityReleased: decimal.Zero}
		for _, res := range targets {
			if !res.IsActive() {
				continue
			}
			if err := tx.releaseReservation(res); err != nil {
				return err
			}
			r.CountReleased++
			r.TotalQuantityReleased = r.TotalQuantityReleased.Add(res.Quantity)
			r.ReleasedIDs = append(r.ReleasedIDs, res.ID)
		}
		result = r
		return nil
	}, telemetry.SpanAttrReservationID, cmd.ReservationID.String())
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Consume ships reserved stock. The quantity is drawn from the targeted
// reservations in canonical cell order; whatever is left of each reservation
// is released in the same transaction.
func (e *Engine) Consume(ctx context.Context, cmd ConsumeCommand) (*ConsumeResult, error) {
	if err := validateEnvelope(cmd.Envelope, cmd.ReservationID == uuid.Nil); err != nil {
		return nil, err
	}
	kind, err := kindOrDefault(cmd.Kind, inventory.KindSalesOrder, inventory.KindManufacturingConsumption)
	if err != nil {
		return nil, err
	}
	if err := inventory.ValidatePositiveQuantity("quantity", cmd.Quantity); err != nil {
		return nil, err
	}

	var result *ConsumeResult
	err = e.run(ctx, OpConsume, e.cfg.SingleCellTimeout, cmd.Envelope, func(tx *opTx) error {
		r, err := tx.consumeReservations(cmd.ReservationID, cmd.Ref, cmd.Quantity, kind)
		result = r
		return err
	},
		telemetry.SpanAttrReservationID, cmd.ReservationID.String(),
		telemetry.SpanAttrQuantity, cmd.Quantity.String(),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lockReservations loads the targeted reservations, locks their cells and
// loads them again under the locks. A reservation of the cause that
// appeared on a cell outside the locked set makes the attempt retry.
func (t *opTx) lockReservations(id uuid.UUID, ref inventory.Ref) ([]inventory.Reservation, error) {
	load := func() ([]inventory.Reservation, error) {
		if id != uuid.Nil {
			r, err := t.repos.Reservations().FindByID(t.ctx, id)
			if err != nil {
				return nil, err
			}
			return []inventory.Reservation{*r}, nil
		}
		rs, err := t.repos.Reservations().FindByRef(t.ctx, ref)
		if err != nil {
			return nil, err
		}
		if len(rs) == 0 {
			return nil, &inventory.ReservationNotFoundError{Ref: ref}
		}
		return rs, nil
	}

	before, err := load()
	if err != nil {
		return nil, err
	}
	cells := make([]inventory.Cell, len(before))
	for i, r := range before {
		cells[i] = r.Cell()
	}
	if err := t.lock(cells...); err != nil {
		return nil, err
	}

	after, err := load()
	if err != nil {
		return nil, err
	}
	for _, r := range after {
		if _, ok := t.locked[r.Cell()]; !ok {
			return nil, shared.ErrConcurrencyConflict
		}
	}
	slices.SortStableFunc(after, func(a, b inventory.Reservation) int {
		return a.Cell().Compare(b.Cell())
	})
	if t.ec.Ref.IsZero() && len(after) > 0 {
		t.ec.Ref = after[0].Ref()
	}
	return after, nil
}

func (t *opTx) releaseReservation(r inventory.Reservation) error {
	if err := t.apply(r.Cell(), inventory.KindRelease, func(b *inventory.Balance) error {
		return b.Deallocate(r.Quantity)
	}); err != nil {
		return err
	}
	return t.repos.Reservations().Release(t.ctx, r.ID, t.now())
}

// consumeReservations ships quantity from the Active reservations selected
// by id or ref. A reservation that receives nothing is released rather
// than consumed.
func (t *opTx) consumeReservations(id uuid.UUID, ref inventory.Ref, quantity decimal.Decimal, kind inventory.TransactionKind) (*ConsumeResult, error) {
	targets, err := t.lockReservations(id, ref)
	if err != nil {
		return nil, err
	}
	active := make([]inventory.Reservation, 0, len(targets))
	for _, r := range targets {
		if r.IsActive() {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil, &inventory.ReservationNotActiveError{ID: targets[0].ID, ActualStatus: targets[0].Status}
	}

	reserved := decimal.Zero
	for _, r := range active {
		reserved = reserved.Add(r.Quantity)
	}
	if quantity.GreaterThan(reserved) {
		return nil, invalid("consume quantity %s exceeds reserved quantity %s", quantity, reserved)
	}

	result := &ConsumeResult{Consumed: decimal.Zero, AutoReleasedRemainder: decimal.Zero}
	remaining := quantity
	for _, r := range active {
		take := inventory.MinQuantity(remaining, r.Quantity)
		if !take.IsPositive() {
			if err := t.releaseReservation(r); err != nil {
				return nil, err
			}
			result.AutoReleasedRemainder = result.AutoReleasedRemainder.Add(r.Quantity)
			continue
		}
		if err := t.apply(r.Cell(), kind, func(b *inventory.Balance) error {
			return b.ConsumeAllocated(take)
		}); err != nil {
			return nil, err
		}
		if rest := r.Quantity.Sub(take); rest.IsPositive() {
			if err := t.apply(r.Cell(), inventory.KindRelease, func(b *inventory.Balance) error {
				return b.Deallocate(rest)
			}); err != nil {
				return nil, err
			}
			result.AutoReleasedRemainder = result.AutoReleasedRemainder.Add(rest)
		}
		if err := t.repos.Reservations().Consume(t.ctx, r.ID, t.now()); err != nil {
			return nil, err
		}
		result.Consumed = result.Consumed.Add(take)
		result.ConsumedIDs = append(result.ConsumedIDs, r.ID)
		remaining = remaining.Sub(take)
	}
	return result, nil
}
