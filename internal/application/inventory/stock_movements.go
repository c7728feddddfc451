package inventory

import (
	"context"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
)

// Receive adds stock from a purchase receipt or a production run.
// It cannot fail on availability.
func (e *Engine) Receive(ctx context.Context, cmd ReceiveCommand) (*OnHandResult, error) {
	kind, err := kindOrDefault(cmd.Kind, inventory.KindPurchaseReceipt, inventory.KindManufacturingProduction)
	if err != nil {
		return nil, err
	}
	return e.inflow(ctx, OpReceive, cmd.Envelope, cmd.ItemID, cmd.LocationID, cmd.Quantity, kind)
}

// Return puts customer-returned stock back on hand. Reservations are not
// touched, so the returned quantity is immediately available.
func (e *Engine) Return(ctx context.Context, cmd ReturnCommand) (*OnHandResult, error) {
	return e.inflow(ctx, OpReturn, cmd.Envelope, cmd.ItemID, cmd.LocationID, cmd.Quantity, inventory.KindSalesReturn)
}

func (e *Engine) inflow(
	ctx context.Context,
	op string,
	env Envelope,
	itemID, locationID string,
	quantity decimal.Decimal,
	kind inventory.TransactionKind,
) (*OnHandResult, error) {
	if err := validateEnvelope(env, false); err != nil {
		return nil, err
	}
	cell, err := inventory.NewCell(itemID, locationID)
	if err != nil {
		return nil, err
	}
	if err := inventory.ValidatePositiveQuantity("quantity", quantity); err != nil {
		return nil, err
	}

	var result *OnHandResult
	err = e.run(ctx, op, e.cfg.SingleCellTimeout, env, func(tx *opTx) error {
		if replay, ok, err := replayOnHand(tx, cell); err != nil || ok {
			result = replay
			return err
		}
		if err := tx.lock(cell); err != nil {
			return err
		}
		if err := tx.apply(cell, kind, func(b *inventory.Balance) error {
			return b.Receive(quantity)
		}); err != nil {
			return err
		}
		b := tx.balance(cell)
		result = &OnHandResult{NewOnHand: b.OnHand, Balance: viewOf(b)}
		return nil
	}, cellAttrs(cell, quantity)...)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Adjust applies a signed correction such as a cycle count or write-off.
// The result may not fall below the allocated quantity; allocations must be
// released first.
func (e *Engine) Adjust(ctx context.Context, cmd AdjustCommand) (*OnHandResult, error) {
	if err := validateEnvelope(cmd.Envelope, false); err != nil {
		return nil, err
	}
	cell, err := inventory.NewCell(cmd.ItemID, cmd.LocationID)
	if err != nil {
		return nil, err
	}
	if err := inventory.ValidateSignedQuantity("delta", cmd.Delta); err != nil {
		return nil, err
	}

	var result *OnHandResult
	err = e.run(ctx, OpAdjust, e.cfg.SingleCellTimeout, cmd.Envelope, func(tx *opTx) error {
		if replay, ok, err := replayOnHand(tx, cell); err != nil || ok {
			result = replay
			return err
		}
		if err := tx.lock(cell); err != nil {
			return err
		}
		if err := tx.apply(cell, inventory.KindAdjustment, func(b *inventory.Balance) error {
			return b.Adjust(cmd.Delta)
		}); err != nil {
			return err
		}
		b := tx.balance(cell)
		result = &OnHandResult{NewOnHand: b.OnHand, Balance: viewOf(b)}
		return nil
	}, cellAttrs(cell, cmd.Delta)...)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Issue removes unreserved stock directly: purchase returns, material issue
// to a work order, or a sales shipment without a reservation.
func (e *Engine) Issue(ctx context.Context, cmd IssueCommand) (*IssueResult, error) {
	if err := validateEnvelope(cmd.Envelope, false); err != nil {
		return nil, err
	}
	if err := validateMode(cmd.Mode); err != nil {
		return nil, err
	}
	kind, err := kindOrDefault(cmd.Kind,
		inventory.KindSalesOrder, inventory.KindManufacturingConsumption, inventory.KindPurchaseReturn)
	if err != nil {
		return nil, err
	}
	cell, err := inventory.NewCell(cmd.ItemID, cmd.LocationID)
	if err != nil {
		return nil, err
	}
	if err := inventory.ValidatePositiveQuantity("quantity", cmd.Quantity); err != nil {
		return nil, err
	}

	var result *IssueResult
	err = e.run(ctx, OpIssue, e.cfg.SingleCellTimeout, cmd.Envelope, func(tx *opTx) error {
		prior, err := tx.priorEntries()
		if err != nil {
			return err
		}
		if last, ok := lastState(prior, cell); ok {
			issued := decimal.Zero
			for _, p := range prior {
				issued = issued.Sub(p.OnHandDelta())
			}
			result = &IssueResult{Issued: issued, NewOnHand: last.NewOnHand, Replayed: true}
			return nil
		}
		r, err := tx.issue(cell, cmd.Quantity, kind, cmd.Mode)
		result = r
		return err
	}, cellAttrs(cell, cmd.Quantity)...)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (t *opTx) issue(cell inventory.Cell, quantity decimal.Decimal, kind inventory.TransactionKind, mode Mode) (*IssueResult, error) {
	if err := t.lock(cell); err != nil {
		return nil, err
	}
	b, err := t.existing(cell)
	if err != nil {
		return nil, err
	}
	take := quantity
	if mode == ModeBestEffort {
		take = inventory.MinQuantity(quantity, b.Available)
	}
	result := &IssueResult{Issued: decimal.Zero}
	if take.IsPositive() {
		if err := t.apply(cell, kind, func(b *inventory.Balance) error {
			return b.Issue(take)
		}); err != nil {
			return nil, err
		}
		result.Issued = take
	}
	if missing := quantity.Sub(take); missing.IsPositive() {
		result.Shortfall = &Shortfall{
			ItemID:     cell.ItemID,
			LocationID: cell.LocationID,
			Requested:  quantity,
			Satisfied:  take,
			Missing:    missing,
		}
	}
	result.NewOnHand = b.OnHand
	return result, nil
}

// Transfer moves stock of one item between two locations in one
// transaction. Only available stock can move; allocations stay behind.
func (e *Engine) Transfer(ctx context.Context, cmd TransferCommand) (*TransferResult, error) {
	if err := validateEnvelope(cmd.Envelope, false); err != nil {
		return nil, err
	}
	source, err := inventory.NewCell(cmd.ItemID, cmd.Source)
	if err != nil {
		return nil, err
	}
	dest, err := inventory.NewCell(cmd.ItemID, cmd.Destination)
	if err != nil {
		return nil, err
	}
	if source == dest {
		return nil, invalid("transfer source and destination must differ")
	}
	if err := inventory.ValidatePositiveQuantity("quantity", cmd.Quantity); err != nil {
		return nil, err
	}

	var result *TransferResult
	err = e.run(ctx, OpTransfer, e.cfg.TransferTimeout, cmd.Envelope, func(tx *opTx) error {
		prior, err := tx.priorEntries()
		if err != nil {
			return err
		}
		if src, ok := lastState(prior, source); ok {
			dst, _ := lastState(prior, dest)
			result = &TransferResult{SourceOnHand: src.NewOnHand, DestOnHand: dst.NewOnHand, Replayed: true}
			return nil
		}

		if err := tx.lock(source, dest); err != nil {
			return err
		}
		if _, err := tx.existing(source); err != nil {
			return err
		}
		if err := tx.apply(source, inventory.KindTransferOut, func(b *inventory.Balance) error {
			return b.Issue(cmd.Quantity)
		}); err != nil {
			return err
		}
		if err := tx.apply(dest, inventory.KindTransferIn, func(b *inventory.Balance) error {
			return b.Receive(cmd.Quantity)
		}); err != nil {
			return err
		}
		result = &TransferResult{
			SourceOnHand: tx.balance(source).OnHand,
			DestOnHand:   tx.balance(dest).OnHand,
		}
		return nil
	},
		telemetry.SpanAttrItemID, cmd.ItemID,
		telemetry.SpanAttrSource, cmd.Source,
		telemetry.SpanAttrDestination, cmd.Destination,
		telemetry.SpanAttrQuantity, cmd.Quantity.String(),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExpireCell expires the overdue reservations of one cell. Every other
// operation does the same for the cells it touches; this entry point lets
// a sweeper reach idle cells.
func (e *Engine) ExpireCell(ctx context.Context, cmd ExpireCommand) (*ExpireResult, error) {
	if err := cmd.Cell.Validate(); err != nil {
		return nil, err
	}
	var result *ExpireResult
	err := e.run(ctx, OpExpire, e.cfg.SingleCellTimeout, Envelope{Actor: systemActor}, func(tx *opTx) error {
		if err := tx.lock(cmd.Cell); err != nil {
			return err
		}
		result = &ExpireResult{Expired: tx.expiredCount, Quantity: tx.expiredQuantity}
		return nil
	}, telemetry.SpanAttrItemID, cmd.Cell.ItemID, telemetry.SpanAttrLocationID, cmd.Cell.LocationID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replayOnHand returns the recorded outcome when the operation id was
// already committed for this cell.
func replayOnHand(tx *opTx, cell inventory.Cell) (*OnHandResult, bool, error) {
	prior, err := tx.priorEntries()
	if err != nil {
		return nil, false, err
	}
	last, ok := lastState(prior, cell)
	if !ok {
		return nil, false, nil
	}
	return &OnHandResult{NewOnHand: last.NewOnHand, Balance: viewOfEntry(last), Replayed: true}, true, nil
}

func cellAttrs(cell inventory.Cell, quantity decimal.Decimal) []any {
	return []any{
		telemetry.SpanAttrItemID, cell.ItemID,
		telemetry.SpanAttrLocationID, cell.LocationID,
		telemetry.SpanAttrQuantity, quantity.String(),
	}
}
