package inventory

import (
	"context"
	"slices"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
)

// reservePlan is a validated request with its candidate cells: the
// requested item first, then each substitute at the same location in the
// order the caller gave.
type reservePlan struct {
	index      int
	request    ReserveRequest
	candidates []inventory.Cell
}

// Reserve commits available stock to an external cause. Each request is
// served from its own item first and then from its substitutes in caller
// order. In Strict mode any shortfall aborts the whole command; in
// BestEffort mode the satisfied part is committed and the rest reported.
// Repeating a reserve with identical quantities for the same cause returns
// the original reservations unchanged.
func (e *Engine) Reserve(ctx context.Context, cmd ReserveCommand) (*ReserveResult, error) {
	plans, err := e.planReserve(cmd)
	if err != nil {
		return nil, err
	}

	var result *ReserveResult
	err = e.run(ctx, OpReserve, e.cfg.SingleCellTimeout, cmd.Envelope, func(tx *opTx) error {
		r, err := e.reserveTx(tx, cmd, plans)
		result = r
		return err
	}, telemetry.SpanAttrRequests, len(cmd.Requests), telemetry.SpanAttrMode, cmd.Mode.String())
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) planReserve(cmd ReserveCommand) ([]reservePlan, error) {
	if err := validateEnvelope(cmd.Envelope, true); err != nil {
		return nil, err
	}
	if err := validateMode(cmd.Mode); err != nil {
		return nil, err
	}
	if len(cmd.Requests) == 0 {
		return nil, invalid("at least one reserve request is required")
	}
	if cmd.ExpiresAt != nil && !cmd.ExpiresAt.After(e.clock()) {
		return nil, invalid("expires_at must be in the future")
	}

	claimed := make(map[inventory.Cell]int)
	plans := make([]reservePlan, 0, len(cmd.Requests))
	for i, req := range cmd.Requests {
		primary, err := inventory.NewCell(req.ItemID, req.LocationID)
		if err != nil {
			return nil, err
		}
		if err := inventory.ValidatePositiveQuantity("quantity", req.Quantity); err != nil {
			return nil, err
		}
		candidates := []inventory.Cell{primary}
		for _, sub := range req.Substitutes {
			c, err := inventory.NewCell(sub, req.LocationID)
			if err != nil {
				return nil, err
			}
			if !slices.Contains(candidates, c) {
				candidates = append(candidates, c)
			}
		}
		for _, c := range candidates {
			if other, ok := claimed[c]; ok {
				return nil, invalid("requests %d and %d both target %s", other, i, c)
			}
			claimed[c] = i
		}
		plans = append(plans, reservePlan{index: i, request: req, candidates: candidates})
	}
	return plans, nil
}

func (e *Engine) reserveTx(tx *opTx, cmd ReserveCommand, plans []reservePlan) (*ReserveResult, error) {
	var all []inventory.Cell
	for _, p := range plans {
		all = append(all, p.candidates...)
	}
	if err := tx.lock(all...); err != nil {
		return nil, err
	}

	existing, err := tx.repos.Reservations().FindByRef(tx.ctx, cmd.Ref)
	if err != nil {
		return nil, err
	}
	prior := make(map[inventory.Cell]inventory.Reservation, len(existing))
	for _, r := range existing {
		prior[r.Cell()] = r
	}

	expiresAt := cmd.ExpiresAt
	if expiresAt == nil && e.cfg.DefaultReservationTTL > 0 {
		deadline := tx.now().Add(e.cfg.DefaultReservationTTL)
		expiresAt = &deadline
	}

	result := &ReserveResult{FullyReserved: true}
	for _, p := range plans {
		lines, replayed, err := replayReserve(p, prior, cmd.Ref)
		if err != nil {
			return nil, err
		}
		if !replayed {
			lines, err = e.reserveRequest(tx, cmd, p, expiresAt)
			if err != nil {
				return nil, err
			}
		}
		result.Lines = append(result.Lines, lines...)

		satisfied := decimal.Zero
		for _, l := range lines {
			if l.Status == inventory.ReservationActive {
				satisfied = satisfied.Add(l.Quantity)
			}
		}
		if satisfied.LessThan(p.request.Quantity) {
			result.FullyReserved = false
			result.Shortfalls = append(result.Shortfalls, Shortfall{
				RequestIndex: p.index,
				ItemID:       p.request.ItemID,
				LocationID:   p.request.LocationID,
				Requested:    p.request.Quantity,
				Satisfied:    satisfied,
				Missing:      p.request.Quantity.Sub(satisfied),
			})
		}
	}
	return result, nil
}

// replayReserve returns the reservations an earlier identical request
// created, unchanged and in whatever state they are now. Only Active ones
// still hold stock. Any earlier reservation on the request's cells with a
// different requested quantity makes the command a conflicting duplicate.
func replayReserve(p reservePlan, prior map[inventory.Cell]inventory.Reservation, ref inventory.Ref) ([]ReservedLine, bool, error) {
	var lines []ReservedLine
	for _, c := range p.candidates {
		r, ok := prior[c]
		if !ok {
			continue
		}
		if !r.RequestedQuantity.Equal(p.request.Quantity) {
			return nil, false, &inventory.DuplicateReservationError{RefType: ref.Type, RefID: ref.ID}
		}
		lines = append(lines, ReservedLine{
			RequestIndex:  p.index,
			ReservationID: r.ID,
			ItemID:        r.ItemID,
			LocationID:    r.LocationID,
			Quantity:      r.Quantity,
			Status:        r.Status,
			Replayed:      true,
		})
	}
	return lines, len(lines) > 0, nil
}

func (e *Engine) reserveRequest(tx *opTx, cmd ReserveCommand, p reservePlan, expiresAt *time.Time) ([]ReservedLine, error) {
	remaining := p.request.Quantity
	seen := decimal.Zero
	var lines []ReservedLine
	for _, c := range p.candidates {
		avail, err := reservable(tx, c)
		if err != nil {
			return nil, err
		}
		seen = seen.Add(avail)
		take := inventory.MinQuantity(avail, remaining)
		if !take.IsPositive() {
			continue
		}
		if err := tx.apply(c, inventory.KindReserve, func(b *inventory.Balance) error {
			return b.Allocate(take)
		}); err != nil {
			return nil, err
		}
		r, err := inventory.NewReservation(cmd.Ref, c, take, p.request.Quantity, cmd.Priority, expiresAt, p.request.Substitutes, tx.now())
		if err != nil {
			return nil, err
		}
		if err := tx.repos.Reservations().Create(tx.ctx, r); err != nil {
			return nil, err
		}
		lines = append(lines, ReservedLine{
			RequestIndex:  p.index,
			ReservationID: r.ID,
			ItemID:        r.ItemID,
			LocationID:    r.LocationID,
			Quantity:      take,
			Status:        r.Status,
		})
		remaining = remaining.Sub(take)
		if remaining.IsZero() {
			break
		}
	}

	if remaining.IsPositive() && cmd.Mode == ModeStrict {
		return nil, &inventory.InsufficientAvailabilityError{
			ItemID:     p.request.ItemID,
			LocationID: p.request.LocationID,
			Requested:  p.request.Quantity,
			Available:  seen,
		}
	}
	return lines, nil
}

// reservable is on_hand minus whatever is committed. Allocated equals the
// sum of Active reservations when the ledger is consistent; taking the
// larger of the two keeps a drifted ledger from over-reserving without
// subtracting the same reservation twice.
func reservable(tx *opTx, c inventory.Cell) (decimal.Decimal, error) {
	b := tx.balance(c)
	active, err := tx.repos.Reservations().SumActive(tx.ctx, c)
	if err != nil {
		return decimal.Zero, err
	}
	committed := b.Allocated
	if active.GreaterThan(committed) {
		committed = active
	}
	avail := b.OnHand.Sub(committed)
	if avail.IsNegative() {
		return decimal.Zero, nil
	}
	return avail, nil
}
