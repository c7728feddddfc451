package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/erp/inventory-core/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
)

const (
	opListReservations   = "list_reservations"
	opReservationStats   = "reservation_stats"
	opTotalOnHand        = "total_on_hand"
	opFulfillmentStatus  = "fulfillment_status"
	opJournalForCell     = "journal_for_cell"
	opJournalForRef      = "journal_for_ref"
	defaultJournalLimit  = 100
	maxJournalQueryLimit = 1000
)

// query runs a read-only function against the pool without a transaction.
func (e *Engine) query(ctx context.Context, op string, fn func(ctx context.Context, repos TransactionalRepositories) error, spanAttrs ...any) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "inventory", op)
	defer span.End()
	telemetry.SetAttributes(span, spanAttrs...)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SingleCellTimeout)
	defer cancel()

	started := time.Now()
	err := e.surface(ctx, op, fn(ctx, e.scope.Reader()))
	outcome := OutcomeOK
	if err != nil {
		outcome = shared.CodeOf(err)
		telemetry.RecordError(span, err)
	}
	e.metrics.ObserveOperation(ctx, op, outcome, time.Since(started))
	return err
}

// GetBalance reads a cell without locking. Overdue reservations that no
// operation has expired yet are excluded from allocated, so the view matches
// what the next operation on the cell will see. Returns a nil balance for a
// cell that was never written.
func (e *Engine) GetBalance(ctx context.Context, q GetBalanceQuery) (*GetBalanceResult, error) {
	cell, err := inventory.NewCell(q.ItemID, q.LocationID)
	if err != nil {
		return nil, err
	}
	var result *GetBalanceResult
	err = e.query(ctx, OpGetBalance, func(ctx context.Context, repos TransactionalRepositories) error {
		view, err := e.reconciledView(ctx, repos, cell)
		result = &GetBalanceResult{Balance: view}
		return err
	}, telemetry.SpanAttrItemID, cell.ItemID, telemetry.SpanAttrLocationID, cell.LocationID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CheckAvailability answers, per line, whether the available quantity
// covers the requirement. The answer is advisory: only Reserve binds stock.
func (e *Engine) CheckAvailability(ctx context.Context, q CheckAvailabilityQuery) (*CheckAvailabilityResult, error) {
	if len(q.Lines) == 0 {
		return nil, invalid("at least one availability line is required")
	}
	cells := make([]inventory.Cell, len(q.Lines))
	for i, l := range q.Lines {
		c, err := inventory.NewCell(l.ItemID, l.LocationID)
		if err != nil {
			return nil, err
		}
		if err := inventory.ValidatePositiveQuantity("required", l.Required); err != nil {
			return nil, err
		}
		cells[i] = c
	}

	var result *CheckAvailabilityResult
	err := e.query(ctx, OpCheckAvailability, func(ctx context.Context, repos TransactionalRepositories) error {
		r := &CheckAvailabilityResult{AllSufficient: true}
		for i, l := range q.Lines {
			view, err := e.reconciledView(ctx, repos, cells[i])
			if err != nil {
				return err
			}
			available := decimal.Zero
			if view != nil {
				available = view.Available
			}
			line := AvailabilityLine{
				ItemID:     l.ItemID,
				LocationID: l.LocationID,
				Required:   l.Required,
				Available:  available,
				Sufficient: available.GreaterThanOrEqual(l.Required),
			}
			r.AllSufficient = r.AllSufficient && line.Sufficient
			r.Lines = append(r.Lines, line)
		}
		result = r
		return nil
	}, telemetry.SpanAttrRequests, len(q.Lines))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) reconciledView(ctx context.Context, repos TransactionalRepositories, cell inventory.Cell) (*BalanceView, error) {
	b, err := repos.Balances().Get(ctx, cell)
	var notFound *inventory.BalanceNotFoundError
	if errors.As(err, &notFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if b.Version == 0 {
		return nil, nil
	}
	view := viewOf(b)
	overdue, err := repos.Reservations().SumOverdue(ctx, cell, e.clock())
	if err != nil {
		return nil, err
	}
	if overdue.IsPositive() {
		view.Allocated = view.Allocated.Sub(inventory.MinQuantity(overdue, view.Allocated))
		view.Available = view.OnHand.Sub(view.Allocated)
	}
	return &view, nil
}

// ListReservations returns every reservation of a cause, any status.
func (e *Engine) ListReservations(ctx context.Context, ref inventory.Ref) ([]inventory.Reservation, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var result []inventory.Reservation
	err := e.query(ctx, opListReservations, func(ctx context.Context, repos TransactionalRepositories) error {
		rs, err := repos.Reservations().FindByRef(ctx, ref)
		result = rs
		return err
	}, telemetry.SpanAttrRefType, ref.Type, telemetry.SpanAttrRefID, ref.ID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReservationStats summarizes the ledger.
type ReservationStats struct {
	ByStatus       []inventory.ReservationStatusStat `json:"by_status"`
	Total          int64                             `json:"total"`
	ActiveQuantity decimal.Decimal                   `json:"active_quantity"`
}

// ReservationStats returns counts and quantities per status.
func (e *Engine) ReservationStats(ctx context.Context) (*ReservationStats, error) {
	var result *ReservationStats
	err := e.query(ctx, opReservationStats, func(ctx context.Context, repos TransactionalRepositories) error {
		stats, err := repos.Reservations().Stats(ctx)
		if err != nil {
			return err
		}
		r := &ReservationStats{ByStatus: stats, ActiveQuantity: decimal.Zero}
		for _, s := range stats {
			r.Total += s.Count
			if s.Status == inventory.ReservationActive {
				r.ActiveQuantity = s.Quantity
			}
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ItemTotals aggregates an item across locations.
type ItemTotals struct {
	ItemID    string          `json:"item_id"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Allocated decimal.Decimal `json:"allocated"`
	Available decimal.Decimal `json:"available"`
	Locations []BalanceView   `json:"locations"`
}

// TotalOnHand sums the balances of an item over every location.
func (e *Engine) TotalOnHand(ctx context.Context, itemID string) (*ItemTotals, error) {
	if err := inventory.ValidateIdentifier("item_id", itemID); err != nil {
		return nil, err
	}
	var result *ItemTotals
	err := e.query(ctx, opTotalOnHand, func(ctx context.Context, repos TransactionalRepositories) error {
		balances, err := repos.Balances().ListByItem(ctx, itemID)
		if err != nil {
			return err
		}
		t := &ItemTotals{ItemID: itemID, OnHand: decimal.Zero, Allocated: decimal.Zero, Available: decimal.Zero}
		for i := range balances {
			if balances[i].Version == 0 {
				continue
			}
			v := viewOf(&balances[i])
			t.OnHand = t.OnHand.Add(v.OnHand)
			t.Allocated = t.Allocated.Add(v.Allocated)
			t.Available = t.Available.Add(v.Available)
			t.Locations = append(t.Locations, v)
		}
		result = t
		return nil
	}, telemetry.SpanAttrItemID, itemID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FulfillmentStatusView is the shipping state of an order line.
type FulfillmentStatusView struct {
	Ref              inventory.Ref   `json:"ref"`
	OrderedQuantity  decimal.Decimal `json:"ordered_quantity"`
	ShippedQuantity  decimal.Decimal `json:"shipped_quantity"`
	ReservedQuantity decimal.Decimal `json:"reserved_quantity"`
	Status           LineStatus      `json:"status"`
}

// FulfillmentStatus derives a line's status from its reservations and
// journaled shipments. A zero ordered quantity falls back to the quantity
// the line reserved.
func (e *Engine) FulfillmentStatus(ctx context.Context, ref inventory.Ref, ordered decimal.Decimal) (*FulfillmentStatusView, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var result *FulfillmentStatusView
	err := e.query(ctx, opFulfillmentStatus, func(ctx context.Context, repos TransactionalRepositories) error {
		reservations, err := repos.Reservations().FindByRef(ctx, ref)
		if err != nil {
			return err
		}
		entries, err := repos.Journal().ListByRef(ctx, ref)
		if err != nil {
			return err
		}
		reserved := decimal.Zero
		for _, r := range reservations {
			if r.IsActive() {
				reserved = reserved.Add(r.Quantity)
			}
		}
		o := orderedQuantity(ordered, reservations)
		shipped := shippedQuantity(entries)
		result = &FulfillmentStatusView{
			Ref:              ref,
			OrderedQuantity:  o,
			ShippedQuantity:  shipped,
			ReservedQuantity: reserved,
			Status:           lineStatus(o, shipped, reservations),
		}
		return nil
	}, telemetry.SpanAttrRefType, ref.Type, telemetry.SpanAttrRefID, ref.ID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// JournalForCell returns the latest entries of a cell, oldest first.
func (e *Engine) JournalForCell(ctx context.Context, cell inventory.Cell, limit int) ([]inventory.InventoryTransaction, error) {
	if err := cell.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	if limit > maxJournalQueryLimit {
		limit = maxJournalQueryLimit
	}
	var result []inventory.InventoryTransaction
	err := e.query(ctx, opJournalForCell, func(ctx context.Context, repos TransactionalRepositories) error {
		entries, err := repos.Journal().ListByCell(ctx, cell, limit)
		result = entries
		return err
	}, telemetry.SpanAttrItemID, cell.ItemID, telemetry.SpanAttrLocationID, cell.LocationID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// JournalForRef returns every entry written for a cause, oldest first.
func (e *Engine) JournalForRef(ctx context.Context, ref inventory.Ref) ([]inventory.InventoryTransaction, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var result []inventory.InventoryTransaction
	err := e.query(ctx, opJournalForRef, func(ctx context.Context, repos TransactionalRepositories) error {
		entries, err := repos.Journal().ListByRef(ctx, ref)
		result = entries
		return err
	}, telemetry.SpanAttrRefType, ref.Type, telemetry.SpanAttrRefID, ref.ID)
	if err != nil {
		return nil, err
	}
	return result, nil
}
