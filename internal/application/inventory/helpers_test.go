package inventory_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	appinv "github.com/erp/inventory-core/internal/application/inventory"
	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/erp/inventory-core/internal/infrastructure/persistence"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cell(item, location string) inventory.Cell {
	return inventory.Cell{ItemID: item, LocationID: location}
}

func salesOrder(id string) appinv.Envelope {
	return appinv.Envelope{Ref: inventory.NewRef("SalesOrder", id), Actor: "oms"}
}

// testClock is a settable engine clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher keeps every published event and can be told to fail.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) inventoryEvents() []*inventory.InventoryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*inventory.InventoryEvent, 0, len(p.events))
	for _, e := range p.events {
		if ie, ok := e.(*inventory.InventoryEvent); ok {
			out = append(out, ie)
		}
	}
	return out
}

func (p *recordingPublisher) types() []string {
	var out []string
	for _, e := range p.inventoryEvents() {
		out = append(out, e.EventType())
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// recordingMetrics counts what the engine reports.
type recordingMetrics struct {
	mu              sync.Mutex
	outcomes        map[string][]string
	retries         []string
	expired         int
	publishFailures int
}

func (m *recordingMetrics) ObserveOperation(_ context.Context, op, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string][]string)
	}
	m.outcomes[op] = append(m.outcomes[op], outcome)
}

func (m *recordingMetrics) RecordRetry(_ context.Context, _ string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = append(m.retries, reason)
}

func (m *recordingMetrics) RecordExpired(_ context.Context, count int, _ decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired += count
}

func (m *recordingMetrics) RecordPublishFailure(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishFailures++
}

func (m *recordingMetrics) outcomesOf(op string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.outcomes[op]...)
}

type fixture struct {
	db        *persistence.Database
	scope     *persistence.GormTransactionScope
	engine    *appinv.Engine
	clock     *testClock
	publisher *recordingPublisher
	metrics   *recordingMetrics
}

// testEngineConfig keeps the production deadlines but shortens the retry
// waits.
func testEngineConfig() appinv.EngineConfig {
	cfg := appinv.DefaultEngineConfig()
	cfg.DeadlockBackoff = time.Millisecond
	cfg.ConflictBackoff = time.Millisecond
	return cfg
}

// newFixture returns an engine over a private, migrated in-memory SQLite
// database. A single connection keeps every statement on the same database
// and serializes transactions the way row locks would.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := persistence.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), persistence.DatabaseOptions{LogLevel: "silent"})
	require.NoError(t, err)
	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	scope, err := persistence.NewGormTransactionScope(db.DB, persistence.TransactionOptions{})
	require.NoError(t, err)

	f := &fixture{
		db:        db,
		scope:     scope,
		clock:     &testClock{now: baseTime},
		publisher: &recordingPublisher{},
		metrics:   &recordingMetrics{},
	}
	f.engine = appinv.NewEngine(scope, f.publisher, f.metrics, zap.NewNop(), testEngineConfig())
	f.engine.SetClock(f.clock.Now)
	return f
}

func (f *fixture) receive(t *testing.T, item, location, quantity string) {
	t.Helper()
	_, err := f.engine.Receive(context.Background(), appinv.ReceiveCommand{
		Envelope:   appinv.Envelope{Ref: inventory.NewRef("PurchaseOrder", "PO-seed"), Actor: "wms"},
		ItemID:     item,
		LocationID: location,
		Quantity:   dec(quantity),
	})
	require.NoError(t, err)
}

func (f *fixture) reserve(t *testing.T, orderID, item, location, quantity string) *appinv.ReserveResult {
	t.Helper()
	res, err := f.engine.Reserve(context.Background(), appinv.ReserveCommand{
		Envelope: salesOrder(orderID),
		Requests: []appinv.ReserveRequest{{ItemID: item, LocationID: location, Quantity: dec(quantity)}},
	})
	require.NoError(t, err)
	return res
}

// balance reads the stored row, failing when the cell was never written.
func (f *fixture) balance(t *testing.T, item, location string) *inventory.Balance {
	t.Helper()
	b, err := f.scope.Reader().Balances().Get(context.Background(), cell(item, location))
	require.NoError(t, err)
	return b
}

func (f *fixture) assertBalance(t *testing.T, item, location, onHand, allocated string) {
	t.Helper()
	b := f.balance(t, item, location)
	assert.True(t, dec(onHand).Equal(b.OnHand), "%s@%s on_hand: got %s want %s", item, location, b.OnHand, onHand)
	assert.True(t, dec(allocated).Equal(b.Allocated), "%s@%s allocated: got %s want %s", item, location, b.Allocated, allocated)
	assert.True(t, b.OnHand.Sub(b.Allocated).Equal(b.Available), "%s@%s available is derived", item, location)
}

// assertConsistent checks, for each cell, that the stored balance is valid,
// that allocated equals the sum of Active reservations, and that replaying
// the journal from zero reproduces the balance.
func (f *fixture) assertConsistent(t *testing.T, cells ...inventory.Cell) {
	t.Helper()
	ctx := context.Background()
	repos := f.scope.Reader()
	for _, c := range cells {
		b, err := repos.Balances().Get(ctx, c)
		require.NoError(t, err, c.String())
		require.NoError(t, b.Validate(), c.String())

		active, err := repos.Reservations().SumActive(ctx, c)
		require.NoError(t, err)
		assert.True(t, active.Equal(b.Allocated), "%s: allocated %s, active reservations %s", c, b.Allocated, active)

		entries, err := repos.Journal().ListByCell(ctx, c, 0)
		require.NoError(t, err)
		onHand, allocated := decimal.Zero, decimal.Zero
		var prev *inventory.InventoryTransaction
		for i := range entries {
			e := &entries[i]
			if prev != nil {
				assert.True(t, e.Follows(prev), "%s: entry %d does not follow %d", c, e.ID, prev.ID)
				assert.Greater(t, e.BalanceVersion, prev.BalanceVersion)
			}
			onHand = onHand.Add(e.OnHandDelta())
			allocated = allocated.Add(e.AllocatedDelta())
			prev = e
		}
		assert.True(t, onHand.Equal(b.OnHand), "%s: journal on_hand %s, balance %s", c, onHand, b.OnHand)
		assert.True(t, allocated.Equal(b.Allocated), "%s: journal allocated %s, balance %s", c, allocated, b.Allocated)
		if prev != nil {
			assert.Equal(t, b.Version, prev.BalanceVersion, "%s: last entry carries the balance version", c)
		}
	}
}
