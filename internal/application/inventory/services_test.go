package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	appinv "github.com/erp/inventory-core/internal/application/inventory"
	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/erp/inventory-core/internal/infrastructure/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyScope fails the first attempts before reaching the database.
type flakyScope struct {
	appinv.TransactionScope
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (s *flakyScope) Execute(ctx context.Context, fn func(repos appinv.TransactionalRepositories) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return s.err
	}
	return s.TransactionScope.Execute(ctx, fn)
}

// stuckScope never gets a connection.
type stuckScope struct {
	appinv.TransactionScope
}

func (stuckScope) Execute(ctx context.Context, _ func(repos appinv.TransactionalRepositories) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEngine_RetriesDeadlocks(t *testing.T) {
	f := newFixture(t)
	scope := &flakyScope{TransactionScope: f.scope, failures: 2, err: shared.ErrDeadlock}
	engine := appinv.NewEngine(scope, f.publisher, f.metrics, zap.NewNop(), testEngineConfig())

	_, err := engine.Receive(context.Background(), appinv.ReceiveCommand{ItemID: "A", LocationID: "L1", Quantity: dec("5")})
	require.NoError(t, err)
	assert.Equal(t, 3, scope.calls)
	assert.Equal(t, []string{"deadlock", "deadlock"}, f.metrics.retries)
	f.assertBalance(t, "A", "L1", "5", "0")
	assert.Len(t, f.publisher.types(), 1, "only the committed attempt is published")
}

func TestEngine_SurfacesExhaustedRetries(t *testing.T) {
	f := newFixture(t)
	scope := &flakyScope{TransactionScope: f.scope, failures: 100, err: shared.ErrDeadlock}
	engine := appinv.NewEngine(scope, f.publisher, f.metrics, zap.NewNop(), testEngineConfig())

	_, err := engine.Receive(context.Background(), appinv.ReceiveCommand{ItemID: "A", LocationID: "L1", Quantity: dec("5")})
	var conflict *inventory.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 4, scope.calls)
	assert.Equal(t, shared.CodeConflict, shared.CodeOf(err))
	assert.Equal(t, []string{shared.CodeConflict}, f.metrics.outcomesOf(appinv.OpReceive))

	_, err = f.scope.Reader().Balances().Get(context.Background(), cell("A", "L1"))
	assert.Equal(t, shared.CodeNotFound, shared.CodeOf(err))
}

func TestEngine_Timeout(t *testing.T) {
	f := newFixture(t)
	cfg := testEngineConfig()
	cfg.SingleCellTimeout = 20 * time.Millisecond
	engine := appinv.NewEngine(stuckScope{f.scope}, f.publisher, f.metrics, zap.NewNop(), cfg)

	_, err := engine.Adjust(context.Background(), appinv.AdjustCommand{ItemID: "A", LocationID: "L1", Delta: dec("1")})
	var timeout *inventory.TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, shared.CodeTimeout, shared.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_ConcurrentReservationsNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "L1", "10")

	cmds := make([]appinv.Command, 20)
	for i := range cmds {
		cmds[i] = appinv.ReserveCommand{
			Envelope: salesOrder(fmt.Sprintf("SO-%02d", i)),
			Requests: []appinv.ReserveRequest{{ItemID: "A", LocationID: "L1", Quantity: dec("1")}},
		}
	}
	outcomes := appinv.NewDispatcher(f.engine, 8).ExecuteBatch(context.Background(), cmds)

	succeeded := 0
	for _, o := range outcomes {
		if o.Err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, shared.CodeInsufficientAvailability, shared.CodeOf(o.Err))
	}
	assert.Equal(t, 10, succeeded)
	f.assertBalance(t, "A", "L1", "10", "10")
	f.assertConsistent(t, cell("A", "L1"))
}

func TestDispatcher_OpposingTransfers(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "A", "L1", "50")
	f.receive(t, "A", "L2", "50")

	var cmds []appinv.Command
	for i := 0; i < 10; i++ {
		src, dst := "L1", "L2"
		if i%2 == 1 {
			src, dst = dst, src
		}
		cmds = append(cmds, appinv.TransferCommand{ItemID: "A", Source: src, Destination: dst, Quantity: dec("3")})
	}
	for _, o := range appinv.NewDispatcher(f.engine, 4).ExecuteBatch(context.Background(), cmds) {
		require.NoError(t, o.Err)
	}
	f.assertBalance(t, "A", "L1", "50", "0")
	f.assertBalance(t, "A", "L2", "50", "0")
	f.assertConsistent(t, cell("A", "L1"), cell("A", "L2"))
}

// TestEngine_RandomWorkloadKeepsInvariants drives a seeded mix of every
// mutating operation and checks the balances, the ledger and the journal
// against each other afterwards.
func TestEngine_RandomWorkloadKeepsInvariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	items := []string{"A", "B"}
	locations := []string{"L1", "L2"}
	var cells []inventory.Cell
	for _, it := range items {
		for _, loc := range locations {
			cells = append(cells, cell(it, loc))
			f.receive(t, it, loc, "20")
		}
	}
	otherLocation := map[string]string{"L1": "L2", "L2": "L1"}
	pick := func(s []string) string { return s[rng.IntN(len(s))] }
	qty := func() string { return fmt.Sprintf("%d.%d", 1+rng.IntN(6), rng.IntN(10)) }

	for i := 0; i < 150; i++ {
		order := fmt.Sprintf("SO-%d", rng.IntN(12))
		item, loc := pick(items), pick(locations)
		var err error
		switch rng.IntN(8) {
		case 0:
			_, err = f.engine.Reserve(ctx, appinv.ReserveCommand{
				Envelope: salesOrder(order),
				Mode:     appinv.Mode(rng.IntN(2)),
				Requests: []appinv.ReserveRequest{{ItemID: item, LocationID: loc, Quantity: dec(qty())}},
			})
		case 1:
			_, err = f.engine.Release(ctx, appinv.ReleaseCommand{Envelope: salesOrder(order)})
		case 2:
			_, err = f.engine.Consume(ctx, appinv.ConsumeCommand{Envelope: salesOrder(order), Quantity: dec("1")})
		case 3:
			_, err = f.engine.Receive(ctx, appinv.ReceiveCommand{ItemID: item, LocationID: loc, Quantity: dec(qty())})
		case 4:
			delta := dec(qty())
			if rng.IntN(2) == 0 {
				delta = delta.Neg()
			}
			_, err = f.engine.Adjust(ctx, appinv.AdjustCommand{ItemID: item, LocationID: loc, Delta: delta})
		case 5:
			_, err = f.engine.Transfer(ctx, appinv.TransferCommand{
				ItemID: item, Source: loc, Destination: otherLocation[loc], Quantity: dec(qty()),
			})
		case 6:
			_, err = f.engine.Issue(ctx, appinv.IssueCommand{ItemID: item, LocationID: loc, Quantity: dec(qty()), Mode: appinv.ModeBestEffort})
		case 7:
			_, err = f.engine.Return(ctx, appinv.ReturnCommand{Envelope: salesOrder(order), ItemID: item, LocationID: loc, Quantity: dec(qty())})
		}
		if err != nil {
			require.True(t, shared.IsBusinessError(err), "step %d: unexpected %v", i, err)
		}
		if i%10 == 0 {
			f.clock.Advance(time.Minute)
		}
	}
	f.assertConsistent(t, cells...)
}

func TestReservationExpirationService_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// the sweeper reads the wall clock, so the engine runs two hours behind it
	start := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
	f.clock.Set(start)
	f.receive(t, "A", "L1", "10")
	f.receive(t, "B", "L2", "10")

	deadline := start.Add(time.Hour)
	for _, c := range []inventory.Cell{cell("A", "L1"), cell("B", "L2")} {
		_, err := f.engine.Reserve(ctx, appinv.ReserveCommand{
			Envelope:  salesOrder("SO-" + c.ItemID),
			Requests:  []appinv.ReserveRequest{{ItemID: c.ItemID, LocationID: c.LocationID, Quantity: dec("4")}},
			ExpiresAt: &deadline,
		})
		require.NoError(t, err)
	}
	f.reserve(t, "SO-open", "A", "L1", "1")
	f.clock.Set(time.Now().UTC())

	sweeper := appinv.NewReservationExpirationService(f.scope, f.engine, zap.NewNop(), 10)
	stats, err := sweeper.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CellsScanned)
	assert.Equal(t, 2, stats.ReservationsExpired)
	assert.True(t, dec("8").Equal(stats.QuantityReleased))
	f.assertBalance(t, "A", "L1", "10", "1")
	f.assertBalance(t, "B", "L2", "10", "0")

	again, err := sweeper.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.CellsScanned)
	f.assertConsistent(t, cell("A", "L1"), cell("B", "L2"))
}

func TestJournalReplayService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.Set(time.Now().UTC().Add(-time.Hour))

	f.receive(t, "A", "L1", "10")
	f.reserve(t, "SO-1", "A", "L1", "4")
	published := f.publisher.inventoryEvents()
	require.Len(t, published, 2)

	downstream := &recordingPublisher{}
	checkpoints := persistence.NewGormCheckpointStore(f.db.DB)
	replay := appinv.NewJournalReplayService(f.scope, checkpoints, downstream, zap.NewNop(), appinv.JournalReplayConfig{Name: "kafka"})

	stats, err := replay.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 2, stats.Events)
	assert.Equal(t, int64(2), stats.Checkpoint)

	replayed := downstream.inventoryEvents()
	require.Len(t, replayed, 2)
	for i := range published {
		assert.Equal(t, published[i].EventID(), replayed[i].EventID(), "rebuilt events keep their identity")
	}

	idle, err := replay.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, idle.Entries)
	assert.Equal(t, int64(2), idle.Checkpoint)

	t.Run("failed publish keeps the checkpoint", func(t *testing.T) {
		f.receive(t, "A", "L1", "1")
		downstream.err = errors.New("broker unavailable")
		_, err := replay.ReplayOnce(ctx)
		require.Error(t, err)
		last, err := checkpoints.Load(ctx, "kafka")
		require.NoError(t, err)
		assert.Equal(t, int64(2), last)

		downstream.err = nil
		stats, err := replay.ReplayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Events)
		assert.Equal(t, int64(3), stats.Checkpoint)
	})
}

func TestJournalReplayService_LateCommitBelowCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// the second receipt carries a later stamp than the third, as when a
	// slow transaction inserts first and commits last
	f.clock.Set(baseTime)
	f.receive(t, "A", "L1", "1")
	f.clock.Set(baseTime.Add(100 * time.Second))
	f.receive(t, "B", "L1", "1")
	f.clock.Set(baseTime)
	f.receive(t, "C", "L1", "1")

	downstream := &recordingPublisher{}
	replay := appinv.NewJournalReplayService(f.scope, persistence.NewGormCheckpointStore(f.db.DB), downstream, zap.NewNop(),
		appinv.JournalReplayConfig{Name: "late", Lag: 150 * time.Second})
	now := baseTime.Add(200 * time.Second)
	replay.SetClock(func() time.Time { return now })

	first, err := replay.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Events)
	assert.Equal(t, int64(1), first.Checkpoint, "the checkpoint waits behind the entry inside the lag")

	idle, err := replay.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, idle.Entries)
	assert.Equal(t, int64(1), idle.Checkpoint)

	now = baseTime.Add(300 * time.Second)
	second, err := replay.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Events)
	assert.Equal(t, int64(3), second.Checkpoint)

	var items []string
	for _, ev := range downstream.inventoryEvents() {
		items = append(items, ev.ItemID)
	}
	assert.Equal(t, []string{"A", "B", "C"}, items, "every receipt is published exactly once")
}

func TestJournalReplayService_OperationSplitAcrossBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.Set(time.Now().UTC().Add(-time.Hour))

	f.receive(t, "A", "L1", "10")
	_, err := f.engine.Transfer(ctx, appinv.TransferCommand{ItemID: "A", Source: "L1", Destination: "L2", Quantity: dec("4")})
	require.NoError(t, err)

	downstream := &recordingPublisher{}
	replay := appinv.NewJournalReplayService(f.scope, persistence.NewGormCheckpointStore(f.db.DB), downstream, zap.NewNop(),
		appinv.JournalReplayConfig{Name: "split", BatchSize: 2})

	first, err := replay.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Events, "the transfer is published whole")
	assert.Equal(t, int64(2), first.Checkpoint)

	second, err := replay.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Entries)
	assert.Zero(t, second.Events, "the transfer's second leg was already published")
	assert.Equal(t, int64(3), second.Checkpoint)

	assert.Equal(t, []string{inventory.EventTypeInventoryReceived, inventory.EventTypeInventoryTransferred}, downstream.types())
}
