package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	appinv "github.com/erp/inventory-core/internal/application/inventory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Validation(t *testing.T) {
	job := JobFunc{JobName: "a", Fn: func(context.Context) error { return nil }}

	_, err := New(zap.NewNop(), Schedule{Job: job})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(zap.NewNop(), Schedule{Job: job, Interval: time.Second}, Schedule{Job: job, Interval: time.Second})
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestScheduler_RunsOnStartAndTrigger(t *testing.T) {
	var runs atomic.Int32
	job := JobFunc{JobName: "count", Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}
	s, err := New(zap.NewNop(), Schedule{Job: job, Interval: time.Hour, RunOnStart: true})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Trigger("count"), ErrSchedulerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Trigger("count"))
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Trigger("missing"), ErrJobNotFound)

	require.NoError(t, s.Stop(context.Background()))
	run, err := s.Status("count")
	require.NoError(t, err)
	assert.Equal(t, JobStatusSuccess, run.Status)
	assert.Equal(t, int64(2), run.Runs)
}

func TestScheduler_RecordsFailuresAndPanics(t *testing.T) {
	var calls atomic.Int32
	job := JobFunc{JobName: "flaky", Fn: func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("db down")
		}
		panic("nil map")
	}}
	s, err := New(zap.NewNop(), Schedule{Job: job, Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool {
		run, _ := s.Status("flaky")
		return run.Failures >= 2
	}, 2*time.Second, 5*time.Millisecond)

	run, _ := s.Status("flaky")
	assert.Equal(t, JobStatusFailed, run.Status)
	assert.Contains(t, run.LastError, "panicked")
}

func TestScheduler_TimeoutCancelsRun(t *testing.T) {
	done := make(chan error, 1)
	job := JobFunc{JobName: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}}
	s, err := New(zap.NewNop(), Schedule{Job: job, Interval: time.Hour, Timeout: 20 * time.Millisecond, RunOnStart: true})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("job was not cancelled")
	}
}

type fakeSweeper struct {
	batches []*appinv.ExpiredReservationStats
	calls   int
}

func (f *fakeSweeper) ExpireOverdue(context.Context) (*appinv.ExpiredReservationStats, error) {
	if f.calls >= len(f.batches) {
		return &appinv.ExpiredReservationStats{QuantityReleased: decimal.Zero}, nil
	}
	b := f.batches[f.calls]
	f.calls++
	return b, nil
}

func TestSweeperJob_DrainsFullBatches(t *testing.T) {
	sweeper := &fakeSweeper{batches: []*appinv.ExpiredReservationStats{
		{CellsScanned: 2, ReservationsExpired: 3},
		{CellsScanned: 2, ReservationsExpired: 2},
		{CellsScanned: 1, ReservationsExpired: 1},
	}}
	job := NewSweeperJob(sweeper, 2, zap.NewNop())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, sweeper.calls)
	assert.Equal(t, JobReservationSweeper, job.Name())
}

func TestSweeperJob_StopsOnFailedCells(t *testing.T) {
	sweeper := &fakeSweeper{batches: []*appinv.ExpiredReservationStats{
		{CellsScanned: 2, FailedCells: 1},
		{CellsScanned: 2},
	}}
	require.NoError(t, NewSweeperJob(sweeper, 2, zap.NewNop()).Run(context.Background()))
	assert.Equal(t, 1, sweeper.calls)
}

type fakeReplayer struct {
	entries []int
	calls   int
	err     error
}

func (f *fakeReplayer) ReplayOnce(context.Context) (*appinv.ReplayStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := 0
	if f.calls < len(f.entries) {
		n = f.entries[f.calls]
	}
	f.calls++
	return &appinv.ReplayStats{Entries: n, Events: n, Checkpoint: int64(f.calls * 10)}, nil
}

func TestReconcilerJob(t *testing.T) {
	r := &fakeReplayer{entries: []int{5, 5, 3}}
	job := NewReconcilerJob(r, 5, zap.NewNop())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, r.calls)
	assert.Equal(t, JobJournalReconciler, job.Name())

	failing := NewReconcilerJob(&fakeReplayer{err: errors.New("kafka down")}, 5, zap.NewNop())
	assert.ErrorContains(t, failing.Run(context.Background()), "kafka down")
}
