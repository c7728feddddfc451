package inventory

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Executor runs one command.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (Result, error)
}

// Outcome is the result or error of one command in a batch.
type Outcome struct {
	Result Result
	Err    error
}

// Dispatcher runs independent commands on a fixed pool of workers. Commands
// share nothing but the database, so their relative order is not defined;
// commands on the same cell serialize on its row lock.
type Dispatcher struct {
	executor Executor
	workers  int
}

// NewDispatcher creates a Dispatcher with the given pool size.
func NewDispatcher(executor Executor, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{executor: executor, workers: workers}
}

// ExecuteBatch runs cmds and returns their outcomes in input order. A failed
// command does not stop the others.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, cmds []Command) []Outcome {
	outcomes := make([]Outcome, len(cmds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, cmd := range cmds {
		g.Go(func() error {
			res, err := d.executor.Execute(gctx, cmd)
			outcomes[i] = Outcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
