package flow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Executor is the capability a caller supplies per job. The orchestrator
// invokes it with a context carrying the pipeline's cancellation signal
// and the job's deadline; implementations are expected to honor it.
type Executor interface {
	Execute(ctx context.Context) error
}

// ExecFunc adapts a plain function to the Executor interface.
type ExecFunc func(ctx context.Context) error

func (f ExecFunc) Execute(ctx context.Context) error { return f(ctx) }

// timeBound decorates an Executor with a bounded timeout. The inner
// capability runs in its own goroutine so a wedged one cannot block the
// worker past the deadline; its result is discarded once abandoned.
type timeBound struct {
	exec    Executor
	timeout time.Duration
}

func (t timeBound) Execute(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("executor panicked: %v", r)
			}
		}()
		done <- t.exec.Execute(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() != nil {
			// The capability surfaced the context error itself.
			return ctx.Err()
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify maps an execution error onto the retry taxonomy: deadline
// overruns are timeouts, context cancellation is final, everything else
// counts as an execution failure.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindExecution
	}
}
