package flow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeBoundPassesThroughSuccess(t *testing.T) {
	tb := timeBound{
		exec:    ExecFunc(func(ctx context.Context) error { return nil }),
		timeout: time.Second,
	}
	if err := tb.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestTimeBoundPassesThroughFailure(t *testing.T) {
	boom := errors.New("boom")
	tb := timeBound{
		exec:    ExecFunc(func(ctx context.Context) error { return boom }),
		timeout: time.Second,
	}
	if err := tb.Execute(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Execute = %v; want boom", err)
	}
}

func TestTimeBoundDeadline(t *testing.T) {
	tb := timeBound{
		exec: ExecFunc(func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
				return nil
			}
		}),
		timeout: 20 * time.Millisecond,
	}

	start := time.Now()
	err := tb.Execute(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute = %v; want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Execute blocked %v past its deadline", elapsed)
	}
}

func TestTimeBoundAbandonsWedgedCapability(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// The capability ignores its context entirely; the decorator must
	// still return at the deadline.
	tb := timeBound{
		exec: ExecFunc(func(ctx context.Context) error {
			<-release
			return nil
		}),
		timeout: 20 * time.Millisecond,
	}

	done := make(chan error, 1)
	go func() { done <- tb.Execute(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Execute = %v; want deadline exceeded", err)
		}
	case <-time.After(time.Second):
		t.Fatal("decorator did not abandon the wedged capability")
	}
}

func TestTimeBoundParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	tb := timeBound{
		exec: ExecFunc(func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}),
		timeout: time.Minute,
	}

	done := make(chan error, 1)
	go func() { done <- tb.Execute(ctx) }()

	<-started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Execute = %v; want canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancellation did not propagate")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{context.Canceled, KindCanceled},
		{errors.New("boom"), KindExecution},
	}
	for _, tc := range tests {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("classify(%v) = %v; want %v", tc.err, got, tc.want)
		}
	}
}
