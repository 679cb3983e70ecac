package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a submitted pipeline or job
	// carries malformed configuration (negative priority, zero timeout,
	// backoff attempt below 1, and so on).
	ErrInvalidArgument = errors.New("flow: invalid argument")

	// ErrCyclicDependency is returned by Submit when the stage
	// dependency graph contains a cycle.
	ErrCyclicDependency = errors.New("flow: cyclic stage dependency")

	// ErrEmptyQueue is returned by queue Pop/Peek when no items remain.
	// It is internal to the scheduling loop and never surfaced to callers.
	ErrEmptyQueue = errors.New("flow: queue is empty")

	// ErrUnknownPipeline is returned when the given pipeline id is not
	// registered or has already been evicted.
	ErrUnknownPipeline = errors.New("flow: unknown pipeline")

	// ErrClosed is returned when an operation is attempted on a
	// stopped orchestrator.
	ErrClosed = errors.New("flow: orchestrator closed")
)

// ErrorKind classifies the failure of a single job execution.
type ErrorKind int

const (
	// KindExecution means the job's capability returned an error.
	KindExecution ErrorKind = iota

	// KindTimeout means the job exceeded its per-job timeout.
	KindTimeout

	// KindCanceled means the job was canceled before or during execution.
	KindCanceled

	// KindAbandoned means the job exhausted its retries. Terminal.
	KindAbandoned
)

func (k ErrorKind) String() string {
	switch k {
	case KindExecution:
		return "execution"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// JobError wraps the outcome of a failed job execution together with its
// classification. The orchestrator uses Kind to decide between retry,
// abandon, and cancel paths.
type JobError struct {
	Kind ErrorKind
	Job  string
	Err  error
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("job %s: %s", e.Job, e.Kind)
	}
	return fmt.Sprintf("job %s: %s: %v", e.Job, e.Kind, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure may be retried by the
// orchestrator. Cancellation and abandonment are final.
func (e *JobError) IsRetryable() bool {
	return e.Kind == KindExecution || e.Kind == KindTimeout
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
