package flow

import (
	"sync/atomic"
)

// MetricsPolicy defines hooks used by the orchestrator and worker pool
// to report scheduling and execution activity.
//
// Implementations must be safe for concurrent use. All methods are
// expected to be lightweight and non-blocking.
type MetricsPolicy interface {

	// IncSubmitted increments the admitted pipelines counter.
	IncSubmitted()

	// IncExecuted increments the executed job attempts counter.
	IncExecuted()

	// IncRetried increments the scheduled retries counter.
	IncRetried()

	// IncAbandoned increments the abandoned jobs counter.
	IncAbandoned()

	// SetQueueDepth records the current number of queued jobs.
	SetQueueDepth(n int)
}

// AtomicMetrics is a lock-free metrics implementation backed by atomics.
//
// Writes are optimized for hot paths.
// Reads are intended for cold-path observation.
type AtomicMetrics struct {
	submitted atomic.Uint64
	executed  atomic.Uint64
	retried   atomic.Uint64
	abandoned atomic.Uint64

	_ [32]byte // padding to avoid false sharing

	queueDepth atomic.Int64
}

// Submitted returns the total number of admitted pipelines.
func (m *AtomicMetrics) Submitted() uint64 { return m.submitted.Load() }

// Executed returns the total number of executed job attempts.
func (m *AtomicMetrics) Executed() uint64 { return m.executed.Load() }

// Retried returns the total number of scheduled retries.
func (m *AtomicMetrics) Retried() uint64 { return m.retried.Load() }

// Abandoned returns the total number of abandoned jobs.
func (m *AtomicMetrics) Abandoned() uint64 { return m.abandoned.Load() }

// QueueDepth returns the last recorded queue depth.
func (m *AtomicMetrics) QueueDepth() int64 { return m.queueDepth.Load() }

func (m *AtomicMetrics) IncSubmitted()       { m.submitted.Add(1) }
func (m *AtomicMetrics) IncExecuted()        { m.executed.Add(1) }
func (m *AtomicMetrics) IncRetried()         { m.retried.Add(1) }
func (m *AtomicMetrics) IncAbandoned()       { m.abandoned.Add(1) }
func (m *AtomicMetrics) SetQueueDepth(n int) { m.queueDepth.Store(int64(n)) }

//------------- NoopMetrics ----------------------------------

// NoopMetrics is a MetricsPolicy implementation that discards
// all metric updates.
type NoopMetrics struct{}

func (m *NoopMetrics) IncSubmitted()       {}
func (m *NoopMetrics) IncExecuted()        {}
func (m *NoopMetrics) IncRetried()         {}
func (m *NoopMetrics) IncAbandoned()       {}
func (m *NoopMetrics) SetQueueDepth(n int) {}
