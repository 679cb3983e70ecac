package flow

import (
	"context"
	"time"
)

// JobState is the lifecycle state of a single job. Transitions are owned
// exclusively by the orchestrator's event loop.
type JobState int

const (
	// JobPending means the job exists but its stage has not released it.
	JobPending JobState = iota

	// JobQueued means the job sits in the priority queue (or is waiting
	// out a retry backoff before re-entering it).
	JobQueued

	// JobRunning means a worker currently executes the job.
	JobRunning

	// JobSucceeded is terminal.
	JobSucceeded

	// JobFailed is a transient state between a failed attempt and the
	// scheduled retry.
	JobFailed

	// JobAbandoned is terminal: retries are exhausted.
	JobAbandoned

	// JobCanceled is terminal: the job was skipped or aborted due to
	// pipeline cancellation or fail-fast propagation.
	JobCanceled
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobQueued:
		return "queued"
	case JobRunning:
		return "running"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	case JobAbandoned:
		return "abandoned"
	case JobCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state has no outgoing transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobAbandoned, JobCanceled:
		return true
	default:
		return false
	}
}

// job is the runtime representation of one schedulable unit of work.
// It is created when its owning stage is activated and mutated only by
// the orchestrator loop; workers see it through a workItem reference.
type job struct {
	id    string
	name  string
	stage *stage

	run        Executor
	priority   int
	timeout    time.Duration
	maxRetries int
	backoff    *BackoffPolicy

	// attempt counts finished tries. 0 until the first try completes.
	attempt int
	state   JobState
	err     *JobError
}

// workItem is a queue entry wrapping a job with its ordering key. The
// queue orders by (priority, seq) and never touches job state.
type workItem struct {
	job      *job
	priority int
	seq      uint64

	// ctx carries the owning pipeline's cancellation signal into the
	// worker that executes the job.
	ctx context.Context

	// index is maintained by container/heap.
	index int
}

// JobStatus is a point-in-time snapshot of one job, as reported by
// Status and Await.
type JobStatus struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

func (j *job) snapshot() JobStatus {
	s := JobStatus{
		ID:      j.id,
		Name:    j.name,
		State:   j.state.String(),
		Attempt: j.attempt,
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}
