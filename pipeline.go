package flow

import (
	"context"
	"time"
)

// FailurePolicy controls how a pipeline reacts to an abandoned job.
type FailurePolicy int

const (
	// FailFast cancels all not-yet-started jobs in the same and
	// dependent stages as soon as one job is abandoned.
	FailFast FailurePolicy = iota

	// ContinueOnFailure lets stages without a dependency on the failed
	// one proceed; the pipeline still ends Failed.
	ContinueOnFailure
)

func (p FailurePolicy) String() string {
	switch p {
	case FailFast:
		return "fail_fast"
	case ContinueOnFailure:
		return "continue"
	default:
		return "unknown"
	}
}

// StageState is the lifecycle state of a stage inside a running pipeline.
type StageState int

const (
	// StageBlocked means at least one predecessor is not yet settled.
	StageBlocked StageState = iota

	// StageReady means all predecessors settled and the stage's jobs
	// are about to be released to the queue.
	StageReady

	// StageRunning means the stage's jobs are queued or executing.
	StageRunning

	// StageSucceeded is terminal: every job succeeded (or the stage is
	// best-effort and every job settled).
	StageSucceeded

	// StageFailed is terminal: a job was abandoned.
	StageFailed

	// StageCanceled is terminal: the stage never ran because the
	// pipeline was canceled or failed fast.
	StageCanceled
)

func (s StageState) String() string {
	switch s {
	case StageBlocked:
		return "blocked"
	case StageReady:
		return "ready"
	case StageRunning:
		return "running"
	case StageSucceeded:
		return "succeeded"
	case StageFailed:
		return "failed"
	case StageCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the stage has settled.
func (s StageState) Terminal() bool {
	switch s {
	case StageSucceeded, StageFailed, StageCanceled:
		return true
	default:
		return false
	}
}

// PipelineState is the overall state of a submitted pipeline.
type PipelineState int

const (
	PipelinePending PipelineState = iota
	PipelineRunning
	PipelineSucceeded
	PipelineFailed
	PipelineCanceled
)

func (s PipelineState) String() string {
	switch s {
	case PipelinePending:
		return "pending"
	case PipelineRunning:
		return "running"
	case PipelineSucceeded:
		return "succeeded"
	case PipelineFailed:
		return "failed"
	case PipelineCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the pipeline has settled. A terminal pipeline
// never transitions again.
func (s PipelineState) Terminal() bool {
	switch s {
	case PipelineSucceeded, PipelineFailed, PipelineCanceled:
		return true
	default:
		return false
	}
}

// stage groups jobs and carries dependency edges to other stages.
type stage struct {
	name       string
	pipeline   *pipeline
	deps       []int // indices into pipeline.stages
	bestEffort bool

	jobs  []*job
	state StageState

	// settled counts jobs in a terminal state; abandoned and canceled
	// count the terminal subsets that decide the stage outcome.
	settled   int
	abandoned int
	canceled  int
}

// succeededForDeps reports whether the stage unblocks its dependents
// under the given policy.
func (s *stage) succeededForDeps(policy FailurePolicy) bool {
	if policy == ContinueOnFailure {
		return s.state.Terminal()
	}
	return s.state == StageSucceeded
}

// pipeline is the runtime representation of one submitted pipeline.
// All fields are owned by the orchestrator loop; done is closed exactly
// once when the pipeline settles.
type pipeline struct {
	id        string
	name      string
	policy    FailurePolicy
	createdAt time.Time

	stages []*stage
	state  PipelineState

	// ctx is canceled on Cancel and on fail-fast propagation; it is the
	// cooperative abort signal handed to running jobs.
	ctx    context.Context
	cancel context.CancelFunc

	// failing is set once an abandoned job doomed the pipeline; the
	// terminal transition waits for in-flight jobs to settle.
	failing  bool
	canceled bool

	done chan struct{}
}

// settled reports whether every stage reached a terminal state. Stages
// with jobs still out at workers stay non-terminal, so a settled
// pipeline has nothing in flight.
func (p *pipeline) settled() bool {
	for _, s := range p.stages {
		if !s.state.Terminal() {
			return false
		}
	}
	return true
}

// allStagesSucceeded reports whether every stage settled as Succeeded.
// It is the only condition under which the pipeline itself succeeds; a
// Failed or Canceled stage on a pipeline that is neither failing nor
// canceled still makes the outcome Failed.
func (p *pipeline) allStagesSucceeded() bool {
	for _, s := range p.stages {
		if s.state != StageSucceeded {
			return false
		}
	}
	return true
}

// StageStatus is a point-in-time snapshot of one stage.
type StageStatus struct {
	Name      string      `json:"name"`
	State     string      `json:"state"`
	DependsOn []string    `json:"depends_on,omitempty"`
	Jobs      []JobStatus `json:"jobs"`
}

// PipelineStatus is the fully determined snapshot returned by Status
// and Await. It never exposes partially applied transitions.
type PipelineStatus struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	State     string        `json:"state"`
	Policy    string        `json:"policy"`
	CreatedAt time.Time     `json:"created_at"`
	Stages    []StageStatus `json:"stages"`
}

// Terminal reports whether the snapshot describes a settled pipeline.
func (s PipelineStatus) Terminal() bool {
	switch s.State {
	case PipelineSucceeded.String(), PipelineFailed.String(), PipelineCanceled.String():
		return true
	default:
		return false
	}
}

func (p *pipeline) snapshot() PipelineStatus {
	ps := PipelineStatus{
		ID:        p.id,
		Name:      p.name,
		State:     p.state.String(),
		Policy:    p.policy.String(),
		CreatedAt: p.createdAt,
		Stages:    make([]StageStatus, 0, len(p.stages)),
	}
	for _, s := range p.stages {
		ss := StageStatus{
			Name:  s.name,
			State: s.state.String(),
			Jobs:  make([]JobStatus, 0, len(s.jobs)),
		}
		for _, d := range s.deps {
			ss.DependsOn = append(ss.DependsOn, p.stages[d].name)
		}
		for _, j := range s.jobs {
			ss.Jobs = append(ss.Jobs, j.snapshot())
		}
		ps.Stages = append(ps.Stages, ss)
	}
	return ps
}
