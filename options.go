package flow

import (
	"runtime"
	"time"
)

const (
	// DefaultMaxConcurrency bounds the worker count when none is given.
	DefaultMaxConcurrency = 64

	// DefaultRetention is how long a settled pipeline stays queryable
	// before eviction.
	DefaultRetention = time.Hour
)

// Options configure an Orchestrator.
//
// All zero values are replaced with sensible defaults in FillDefaults.
type Options struct {
	// Workers is the pool size. Defaults to GOMAXPROCS.
	Workers int

	// MaxConcurrency caps Workers.
	MaxConcurrency int

	// Retention is how long settled pipelines remain queryable.
	// Negative disables eviction entirely.
	Retention time.Duration

	// Less overrides the queue ordering. Defaults to ascending
	// (priority, sequence), i.e. lower value means more urgent.
	Less LessFunc

	// Metrics receives scheduling and execution counters.
	Metrics MetricsPolicy

	// OnJobError is called for every failed job attempt.
	OnJobError func(error)

	// OnInternalError is called for non-job failures inside the
	// orchestrator or pool.
	OnInternalError func(error)
}

func (o *Options) FillDefaults() {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.Workers > o.MaxConcurrency {
		o.Workers = o.MaxConcurrency
	}
	if o.Retention == 0 {
		o.Retention = DefaultRetention
	}
	if o.Less == nil {
		o.Less = minFirst
	}
	if o.Metrics == nil {
		o.Metrics = &NoopMetrics{}
	}
}
