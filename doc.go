// Package flow provides a job scheduling and multi-stage pipeline
// orchestration engine: the coordination core underneath CI/CD systems,
// deployment tooling and task queues.
//
// Design goals
//
// The package is designed around the following principles:
//
//   - One serialized event loop owns all pipeline, stage and job state
//   - Job execution is parallel; state transitions never are
//   - Failures are retried with bounded, jittered exponential backoff
//   - Callers observe consistent snapshots, never partial transitions
//
// Architecture overview
//
// The engine is composed of three loosely coupled layers:
//
//   1. Scheduling (workQueue)
//      A heap-backed priority queue ordered by a pluggable comparator.
//      The default orders by ascending (priority, sequence), so equal
//      priorities dequeue in submission order.
//
//   2. Execution (pool / workers)
//      A fixed set of workers receives dispatched jobs, runs each one
//      through a timeout decorator and reports the outcome back to the
//      orchestrator. Workers never coordinate with each other.
//
//   3. Orchestration (Orchestrator)
//      The event loop admits pipelines, releases stages whose
//      predecessors settled, dispatches queued jobs, classifies
//      results, schedules retries via deferred timers and finalizes
//      pipeline status exactly once.
//
// Pipeline model
//
// A pipeline is an ordered collection of named stages; each stage holds
// independent jobs and dependency edges to other stages. The dependency
// graph must be acyclic; Submit rejects cycles with a witness path.
// A stage is released only when every predecessor settled according to
// the pipeline's failure policy (fail-fast or continue-on-failure).
//
// Retry model
//
// A failed or timed-out job attempt is retried until its retry budget
// is exhausted. The delay before retry n is base * 2^(n-1), capped, and
// optionally drawn uniformly from [0, computed] (full jitter) so a
// burst of failures does not produce a retry storm. A job whose budget
// runs out is abandoned, which is terminal.
//
// Cancellation
//
// Cancelling a pipeline marks every not-yet-started job canceled and
// signals running jobs through their context. Side effects of jobs that
// already started are not rolled back. A job settles as canceled only
// while its pipeline is being canceled or failing fast; a capability
// that returns a cancellation error on a live pipeline is treated as a
// plain execution failure.
//
// Error handling
//
// The engine distinguishes between two classes of errors:
//
//   - Job errors: returned by job capabilities, classified into
//     timeout, execution failure, cancellation and abandonment
//   - Internal errors: unexpected failures inside the engine itself
//
// Errors are reported via user-provided handlers and do not stop the
// workers. Panics inside job capabilities are recovered and surface as
// execution failures.
package flow
