package flow

import (
	"context"
	"sync"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/google/uuid"
)

// Orchestrator admits pipelines, expands their stages into jobs,
// schedules jobs by priority, executes them on the worker pool, retries
// failures per the backoff policy and finalizes pipeline status.
//
// All Pipeline, Stage and Job state transitions are applied by one
// event loop goroutine, so transitions for a given pipeline are
// linearized even though job execution itself is parallel.
type Orchestrator struct {
	opts Options

	mu        sync.RWMutex
	pipelines map[string]*pipeline

	queue *workQueue
	pool  *pool

	submitCh chan *pipeline
	retryCh  chan *workItem
	cancelCh chan string
	evictCh  chan string

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates an orchestrator and starts its worker pool and event loop.
func New(opts Options) *Orchestrator {
	opts.FillDefaults()
	o := &Orchestrator{
		opts:      opts,
		pipelines: make(map[string]*pipeline),
		queue:     newWorkQueue(opts.Less),
		pool:      newPool(opts.Workers, opts.Metrics, opts.OnJobError),
		submitCh:  make(chan *pipeline),
		retryCh:   make(chan *workItem),
		cancelCh:  make(chan string),
		evictCh:   make(chan string),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go o.loop()
	return o
}

// Submit validates the spec, registers the pipeline and returns its id.
// Configuration errors (including a cyclic stage DAG) are reported here
// synchronously and nothing is registered.
func (o *Orchestrator) Submit(spec *PipelineSpec) (string, error) {
	select {
	case <-o.stopCh:
		return "", ErrClosed
	default:
	}

	if spec == nil {
		return "", invalidf("nil pipeline spec")
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}
	policy, err := spec.FailurePolicy()
	if err != nil {
		return "", err
	}
	graph, err := buildStageGraph(spec)
	if err != nil {
		return "", err
	}
	for _, st := range spec.Stages {
		for _, js := range st.Jobs {
			if js.Run == nil {
				return "", invalidf("job %q has no executor", js.Name)
			}
		}
	}

	p := o.buildPipeline(spec, policy, graph)

	o.mu.Lock()
	o.pipelines[p.id] = p
	o.mu.Unlock()

	select {
	case o.submitCh <- p:
	case <-o.stopCh:
		o.mu.Lock()
		delete(o.pipelines, p.id)
		o.mu.Unlock()
		return "", ErrClosed
	}

	o.opts.Metrics.IncSubmitted()
	lg.FromContext(p.ctx).Info("pipeline submitted",
		lg.String("pipeline", p.name),
		lg.String("id", p.id),
		lg.Int("stages", len(p.stages)),
	)
	return p.id, nil
}

func (o *Orchestrator) buildPipeline(spec *PipelineSpec, policy FailurePolicy, graph *stageGraph) *pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{
		id:        uuid.NewString(),
		name:      spec.Name,
		policy:    policy,
		createdAt: time.Now(),
		state:     PipelinePending,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for i, st := range spec.Stages {
		s := &stage{
			name:       st.Name,
			pipeline:   p,
			deps:       graph.deps[i],
			bestEffort: st.BestEffort,
			state:      StageBlocked,
		}
		for _, js := range st.Jobs {
			s.jobs = append(s.jobs, &job{
				id:         uuid.NewString(),
				name:       js.Name,
				stage:      s,
				run:        js.Run,
				priority:   js.Priority,
				timeout:    js.Timeout.Std(),
				maxRetries: js.MaxRetries,
				backoff:    NewBackoffPolicy(js.Backoff.Base.Std(), js.Backoff.Cap.Std(), js.Backoff.Jitter),
				state:      JobPending,
			})
		}
		p.stages = append(p.stages, s)
	}
	return p
}

// Status returns a consistent point-in-time snapshot of the pipeline.
func (o *Orchestrator) Status(id string) (PipelineStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.pipelines[id]
	if !ok {
		return PipelineStatus{}, ErrUnknownPipeline
	}
	return p.snapshot(), nil
}

// Cancel requests cooperative cancellation of the pipeline. It is
// idempotent: cancelling a settled or already-cancelled pipeline is a
// no-op.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.RLock()
	_, ok := o.pipelines[id]
	o.mu.RUnlock()
	if !ok {
		return ErrUnknownPipeline
	}
	select {
	case o.cancelCh <- id:
		return nil
	case <-o.stopCh:
		return ErrClosed
	}
}

// Await blocks until the pipeline settles and returns its terminal
// status. It unblocks early if ctx is done or the orchestrator stops.
func (o *Orchestrator) Await(ctx context.Context, id string) (PipelineStatus, error) {
	o.mu.RLock()
	p, ok := o.pipelines[id]
	o.mu.RUnlock()
	if !ok {
		return PipelineStatus{}, ErrUnknownPipeline
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return PipelineStatus{}, ctx.Err()
	case <-o.doneCh:
		return PipelineStatus{}, ErrClosed
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return p.snapshot(), nil
}

// Shutdown stops the event loop, lets in-flight jobs finish and waits
// for the workers to exit, or until ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stopOnce.Do(func() { close(o.stopCh) })
	done := make(chan struct{})
	go func() {
		<-o.doneCh
		o.pool.wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop is a blocking Shutdown without a deadline.
func (o *Orchestrator) Stop() { _ = o.Shutdown(context.Background()) }

// QueueLength returns the number of jobs waiting in the priority queue.
func (o *Orchestrator) QueueLength() int { return o.queue.Len() }

// ActiveWorkers returns the number of workers currently executing jobs.
func (o *Orchestrator) ActiveWorkers() int32 { return o.pool.active() }

// loop is the single serialized event stream: dispatch, admission,
// results, retry timers, cancellation and eviction all pass through
// here, so no two mutations of pipeline state ever race.
func (o *Orchestrator) loop() {
	defer close(o.doneCh)
	for {
		// Arm dispatch only when a live item heads the queue. Entries
		// whose job was canceled while queued are dropped lazily here.
		var dispatchCh chan *workItem
		var next *workItem
		for {
			it, err := o.queue.Peek()
			if err != nil {
				break
			}
			if it.job.state != JobQueued {
				o.queue.Pop()
				o.opts.Metrics.SetQueueDepth(o.queue.Len())
				continue
			}
			next, dispatchCh = it, o.pool.work
			break
		}

		select {
		case dispatchCh <- next:
			o.dispatched(next)
		case p := <-o.submitCh:
			o.admit(p)
		case res := <-o.pool.results:
			o.handleResult(res)
		case it := <-o.retryCh:
			o.requeue(it)
		case id := <-o.cancelCh:
			o.handleCancel(id)
		case id := <-o.evictCh:
			o.evict(id)
		case <-o.stopCh:
			o.pool.close()
			return
		}
	}
}

// dispatched removes the just-sent item from the queue and marks its
// job running. The Running transition happens here, in the loop, so at
// most one worker ever holds an executing reference to a job.
func (o *Orchestrator) dispatched(it *workItem) {
	o.queue.Pop()
	o.opts.Metrics.SetQueueDepth(o.queue.Len())
	o.mu.Lock()
	it.job.state = JobRunning
	o.mu.Unlock()
}

// admit starts a registered pipeline: it becomes Running and its root
// stages (no predecessors) are released.
func (o *Orchestrator) admit(p *pipeline) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p.state = PipelineRunning
	o.advance(p)
	o.checkDone(p)
}

// advance releases every blocked stage whose predecessors settled
// according to the failure policy. Called with o.mu held.
func (o *Orchestrator) advance(p *pipeline) {
	if p.failing || p.canceled {
		return
	}
	for progress := true; progress; {
		progress = false
		for _, s := range p.stages {
			if s.state != StageBlocked {
				continue
			}
			ready := true
			for _, d := range s.deps {
				if !p.stages[d].succeededForDeps(p.policy) {
					ready = false
					break
				}
			}
			if ready {
				o.activate(s)
				progress = true
			}
		}
	}
}

// activate releases a stage's jobs to the priority queue. A stage with
// no jobs settles as Succeeded immediately.
func (o *Orchestrator) activate(s *stage) {
	s.state = StageReady
	if len(s.jobs) == 0 {
		s.state = StageSucceeded
		return
	}
	p := s.pipeline
	for _, j := range s.jobs {
		j.state = JobQueued
		o.queue.Push(&workItem{job: j, priority: j.priority, ctx: p.ctx})
	}
	s.state = StageRunning
	o.opts.Metrics.SetQueueDepth(o.queue.Len())
	lg.FromContext(p.ctx).Info("stage released",
		lg.String("pipeline", p.name),
		lg.String("stage", s.name),
		lg.Int("jobs", len(s.jobs)),
	)
}

// handleResult applies one execution outcome: success, cooperative
// cancellation, a scheduled retry, or abandonment.
func (o *Orchestrator) handleResult(res result) {
	o.mu.Lock()
	defer o.mu.Unlock()

	j := res.item.job
	s := j.stage
	p := s.pipeline
	logger := lg.FromContext(p.ctx).With(
		lg.String("pipeline", p.name),
		lg.String("job", j.name),
	)

	switch {
	case res.err == nil:
		j.attempt++
		j.state = JobSucceeded
		j.err = nil
		s.settled++

	case p.canceled || p.failing:
		// The pipeline is being torn down; every outcome settles as
		// canceled instead of burning retries, whether the capability
		// saw the signal or not.
		j.attempt++
		j.state = JobCanceled
		if res.err.Kind == KindCanceled {
			j.err = res.err
		} else {
			j.err = &JobError{Kind: KindCanceled, Job: j.name, Err: res.err.Err}
		}
		s.settled++
		s.canceled++

	default:
		// A cancellation error on a live pipeline was surfaced by the
		// capability itself, not issued by the engine. It counts as a
		// plain execution failure and goes through the retry loop.
		ferr := res.err
		if ferr.Kind == KindCanceled {
			ferr = &JobError{Kind: KindExecution, Job: j.name, Err: ferr.Err}
		}
		j.attempt++
		if j.attempt <= j.maxRetries {
			o.scheduleRetry(res.item)
			return
		}
		j.state = JobAbandoned
		j.err = &JobError{Kind: KindAbandoned, Job: j.name, Err: ferr}
		s.settled++
		s.abandoned++
		o.opts.Metrics.IncAbandoned()
		logger.Error("job abandoned",
			lg.Int("attempts", j.attempt),
			lg.Any("error", ferr),
		)
		if !s.bestEffort && p.policy == FailFast {
			o.failFast(p)
		}
	}

	o.settleStage(s)
	o.checkDone(p)
}

// scheduleRetry arms a deferred timer that re-enqueues a failed job
// after its backoff delay. Called with o.mu held.
func (o *Orchestrator) scheduleRetry(it *workItem) {
	j := it.job
	p := j.stage.pipeline
	j.state = JobFailed
	delay, err := j.backoff.Delay(j.attempt)
	if err != nil {
		// Attempt numbers are generated here, so this cannot happen
		// unless the loop itself is broken.
		o.reportInternal(err)
		delay = 0
	}
	o.opts.Metrics.IncRetried()
	lg.FromContext(p.ctx).Warn("job attempt failed; backing off",
		lg.String("pipeline", p.name),
		lg.String("job", j.name),
		lg.Int("attempt", j.attempt),
		lg.String("sleep", delay.String()),
	)
	time.AfterFunc(delay, func() {
		select {
		case o.retryCh <- it:
		case <-o.stopCh:
		}
	})
}

// requeue returns a retried job to the queue. The job may have been
// canceled while it waited out the backoff; in that case the timer
// event is stale and dropped.
func (o *Orchestrator) requeue(it *workItem) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if it.job.state != JobFailed {
		return
	}
	it.job.state = JobQueued
	o.queue.Push(it)
	o.opts.Metrics.SetQueueDepth(o.queue.Len())
}

// settleStage finalizes a stage once all of its jobs are terminal and
// advances dependent stages. Called with o.mu held.
func (o *Orchestrator) settleStage(s *stage) {
	if s.state.Terminal() || s.settled < len(s.jobs) {
		return
	}
	switch {
	case s.abandoned > 0 && !s.bestEffort:
		s.state = StageFailed
	case s.canceled > 0:
		s.state = StageCanceled
	default:
		s.state = StageSucceeded
	}
	p := s.pipeline
	lg.FromContext(p.ctx).Info("stage settled",
		lg.String("pipeline", p.name),
		lg.String("stage", s.name),
		lg.String("state", s.state.String()),
	)
	o.advance(p)
}

// failFast dooms the pipeline after an abandoned job: running jobs get
// the cancellation signal, everything not yet started is canceled.
// Called with o.mu held.
func (o *Orchestrator) failFast(p *pipeline) {
	if p.failing {
		return
	}
	p.failing = true
	p.cancel()
	o.cancelRemaining(p)
}

// cancelRemaining cancels every not-yet-started job and every blocked
// stage. Stages with jobs still out at workers stay Running until those
// jobs settle through the result path. Called with o.mu held.
func (o *Orchestrator) cancelRemaining(p *pipeline) {
	for _, s := range p.stages {
		if s.state.Terminal() {
			continue
		}
		for _, j := range s.jobs {
			switch j.state {
			case JobPending, JobQueued, JobFailed:
				j.state = JobCanceled
				s.settled++
				s.canceled++
			}
		}
		if s.settled < len(s.jobs) {
			// Jobs are still out at workers; the stage settles once
			// their canceled results come back.
			continue
		}
		switch {
		case s.abandoned > 0 && !s.bestEffort:
			s.state = StageFailed
		default:
			s.state = StageCanceled
		}
	}
}

// handleCancel applies a caller-requested cancellation. Settled
// pipelines are left untouched, which makes Cancel idempotent.
func (o *Orchestrator) handleCancel(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[id]
	if !ok || p.state.Terminal() || p.canceled {
		return
	}
	p.canceled = true
	p.cancel()
	o.cancelRemaining(p)
	lg.FromContext(p.ctx).Info("pipeline canceled",
		lg.String("pipeline", p.name),
		lg.String("id", p.id),
	)
	o.checkDone(p)
}

// checkDone finalizes the pipeline once every stage settled. The
// terminal transition fires exactly once. Called with o.mu held.
func (o *Orchestrator) checkDone(p *pipeline) {
	if p.state.Terminal() || !p.settled() {
		return
	}
	switch {
	case p.canceled:
		p.state = PipelineCanceled
	case p.failing || !p.allStagesSucceeded():
		p.state = PipelineFailed
	default:
		p.state = PipelineSucceeded
	}
	p.cancel()
	close(p.done)
	lg.FromContext(p.ctx).Info("pipeline settled",
		lg.String("pipeline", p.name),
		lg.String("id", p.id),
		lg.String("state", p.state.String()),
	)
	if o.opts.Retention >= 0 {
		id := p.id
		time.AfterFunc(o.opts.Retention, func() {
			select {
			case o.evictCh <- id:
			case <-o.stopCh:
			}
		})
	}
}

// evict drops a settled pipeline from history after retention elapsed.
func (o *Orchestrator) evict(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[id]
	if !ok || !p.state.Terminal() {
		return
	}
	delete(o.pipelines, id)
}

func (o *Orchestrator) reportInternal(err error) {
	if o.opts.OnInternalError != nil {
		o.opts.OnInternalError(err)
	}
}
