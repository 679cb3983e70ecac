package flow

import (
	"fmt"
	"sync"
	"sync/atomic"

	lg "github.com/Andrej220/go-utils/zlog"
)

// result is what a worker reports back to the orchestrator loop after
// one execution attempt. err is nil on success.
type result struct {
	item *workItem
	err  *JobError
}

// pool is the fixed set of workers executing dispatched jobs. Workers
// never touch pipeline state; every outcome flows back through results.
type pool struct {
	work    chan *workItem
	results chan result

	wg            sync.WaitGroup
	activeWorkers atomic.Int32

	metrics    MetricsPolicy
	onJobError func(error)
}

// newPool starts workers workers consuming from an unbuffered dispatch
// channel. results is buffered by the caller so a finishing worker
// never blocks on an unread outcome.
func newPool(workers int, metrics MetricsPolicy, onJobError func(error)) *pool {
	p := &pool{
		work:       make(chan *workItem),
		results:    make(chan result, workers),
		metrics:    metrics,
		onJobError: onJobError,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for it := range p.work {
		p.activeWorkers.Add(1)
		res := p.execute(it)
		p.activeWorkers.Add(-1)
		p.results <- res
	}
}

// execute runs one attempt of the item's job through the timeout
// decorator. Panics inside the capability surface as execution errors.
func (p *pool) execute(it *workItem) (res result) {
	j := it.job
	logger := lg.FromContext(it.ctx).With(
		lg.String("job", j.name),
		lg.Int("attempt", j.attempt+1),
	)
	logger.Info("worker running job", lg.Int32("active_workers", p.activeWorkers.Load()))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", lg.Any("panic", r))
			res = result{item: it, err: &JobError{
				Kind: KindExecution,
				Job:  j.name,
				Err:  fmt.Errorf("panic: %v", r),
			}}
		}
		if res.err != nil && p.onJobError != nil {
			p.onJobError(res.err)
		}
	}()

	exec := timeBound{exec: j.run, timeout: j.timeout}
	err := exec.Execute(it.ctx)
	p.metrics.IncExecuted()

	if err == nil {
		logger.Info("worker finished job")
		return result{item: it}
	}

	kind := classify(err)
	logger.Warn("job attempt failed",
		lg.String("kind", kind.String()),
		lg.Any("error", err),
	)
	return result{item: it, err: &JobError{Kind: kind, Job: j.name, Err: err}}
}

// close stops the workers after in-flight jobs finish. Outstanding
// results stay readable from the buffered channel.
func (p *pool) close() {
	close(p.work)
}

func (p *pool) wait() {
	p.wg.Wait()
}

// active returns the number of workers currently executing a job.
func (p *pool) active() int32 { return p.activeWorkers.Load() }
