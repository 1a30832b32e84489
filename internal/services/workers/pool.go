// Package workers provides a bounded pool of goroutines used by the
// ingestion pipeline's parallel index phase: submit a batch of jobs, wait
// for the group, inspect the errors afterwards.
package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
)

// defaultWorkers bounds the pool when the caller passes a non-positive
// count.
const defaultWorkers = 10

// Job is one unit of work. The error it returns is collected for later
// inspection, never fatal to the pool.
type Job func(ctx context.Context) error

// Pool fans Jobs out over a fixed number of workers. Submit queues work;
// Wait closes intake and blocks until the queue drains. A Pool is one-shot:
// after Wait or Shutdown it accepts no more work.
type Pool struct {
	jobs    chan Job
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  arbor.ILogger

	mu   sync.Mutex
	errs []error
}

// NewPool creates a Pool with the given worker count.
func NewPool(workers int, logger arbor.ILogger) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:    make(chan Job, workers*2),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.logger.Debug().Int("workers", p.workers).Msg("worker pool starting")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues job, failing only when the pool is shutting down.
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Wait closes intake and blocks until every queued job has run.
func (p *Pool) Wait() {
	close(p.jobs)
	p.wg.Wait()
}

// Shutdown cancels in-flight work and waits for the workers to exit.
func (p *Pool) Shutdown() {
	p.cancel()
	p.Wait()
}

// Errors returns the errors collected from failed jobs, in completion
// order.
func (p *Pool) Errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(id, job)
		}
	}
}

func (p *Pool) run(id int, job Job) {
	if err := job(p.ctx); err != nil {
		p.mu.Lock()
		p.errs = append(p.errs, err)
		p.mu.Unlock()
		p.logger.Warn().Err(err).Int("worker", id).Msg("pool job failed")
	}
}
