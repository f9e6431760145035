package receipt

import (
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("receipt: pool is closed")

// Job is a deferred issuance, typically a closure over IssueSettlement or
// IssueStageStep.
type Job struct {
	ID    int
	Issue func() (*Receipt, error)
}

// Result pairs a finished job with its receipt or error.
type Result struct {
	ID      int
	Receipt *Receipt
	Err     error
}

// Pool runs receipt issuance on a fixed set of workers. Proving is CPU
// bound, so the pool caps concurrency instead of spawning a goroutine per
// request.
type Pool struct {
	jobs    chan Job
	results chan Result
	workers int
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// NewPool starts a worker pool. A non-positive worker count defaults to 4.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}

	pool := &Pool{
		jobs:    make(chan Job, workers*2),
		results: make(chan Result, workers*2),
		workers: workers,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		rec, err := job.Issue()
		p.results <- Result{ID: job.ID, Receipt: rec, Err: err}
	}
}

// Submit adds a job to the pool. It may block while the queue is full.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.jobs <- job
	return nil
}

// Results returns the channel delivering finished jobs.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops intake and closes Results once every in-flight job has
// finished. It does not wait for that itself; drain Results to completion
// to observe the last job.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return p.workers
}
