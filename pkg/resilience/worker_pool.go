package resilience

import (
	"context"
	"errors"
	"sync"
)

var ErrWorkerPoolClosed = errors.New("worker pool is closed")

// Scheduler runs deferred work after the current unit of work has returned.
type Scheduler interface {
	Schedule(job func())
}

// WorkerPool runs jobs on a fixed number of goroutines fed from a bounded
// queue. A pool with one worker runs jobs strictly in submission order,
// which is how sessions serialise inbound node events.
type WorkerPool struct {
	queue chan func()
	done  chan struct{}

	// gate keeps senders and Close from racing on the queue channel.
	gate      sync.RWMutex
	closeOnce sync.Once
	running   sync.WaitGroup
}

var _ Scheduler = (*WorkerPool)(nil)

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	workers = max(workers, 1)
	if queueSize <= 0 {
		queueSize = workers
	}

	p := &WorkerPool{
		queue: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
	p.running.Add(workers)
	for range workers {
		go p.work()
	}
	return p
}

func (p *WorkerPool) work() {
	defer p.running.Done()
	for job := range p.queue {
		job()
	}
}

func (p *WorkerPool) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Submit waits for queue space. It fails once the pool is closed or ctx
// ends first.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	if job == nil {
		return nil
	}

	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.isClosed() {
		return ErrWorkerPoolClosed
	}

	select {
	case p.queue <- job:
		return nil
	case <-p.done:
		return ErrWorkerPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule never blocks: when the queue is full the job gets a goroutine of
// its own. Jobs scheduled after Close are dropped.
func (p *WorkerPool) Schedule(job func()) {
	if job == nil {
		return
	}

	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.isClosed() {
		return
	}

	select {
	case p.queue <- job:
	default:
		go job()
	}
}

// Close stops accepting jobs. Queued jobs still run.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.gate.Lock()
		close(p.queue)
		p.gate.Unlock()
	})
}

// Wait blocks until every queued job has run. Call it after Close.
func (p *WorkerPool) Wait() {
	p.running.Wait()
}
