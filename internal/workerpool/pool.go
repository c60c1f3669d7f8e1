package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when submitting to a closed pool.
var ErrClosed = errors.New("worker pool closed")

// Pool manages a fixed set of goroutines that execute submitted closures.
// Every goroutine is owned by the pool and joined by Close.
type Pool struct {
	numWorkers int
	workCh     chan func()
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closed     atomic.Bool
	submitMu   sync.RWMutex

	completed atomic.Int64
	dropped   atomic.Int64
}

// New creates a pool with numWorkers goroutines and a queue of queueSize
// pending tasks. numWorkers <= 0 uses GOMAXPROCS; queueSize <= 0 uses 2x workers.
func New(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if queueSize <= 0 {
		queueSize = numWorkers * 2
	}

	p := &Pool{
		numWorkers: numWorkers,
		workCh:     make(chan func(), queueSize),
		stopCh:     make(chan struct{}),
	}

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			// Pending work is dropped on shutdown; tasks are advisory.
			return
		case task, ok := <-p.workCh:
			if !ok {
				return
			}
			task()
			p.completed.Add(1)
		}
	}
}

// Submit enqueues a task, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return ErrClosed
	}

	select {
	case p.workCh <- task:
		return nil
	case <-p.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit enqueues a task without blocking. It returns false if the pool is
// closed or the queue is full.
func (p *Pool) TrySubmit(task func()) bool {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return false
	}
	select {
	case p.workCh <- task:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Completed returns the number of tasks executed.
func (p *Pool) Completed() int64 { return p.completed.Load() }

// Dropped returns the number of tasks rejected by TrySubmit because the queue was full.
func (p *Pool) Dropped() int64 { return p.dropped.Load() }

// Close stops the workers and waits for running tasks to return.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.submitMu.Lock()
	close(p.stopCh)
	close(p.workCh)
	p.submitMu.Unlock()

	p.wg.Wait()
}
