// Package tasks runs background work on a supervised worker pool. Task
// failures and panics are captured and logged by the supervisor instead of
// being swallowed inside the task.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"billing-workers/internal/common/logger"
)

type Task func(ctx context.Context) error

type Pool struct {
	queue  chan Task
	logger logger.Logger

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
	workers   int
}

func NewPool(workers, queueSize int, log logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:   make(chan Task, queueSize),
		logger:  log.WithFields(map[string]interface{}{"component": "tasks"}),
		workers: workers,
	}
}

// Start launches the workers. Tasks run with the given context; cancelling it
// makes in-flight tasks return early but the pool keeps draining until Close.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx)
		}
	})
}

// Submit enqueues a task without blocking. It reports false when the queue is
// saturated or the pool is closed; callers decide whether a drop is
// acceptable. The read lock pairs with Close so a submit can never race the
// channel close.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- task:
		return true
	default:
		return false
	}
}

// Close stops accepting tasks and waits for the queue to drain.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(ctx, task)
	}
}

func (p *Pool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()

	if err := task(ctx); err != nil {
		p.logger.Error("background task failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
