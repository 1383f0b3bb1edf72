// Package dispatch runs detached work handed off by the session repository.
//
// Submitters never wait for a task to run. Pool bounds both concurrency and
// the backlog; Inline runs tasks on the caller's goroutine so tests can
// observe their effects deterministically.
package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/picbreeder/host/internal/logging"
)

// Task is a unit of detached work.
type Task func(ctx context.Context)

// Scheduler accepts detached tasks.
type Scheduler interface {
	// Submit queues task under a descriptive name. It never blocks and
	// reports false when the task was dropped.
	Submit(name string, task Task) bool
}

// Inline runs each task immediately with a background context.
type Inline struct{}

func (Inline) Submit(_ string, task Task) bool {
	task(context.Background())
	return true
}

type job struct {
	name string
	task Task
}

// Pool runs tasks on a fixed set of workers fed by a bounded queue.
// Tasks submitted while the queue is full are dropped.
type Pool struct {
	queue  chan job
	group  errgroup.Group
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines sharing a queue of the given depth.
func NewPool(workers, depth int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	p := &Pool{
		queue:  make(chan job, depth),
		logger: logging.OrNop(logger).Named("dispatch"),
	}
	for i := 0; i < workers; i++ {
		p.group.Go(func() error {
			for j := range p.queue {
				p.run(j)
			}
			return nil
		})
	}
	return p
}

func (p *Pool) Submit(name string, task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Debug("task dropped after close", zap.String("task", name))
		return false
	}
	select {
	case p.queue <- job{name: name, task: task}:
		return true
	default:
		p.logger.Debug("task dropped, queue full", zap.String("task", name), zap.Int("depth", cap(p.queue)))
		return false
	}
}

// run executes one job; a panicking task is logged and does not take the
// worker down.
func (p *Pool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.String("task", j.name), zap.Any("panic", r))
		}
	}()
	j.task(context.Background())
}

// Close stops accepting tasks, lets queued tasks finish, and waits for the
// workers to exit. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	_ = p.group.Wait()
}
