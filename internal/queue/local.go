package queue

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool runs tasks on a fixed number of in-process workers.
type Pool struct {
	workers int
	tasks   chan Task
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	closed  bool
	group   *errgroup.Group
	started bool
}

// NewPool returns a pool with workers goroutines and room for buffer waiting tasks.
func NewPool(workers, buffer int, handler Handler, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Pool{
		workers: workers,
		tasks:   make(chan Task, buffer),
		handler: handler,
		logger:  logger.With("component", "sync_pool"),
	}
}

// Start launches the workers. Tasks run with ctx; cancelling it stops the
// workers after their current task.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.workers {
		g.Go(func() error {
			p.work(gctx, i)
			return nil
		})
	}
	p.group = g
	p.logger.Info("sync pool started", "workers", p.workers)
}

func (p *Pool) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			if err := p.handler(ctx, t); err != nil {
				p.logger.Error("sync task failed",
					"worker", worker,
					"account_id", t.AccountID,
					"task_ref", t.TaskRef,
					"error", err,
				)
			}
		}
	}
}

// Dispatch enqueues t without blocking.
func (p *Pool) Dispatch(_ context.Context, t Task) error {
	if err := t.validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrQueueFull
	}
	select {
	case p.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop stops accepting tasks and waits for the workers. Queued tasks still
// run unless the Start context was already canceled; their locks are then
// left for the watchdog.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	g := p.group
	p.mu.Unlock()

	if g != nil {
		_ = g.Wait()
	}
	p.logger.Info("sync pool stopped")
}
