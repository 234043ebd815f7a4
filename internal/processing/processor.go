// Package processing is the embedded execution strategy: a bounded pool of
// goroutines inside the serving process reading from a buffered channel.
// There is no retry; every job gets exactly one attempt.
package processing

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dharsanguruparan/DocBrief/internal/jobs"
)

// ErrQueueFull is recorded on jobs dropped by back-pressure.
var ErrQueueFull = errors.New("processing queue full")

// ErrClosed is recorded on jobs submitted after shutdown began.
var ErrClosed = errors.New("processing pool is shutting down")

// Executor runs one attempt of a task; *jobs.Runner satisfies it.
type Executor interface {
	Execute(ctx context.Context, task jobs.Task, last bool) (jobs.Outcome, error)
	Fail(ctx context.Context, id string, cause error) (jobs.Outcome, error)
}

// Processor consumes tasks on a fixed number of workers.
type Processor struct {
	exec    Executor
	log     *slog.Logger
	workers int

	mu     sync.RWMutex
	closed bool
	queue  chan jobs.Task
	wg     sync.WaitGroup
}

// New builds a Processor. depth is the channel capacity; a full channel
// rejects the job instead of blocking the request.
func New(exec Executor, log *slog.Logger, workers, depth int) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = workers * 4
	}
	return &Processor{
		exec:    exec,
		log:     log.With("component", "pool"),
		workers: workers,
		queue:   make(chan jobs.Task, depth),
	}
}

// Start launches worker goroutines. Workers stop when Shutdown closes the
// queue after draining it, or when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info("pool started", "workers", p.workers, "depth", cap(p.queue))
}

// Enqueue hands a task to the pool without blocking. When the task cannot be
// queued the job is finalized as failed, so it never stays queued silently.
func (p *Processor) Enqueue(ctx context.Context, task jobs.Task) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		_, _ = p.exec.Fail(ctx, task.JobID, ErrClosed)
		return
	}
	select {
	case p.queue <- task:
		p.mu.RUnlock()
		p.log.Debug("job queued", "job_id", task.JobID, "pending", len(p.queue))
	default:
		p.mu.RUnlock()
		p.log.Warn("queue full, failing job", "job_id", task.JobID)
		_, _ = p.exec.Fail(ctx, task.JobID, ErrQueueFull)
	}
}

// Shutdown stops accepting tasks and waits for queued work to finish or ctx
// to expire.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, id, task)
		}
	}
}

// run isolates one task so a panic outside inference cannot kill the worker.
func (p *Processor) run(ctx context.Context, id int, task jobs.Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker panic", "worker", id, "job_id", task.JobID, "panic", r)
			_, _ = p.exec.Fail(ctx, task.JobID, errors.New("worker crashed"))
		}
	}()
	out, err := p.exec.Execute(ctx, task, true)
	if err != nil {
		p.log.Debug("task finished with error", "worker", id, "job_id", task.JobID, "outcome", out.String(), "error", err)
	}
}
