// Package worker is the consumer half of the distributed execution strategy.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/DocBrief/internal/jobs"
	"github.com/dharsanguruparan/DocBrief/internal/queue"
)

// Executor runs one attempt of a task and finalizes jobs whose attempt
// crashed; *jobs.Runner satisfies it.
type Executor interface {
	Execute(ctx context.Context, task jobs.Task, last bool) (jobs.Outcome, error)
	Fail(ctx context.Context, id string, cause error) (jobs.Outcome, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	exec Executor
	log  *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(exec Executor, log *slog.Logger) *Processor {
	return &Processor{exec: exec, log: log.With("component", "worker")}
}

// Handler registers the summarize task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.SummarizeTask, p.handleSummarize)
	return mux
}

func (p *Processor) handleSummarize(ctx context.Context, t *asynq.Task) error {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return p.process(ctx, t.Payload(), retried, maxRetry)
}

// process decodes the payload and runs one attempt. The returned error tells
// asynq what to do next: nil acknowledges the task, a plain error schedules a
// retry, and an error wrapping asynq.SkipRetry archives it.
func (p *Processor) process(ctx context.Context, payload []byte, retried, maxRetry int) error {
	var task jobs.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		p.log.Error("undecodable payload", "error", err)
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	last := retried >= maxRetry
	out, err := p.execute(ctx, task, last)
	switch out {
	case jobs.Retry:
		p.log.Warn("attempt failed", "job_id", task.JobID, "retried", retried, "max_retry", maxRetry, "error", err)
		return err
	case jobs.Failed:
		return fmt.Errorf("job %s failed: %v: %w", task.JobID, err, asynq.SkipRetry)
	default:
		return nil
	}
}

// execute runs the attempt, turning a panic into Retry, or into a recorded
// failure on the last attempt so the job does not stay running.
func (p *Processor) execute(ctx context.Context, task jobs.Task, last bool) (out jobs.Outcome, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		p.log.Error("worker panic", "job_id", task.JobID, "last", last, "panic", r)
		err = fmt.Errorf("worker crashed: %v", r)
		if !last {
			out = jobs.Retry
			return
		}
		out, _ = p.exec.Fail(ctx, task.JobID, err)
	}()
	return p.exec.Execute(ctx, task, last)
}
