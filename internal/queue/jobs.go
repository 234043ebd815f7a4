// Package queue is the producer half of the distributed execution strategy.
// Tasks are published to Redis through asynq and consumed by cmd/worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/DocBrief/internal/jobs"
)

const (
	// SummarizeTask is scheduled once per summarization job.
	SummarizeTask = "summary:generate"
)

// Options configures published tasks.
type Options struct {
	Queue       string
	MaxAttempts int
	Timeout     time.Duration
}

// Enqueuer is the part of *asynq.Client the producer uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Failer finalizes jobs that could not be published; *jobs.Runner satisfies it.
type Failer interface {
	Fail(ctx context.Context, id string, cause error) (jobs.Outcome, error)
}

// Producer publishes tasks to the broker.
type Producer struct {
	client Enqueuer
	failer Failer
	opts   Options
	log    *slog.Logger
}

func NewProducer(client Enqueuer, failer Failer, opts Options, log *slog.Logger) *Producer {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Producer{client: client, failer: failer, opts: opts, log: log.With("component", "producer")}
}

// NewTask serializes a job task. The job id doubles as the broker task id so
// a job is published at most once.
func NewTask(task jobs.Task, opts Options) (*asynq.Task, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	taskOpts := []asynq.Option{
		asynq.TaskID(task.JobID),
		asynq.MaxRetry(opts.MaxAttempts - 1),
	}
	if opts.Queue != "" {
		taskOpts = append(taskOpts, asynq.Queue(opts.Queue))
	}
	if opts.Timeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(opts.Timeout))
	}
	return asynq.NewTask(SummarizeTask, data, taskOpts...), nil
}

// Enqueue publishes the task. A publish failure finalizes the job as failed
// since no worker will ever see it.
func (p *Producer) Enqueue(ctx context.Context, task jobs.Task) {
	t, err := NewTask(task, p.opts)
	if err == nil {
		var info *asynq.TaskInfo
		info, err = p.client.EnqueueContext(ctx, t)
		if err == nil {
			p.log.Info("job published", "job_id", task.JobID, "queue", info.Queue, "max_retry", info.MaxRetry)
			return
		}
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			p.log.Warn("job already published", "job_id", task.JobID)
			return
		}
	}
	p.log.Error("publish failed", "job_id", task.JobID, "error", err)
	_, _ = p.failer.Fail(ctx, task.JobID, fmt.Errorf("enqueue task: %w", err))
}

// RetryPolicy decides the delay before a retried attempt.
type RetryPolicy struct {
	Delay       time.Duration
	Exponential bool
	MaxDelay    time.Duration
}

// RetryDelay returns an asynq.RetryDelayFunc for p. The constant policy
// waits Delay before every retry; the exponential one doubles it per retry
// up to MaxDelay.
func RetryDelay(p RetryPolicy) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if !p.Exponential {
			return p.Delay
		}
		d := time.Duration(float64(p.Delay) * math.Pow(2, float64(n)))
		if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
			return p.MaxDelay
		}
		return d
	}
}
