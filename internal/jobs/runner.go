// Package jobs drives a single summarization job from queued to a terminal
// state. Both execution strategies hand their tasks to a Runner, so the
// state machine lives in one place.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dharsanguruparan/DocBrief/internal/inference"
	"github.com/dharsanguruparan/DocBrief/internal/model"
	"github.com/dharsanguruparan/DocBrief/internal/repository"
)

// Task is everything an executor needs. The text is captured at submission
// so execution never depends on the originating request.
type Task struct {
	JobID     string `json:"job_id"`
	Text      string `json:"text"`
	MinLength int    `json:"min_length"`
	MaxLength int    `json:"max_length"`
}

// Outcome is what happened to a task after one Execute call.
type Outcome int

const (
	// Done means the summary was stored.
	Done Outcome = iota
	// Failed means the job was finalized as failed.
	Failed
	// Retry means the attempt failed and the job stays running for another attempt.
	Retry
	// Skipped means the job was missing or already terminal; nothing was written.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Retry:
		return "retry"
	default:
		return "skipped"
	}
}

// FailurePrefix starts every error_message written by a Runner.
const FailurePrefix = "summarization failed: "

const finalizeTimeout = 10 * time.Second

// Runner executes tasks against the store and an inference backend.
type Runner struct {
	store   repository.SummaryStore
	backend inference.Backend
	log     *slog.Logger
	timeout time.Duration
}

// NewRunner builds a Runner. timeout bounds each inference call; zero means
// no bound beyond the caller's context.
func NewRunner(store repository.SummaryStore, backend inference.Backend, log *slog.Logger, timeout time.Duration) *Runner {
	return &Runner{store: store, backend: backend, log: log.With("component", "runner"), timeout: timeout}
}

// Execute runs one attempt. When last is false an attempt failure returns
// Retry and leaves the job running; when last is true it finalizes the job
// as failed. The returned error is the attempt's cause, if any.
func (r *Runner) Execute(ctx context.Context, task Task, last bool) (Outcome, error) {
	log := r.log.With("job_id", task.JobID)

	job, err := r.store.GetSummary(ctx, task.JobID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("job not found, dropping task")
		return Skipped, nil
	}
	if err != nil {
		return r.attemptFailed(ctx, log, task.JobID, fmt.Errorf("load job: %w", err), last)
	}
	if job.Status.Terminal() {
		log.Info("job already finished, dropping task", "status", job.Status)
		return Skipped, nil
	}
	log = log.With("attempt", job.Attempts+1)

	if err := r.store.MarkRunning(ctx, task.JobID); err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrConflict) {
			log.Info("job changed before start, dropping task", "error", err)
			return Skipped, nil
		}
		return r.attemptFailed(ctx, log, task.JobID, fmt.Errorf("mark running: %w", err), last)
	}
	log.Info("job running", "status", model.StatusRunning)

	summary, err := r.infer(ctx, task)
	if err != nil {
		return r.attemptFailed(ctx, log, task.JobID, err, last)
	}

	dctx, cancel := detach(ctx)
	defer cancel()
	if err := r.store.MarkDone(dctx, task.JobID, summary); err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			log.Warn("job finalized elsewhere, discarding summary", "error", err)
			return Skipped, nil
		}
		return r.attemptFailed(ctx, log, task.JobID, fmt.Errorf("store summary: %w", err), last)
	}
	log.Info("job done", "status", model.StatusDone, "summary_chars", len([]rune(summary)))
	return Done, nil
}

// infer calls the backend, converting panics and empty output into errors.
func (r *Runner) infer(ctx context.Context, task Task) (summary string, err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("inference panic: %v", p)
		}
	}()
	summary, err = r.backend.Summarize(ctx, inference.Request{
		Text:      task.Text,
		MinLength: task.MinLength,
		MaxLength: task.MaxLength,
	})
	if err == nil && summary == "" {
		err = errors.New("backend returned an empty summary")
	}
	return summary, err
}

func (r *Runner) attemptFailed(ctx context.Context, log *slog.Logger, id string, cause error, last bool) (Outcome, error) {
	if !last {
		log.Warn("attempt failed, will retry", "error", cause)
		return Retry, cause
	}
	return r.Fail(ctx, id, cause)
}

// Fail finalizes a job as failed with cause, using a context detached from
// ctx's cancellation so shutdown cannot leave the job running.
func (r *Runner) Fail(ctx context.Context, id string, cause error) (Outcome, error) {
	fctx, cancel := detach(ctx)
	defer cancel()
	log := r.log.With("job_id", id)
	msg := FailurePrefix + cause.Error()
	if err := r.store.MarkFailed(fctx, id, msg); err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			log.Warn("job finalized elsewhere", "error", err)
			return Skipped, cause
		}
		log.Error("failed to record job failure", "error", err, "cause", cause)
		return Failed, errors.Join(cause, err)
	}
	log.Error("job failed", "status", model.StatusFailed, "error", cause)
	return Failed, cause
}

// detach keeps ctx's values but not its cancellation, bounded by finalizeTimeout.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}
