// Package reconcile fails jobs that no executor will ever finish: jobs left
// running by a crashed process, and in embedded mode jobs whose in-memory
// queue did not survive a restart.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dharsanguruparan/DocBrief/internal/model"
	"github.com/dharsanguruparan/DocBrief/internal/repository"
)

const sweepTimeout = time.Minute

// Stale is the store operation the sweeper needs.
type Stale interface {
	FailStale(ctx context.Context, statuses []model.JobStatus, before time.Time, msg string) (int, error)
}

// Sweeper runs Sweep on a cron schedule.
type Sweeper struct {
	ctx        context.Context
	cron       *cron.Cron
	store      Stale
	schedule   string
	staleAfter time.Duration
	statuses   []model.JobStatus
	log        *slog.Logger
	now        func() time.Time
	// started bounds queued sweeps: newer queued jobs may still sit in this
	// process's pool.
	started time.Time
}

var _ Stale = (repository.SummaryStore)(nil)

// Statuses returns which non-terminal statuses can be abandoned. Broker
// queued tasks survive restarts, so only embedded mode sweeps queued jobs.
func Statuses(embedded bool) []model.JobStatus {
	if embedded {
		return []model.JobStatus{model.StatusQueued, model.StatusRunning}
	}
	return []model.JobStatus{model.StatusRunning}
}

func New(ctx context.Context, store Stale, schedule string, staleAfter time.Duration, statuses []model.JobStatus, log *slog.Logger) *Sweeper {
	return &Sweeper{
		ctx:        ctx,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		store:      store,
		schedule:   schedule,
		staleAfter: staleAfter,
		statuses:   statuses,
		log:        log.With("component", "reconcile"),
		now:        time.Now,
		started:    time.Now(),
	}
}

// Start registers the sweep and starts the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("schedule reconcile %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.Info("reconcile scheduled", "schedule", s.schedule, "stale_after", s.staleAfter)
	return nil
}

// Stop stops the scheduler and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
	defer cancel()
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.log.ErrorContext(ctx, "reconcile sweep failed", "error", err)
	}
}

// Sweep fails every job in the configured statuses not updated within
// staleAfter. Queued jobs must also predate the sweeper.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	before := s.now().Add(-s.staleAfter)
	var queued, other []model.JobStatus
	for _, st := range s.statuses {
		if st == model.StatusQueued {
			queued = append(queued, st)
		} else {
			other = append(other, st)
		}
	}
	msg := fmt.Sprintf("summarization failed: job abandoned, no progress for %s", s.staleAfter)

	total := 0
	if len(other) > 0 {
		n, err := s.store.FailStale(ctx, other, before, msg)
		if err != nil {
			return 0, err
		}
		total += n
	}
	if len(queued) > 0 {
		queuedBefore := before
		if s.started.Before(queuedBefore) {
			queuedBefore = s.started
		}
		n, err := s.store.FailStale(ctx, queued, queuedBefore, msg)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		s.log.WarnContext(ctx, "failed stale jobs", "count", total, "before", before)
	}
	return total, nil
}
