package reconcile

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/DocBrief/internal/model"
	"github.com/dharsanguruparan/DocBrief/internal/storage"
)

func TestSweepFailsStaleJobs(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	for _, id := range []string{"queued", "running"} {
		if err := store.CreateSummary(ctx, &model.SummaryJob{ID: id, Method: model.DefaultMethod, Status: model.StatusQueued}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	_ = store.MarkRunning(ctx, "running")

	s := New(ctx, store, "@every 1m", 10*time.Minute, Statuses(false), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := s.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	job, _ := store.GetSummary(ctx, "running")
	if job.Status != model.StatusFailed || !strings.Contains(*job.ErrorMessage, "abandoned") {
		t.Fatalf("unexpected job %+v", job)
	}
	job, _ = store.GetSummary(ctx, "queued")
	if job.Status != model.StatusQueued {
		t.Fatalf("distributed mode must keep queued jobs, got %s", job.Status)
	}

	s.statuses = Statuses(true)
	s.started = time.Now().Add(time.Minute)
	if n, _ := s.Sweep(ctx); n != 1 {
		t.Fatalf("embedded sweep n=%d", n)
	}
}

func TestSweepIgnoresFreshJobs(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.CreateSummary(ctx, &model.SummaryJob{ID: "j1", Method: model.DefaultMethod, Status: model.StatusQueued})
	_ = store.MarkRunning(ctx, "j1")
	s := New(ctx, store, "@every 1m", 10*time.Minute, Statuses(true), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if n, err := s.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(context.Background(), storage.NewMemoryStore(), "every minute", time.Minute, Statuses(true), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.Start(); err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestSweepKeepsQueuedJobsNewerThanSweeper(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := New(ctx, store, "@every 1m", 10*time.Minute, Statuses(true), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.started = time.Now().Add(-time.Second)

	for _, id := range []string{"waiting", "stuck"} {
		if err := store.CreateSummary(ctx, &model.SummaryJob{ID: id, Method: model.DefaultMethod, Status: model.StatusQueued}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	_ = store.MarkRunning(ctx, "stuck")
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := s.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if job, _ := store.GetSummary(ctx, "waiting"); job.Status != model.StatusQueued {
		t.Fatalf("queued job held by this process was swept: %s", job.Status)
	}
	if job, _ := store.GetSummary(ctx, "stuck"); job.Status != model.StatusFailed {
		t.Fatalf("stale running job kept: %s", job.Status)
	}
}
