package processing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/DocBrief/internal/inference"
	"github.com/dharsanguruparan/DocBrief/internal/jobs"
	"github.com/dharsanguruparan/DocBrief/internal/model"
	"github.com/dharsanguruparan/DocBrief/internal/storage"
)

type backendFunc func(ctx context.Context, req inference.Request) (string, error)

func (f backendFunc) Summarize(ctx context.Context, req inference.Request) (string, error) {
	return f(ctx, req)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func create(t *testing.T, store *storage.MemoryStore, id string) {
	t.Helper()
	if err := store.CreateSummary(context.Background(), &model.SummaryJob{
		ID: id, Method: model.DefaultMethod, Status: model.StatusQueued,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func waitStatus(t *testing.T, store *storage.MemoryStore, id string, want model.JobStatus) *model.SummaryJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetSummary(context.Background(), id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.GetSummary(context.Background(), id)
	t.Fatalf("job %s never reached %s (last %+v)", id, want, job)
	return nil
}

func TestPoolSummarizesRussianText(t *testing.T) {
	store := storage.NewMemoryStore()
	backend := backendFunc(func(_ context.Context, req inference.Request) (string, error) {
		if req.MinLength != 5 || req.MaxLength != 20 {
			return "", errors.New("unexpected params")
		}
		return "Краткое содержание", nil
	})
	p := New(jobs.NewRunner(store, backend, quiet(), 0), quiet(), 2, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	create(t, store, "j1")
	p.Enqueue(ctx, jobs.Task{JobID: "j1", Text: "Съешь ещё этих мягких французских булок", MinLength: 5, MaxLength: 20})
	job := waitStatus(t, store, "j1", model.StatusDone)
	if *job.SummaryText != "Краткое содержание" {
		t.Fatalf("summary = %q", *job.SummaryText)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestPoolFailureRecorded(t *testing.T) {
	store := storage.NewMemoryStore()
	backend := backendFunc(func(context.Context, inference.Request) (string, error) {
		return "", errors.New("model failed to load")
	})
	p := New(jobs.NewRunner(store, backend, quiet(), 0), quiet(), 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	create(t, store, "j1")
	p.Enqueue(ctx, jobs.Task{JobID: "j1", Text: "x"})
	job := waitStatus(t, store, "j1", model.StatusFailed)
	if !strings.Contains(*job.ErrorMessage, "model failed to load") {
		t.Fatalf("error message = %q", *job.ErrorMessage)
	}
	if job.Attempts != 1 {
		t.Fatalf("embedded pool must not retry, attempts = %d", job.Attempts)
	}
}

func TestQueueFullFailsJob(t *testing.T) {
	store := storage.NewMemoryStore()
	release := make(chan struct{})
	backend := backendFunc(func(context.Context, inference.Request) (string, error) {
		<-release
		return "ok", nil
	})
	p := New(jobs.NewRunner(store, backend, quiet(), 0), quiet(), 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	for _, id := range []string{"busy", "waiting", "dropped"} {
		create(t, store, id)
	}
	p.Enqueue(ctx, jobs.Task{JobID: "busy", Text: "x"})
	waitStatus(t, store, "busy", model.StatusRunning)
	p.Enqueue(ctx, jobs.Task{JobID: "waiting", Text: "x"})
	p.Enqueue(ctx, jobs.Task{JobID: "dropped", Text: "x"})

	job := waitStatus(t, store, "dropped", model.StatusFailed)
	if !strings.Contains(*job.ErrorMessage, ErrQueueFull.Error()) {
		t.Fatalf("error message = %q", *job.ErrorMessage)
	}
	close(release)
	waitStatus(t, store, "busy", model.StatusDone)
	waitStatus(t, store, "waiting", model.StatusDone)
}

func TestEnqueueAfterShutdownFailsJob(t *testing.T) {
	store := storage.NewMemoryStore()
	p := New(jobs.NewRunner(store, inference.Lead{}, quiet(), 0), quiet(), 1, 1)
	p.Start(context.Background())
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	create(t, store, "late")
	p.Enqueue(context.Background(), jobs.Task{JobID: "late", Text: "x"})
	job, _ := store.GetSummary(context.Background(), "late")
	if job.Status != model.StatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
}

func TestShutdownDrainsQueue(t *testing.T) {
	store := storage.NewMemoryStore()
	p := New(jobs.NewRunner(store, inference.Lead{}, quiet(), 0), quiet(), 1, 3)
	p.Start(context.Background())
	for _, id := range []string{"a", "b", "c"} {
		create(t, store, id)
		p.Enqueue(context.Background(), jobs.Task{JobID: id, Text: "Текст. Ещё.", MinLength: 1, MaxLength: 10})
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		job, _ := store.GetSummary(context.Background(), id)
		if job.Status != model.StatusDone {
			t.Fatalf("job %s = %s", id, job.Status)
		}
	}
}
