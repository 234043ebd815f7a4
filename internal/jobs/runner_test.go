package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/dharsanguruparan/DocBrief/internal/inference"
	"github.com/dharsanguruparan/DocBrief/internal/model"
	"github.com/dharsanguruparan/DocBrief/internal/storage"
)

type backendFunc func(ctx context.Context, req inference.Request) (string, error)

func (f backendFunc) Summarize(ctx context.Context, req inference.Request) (string, error) {
	return f(ctx, req)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func queued(t *testing.T, store *storage.MemoryStore, id string) {
	t.Helper()
	err := store.CreateSummary(context.Background(), &model.SummaryJob{
		ID: id, Method: model.DefaultMethod, Status: model.StatusQueued,
		Params: model.Params{MinLength: 5, MaxLength: 20},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestExecuteDone(t *testing.T) {
	store := storage.NewMemoryStore()
	queued(t, store, "j1")
	var seen inference.Request
	r := NewRunner(store, backendFunc(func(_ context.Context, req inference.Request) (string, error) {
		seen = req
		return "Краткое содержание", nil
	}), quiet(), 0)

	out, err := r.Execute(context.Background(), Task{JobID: "j1", Text: "Съешь ещё", MinLength: 5, MaxLength: 20}, true)
	if out != Done || err != nil {
		t.Fatalf("out=%s err=%v", out, err)
	}
	if seen.Text != "Съешь ещё" || seen.MinLength != 5 || seen.MaxLength != 20 {
		t.Fatalf("backend got %+v", seen)
	}
	job, _ := store.GetSummary(context.Background(), "j1")
	if job.Status != model.StatusDone || *job.SummaryText != "Краткое содержание" || job.ErrorMessage != nil {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestExecuteFailureRetryThenFail(t *testing.T) {
	store := storage.NewMemoryStore()
	queued(t, store, "j1")
	r := NewRunner(store, backendFunc(func(context.Context, inference.Request) (string, error) {
		return "", errors.New("CUDA out of memory")
	}), quiet(), 0)

	out, err := r.Execute(context.Background(), Task{JobID: "j1", Text: "x"}, false)
	if out != Retry || err == nil {
		t.Fatalf("out=%s err=%v", out, err)
	}
	job, _ := store.GetSummary(context.Background(), "j1")
	if job.Status != model.StatusRunning || job.ErrorMessage != nil {
		t.Fatalf("retryable attempt must leave job running, got %+v", job)
	}

	out, _ = r.Execute(context.Background(), Task{JobID: "j1", Text: "x"}, true)
	if out != Failed {
		t.Fatalf("out=%s", out)
	}
	job, _ = store.GetSummary(context.Background(), "j1")
	if job.Status != model.StatusFailed || job.SummaryText != nil {
		t.Fatalf("unexpected job %+v", job)
	}
	if !strings.HasPrefix(*job.ErrorMessage, FailurePrefix) || !strings.Contains(*job.ErrorMessage, "CUDA out of memory") {
		t.Fatalf("error message = %q", *job.ErrorMessage)
	}
	if job.Attempts != 2 {
		t.Fatalf("attempts = %d", job.Attempts)
	}
}

func TestExecutePanicBecomesFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	queued(t, store, "j1")
	r := NewRunner(store, backendFunc(func(context.Context, inference.Request) (string, error) {
		panic("tokenizer exploded")
	}), quiet(), 0)
	out, err := r.Execute(context.Background(), Task{JobID: "j1", Text: "x"}, true)
	if out != Failed || err == nil {
		t.Fatalf("out=%s err=%v", out, err)
	}
	job, _ := store.GetSummary(context.Background(), "j1")
	if job.Status != model.StatusFailed || !strings.Contains(*job.ErrorMessage, "tokenizer exploded") {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestExecuteEmptySummaryFails(t *testing.T) {
	store := storage.NewMemoryStore()
	queued(t, store, "j1")
	r := NewRunner(store, backendFunc(func(context.Context, inference.Request) (string, error) {
		return "", nil
	}), quiet(), 0)
	if out, _ := r.Execute(context.Background(), Task{JobID: "j1", Text: "x"}, true); out != Failed {
		t.Fatalf("out=%s", out)
	}
}

func TestExecuteSkips(t *testing.T) {
	store := storage.NewMemoryStore()
	calls := 0
	r := NewRunner(store, backendFunc(func(context.Context, inference.Request) (string, error) {
		calls++
		return "ok", nil
	}), quiet(), 0)

	if out, err := r.Execute(context.Background(), Task{JobID: "missing"}, true); out != Skipped || err != nil {
		t.Fatalf("missing job: out=%s err=%v", out, err)
	}

	queued(t, store, "done")
	if out, _ := r.Execute(context.Background(), Task{JobID: "done", Text: "x"}, true); out != Done {
		t.Fatalf("first run: %s", out)
	}
	if out, _ := r.Execute(context.Background(), Task{JobID: "done", Text: "x"}, true); out != Skipped {
		t.Fatalf("redelivery: %s", out)
	}
	if calls != 1 {
		t.Fatalf("backend called %d times", calls)
	}
}

func TestExecuteCancelledContextStillFinalizes(t *testing.T) {
	store := storage.NewMemoryStore()
	queued(t, store, "j1")
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(store, backendFunc(func(ctx context.Context, _ inference.Request) (string, error) {
		cancel()
		return "", ctx.Err()
	}), quiet(), 0)
	if out, _ := r.Execute(ctx, Task{JobID: "j1", Text: "x"}, true); out != Failed {
		t.Fatalf("out=%s", out)
	}
	job, _ := store.GetSummary(context.Background(), "j1")
	if job.Status != model.StatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
}
