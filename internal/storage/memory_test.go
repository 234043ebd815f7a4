package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dharsanguruparan/DocBrief/internal/model"
	"github.com/dharsanguruparan/DocBrief/internal/repository"
)

func newJob(id string) *model.SummaryJob {
	return &model.SummaryJob{ID: id, Method: model.DefaultMethod, Status: model.StatusQueued,
		Params: model.Params{MinLength: 32, MaxLength: 256}}
}

func TestSummaryLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateSummary(ctx, newJob("j1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkDone(ctx, "j1", "early"); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("queued -> done must conflict, got %v", err)
	}
	if err := s.MarkRunning(ctx, "j1"); err != nil {
		t.Fatalf("running: %v", err)
	}
	if err := s.MarkRunning(ctx, "j1"); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if err := s.MarkDone(ctx, "j1", "summary"); err != nil {
		t.Fatalf("done: %v", err)
	}
	job, err := s.GetSummary(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != model.StatusDone || job.SummaryText == nil || *job.SummaryText != "summary" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.ErrorMessage != nil || job.Attempts != 2 || job.StartedAt == nil || job.FinishedAt == nil {
		t.Fatalf("unexpected bookkeeping %+v", job)
	}
	if err := s.MarkFailed(ctx, "j1", "late"); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("terminal job must not change, got %v", err)
	}
	if err := s.MarkRunning(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	text := "body"
	if err := s.CreateDocument(ctx, &model.Document{ID: "d1", Parsed: true, ParsedText: &text}); err != nil {
		t.Fatalf("create: %v", err)
	}
	doc, _ := s.GetDocument(ctx, "d1")
	*doc.ParsedText = "changed"
	doc.Filename = "changed"
	again, _ := s.GetDocument(ctx, "d1")
	if again.Filename == "changed" || *again.ParsedText != "body" {
		t.Fatalf("store leaked internal document")
	}

	_ = s.CreateSummary(ctx, newJob("j1"))
	_ = s.MarkRunning(ctx, "j1")
	_ = s.MarkFailed(ctx, "j1", "boom")
	job, _ := s.GetSummary(ctx, "j1")
	*job.ErrorMessage = "mutated"
	job, _ = s.GetSummary(ctx, "j1")
	if *job.ErrorMessage != "boom" {
		t.Fatalf("store leaked internal job pointer")
	}
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		j := newJob(fmt.Sprintf("j%d", i))
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_ = s.CreateSummary(ctx, j)
	}
	items, total, err := s.ListSummaries(ctx, 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}
	if items[0].ID != "j3" || items[1].ID != "j2" {
		t.Fatalf("unexpected order %s, %s", items[0].ID, items[1].ID)
	}
	items, _, _ = s.ListSummaries(ctx, 10, 10)
	if len(items) != 0 {
		t.Fatalf("offset past end returned %d items", len(items))
	}
}

func TestFailStale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	for _, id := range []string{"queued", "running", "done"} {
		_ = s.CreateSummary(ctx, newJob(id))
	}
	_ = s.MarkRunning(ctx, "running")
	_ = s.MarkRunning(ctx, "done")
	_ = s.MarkDone(ctx, "done", "ok")

	clock = clock.Add(time.Hour)
	n, err := s.FailStale(ctx, []model.JobStatus{model.StatusRunning}, clock.Add(-30*time.Minute), "abandoned")
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	job, _ := s.GetSummary(ctx, "running")
	if job.Status != model.StatusFailed || *job.ErrorMessage != "abandoned" {
		t.Fatalf("unexpected job %+v", job)
	}
	job, _ = s.GetSummary(ctx, "queued")
	if job.Status != model.StatusQueued {
		t.Fatalf("queued job should be untouched, got %s", job.Status)
	}
	job, _ = s.GetSummary(ctx, "done")
	if job.Status != model.StatusDone {
		t.Fatalf("done job should be untouched, got %s", job.Status)
	}
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateSummary(ctx, newJob("j1"))
	_ = s.MarkRunning(ctx, "j1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = s.MarkDone(ctx, "j1", "ok")
			} else {
				err = s.MarkFailed(ctx, "j1", "boom")
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one terminal write, got %d", wins)
	}
}
