package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dharsanguruparan/DocBrief/internal/config"
	"github.com/dharsanguruparan/DocBrief/internal/inference"
	"github.com/dharsanguruparan/DocBrief/internal/model"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Address = "127.0.0.1:0"
	cfg.Store.Driver = "memory"
	cfg.Reconcile.Schedule = ""
	cfg.ShutdownTimeout = 2 * time.Second
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return cfg
}

func TestEmbeddedEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := memoryConfig(t)

	a, err := NewAPI(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	body := `{"text":"Первое предложение здесь. Второе предложение там.","min_length":2,"max_length":16}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/summaries", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var job model.SummaryJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !job.Status.Terminal() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		rec = httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summaries/"+job.ID, nil))
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	if job.Status != model.StatusDone || job.SummaryText == nil || !strings.HasPrefix(*job.SummaryText, "Первое") {
		t.Fatalf("unexpected job %+v", job)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("api did not stop")
	}
}

func TestHealthReportsMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := NewAPI(context.Background(), memoryConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	defer a.deps.Close()
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if !strings.Contains(rec.Body.String(), `"dispatch_mode":"background_tasks"`) {
		t.Fatalf("health = %s", rec.Body.String())
	}
}

func TestWorkerRejectsMemoryStore(t *testing.T) {
	cfg := memoryConfig(t)
	if _, err := NewWorker(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil); err == nil {
		t.Fatalf("expected error")
	}
}

func submitAndWait(t *testing.T, h http.Handler, body string) model.SummaryJob {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/summaries", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	var job model.SummaryJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil || rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	deadline := time.Now().Add(3 * time.Second)
	for !job.Status.Terminal() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summaries/"+job.ID, nil))
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return job
}

func TestEmbeddedBackendIsNotRecycledByWorkerSetting(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := memoryConfig(t)
	cfg.Inference.Exclusive = false
	cfg.Distributed.TasksPerBackend = 1

	a, err := NewAPI(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	lazy, ok := a.deps.backends[0].(*inference.Lazy)
	if !ok {
		t.Fatalf("backend is %T", a.deps.backends[0])
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	for i := 0; i < 3; i++ {
		if job := submitAndWait(t, a.Handler(), `{"text":"Одно предложение. Другое."}`); job.Status != model.StatusDone {
			t.Fatalf("job %d = %+v", i, job)
		}
	}
	if lazy.Loads() != 1 {
		t.Fatalf("backend loaded %d times", lazy.Loads())
	}
}
