package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/DocBrief/internal/jobs"
)

type fakeClient struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "id", Queue: "summarization", MaxRetry: 2}, nil
}

type fakeFailer struct {
	ids    []string
	causes []error
}

func (f *fakeFailer) Fail(_ context.Context, id string, cause error) (jobs.Outcome, error) {
	f.ids = append(f.ids, id)
	f.causes = append(f.causes, cause)
	return jobs.Failed, cause
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEnqueuePublishesPayload(t *testing.T) {
	client := &fakeClient{}
	failer := &fakeFailer{}
	p := NewProducer(client, failer, Options{Queue: "summarization", MaxAttempts: 3}, quiet())

	task := jobs.Task{JobID: "j1", Text: "Съешь ещё", MinLength: 5, MaxLength: 20}
	p.Enqueue(context.Background(), task)

	if len(client.tasks) != 1 || len(failer.ids) != 0 {
		t.Fatalf("tasks=%d failed=%v", len(client.tasks), failer.ids)
	}
	got := client.tasks[0]
	if got.Type() != SummarizeTask {
		t.Fatalf("type = %s", got.Type())
	}
	var decoded jobs.Task
	if err := json.Unmarshal(got.Payload(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != task {
		t.Fatalf("payload = %+v", decoded)
	}
}

func TestEnqueueFailureFinalizesJob(t *testing.T) {
	client := &fakeClient{err: errors.New("dial tcp: connection refused")}
	failer := &fakeFailer{}
	p := NewProducer(client, failer, Options{MaxAttempts: 3}, quiet())
	p.Enqueue(context.Background(), jobs.Task{JobID: "j1", Text: "x"})
	if len(failer.ids) != 1 || failer.ids[0] != "j1" {
		t.Fatalf("failed = %v", failer.ids)
	}
}

func TestEnqueueDuplicateIsNotFailure(t *testing.T) {
	client := &fakeClient{err: asynq.ErrTaskIDConflict}
	failer := &fakeFailer{}
	p := NewProducer(client, failer, Options{MaxAttempts: 3}, quiet())
	p.Enqueue(context.Background(), jobs.Task{JobID: "j1", Text: "x"})
	if len(failer.ids) != 0 {
		t.Fatalf("duplicate publish must not fail the job")
	}
}

func TestRetryDelay(t *testing.T) {
	constant := RetryDelay(RetryPolicy{Delay: 30 * time.Second})
	for n := 0; n < 3; n++ {
		if d := constant(n, nil, nil); d != 30*time.Second {
			t.Fatalf("constant retry %d = %s", n, d)
		}
	}
	exp := RetryDelay(RetryPolicy{Delay: time.Second, Exponential: true, MaxDelay: 5 * time.Second})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for n, w := range want {
		if d := exp(n, nil, nil); d != w {
			t.Fatalf("exponential retry %d = %s, want %s", n, d, w)
		}
	}
}
