// Package dispatch accepts summarization requests and answers status
// queries. It creates the job record and hands the task to whichever
// execution strategy the process was started with.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/DocBrief/internal/apperr"
	"github.com/dharsanguruparan/DocBrief/internal/jobs"
	"github.com/dharsanguruparan/DocBrief/internal/model"
	"github.com/dharsanguruparan/DocBrief/internal/repository"
)

// Strategy runs submitted tasks asynchronously. Enqueue must not block on
// inference and owns terminal-state delivery for the task, including its own
// failures.
type Strategy interface {
	Enqueue(ctx context.Context, task jobs.Task)
}

// Source is where a job's input text comes from: DocumentRef or InlineText.
type Source interface {
	isSource()
}

// DocumentRef points at a previously parsed document.
type DocumentRef struct{ ID string }

// InlineText carries the text in the request itself.
type InlineText struct{ Text string }

func (DocumentRef) isSource() {}
func (InlineText) isSource()  {}

// Params are the caller's summarization options.
type Params struct {
	MinLength int
	MaxLength int
	Method    string
}

// Dispatcher implements submit.
type Dispatcher struct {
	docs          repository.DocumentStore
	jobs          repository.SummaryStore
	strategy      Strategy
	defaultMethod string
	log           *slog.Logger
	newID         func() string
}

func NewDispatcher(docs repository.DocumentStore, summaries repository.SummaryStore, strategy Strategy, defaultMethod string, log *slog.Logger) *Dispatcher {
	if defaultMethod == "" {
		defaultMethod = model.DefaultMethod
	}
	return &Dispatcher{
		docs:          docs,
		jobs:          summaries,
		strategy:      strategy,
		defaultMethod: defaultMethod,
		log:           log.With("component", "dispatcher"),
		newID:         uuid.NewString,
	}
}

// Submit records a queued job and enqueues it. It returns as soon as the
// task is handed to the strategy; it never waits for inference.
func (d *Dispatcher) Submit(ctx context.Context, src Source, p Params) (*model.SummaryJob, error) {
	text, docID, err := d.resolve(ctx, src)
	if err != nil {
		return nil, err
	}
	method := strings.TrimSpace(p.Method)
	if method == "" {
		method = d.defaultMethod
	}
	job := &model.SummaryJob{
		ID:         d.newID(),
		DocumentID: docID,
		Method:     method,
		Params:     model.Params{MinLength: p.MinLength, MaxLength: p.MaxLength},
		Status:     model.StatusQueued,
	}
	if err := d.jobs.CreateSummary(ctx, job); err != nil {
		return nil, apperr.Internal("failed to create summary job", err)
	}
	// copy before handing off: the strategy may mutate the record concurrently
	view := *job
	d.strategy.Enqueue(ctx, jobs.Task{
		JobID:     job.ID,
		Text:      text,
		MinLength: p.MinLength,
		MaxLength: p.MaxLength,
	})
	d.log.Info("job submitted", "job_id", view.ID, "document_id", deref(docID), "method", method)
	return &view, nil
}

func (d *Dispatcher) resolve(ctx context.Context, src Source) (string, *string, error) {
	switch s := src.(type) {
	case DocumentRef:
		doc, err := d.docs.GetDocument(ctx, s.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, apperr.DocumentNotFound(fmt.Sprintf("document %s not found", s.ID))
		}
		if err != nil {
			return "", nil, apperr.Internal("failed to load document", err)
		}
		text := doc.Text()
		if strings.TrimSpace(text) == "" {
			return "", nil, apperr.DocumentNotFound(fmt.Sprintf("document %s not found or not parsed", s.ID))
		}
		id := doc.ID
		return text, &id, nil
	case InlineText:
		if strings.TrimSpace(s.Text) == "" {
			return "", nil, apperr.InvalidInput("either document_id or text must be provided")
		}
		return s.Text, nil, nil
	default:
		return "", nil, apperr.InvalidInput("either document_id or text must be provided")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Query implements the read path.
type Query struct {
	jobs repository.SummaryStore
}

func NewQuery(summaries repository.SummaryStore) *Query {
	return &Query{jobs: summaries}
}

// Get returns the current state of a job.
func (q *Query) Get(ctx context.Context, id string) (*model.SummaryJob, error) {
	job, err := q.jobs.GetSummary(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.SummaryNotFound(fmt.Sprintf("summary %s not found", id))
	}
	if err != nil {
		return nil, apperr.Internal("failed to load summary", err)
	}
	return job, nil
}

// List returns one page of jobs, newest first.
func (q *Query) List(ctx context.Context, limit, offset int) (model.Page[model.SummaryJob], error) {
	items, total, err := q.jobs.ListSummaries(ctx, limit, offset)
	if err != nil {
		return model.Page[model.SummaryJob]{}, apperr.Internal("failed to list summaries", err)
	}
	return model.Page[model.SummaryJob]{Total: total, Limit: limit, Offset: offset, Items: items}, nil
}
