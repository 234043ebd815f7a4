// Package repository defines the record store contracts and their
// PostgreSQL implementation.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dharsanguruparan/DocBrief/internal/model"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional status transition does not
	// match the record's current status.
	ErrConflict = errors.New("status transition rejected")
)

// DocumentStore persists uploaded documents. Documents are immutable once
// created.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	// ListDocuments returns a page ordered by upload time, newest first, and
	// the total number of documents.
	ListDocuments(ctx context.Context, limit, offset int) ([]model.Document, int, error)
}

// SummaryStore persists summarization jobs. Every Mark* call is a single
// conditional write: it only applies when the job's current status allows
// the transition, otherwise ErrConflict is returned.
type SummaryStore interface {
	CreateSummary(ctx context.Context, job *model.SummaryJob) error
	GetSummary(ctx context.Context, id string) (*model.SummaryJob, error)
	ListSummaries(ctx context.Context, limit, offset int) ([]model.SummaryJob, int, error)

	// MarkRunning moves a queued or running job to running and counts the attempt.
	MarkRunning(ctx context.Context, id string) error
	// MarkDone stores the summary of a running job.
	MarkDone(ctx context.Context, id, summary string) error
	// MarkFailed stores msg on a queued or running job.
	MarkFailed(ctx context.Context, id, msg string) error
	// FailStale fails every job in one of statuses whose last update is older
	// than before and reports how many were changed.
	FailStale(ctx context.Context, statuses []model.JobStatus, before time.Time, msg string) (int, error)
}

// Store is the full record store used by the binaries.
type Store interface {
	DocumentStore
	SummaryStore
}
