// Package storage contains the in-memory record store used for single-process
// runs and tests. It honours the same conditional transitions as the
// PostgreSQL store.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/DocBrief/internal/model"
	"github.com/dharsanguruparan/DocBrief/internal/repository"
)

// MemoryStore keeps documents and jobs in maps guarded by an RWMutex, so
// status polls can read concurrently while workers write.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*model.Document
	summaries map[string]*model.SummaryJob
	now       func() time.Time
}

var _ repository.Store = (*MemoryStore)(nil)

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*model.Document),
		summaries: make(map[string]*model.SummaryJob),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.ID]; ok {
		return fmt.Errorf("insert document: duplicate id %s", doc.ID)
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = m.now()
	}
	m.documents[doc.ID] = cloneDoc(doc)
	return nil
}

// GetDocument returns a copy so callers cannot mutate internal state.
func (m *MemoryStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (m *MemoryStore) ListDocuments(_ context.Context, limit, offset int) ([]model.Document, int, error) {
	m.mu.RLock()
	all := make([]model.Document, 0, len(m.documents))
	for _, doc := range m.documents {
		all = append(all, *cloneDoc(doc))
	}
	m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].UploadedAt.Equal(all[j].UploadedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].UploadedAt.After(all[j].UploadedAt)
	})
	return window(all, limit, offset), len(all), nil
}

func (m *MemoryStore) CreateSummary(_ context.Context, job *model.SummaryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.summaries[job.ID]; ok {
		return fmt.Errorf("insert summary: duplicate id %s", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now()
	}
	job.UpdatedAt = job.CreatedAt
	m.summaries[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryStore) GetSummary(_ context.Context, id string) (*model.SummaryJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.summaries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *MemoryStore) ListSummaries(_ context.Context, limit, offset int) ([]model.SummaryJob, int, error) {
	m.mu.RLock()
	all := make([]model.SummaryJob, 0, len(m.summaries))
	for _, job := range m.summaries {
		all = append(all, *cloneJob(job))
	}
	m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return window(all, limit, offset), len(all), nil
}

func (m *MemoryStore) MarkRunning(_ context.Context, id string) error {
	return m.transition(id, model.StatusRunning, func(job *model.SummaryJob, now time.Time) {
		job.Attempts++
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	})
}

func (m *MemoryStore) MarkDone(_ context.Context, id, summary string) error {
	return m.transition(id, model.StatusDone, func(job *model.SummaryJob, now time.Time) {
		job.SummaryText = &summary
		job.ErrorMessage = nil
		job.FinishedAt = &now
	})
}

func (m *MemoryStore) MarkFailed(_ context.Context, id, msg string) error {
	return m.transition(id, model.StatusFailed, func(job *model.SummaryJob, now time.Time) {
		job.ErrorMessage = &msg
		job.SummaryText = nil
		job.FinishedAt = &now
	})
}

func (m *MemoryStore) transition(id string, next model.JobStatus, apply func(*model.SummaryJob, time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.summaries[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !job.Status.CanTransition(next) {
		return fmt.Errorf("%w: job %s is %s", repository.ErrConflict, id, job.Status)
	}
	now := m.now()
	job.Status = next
	job.UpdatedAt = now
	apply(job, now)
	return nil
}

func (m *MemoryStore) FailStale(_ context.Context, statuses []model.JobStatus, before time.Time, msg string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for _, job := range m.summaries {
		if !matches(job.Status, statuses) || !job.UpdatedAt.Before(before) {
			continue
		}
		if !job.Status.CanTransition(model.StatusFailed) {
			continue
		}
		text := msg
		job.Status = model.StatusFailed
		job.ErrorMessage = &text
		job.SummaryText = nil
		job.FinishedAt = &now
		job.UpdatedAt = now
		n++
	}
	return n, nil
}

func matches(s model.JobStatus, set []model.JobStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func cloneDoc(doc *model.Document) *model.Document {
	out := *doc
	out.Title = clonePtr(doc.Title)
	out.ParsedText = clonePtr(doc.ParsedText)
	out.StorageRef = clonePtr(doc.StorageRef)
	return &out
}

// cloneJob copies the pointer fields too; a shallow copy would share them.
func cloneJob(job *model.SummaryJob) *model.SummaryJob {
	out := *job
	out.DocumentID = clonePtr(job.DocumentID)
	out.SummaryText = clonePtr(job.SummaryText)
	out.ErrorMessage = clonePtr(job.ErrorMessage)
	out.StartedAt = clonePtr(job.StartedAt)
	out.FinishedAt = clonePtr(job.FinishedAt)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
