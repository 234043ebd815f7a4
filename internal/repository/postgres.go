package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/DocBrief/internal/model"
)

// Postgres wraps all SQL used by the API, the worker and the sweeper.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a store on an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// CreateDocument inserts a document, stamping UploadedAt when unset.
func (r *Postgres) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, mime_type, size_bytes, uploaded_at, title, parsed, parsed_text, storage_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, doc.ID, doc.Filename, doc.MimeType, doc.SizeBytes, doc.UploadedAt, doc.Title, doc.Parsed, doc.ParsedText, doc.StorageRef)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const documentColumns = `id, filename, mime_type, size_bytes, uploaded_at, title, parsed, parsed_text, storage_ref`

func scanDocument(row pgx.Row) (*model.Document, error) {
	var doc model.Document
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.MimeType, &doc.SizeBytes, &doc.UploadedAt,
		&doc.Title, &doc.Parsed, &doc.ParsedText, &doc.StorageRef); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocument returns a document by id.
func (r *Postgres) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

func (r *Postgres) ListDocuments(ctx context.Context, limit, offset int) ([]model.Document, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY uploaded_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	docs := []model.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return docs, total, nil
}

// CreateSummary inserts a job. Timestamps are stamped here so CreatedAt
// reflects the commit the caller observes.
func (r *Postgres) CreateSummary(ctx context.Context, job *model.SummaryJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	_, err := r.pool.Exec(ctx, `
		INSERT INTO summaries (id, document_id, method, min_length, max_length, summary_text, status, error_message, attempts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, job.ID, job.DocumentID, job.Method, job.Params.MinLength, job.Params.MaxLength,
		job.SummaryText, job.Status, job.ErrorMessage, job.Attempts, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

const summaryColumns = `id, document_id, method, min_length, max_length, summary_text, status, error_message, attempts, created_at, updated_at, started_at, finished_at`

func scanSummary(row pgx.Row) (*model.SummaryJob, error) {
	var job model.SummaryJob
	if err := row.Scan(&job.ID, &job.DocumentID, &job.Method, &job.Params.MinLength, &job.Params.MaxLength,
		&job.SummaryText, &job.Status, &job.ErrorMessage, &job.Attempts, &job.CreatedAt, &job.UpdatedAt,
		&job.StartedAt, &job.FinishedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Postgres) GetSummary(ctx context.Context, id string) (*model.SummaryJob, error) {
	job, err := scanSummary(r.pool.QueryRow(ctx, `SELECT `+summaryColumns+` FROM summaries WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select summary: %w", err)
	}
	return job, nil
}

func (r *Postgres) ListSummaries(ctx context.Context, limit, offset int) ([]model.SummaryJob, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM summaries`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count summaries: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+summaryColumns+` FROM summaries ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()
	jobs := []model.SummaryJob{}
	for rows.Next() {
		job, err := scanSummary(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan summary: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list summaries: %w", err)
	}
	return jobs, total, nil
}

func (r *Postgres) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.transition(ctx, id, `
		UPDATE summaries
		SET status='running', attempts=attempts+1, started_at=COALESCE(started_at, $1), updated_at=$1
		WHERE id=$2 AND status IN ('queued','running')
	`, now, id)
}

func (r *Postgres) MarkDone(ctx context.Context, id, summary string) error {
	now := time.Now().UTC()
	return r.transition(ctx, id, `
		UPDATE summaries
		SET status='done', summary_text=$1, error_message=NULL, finished_at=$2, updated_at=$2
		WHERE id=$3 AND status='running'
	`, summary, now, id)
}

func (r *Postgres) MarkFailed(ctx context.Context, id, msg string) error {
	now := time.Now().UTC()
	return r.transition(ctx, id, `
		UPDATE summaries
		SET status='failed', error_message=$1, summary_text=NULL, finished_at=$2, updated_at=$2
		WHERE id=$3 AND status IN ('queued','running')
	`, msg, now, id)
}

// transition runs a conditional update and tells a missing row apart from a
// rejected one.
func (r *Postgres) transition(ctx context.Context, id, stmt string, args ...any) error {
	tag, err := r.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var status string
	err = r.pool.QueryRow(ctx, `SELECT status FROM summaries WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select summary status: %w", err)
	}
	return fmt.Errorf("%w: job %s is %s", ErrConflict, id, status)
}

func (r *Postgres) FailStale(ctx context.Context, statuses []model.JobStatus, before time.Time, msg string) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		if s.Terminal() {
			continue
		}
		names = append(names, string(s))
	}
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE summaries
		SET status='failed', error_message=$1, summary_text=NULL, finished_at=$2, updated_at=$2
		WHERE status = ANY($3) AND updated_at < $4
	`, msg, now, names, before)
	if err != nil {
		return 0, fmt.Errorf("fail stale summaries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
