// Package model contains the records shared by the store, the dispatch layer
// and the HTTP transport.
package model

import (
	"time"
)

// JobStatus describes where a summarization job is in its lifecycle.
type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusFailed  JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransition reports whether a job in status s may move to next.
// running -> running is accepted so a retried attempt can re-enter the state.
// queued -> failed covers executors that never reached running.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusRunning || next == StatusDone || next == StatusFailed
	default:
		return false
	}
}

// DefaultMethod is the method label recorded when a request does not name one.
const DefaultMethod = "mbart_ru_sum_gazeta"

// Document is an uploaded file together with its extracted text.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
	Title      *string   `json:"title,omitempty"`
	Parsed     bool      `json:"parsed"`
	ParsedText *string   `json:"parsed_text"`
	StorageRef *string   `json:"storage_ref"`
}

// Text returns the extracted text, or "" when the document was never parsed.
func (d *Document) Text() string {
	if d == nil || !d.Parsed || d.ParsedText == nil {
		return ""
	}
	return *d.ParsedText
}

// Params are the length bounds handed to the inference backend.
type Params struct {
	MinLength int `json:"min_length"`
	MaxLength int `json:"max_length"`
}

// SummaryJob tracks one summarization request. SummaryText is set only in
// StatusDone and ErrorMessage only in StatusFailed.
type SummaryJob struct {
	ID           string     `json:"id"`
	DocumentID   *string    `json:"document_id"`
	Method       string     `json:"method"`
	Params       Params     `json:"params"`
	SummaryText  *string    `json:"summary_text"`
	Status       JobStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"-"`
	StartedAt    *time.Time `json:"-"`
	FinishedAt   *time.Time `json:"-"`
	Attempts     int        `json:"-"`
}

// Page is one slice of an ordered listing.
type Page[T any] struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Items  []T `json:"items"`
}
