// Package apperr defines the error taxonomy surfaced to API clients. Every
// error carries a stable code; the HTTP status is derived from the kind.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindTooLarge
	KindUnsupportedFormat
	KindParsing
	KindInvalidInput
	KindNotFound
	KindInference
)

// Error is an application error with a client-facing detail message.
type Error struct {
	Kind   Kind
	Code   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Detail == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Detail + ": " + e.Err.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can write errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// Sentinels for errors.Is comparisons.
var (
	ErrTooLarge          = &Error{Kind: KindTooLarge}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrParsing           = &Error{Kind: KindParsing}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInference         = &Error{Kind: KindInference}
)

const (
	CodeFileTooLarge      = "file_too_large"
	CodeUnsupportedFormat = "unsupported_format"
	CodeParsing           = "document_parsing_error"
	CodeInvalidParams     = "invalid_params"
	CodeDocumentNotFound  = "document_not_found"
	CodeSummaryNotFound   = "summary_not_found"
	CodeSummarization     = "summarization_error"
	CodeInternal          = "internal_error"
)

func TooLarge(detail string) *Error {
	return &Error{Kind: KindTooLarge, Code: CodeFileTooLarge, Detail: detail}
}

func UnsupportedFormat(detail string) *Error {
	return &Error{Kind: KindUnsupportedFormat, Code: CodeUnsupportedFormat, Detail: detail}
}

func Parsing(detail string, err error) *Error {
	return &Error{Kind: KindParsing, Code: CodeParsing, Detail: detail, Err: err}
}

func InvalidInput(detail string) *Error {
	return &Error{Kind: KindInvalidInput, Code: CodeInvalidParams, Detail: detail}
}

func DocumentNotFound(detail string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeDocumentNotFound, Detail: detail}
}

func SummaryNotFound(detail string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeSummaryNotFound, Detail: detail}
}

func Inference(detail string, err error) *Error {
	return &Error{Kind: KindInference, Code: CodeSummarization, Detail: detail, Err: err}
}

func Internal(detail string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Detail: detail, Err: err}
}

// HTTPStatus maps any error to the status the transport should send.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindTooLarge, KindParsing, KindInvalidInput:
		return http.StatusBadRequest
	case KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON shape of every non-2xx domain response.
type Body struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// ToBody renders err for clients. Errors outside the taxonomy are reported
// as internal without leaking their text.
func ToBody(err error) Body {
	var e *Error
	if !errors.As(err, &e) || e.Code == "" {
		return Body{Detail: "internal server error", Code: CodeInternal}
	}
	if e.Kind == KindInternal {
		return Body{Detail: e.Detail, Code: e.Code}
	}
	return Body{Detail: e.Error(), Code: e.Code}
}
