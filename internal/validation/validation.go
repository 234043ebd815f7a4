// Package validation checks uploads before they are parsed.
package validation

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/go-units"

	"github.com/dharsanguruparan/DocBrief/internal/apperr"
	"github.com/dharsanguruparan/DocBrief/internal/extract"
)

// SniffLen is how many leading bytes Validate inspects.
const SniffLen = 2048

// Validator decides whether an upload is acceptable and which MIME type it has.
type Validator struct {
	MaxBytes int64
}

// New returns a Validator with the given size ceiling.
func New(maxBytes int64) *Validator {
	return &Validator{MaxBytes: maxBytes}
}

// Validate checks the size, then sniffs the content, then falls back to the
// file extension. It returns the MIME type to parse with.
func (v *Validator) Validate(filename string, size int64, head []byte) (string, error) {
	if size > v.MaxBytes {
		return "", apperr.TooLarge(fmt.Sprintf("file exceeds %s", units.BytesSize(float64(v.MaxBytes))))
	}
	if len(head) > SniffLen {
		head = head[:SniffLen]
	}
	detected, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	ext := strings.ToLower(filepath.Ext(filename))

	switch detected {
	case extract.MimeText, extract.MimePDF:
		return detected, nil
	case "application/zip":
		// docx and odt are both zip containers; the extension tells them apart
		if ext == ".docx" {
			return extract.MimeDOCX, nil
		}
		if ext == ".odt" {
			return extract.MimeODT, nil
		}
	}
	if m, ok := byExtension(ext); ok {
		return m, nil
	}
	return "", apperr.UnsupportedFormat(fmt.Sprintf("file format of %q (%s) is not supported; allowed: %s",
		filename, detected, strings.Join(allowed(), ", ")))
}

func byExtension(ext string) (string, bool) {
	for m, e := range extract.Extensions {
		if e == ext {
			return m, true
		}
	}
	return "", false
}

func allowed() []string {
	out := make([]string, 0, len(extract.Extensions))
	for _, e := range extract.Extensions {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
