// Package extract turns uploaded bytes into plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/docker/go-units"
	"golang.org/x/text/encoding/charmap"

	"github.com/dharsanguruparan/DocBrief/internal/apperr"
)

// Supported MIME types.
const (
	MimeText = "text/plain"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeODT  = "application/vnd.oasis.opendocument.text"
	MimeDOC  = "application/msword"
	MimePDF  = "application/pdf"
)

// Extensions maps each accepted MIME type to its file extension.
var Extensions = map[string]string{
	MimeText: ".txt",
	MimeDOCX: ".docx",
	MimeODT:  ".odt",
	MimeDOC:  ".doc",
	MimePDF:  ".pdf",
}

// DefaultLimit caps extracted text when ParseLimit is given no ceiling.
const DefaultLimit int64 = 64 << 20

// ErrTooLarge reports content that inflates past the extraction ceiling.
var ErrTooLarge = errors.New("extracted content exceeds limit")

// Parse is ParseLimit with DefaultLimit.
func Parse(data []byte, mimeType string) (string, error) {
	return ParseLimit(data, mimeType, DefaultLimit)
}

// ParseLimit extracts text from data according to mimeType. Compressed
// formats may not inflate past limit bytes. The decoded text is returned as
// stored in the file; failures are apperr parsing or unsupported-format
// errors.
func ParseLimit(data []byte, mimeType string, limit int64) (string, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var (
		text string
		err  error
	)
	switch mimeType {
	case MimeText:
		text = decodeText(data)
		if int64(len(text)) > limit {
			err = ErrTooLarge
		}
	case MimeDOCX:
		text, err = parseDOCX(data, limit)
	case MimeODT:
		text, err = parseODT(data, limit)
	case MimePDF:
		text, err = parsePDF(data, limit)
	case MimeDOC:
		return "", apperr.UnsupportedFormat("legacy .doc files cannot be parsed; save the file as .docx or .txt")
	default:
		return "", apperr.UnsupportedFormat(fmt.Sprintf("no parser for mime type %s", mimeType))
	}
	if errors.Is(err, ErrTooLarge) {
		return "", apperr.Parsing(fmt.Sprintf("document expands beyond %s when extracted", units.BytesSize(float64(limit))), err)
	}
	if err != nil {
		return "", apperr.Parsing("failed to extract text from file", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.Parsing("document contains no extractable text", nil)
	}
	return text, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText reads UTF-8, falling back to Windows-1251 for legacy Cyrillic files.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}
