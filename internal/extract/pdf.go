package extract

import (
	"bytes"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// parsePDF reads every page's plain text using ledongthuc/pdf, one page per
// line block, failing once the text passes limit bytes.
func parsePDF(data []byte, limit int64) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	var builder strings.Builder
	for page := 1; page <= doc.NumPage(); page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(content)
		if int64(builder.Len()) > limit {
			return "", fmt.Errorf("page %d: %w", page, ErrTooLarge)
		}
	}
	return builder.String(), nil
}
