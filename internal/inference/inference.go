// Package inference defines the summarization backend contract and its
// implementations. Backends are constructed explicitly and owned by the
// process that uses them; nothing here is a package-level singleton.
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Request is one summarization call. Lengths are measured in words.
type Request struct {
	Text      string
	MinLength int
	MaxLength int
}

// Backend maps text to a summary. Calls may block for a long time.
type Backend interface {
	Summarize(ctx context.Context, req Request) (string, error)
}

// ErrEmptyInput is returned for requests without text.
var ErrEmptyInput = errors.New("input text is empty")

// Close releases b if it holds resources.
func Close(b Backend) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Lead is an extractive backend: it keeps leading sentences until the
// summary reaches MinLength words, capped at MaxLength words. It needs no
// model and is the default for development.
type Lead struct{}

func (Lead) Summarize(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", ErrEmptyInput
	}
	limit := req.MaxLength
	if limit <= 0 {
		limit = len(strings.Fields(text))
	}
	var (
		out   []string
		words int
	)
	for _, sentence := range splitSentences(text) {
		fields := strings.Fields(sentence)
		if words+len(fields) > limit {
			fields = fields[:limit-words]
		}
		out = append(out, strings.Join(fields, " "))
		words += len(fields)
		if words >= limit || (req.MinLength > 0 && words >= req.MinLength) {
			break
		}
	}
	summary := strings.TrimSpace(strings.Join(out, " "))
	if summary == "" {
		return "", fmt.Errorf("no sentences within %d words", limit)
	}
	return summary, nil
}

func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' && r != '…' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

const systemPrompt = `You summarize documents.
Write an abstractive summary in the same language as the input.
Keep names, dates and numbers that matter. Do not add facts.
Return only the summary text.`

func userPrompt(req Request) string {
	var b strings.Builder
	if req.MinLength > 0 || req.MaxLength > 0 {
		fmt.Fprintf(&b, "Length: between %d and %d words.\n", req.MinLength, req.MaxLength)
	}
	b.WriteString("Content:\n")
	b.WriteString(strings.TrimSpace(req.Text))
	return b.String()
}

// tokenBudget converts a word ceiling into an output token ceiling.
func tokenBudget(maxWords int) int64 {
	if maxWords <= 0 {
		return 512
	}
	return int64(maxWords)*2 + 16
}
