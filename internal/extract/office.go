package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
)

const (
	nsWord = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsText = "urn:oasis:names:tc:opendocument:xmlns:text:1.0"
)

// maxSpaces bounds one text:s run.
const maxSpaces = 1024

func parseDOCX(data []byte, limit int64) (string, error) {
	return parseZippedXML(data, "word/document.xml", limit, docxHandler)
}

func parseODT(data []byte, limit int64) (string, error) {
	return parseZippedXML(data, "content.xml", limit, odtHandler)
}

// handler reacts to one XML token. inText reports whether character data at
// this point belongs to the document body.
type handler func(b *strings.Builder, tok xml.Token, inText *bool)

// parseZippedXML walks member's XML and returns the paragraphs joined by
// newlines. Neither the inflated member nor the text may exceed limit bytes.
func parseZippedXML(data []byte, member string, limit int64, h handler) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	var zf *zip.File
	for _, f := range zr.File {
		if f.Name == member {
			zf = f
			break
		}
	}
	if zf == nil {
		return "", fmt.Errorf("open %s: %w", member, fs.ErrNotExist)
	}
	if zf.UncompressedSize64 > uint64(limit) {
		return "", fmt.Errorf("%s inflates to %d bytes: %w", member, zf.UncompressedSize64, ErrTooLarge)
	}
	rc, err := zf.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", member, err)
	}
	defer rc.Close()

	// the header size is not trusted; the reader enforces the ceiling itself
	dec := xml.NewDecoder(&ceilingReader{r: rc, left: limit})
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", member, err)
		}
		h(&b, tok, &inText)
		if int64(b.Len()) > limit {
			return "", fmt.Errorf("text of %s: %w", member, ErrTooLarge)
		}
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

// ceilingReader fails with ErrTooLarge once more than left bytes are read.
type ceilingReader struct {
	r    io.Reader
	left int64
}

func (c *ceilingReader) Read(p []byte) (int, error) {
	if c.left < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > c.left+1 {
		p = p[:c.left+1]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

// docxHandler keeps w:t runs and ends a line per w:p paragraph.
func docxHandler(b *strings.Builder, tok xml.Token, inText *bool) {
	switch t := tok.(type) {
	case xml.StartElement:
		if t.Name.Space != nsWord {
			return
		}
		switch t.Name.Local {
		case "t":
			*inText = true
		case "tab":
			b.WriteByte('\t')
		case "br", "cr":
			b.WriteByte('\n')
		}
	case xml.EndElement:
		if t.Name.Space != nsWord {
			return
		}
		switch t.Name.Local {
		case "t":
			*inText = false
		case "p":
			b.WriteByte('\n')
		}
	case xml.CharData:
		if *inText {
			b.Write(t)
		}
	}
}

// odtHandler keeps text inside text:p and text:h and expands text:s spacing.
func odtHandler(b *strings.Builder, tok xml.Token, inText *bool) {
	switch t := tok.(type) {
	case xml.StartElement:
		if t.Name.Space != nsText {
			return
		}
		switch t.Name.Local {
		case "p", "h":
			*inText = true
		case "s":
			n := 1
			for _, a := range t.Attr {
				if a.Name.Local == "c" {
					fmt.Sscanf(a.Value, "%d", &n)
				}
			}
			b.WriteString(strings.Repeat(" ", min(max(n, 1), maxSpaces)))
		case "tab":
			b.WriteByte('\t')
		case "line-break":
			b.WriteByte('\n')
		}
	case xml.EndElement:
		if t.Name.Space == nsText && (t.Name.Local == "p" || t.Name.Local == "h") {
			*inText = false
			b.WriteByte('\n')
		}
	case xml.CharData:
		if *inText {
			b.Write(t)
		}
	}
}
