package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dharsanguruparan/DocBrief/internal/apperr"
	"github.com/dharsanguruparan/DocBrief/internal/extract"
	"github.com/dharsanguruparan/DocBrief/internal/model"
	"github.com/dharsanguruparan/DocBrief/internal/repository"
	"github.com/dharsanguruparan/DocBrief/internal/s3storage"
	"github.com/dharsanguruparan/DocBrief/internal/validation"
)

// multipartSlack covers boundaries and headers around the file part.
const multipartSlack = 64 << 10

type documentCreateResponse struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	MimeType      string    `json:"mime_type"`
	SizeBytes     int64     `json:"size_bytes"`
	UploadedAt    time.Time `json:"uploaded_at"`
	Title         *string   `json:"title,omitempty"`
	Parsed        bool      `json:"parsed"`
	ParsedPreview *string   `json:"parsed_preview"`
	StorageRef    *string   `json:"storage_ref,omitempty"`
}

type documentListItem struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
	Parsed     bool      `json:"parsed"`
}

type downloadURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleUpload(c *gin.Context) {
	ctx := c.Request.Context()
	maxBytes := s.opts.Validator.MaxBytes
	if c.Request.ContentLength > maxBytes+multipartSlack {
		s.fail(c, apperr.TooLarge(fmt.Sprintf("request body exceeds %d bytes", maxBytes)))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartSlack)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, apperr.TooLarge(fmt.Sprintf("request body exceeds %d bytes", maxBytes)))
			return
		}
		s.fail(c, apperr.InvalidInput("multipart field \"file\" is required"))
		return
	}
	if fh.Size > maxBytes {
		// reject before reading the part into memory
		_, err := s.opts.Validator.Validate(fh.Filename, fh.Size, nil)
		s.fail(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, apperr.Internal("failed to read upload", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		s.fail(c, apperr.Internal("failed to read upload", err))
		return
	}

	head := data
	if len(head) > validation.SniffLen {
		head = head[:validation.SniffLen]
	}
	mimeType, err := s.opts.Validator.Validate(fh.Filename, int64(len(data)), head)
	if err != nil {
		s.fail(c, err)
		return
	}
	text, err := extract.ParseLimit(data, mimeType, s.opts.ExtractLimit)
	if err != nil {
		s.fail(c, err)
		return
	}

	doc := &model.Document{
		ID:         uuid.NewString(),
		Filename:   fh.Filename,
		MimeType:   mimeType,
		SizeBytes:  int64(len(data)),
		UploadedAt: time.Now().UTC(),
		Parsed:     true,
		ParsedText: &text,
	}
	if title := firstNonEmpty(c.PostForm("title"), c.Query("title")); title != "" {
		doc.Title = &title
	}
	if s.opts.Blobs != nil {
		key := s3storage.ObjectKey(doc.ID, doc.Filename)
		if err := s.opts.Blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mimeType); err != nil {
			s.fail(c, apperr.Internal("failed to store file", err))
			return
		}
		doc.StorageRef = &key
	}
	if err := s.opts.Documents.CreateDocument(ctx, doc); err != nil {
		if doc.StorageRef != nil {
			s.removeBlob(ctx, *doc.StorageRef)
		}
		s.fail(c, apperr.Internal("failed to store document", err))
		return
	}
	s.log.Info("document uploaded", "document_id", doc.ID, "mime_type", mimeType, "size_bytes", doc.SizeBytes)

	p := preview(text, s.opts.PreviewChars)
	c.JSON(http.StatusCreated, documentCreateResponse{
		ID:            doc.ID,
		Filename:      doc.Filename,
		MimeType:      doc.MimeType,
		SizeBytes:     doc.SizeBytes,
		UploadedAt:    doc.UploadedAt,
		Title:         doc.Title,
		Parsed:        doc.Parsed,
		ParsedPreview: &p,
		StorageRef:    doc.StorageRef,
	})
}

func (s *Server) removeBlob(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.opts.Blobs.Remove(ctx, key); err != nil {
		s.log.Warn("failed to remove orphaned upload", "key", key, "error", err)
	}
}

func (s *Server) handleListDocuments(c *gin.Context) {
	limit, offset, ok := s.bindPage(c)
	if !ok {
		return
	}
	docs, total, err := s.opts.Documents.ListDocuments(c.Request.Context(), limit, offset)
	if err != nil {
		s.fail(c, apperr.Internal("failed to list documents", err))
		return
	}
	items := make([]documentListItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, documentListItem{
			ID: d.ID, Filename: d.Filename, SizeBytes: d.SizeBytes, UploadedAt: d.UploadedAt, Parsed: d.Parsed,
		})
	}
	c.JSON(http.StatusOK, model.Page[documentListItem]{Total: total, Limit: limit, Offset: offset, Items: items})
}

func (s *Server) loadDocument(c *gin.Context) (*model.Document, bool) {
	id := c.Param("id")
	doc, err := s.opts.Documents.GetDocument(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		s.fail(c, apperr.DocumentNotFound(fmt.Sprintf("document %s not found", id)))
		return nil, false
	}
	if err != nil {
		s.fail(c, apperr.Internal("failed to load document", err))
		return nil, false
	}
	return doc, true
}

func (s *Server) handleGetDocument(c *gin.Context) {
	doc, ok := s.loadDocument(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDownloadURL(c *gin.Context) {
	doc, ok := s.loadDocument(c)
	if !ok {
		return
	}
	if doc.StorageRef == nil || s.opts.Blobs == nil {
		s.fail(c, apperr.DocumentNotFound(fmt.Sprintf("document %s has no stored file", doc.ID)))
		return
	}
	url, err := s.opts.Blobs.PresignGet(c.Request.Context(), *doc.StorageRef, doc.Filename, s.opts.URLExpiry)
	if err != nil {
		s.fail(c, apperr.Internal("failed to generate url", err))
		return
	}
	c.JSON(http.StatusOK, downloadURLResponse{URL: url, ExpiresAt: time.Now().UTC().Add(s.opts.URLExpiry)})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
