// Package api is the HTTP transport: gin routes, middleware and the JSON
// shapes clients see.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dharsanguruparan/DocBrief/internal/apperr"
	"github.com/dharsanguruparan/DocBrief/internal/dispatch"
	"github.com/dharsanguruparan/DocBrief/internal/model"
	"github.com/dharsanguruparan/DocBrief/internal/repository"
	"github.com/dharsanguruparan/DocBrief/internal/validation"
)

// Submitter creates summarization jobs.
type Submitter interface {
	Submit(ctx context.Context, src dispatch.Source, p dispatch.Params) (*model.SummaryJob, error)
}

// JobReader answers status queries.
type JobReader interface {
	Get(ctx context.Context, id string) (*model.SummaryJob, error)
	List(ctx context.Context, limit, offset int) (model.Page[model.SummaryJob], error)
}

// Blobs stores raw uploads. It is optional.
type Blobs interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
}

// Options carries the server's dependencies.
type Options struct {
	Address         string
	Log             *slog.Logger
	Documents       repository.DocumentStore
	Submitter       Submitter
	Jobs            JobReader
	Validator       *validation.Validator
	ExtractLimit    int64
	Blobs           Blobs
	PreviewChars    int
	URLExpiry       time.Duration
	DispatchMode    string
	ShutdownTimeout time.Duration
}

// Server exposes HTTP endpoints for documents and summaries.
type Server struct {
	opts    Options
	log     *slog.Logger
	engine  *gin.Engine
	started time.Time
}

// New constructs a Server and its routes.
func New(opts Options) *Server {
	if opts.PreviewChars <= 0 {
		opts.PreviewChars = 200
	}
	if opts.ExtractLimit <= 0 {
		opts.ExtractLimit = 4 * opts.Validator.MaxBytes
	}
	if opts.URLExpiry <= 0 {
		opts.URLExpiry = 15 * time.Minute
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{opts: opts, log: opts.Log.With("component", "api"), started: time.Now()}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), RequestLogger(s.log), Recovery(s.log), CORS())

	r.GET("/health", s.handleHealth)

	docs := r.Group("/documents")
	docs.POST("", s.handleUpload)
	docs.GET("", s.handleListDocuments)
	docs.GET("/:id", s.handleGetDocument)
	docs.GET("/:id/download-url", s.handleDownloadURL)

	sums := r.Group("/summaries")
	sums.POST("", s.handleCreateSummary)
	sums.GET("", s.handleListSummaries)
	sums.GET("/:id", s.handleGetSummary)
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", s.opts.Address, "dispatch_mode", s.opts.DispatchMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"dispatch_mode": s.opts.DispatchMode,
		"uptime":        time.Since(s.started).Round(time.Second).String(),
	})
}

// fail renders err in the {detail, code} shape.
func (s *Server) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err, "request_id", GetRequestID(c))
	}
	c.AbortWithStatusJSON(status, apperr.ToBody(err))
}

type pageQuery struct {
	Limit  *int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset *int `form:"offset" binding:"omitempty,min=0"`
}

func (s *Server) bindPage(c *gin.Context) (limit, offset int, ok bool) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.fail(c, apperr.InvalidInput("invalid pagination: "+err.Error()))
		return 0, 0, false
	}
	limit = 20
	if q.Limit != nil {
		limit = *q.Limit
	}
	if q.Offset != nil {
		offset = *q.Offset
	}
	return limit, offset, true
}

// preview returns the first n runes of text, marked when truncated.
func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
