package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dharsanguruparan/DocBrief/internal/apperr"
	"github.com/dharsanguruparan/DocBrief/internal/dispatch"
	"github.com/dharsanguruparan/DocBrief/internal/model"
)

const (
	defaultMinLength = 32
	defaultMaxLength = 256
)

type summaryCreateRequest struct {
	DocumentID *string `json:"document_id"`
	Text       *string `json:"text"`
	MinLength  *int    `json:"min_length" binding:"omitempty,min=0,max=1024"`
	MaxLength  *int    `json:"max_length" binding:"omitempty,min=16,max=2048"`
	Method     *string `json:"method"`
}

type summaryListItem struct {
	ID             string          `json:"id"`
	Method         string          `json:"method"`
	CreatedAt      time.Time       `json:"created_at"`
	Status         model.JobStatus `json:"status"`
	SummaryPreview string          `json:"summary_preview"`
}

func (s *Server) handleCreateSummary(c *gin.Context) {
	var req summaryCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, apperr.InvalidInput("invalid request body: "+err.Error()))
		return
	}
	p := dispatch.Params{MinLength: defaultMinLength, MaxLength: defaultMaxLength}
	if req.MinLength != nil {
		p.MinLength = *req.MinLength
	}
	if req.MaxLength != nil {
		p.MaxLength = *req.MaxLength
	}
	if req.Method != nil {
		p.Method = *req.Method
	}
	if p.MinLength > p.MaxLength {
		s.fail(c, apperr.InvalidInput("min_length must not exceed max_length"))
		return
	}

	// document_id takes precedence when both sources are given
	var src dispatch.Source
	switch {
	case req.DocumentID != nil && *req.DocumentID != "":
		src = dispatch.DocumentRef{ID: *req.DocumentID}
	case req.Text != nil:
		src = dispatch.InlineText{Text: *req.Text}
	default:
		src = dispatch.InlineText{}
	}

	job, err := s.opts.Submitter.Submit(c.Request.Context(), src, p)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (s *Server) handleGetSummary(c *gin.Context) {
	job, err := s.opts.Jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleListSummaries(c *gin.Context) {
	limit, offset, ok := s.bindPage(c)
	if !ok {
		return
	}
	page, err := s.opts.Jobs.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	items := make([]summaryListItem, 0, len(page.Items))
	for _, j := range page.Items {
		item := summaryListItem{ID: j.ID, Method: j.Method, CreatedAt: j.CreatedAt, Status: j.Status}
		if j.SummaryText != nil {
			item.SummaryPreview = preview(*j.SummaryText, s.opts.PreviewChars)
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, model.Page[summaryListItem]{Total: page.Total, Limit: page.Limit, Offset: page.Offset, Items: items})
}
