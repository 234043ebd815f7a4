package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dharsanguruparan/DocBrief/internal/apperr"
	"github.com/dharsanguruparan/DocBrief/internal/logger"
)

func TestRequestIDPropagates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/t", func(c *gin.Context) {
		c.String(http.StatusOK, logger.RequestID(c.Request.Context()))
	})
	req := httptest.NewRequest(http.MethodGet, "/t", nil)
	req.Header.Set(headerRequestID, "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Body.String() != "abc-123" || rec.Header().Get(headerRequestID) != "abc-123" {
		t.Fatalf("body=%q header=%q", rec.Body.String(), rec.Header().Get(headerRequestID))
	}
}

func TestRecoveryRendersInternalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body apperr.Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Code != apperr.CodeInternal {
		t.Fatalf("body = %s (%v)", rec.Body.String(), err)
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/x", nil))
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("status=%d headers=%v", rec.Code, rec.Header())
	}
}
