// Package logger builds the slog logger shared by every binary and carries
// the request id through contexts.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dharsanguruparan/DocBrief/internal/config"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// New returns a logger writing to stdout.
func New(cfg config.LogConfig) *slog.Logger {
	return NewWriter(cfg, os.Stdout)
}

// NewWriter returns a logger writing to w with the configured level and format.
func NewWriter(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps debug|info|warn|error onto slog levels; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID stores id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext scopes base with the request id found on ctx.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id := RequestID(ctx); id != "" {
		return base.With("request_id", id)
	}
	return base
}

// Asynq adapts a slog logger to the asynq.Logger interface.
type Asynq struct {
	L *slog.Logger
}

func (a Asynq) Debug(args ...interface{}) { a.L.Debug(fmt.Sprint(args...)) }
func (a Asynq) Info(args ...interface{})  { a.L.Info(fmt.Sprint(args...)) }
func (a Asynq) Warn(args ...interface{})  { a.L.Warn(fmt.Sprint(args...)) }
func (a Asynq) Error(args ...interface{}) { a.L.Error(fmt.Sprint(args...)) }

// Fatal logs and exits, as asynq expects.
func (a Asynq) Fatal(args ...interface{}) {
	a.L.Error(fmt.Sprint(args...))
	os.Exit(1)
}
