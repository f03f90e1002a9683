package log

import (
	"context"
	"log/slog"
	"time"
)

type ctxKey struct{}

// TickInfo identifies the scheduled minute (and optionally the job) the
// current work belongs to.
type TickInfo struct {
	ScheduledFor time.Time
	JobName      string
}

// WithTick returns a copy of ctx carrying tick attributes for logging.
func WithTick(ctx context.Context, info TickInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

// TickFromContext extracts tick attributes from ctx.
func TickFromContext(ctx context.Context) (TickInfo, bool) {
	info, ok := ctx.Value(ctxKey{}).(TickInfo)
	return info, ok
}

// ContextHandler wraps an slog.Handler and automatically extracts tick
// attributes from the context of each log record.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler returns a handler that enriches every record with
// context values (scheduled minute, job name) before delegating to inner.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if info, ok := TickFromContext(ctx); ok {
		r.AddAttrs(slog.Time("scheduled_for", info.ScheduledFor))
		if info.JobName != "" {
			r.AddAttrs(slog.String("job", info.JobName))
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
