package procmon

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
)

type correlationIDKey struct{}

// CorrelationID ties together the log entries of one logical operation:
// a tick, a configuration reload or a diagnostics request.
type CorrelationID string

func (c CorrelationID) String() string {
	return string(c)
}

// NewCorrelationID returns a random (version 4) UUID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// TickCorrelationID derives the ID for everything logged about one tick,
// so sink and enrichment messages line up with the snapshot's tick_id.
func TickCorrelationID(tickID string) CorrelationID {
	return CorrelationID("tick-" + tickID)
}

// DiagnosticsCorrelationID derives the ID for a diagnostics request.
func DiagnosticsCorrelationID(pid int) CorrelationID {
	return CorrelationID("diag-" + strconv.Itoa(pid) + "-" + uuid.NewString()[:8])
}

// WithCorrelationID stores id in ctx. An empty id is replaced by a new
// random one.
func WithCorrelationID(ctx context.Context, id CorrelationID) context.Context {
	if id == "" {
		id = NewCorrelationID()
	}
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext returns the ID stored in ctx, or "".
func CorrelationIDFromContext(ctx context.Context) CorrelationID {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey{}).(CorrelationID)
	return id
}

// CorrelatedLogger prefixes every entry with a fixed correlation ID.
type CorrelatedLogger struct {
	logger Logger
	id     CorrelationID
}

// NewCorrelatedLogger binds logger to the correlation ID carried by ctx.
// Entries are passed through unchanged when ctx carries none.
func NewCorrelatedLogger(ctx context.Context, logger Logger) *CorrelatedLogger {
	return correlated(CorrelationIDFromContext(ctx), logger)
}

func correlated(id CorrelationID, logger Logger) *CorrelatedLogger {
	if logger == nil {
		logger = NopLogger()
	}
	return &CorrelatedLogger{logger: logger, id: id}
}

// ID returns the bound correlation ID.
func (c *CorrelatedLogger) ID() CorrelationID {
	return c.id
}

func (c *CorrelatedLogger) args(args []any) []any {
	if c.id == "" {
		return args
	}
	return append([]any{"correlation_id", string(c.id)}, args...)
}

func (c *CorrelatedLogger) Debug(msg string, args ...any) { c.logger.Debug(msg, c.args(args)...) }
func (c *CorrelatedLogger) Info(msg string, args ...any)  { c.logger.Info(msg, c.args(args)...) }
func (c *CorrelatedLogger) Warn(msg string, args ...any)  { c.logger.Warn(msg, c.args(args)...) }
func (c *CorrelatedLogger) Error(msg string, args ...any) { c.logger.Error(msg, c.args(args)...) }

// CorrelatedSlogHandler adds the context's correlation ID to records
// logged through slog's *Context methods.
type CorrelatedSlogHandler struct {
	inner slog.Handler
}

func NewCorrelatedSlogHandler(inner slog.Handler) *CorrelatedSlogHandler {
	return &CorrelatedSlogHandler{inner: inner}
}

func (h *CorrelatedSlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelatedSlogHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := CorrelationIDFromContext(ctx); id != "" {
		r = r.Clone()
		r.AddAttrs(slog.String("correlation_id", string(id)))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelatedSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelatedSlogHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelatedSlogHandler) WithGroup(name string) slog.Handler {
	return &CorrelatedSlogHandler{inner: h.inner.WithGroup(name)}
}
