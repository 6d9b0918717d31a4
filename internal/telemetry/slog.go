package telemetry

import (
	"context"
	"log/slog"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// Handler is a slog.Handler that writes every record to next and also emits
// it through an OpenTelemetry logger. Before [Setup] installs a provider the
// OTel side is a no-op.
type Handler struct {
	next   slog.Handler
	logger otellog.Logger
	attrs  []otellog.KeyValue
	group  string
}

// NewHandler wraps next, emitting records under the given instrumentation
// scope name via the global logger provider.
func NewHandler(next slog.Handler, scope string) *Handler {
	return NewHandlerWithLogger(next, global.GetLoggerProvider().Logger(scope))
}

// NewHandlerWithLogger wraps next using an explicit OTel logger.
func NewHandlerWithLogger(next slog.Handler, logger otellog.Logger) *Handler {
	return &Handler{next: next, logger: logger}
}

// Enabled defers to the wrapped handler's level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle forwards r to the wrapped handler and emits it to OTel.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var rec otellog.Record
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	rec.SetTimestamp(ts)
	rec.SetBody(otellog.StringValue(r.Message))
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(h.convert(a))
		return true
	})
	h.logger.Emit(ctx, rec)

	return h.next.Handle(ctx, r)
}

// WithAttrs returns a Handler carrying attrs on both sides.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	c.next = h.next.WithAttrs(attrs)
	for _, a := range attrs {
		c.attrs = append(c.attrs, h.convert(a))
	}
	return c
}

// WithGroup prefixes later attribute keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.next = h.next.WithGroup(name)
	if c.group != "" {
		c.group += "." + name
	} else {
		c.group = name
	}
	return c
}

func (h *Handler) clone() *Handler {
	c := *h
	c.attrs = append([]otellog.KeyValue(nil), h.attrs...)
	return &c
}

func (h *Handler) convert(a slog.Attr) otellog.KeyValue {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return otellog.String(key, v.String())
	case slog.KindInt64:
		return otellog.Int64(key, v.Int64())
	case slog.KindUint64:
		return otellog.Int64(key, int64(v.Uint64()))
	case slog.KindFloat64:
		return otellog.Float64(key, v.Float64())
	case slog.KindBool:
		return otellog.Bool(key, v.Bool())
	default:
		return otellog.String(key, v.String())
	}
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l >= slog.LevelError:
		return otellog.SeverityError
	case l >= slog.LevelWarn:
		return otellog.SeverityWarn
	case l >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}
