package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// memExporter keeps exported log records in memory.
type memExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memExporter) Export(_ context.Context, recs []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range recs {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memExporter) Shutdown(context.Context) error   { return nil }
func (e *memExporter) ForceFlush(context.Context) error { return nil }

func newTestHandler(t *testing.T) (*slog.Logger, *memExporter, *bytes.Buffer) {
	t.Helper()
	exp := &memExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	next := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(NewHandlerWithLogger(next, lp.Logger("test"))), exp, &buf
}

func attrsOf(r sdklog.Record) map[string]otellog.Value {
	out := map[string]otellog.Value{}
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value
		return true
	})
	return out
}

func TestHandler_EmitsToBothSides(t *testing.T) {
	logger, exp, buf := newTestHandler(t)

	logger.With("entity_id", "device_tracker.pixel").
		WithGroup("region").
		Warn("geofence entered", "id", "shop", "radius", 300)

	if !strings.Contains(buf.String(), "geofence entered") {
		t.Errorf("text output = %q, want message", buf.String())
	}

	if len(exp.records) != 1 {
		t.Fatalf("exported %d records, want 1", len(exp.records))
	}
	rec := exp.records[0]
	if got := rec.Body().AsString(); got != "geofence entered" {
		t.Errorf("Body = %q, want %q", got, "geofence entered")
	}
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("Severity = %v, want %v", rec.Severity(), otellog.SeverityWarn)
	}
	attrs := attrsOf(rec)
	if got := attrs["entity_id"].AsString(); got != "device_tracker.pixel" {
		t.Errorf("entity_id = %q, want device_tracker.pixel", got)
	}
	if got := attrs["region.id"].AsString(); got != "shop" {
		t.Errorf("region.id = %q, want shop", got)
	}
	if got := attrs["region.radius"].AsInt64(); got != 300 {
		t.Errorf("region.radius = %d, want 300", got)
	}
}

func TestHandler_RespectsLevel(t *testing.T) {
	logger, exp, buf := newTestHandler(t)

	logger.Debug("noise")

	if buf.Len() != 0 {
		t.Errorf("text output = %q, want empty", buf.String())
	}
	if len(exp.records) != 0 {
		t.Errorf("exported %d records, want 0", len(exp.records))
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
		{slog.LevelError + 4, otellog.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestSetup_NilConfigIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), nil, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestNewResource_DefaultServiceName(t *testing.T) {
	res, err := newResource("", "1.2.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var name, version string
	for _, kv := range res.Attributes() {
		switch kv.Key {
		case "service.name":
			name = kv.Value.AsString()
		case "service.version":
			version = kv.Value.AsString()
		}
	}
	if name != DefaultServiceName {
		t.Errorf("service.name = %q, want %q", name, DefaultServiceName)
	}
	if version != "1.2.3" {
		t.Errorf("service.version = %q, want %q", version, "1.2.3")
	}
}
