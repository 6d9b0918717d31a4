// Package telemetry initialises optional OpenTelemetry trace, metric, and log
// providers backed by an OTLP gRPC collector. All three providers share a
// single gRPC connection.
//
// Call [Setup] once during daemon startup and defer the returned
// [ShutdownFunc]. Without a telemetry block in the config the global providers
// stay no-ops, so the save flow spans and the transition counters cost nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/njoerd114/pinreminder/internal/config"
)

// DefaultServiceName is the service.name resource attribute used when the
// config does not override it.
const DefaultServiceName = "pinreminder"

// ShutdownFunc flushes and closes all OTel providers.
// Call it with a fresh context; the daemon context is already cancelled by
// the time shutdown runs.
type ShutdownFunc func(context.Context) error

// noopShutdown is returned on error so callers can always defer unconditionally.
func noopShutdown(context.Context) error { return nil }

// Setup installs global trace, metric, and log providers exporting to
// cfg.OTLPEndpoint. A nil cfg leaves the globals untouched and returns a no-op
// shutdown.
func Setup(ctx context.Context, cfg *config.TelemetryConfig, version string) (ShutdownFunc, error) {
	if cfg == nil {
		return noopShutdown, nil
	}

	res, err := newResource(cfg.ServiceName, version)
	if err != nil {
		return noopShutdown, err
	}

	var creds credentials.TransportCredentials
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(nil) // system root CAs
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return noopShutdown, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}

	p := &providers{conn: conn}
	if err := p.start(ctx, res, cfg.Headers); err != nil {
		_ = p.shutdown(ctx)
		return noopShutdown, err
	}

	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	global.SetLoggerProvider(p.lp)
	return p.shutdown, nil
}

// newResource describes this process. resource.NewSchemaless avoids the
// schema URL conflict between resource.Default and the semconv import.
func newResource(serviceName, version string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	svc := resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	)
	res, err := resource.Merge(resource.Default(), svc)
	if err != nil {
		return nil, fmt.Errorf("building OTel resource: %w", err)
	}
	return res, nil
}

// providers owns the SDK providers created on one collector connection.
type providers struct {
	conn *grpc.ClientConn
	tp   *sdktrace.TracerProvider
	mp   *sdkmetric.MeterProvider
	lp   *sdklog.LoggerProvider
}

func (p *providers) start(ctx context.Context, res *resource.Resource, headers map[string]string) error {
	traceExp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(p.conn),
		otlptracegrpc.WithHeaders(headers),
	)
	if err != nil {
		return fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)

	metricExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(p.conn),
		otlpmetricgrpc.WithHeaders(headers),
	)
	if err != nil {
		return fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)

	logExp, err := otlploggrpc.New(ctx,
		otlploggrpc.WithGRPCConn(p.conn),
		otlploggrpc.WithHeaders(headers),
	)
	if err != nil {
		return fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	p.lp = sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	return nil
}

// shutdown flushes whichever providers were created, then closes the
// connection.
func (p *providers) shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric provider shutdown: %w", err))
		}
	}
	if p.lp != nil {
		if err := p.lp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log provider shutdown: %w", err))
		}
	}
	if err := p.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("OTLP gRPC connection close: %w", err))
	}
	return errors.Join(errs...)
}
