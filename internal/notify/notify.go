// Package notify delivers reminder notifications. A [Dispatcher] fans one
// notification out to every configured sink; a failing sink does not stop
// the others.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/pinreminder/internal/model"
	"github.com/njoerd114/pinreminder/internal/observability"
)

// Notifier delivers a notification to one destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n model.Notification) error
}

// Dispatcher sends each notification to all sinks concurrently.
type Dispatcher struct {
	sinks   []Notifier
	metrics *observability.Metrics
	log     *slog.Logger
}

// NewDispatcher creates a Dispatcher over sinks.
func NewDispatcher(metrics *observability.Metrics, logger *slog.Logger, sinks ...Notifier) *Dispatcher {
	return &Dispatcher{sinks: sinks, metrics: metrics, log: logger}
}

// Sinks returns the names of the configured sinks.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Notify delivers n to every sink and returns the joined sink errors.
func (d *Dispatcher) Notify(ctx context.Context, n model.Notification) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range d.sinks {
		g.Go(func() error {
			err := s.Notify(ctx, n)
			outcome := "success"
			if err != nil {
				outcome = "error"
				d.log.Error("notification sink failed", "sink", s.Name(), "tag", n.Tag, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
			}
			d.metrics.Notifications.WithLabelValues(s.Name(), outcome).Inc()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range d.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// LogSink writes notifications to the log.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{log: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(_ context.Context, n model.Notification) error {
	attrs := []any{"tag", n.Tag, "title", n.Title, "location", n.Location}
	if n.Latitude != nil && n.Longitude != nil {
		attrs = append(attrs, "latitude", *n.Latitude, "longitude", *n.Longitude)
	}
	if n.Description != "" {
		attrs = append(attrs, "description", n.Description)
	}
	s.log.Info("reminder triggered", attrs...)
	return nil
}
