// Package transition turns geofence transition events into reminder
// notifications, and hosts the daemon [Engine] that feeds the geofence
// monitor with device locations.
package transition

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/pinreminder/internal/geofence"
	"github.com/njoerd114/pinreminder/internal/model"
	"github.com/njoerd114/pinreminder/internal/observability"
)

const (
	otelScope         = "pinreminder/transition"
	spanHandle        = "transition.handle"
	metricEvents      = "pinreminder.transition.events"
	metricNotified    = "pinreminder.transition.notifications"
	metricErrors      = "pinreminder.transition.errors"
	defaultRegionJobs = 4
)

// ReminderSource loads reminders. Implemented by [reminders.Repository].
type ReminderSource interface {
	GetReminders(ctx context.Context) model.Result[[]model.Reminder]
}

// Notifier delivers one notification. Implemented by [notify.Dispatcher].
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Handler processes transition events. It needs no UI and is safe to call
// from any goroutine.
type Handler struct {
	reminders ReminderSource
	notifier  Notifier
	clock     clockwork.Clock
	metrics   *observability.Metrics
	log       *slog.Logger
	jobs      int

	tracer      trace.Tracer
	cntEvents   metric.Int64Counter
	cntNotified metric.Int64Counter
	cntErrors   metric.Int64Counter
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithClock sets the clock used to stamp notifications.
func WithClock(c clockwork.Clock) HandlerOption {
	return func(h *Handler) { h.clock = c }
}

// WithConcurrency bounds how many regions of one event are handled at once.
func WithConcurrency(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.jobs = n
		}
	}
}

// NewHandler creates a Handler.
func NewHandler(src ReminderSource, notifier Notifier, metrics *observability.Metrics, logger *slog.Logger, opts ...HandlerOption) *Handler {
	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	h := &Handler{
		reminders: src,
		notifier:  notifier,
		clock:     clockwork.NewRealClock(),
		metrics:   metrics,
		log:       logger,
		jobs:      defaultRegionJobs,

		tracer:      otel.Tracer(otelScope),
		cntEvents:   mustCounter(metricEvents, "Number of geofence transition events handled"),
		cntNotified: mustCounter(metricNotified, "Number of reminder notifications emitted"),
		cntErrors:   mustCounter(metricErrors, "Number of failed or malformed transition events"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one event. Error events are logged and dropped. For
// ENTER events all reminders are loaded fresh and one notification is sent
// per triggering region that matches a reminder ID. Regions are handled
// independently; a failure on one does not affect the others.
func (h *Handler) Handle(ctx context.Context, ev geofence.Event) {
	ctx, span := h.tracer.Start(ctx, spanHandle)
	defer span.End()
	h.cntEvents.Add(ctx, 1)

	if ev.HasError() {
		h.log.Error("geofence error", "code", int(ev.ErrorCode), "message", geofence.ErrorMessage(ev.ErrorCode))
		h.cntErrors.Add(ctx, 1)
		h.metrics.TransitionEvents.WithLabelValues("error").Inc()
		span.SetAttributes(attribute.Int("geofence.error_code", int(ev.ErrorCode)))
		return
	}
	if ev.Transition&geofence.TransitionEnter == 0 {
		h.log.Debug("ignoring transition", "transition", ev.Transition.String())
		h.metrics.TransitionEvents.WithLabelValues("ignored").Inc()
		return
	}

	res := h.reminders.GetReminders(ctx)
	list, ok := res.Data()
	if !ok {
		h.log.Debug("reminders unavailable, dropping transition", "message", res.Message())
		h.metrics.TransitionEvents.WithLabelValues("load_failed").Inc()
		return
	}

	byID := make(map[string]model.Reminder, len(list))
	for _, r := range list {
		byID[r.ID] = r
	}

	span.SetAttributes(attribute.Int("geofence.regions", len(ev.RegionIDs)))

	var g errgroup.Group
	g.SetLimit(h.jobs)
	for _, id := range ev.RegionIDs {
		g.Go(func() error {
			h.handleRegion(ctx, id, byID)
			return nil
		})
	}
	_ = g.Wait()
}

func (h *Handler) handleRegion(ctx context.Context, id string, byID map[string]model.Reminder) {
	log := h.log.With("region_id", id)
	defer func() {
		if p := recover(); p != nil {
			log.Error("panic handling region", "panic", p)
			h.cntErrors.Add(ctx, 1)
		}
	}()

	r, ok := byID[id]
	if !ok {
		log.Debug("no reminder for region")
		h.metrics.TransitionEvents.WithLabelValues("unmatched").Inc()
		return
	}

	h.metrics.TransitionEvents.WithLabelValues("matched").Inc()
	n := model.NotificationFor(r, h.clock.Now().UTC())
	if err := h.notifier.Notify(ctx, n); err != nil {
		log.Error("notifying reminder", "reminder_id", r.ID, "error", err)
		h.cntErrors.Add(ctx, 1)
		return
	}
	h.cntNotified.Add(ctx, 1)
	log.Info("reminder notified", "reminder_id", r.ID, "title", r.Title)
}

// HandleWithTimeout is Handle bounded by timeout, for callers outside the daemon
// loop such as the HTTP API.
func (h *Handler) HandleWithTimeout(ctx context.Context, ev geofence.Event, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	h.Handle(ctx, ev)
}
