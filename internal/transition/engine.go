package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/pinreminder/internal/geofence"
	"github.com/njoerd114/pinreminder/internal/model"
	"github.com/njoerd114/pinreminder/internal/observability"
)

const (
	defaultPollInterval = time.Minute
	shutdownTimeout     = 5 * time.Second
)

// LocationSource reports tracker positions. Implemented by
// [homeassistant.Adapter].
type LocationSource interface {
	Connect(ctx context.Context) error
	Close() error
	Location(ctx context.Context, entityID string) (model.Fix, error)
	SubscribeLocations(ctx context.Context, entityID string, fn func(model.Fix)) error
}

// Server is the HTTP interface run alongside the engine. Implemented by
// [httpapi.Server].
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// AuthSignal reports signed-in changes. Implemented by [auth.Signal].
type AuthSignal interface {
	Subscribe(fn func(signedIn bool)) (unsubscribe func())
}

// EngineDeps are the components the Engine wires together. Source, Server,
// and Auth are optional.
type EngineDeps struct {
	Monitor *geofence.Monitor
	Handler *Handler
	Source  LocationSource
	Tracker string
	Server  Server
	Auth    AuthSignal
}

// Engine runs the background side of the app: it feeds tracker positions
// into the geofence monitor, whose transitions go to the Handler. Create
// one with [NewEngine] and start it with [Engine.Run].
type Engine struct {
	deps         EngineDeps
	pollInterval time.Duration
	clock        clockwork.Clock
	metrics      *observability.Metrics
	log          *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPollInterval sets how often the tracker is polled when the WebSocket
// is unavailable.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithEngineClock sets the clock driving the poll ticker.
func WithEngineClock(c clockwork.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// NewEngine creates an Engine.
func NewEngine(deps EngineDeps, metrics *observability.Metrics, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		deps:         deps,
		pollInterval: defaultPollInterval,
		clock:        clockwork.NewRealClock(),
		metrics:      metrics,
		log:          logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run loads the registered geofences and processes locations until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.deps.Monitor.Load(ctx); err != nil {
		return fmt.Errorf("loading geofences: %w", err)
	}
	e.metrics.GeofenceRegions.Set(float64(len(e.deps.Monitor.Regions())))

	if err := e.deps.Monitor.Subscribe(e.deps.Handler.Handle); err != nil {
		return fmt.Errorf("subscribing transition handler: %w", err)
	}

	if e.deps.Auth != nil {
		unsubscribe := e.deps.Auth.Subscribe(e.onAuth)
		defer unsubscribe()
	}

	g, gctx := errgroup.WithContext(ctx)

	if e.deps.Server != nil {
		g.Go(func() error {
			if err := e.deps.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.deps.Server.Shutdown(sctx)
		})
	}

	if e.deps.Source != nil {
		g.Go(func() error {
			e.followTracker(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	e.log.Info("engine shutting down")
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (e *Engine) onAuth(signedIn bool) {
	if signedIn {
		e.metrics.SignedIn.Set(1)
		e.log.Info("Home Assistant token accepted")
		return
	}
	e.metrics.SignedIn.Set(0)
	e.log.Warn("Home Assistant token rejected, location updates may stop")
}

// followTracker feeds an initial fix, then WebSocket updates, polling on
// every tick as a fallback. Each tick also reloads regions saved by the CLI.
// It blocks until ctx is cancelled.
func (e *Engine) followTracker(ctx context.Context) {
	src, tracker := e.deps.Source, e.deps.Tracker

	e.poll(ctx, "initial")

	if err := src.Connect(ctx); err != nil {
		e.log.Error("WebSocket connection failed, falling back to polling-only", "error", err)
	} else {
		defer func() { _ = src.Close() }()
		go func() {
			err := src.SubscribeLocations(ctx, tracker, func(fix model.Fix) {
				e.feed(ctx, "websocket", fix)
			})
			if err != nil && ctx.Err() == nil {
				e.log.Error("WS subscription ended unexpectedly", "error", err)
			}
		}()
	}

	ticker := e.clock.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := e.deps.Monitor.Reload(ctx); err != nil && ctx.Err() == nil {
				e.log.Error("reloading geofences", "error", err)
			}
			e.poll(ctx, "poll")
		}
	}
}

func (e *Engine) poll(ctx context.Context, source string) {
	fix, err := e.deps.Source.Location(ctx, e.deps.Tracker)
	if err != nil {
		if ctx.Err() == nil {
			e.log.Error("fetching tracker location", "entity_id", e.deps.Tracker, "error", err)
		}
		return
	}
	e.feed(ctx, source, fix)
}

func (e *Engine) feed(ctx context.Context, source string, fix model.Fix) {
	e.metrics.LocationFixes.WithLabelValues(source, strconv.FormatBool(fix.Available)).Inc()
	e.deps.Monitor.OnLocation(ctx, fix)
	e.metrics.GeofenceRegions.Set(float64(len(e.deps.Monitor.Regions())))
}
