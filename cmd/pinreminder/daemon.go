package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/njoerd114/pinreminder/internal/auth"
	"github.com/njoerd114/pinreminder/internal/config"
	"github.com/njoerd114/pinreminder/internal/geofence"
	"github.com/njoerd114/pinreminder/internal/homeassistant"
	"github.com/njoerd114/pinreminder/internal/httpapi"
	"github.com/njoerd114/pinreminder/internal/notify"
	"github.com/njoerd114/pinreminder/internal/observability"
	"github.com/njoerd114/pinreminder/internal/reminders"
	"github.com/njoerd114/pinreminder/internal/telemetry"
	"github.com/njoerd114/pinreminder/internal/transition"
)

// runDaemon follows the tracker, fires geofences, and serves the HTTP API
// until SIGINT or SIGTERM.
func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	// --- Config & logger -----------------------------------------------------

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(cfg.LogFormat, level)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(context.Background(), cfg.Telemetry, version)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger = slog.New(telemetry.NewHandler(logger.Handler(), "github.com/njoerd114/pinreminder"))
			slog.SetDefault(logger)
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	logger.Info("config loaded",
		"ha_url", cfg.HAURL,
		"tracker", cfg.TrackerEntity,
		"poll_interval", cfg.PollInterval,
		"radius_m", cfg.Geofence.RadiusMeters,
	)

	// --- State DB ------------------------------------------------------------

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	// --- Home Assistant ------------------------------------------------------

	ha, err := homeassistant.NewAdapter(cfg.HAURL, cfg.HAToken, logger)
	if err != nil {
		return fmt.Errorf("initialising Home Assistant client: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	logger.Info("pinging Home Assistant…", "url", cfg.HAURL)
	if err := ha.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to Home Assistant at %q: %w\n\nCheck ha_url and ha_token in your config file", cfg.HAURL, err)
	}
	logger.Info("Home Assistant reachable")

	// --- Notification sinks --------------------------------------------------

	metrics := observability.NewMetrics()

	sinks, err := buildSinks(cfg.Notify, ha, logger)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(metrics, logger, sinks...)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Error("closing notification sinks", "error", err)
		}
	}()
	logger.Info("notification sinks ready", "sinks", dispatcher.Sinks())

	// --- Pipeline ------------------------------------------------------------

	repo := reminders.NewRepository(store, logger)
	monitor := geofence.NewMonitor(store, logger, geofence.WithMaxRegions(cfg.Geofence.MaxRegions))
	handler := transition.NewHandler(repo, dispatcher, metrics, logger)
	signedIn := auth.NewSignal(
		auth.NewProbeSource(ha, cfg.Auth.ProbeInterval, clockwork.NewRealClock(), logger),
		logger,
	)

	server := httpapi.NewServer(cfg.HTTPAddr, httpapi.Deps{
		Ready:       signedIn,
		Locations:   monitor,
		Transitions: handler,
		Reminders:   repo,
	}, logger)

	engine := transition.NewEngine(transition.EngineDeps{
		Monitor: monitor,
		Handler: handler,
		Source:  ha,
		Tracker: cfg.TrackerEntity,
		Server:  server,
		Auth:    signedIn,
	}, metrics, logger, transition.WithPollInterval(cfg.PollInterval))

	logger.Info("daemon starting", "http_addr", cfg.HTTPAddr)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("geofence engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// buildSinks creates the notification sinks enabled in nc.
func buildSinks(nc config.NotifyConfig, ha *homeassistant.Adapter, logger *slog.Logger) ([]notify.Notifier, error) {
	var sinks []notify.Notifier
	if nc.Log {
		sinks = append(sinks, notify.NewLogSink(logger))
	}
	if hc := nc.HomeAssistant; hc != nil {
		sinks = append(sinks, notify.NewHomeAssistantSink(ha, hc.Service, hc.RatePerMinute))
	}
	if kc := nc.Kafka; kc != nil {
		sinks = append(sinks, notify.NewKafkaSink(kc.Brokers, kc.Topic))
	}
	if ac := nc.AppleReminders; ac != nil {
		logger.Info("initialising Apple Reminders client (may trigger permissions prompt)…")
		s, err := notify.NewAppleRemindersSink(ac.List, logger)
		if err != nil {
			return nil, fmt.Errorf("initialising Reminders sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
