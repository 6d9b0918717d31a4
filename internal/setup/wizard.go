package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/njoerd114/pinreminder/internal/config"
	"github.com/njoerd114/pinreminder/internal/notify"
)

// Sink choices offered in step 3.
const (
	sinkHomeAssistant  = "Home Assistant push notification"
	sinkAppleReminders = "Apple Reminders entry"
	sinkKafka          = "Kafka topic"
	sinkLog            = "Daemon log only"
)

// Wizard guides the user through first-run configuration and installation.
type Wizard struct {
	prompt    *Prompter
	logger    *slog.Logger
	w         io.Writer
	cfgPath   string
	installer *Installer

	// Discovery hooks, replaced in tests.
	ping           func(ctx context.Context, haURL, haToken string) error
	trackers       func(ctx context.Context, haURL, haToken string) ([]HAEntity, error)
	notifyServices func(ctx context.Context, haURL, haToken string) ([]string, error)
	remindersLists func(logger *slog.Logger) ([]notify.RemindersList, error)
}

// NewWizard creates a Wizard that writes its result to cfgPath.
func NewWizard(r io.Reader, w io.Writer, cfgPath string, installer *Installer, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt:         NewPrompter(r, w),
		logger:         logger,
		w:              w,
		cfgPath:        cfgPath,
		installer:      installer,
		ping:           PingHA,
		trackers:       DiscoverTrackers,
		notifyServices: DiscoverNotifyServices,
		remindersLists: notify.DiscoverRemindersLists,
	}
}

// Run executes the interactive setup wizard: HA connection, tracker choice,
// notification sinks, geofence radius, config file, optional daemon install.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to PinReminder Setup!\n")
	fmt.Fprintf(wiz.w, "This wizard connects PinReminder to Home Assistant and installs the daemon.\n\n")

	if _, statErr := os.Stat(wiz.cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", wiz.cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return wiz.offerDaemonInstall()
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	fmt.Fprintf(wiz.w, "Step 1/5: Home Assistant Connection\n")

	haURL := wiz.prompt.String("HA URL", "http://homeassistant.local:8123")
	haToken := wiz.prompt.Secret("Access token")

	fmt.Fprintf(wiz.w, "  Connecting to Home Assistant...")
	if err := wiz.ping(ctx, haURL, haToken); err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot reach Home Assistant: %w\n\n  Check the URL and token, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n\n")

	fmt.Fprintf(wiz.w, "Step 2/5: Location Tracker\n")
	tracker, err := wiz.chooseTracker(ctx, haURL, haToken)
	if err != nil {
		return err
	}

	fmt.Fprintf(wiz.w, "Step 3/5: Notifications\n")
	notifyCfg, err := wiz.chooseSinks(ctx, haURL, haToken)
	if err != nil {
		return err
	}

	fmt.Fprintf(wiz.w, "Step 4/5: Geofence Radius\n")
	radius := wiz.chooseRadius()

	fmt.Fprintf(wiz.w, "Step 5/5: Save Configuration\n")
	cfg := &config.Config{
		HAURL:         haURL,
		HAToken:       haToken,
		TrackerEntity: tracker,
		Geofence:      config.GeofenceConfig{RadiusMeters: radius},
		Notify:        notifyCfg,
	}
	if err := cfg.Write(wiz.cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", wiz.cfgPath)

	return wiz.offerDaemonInstall()
}

// chooseTracker lists discovered trackers or falls back to manual entry.
func (wiz *Wizard) chooseTracker(ctx context.Context, haURL, haToken string) (string, error) {
	fmt.Fprintf(wiz.w, "  Discovering device trackers...\n")
	entities, err := wiz.trackers(ctx, haURL, haToken)
	if err != nil || len(entities) == 0 {
		if err != nil {
			wiz.logger.Warn("could not discover trackers", "error", err)
		}
		fmt.Fprintf(wiz.w, "  ⚠ No trackers found, enter the entity ID manually.\n")
		for {
			id := wiz.prompt.String("Tracker entity (e.g. device_tracker.pixel_8)", "")
			if strings.HasPrefix(id, "device_tracker.") || strings.HasPrefix(id, "person.") {
				fmt.Fprintf(wiz.w, "\n")
				return id, nil
			}
			fmt.Fprintf(wiz.w, "  (must start with device_tracker. or person.)\n")
		}
	}

	options := make([]string, len(entities))
	for i, e := range entities {
		options[i] = e.String()
	}
	idx, err := wiz.prompt.Select("Which tracker should trigger reminders", options)
	if err != nil {
		return "", fmt.Errorf("selecting tracker: %w", err)
	}
	if !entities[idx].HasGPS {
		fmt.Fprintf(wiz.w, "  ⚠ %s reports no coordinates right now; geofences need GPS.\n", entities[idx].EntityID)
	}
	fmt.Fprintf(wiz.w, "\n")
	return entities[idx].EntityID, nil
}

// chooseSinks asks which sinks to enable and collects their settings.
func (wiz *Wizard) chooseSinks(ctx context.Context, haURL, haToken string) (config.NotifyConfig, error) {
	var nc config.NotifyConfig

	options := []string{sinkHomeAssistant, sinkAppleReminders, sinkKafka, sinkLog}
	picked, err := wiz.prompt.MultiSelect("Where should triggered reminders go", options)
	if err != nil {
		return nc, fmt.Errorf("selecting notification sinks: %w", err)
	}

	for _, i := range picked {
		switch options[i] {
		case sinkHomeAssistant:
			svc, err := wiz.chooseNotifyService(ctx, haURL, haToken)
			if err != nil {
				return nc, err
			}
			nc.HomeAssistant = &config.HomeAssistantNotify{Service: svc}
		case sinkAppleReminders:
			nc.AppleReminders = &config.AppleRemindersNotify{List: wiz.chooseRemindersList()}
		case sinkKafka:
			brokers := wiz.prompt.String("Kafka brokers (comma-separated)", "localhost:9092")
			topic := wiz.prompt.String("Kafka topic", "pinreminder.triggered")
			nc.Kafka = &config.KafkaNotify{Brokers: splitList(brokers), Topic: topic}
		case sinkLog:
			nc.Log = true
		}
	}
	fmt.Fprintf(wiz.w, "\n")
	return nc, nil
}

func (wiz *Wizard) chooseNotifyService(ctx context.Context, haURL, haToken string) (string, error) {
	services, err := wiz.notifyServices(ctx, haURL, haToken)
	if err != nil || len(services) == 0 {
		if err != nil {
			wiz.logger.Warn("could not discover notify services", "error", err)
		}
		return wiz.prompt.String("Notify service (e.g. mobile_app_pixel_8)", ""), nil
	}
	idx, err := wiz.prompt.Select("Home Assistant notify service", services)
	if err != nil {
		return "", fmt.Errorf("selecting notify service: %w", err)
	}
	return services[idx], nil
}

func (wiz *Wizard) chooseRemindersList() string {
	fmt.Fprintf(wiz.w, "  Discovering Reminders lists (may trigger permissions prompt)...\n")
	lists, err := wiz.remindersLists(wiz.logger)
	if err != nil || len(lists) == 0 {
		if err != nil {
			wiz.logger.Warn("could not discover Reminders lists", "error", err)
		}
		return wiz.prompt.String("Reminders list name", "Reminders")
	}
	options := make([]string, len(lists))
	for i, l := range lists {
		options[i] = l.String()
	}
	idx, err := wiz.prompt.Select("Reminders list", options)
	if err != nil {
		return lists[0].Title
	}
	return lists[idx].Title
}

func (wiz *Wizard) chooseRadius() float64 {
	def := strconv.Itoa(config.DefaultRadiusMeters)
	raw := wiz.prompt.String("Geofence radius in meters", def)
	radius, err := strconv.ParseFloat(raw, 64)
	if err != nil || radius <= 0 {
		fmt.Fprintf(wiz.w, "  (invalid radius, using default %sm)\n", def)
		radius = config.DefaultRadiusMeters
	}
	fmt.Fprintf(wiz.w, "\n")
	return radius
}

// offerDaemonInstall asks the user whether to install as a background daemon.
func (wiz *Wizard) offerDaemonInstall() error {
	if !wiz.prompt.Confirm("Install as background daemon (starts on login)?", true) {
		fmt.Fprintf(wiz.w, "\n  Skipping daemon install.\n")
		fmt.Fprintf(wiz.w, "  You can run manually with: pinreminder daemon\n")
		fmt.Fprintf(wiz.w, "  Or install later with:     pinreminder setup\n\n")
		return nil
	}

	in := wiz.installer
	fmt.Fprintf(wiz.w, "\n")

	fmt.Fprintf(wiz.w, "  Installing binary to %s...\n", in.BinaryPath())
	if err := in.InstallBinary(); err != nil {
		return fmt.Errorf("installing binary: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Binary installed\n")

	if err := in.WritePlist(); err != nil {
		return fmt.Errorf("writing plist: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ LaunchAgent plist written\n")

	if err := in.CreateLogDir(); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Log directory created\n")

	if err := in.Load(); err != nil {
		return fmt.Errorf("loading daemon: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Daemon loaded and running\n")

	fmt.Fprintf(wiz.w, "\nSetup complete! PinReminder is watching your geofences.\n")
	fmt.Fprintf(wiz.w, "  Config:  %s\n", wiz.cfgPath)
	fmt.Fprintf(wiz.w, "  Logs:    %s\n", in.LogDir())
	fmt.Fprintf(wiz.w, "  Add:     pinreminder add --title ... --lat ... --lon ...\n")
	fmt.Fprintf(wiz.w, "  Status:  pinreminder status\n")
	fmt.Fprintf(wiz.w, "  Remove:  pinreminder uninstall\n\n")

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
