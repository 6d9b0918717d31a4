// PinReminder is a macOS daemon that fires location reminders: each saved
// reminder becomes a geofence around its place, the position of a Home
// Assistant tracker is fed into the geofences, and entering one sends the
// reminder to the configured notification sinks.
//
// Usage:
//
//	pinreminder setup                         # interactive first-run wizard
//	pinreminder add --title ... --lat ... --lon ...
//	pinreminder list                          # saved reminders
//	pinreminder show <id>                     # one reminder
//	pinreminder clear                         # delete all reminders and geofences
//	pinreminder daemon [--config <path>]      # follow the tracker and notify
//	pinreminder status                        # show daemon & config state
//	pinreminder uninstall [--purge]           # stop daemon and remove files
//	pinreminder version                       # print version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/njoerd114/pinreminder/internal/config"
	"github.com/njoerd114/pinreminder/internal/setup"
	"github.com/njoerd114/pinreminder/internal/state"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the subcommand named by args[0].
func run(args []string) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "setup":
		return runSetup(rest)
	case "add":
		return runAdd(rest)
	case "list":
		return runList(rest)
	case "show":
		return runShow(rest)
	case "clear":
		return runClear(rest)
	case "daemon":
		return runDaemon(rest)
	case "status":
		return runStatus(rest)
	case "uninstall":
		return runUninstall(rest)
	case "version":
		fmt.Println("pinreminder", version)
		return nil
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return nil
	}
	return fmt.Errorf("unknown command %q, run 'pinreminder help' for usage", cmd)
}

// printUsage shows help and suggests setup if no config exists.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "PinReminder: location reminders driven by Home Assistant")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  pinreminder setup                   Interactive first-run wizard")
	fmt.Fprintln(w, "  pinreminder add [flags]             Save a reminder and its geofence")
	fmt.Fprintln(w, "  pinreminder list                    List saved reminders")
	fmt.Fprintln(w, "  pinreminder show <id>               Show one reminder")
	fmt.Fprintln(w, "  pinreminder clear                   Delete all reminders and geofences")
	fmt.Fprintln(w, "  pinreminder daemon [--config ...]   Follow the tracker and send notifications")
	fmt.Fprintln(w, "  pinreminder status                  Show daemon & config state")
	fmt.Fprintln(w, "  pinreminder uninstall [--purge]     Stop daemon and remove files")
	fmt.Fprintln(w, "  pinreminder version                 Print version")
	fmt.Fprintln(w, "")

	cfgPath, _ := config.DefaultPath()
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Fprintln(w, "No config file found. Run 'pinreminder setup' to get started.")
	}
}

// commonFlags registers --config and --verbose on fs.
func commonFlags(fs *flag.FlagSet) (cfgPath *string, verbose *bool) {
	defaultCfg, _ := config.DefaultPath()
	cfgPath = fs.String("config", defaultCfg, "path to config.yaml")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	return cfgPath, verbose
}

// newLogger builds the process logger. Interactive commands log warnings
// only so their output stays readable.
func newLogger(format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// openStore opens the state DB at its default location.
func openStore(logger *slog.Logger) (*state.Store, error) {
	dbPath, err := state.DefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("resolving state DB path: %w", err)
	}
	store, err := state.Open(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	return store, nil
}

func closeStore(store *state.Store, logger *slog.Logger) {
	if err := store.Close(); err != nil {
		logger.Error("closing state DB", "error", err)
	}
}

func homeInstaller() (*setup.Installer, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return setup.NewInstaller(homeDir), nil
}

// --- Subcommands -------------------------------------------------------------

// runSetup launches the interactive setup wizard.
func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	cfgPath, _ := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger("text", slog.LevelWarn)
	ctx, stop := signalContext()
	defer stop()

	installer, err := homeInstaller()
	if err != nil {
		return err
	}
	wiz := setup.NewWizard(os.Stdin, os.Stdout, *cfgPath, installer, logger)
	return wiz.Run(ctx)
}

// runStatus prints the current daemon and configuration state.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath, _ := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger("text", slog.LevelWarn)
	installer, err := homeInstaller()
	if err != nil {
		return err
	}

	fmt.Println("PinReminder Status")
	fmt.Println("──────────────────")

	if installer.Loaded() {
		fmt.Println("  Daemon:    running (launchd)")
	} else {
		fmt.Println("  Daemon:    not loaded")
	}

	var cfg *config.Config
	if _, err := os.Stat(*cfgPath); err == nil {
		if c, loadErr := config.Load(*cfgPath); loadErr == nil {
			cfg = c
			fmt.Printf("  Config:    %s ✓\n", *cfgPath)
			fmt.Printf("  HA URL:    %s\n", cfg.HAURL)
			fmt.Printf("  Tracker:   %s\n", cfg.TrackerEntity)
			fmt.Printf("  Radius:    %.0f m\n", cfg.Geofence.RadiusMeters)
			fmt.Printf("  Poll:      %s\n", cfg.PollInterval)
		} else {
			fmt.Printf("  Config:    %s (invalid: %v)\n", *cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:    not found (%s)\n", *cfgPath)
	}

	dbPath, _ := state.DefaultDBPath()
	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  State DB:  %s (%s)\n", dbPath, humanSize(info.Size()))
		if store, err := state.Open(dbPath, logger); err == nil {
			ctx := context.Background()
			rems, _ := store.GetReminders(ctx)
			regions, _ := store.GetRegions(ctx)
			fmt.Printf("  Saved:     %d reminder(s), %d geofence(s)\n", len(rems), len(regions))
			closeStore(store, logger)
		}
	} else {
		fmt.Printf("  State DB:  not found\n")
	}

	if cfg != nil {
		fmt.Printf("  HTTP API:  %s (%s)\n", cfg.HTTPAddr, probeReadiness(cfg.HTTPAddr))
	}

	if _, err := os.Stat(installer.PlistPath()); err == nil {
		fmt.Printf("  Plist:     %s\n", installer.PlistPath())
	} else {
		fmt.Printf("  Plist:     not installed\n")
	}
	fmt.Printf("  Logs:      %s\n", installer.LogDir())

	return nil
}

// probeReadiness asks a running daemon for /readyz.
func probeReadiness(addr string) string {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/readyz")
	if err != nil {
		return "unreachable"
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error != "" {
		return body.Status + ": " + body.Error
	}
	if body.Status == "" {
		return resp.Status
	}
	return body.Status
}

// runUninstall stops the daemon and removes installed files.
func runUninstall(args []string) error {
	fs := flag.NewFlagSet("uninstall", flag.ExitOnError)
	purge := fs.Bool("purge", false, "also remove config, state DB, and logs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	installer, err := homeInstaller()
	if err != nil {
		return err
	}

	fmt.Println("Uninstalling PinReminder...")

	if installer.Loaded() {
		fmt.Println("  Unloading daemon...")
		if err := installer.Unload(); err != nil {
			fmt.Printf("  ⚠ %v\n", err)
		} else {
			fmt.Println("  ✓ Daemon unloaded")
		}
	}

	if err := installer.RemovePlist(); err != nil {
		fmt.Printf("  ⚠ %v\n", err)
	} else {
		fmt.Println("  ✓ Plist removed")
	}

	fmt.Println("  Removing binary...")
	if err := installer.RemoveBinary(); err != nil {
		fmt.Printf("  ⚠ %v\n", err)
	} else {
		fmt.Println("  ✓ Binary removed")
	}

	if *purge {
		fmt.Println("  Purging config, state DB, and logs...")
		if err := installer.Purge(); err != nil {
			fmt.Printf("  ⚠ %v\n", err)
		} else {
			fmt.Println("  ✓ User data purged")
		}
	} else {
		fmt.Println("")
		fmt.Println("  Config and state DB preserved.")
		fmt.Println("  Run with --purge to also remove them:")
		fmt.Println("    pinreminder uninstall --purge")
	}

	fmt.Println("")
	fmt.Println("✓ PinReminder uninstalled.")
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
