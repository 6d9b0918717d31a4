package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/njoerd114/pinreminder/internal/config"
	"github.com/njoerd114/pinreminder/internal/flow"
	"github.com/njoerd114/pinreminder/internal/geofence"
	"github.com/njoerd114/pinreminder/internal/homeassistant"
	"github.com/njoerd114/pinreminder/internal/locationsettings"
	"github.com/njoerd114/pinreminder/internal/model"
	"github.com/njoerd114/pinreminder/internal/observability"
	"github.com/njoerd114/pinreminder/internal/permission"
	"github.com/njoerd114/pinreminder/internal/reminders"
	"github.com/njoerd114/pinreminder/internal/setup"
)

// runAdd saves one reminder through the save flow: permissions, location
// settings, geofence registration, then persistence.
func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	title := fs.String("title", "", "reminder title (required)")
	description := fs.String("description", "", "optional details")
	place := fs.String("place", "", "name of the place; defaults to the coordinates")
	latStr := fs.String("lat", "", "latitude of the place")
	lonStr := fs.String("lon", "", "longitude of the place")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	logger := newLogger(cfg.LogFormat, level)

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	ha, err := homeassistant.NewAdapter(cfg.HAURL, cfg.HAToken, logger)
	if err != nil {
		return fmt.Errorf("initialising Home Assistant client: %w", err)
	}

	monitor := geofence.NewMonitor(store, logger, geofence.WithMaxRegions(cfg.Geofence.MaxRegions))
	if err := monitor.Load(ctx); err != nil {
		return err
	}

	interactive := setup.IsInteractive(os.Stdin)
	prompt := setup.NewPrompter(os.Stdin, os.Stdout)

	draft := flow.Draft{Title: *title, Description: *description}
	lat, lon, ok, err := coordinates(prompt, *latStr, *lonStr, interactive)
	if err != nil {
		return err
	}
	if ok {
		if *place != "" {
			draft.SelectPOI(*place, lat, lon)
		} else {
			draft.SelectLocation(lat, lon)
		}
	}

	f := flow.New(flow.Deps{
		Permissions: permission.NewNegotiator(store,
			permission.NewConsoleDialog(prompt, os.Stdout, interactive),
			cfg.Permissions.BackgroundRequired(), logger),
		Settings: locationsettings.NewResolver(ha.ForTracker(cfg.TrackerEntity),
			locationsettings.NewConsoleDialog(prompt, os.Stdout, cfg.TrackerEntity, interactive),
			model.LowPowerRequest(cfg.Geofence.LowPowerAccuracyMeters), logger),
		Registrar: geofence.NewRegistrar(monitor, cfg.Geofence.RadiusMeters, logger),
		Saver:     reminders.NewRepository(store, logger),
	}, consoleUI(os.Stdout), observability.NewMetrics(), logger)

	outcomes, err := f.Save(ctx, draft)
	if err != nil {
		return err
	}

	select {
	case o := <-outcomes:
		if o.State == flow.StateError {
			return errors.New(model.Text(o.Message))
		}
		fmt.Printf("  id: %s\n", o.Reminder.ID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// coordinates parses --lat/--lon, prompting for both when neither was given
// on an interactive terminal. ok is false when no position was provided.
func coordinates(p *setup.Prompter, latStr, lonStr string, interactive bool) (lat, lon float64, ok bool, err error) {
	if latStr == "" && lonStr == "" {
		if !interactive {
			return 0, 0, false, nil
		}
		if lat, err = p.Float("Latitude", -90, 90); err != nil {
			return 0, 0, false, err
		}
		if lon, err = p.Float("Longitude", -180, 180); err != nil {
			return 0, 0, false, err
		}
		return lat, lon, true, nil
	}
	if lat, err = strconv.ParseFloat(latStr, 64); err != nil {
		return 0, 0, false, fmt.Errorf("--lat %q: %w", latStr, err)
	}
	if lon, err = strconv.ParseFloat(lonStr, 64); err != nil {
		return 0, 0, false, fmt.Errorf("--lon %q: %w", lonStr, err)
	}
	return lat, lon, true, nil
}

// consoleUI renders save-flow UI events on w.
func consoleUI(w io.Writer) flow.UI {
	return flow.UIFunc(func(ev flow.UIEvent) {
		switch e := ev.(type) {
		case flow.ShowLoading:
			if e.On {
				fmt.Fprintln(w, "  Saving reminder...")
			}
		case flow.ShowMessage:
			fmt.Fprintf(w, "  ⚠ %s\n", model.Text(e.Message))
		case flow.ShowToast:
			fmt.Fprintf(w, "  ✓ %s\n", model.Text(e.Message))
		case flow.NavigateBack:
		}
	})
}

// localState is the state DB opened for the list, show, and clear commands.
type localState struct {
	repo    *reminders.Repository
	monitor *geofence.Monitor
	close   func()
}

// openLocal parses fs and opens the state DB.
func openLocal(fs *flag.FlagSet, args []string) (*localState, error) {
	_, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := newLogger("text", level)

	store, err := openStore(logger)
	if err != nil {
		return nil, err
	}
	return &localState{
		repo:    reminders.NewRepository(store, logger),
		monitor: geofence.NewMonitor(store, logger),
		close:   func() { closeStore(store, logger) },
	}, nil
}

func runList(args []string) error {
	st, err := openLocal(flag.NewFlagSet("list", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	defer st.close()

	res := st.repo.GetReminders(context.Background())
	rems, ok := res.Data()
	if !ok {
		return errors.New(res.Message())
	}
	if len(rems) == 0 {
		fmt.Println("No reminders saved.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tLOCATION")
	for _, r := range rems {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Title, r.Location)
	}
	return tw.Flush()
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	st, err := openLocal(fs, args)
	if err != nil {
		return err
	}
	defer st.close()

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: pinreminder show <id>")
	}
	res := st.repo.GetReminder(context.Background(), fs.Arg(0))
	r, ok := res.Data()
	if !ok {
		return errors.New(res.Message())
	}

	fmt.Printf("ID:          %s\n", r.ID)
	fmt.Printf("Title:       %s\n", r.Title)
	if r.Description != "" {
		fmt.Printf("Description: %s\n", r.Description)
	}
	fmt.Printf("Location:    %s\n", r.Location)
	if lat, lon, ok := r.Coordinates(); ok {
		fmt.Printf("Coordinates: %s\n", model.CoordinateSnippet(lat, lon))
	}
	return nil
}

// runClear deletes every reminder and geofence. A running daemon drops the
// geofences on its next poll.
func runClear(args []string) error {
	st, err := openLocal(flag.NewFlagSet("clear", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	defer st.close()

	ctx := context.Background()
	res := st.repo.DeleteAllReminders(ctx)
	n, ok := res.Data()
	if !ok {
		return errors.New(res.Message())
	}
	if err := st.monitor.RemoveAll(ctx); err != nil {
		return fmt.Errorf("removing geofences: %w", err)
	}
	fmt.Printf("✓ Deleted %d reminder(s) and their geofences.\n", n)
	return nil
}
