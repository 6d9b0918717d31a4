// Package locationsettings checks that the location source can serve
// geofencing and, when it cannot, asks the user to fix it.
//
// Enablement is advisory: [Resolver.Check] always ends in OnComplete, whether
// or not location ended up enabled.
package locationsettings

import (
	"context"
	"errors"
	"log/slog"

	"github.com/njoerd114/pinreminder/internal/model"
)

// SettingsClient checks the location source against a request. A failure the
// user can fix wraps [model.ErrSettingsResolutionRequired].
type SettingsClient interface {
	CheckLocationSettings(ctx context.Context, req model.LocationRequest) error
}

// ResolutionDialog asks the user to turn location on. accepted reports the
// user's answer; err means the dialog could not be shown at all.
type ResolutionDialog interface {
	Resolve(ctx context.Context, cause error) (accepted bool, err error)
}

// Callbacks receive the outcome of a check. Any of them may be nil.
type Callbacks struct {
	// OnFailure reports an unsatisfied check that will not be resolved.
	OnFailure func(err error)
	// OnResolving fires when the user is being asked to enable location.
	OnResolving func()
	// OnComplete fires once per Check, last.
	OnComplete func(enabled bool)
}

// Resolver runs location-settings checks.
type Resolver struct {
	client SettingsClient
	dialog ResolutionDialog
	req    model.LocationRequest
	log    *slog.Logger
}

// NewResolver creates a Resolver that checks req against client.
func NewResolver(client SettingsClient, dialog ResolutionDialog, req model.LocationRequest, logger *slog.Logger) *Resolver {
	return &Resolver{client: client, dialog: dialog, req: req, log: logger}
}

// Check runs asynchronously. With resolve set, a fixable failure shows the
// resolution dialog once; if the user accepts, the settings are checked again
// without resolution.
func (r *Resolver) Check(ctx context.Context, resolve bool, cb Callbacks) {
	go func() {
		enabled := r.check(ctx, resolve, cb)
		if cb.OnComplete != nil {
			cb.OnComplete(enabled)
		}
	}()
}

func (r *Resolver) check(ctx context.Context, resolve bool, cb Callbacks) bool {
	err := r.client.CheckLocationSettings(ctx, r.req)
	if err == nil {
		r.log.Debug("location settings satisfied", "priority", r.req.Priority)
		return true
	}

	if !resolve || !errors.Is(err, model.ErrSettingsResolutionRequired) {
		r.log.Warn("location settings not satisfied", "resolve", resolve, "error", err)
		if cb.OnFailure != nil {
			cb.OnFailure(err)
		}
		return false
	}

	if cb.OnResolving != nil {
		cb.OnResolving()
	}
	accepted, dlgErr := r.dialog.Resolve(ctx, err)
	if dlgErr != nil {
		r.log.Error("could not start location settings resolution", "error", dlgErr)
		return false
	}
	if !accepted {
		r.log.Info("user declined to enable location")
		return false
	}

	return r.check(ctx, false, cb)
}
