package geofence

import (
	"context"
	"log/slog"
)

// Client accepts geofence requests. Implemented by [Monitor].
type Client interface {
	AddGeofences(ctx context.Context, req Request) error
}

// Registrar registers one region per reminder.
type Registrar struct {
	client Client
	radius float64
	log    *slog.Logger
}

// NewRegistrar creates a Registrar. A radius of zero means
// [DefaultRadiusMeters].
func NewRegistrar(client Client, radius float64, logger *slog.Logger) *Registrar {
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}
	return &Registrar{client: client, radius: radius, log: logger}
}

// Register asynchronously adds an enter-only, non-expiring region centred on
// (lat, lon) whose ID is reminderID. done receives nil on success.
func (r *Registrar) Register(ctx context.Context, reminderID string, lat, lon float64, done func(error)) {
	req := Request{
		Regions:        []Region{NewRegion(reminderID, lat, lon, r.radius)},
		InitialTrigger: TransitionEnter,
	}
	go func() {
		err := r.client.AddGeofences(ctx, req)
		if err != nil {
			r.log.Error("adding geofence", "region_id", reminderID, "error", err)
		} else {
			r.log.Info("geofence added", "region_id", reminderID, "radius_m", r.radius)
		}
		done(err)
	}()
}
