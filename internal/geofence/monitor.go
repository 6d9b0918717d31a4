package geofence

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/njoerd114/pinreminder/internal/model"
	"github.com/njoerd114/pinreminder/internal/state"
)

const (
	// DefaultMaxRegions caps how many regions may be registered at once.
	DefaultMaxRegions = 100

	// MaxReceivers caps how many transition receivers may subscribe.
	MaxReceivers = 5

	earthRadiusMeters = 6371008.8
)

// RegionStore persists registered regions. Implemented by [state.Store].
type RegionStore interface {
	SaveRegion(ctx context.Context, r state.Region) error
	GetRegions(ctx context.Context) ([]state.Region, error)
	SetRegionInside(ctx context.Context, id string, inside bool) error
	DeleteRegion(ctx context.Context, id string) error
	DeleteAllRegions(ctx context.Context) error
}

// Receiver handles transition events. It is called synchronously on the
// goroutine that reported the fix.
type Receiver func(ctx context.Context, ev Event)

type tracked struct {
	region       Region
	registeredAt time.Time
	expiresAt    time.Time
	inside       bool
}

func (t *tracked) expired(now time.Time) bool {
	return !t.expiresAt.IsZero() && !now.Before(t.expiresAt)
}

// Monitor keeps the registered regions and compares every location fix
// against them. Regions survive restarts through the [RegionStore].
type Monitor struct {
	store      RegionStore
	maxRegions int
	clock      clockwork.Clock
	log        *slog.Logger

	mu        sync.Mutex
	regions   map[string]*tracked
	receivers []Receiver
	last      *model.Fix
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithClock sets the time source used for registration and expiry.
func WithClock(c clockwork.Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

// WithMaxRegions overrides [DefaultMaxRegions].
func WithMaxRegions(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.maxRegions = n
		}
	}
}

// NewMonitor creates an empty Monitor. Call [Monitor.Load] to restore
// persisted regions.
func NewMonitor(store RegionStore, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:      store,
		maxRegions: DefaultMaxRegions,
		clock:      clockwork.NewRealClock(),
		log:        logger,
		regions:    make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load restores regions from the store, dropping any that have expired.
func (m *Monitor) Load(ctx context.Context) error {
	rows, err := m.store.GetRegions(ctx)
	if err != nil {
		return fmt.Errorf("loading regions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for _, row := range rows {
		t := fromRow(row)
		if t.expired(now) {
			if err := m.store.DeleteRegion(ctx, row.ID); err != nil {
				m.log.Error("deleting expired region", "region_id", row.ID, "error", err)
			}
			continue
		}
		m.regions[row.ID] = t
	}
	m.log.Info("geofence regions loaded", "count", len(m.regions))
	return nil
}

// Reload syncs the in-memory regions with the store, picking up regions added
// or removed by another process. Regions already tracked keep their state.
func (m *Monitor) Reload(ctx context.Context) error {
	rows, err := m.store.GetRegions(ctx)
	if err != nil {
		return fmt.Errorf("reloading regions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	next := make(map[string]*tracked, len(rows))
	added := 0
	for _, row := range rows {
		if t, ok := m.regions[row.ID]; ok {
			next[row.ID] = t
			continue
		}
		t := fromRow(row)
		if t.expired(now) {
			continue
		}
		next[row.ID] = t
		added++
	}
	removed := len(m.regions) - (len(next) - added)
	m.regions = next
	if added > 0 || removed > 0 {
		m.log.Info("geofence regions reloaded", "added", added, "removed", removed, "count", len(next))
	}
	return nil
}

// Subscribe adds a transition receiver.
func (m *Monitor) Subscribe(r Receiver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.receivers) >= MaxReceivers {
		return &StatusError{Code: CodeTooManyPendingIntents}
	}
	m.receivers = append(m.receivers, r)
	return nil
}

// AddGeofences registers the regions in req, replacing any with the same ID.
// The whole request is rejected if it would exceed the region limit.
func (m *Monitor) AddGeofences(ctx context.Context, req Request) error {
	if len(req.Regions) == 0 {
		return fmt.Errorf("geofence request has no regions")
	}
	for _, r := range req.Regions {
		if err := r.validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	added := 0
	for _, r := range req.Regions {
		if _, ok := m.regions[r.ID]; !ok {
			added++
		}
	}
	if len(m.regions)+added > m.maxRegions {
		m.mu.Unlock()
		return &StatusError{Code: CodeTooManyGeofences}
	}

	now := m.clock.Now()
	var entered []string
	for _, r := range req.Regions {
		t := &tracked{region: r, registeredAt: now}
		if r.Expiration > 0 {
			t.expiresAt = now.Add(r.Expiration)
		}
		if m.last != nil {
			t.inside = contains(r, *m.last)
		}
		if err := m.store.SaveRegion(ctx, toRow(t)); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("persisting region %s: %w", r.ID, err)
		}
		m.regions[r.ID] = t

		if t.inside && req.InitialTrigger&TransitionEnter != 0 && r.Transitions&TransitionEnter != 0 {
			entered = append(entered, r.ID)
		}
	}
	last := m.lastFix()
	m.mu.Unlock()

	if len(entered) > 0 {
		m.dispatch(ctx, Event{Transition: TransitionEnter, RegionIDs: entered, Location: last})
	}
	return nil
}

// OnLocation compares fix against every region and delivers enter and exit
// events to the receivers. An unavailable fix produces a
// [CodeNotAvailable] event.
func (m *Monitor) OnLocation(ctx context.Context, fix model.Fix) {
	if !fix.Available {
		m.dispatch(ctx, Event{ErrorCode: CodeNotAvailable})
		return
	}

	m.mu.Lock()
	m.last = &fix
	now := m.clock.Now()

	var entered, exited []string
	for _, id := range m.sortedIDs() {
		t := m.regions[id]
		if t.expired(now) {
			delete(m.regions, id)
			if err := m.store.DeleteRegion(ctx, id); err != nil {
				m.log.Error("deleting expired region", "region_id", id, "error", err)
			}
			continue
		}

		inside := contains(t.region, fix)
		if inside == t.inside {
			continue
		}
		t.inside = inside
		if err := m.store.SetRegionInside(ctx, id, inside); err != nil {
			m.log.Error("recording region state", "region_id", id, "error", err)
		}

		switch {
		case inside && t.region.Transitions&TransitionEnter != 0:
			entered = append(entered, id)
		case !inside && t.region.Transitions&TransitionExit != 0:
			exited = append(exited, id)
		}
	}
	last := m.lastFix()
	m.mu.Unlock()

	if len(entered) > 0 {
		m.dispatch(ctx, Event{Transition: TransitionEnter, RegionIDs: entered, Location: last})
	}
	if len(exited) > 0 {
		m.dispatch(ctx, Event{Transition: TransitionExit, RegionIDs: exited, Location: last})
	}
}

// Remove unregisters one region.
func (m *Monitor) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.DeleteRegion(ctx, id); err != nil {
		return err
	}
	delete(m.regions, id)
	return nil
}

// RemoveAll unregisters every region.
func (m *Monitor) RemoveAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.DeleteAllRegions(ctx); err != nil {
		return err
	}
	m.regions = make(map[string]*tracked)
	return nil
}

// Regions returns the registered regions sorted by ID.
func (m *Monitor) Regions() []Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Region, 0, len(m.regions))
	for _, id := range m.sortedIDs() {
		out = append(out, m.regions[id].region)
	}
	return out
}

// LastFix returns the most recent available fix.
func (m *Monitor) LastFix() (model.Fix, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return model.Fix{}, false
	}
	return *m.last, true
}

func (m *Monitor) dispatch(ctx context.Context, ev Event) {
	m.mu.Lock()
	receivers := append([]Receiver(nil), m.receivers...)
	m.mu.Unlock()

	if len(receivers) == 0 {
		m.log.Debug("geofence event dropped, no receivers", "transition", ev.Transition, "error_code", ev.ErrorCode)
		return
	}
	for _, r := range receivers {
		r(ctx, ev)
	}
}

// lastFix returns a copy of the last fix. Caller holds m.mu.
func (m *Monitor) lastFix() *model.Fix {
	if m.last == nil {
		return nil
	}
	f := *m.last
	return &f
}

// sortedIDs keeps event payloads deterministic. Caller holds m.mu.
func (m *Monitor) sortedIDs() []string {
	ids := make([]string, 0, len(m.regions))
	for id := range m.regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func contains(r Region, fix model.Fix) bool {
	return Distance(r.Latitude, r.Longitude, fix.Latitude, fix.Longitude) <= r.RadiusMeters
}

// Distance returns the great-circle distance in metres between two points.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRow(t *tracked) state.Region {
	return state.Region{
		ID:           t.region.ID,
		Latitude:     t.region.Latitude,
		Longitude:    t.region.Longitude,
		RadiusMeters: t.region.RadiusMeters,
		Transitions:  int(t.region.Transitions),
		ExpiresAt:    t.expiresAt,
		Inside:       t.inside,
		RegisteredAt: t.registeredAt,
	}
}

func fromRow(row state.Region) *tracked {
	exp := NeverExpire
	if !row.ExpiresAt.IsZero() {
		exp = row.ExpiresAt.Sub(row.RegisteredAt)
	}
	return &tracked{
		region: Region{
			ID:           row.ID,
			Latitude:     row.Latitude,
			Longitude:    row.Longitude,
			RadiusMeters: row.RadiusMeters,
			Transitions:  Transition(row.Transitions),
			Expiration:   exp,
		},
		registeredAt: row.RegisteredAt,
		expiresAt:    row.ExpiresAt,
		inside:       row.Inside,
	}
}
