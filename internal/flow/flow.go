// Package flow implements the save-reminder state machine. A save walks
// through permission grants, a location-settings check, geofence
// registration, and persistence, strictly in that order:
//
//	Idle → ValidatingInput → RequestingForegroundPermission →
//	CheckingLocationSettings → [AwaitingLocationEnabled] →
//	[RequestingBackgroundPermission] → RegisteringGeofence → Persisting → Done
//
// Any step may end in Error instead. A reminder is persisted only after its
// geofence was registered.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/pinreminder/internal/locationsettings"
	"github.com/njoerd114/pinreminder/internal/model"
	"github.com/njoerd114/pinreminder/internal/observability"
	"github.com/njoerd114/pinreminder/internal/permission"
)

const (
	otelScope     = "pinreminder/flow"
	spanSave      = "flow.save"
	metricSaves   = "pinreminder.flow.saves"
	metricErrors  = "pinreminder.flow.errors"
	eventCapacity = 8
)

// ErrBusy is returned by [Flow.Save] while an earlier save is in flight.
var ErrBusy = errors.New("a reminder is already being saved")

// Permissions builds permission requests. Implemented by
// [permission.Negotiator].
type Permissions interface {
	Request(c permission.Capability) *permission.Request
	Supports(c permission.Capability) bool
}

// SettingsChecker checks location settings. Implemented by
// [locationsettings.Resolver].
type SettingsChecker interface {
	Check(ctx context.Context, resolve bool, cb locationsettings.Callbacks)
}

// Registrar registers a reminder's geofence. Implemented by
// [geofence.Registrar].
type Registrar interface {
	Register(ctx context.Context, reminderID string, lat, lon float64, done func(error))
}

// Saver persists reminders. Implemented by [reminders.Repository].
type Saver interface {
	SaveReminder(ctx context.Context, r model.Reminder) model.Result[model.Reminder]
}

// Deps are the collaborators a Flow drives.
type Deps struct {
	Permissions Permissions
	Settings    SettingsChecker
	Registrar   Registrar
	Saver       Saver
}

// Outcome is the final result of one save attempt.
type Outcome struct {
	State    State
	Reminder model.Reminder
	// Message is set when State is StateError.
	Message model.MessageID
}

// Draft is the user's input for one save.
type Draft struct {
	Title       string
	Description string
	Location    string
	Latitude    *float64
	Longitude   *float64
}

// SelectPOI picks a named point of interest; the name becomes the label.
func (d *Draft) SelectPOI(name string, lat, lon float64) {
	d.Location = name
	d.Latitude, d.Longitude = model.Float(lat), model.Float(lon)
}

// SelectLocation picks a raw map position, labelled by its coordinates.
func (d *Draft) SelectLocation(lat, lon float64) {
	d.Location = model.CoordinateSnippet(lat, lon)
	d.Latitude, d.Longitude = model.Float(lat), model.Float(lon)
}

// Option configures a Flow.
type Option func(*Flow)

// WithObserver registers fn to be called on every state change.
func WithObserver(fn func(State)) Option {
	return func(f *Flow) { f.observers = append(f.observers, fn) }
}

// Flow runs save attempts one at a time.
type Flow struct {
	deps      Deps
	ui        UI
	metrics   *observability.Metrics
	log       *slog.Logger
	observers []func(State)

	tracer    trace.Tracer
	cntSaves  metric.Int64Counter
	cntErrors metric.Int64Counter

	mu    sync.Mutex
	state State
	busy  bool
}

// New creates a Flow.
func New(deps Deps, ui UI, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Flow {
	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	f := &Flow{
		deps:      deps,
		ui:        ui,
		metrics:   metrics,
		log:       logger,
		tracer:    otel.Tracer(otelScope),
		cntSaves:  mustCounter(metricSaves, "Number of reminders saved"),
		cntErrors: mustCounter(metricErrors, "Number of save attempts that ended in error"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Save validates d synchronously and, if valid, runs the rest of the flow in
// the background. The returned channel yields exactly one Outcome. Cancelling
// ctx does not stop an attempt once validation has passed.
func (f *Flow) Save(ctx context.Context, d Draft) (<-chan Outcome, error) {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return nil, ErrBusy
	}
	f.busy = true
	f.mu.Unlock()

	out := make(chan Outcome, 1)
	a := &attempt{
		f:       f,
		out:     out,
		started: time.Now(),
		reminder: model.NewReminder(d.Title, d.Description, d.Location,
			d.Latitude, d.Longitude),
	}
	a.ctx, a.span = f.tracer.Start(context.WithoutCancel(ctx), spanSave)
	a.log = f.log.With("reminder_id", a.reminder.ID)

	f.setState(StateIdle)
	f.setState(StateValidatingInput)
	if msg, ok := validate(a.reminder); !ok {
		a.log.Info("reminder input rejected", "message", msg)
		a.fail(msg)
		return out, nil
	}

	go a.run()
	return out, nil
}

func validate(r model.Reminder) (model.MessageID, bool) {
	if err := r.Validate(); err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			return ve.Message, false
		}
		return model.MsgInvalidReminder, false
	}
	if !r.HasCoordinates() {
		return model.MsgSelectLocation, false
	}
	return "", true
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	for _, fn := range f.observers {
		fn(s)
	}
}

func (f *Flow) emit(ev UIEvent) {
	if f.ui != nil {
		f.ui.Handle(ev)
	}
}

// attempt is one save in progress. Its fields are owned by the goroutine
// running its event loop.
type attempt struct {
	f        *Flow
	ctx      context.Context
	span     trace.Span
	log      *slog.Logger
	out      chan<- Outcome
	started  time.Time
	reminder model.Reminder
	events   chan event
}

func (a *attempt) send(ev event) { a.events <- ev }

func (a *attempt) run() {
	a.events = make(chan event, eventCapacity)
	a.f.emit(ShowLoading{On: true})

	a.requestPermission(permission.ForegroundLocation, model.MsgPermissionRationale)

	for ev := range a.events {
		if done := a.handle(ev); done {
			return
		}
	}
}

// handle advances the flow by one event and reports whether the attempt
// has finished.
func (a *attempt) handle(ev event) bool {
	f := a.f
	switch ev := ev.(type) {
	case permissionAnswered:
		if !ev.granted {
			a.log.Info("location permission denied", "capability", ev.capability.String())
			a.fail(model.MsgLocationRequired)
			return true
		}
		if ev.capability == permission.ForegroundLocation {
			a.checkSettings()
		} else {
			a.register()
		}

	case settingsFailed:
		// Enablement is advisory; the flow continues on completion.
		a.log.Warn("location settings unresolved", "error", ev.err)
		f.emit(ShowMessage{Message: model.MsgLocationRequired})

	case settingsResolving:
		f.setState(StateAwaitingLocationEnabled)

	case settingsCompleted:
		a.log.Debug("location settings check complete", "enabled", ev.enabled)
		if f.deps.Permissions.Supports(permission.BackgroundLocation) {
			a.requestPermission(permission.BackgroundLocation, model.MsgBackgroundRationale)
		} else {
			a.register()
		}

	case geofenceAdded:
		if ev.err != nil {
			a.log.Error("geofence registration failed", "error", ev.err)
			a.fail(model.MsgGeofenceFailed)
			return true
		}
		a.persist()
		return true
	}
	return false
}

func (a *attempt) requestPermission(c permission.Capability, rationale model.MessageID) {
	if c == permission.ForegroundLocation {
		a.f.setState(StateRequestingForegroundPermission)
	} else {
		a.f.setState(StateRequestingBackgroundPermission)
	}
	a.f.deps.Permissions.Request(c).
		Rationale(model.Text(rationale)).
		Check(a.ctx, func(granted bool) {
			a.send(permissionAnswered{capability: c, granted: granted})
		})
}

func (a *attempt) checkSettings() {
	a.f.setState(StateCheckingLocationSettings)
	a.f.deps.Settings.Check(a.ctx, true, locationsettings.Callbacks{
		OnFailure:   func(err error) { a.send(settingsFailed{err: err}) },
		OnResolving: func() { a.send(settingsResolving{}) },
		OnComplete:  func(enabled bool) { a.send(settingsCompleted{enabled: enabled}) },
	})
}

func (a *attempt) register() {
	a.f.setState(StateRegisteringGeofence)
	lat, lon, _ := a.reminder.Coordinates()
	a.f.deps.Registrar.Register(a.ctx, a.reminder.ID, lat, lon, func(err error) {
		a.send(geofenceAdded{err: err})
	})
}

func (a *attempt) persist() {
	a.f.setState(StatePersisting)
	res := a.f.deps.Saver.SaveReminder(a.ctx, a.reminder)
	if !res.IsSuccess() {
		a.log.Error("saving reminder after geofence registration", "error", res.Message())
		a.fail(model.MsgSaveFailed)
		return
	}
	saved, _ := res.Data()

	f := a.f
	f.emit(ShowLoading{On: false})
	f.emit(ShowToast{Message: model.MsgReminderSaved})
	f.emit(NavigateBack{})
	f.cntSaves.Add(a.ctx, 1)
	a.log.Info("reminder saved", "title", saved.Title, "location", saved.Location)
	a.finish(Outcome{State: StateDone, Reminder: saved})
}

func (a *attempt) fail(msg model.MessageID) {
	f := a.f
	if a.events != nil {
		f.emit(ShowLoading{On: false})
	}
	f.emit(ShowMessage{Message: msg})
	f.cntErrors.Add(a.ctx, 1, metric.WithAttributes(attribute.String("message", string(msg))))
	a.span.SetAttributes(attribute.String("flow.message", string(msg)))
	a.finish(Outcome{State: StateError, Reminder: a.reminder, Message: msg})
}

func (a *attempt) finish(o Outcome) {
	f := a.f
	f.setState(o.State)
	f.metrics.FlowOutcomes.WithLabelValues(o.State.String()).Inc()
	f.metrics.FlowDuration.Observe(time.Since(a.started).Seconds())
	a.span.SetAttributes(attribute.String("flow.state", o.State.String()))
	a.span.End()

	f.mu.Lock()
	f.busy = false
	f.mu.Unlock()

	a.out <- o
	close(a.out)
}
