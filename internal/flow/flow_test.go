package flow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njoerd114/pinreminder/internal/locationsettings"
	"github.com/njoerd114/pinreminder/internal/model"
	"github.com/njoerd114/pinreminder/internal/observability"
	"github.com/njoerd114/pinreminder/internal/permission"
	"github.com/njoerd114/pinreminder/internal/reminders"
	"github.com/njoerd114/pinreminder/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedDialog answers permission prompts per capability.
type scriptedDialog struct {
	mu      sync.Mutex
	answers map[permission.Capability]bool
	asked   []permission.Capability
}

func (d *scriptedDialog) Ask(_ context.Context, p permission.Prompt) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.asked = append(d.asked, p.Capability)
	return d.answers[p.Capability], nil
}

func (d *scriptedDialog) prompts() []permission.Capability {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]permission.Capability(nil), d.asked...)
}

// fakeSettings plays back a fixed callback sequence.
type fakeSettings struct {
	failure   error
	resolving bool
	enabled   bool
}

func (s *fakeSettings) Check(_ context.Context, _ bool, cb locationsettings.Callbacks) {
	go func() {
		if s.resolving {
			cb.OnResolving()
		}
		if s.failure != nil {
			cb.OnFailure(s.failure)
		}
		cb.OnComplete(s.enabled)
	}()
}

// fakeRegistrar records registrations and optionally waits on gate.
type fakeRegistrar struct {
	mu    sync.Mutex
	err   error
	gate  chan struct{}
	calls []string
}

func (r *fakeRegistrar) Register(_ context.Context, id string, _, _ float64, done func(error)) {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	r.mu.Unlock()
	go func() {
		if r.gate != nil {
			<-r.gate
		}
		done(r.err)
	}()
}

func (r *fakeRegistrar) registered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// recorder captures UI events and state changes.
type recorder struct {
	mu     sync.Mutex
	events []UIEvent
	states []State
}

func (r *recorder) Handle(ev UIEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) observe(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) uiEvents() []UIEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]UIEvent(nil), r.events...)
}

func (r *recorder) stateLog() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

type harness struct {
	flow      *Flow
	dialog    *scriptedDialog
	settings  *fakeSettings
	registrar *fakeRegistrar
	repo      *reminders.Repository
	rec       *recorder
	metrics   *observability.Metrics
}

func newHarness(t *testing.T, background bool) *harness {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		dialog: &scriptedDialog{answers: map[permission.Capability]bool{
			permission.ForegroundLocation: true,
			permission.BackgroundLocation: true,
		}},
		settings:  &fakeSettings{enabled: true},
		registrar: &fakeRegistrar{},
		repo:      reminders.NewRepository(store, testLogger()),
		rec:       &recorder{},
	}
	h.metrics, _ = observability.NewMetricsForTesting()
	h.flow = New(Deps{
		Permissions: permission.NewNegotiator(store, h.dialog, background, testLogger()),
		Settings:    h.settings,
		Registrar:   h.registrar,
		Saver:       h.repo,
	}, h.rec, h.metrics, testLogger(), WithObserver(h.rec.observe))
	return h
}

func validDraft() Draft {
	return Draft{
		Title:       "Test title",
		Description: "Test description",
		Location:    "Test location",
		Latitude:    model.Float(1.0),
		Longitude:   model.Float(2.0),
	}
}

func (h *harness) save(t *testing.T, d Draft) Outcome {
	t.Helper()
	out, err := h.flow.Save(context.Background(), d)
	require.NoError(t, err)
	return wait(t, out)
}

func wait(t *testing.T, out <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-out:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("flow did not finish")
		return Outcome{}
	}
}

func (h *harness) stored(t *testing.T) []model.Reminder {
	t.Helper()
	list, ok := h.repo.GetReminders(context.Background()).Data()
	require.True(t, ok)
	return list
}

func TestSave_HappyPathPersistsReminder(t *testing.T) {
	h := newHarness(t, true)

	o := h.save(t, validDraft())

	require.Equal(t, StateDone, o.State)
	assert.Equal(t, StateDone, h.flow.State())

	list := h.stored(t)
	require.Len(t, list, 1)
	got := list[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, o.Reminder.ID, got.ID)
	assert.Equal(t, "Test title", got.Title)
	assert.Equal(t, "Test description", got.Description)
	assert.Equal(t, "Test location", got.Location)
	require.True(t, got.HasCoordinates())
	assert.Equal(t, 1.0, *got.Latitude)
	assert.Equal(t, 2.0, *got.Longitude)

	assert.Equal(t, []string{got.ID}, h.registrar.registered())
	assert.Equal(t, []State{
		StateIdle,
		StateValidatingInput,
		StateRequestingForegroundPermission,
		StateCheckingLocationSettings,
		StateRequestingBackgroundPermission,
		StateRegisteringGeofence,
		StatePersisting,
		StateDone,
	}, h.rec.stateLog())
	assert.Equal(t, []UIEvent{
		ShowLoading{On: true},
		ShowLoading{On: false},
		ShowToast{Message: model.MsgReminderSaved},
		NavigateBack{},
	}, h.rec.uiEvents())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FlowOutcomes.WithLabelValues("done")))
}

func TestSave_EmptyTitleFailsBeforePermissions(t *testing.T) {
	h := newHarness(t, true)
	d := validDraft()
	d.Title = ""

	o := h.save(t, d)

	assert.Equal(t, StateError, o.State)
	assert.Equal(t, model.MsgEnterTitle, o.Message)
	assert.Empty(t, h.dialog.prompts(), "no permission request expected")
	assert.Empty(t, h.registrar.registered())
	assert.Equal(t, []UIEvent{ShowMessage{Message: model.MsgEnterTitle}}, h.rec.uiEvents())
	assert.Equal(t, []State{StateIdle, StateValidatingInput, StateError}, h.rec.stateLog())
}

func TestSave_MissingLocation(t *testing.T) {
	h := newHarness(t, true)

	d := validDraft()
	d.Location = ""
	assert.Equal(t, model.MsgSelectLocation, h.save(t, d).Message)

	d = validDraft()
	d.Latitude, d.Longitude = nil, nil
	assert.Equal(t, model.MsgSelectLocation, h.save(t, d).Message)

	assert.Empty(t, h.dialog.prompts())
}

func TestSave_ForegroundDenied(t *testing.T) {
	h := newHarness(t, true)
	h.dialog.answers[permission.ForegroundLocation] = false

	o := h.save(t, validDraft())

	assert.Equal(t, StateError, o.State)
	assert.Equal(t, model.MsgLocationRequired, o.Message)
	assert.Empty(t, h.registrar.registered())
	assert.Empty(t, h.stored(t))
	assert.NotContains(t, h.rec.stateLog(), StateCheckingLocationSettings)
}

func TestSave_BackgroundDenied(t *testing.T) {
	h := newHarness(t, true)
	h.dialog.answers[permission.BackgroundLocation] = false

	o := h.save(t, validDraft())

	assert.Equal(t, StateError, o.State)
	assert.Equal(t, []permission.Capability{permission.ForegroundLocation, permission.BackgroundLocation}, h.dialog.prompts())
	assert.Empty(t, h.registrar.registered())
	assert.Empty(t, h.stored(t))
}

func TestSave_BackgroundNotRequired(t *testing.T) {
	h := newHarness(t, false)
	h.dialog.answers[permission.BackgroundLocation] = false

	o := h.save(t, validDraft())

	assert.Equal(t, StateDone, o.State)
	assert.NotContains(t, h.rec.stateLog(), StateRequestingBackgroundPermission)
	assert.Equal(t, []permission.Capability{permission.ForegroundLocation}, h.dialog.prompts())
}

func TestSave_SettingsFailureIsAdvisory(t *testing.T) {
	h := newHarness(t, true)
	h.settings.resolving = true
	h.settings.failure = model.ErrSettingsResolutionRequired
	h.settings.enabled = false

	o := h.save(t, validDraft())

	assert.Equal(t, StateDone, o.State)
	assert.Contains(t, h.rec.stateLog(), StateAwaitingLocationEnabled)
	assert.Contains(t, h.rec.uiEvents(), UIEvent(ShowMessage{Message: model.MsgLocationRequired}))
	assert.Len(t, h.stored(t), 1)
}

func TestSave_RegistrationFailureBlocksPersistence(t *testing.T) {
	h := newHarness(t, true)
	h.registrar.err = errors.New("geofence unavailable")

	o := h.save(t, validDraft())

	assert.Equal(t, StateError, o.State)
	assert.Equal(t, model.MsgGeofenceFailed, o.Message)
	assert.Empty(t, h.stored(t))
	assert.NotContains(t, h.rec.stateLog(), StatePersisting)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FlowOutcomes.WithLabelValues("error")))
}

func TestSave_OneAtATime(t *testing.T) {
	h := newHarness(t, true)
	h.registrar.gate = make(chan struct{})

	out, err := h.flow.Save(context.Background(), validDraft())
	require.NoError(t, err)

	_, err = h.flow.Save(context.Background(), validDraft())
	require.ErrorIs(t, err, ErrBusy)

	close(h.registrar.gate)
	assert.Equal(t, StateDone, wait(t, out).State)

	// Free again once the first attempt finished.
	o := h.save(t, validDraft())
	assert.Equal(t, StateDone, o.State)
	assert.Len(t, h.stored(t), 2)
}

func TestSave_CancelledCallerDoesNotStopSave(t *testing.T) {
	h := newHarness(t, true)
	h.registrar.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	out, err := h.flow.Save(ctx, validDraft())
	require.NoError(t, err)
	cancel()
	close(h.registrar.gate)

	assert.Equal(t, StateDone, wait(t, out).State)
	assert.Len(t, h.stored(t), 1)
}

func TestDraft_Selection(t *testing.T) {
	var d Draft
	d.SelectPOI("Cafe", 52.5, 13.4)
	assert.Equal(t, "Cafe", d.Location)
	assert.Equal(t, 52.5, *d.Latitude)

	d.SelectLocation(1, 2)
	assert.Equal(t, "Lat: 1.00000, Long: 2.00000", d.Location)
	assert.Equal(t, 1.0, *d.Latitude)
	assert.Equal(t, 2.0, *d.Longitude)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "requesting_background_permission", StateRequestingBackgroundPermission.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateDone.Terminal())
	assert.False(t, StatePersisting.Terminal())
}
