package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	ekreminders "github.com/BRO3886/go-eventkit/reminders"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njoerd114/pinreminder/internal/model"
	"github.com/njoerd114/pinreminder/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleNotification() model.Notification {
	return model.Notification{
		Tag:         "rem-1",
		Title:       "Buy milk",
		Description: "Whole milk",
		Location:    "Corner shop",
		Latitude:    model.Float(52.52),
		Longitude:   model.Float(13.405),
		TriggeredAt: time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC),
	}
}

type fakeSink struct {
	name string
	err  error

	mu   sync.Mutex
	got  []model.Notification
	done bool
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Notify(_ context.Context, n model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return f.err
}

func (f *fakeSink) Close() error {
	f.done = true
	return nil
}

func TestDispatcher_FansOutToAllSinks(t *testing.T) {
	m, _ := observability.NewMetricsForTesting()
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	d := NewDispatcher(m, testLogger(), a, b)

	require.NoError(t, d.Notify(context.Background(), sampleNotification()))

	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
	assert.Equal(t, []string{"a", "b"}, d.Sinks())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("a", "success")))
}

func TestDispatcher_FailingSinkDoesNotStopOthers(t *testing.T) {
	m, _ := observability.NewMetricsForTesting()
	boom := errors.New("boom")
	bad := &fakeSink{name: "bad", err: boom}
	good := &fakeSink{name: "good"}
	d := NewDispatcher(m, testLogger(), bad, good)

	err := d.Notify(context.Background(), sampleNotification())

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.got, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("bad", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("good", "success")))
}

func TestDispatcher_CloseClosesSinks(t *testing.T) {
	m, _ := observability.NewMetricsForTesting()
	s := &fakeSink{name: "s"}
	d := NewDispatcher(m, testLogger(), s, NewLogSink(testLogger()))

	require.NoError(t, d.Close())
	assert.True(t, s.done)
}

// ---------------------------------------------------------------------------
// Home Assistant
// ---------------------------------------------------------------------------

type fakeServiceNotifier struct {
	service string
	got     []model.Notification
}

func (f *fakeServiceNotifier) Notify(_ context.Context, service string, n model.Notification) error {
	f.service = service
	f.got = append(f.got, n)
	return nil
}

func TestHomeAssistantSink_CallsService(t *testing.T) {
	client := &fakeServiceNotifier{}
	s := NewHomeAssistantSink(client, "mobile_app_pixel", 0)

	require.NoError(t, s.Notify(context.Background(), sampleNotification()))
	assert.Equal(t, "mobile_app_pixel", client.service)
	require.Len(t, client.got, 1)
	assert.Equal(t, "rem-1", client.got[0].Tag)
}

func TestHomeAssistantSink_RateLimitHonoursContext(t *testing.T) {
	client := &fakeServiceNotifier{}
	s := NewHomeAssistantSink(client, "notify", 1)

	require.NoError(t, s.Notify(context.Background(), sampleNotification()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Notify(ctx, sampleNotification())
	require.Error(t, err)
	assert.Len(t, client.got, 1)
}

// ---------------------------------------------------------------------------
// Kafka
// ---------------------------------------------------------------------------

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink_PublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSinkWithWriter(w)

	require.NoError(t, s.Notify(context.Background(), sampleNotification()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "rem-1", string(msg.Key))

	var got model.Notification
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "Buy milk", got.Title)
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, 52.52, *got.Latitude, 1e-9)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "reminder.triggered", headers["event_type"])
	assert.Equal(t, "2026-10-01T08:30:00Z", headers["triggered_at"])

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_WrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	s := NewKafkaSinkWithWriter(&fakeWriter{err: boom})

	err := s.Notify(context.Background(), sampleNotification())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "rem-1")
}

// ---------------------------------------------------------------------------
// Apple Reminders
// ---------------------------------------------------------------------------

type fakeEventKit struct {
	existing []ekreminders.Reminder
	created  []ekreminders.CreateReminderInput
}

func (f *fakeEventKit) Reminders(_ ...ekreminders.ListOption) ([]ekreminders.Reminder, error) {
	return f.existing, nil
}

func (f *fakeEventKit) CreateReminder(input ekreminders.CreateReminderInput) (*ekreminders.Reminder, error) {
	f.created = append(f.created, input)
	return &ekreminders.Reminder{ID: "EK-1", Title: input.Title}, nil
}

func TestAppleRemindersSink_CreatesDueNowEntry(t *testing.T) {
	ek := &fakeEventKit{}
	s := NewAppleRemindersSinkWithClient(ek, "Errands", testLogger())
	n := sampleNotification()

	require.NoError(t, s.Notify(context.Background(), n))
	require.Len(t, ek.created, 1)

	in := ek.created[0]
	assert.Equal(t, "Buy milk", in.Title)
	assert.Equal(t, "Errands", in.ListName)
	assert.Equal(t, ekreminders.PriorityHigh, in.Priority)
	assert.Equal(t, "Whole milk (Corner shop)\n\npinreminder:rem-1", in.Notes)
	require.NotNil(t, in.DueDate)
	assert.True(t, in.DueDate.Equal(n.TriggeredAt))
}

func TestAppleRemindersSink_SkipsOpenDuplicate(t *testing.T) {
	ek := &fakeEventKit{existing: []ekreminders.Reminder{
		{ID: "EK-1", Notes: "pinreminder:rem-1"},
	}}
	s := NewAppleRemindersSinkWithClient(ek, "Errands", testLogger())

	require.NoError(t, s.Notify(context.Background(), sampleNotification()))
	assert.Empty(t, ek.created)
}

func TestAppleRemindersSink_RecreatesAfterCompletion(t *testing.T) {
	ek := &fakeEventKit{existing: []ekreminders.Reminder{
		{ID: "EK-1", Notes: "pinreminder:rem-1", Completed: true},
	}}
	s := NewAppleRemindersSinkWithClient(ek, "Errands", testLogger())

	require.NoError(t, s.Notify(context.Background(), sampleNotification()))
	assert.Len(t, ek.created, 1)
}

func TestAppleRemindersSink_CancelledContext(t *testing.T) {
	ek := &fakeEventKit{}
	s := NewAppleRemindersSinkWithClient(ek, "Errands", testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.Notify(ctx, sampleNotification()), context.Canceled)
	assert.Empty(t, ek.created)
}
