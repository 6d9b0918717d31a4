package locationsettings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njoerd114/pinreminder/internal/model"
)

// scriptedClient returns the queued errors in order, then nil.
type scriptedClient struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (c *scriptedClient) CheckLocationSettings(context.Context, model.LocationRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return err
}

type fakeDialog struct {
	accepted bool
	err      error
	calls    int
}

func (d *fakeDialog) Resolve(context.Context, error) (bool, error) {
	d.calls++
	return d.accepted, d.err
}

// outcome collects callback activity for one Check.
type outcome struct {
	failures  []error
	resolving int
	completes []bool
}

func run(t *testing.T, r *Resolver, resolve bool) outcome {
	t.Helper()
	var (
		mu   sync.Mutex
		o    outcome
		done = make(chan struct{})
	)
	r.Check(context.Background(), resolve, Callbacks{
		OnFailure: func(err error) {
			mu.Lock()
			o.failures = append(o.failures, err)
			mu.Unlock()
		},
		OnResolving: func() {
			mu.Lock()
			o.resolving++
			mu.Unlock()
		},
		OnComplete: func(enabled bool) {
			mu.Lock()
			o.completes = append(o.completes, enabled)
			mu.Unlock()
			close(done)
		},
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnComplete never fired")
	}
	mu.Lock()
	defer mu.Unlock()
	return o
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errFixable = fmt.Errorf("tracker has no fix: %w", model.ErrSettingsResolutionRequired)

func TestCheck_Satisfied(t *testing.T) {
	client := &scriptedClient{}
	dialog := &fakeDialog{}
	r := NewResolver(client, dialog, model.LowPowerRequest(5000), testLogger())

	o := run(t, r, true)
	assert.Equal(t, []bool{true}, o.completes)
	assert.Empty(t, o.failures)
	assert.Zero(t, dialog.calls)
}

func TestCheck_ResolutionAccepted(t *testing.T) {
	client := &scriptedClient{errs: []error{errFixable}}
	dialog := &fakeDialog{accepted: true}
	r := NewResolver(client, dialog, model.LowPowerRequest(5000), testLogger())

	o := run(t, r, true)
	assert.Equal(t, []bool{true}, o.completes)
	assert.Equal(t, 1, o.resolving)
	assert.Equal(t, 1, dialog.calls)
	assert.Equal(t, 2, client.calls)
}

func TestCheck_ResolutionAcceptedButStillDisabled(t *testing.T) {
	client := &scriptedClient{errs: []error{errFixable, errFixable}}
	dialog := &fakeDialog{accepted: true}
	r := NewResolver(client, dialog, model.LowPowerRequest(5000), testLogger())

	o := run(t, r, true)
	assert.Equal(t, []bool{false}, o.completes)
	require.Len(t, o.failures, 1)
	// The re-check must not open the dialog again.
	assert.Equal(t, 1, dialog.calls)
}

func TestCheck_DeclinedStillCompletes(t *testing.T) {
	client := &scriptedClient{errs: []error{errFixable}}
	dialog := &fakeDialog{accepted: false}
	r := NewResolver(client, dialog, model.LowPowerRequest(5000), testLogger())

	o := run(t, r, true)
	assert.Equal(t, []bool{false}, o.completes)
	assert.Empty(t, o.failures)
}

func TestCheck_DialogStartFailureSwallowed(t *testing.T) {
	client := &scriptedClient{errs: []error{errFixable}}
	dialog := &fakeDialog{err: ErrNotInteractive}
	r := NewResolver(client, dialog, model.LowPowerRequest(5000), testLogger())

	o := run(t, r, true)
	assert.Equal(t, []bool{false}, o.completes)
	assert.Empty(t, o.failures)
}

func TestCheck_NoResolveReportsFailure(t *testing.T) {
	client := &scriptedClient{errs: []error{errFixable}}
	dialog := &fakeDialog{accepted: true}
	r := NewResolver(client, dialog, model.LowPowerRequest(5000), testLogger())

	o := run(t, r, false)
	assert.Equal(t, []bool{false}, o.completes)
	require.Len(t, o.failures, 1)
	assert.ErrorIs(t, o.failures[0], model.ErrSettingsResolutionRequired)
	assert.Zero(t, dialog.calls)
}

func TestCheck_UnfixableFailure(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("connection refused")}}
	dialog := &fakeDialog{accepted: true}
	r := NewResolver(client, dialog, model.LowPowerRequest(5000), testLogger())

	o := run(t, r, true)
	assert.Equal(t, []bool{false}, o.completes)
	assert.Len(t, o.failures, 1)
	assert.Zero(t, dialog.calls)
}
