package geofence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu   sync.Mutex
	err  error
	reqs []Request
}

func (f *fakeClient) AddGeofences(_ context.Context, req Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.err
}

func register(t *testing.T, r *Registrar, id string) error {
	t.Helper()
	done := make(chan error, 1)
	r.Register(context.Background(), id, 1.0, 2.0, func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Register never completed")
		return nil
	}
}

func TestRegister_BuildsEnterOnlyRegion(t *testing.T) {
	client := &fakeClient{}
	r := NewRegistrar(client, 0, testLogger())

	require.NoError(t, register(t, r, "rem-1"))

	require.Len(t, client.reqs, 1)
	req := client.reqs[0]
	assert.Equal(t, TransitionEnter, req.InitialTrigger)
	require.Len(t, req.Regions, 1)

	region := req.Regions[0]
	assert.Equal(t, "rem-1", region.ID)
	assert.Equal(t, 1.0, region.Latitude)
	assert.Equal(t, 2.0, region.Longitude)
	assert.Equal(t, float64(DefaultRadiusMeters), region.RadiusMeters)
	assert.Equal(t, TransitionEnter, region.Transitions)
	assert.Equal(t, NeverExpire, region.Expiration)
}

func TestRegister_ReportsFailure(t *testing.T) {
	want := &StatusError{Code: CodeNotAvailable}
	r := NewRegistrar(&fakeClient{err: want}, 150, testLogger())

	err := register(t, r, "rem-1")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, CodeNotAvailable, se.Code)
}
