package reminders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/njoerd114/pinreminder/internal/model"
	"github.com/njoerd114/pinreminder/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"), testLogger())
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewRepository(store, testLogger())
}

// failingStore returns err from every method.
type failingStore struct{ err error }

func (f failingStore) SaveReminder(context.Context, *model.Reminder) error { return f.err }
func (f failingStore) GetReminder(context.Context, string) (*model.Reminder, error) {
	return nil, f.err
}
func (f failingStore) GetReminders(context.Context) ([]model.Reminder, error) { return nil, f.err }
func (f failingStore) DeleteAllReminders(context.Context) (int, error) { return 0, f.err }

func TestSaveThenGet_RoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	want := model.NewReminder("Test title", "Test description", "Test location", model.Float(1.0), model.Float(2.0))

	if res := repo.SaveReminder(ctx, want); !res.IsSuccess() {
		t.Fatalf("SaveReminder: %s", res.Message())
	}

	res := repo.GetReminder(ctx, want.ID)
	got, ok := res.Data()
	if !ok {
		t.Fatalf("GetReminder: %s", res.Message())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetReminder mismatch (-want +got):\n%s", diff)
	}
}

func TestGetReminder_NotFound(t *testing.T) {
	repo := newTestRepository(t)
	res := repo.GetReminder(context.Background(), "unknown")
	if res.IsSuccess() {
		t.Fatal("expected Error result")
	}
	if res.Message() != NotFoundMessage {
		t.Errorf("Message() = %q, want %q", res.Message(), NotFoundMessage)
	}
}

func TestDeleteAll_ThenGetReminders_Empty(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for range 2 {
		repo.SaveReminder(ctx, model.NewReminder("t", "", "l", nil, nil))
	}
	if res := repo.DeleteAllReminders(ctx); !res.IsSuccess() {
		t.Fatalf("DeleteAllReminders: %s", res.Message())
	}

	res := repo.GetReminders(ctx)
	list, ok := res.Data()
	if !ok {
		t.Fatalf("GetReminders: %s", res.Message())
	}
	if list == nil || len(list) != 0 {
		t.Errorf("GetReminders = %v, want empty list", list)
	}
}

func TestGetReminders_EmptyStore(t *testing.T) {
	repo := newTestRepository(t)
	list, ok := repo.GetReminders(context.Background()).Data()
	if !ok {
		t.Fatal("expected Success for empty store")
	}
	if len(list) != 0 {
		t.Errorf("len = %d, want 0", len(list))
	}
}

func TestStoreErrors_BecomeErrorResults(t *testing.T) {
	repo := NewRepository(failingStore{err: errors.New("disk I/O error")}, testLogger())
	ctx := context.Background()

	if res := repo.SaveReminder(ctx, model.NewReminder("t", "", "l", nil, nil)); res.IsSuccess() || res.Message() != "disk I/O error" {
		t.Errorf("SaveReminder = (%v, %q)", res.IsSuccess(), res.Message())
	}
	if res := repo.GetReminders(ctx); res.IsSuccess() || res.Message() != "disk I/O error" {
		t.Errorf("GetReminders = (%v, %q)", res.IsSuccess(), res.Message())
	}
	if res := repo.GetReminder(ctx, "x"); res.IsSuccess() || res.Message() != "disk I/O error" {
		t.Errorf("GetReminder = (%v, %q)", res.IsSuccess(), res.Message())
	}
	if res := repo.DeleteAllReminders(ctx); res.IsSuccess() {
		t.Error("DeleteAllReminders succeeded on failing store")
	}
}
