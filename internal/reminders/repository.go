// Package reminders is the repository the rest of the app uses to reach saved
// reminders. Every operation returns a [model.Result] so callers branch on
// success or failure instead of handling storage errors.
package reminders

import (
	"context"
	"log/slog"

	"github.com/njoerd114/pinreminder/internal/model"
)

// NotFoundMessage is the Error message for an unknown reminder ID.
const NotFoundMessage = "Reminder not found!"

// Store is the subset of [state.Store] methods used by the repository.
type Store interface {
	SaveReminder(ctx context.Context, r *model.Reminder) error
	GetReminder(ctx context.Context, id string) (*model.Reminder, error)
	GetReminders(ctx context.Context) ([]model.Reminder, error)
	DeleteAllReminders(ctx context.Context) (int, error)
}

// Repository wraps a [Store]. Each call is a single store operation, so each
// is atomic with respect to other callers.
type Repository struct {
	store Store
	log   *slog.Logger
}

// NewRepository creates a Repository over store.
func NewRepository(store Store, logger *slog.Logger) *Repository {
	return &Repository{store: store, log: logger}
}

// SaveReminder persists r, replacing any reminder with the same ID.
func (r *Repository) SaveReminder(ctx context.Context, rem model.Reminder) model.Result[model.Reminder] {
	if err := r.store.SaveReminder(ctx, &rem); err != nil {
		r.log.Error("saving reminder", "reminder_id", rem.ID, "error", err)
		return model.Error[model.Reminder](err.Error())
	}
	r.log.Debug("reminder saved", "reminder_id", rem.ID)
	return model.Success(rem)
}

// GetReminders returns every saved reminder. An empty store yields
// Success with an empty slice.
func (r *Repository) GetReminders(ctx context.Context) model.Result[[]model.Reminder] {
	list, err := r.store.GetReminders(ctx)
	if err != nil {
		r.log.Error("loading reminders", "error", err)
		return model.Error[[]model.Reminder](err.Error())
	}
	if list == nil {
		list = []model.Reminder{}
	}
	return model.Success(list)
}

// GetReminder returns the reminder with the given ID, or an Error carrying
// [NotFoundMessage].
func (r *Repository) GetReminder(ctx context.Context, id string) model.Result[model.Reminder] {
	rem, err := r.store.GetReminder(ctx, id)
	if err != nil {
		r.log.Error("loading reminder", "reminder_id", id, "error", err)
		return model.Error[model.Reminder](err.Error())
	}
	if rem == nil {
		return model.Error[model.Reminder](NotFoundMessage)
	}
	return model.Success(*rem)
}

// DeleteAllReminders removes every reminder and reports how many were removed.
func (r *Repository) DeleteAllReminders(ctx context.Context) model.Result[int] {
	n, err := r.store.DeleteAllReminders(ctx)
	if err != nil {
		r.log.Error("deleting reminders", "error", err)
		return model.Error[int](err.Error())
	}
	r.log.Info("reminders deleted", "count", n)
	return model.Success(n)
}
