package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	ekreminders "github.com/BRO3886/go-eventkit/reminders"

	"github.com/njoerd114/pinreminder/internal/model"
)

// tagPrefix marks the reminder ID inside the notes of a created Apple
// reminder so repeated triggers update nothing and create no duplicates.
const tagPrefix = "pinreminder:"

// EventKitClient is the subset of [ekreminders.Client] used by the sink.
type EventKitClient interface {
	Reminders(opts ...ekreminders.ListOption) ([]ekreminders.Reminder, error)
	CreateReminder(input ekreminders.CreateReminderInput) (*ekreminders.Reminder, error)
}

// AppleRemindersSink turns a triggered reminder into a high-priority Apple
// Reminders entry, due now, so it surfaces on every synced Apple device.
type AppleRemindersSink struct {
	client EventKitClient
	list   string
	log    *slog.Logger
}

// NewAppleRemindersSink creates a sink backed by a real EventKit client.
// This triggers the macOS TCC permissions prompt on first use.
func NewAppleRemindersSink(list string, logger *slog.Logger) (*AppleRemindersSink, error) {
	c, err := ekreminders.New()
	if err != nil {
		return nil, fmt.Errorf("initialising reminders client: %w", err)
	}
	return &AppleRemindersSink{client: c, list: list, log: logger}, nil
}

// NewAppleRemindersSinkWithClient creates a sink with a caller-supplied client.
func NewAppleRemindersSinkWithClient(client EventKitClient, list string, logger *slog.Logger) *AppleRemindersSink {
	return &AppleRemindersSink{client: client, list: list, log: logger}
}

func (s *AppleRemindersSink) Name() string { return "apple_reminders" }

// Notify creates the entry unless an incomplete one for the same tag exists.
// The underlying cgo calls are not cancellable; ctx is checked up front.
func (s *AppleRemindersSink) Notify(ctx context.Context, n model.Notification) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("apple reminders notify: %w", err)
	}

	existing, err := s.client.Reminders(ekreminders.WithList(s.list))
	if err != nil {
		return fmt.Errorf("fetching reminders for list %q: %w", s.list, err)
	}
	marker := tagPrefix + n.Tag
	for _, r := range existing {
		if !r.Completed && strings.Contains(r.Notes, marker) {
			s.log.Debug("apple reminder already open", "tag", n.Tag, "uid", r.ID)
			return nil
		}
	}

	rem, err := s.client.CreateReminder(notificationToCreateInput(n, s.list))
	if err != nil {
		return fmt.Errorf("creating reminder %q in list %q: %w", n.Title, s.list, err)
	}
	s.log.Debug("created apple reminder", "tag", n.Tag, "uid", rem.ID)
	return nil
}

func notificationToCreateInput(n model.Notification, list string) ekreminders.CreateReminderInput {
	notes := n.Body()
	if notes != "" {
		notes += "\n\n"
	}
	notes += tagPrefix + n.Tag

	due := n.TriggeredAt
	return ekreminders.CreateReminderInput{
		Title:    n.Title,
		Notes:    notes,
		ListName: list,
		Priority: ekreminders.PriorityHigh,
		DueDate:  &due,
	}
}

// RemindersList is an Apple Reminders list offered during setup.
type RemindersList struct {
	Title string
	Count int
}

// String returns a human-readable representation for selection prompts.
func (l RemindersList) String() string {
	return fmt.Sprintf("%s (%d)", l.Title, l.Count)
}

// DiscoverRemindersLists returns all Apple Reminders lists available on this
// Mac. This triggers the macOS TCC permissions prompt on first use.
func DiscoverRemindersLists(logger *slog.Logger) ([]RemindersList, error) {
	client, err := ekreminders.New()
	if err != nil {
		return nil, fmt.Errorf("initialising Reminders client: %w", err)
	}

	lists, err := client.Lists()
	if err != nil {
		return nil, fmt.Errorf("fetching Reminders lists: %w", err)
	}
	logger.Debug("discovered Reminders lists", "count", len(lists))

	result := make([]RemindersList, 0, len(lists))
	for _, l := range lists {
		result = append(result, RemindersList{Title: l.Title, Count: l.Count})
	}
	return result, nil
}
