package model

import "time"

// Notification is the alert emitted when the device enters a reminder's
// region. Tag is the reminder ID and lets sinks collapse duplicates.
type Notification struct {
	Tag         string    `json:"tag"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// NotificationFor builds the notification for reminder r.
func NotificationFor(r Reminder, at time.Time) Notification {
	return Notification{
		Tag:         r.ID,
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		TriggeredAt: at,
	}
}

// Body is the single-line text used by sinks that only carry a message.
func (n Notification) Body() string {
	switch {
	case n.Description != "" && n.Location != "":
		return n.Description + " (" + n.Location + ")"
	case n.Description != "":
		return n.Description
	default:
		return n.Location
	}
}
