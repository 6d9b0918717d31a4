// Package model defines the types shared by the save flow, the geofence
// pipeline, storage and the notification sinks.
package model

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Reminder is a persisted location reminder. Empty strings stand for absent
// optional fields; Latitude and Longitude are either both set or both nil.
type Reminder struct {
	ID          string   `json:"id" validate:"required"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location" validate:"required"`
	Latitude    *float64 `json:"latitude,omitempty" validate:"required_with=Longitude,omitempty,latitude"`
	Longitude   *float64 `json:"longitude,omitempty" validate:"required_with=Latitude,omitempty,longitude"`
}

// NewReminder returns a Reminder with a freshly generated ID.
func NewReminder(title, description, location string, lat, lon *float64) Reminder {
	return Reminder{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Location:    location,
		Latitude:    lat,
		Longitude:   lon,
	}
}

// HasCoordinates reports whether both coordinates are present.
func (r Reminder) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Coordinates returns the reminder's position. ok is false when the reminder
// has no coordinates.
func (r Reminder) Coordinates() (lat, lon float64, ok bool) {
	if !r.HasCoordinates() {
		return 0, 0, false
	}
	return *r.Latitude, *r.Longitude, true
}

// ValidationError reports the first field that makes a reminder unsavable,
// along with the user-facing message for it.
type ValidationError struct {
	Field   string
	Message MessageID
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid reminder field %s: %s", e.Field, Text(e.Message))
}

var validate = validator.New()

// Validate checks that the reminder is persistable: a title, a location label
// and either both coordinates or none. Fields are checked in declaration
// order, so a missing title is reported before a missing location.
func (r Reminder) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validating reminder: %w", err)
	}

	first := verrs[0]
	return &ValidationError{Field: first.Field(), Message: messageForField(first.Field())}
}

func messageForField(field string) MessageID {
	switch field {
	case "Title":
		return MsgEnterTitle
	case "Location":
		return MsgSelectLocation
	case "Latitude", "Longitude":
		return MsgInvalidCoordinates
	default:
		return MsgInvalidReminder
	}
}

// Float returns a pointer to v. Handy for building reminders in code.
func Float(v float64) *float64 {
	return &v
}

// CoordinateSnippet formats a dropped pin the way the location label shows it
// when the user did not pick a named place.
func CoordinateSnippet(lat, lon float64) string {
	return fmt.Sprintf("Lat: %.5f, Long: %.5f", lat, lon)
}
