// Package geofence registers circular regions around reminders and turns
// location fixes into transition events.
package geofence

import (
	"fmt"
	"strings"
	"time"

	"github.com/njoerd114/pinreminder/internal/model"
)

// DefaultRadiusMeters is the radius used for every reminder region.
const DefaultRadiusMeters = 300

// NeverExpire keeps a region registered until it is removed.
const NeverExpire time.Duration = -1

// Transition is a bit set of region transitions.
type Transition int

const (
	TransitionEnter Transition = 1 << iota
	TransitionExit
	TransitionDwell
)

func (t Transition) String() string {
	var parts []string
	if t&TransitionEnter != 0 {
		parts = append(parts, "enter")
	}
	if t&TransitionExit != 0 {
		parts = append(parts, "exit")
	}
	if t&TransitionDwell != 0 {
		parts = append(parts, "dwell")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseTransition maps "enter", "exit" or "dwell" to a Transition.
func ParseTransition(s string) (Transition, error) {
	switch strings.ToLower(s) {
	case "enter":
		return TransitionEnter, nil
	case "exit":
		return TransitionExit, nil
	case "dwell":
		return TransitionDwell, nil
	default:
		return 0, fmt.Errorf("unknown transition %q", s)
	}
}

// Region is one circular geofence. Its ID is the reminder ID.
type Region struct {
	ID           string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	Transitions  Transition
	Expiration   time.Duration
}

// NewRegion returns an enter-only, non-expiring region.
func NewRegion(id string, lat, lon, radius float64) Region {
	return Region{
		ID:           id,
		Latitude:     lat,
		Longitude:    lon,
		RadiusMeters: radius,
		Transitions:  TransitionEnter,
		Expiration:   NeverExpire,
	}
}

func (r Region) validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("region has no id")
	case r.RadiusMeters <= 0:
		return fmt.Errorf("region %s: radius %v must be positive", r.ID, r.RadiusMeters)
	case r.Latitude < -90 || r.Latitude > 90:
		return fmt.Errorf("region %s: latitude %v out of range", r.ID, r.Latitude)
	case r.Longitude < -180 || r.Longitude > 180:
		return fmt.Errorf("region %s: longitude %v out of range", r.ID, r.Longitude)
	case r.Transitions == 0:
		return fmt.Errorf("region %s: no transitions requested", r.ID)
	}
	return nil
}

// Request adds regions to the monitor. InitialTrigger selects which
// transitions fire immediately if the device is already positioned so.
type Request struct {
	Regions        []Region
	InitialTrigger Transition
}

// ErrorCode is a geofencing failure reported instead of a transition.
type ErrorCode int

const (
	CodeNone                  ErrorCode = 0
	CodeNotAvailable          ErrorCode = 1000
	CodeTooManyGeofences      ErrorCode = 1001
	CodeTooManyPendingIntents ErrorCode = 1002
)

// MessageID returns the user-facing message for c.
func (c ErrorCode) MessageID() model.MessageID {
	switch c {
	case CodeNotAvailable:
		return model.MsgGeofenceNotAvailable
	case CodeTooManyGeofences:
		return model.MsgGeofenceTooManyGeofences
	case CodeTooManyPendingIntents:
		return model.MsgGeofenceTooManyPendingIntents
	default:
		return model.MsgGeofenceUnknownError
	}
}

// ErrorMessage returns the human-readable text for c.
func ErrorMessage(c ErrorCode) string {
	return model.Text(c.MessageID())
}

// StatusError is returned when the monitor rejects a request.
type StatusError struct {
	Code ErrorCode
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geofence error %d: %s", int(e.Code), ErrorMessage(e.Code))
}

// Event is delivered to transition receivers. Either ErrorCode is set, or
// Transition and RegionIDs are.
type Event struct {
	Transition Transition `json:"transition"`
	RegionIDs  []string   `json:"region_ids,omitempty"`
	ErrorCode  ErrorCode  `json:"error_code,omitempty"`
	Location   *model.Fix `json:"location,omitempty"`
}

// HasError reports whether the event carries an error instead of a payload.
func (e Event) HasError() bool {
	return e.ErrorCode != CodeNone
}
