package homeassistant

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/njoerd114/pinreminder/internal/model"
)

const (
	domainNotify = "notify"

	stateUnavailable = "unavailable"
	stateUnknown     = "unknown"
)

// haState is the JSON structure returned by /api/states/<entity_id> for
// device_tracker and person entities.
type haState struct {
	EntityID   string `json:"entity_id"`
	State      string `json:"state"`
	Attributes struct {
		Latitude     *float64 `json:"latitude"`
		Longitude    *float64 `json:"longitude"`
		GPSAccuracy  *float64 `json:"gps_accuracy"`
		FriendlyName string   `json:"friendly_name"`
	} `json:"attributes"`
	LastUpdated string `json:"last_updated"`
}

// parseStateFix converts a state response to a [model.Fix]. now is used when
// HA omits or garbles last_updated.
func parseStateFix(raw []byte, now time.Time) (model.Fix, error) {
	var s haState
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.Fix{}, fmt.Errorf("parse state response: %w", err)
	}
	return stateToFix(s, now), nil
}

func stateToFix(s haState, now time.Time) model.Fix {
	fix := model.Fix{At: now}
	if t, err := time.Parse(time.RFC3339, s.LastUpdated); err == nil {
		fix.At = t
	}

	if s.State == stateUnavailable || s.State == stateUnknown {
		return fix
	}
	if s.Attributes.Latitude == nil || s.Attributes.Longitude == nil {
		return fix
	}

	fix.Latitude = *s.Attributes.Latitude
	fix.Longitude = *s.Attributes.Longitude
	if s.Attributes.GPSAccuracy != nil {
		fix.AccuracyMeters = *s.Attributes.GPSAccuracy
	}
	fix.Available = true
	return fix
}

// buildNotifyData returns the service-call payload for notify.<service>.
// data.tag groups notifications per reminder on the companion app.
func buildNotifyData(n model.Notification) map[string]interface{} {
	data := map[string]interface{}{
		"title":   n.Title,
		"message": n.Body(),
	}

	extra := map[string]interface{}{
		"tag": n.Tag,
	}
	if n.Latitude != nil && n.Longitude != nil {
		extra["subtitle"] = model.CoordinateSnippet(*n.Latitude, *n.Longitude)
	}
	data["data"] = extra

	return data
}
