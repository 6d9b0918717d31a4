package model

// MessageID identifies a short user-visible message. Front ends resolve it to
// text with [Text]; logs and API responses carry the ID itself.
type MessageID string

const (
	MsgEnterTitle          MessageID = "err_enter_title"
	MsgSelectLocation      MessageID = "err_select_location"
	MsgInvalidCoordinates  MessageID = "err_invalid_coordinates"
	MsgInvalidReminder     MessageID = "err_invalid_reminder"
	MsgLocationRequired    MessageID = "location_required_error"
	MsgPermissionRationale MessageID = "permission_denied_explanation"
	MsgBackgroundRationale MessageID = "background_permission_explanation"
	MsgGeofenceFailed      MessageID = "error_adding_geofence"
	MsgSaveFailed          MessageID = "error_saving_reminder"
	MsgReminderSaved       MessageID = "reminder_saved"

	MsgGeofenceNotAvailable          MessageID = "geofence_not_available"
	MsgGeofenceTooManyGeofences      MessageID = "geofence_too_many_geofences"
	MsgGeofenceTooManyPendingIntents MessageID = "geofence_too_many_pending_intents"
	MsgGeofenceUnknownError          MessageID = "geofence_unknown_error"
)

var messages = map[MessageID]string{
	MsgEnterTitle:          "Please enter a title",
	MsgSelectLocation:      "Please select a location",
	MsgInvalidCoordinates:  "Latitude and longitude must be set together and within range",
	MsgInvalidReminder:     "The reminder is incomplete",
	MsgLocationRequired:    "Location services must be enabled to use the app",
	MsgPermissionRationale: "Location permission is needed to remind you when you arrive at a saved place",
	MsgBackgroundRationale: "Background location access is needed so reminders fire while the app is not running",
	MsgGeofenceFailed:      "Failed to add the location. Try again later.",
	MsgSaveFailed:          "Failed to save the reminder",
	MsgReminderSaved:       "Reminder saved",

	MsgGeofenceNotAvailable:          "Geofence service is not available now. Check that your tracker reports a position.",
	MsgGeofenceTooManyGeofences:      "Too many geofences are registered.",
	MsgGeofenceTooManyPendingIntents: "Too many transition receivers are registered.",
	MsgGeofenceUnknownError:          "An unknown error occurred.",
}

// Text returns the English text for id, or the ID itself when none exists.
func Text(id MessageID) string {
	if s, ok := messages[id]; ok {
		return s
	}
	return string(id)
}
