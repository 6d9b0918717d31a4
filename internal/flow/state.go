package flow

import (
	"github.com/njoerd114/pinreminder/internal/model"
	"github.com/njoerd114/pinreminder/internal/permission"
)

// State is a step of the save flow.
type State int

const (
	StateIdle State = iota
	StateValidatingInput
	StateRequestingForegroundPermission
	StateCheckingLocationSettings
	StateAwaitingLocationEnabled
	StateRequestingBackgroundPermission
	StateRegisteringGeofence
	StatePersisting
	StateDone
	StateError
)

var stateNames = map[State]string{
	StateIdle:                           "idle",
	StateValidatingInput:                "validating_input",
	StateRequestingForegroundPermission: "requesting_foreground_permission",
	StateCheckingLocationSettings:       "checking_location_settings",
	StateAwaitingLocationEnabled:        "awaiting_location_enabled",
	StateRequestingBackgroundPermission: "requesting_background_permission",
	StateRegisteringGeofence:            "registering_geofence",
	StatePersisting:                     "persisting",
	StateDone:                           "done",
	StateError:                          "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// UIEvent is a signal for whatever front end drives the flow.
type UIEvent interface{ uiEvent() }

// ShowLoading turns a busy indicator on or off.
type ShowLoading struct{ On bool }

// ShowMessage reports a failure the user should read.
type ShowMessage struct{ Message model.MessageID }

// ShowToast reports a short-lived confirmation.
type ShowToast struct{ Message model.MessageID }

// NavigateBack asks the front end to leave the save screen.
type NavigateBack struct{}

func (ShowLoading) uiEvent()  {}
func (ShowMessage) uiEvent()  {}
func (ShowToast) uiEvent()    {}
func (NavigateBack) uiEvent() {}

// UI receives UI events in order.
type UI interface {
	Handle(ev UIEvent)
}

// UIFunc adapts a function to [UI].
type UIFunc func(ev UIEvent)

func (f UIFunc) Handle(ev UIEvent) { f(ev) }

// event is an asynchronous step result fed into the flow's loop.
type event interface{ flowEvent() }

type permissionAnswered struct {
	capability permission.Capability
	granted    bool
}

type settingsFailed struct{ err error }

type settingsResolving struct{}

type settingsCompleted struct{ enabled bool }

type geofenceAdded struct{ err error }

func (permissionAnswered) flowEvent() {}
func (settingsFailed) flowEvent()     {}
func (settingsResolving) flowEvent()  {}
func (settingsCompleted) flowEvent()  {}
func (geofenceAdded) flowEvent()      {}
