package model

import (
	"errors"
	"time"
)

// ErrSettingsResolutionRequired marks a location-settings check that failed
// in a way the user can fix, e.g. by turning on location sharing.
var ErrSettingsResolutionRequired = errors.New("location settings need user action")

// Fix is one position report from the location source.
type Fix struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy,omitempty"`
	Available      bool      `json:"available"`
	At             time.Time `json:"at"`
}

// Priority is the power/accuracy trade-off asked of the location source.
type Priority int

const (
	PriorityLowPower Priority = iota
	PriorityBalanced
	PriorityHighAccuracy
)

func (p Priority) String() string {
	switch p {
	case PriorityLowPower:
		return "low_power"
	case PriorityBalanced:
		return "balanced"
	case PriorityHighAccuracy:
		return "high_accuracy"
	default:
		return "unknown"
	}
}

// LocationRequest describes what the location source must be able to provide
// for geofencing to work.
type LocationRequest struct {
	Priority Priority
	// MaxAccuracyMeters is the worst accuracy still accepted. Zero disables
	// the accuracy check.
	MaxAccuracyMeters float64
}

// LowPowerRequest is the request the save flow checks settings against.
func LowPowerRequest(maxAccuracy float64) LocationRequest {
	return LocationRequest{Priority: PriorityLowPower, MaxAccuracyMeters: maxAccuracy}
}
