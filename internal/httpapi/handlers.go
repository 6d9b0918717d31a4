package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/njoerd114/pinreminder/internal/geofence"
	"github.com/njoerd114/pinreminder/internal/model"
	"github.com/njoerd114/pinreminder/internal/reminders"
)

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	signedIn, known := s.deps.Ready.Current()
	switch {
	case !known:
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": "auth state unknown"})
	case !signedIn:
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": "signed out of Home Assistant"})
	default:
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	Accuracy  float64  `json:"accuracy" validate:"gte=0"`
}

func (s *Server) postLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !s.decode(w, r, &req) {
		return
	}
	fix := model.Fix{
		Latitude:       *req.Latitude,
		Longitude:      *req.Longitude,
		AccuracyMeters: req.Accuracy,
		Available:      true,
		At:             s.clock(),
	}
	s.deps.Locations.OnLocation(r.Context(), fix)
	w.WriteHeader(http.StatusAccepted)
}

type transitionRequest struct {
	Transition string   `json:"transition" validate:"required_without=ErrorCode,omitempty,oneof=enter exit dwell"`
	RegionIDs  []string `json:"region_ids" validate:"required_without=ErrorCode,dive,required"`
	ErrorCode  int      `json:"error_code" validate:"gte=0"`
}

func (s *Server) postTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !s.decode(w, r, &req) {
		return
	}

	ev := geofence.Event{RegionIDs: req.RegionIDs, ErrorCode: geofence.ErrorCode(req.ErrorCode)}
	if req.Transition != "" {
		t, err := geofence.ParseTransition(req.Transition)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		ev.Transition = t
	}

	go s.deps.Transitions.HandleWithTimeout(context.WithoutCancel(r.Context()), ev, transitionTimeout)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) listReminders(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Reminders.GetReminders(r.Context())
	list, ok := res.Data()
	if !ok {
		respondError(w, http.StatusInternalServerError, res.Message())
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) getReminder(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Reminders.GetReminder(r.Context(), chi.URLParam(r, "id"))
	rem, ok := res.Data()
	switch {
	case ok:
		respondJSON(w, http.StatusOK, rem)
	case res.Message() == reminders.NotFoundMessage:
		respondError(w, http.StatusNotFound, res.Message())
	default:
		respondError(w, http.StatusInternalServerError, res.Message())
	}
}

func (s *Server) clearReminders(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Reminders.DeleteAllReminders(r.Context())
	if !res.IsSuccess() {
		respondError(w, http.StatusInternalServerError, res.Message())
		return
	}
	if err := s.deps.Locations.RemoveAll(r.Context()); err != nil {
		s.logger.Error("removing geofences", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into dst and validates it, writing a 400 on
// failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			respondError(w, http.StatusBadRequest, "invalid field: "+verrs[0].Field())
			return false
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
