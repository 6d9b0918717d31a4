package model

import (
	"errors"
	"testing"
	"time"
)

func validReminder() Reminder {
	return NewReminder("Test title", "Test description", "Test location", Float(1.0), Float(2.0))
}

func TestNewReminder_GeneratesDistinctIDs(t *testing.T) {
	a := validReminder()
	b := validReminder()
	if a.ID == "" {
		t.Fatal("ID is empty")
	}
	if a.ID == b.ID {
		t.Errorf("two reminders share ID %q", a.ID)
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validReminder().Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate_NoCoordinates(t *testing.T) {
	r := NewReminder("Title", "", "Somewhere", nil, nil)
	if err := r.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate_FieldMessages(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Reminder)
		wantField string
		wantMsg   MessageID
	}{
		{"empty title", func(r *Reminder) { r.Title = "" }, "Title", MsgEnterTitle},
		{"empty location", func(r *Reminder) { r.Location = "" }, "Location", MsgSelectLocation},
		{"title reported first", func(r *Reminder) { r.Title = ""; r.Location = "" }, "Title", MsgEnterTitle},
		{"latitude only", func(r *Reminder) { r.Longitude = nil }, "Longitude", MsgInvalidCoordinates},
		{"longitude only", func(r *Reminder) { r.Latitude = nil }, "Latitude", MsgInvalidCoordinates},
		{"latitude out of range", func(r *Reminder) { r.Latitude = Float(91) }, "Latitude", MsgInvalidCoordinates},
		{"longitude out of range", func(r *Reminder) { r.Longitude = Float(-181) }, "Longitude", MsgInvalidCoordinates},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReminder()
			tt.mutate(&r)

			err := r.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
			if verr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", verr.Message, tt.wantMsg)
			}
		})
	}
}

func TestCoordinates(t *testing.T) {
	lat, lon, ok := validReminder().Coordinates()
	if !ok || lat != 1.0 || lon != 2.0 {
		t.Errorf("Coordinates() = (%v, %v, %v), want (1, 2, true)", lat, lon, ok)
	}

	_, _, ok = NewReminder("t", "", "l", nil, nil).Coordinates()
	if ok {
		t.Error("Coordinates() ok = true for reminder without coordinates")
	}
}

func TestCoordinateSnippet(t *testing.T) {
	got := CoordinateSnippet(52.520008, 13.404954)
	want := "Lat: 52.52001, Long: 13.40495"
	if got != want {
		t.Errorf("CoordinateSnippet = %q, want %q", got, want)
	}
}

func TestResult(t *testing.T) {
	ok := Success(42)
	if !ok.IsSuccess() {
		t.Error("Success().IsSuccess() = false")
	}
	if v, _ := ok.Data(); v != 42 {
		t.Errorf("Data() = %d, want 42", v)
	}
	if ok.Message() != "" {
		t.Errorf("Message() = %q, want empty", ok.Message())
	}

	bad := Error[int]("boom")
	if bad.IsSuccess() {
		t.Error("Error().IsSuccess() = true")
	}
	if _, has := bad.Data(); has {
		t.Error("Error().Data() reported a value")
	}
	if bad.Message() != "boom" {
		t.Errorf("Message() = %q, want %q", bad.Message(), "boom")
	}
}

func TestText(t *testing.T) {
	if got := Text(MsgEnterTitle); got != "Please enter a title" {
		t.Errorf("Text(MsgEnterTitle) = %q", got)
	}
	if got := Text("no_such_message"); got != "no_such_message" {
		t.Errorf("Text(unknown) = %q, want the ID back", got)
	}
}

func TestNotificationFor(t *testing.T) {
	r := validReminder()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := NotificationFor(r, at)

	if n.Tag != r.ID {
		t.Errorf("Tag = %q, want reminder ID %q", n.Tag, r.ID)
	}
	if n.Title != r.Title || n.Location != r.Location || n.Description != r.Description {
		t.Errorf("notification fields do not match reminder: %+v", n)
	}
	if n.Body() != "Test description (Test location)" {
		t.Errorf("Body() = %q", n.Body())
	}
	if !n.TriggeredAt.Equal(at) {
		t.Errorf("TriggeredAt = %v, want %v", n.TriggeredAt, at)
	}
}
