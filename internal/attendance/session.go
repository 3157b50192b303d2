package attendance

import (
	"fmt"
	"time"

	"netoffice/internal/geo"
)

// State is the clock-in lifecycle of a session.
type State string

const (
	Idle              State = "idle"
	AcquiringLocation State = "acquiring_location"
	Active            State = "active"
	LocationError     State = "location_error"
)

// Session is a point-in-time copy of a controller's state.
type Session struct {
	Owner         string        `json:"owner"`
	State         State         `json:"state"`
	Attempt       uint64        `json:"attempt"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	Location      *geo.Location `json:"location,omitempty"`
	LocationError geo.ErrorKind `json:"location_error,omitempty"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// Working reports whether the owner is on the clock, with or without a verified fix.
func (s Session) Working() bool {
	return s.State == Active || s.State == LocationError
}

// Quality grades the session fix; empty without one.
func (s Session) Quality() geo.Quality {
	if s.Location == nil {
		return ""
	}
	return geo.ClassifyAccuracy(s.Location.AccuracyMeters)
}

// Advisory is the user-facing warning for an unverified session, or "".
func (s Session) Advisory() string {
	if s.LocationError == geo.NoError {
		return ""
	}
	return Advisory(s.LocationError)
}

// Advisory explains a location failure to the user.
func Advisory(kind geo.ErrorKind) string {
	var msg string
	switch kind {
	case geo.PermissionDenied:
		msg = "GPS permission denied."
	case geo.PositionUnavailable:
		msg = "GPS signal unavailable."
	case geo.Timeout:
		msg = "GPS did not respond in time."
	case geo.Unsupported:
		msg = "This device does not support geolocation."
	default:
		msg = "Could not obtain a GPS location."
	}
	return msg + " The entry will be flagged for manual review."
}

// Coordinates of a verified entry.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LogEntry records one finished session. Entries never change after they are logged.
type LogEntry struct {
	ID               string        `json:"id"`
	Owner            string        `json:"owner"`
	Date             string        `json:"date"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          time.Time     `json:"ended_at"`
	TotalDuration    time.Duration `json:"total_duration_ns"`
	LocationVerified bool          `json:"location_verified"`
	Coordinates      *Coordinates  `json:"coordinates,omitempty"`
	AccuracyMeters   *float64      `json:"accuracy_meters,omitempty"`
	Quality          geo.Quality   `json:"quality,omitempty"`
	LocationError    geo.ErrorKind `json:"location_error,omitempty"`
	Certificate      string        `json:"certificate,omitempty"`
}

// Minutes is the whole-minute length of the session.
func (e LogEntry) Minutes() int64 {
	return int64(e.TotalDuration / time.Minute)
}

// Clock renders the duration as HH:MM.
func (e LogEntry) Clock() string {
	m := e.Minutes()
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// Observer is told about every transition and every logged entry.
type Observer interface {
	SessionChanged(Session)
	EntryLogged(LogEntry)
}

// Certifier signs verified entries.
type Certifier interface {
	Certify(LogEntry) (string, error)
}
