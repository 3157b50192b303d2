// Package geo models single-shot device location acquisition.
package geo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Location is a device fix.
type Location struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// ErrorKind classifies a failed acquisition. The zero value means no error.
type ErrorKind int

const (
	// NoError marks a successful acquisition.
	NoError ErrorKind = iota
	// PermissionDenied means the user refused location access.
	PermissionDenied
	// PositionUnavailable means the device could not determine a position.
	PositionUnavailable
	// Timeout means no fix arrived within the request timeout.
	Timeout
	// Unsupported means the device has no location capability.
	Unsupported
)

var kindNames = map[ErrorKind]string{
	NoError:             "",
	PermissionDenied:    "permission_denied",
	PositionUnavailable: "position_unavailable",
	Timeout:             "timeout",
	Unsupported:         "unsupported",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind as its stable name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a stable kind name.
func (k *ErrorKind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown location error kind %q", string(b))
}

// KindFromCode maps W3C Geolocation API error codes.
func KindFromCode(code int) ErrorKind {
	switch code {
	case 1:
		return PermissionDenied
	case 2:
		return PositionUnavailable
	case 3:
		return Timeout
	default:
		return PositionUnavailable
	}
}

// LocationError is returned by a Locator when no fix could be produced.
type LocationError struct {
	Kind ErrorKind
	Err  error
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location %s: %v", e.Kind, e.Err)
	}
	return "location " + e.Kind.String()
}

func (e *LocationError) Unwrap() error { return e.Err }

// ErrUnsupported is reported when the device has no location capability.
var ErrUnsupported = errors.New("geolocation not supported")

// Classify maps any acquisition error onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return NoError
	}
	var le *LocationError
	switch {
	case errors.As(err, &le):
		return le.Kind
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, ErrUnsupported):
		return Unsupported
	default:
		return PositionUnavailable
	}
}

// Options control a single acquisition. Cached fixes are never accepted.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	// Attempt tags the request with the session attempt it serves.
	Attempt uint64
}

// Locator produces one fresh fix per call.
type Locator interface {
	RequestLocation(ctx context.Context, opts Options) (Location, error)
}

// Aborter is implemented by locators that can drop the request of an abandoned attempt.
type Aborter interface {
	Abort(attempt uint64) bool
}

// Unavailable is the Locator of a device without location capability.
type Unavailable struct{}

// RequestLocation always reports Unsupported.
func (Unavailable) RequestLocation(context.Context, Options) (Location, error) {
	return Location{}, &LocationError{Kind: Unsupported, Err: ErrUnsupported}
}
