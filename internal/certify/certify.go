// Package certify signs verified attendance entries so their location can be checked later.
package certify

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"netoffice/internal/attendance"
)

var (
	ErrUnverified = errors.New("entry has no verified location")
	ErrInvalid    = errors.New("invalid certificate")
)

// Claims is the payload of a geo-certificate.
type Claims struct {
	EntryID        string    `json:"eid"`
	Owner          string    `json:"own"`
	Latitude       float64   `json:"lat"`
	Longitude      float64   `json:"lng"`
	AccuracyMeters float64   `json:"acc"`
	StartedAt      time.Time `json:"start"`
	EndedAt        time.Time `json:"end"`
	jwt.RegisteredClaims
}

// Certifier issues and verifies HS256 geo-certificates.
type Certifier struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// New creates a certifier. A zero ttl issues certificates that never expire.
func New(signingKey, issuer string, ttl time.Duration) *Certifier {
	return &Certifier{key: []byte(signingKey), issuer: issuer, ttl: ttl, now: time.Now}
}

// Certify signs e. Only entries with a verified location can be certified.
func (c *Certifier) Certify(e attendance.LogEntry) (string, error) {
	if !e.LocationVerified || e.Coordinates == nil || e.AccuracyMeters == nil {
		return "", ErrUnverified
	}
	issued := c.now()
	claims := Claims{
		EntryID:        e.ID,
		Owner:          e.Owner,
		Latitude:       e.Coordinates.Latitude,
		Longitude:      e.Coordinates.Longitude,
		AccuracyMeters: *e.AccuracyMeters,
		StartedAt:      e.StartedAt.UTC(),
		EndedAt:        e.EndedAt.UTC(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   c.issuer,
			Subject:  e.Owner,
			ID:       e.ID,
			IssuedAt: jwt.NewNumericDate(issued),
		},
	}
	if c.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(issued.Add(c.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// Verify checks the signature and issuer of a certificate and returns its claims.
func (c *Certifier) Verify(token string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return c.key, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalid
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return Claims{}, fmt.Errorf("%w: issuer mismatch", ErrInvalid)
	}
	return *claims, nil
}
