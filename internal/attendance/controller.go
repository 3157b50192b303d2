package attendance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"netoffice/internal/fault"
	"netoffice/internal/geo"
)

// DefaultGPSTimeout bounds a location request when none is configured.
const DefaultGPSTimeout = 10 * time.Second

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithGPSOptions sets the options of each acquisition.
func WithGPSOptions(opts geo.Options) Option {
	return func(c *Controller) { c.gps = opts }
}

// WithCertifier signs verified entries on clock-out.
func WithCertifier(cert Certifier) Option {
	return func(c *Controller) { c.certifier = cert }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller owns one user's clock-in state. Observers are called in the
// order the changes happened and must not call back into the controller's
// mutating methods.
type Controller struct {
	owner     string
	locator   geo.Locator
	gps       geo.Options
	now       func() time.Time
	certifier Certifier
	observers []Observer
	log       logrus.FieldLogger

	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	attempt   uint64
	startedAt time.Time
	location  *geo.Location
	locErr    geo.ErrorKind
	cancel    context.CancelFunc
	settled   chan struct{}
	history   []LogEntry
}

// NewController creates an idle session for owner. A nil locator behaves as geo.Unavailable.
func NewController(owner string, locator geo.Locator, opts ...Option) *Controller {
	if locator == nil {
		locator = geo.Unavailable{}
	}
	c := &Controller{
		owner:   owner,
		locator: locator,
		gps:     geo.Options{HighAccuracy: true, Timeout: DefaultGPSTimeout},
		now:     time.Now,
		state:   Idle,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.gps.Timeout <= 0 {
		c.gps.Timeout = DefaultGPSTimeout
	}
	c.log = c.log.WithField("owner", owner)
	return c
}

// Owner returns the user the session belongs to.
func (c *Controller) Owner() string { return c.owner }

// ClockIn starts a session. It moves to AcquiringLocation, issues one location
// request in the background and returns a channel that yields the settled
// snapshot. The request outlives ctx but not the GPS timeout.
func (c *Controller) ClockIn(ctx context.Context) (<-chan Session, error) {
	c.mu.Lock()
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot clock in while %s", fault.ErrInvalidState, state)
	}
	c.attempt++
	attempt := c.attempt
	c.state = AcquiringLocation
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.gps.Timeout)
	c.cancel = cancel
	c.settled = make(chan struct{})
	opts := c.gps
	opts.Attempt = attempt
	c.log.WithField("attempt", attempt).Debug("acquiring location")
	c.unlockAndNotify(c.snapshotLocked(), nil)

	done := make(chan Session, 1)
	go func() {
		defer close(done)
		defer cancel()
		loc, err := c.locator.RequestLocation(reqCtx, opts)
		done <- c.settle(attempt, loc, err)
	}()
	return done, nil
}

// settle applies the outcome of attempt unless the session has moved on.
func (c *Controller) settle(attempt uint64, loc geo.Location, err error) Session {
	c.mu.Lock()
	entry := c.log.WithField("attempt", attempt)
	if attempt != c.attempt || c.state != AcquiringLocation {
		entry.Debug("discarding stale location result")
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap
	}

	c.cancel = nil
	c.releaseAwaitLocked()
	c.startedAt = c.now()
	if err != nil {
		c.state = LocationError
		c.location = nil
		c.locErr = geo.Classify(err)
		entry.WithError(err).WithField("kind", c.locErr.String()).Warn("clocked in without verified location")
	} else {
		c.state = Active
		c.location = &loc
		c.locErr = geo.NoError
		entry.WithField("accuracy_m", loc.AccuracyMeters).Info("clocked in")
	}
	snap := c.snapshotLocked()
	c.unlockAndNotify(snap, nil)
	return snap
}

// CancelClockIn abandons an outstanding acquisition and returns to Idle. The
// locator's request is dropped before it returns when the locator is a
// geo.Aborter; a result arriving later is discarded.
func (c *Controller) CancelClockIn() error {
	c.mu.Lock()
	if c.state != AcquiringLocation {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: no clock-in to cancel while %s", fault.ErrInvalidState, state)
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if a, ok := c.locator.(geo.Aborter); ok {
		a.Abort(c.attempt)
	}
	c.attempt++
	c.releaseAwaitLocked()
	c.resetLocked()
	c.unlockAndNotify(c.snapshotLocked(), nil)
	return nil
}

// Await blocks until attempt has settled or been cancelled and returns the
// snapshot at that point. It returns at once for any attempt that is not outstanding.
func (c *Controller) Await(ctx context.Context, attempt uint64) (Session, error) {
	c.mu.Lock()
	if attempt != c.attempt || c.state != AcquiringLocation || c.settled == nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	ch := c.settled
	c.mu.Unlock()

	select {
	case <-ch:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

func (c *Controller) releaseAwaitLocked() {
	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
}

// ClockOut ends a working session and logs it.
func (c *Controller) ClockOut() (LogEntry, error) {
	c.mu.Lock()
	if c.state != Active && c.state != LocationError {
		state := c.state
		c.mu.Unlock()
		return LogEntry{}, fmt.Errorf("%w: cannot clock out while %s", fault.ErrInvalidState, state)
	}

	end := c.now()
	entry := LogEntry{
		ID:               uuid.NewString(),
		Owner:            c.owner,
		Date:             c.startedAt.Format("2006-01-02"),
		StartedAt:        c.startedAt,
		EndedAt:          end,
		TotalDuration:    end.Sub(c.startedAt),
		LocationVerified: c.location != nil,
		LocationError:    c.locErr,
	}
	if loc := c.location; loc != nil {
		acc := loc.AccuracyMeters
		entry.Coordinates = &Coordinates{Latitude: loc.Latitude, Longitude: loc.Longitude}
		entry.AccuracyMeters = &acc
		entry.Quality = geo.ClassifyAccuracy(acc)
		if c.certifier != nil {
			token, err := c.certifier.Certify(entry)
			if err != nil {
				c.log.WithError(err).Warn("certify entry failed")
			} else {
				entry.Certificate = token
			}
		}
	}

	c.history = append(c.history, entry)
	c.resetLocked()
	c.log.WithFields(logrus.Fields{
		"entry":    entry.ID,
		"minutes":  entry.Minutes(),
		"verified": entry.LocationVerified,
	}).Info("clocked out")
	c.unlockAndNotify(c.snapshotLocked(), &entry)
	return entry, nil
}

// Elapsed is the time on the clock so far, zero when not working.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// History returns the logged entries, oldest first.
func (c *Controller) History() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Controller) resetLocked() {
	c.state = Idle
	c.startedAt = time.Time{}
	c.location = nil
	c.locErr = geo.NoError
}

func (c *Controller) elapsedLocked() time.Duration {
	if c.state != Active && c.state != LocationError {
		return 0
	}
	return c.now().Sub(c.startedAt)
}

func (c *Controller) snapshotLocked() Session {
	s := Session{
		Owner:         c.owner,
		State:         c.state,
		Attempt:       c.attempt,
		LocationError: c.locErr,
		Elapsed:       c.elapsedLocked(),
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		s.StartedAt = &started
	}
	if c.location != nil {
		loc := *c.location
		s.Location = &loc
	}
	return s
}

// unlockAndNotify releases c.mu and hands snap, then entry if set, to the
// observers. notifyMu is taken before c.mu is released so observers see
// changes in the order they were made. Callers hold c.mu.
func (c *Controller) unlockAndNotify(snap Session, entry *LogEntry) {
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	for _, o := range c.observers {
		o.SessionChanged(snap)
	}
	if entry == nil {
		return
	}
	for _, o := range c.observers {
		o.EntryLogged(*entry)
	}
}
