package geo

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrBusy is returned when a request is opened while another is outstanding.
	ErrBusy = errors.New("location request already outstanding")
	// ErrNoPendingRequest is returned when a fix arrives with no request outstanding.
	ErrNoPendingRequest = errors.New("no location request outstanding")
	// ErrStaleAttempt is returned when a fix answers a different attempt than the outstanding one.
	ErrStaleAttempt = errors.New("fix answers a superseded attempt")
	// ErrStaleFix is returned when a fix was captured before the request opened.
	ErrStaleFix = errors.New("fix predates the location request")
	// ErrInvalidFix is returned for coordinates or accuracy out of range.
	ErrInvalidFix = errors.New("fix coordinates out of range")
)

// Device clocks drift; fixes stamped this far before the request still count as fresh.
const allowedSkew = 2 * time.Second

// Relay is a Locator whose fixes are pushed in by the device, typically over HTTP.
// At most one request is outstanding at a time, tagged with the attempt in its Options.
type Relay struct {
	now func() time.Time

	mu      sync.Mutex
	pending *pendingFix
	opened  chan struct{}
}

var _ Aborter = (*Relay)(nil)

type pendingFix struct {
	opts     Options
	openedAt time.Time
	result   chan fixResult
}

type fixResult struct {
	loc Location
	err error
}

// NewRelay creates a relay. now defaults to time.Now.
func NewRelay(now func() time.Time) *Relay {
	if now == nil {
		now = time.Now
	}
	return &Relay{now: now}
}

// RequestLocation opens a request and waits for Deliver, Fail, Abort or the timeout.
// A ctx that has already ended never opens a request.
func (r *Relay) RequestLocation(ctx context.Context, opts Options) (Location, error) {
	r.mu.Lock()
	if err := ctx.Err(); err != nil {
		r.mu.Unlock()
		return Location{}, err
	}
	if r.pending != nil {
		r.mu.Unlock()
		return Location{}, ErrBusy
	}
	p := &pendingFix{opts: opts, openedAt: r.now(), result: make(chan fixResult, 1)}
	r.pending = p
	if r.opened != nil {
		close(r.opened)
		r.opened = nil
	}
	r.mu.Unlock()
	defer r.release(p)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	select {
	case res := <-p.result:
		return res.loc, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Location{}, &LocationError{Kind: Timeout, Err: ctx.Err()}
		}
		return Location{}, ctx.Err()
	}
}

func (r *Relay) release(p *pendingFix) {
	r.mu.Lock()
	if r.pending == p {
		r.pending = nil
	}
	r.mu.Unlock()
}

// Pending returns the options of the outstanding request, if any.
func (r *Relay) Pending() (Options, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return Options{}, false
	}
	return r.pending.opts, true
}

// WaitPending blocks until the request for attempt is outstanding or ctx ends.
func (r *Relay) WaitPending(ctx context.Context, attempt uint64) error {
	for {
		r.mu.Lock()
		if r.pending != nil && r.pending.opts.Attempt == attempt {
			r.mu.Unlock()
			return nil
		}
		if r.opened == nil {
			r.opened = make(chan struct{})
		}
		ch := r.opened
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// take returns the outstanding request for attempt and clears it. Callers hold r.mu.
func (r *Relay) take(attempt uint64) (*pendingFix, error) {
	p := r.pending
	if p == nil {
		return nil, ErrNoPendingRequest
	}
	if p.opts.Attempt != attempt {
		return nil, ErrStaleAttempt
	}
	return p, nil
}

// Deliver completes the request for attempt with a fix. A zero CapturedAt is stamped now.
func (r *Relay) Deliver(attempt uint64, loc Location) error {
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 || loc.AccuracyMeters < 0 {
		return ErrInvalidFix
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.take(attempt)
	if err != nil {
		return err
	}
	if loc.CapturedAt.IsZero() {
		loc.CapturedAt = r.now()
	}
	if loc.CapturedAt.Before(p.openedAt.Add(-allowedSkew)) {
		return ErrStaleFix
	}
	r.pending = nil
	p.result <- fixResult{loc: loc}
	return nil
}

// Fail completes the request for attempt with an error of the given kind.
func (r *Relay) Fail(attempt uint64, kind ErrorKind) error {
	if kind == NoError {
		kind = PositionUnavailable
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.take(attempt)
	if err != nil {
		return err
	}
	r.pending = nil
	p.result <- fixResult{err: &LocationError{Kind: kind}}
	return nil
}

// Abort drops the request for attempt so the next one can open at once.
// It reports whether a request was dropped.
func (r *Relay) Abort(attempt uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.take(attempt)
	if err != nil {
		return false
	}
	r.pending = nil
	p.result <- fixResult{err: context.Canceled}
	return true
}
