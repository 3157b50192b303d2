package approval

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"netoffice/internal/fault"
)

// Store keeps requests in insertion order. All mutations hold the write lock
// for their whole read-check-write.
type Store struct {
	now       func() time.Time
	log       logrus.FieldLogger
	observers []Observer

	mu    sync.RWMutex
	order []string
	byID  map[string]*Request
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:  time.Now,
		log:  logrus.StandardLogger(),
		byID: make(map[string]*Request),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit files a new pending request.
func (s *Store) Submit(sub Submission) (Request, error) {
	if err := validateSubmission(sub); err != nil {
		return Request{}, err
	}
	req := Request{
		ID:          uuid.NewString(),
		Kind:        sub.Kind,
		SubjectName: strings.TrimSpace(sub.SubjectName),
		Category:    sub.Category,
		Detail:      sub.Detail,
		SubmittedAt: s.now(),
		Period:      sub.Period,
		Status:      Pending,
	}

	s.mu.Lock()
	s.insertLocked(req)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"request": req.ID, "kind": req.Kind}).Info("request submitted")
	for _, o := range s.observers {
		o.RequestSubmitted(req.clone())
	}
	return req.clone(), nil
}

// Add loads a request created elsewhere, keeping its id and status.
func (s *Store) Add(req Request) error {
	if err := req.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[req.ID]; ok {
		return fmt.Errorf("%w: request %s already exists", fault.ErrConflict, req.ID)
	}
	s.insertLocked(req)
	return nil
}

func (s *Store) insertLocked(req Request) {
	r := req.clone()
	s.byID[r.ID] = &r
	s.order = append(s.order, r.ID)
}

// Resolve approves or rejects a pending request. reason must not be blank.
func (s *Store) Resolve(id string, action Action, reason string) (Request, error) {
	s.mu.Lock()
	req, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return Request{}, fmt.Errorf("%w: request %s", fault.ErrNotFound, id)
	}
	if req.Status != Pending {
		status := req.Status
		s.mu.Unlock()
		return Request{}, fmt.Errorf("%w: request %s is already %s", fault.ErrInvalidState, id, status)
	}
	status, ok := action.outcome()
	if !ok {
		s.mu.Unlock()
		return Request{}, fmt.Errorf("%w: unknown action %q", fault.ErrValidation, action)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		s.mu.Unlock()
		return Request{}, fmt.Errorf("%w: a justification is required to %s a request", fault.ErrValidation, action)
	}

	now := s.now()
	req.Status = status
	req.ResolutionReason = reason
	req.ResolvedAt = &now
	out := req.clone()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"request": id, "status": status}).Info("request resolved")
	for _, o := range s.observers {
		o.RequestResolved(out.clone())
	}
	return out, nil
}

// Get returns one request.
func (s *Store) Get(id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.byID[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: request %s", fault.ErrNotFound, id)
	}
	return req.clone(), nil
}

// List returns every request in insertion order.
func (s *Store) List() []Request {
	return s.filter(func(*Request) bool { return true })
}

// ListByStatus returns the requests with status, in insertion order.
func (s *Store) ListByStatus(status Status) []Request {
	return s.filter(func(r *Request) bool { return r.Status == status })
}

func (s *Store) filter(keep func(*Request) bool) []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Request, 0, len(s.order))
	for _, id := range s.order {
		if r := s.byID[id]; keep(r) {
			out = append(out, r.clone())
		}
	}
	return out
}

// Counts tallies requests by status.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c Counts
	for _, r := range s.byID {
		switch r.Status {
		case Pending:
			c.Pending++
		case Approved:
			c.Approved++
		case Rejected:
			c.Rejected++
		}
	}
	c.Total = len(s.byID)
	return c
}
