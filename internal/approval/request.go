// Package approval runs the incident and vacation-request resolution workflow.
package approval

import (
	"fmt"
	"strings"
	"time"

	"netoffice/internal/fault"
)

// Status of a request. Only pending requests can change.
type Status string

const (
	Pending  Status = "pending"
	Approved Status = "approved"
	Rejected Status = "rejected"
)

func (s Status) valid() bool {
	return s == Pending || s == Approved || s == Rejected
}

// ParseStatus reads a status filter.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.valid() {
		return "", fmt.Errorf("%w: unknown status %q", fault.ErrValidation, v)
	}
	return s, nil
}

// Action resolves a pending request.
type Action string

const (
	Approve Action = "approve"
	Reject  Action = "reject"
)

func (a Action) outcome() (Status, bool) {
	switch a {
	case Approve:
		return Approved, true
	case Reject:
		return Rejected, true
	default:
		return "", false
	}
}

// Kind distinguishes attendance incidents from vacation requests.
type Kind string

const (
	Incident Kind = "incident"
	Vacation Kind = "vacation"
)

// Period is an inclusive range of days.
type Period struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Days counts the calendar days in the period.
func (p Period) Days() int {
	start := time.Date(p.Start.Year(), p.Start.Month(), p.Start.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(p.End.Year(), p.End.Month(), p.End.Day(), 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours()/24) + 1
}

// Request is an incident report or vacation request awaiting or past resolution.
type Request struct {
	ID               string     `json:"id" yaml:"id"`
	Kind             Kind       `json:"kind" yaml:"kind"`
	SubjectName      string     `json:"subject_name" yaml:"subject_name"`
	Category         string     `json:"category" yaml:"category"`
	Detail           string     `json:"detail" yaml:"detail"`
	SubmittedAt      time.Time  `json:"submitted_at" yaml:"submitted_at"`
	Period           *Period    `json:"period,omitempty" yaml:"period,omitempty"`
	Status           Status     `json:"status" yaml:"status"`
	ResolutionReason string     `json:"resolution_reason,omitempty" yaml:"resolution_reason,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
}

func (r Request) clone() Request {
	if r.Period != nil {
		p := *r.Period
		r.Period = &p
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		r.ResolvedAt = &t
	}
	return r
}

func (r Request) validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", fault.ErrValidation)
	}
	if !r.Status.valid() {
		return fmt.Errorf("%w: unknown status %q", fault.ErrValidation, r.Status)
	}
	hasReason := strings.TrimSpace(r.ResolutionReason) != ""
	if (r.Status == Pending) == hasReason {
		return fmt.Errorf("%w: request %s: resolution reason must be set exactly when resolved", fault.ErrValidation, r.ID)
	}
	return validateSubmission(Submission{Kind: r.Kind, SubjectName: r.SubjectName, Period: r.Period})
}

// Submission is the intake form of a new request.
type Submission struct {
	Kind        Kind    `json:"kind"`
	SubjectName string  `json:"subject_name"`
	Category    string  `json:"category"`
	Detail      string  `json:"detail"`
	Period      *Period `json:"period,omitempty"`
}

func validateSubmission(s Submission) error {
	if strings.TrimSpace(s.SubjectName) == "" {
		return fmt.Errorf("%w: subject name is required", fault.ErrValidation)
	}
	switch s.Kind {
	case Incident:
	case Vacation:
		if s.Period == nil {
			return fmt.Errorf("%w: vacation request needs a period", fault.ErrValidation)
		}
		if s.Period.End.Before(s.Period.Start) {
			return fmt.Errorf("%w: vacation ends before it starts", fault.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", fault.ErrValidation, s.Kind)
	}
	return nil
}

// Counts aggregates requests by status.
type Counts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// Observer is told about intake and resolutions.
type Observer interface {
	RequestSubmitted(Request)
	RequestResolved(Request)
}
