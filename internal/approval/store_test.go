package approval

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netoffice/internal/fault"
)

var fixedNow = time.Date(2024, 5, 24, 9, 30, 0, 0, time.UTC)

type recorder struct {
	mu        sync.Mutex
	submitted []Request
	resolved  []Request
}

func (r *recorder) RequestSubmitted(req Request) {
	r.mu.Lock()
	r.submitted = append(r.submitted, req)
	r.mu.Unlock()
}

func (r *recorder) RequestResolved(req Request) {
	r.mu.Lock()
	r.resolved = append(r.resolved, req)
	r.mu.Unlock()
}

func seeded(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := NewStore(append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
	require.NoError(t, s.Add(Request{ID: "1", Kind: Incident, SubjectName: "David Ruiz", Category: "App error", Detail: "Could not close the shift from the phone.", SubmittedAt: fixedNow, Status: Pending}))
	require.NoError(t, s.Add(Request{ID: "2", Kind: Incident, SubjectName: "Laura Sanz", Category: "Forgot", Detail: "Forgot to clock in.", SubmittedAt: fixedNow, Status: Approved, ResolutionReason: "Confirmed by supervisor"}))
	require.NoError(t, s.Add(Request{ID: "3", Kind: Incident, SubjectName: "Carlos V.", Category: "Geoloc", Detail: "Location error at client site.", SubmittedAt: fixedNow, Status: Rejected, ResolutionReason: "No evidence"}))
	return s
}

func TestResolveApprove(t *testing.T) {
	rec := &recorder{}
	s := seeded(t, WithObserver(rec))
	before := s.Counts()
	assert.Equal(t, Counts{Pending: 1, Approved: 1, Rejected: 1, Total: 3}, before)

	req, err := s.Resolve("1", Approve, "  Verified against badge logs  ")
	require.NoError(t, err)
	assert.Equal(t, Approved, req.Status)
	assert.Equal(t, "Verified against badge logs", req.ResolutionReason)
	require.NotNil(t, req.ResolvedAt)
	assert.Equal(t, fixedNow, *req.ResolvedAt)

	after := s.Counts()
	assert.Equal(t, before.Pending-1, after.Pending)
	assert.Equal(t, before.Approved+1, after.Approved)
	assert.Equal(t, before.Total, after.Total)

	require.Len(t, rec.resolved, 1)
	assert.Equal(t, "1", rec.resolved[0].ID)
}

func TestResolveRejectWithoutReason(t *testing.T) {
	s := seeded(t)
	for _, reason := range []string{"", "   ", "\n\t"} {
		_, err := s.Resolve("1", Reject, reason)
		assert.ErrorIs(t, err, fault.ErrValidation)
	}
	req, err := s.Get("1")
	require.NoError(t, err)
	assert.Equal(t, Pending, req.Status)
	assert.Empty(t, req.ResolutionReason)
	assert.Nil(t, req.ResolvedAt)
}

func TestResolveErrors(t *testing.T) {
	s := seeded(t)

	_, err := s.Resolve("404", Approve, "why")
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = s.Resolve("2", Reject, "changed my mind")
	assert.ErrorIs(t, err, fault.ErrInvalidState)

	// state is checked before the reason
	_, err = s.Resolve("3", Approve, "")
	assert.ErrorIs(t, err, fault.ErrInvalidState)

	_, err = s.Resolve("1", Action("escalate"), "because")
	assert.ErrorIs(t, err, fault.ErrValidation)

	_, err = s.Resolve("1", Reject, "Duplicate of #3")
	require.NoError(t, err)
	_, err = s.Resolve("1", Approve, "again")
	assert.ErrorIs(t, err, fault.ErrInvalidState)
	req, _ := s.Get("1")
	assert.Equal(t, Rejected, req.Status)
	assert.Equal(t, "Duplicate of #3", req.ResolutionReason)
}

func TestConcurrentResolveAppliesOnce(t *testing.T) {
	s := seeded(t)
	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := Approve
			if i%2 == 0 {
				action = Reject
			}
			_, err := s.Resolve("1", action, "race")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, fault.ErrInvalidState)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 0, s.Counts().Pending)
}

func TestListByStatusKeepsOrder(t *testing.T) {
	s := seeded(t)
	require.NoError(t, s.Add(Request{ID: "4", Kind: Incident, SubjectName: "Ana", Status: Pending}))
	require.NoError(t, s.Add(Request{ID: "5", Kind: Incident, SubjectName: "Pablo", Status: Pending}))

	ids := func(rs []Request) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.ID
		}
		return out
	}
	assert.Equal(t, []string{"1", "4", "5"}, ids(s.ListByStatus(Pending)))
	assert.Equal(t, []string{"2"}, ids(s.ListByStatus(Approved)))
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(s.List()))
	assert.Empty(t, s.ListByStatus(Status("archived")))
}

func TestAddValidation(t *testing.T) {
	s := NewStore()
	assert.ErrorIs(t, s.Add(Request{ID: "x", Kind: Incident, SubjectName: "A", Status: Approved}), fault.ErrValidation)
	assert.ErrorIs(t, s.Add(Request{ID: "x", Kind: Incident, SubjectName: "A", Status: Pending, ResolutionReason: "early"}), fault.ErrValidation)
	assert.ErrorIs(t, s.Add(Request{ID: "", Kind: Incident, SubjectName: "A", Status: Pending}), fault.ErrValidation)
	require.NoError(t, s.Add(Request{ID: "x", Kind: Incident, SubjectName: "A", Status: Pending}))
	assert.ErrorIs(t, s.Add(Request{ID: "x", Kind: Incident, SubjectName: "B", Status: Pending}), fault.ErrConflict)
}

func TestSubmit(t *testing.T) {
	rec := &recorder{}
	s := NewStore(WithClock(func() time.Time { return fixedNow }), WithObserver(rec))

	req, err := s.Submit(Submission{Kind: Incident, SubjectName: " David Ruiz ", Category: "Forgot", Detail: "Missed the exit punch"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, Pending, req.Status)
	assert.Equal(t, "David Ruiz", req.SubjectName)
	assert.Equal(t, fixedNow, req.SubmittedAt)
	assert.Len(t, rec.submitted, 1)

	start := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	vac, err := s.Submit(Submission{Kind: Vacation, SubjectName: "Laura", Period: &Period{Start: start, End: start.AddDate(0, 0, 1)}})
	require.NoError(t, err)
	assert.Equal(t, 2, vac.Period.Days())

	_, err = s.Submit(Submission{Kind: Vacation, SubjectName: "Laura"})
	assert.ErrorIs(t, err, fault.ErrValidation)
	_, err = s.Submit(Submission{Kind: Vacation, SubjectName: "Laura", Period: &Period{Start: start, End: start.AddDate(0, 0, -1)}})
	assert.ErrorIs(t, err, fault.ErrValidation)
	_, err = s.Submit(Submission{Kind: Incident})
	assert.ErrorIs(t, err, fault.ErrValidation)
	_, err = s.Submit(Submission{Kind: "complaint", SubjectName: "X"})
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.Equal(t, 2, s.Counts().Total)
}

func TestReturnedRequestsAreCopies(t *testing.T) {
	s := seeded(t)
	req, err := s.Get("2")
	require.NoError(t, err)
	req.Status = Pending
	got, _ := s.Get("2")
	assert.Equal(t, Approved, got.Status)
}

func TestLoadSeed(t *testing.T) {
	doc := `
requests:
  - id: "1"
    subject_name: David Ruiz
    category: App error
    detail: Could not close the shift from the phone.
    submitted_at: 2024-05-24T09:30:00Z
  - id: "v1"
    kind: vacation
    subject_name: Laura Sanz
    period:
      start: 2024-05-20T00:00:00Z
      end: 2024-05-21T00:00:00Z
    status: rejected
    resolution_reason: Mandatory accounting close.
`
	s := NewStore(WithClock(func() time.Time { return fixedNow }))
	n, err := s.LoadSeed(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, err := s.Get("1")
	require.NoError(t, err)
	assert.Equal(t, Incident, first.Kind)
	assert.Equal(t, Pending, first.Status)
	assert.Equal(t, fixedNow, first.SubmittedAt)

	vac, err := s.Get("v1")
	require.NoError(t, err)
	assert.Equal(t, Rejected, vac.Status)
	assert.Equal(t, fixedNow, vac.SubmittedAt)
	assert.Equal(t, 2, vac.Period.Days())

	_, err = s.LoadSeed(strings.NewReader("requests:\n  - id: \"1\"\n    subject_name: dup\n"))
	assert.ErrorIs(t, err, fault.ErrConflict)

	n, err = s.LoadSeed(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Approved ")
	require.NoError(t, err)
	assert.Equal(t, Approved, s)

	_, err = ParseStatus("archived")
	assert.ErrorIs(t, err, fault.ErrValidation)
}
