package attendance

import (
	"sort"
	"sync"
	"time"

	"netoffice/internal/geo"
)

// Registry hands out one session per owner, each fed by its own device relay.
type Registry struct {
	opts []Option
	now  func() time.Time

	mu    sync.Mutex
	seats map[string]*seat
}

type seat struct {
	ctrl  *Controller
	relay *geo.Relay
}

// NewRegistry creates a registry whose sessions and relays share the clock now,
// time.Now when nil. opts apply to every session it creates.
func NewRegistry(now func() time.Time, opts ...Option) *Registry {
	if now == nil {
		now = time.Now
	}
	all := append([]Option{WithClock(now)}, opts...)
	return &Registry{opts: all, now: now, seats: make(map[string]*seat)}
}

func (r *Registry) seat(owner string) *seat {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seats[owner]
	if !ok {
		relay := geo.NewRelay(r.now)
		s = &seat{relay: relay, ctrl: NewController(owner, relay, r.opts...)}
		r.seats[owner] = s
	}
	return s
}

// Session returns owner's controller, creating it on first use.
func (r *Registry) Session(owner string) *Controller { return r.seat(owner).ctrl }

// Relay returns the relay that feeds owner's location requests.
func (r *Registry) Relay(owner string) *geo.Relay { return r.seat(owner).relay }

// Owners lists the owners with a session, sorted.
func (r *Registry) Owners() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.seats))
	for owner := range r.seats {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out
}
