// Package events forwards controller changes to metrics, the live feed and the archive queue.
package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"netoffice/internal/approval"
	"netoffice/internal/attendance"
	"netoffice/internal/live"
	"netoffice/internal/metrics"
	"netoffice/internal/queue"
)

// Queue message and live event types.
const (
	TypeSessionChanged   = "session.changed"
	TypeEntryLogged      = "attendance.entry_logged"
	TypeRequestSubmitted = "approval.submitted"
	TypeRequestResolved  = "approval.resolved"
)

const publishTimeout = 2 * time.Second

// Bridge implements attendance.Observer and approval.Observer. Any of its sinks may be nil.
// Sink failures are logged and never surface to the controller.
type Bridge struct {
	Queue   queue.Queue
	Hub     *live.Hub
	Metrics *metrics.Metrics
	Counts  func() approval.Counts
	Log     logrus.FieldLogger

	mu      sync.Mutex
	working map[string]bool
}

var (
	_ attendance.Observer = (*Bridge)(nil)
	_ approval.Observer   = (*Bridge)(nil)
)

// SessionChanged tracks working sessions and the clock-in outcome.
func (b *Bridge) SessionChanged(s attendance.Session) {
	if started := b.trackWorking(s); started && b.Metrics != nil {
		outcome := "verified"
		if s.State == attendance.LocationError {
			outcome = s.LocationError.String()
		}
		b.Metrics.ClockIns.WithLabelValues(outcome).Inc()
	}
	b.Hub.Publish(live.Event{Type: TypeSessionChanged, Owner: s.Owner, Data: s})
}

// trackWorking reports whether s is the first working snapshot of a session.
func (b *Bridge) trackWorking(s attendance.Session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.working == nil {
		b.working = make(map[string]bool)
	}
	was, now := b.working[s.Owner], s.Working()
	if was == now {
		return false
	}
	b.working[s.Owner] = now
	if b.Metrics != nil {
		if now {
			b.Metrics.WorkingSessions.Inc()
		} else {
			b.Metrics.WorkingSessions.Dec()
		}
	}
	return now
}

// EntryLogged records the session and sends the entry to the archive.
func (b *Bridge) EntryLogged(e attendance.LogEntry) {
	if b.Metrics != nil {
		b.Metrics.ClockOuts.WithLabelValues(strconv.FormatBool(e.LocationVerified)).Inc()
		b.Metrics.SessionDuration.Observe(e.TotalDuration.Seconds())
	}
	b.Hub.Publish(live.Event{Type: TypeEntryLogged, Owner: e.Owner, Data: e})
	b.publish(TypeEntryLogged, e)
}

// RequestSubmitted announces a new request.
func (b *Bridge) RequestSubmitted(r approval.Request) {
	b.refreshCounts()
	b.Hub.Publish(live.Event{Type: TypeRequestSubmitted, Data: r})
	b.publish(TypeRequestSubmitted, r)
}

// RequestResolved announces and archives a resolution.
func (b *Bridge) RequestResolved(r approval.Request) {
	if b.Metrics != nil {
		b.Metrics.Resolutions.WithLabelValues(string(r.Kind), string(r.Status)).Inc()
	}
	b.refreshCounts()
	b.Hub.Publish(live.Event{Type: TypeRequestResolved, Data: r})
	b.publish(TypeRequestResolved, r)
}

func (b *Bridge) refreshCounts() {
	if b.Metrics == nil || b.Counts == nil {
		return
	}
	c := b.Counts()
	b.Metrics.SetRequestCounts(c.Pending, c.Approved, c.Rejected)
}

func (b *Bridge) publish(typ string, body any) {
	if b.Queue == nil {
		return
	}
	log := b.logger().WithField("type", typ)
	msg, err := queue.NewMessage(typ, body)
	if err != nil {
		log.WithError(err).Error("encode event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.Queue.Publish(ctx, msg); err != nil {
		log.WithError(err).Warn("queue publish failed")
	}
}

func (b *Bridge) logger() logrus.FieldLogger {
	if b.Log == nil {
		return logrus.StandardLogger()
	}
	return b.Log
}
