package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"netoffice/internal/attendance"
	"netoffice/internal/export"
	"netoffice/internal/fault"
	"netoffice/internal/geo"
)

// pendingWait bounds how long clock-in waits for the location request to open.
const pendingWait = time.Second

type sessionView struct {
	attendance.Session
	ElapsedClock   string      `json:"elapsed_clock"`
	Quality        geo.Quality `json:"quality,omitempty"`
	QualityLabel   string      `json:"quality_label,omitempty"`
	NeedsReview    bool        `json:"needs_review"`
	Advisory       string      `json:"advisory,omitempty"`
	AwaitingDevice bool        `json:"awaiting_device"`
	*deviceRequest
}

// deviceRequest tells the device how to call its geolocation API for the
// outstanding attempt. Cached positions are never accepted.
type deviceRequest struct {
	HighAccuracy bool  `json:"high_accuracy"`
	TimeoutMS    int64 `json:"timeout_ms"`
	MaximumAge   int64 `json:"maximum_age"`
}

func (s *Server) viewSession(snap attendance.Session) sessionView {
	v := sessionView{
		Session:      snap,
		ElapsedClock: clock(snap.Elapsed),
		Quality:      snap.Quality(),
		Advisory:     snap.Advisory(),
	}
	v.QualityLabel = v.Quality.Label()
	v.NeedsReview = snap.State == attendance.LocationError || v.Quality.NeedsReview()
	if snap.State != attendance.AcquiringLocation {
		return v
	}
	if opts, ok := s.Sessions.Relay(snap.Owner).Pending(); ok && opts.Attempt == snap.Attempt {
		v.AwaitingDevice = true
		v.deviceRequest = &deviceRequest{HighAccuracy: opts.HighAccuracy, TimeoutMS: opts.Timeout.Milliseconds()}
	}
	return v
}

// clock renders d as HH:MM:SS.
func clock(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

type entryView struct {
	attendance.LogEntry
	Minutes      int64  `json:"minutes"`
	Duration     string `json:"duration"`
	QualityLabel string `json:"quality_label,omitempty"`
	NeedsReview  bool   `json:"needs_review"`
}

func viewEntry(e attendance.LogEntry) entryView {
	return entryView{
		LogEntry:     e,
		Minutes:      e.Minutes(),
		Duration:     e.Clock(),
		QualityLabel: e.Quality.Label(),
		NeedsReview:  !e.LocationVerified || e.Quality.NeedsReview(),
	}
}

func (s *Server) getSession(c *gin.Context) {
	ctrl := s.Sessions.Session(c.Param("user"))
	c.JSON(http.StatusOK, s.viewSession(ctrl.Snapshot()))
}

func (s *Server) clockIn(c *gin.Context) {
	owner := c.Param("user")
	ctrl := s.Sessions.Session(owner)
	if _, err := ctrl.ClockIn(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), pendingWait)
	defer cancel()
	if err := s.Sessions.Relay(owner).WaitPending(ctx, ctrl.Snapshot().Attempt); err != nil {
		s.Log.WithError(err).WithField("owner", owner).Warn("location request not opened")
	}
	c.JSON(http.StatusAccepted, s.viewSession(ctrl.Snapshot()))
}

// locationRequest carries the device's answer: a fix, a geolocation error code, or unsupported.
type locationRequest struct {
	Attempt     uint64     `json:"attempt" binding:"required"`
	Latitude    *float64   `json:"latitude"`
	Longitude   *float64   `json:"longitude"`
	Accuracy    *float64   `json:"accuracy"`
	CapturedAt  *time.Time `json:"captured_at"`
	ErrorCode   *int       `json:"error_code"`
	Unsupported bool       `json:"unsupported"`
}

func (s *Server) postLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	owner := c.Param("user")
	ctrl := s.Sessions.Session(owner)
	snap := ctrl.Snapshot()
	if snap.State != attendance.AcquiringLocation {
		s.fail(c, fmt.Errorf("%w: no location requested while %s", fault.ErrInvalidState, snap.State))
		return
	}
	if req.Attempt != snap.Attempt {
		s.fail(c, fmt.Errorf("%w: attempt %d superseded by %d", fault.ErrConflict, req.Attempt, snap.Attempt))
		return
	}

	relay := s.Sessions.Relay(owner)
	var err error
	switch {
	case req.Unsupported:
		err = relay.Fail(req.Attempt, geo.Unsupported)
	case req.ErrorCode != nil:
		err = relay.Fail(req.Attempt, geo.KindFromCode(*req.ErrorCode))
	default:
		if req.Latitude == nil || req.Longitude == nil || req.Accuracy == nil {
			s.fail(c, fmt.Errorf("%w: latitude, longitude and accuracy are required", fault.ErrValidation))
			return
		}
		loc := geo.Location{Latitude: *req.Latitude, Longitude: *req.Longitude, AccuracyMeters: *req.Accuracy}
		if req.CapturedAt != nil {
			loc.CapturedAt = *req.CapturedAt
		}
		err = relay.Deliver(req.Attempt, loc)
	}
	if err != nil {
		s.fail(c, relayError(err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.SettleWait)
	defer cancel()
	settled, err := ctrl.Await(ctx, req.Attempt)
	if err != nil {
		s.Log.WithError(err).WithField("owner", owner).Warn("session did not settle in time")
	}
	c.JSON(http.StatusOK, s.viewSession(settled))
}

func (s *Server) cancelClockIn(c *gin.Context) {
	ctrl := s.Sessions.Session(c.Param("user"))
	if err := ctrl.CancelClockIn(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewSession(ctrl.Snapshot()))
}

func (s *Server) clockOut(c *gin.Context) {
	entry, err := s.Sessions.Session(c.Param("user")).ClockOut()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewEntry(entry))
}

func (s *Server) listLogs(c *gin.Context) {
	history := s.Sessions.Session(c.Param("user")).History()
	views := make([]entryView, len(history))
	var total int64
	for i, e := range history {
		views[i] = viewEntry(e)
		total += e.Minutes()
	}
	c.JSON(http.StatusOK, gin.H{"entries": views, "total_minutes": total})
}

func (s *Server) exportLogs(c *gin.Context) {
	owner := c.Param("user")
	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, s.Sessions.Session(owner).History()); err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="attendance-%s.xlsx"`, owner))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}
