// Package metrics exposes Prometheus collectors for sessions, approvals and HTTP traffic.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service collectors.
type Metrics struct {
	ClockIns         *prometheus.CounterVec
	ClockOuts        *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	WorkingSessions  prometheus.Gauge
	Resolutions      *prometheus.CounterVec
	RequestsByStatus *prometheus.GaugeVec
	APIRequests      *prometheus.CounterVec
	APIDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ClockIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netoffice_clock_ins_total",
			Help: "Settled clock-in attempts by outcome (verified or the location error kind).",
		}, []string{"outcome"}),
		ClockOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netoffice_clock_outs_total",
			Help: "Logged attendance entries by location verification.",
		}, []string{"verified"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netoffice_session_duration_seconds",
			Help:    "Length of logged attendance sessions.",
			Buckets: []float64{900, 1800, 3600, 7200, 14400, 21600, 28800, 36000, 43200},
		}),
		WorkingSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netoffice_working_sessions",
			Help: "Sessions currently on the clock.",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netoffice_approval_resolutions_total",
			Help: "Resolved approval requests by kind and outcome.",
		}, []string{"kind", "status"}),
		RequestsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netoffice_approval_requests",
			Help: "Approval requests by status.",
		}, []string{"status"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netoffice_api_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netoffice_api_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	if reg != nil {
		reg.MustRegister(m.ClockIns, m.ClockOuts, m.SessionDuration, m.WorkingSessions,
			m.Resolutions, m.RequestsByStatus, m.APIRequests, m.APIDuration)
	}
	return m
}

// ObserveAPIRequest records one HTTP request.
func (m *Metrics) ObserveAPIRequest(method, path string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.APIDuration.WithLabelValues(method, path).Observe(seconds)
}

// SetRequestCounts publishes the current approval tallies.
func (m *Metrics) SetRequestCounts(pending, approved, rejected int) {
	if m == nil {
		return
	}
	m.RequestsByStatus.WithLabelValues("pending").Set(float64(pending))
	m.RequestsByStatus.WithLabelValues("approved").Set(float64(approved))
	m.RequestsByStatus.WithLabelValues("rejected").Set(float64(rejected))
}
