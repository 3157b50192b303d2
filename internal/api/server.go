// Package api exposes sessions, approvals and certificates over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"netoffice/internal/approval"
	"netoffice/internal/attendance"
	"netoffice/internal/certify"
	"netoffice/internal/httpmiddleware"
	"netoffice/internal/live"
	"netoffice/internal/metrics"
)

// HealthChecker is a dependency reported by /healthz.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Server holds what the handlers need. Certs, Hub, Metrics and Gatherer may be nil.
type Server struct {
	Sessions  *attendance.Registry
	Approvals *approval.Store
	Certs     *certify.Certifier
	Hub       *live.Hub
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Health    map[string]HealthChecker
	Log       logrus.FieldLogger

	// SettleWait bounds how long a location post waits for the session to settle.
	SettleWait time.Duration
}

// RouterConfig holds the middleware settings.
type RouterConfig struct {
	CORSOrigins     []string
	RateLimitPerMin int
	Production      bool
}

// NewRouter wires the middleware chain and every route.
func NewRouter(s *Server, cfg RouterConfig) *gin.Engine {
	if s.Log == nil {
		s.Log = logrus.StandardLogger()
	}
	if s.SettleWait <= 0 {
		s.SettleWait = 2 * time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.Log, s.Metrics, "/healthz", "/metrics"))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(securityHeaders(cfg.Production))
	r.Use(httpmiddleware.NewIPLimiter(cfg.RateLimitPerMin).GinMiddleware())

	metricsHandler := promhttp.Handler()
	if s.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))
	r.GET("/healthz", s.healthz)

	v1 := r.Group("/v1")

	users := v1.Group("/users/:user")
	users.GET("/session", s.getSession)
	users.POST("/session/clock-in", s.clockIn)
	users.POST("/session/location", s.postLocation)
	users.POST("/session/cancel", s.cancelClockIn)
	users.POST("/session/clock-out", s.clockOut)
	users.GET("/logs", s.listLogs)
	users.GET("/logs/export", s.exportLogs)

	v1.GET("/approvals", s.listApprovals)
	v1.POST("/approvals", s.submitApproval)
	v1.GET("/approvals/:id", s.getApproval)
	v1.POST("/approvals/:id/resolution", s.resolveApproval)

	v1.POST("/certificates/verify", s.verifyCertificate)

	if s.Hub != nil {
		v1.GET("/live", gin.WrapH(s.Hub))
	}
	return r
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, dep := range s.Health {
		ok := dep.Healthy(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func requestLogger(log logrus.FieldLogger, m *metrics.Metrics, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveAPIRequest(c.Request.Method, route, status, latency.Seconds())

		entry := log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"route":      route,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       24 * time.Hour,
	}
	cfg.AllowAllOrigins = len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			break
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func securityHeaders(production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if production {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
