package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netoffice/internal/approval"
	"netoffice/internal/attendance"
	"netoffice/internal/certify"
	"netoffice/internal/export"
	"netoffice/internal/geo"
	"netoffice/internal/metrics"
)

type staticHealth bool

func (h staticHealth) Healthy(context.Context) bool { return bool(h) }

func newTestServer(t *testing.T) (*gin.Engine, *Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	certs := certify.New("test-key", "netoffice-test", time.Hour)
	reg := prometheus.NewRegistry()
	s := &Server{
		Sessions: attendance.NewRegistry(nil,
			attendance.WithCertifier(certs),
			attendance.WithLogger(logger),
			attendance.WithGPSOptions(geo.Options{HighAccuracy: true, Timeout: 2 * time.Second}),
		),
		Approvals: approval.NewStore(approval.WithLogger(logger)),
		Certs:     certs,
		Metrics:   metrics.New(reg),
		Gatherer:  reg,
		Health:    map[string]HealthChecker{"db": staticHealth(true)},
		Log:       logger,
	}
	return NewRouter(s, RouterConfig{CORSOrigins: []string{"*"}}), s
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestVerifiedClockInFlow(t *testing.T) {
	r, _ := newTestServer(t)
	base := "/v1/users/david/session"

	w, body := do(t, r, http.MethodPost, base+"/clock-in", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "acquiring_location", body["state"])
	assert.Equal(t, true, body["awaiting_device"])
	assert.Equal(t, true, body["high_accuracy"])
	assert.EqualValues(t, 2000, body["timeout_ms"])
	assert.EqualValues(t, 0, body["maximum_age"])
	attempt := body["attempt"]

	w, body = do(t, r, http.MethodPost, base+"/location", gin.H{
		"attempt": attempt, "latitude": 38.8794, "longitude": -6.9707, "accuracy": 12.0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "active", body["state"])
	assert.Equal(t, "high_fidelity", body["quality"])
	assert.Equal(t, false, body["needs_review"])

	w, body = do(t, r, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", body["state"])
	assert.Equal(t, false, body["awaiting_device"])
	assert.NotContains(t, body, "high_accuracy")

	w, body = do(t, r, http.MethodPost, base+"/clock-out", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, true, body["location_verified"])
	token, _ := body["certificate"].(string)
	require.NotEmpty(t, token)
	entryID := body["id"]

	w, body = do(t, r, http.MethodGet, "/v1/users/david/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["entries"], 1)

	w, body = do(t, r, http.MethodPost, "/v1/certificates/verify", gin.H{"token": token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["valid"])
	claims, _ := body["claims"].(map[string]any)
	assert.Equal(t, entryID, claims["eid"])

	w, body = do(t, r, http.MethodPost, "/v1/certificates/verify", gin.H{"token": token + "x"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["valid"])

	w, _ = do(t, r, http.MethodGet, "/v1/users/david/logs/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance-david.xlsx")
	assert.NotZero(t, w.Body.Len())
}

func TestPermissionDeniedClocksInUnverified(t *testing.T) {
	r, _ := newTestServer(t)
	base := "/v1/users/laura/session"

	_, body := do(t, r, http.MethodPost, base+"/clock-in", nil)
	w, body := do(t, r, http.MethodPost, base+"/location", gin.H{"attempt": body["attempt"], "error_code": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "location_error", body["state"])
	assert.Equal(t, "permission_denied", body["location_error"])
	assert.Equal(t, true, body["needs_review"])
	assert.Contains(t, body["advisory"], "permission denied")

	w, body = do(t, r, http.MethodPost, base+"/clock-out", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, false, body["location_verified"])
	assert.Nil(t, body["certificate"])
}

func TestUnsupportedDevice(t *testing.T) {
	r, _ := newTestServer(t)
	base := "/v1/users/pablo/session"

	_, body := do(t, r, http.MethodPost, base+"/clock-in", nil)
	w, body := do(t, r, http.MethodPost, base+"/location", gin.H{"attempt": body["attempt"], "unsupported": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unsupported", body["location_error"])
}

func TestSessionConflicts(t *testing.T) {
	r, _ := newTestServer(t)
	base := "/v1/users/ines/session"

	w, body := do(t, r, http.MethodPost, base+"/location", gin.H{"attempt": 1, "error_code": 2})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_state", body["code"])

	w, body = do(t, r, http.MethodPost, base+"/clock-out", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_state", body["code"])

	w, _ = do(t, r, http.MethodPost, base+"/clock-in", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	w, body = do(t, r, http.MethodPost, base+"/clock-in", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_state", body["code"])

	w, body = do(t, r, http.MethodPost, base+"/location", gin.H{"attempt": 99, "error_code": 2})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", body["code"])

	w, body = do(t, r, http.MethodPost, base+"/location", gin.H{"attempt": 1, "latitude": 1.0})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "validation_error", body["code"])

	w, body = do(t, r, http.MethodPost, base+"/location", gin.H{"attempt": 1, "latitude": 95.0, "longitude": 0.0, "accuracy": 5.0})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "validation_error", body["code"])

	w, body = do(t, r, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", body["state"])

	w, _ = do(t, r, http.MethodPost, base+"/location", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelThenClockInAgain(t *testing.T) {
	r, _ := newTestServer(t)
	base := "/v1/users/marta/session"

	_, body := do(t, r, http.MethodPost, base+"/clock-in", nil)
	first := body["attempt"]
	w, _ := do(t, r, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, r, http.MethodPost, base+"/clock-in", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, body["awaiting_device"])
	second := body["attempt"]
	assert.NotEqual(t, first, second)

	w, body = do(t, r, http.MethodPost, base+"/location", gin.H{"attempt": second, "latitude": 40.41, "longitude": -3.70, "accuracy": 30.0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "active", body["state"])
	assert.Equal(t, "moderate", body["quality"])
}

func TestApprovalWorkflow(t *testing.T) {
	r, _ := newTestServer(t)

	w, body := do(t, r, http.MethodPost, "/v1/approvals", gin.H{"kind": "incident", "subject_name": "David Ruiz", "category": "late arrival"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "pending", body["status"])

	w, body = do(t, r, http.MethodPost, "/v1/approvals/"+id+"/resolution", gin.H{"action": "approve", "reason": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "validation_error", body["code"])

	w, body = do(t, r, http.MethodGet, "/v1/approvals/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", body["status"])

	w, body = do(t, r, http.MethodPost, "/v1/approvals/"+id+"/resolution", gin.H{"action": "approve", "reason": "Medical note provided"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	req, _ := body["request"].(map[string]any)
	assert.Equal(t, "approved", req["status"])
	counts, _ := body["counts"].(map[string]any)
	assert.EqualValues(t, 0, counts["pending"])
	assert.EqualValues(t, 1, counts["approved"])

	w, body = do(t, r, http.MethodPost, "/v1/approvals/"+id+"/resolution", gin.H{"action": "reject", "reason": "changed my mind"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_state", body["code"])

	w, body = do(t, r, http.MethodPost, "/v1/approvals/missing/resolution", gin.H{"action": "approve", "reason": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["code"])

	w, body = do(t, r, http.MethodGet, "/v1/approvals?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["requests"])

	w, body = do(t, r, http.MethodGet, "/v1/approvals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["requests"], 1)

	w, _ = do(t, r, http.MethodGet, "/v1/approvals?status=archived", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, body = do(t, r, http.MethodPost, "/v1/approvals", gin.H{"kind": "vacation", "subject_name": "Laura"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "validation_error", body["code"])
}

func TestHealthzAndMetrics(t *testing.T) {
	r, s := newTestServer(t)

	w, body := do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["db"])

	s.Health["redis"] = staticHealth(false)
	w, body = do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])

	do(t, r, http.MethodGet, "/v1/users/david/session", nil)
	w, _ = do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `netoffice_api_requests_total{method="GET",path="/v1/users/:user/session",status="200"} 1`)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestClockFormat(t *testing.T) {
	assert.Equal(t, "02:30:05", clock(150*time.Minute+5*time.Second))
	assert.Equal(t, "00:00:00", clock(0))
}
