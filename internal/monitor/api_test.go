package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubMaintenance struct {
	region string
}

func (s *stubMaintenance) SetMaintenanceRegion(region string) { s.region = strings.ToUpper(region) }
func (s *stubMaintenance) MaintenanceRegion() string          { return s.region }

func newAdminRouter(m *Monitor, maint MaintenanceController) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterAdminRoutes(r.Group("/admin/ratelimit"), m, maint, zap.NewNop())
	return r
}

func TestMetricsEndpoint(t *testing.T) {
	m := NewMonitor()
	m.RecordRequest()
	m.RecordRequest()
	m.RecordViolation("client-a", "/api/tokens", "US", "burst")
	r := newAdminRouter(m, &stubMaintenance{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/admin/ratelimit/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success   bool    `json:"success"`
		RequestID string  `json:"request_id"`
		Data      Metrics `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, int64(2), resp.Data.TotalRequests)
	assert.Equal(t, 50.0, resp.Data.ViolationRate)
}

func TestResetEndpoint(t *testing.T) {
	m := NewMonitor()
	m.RecordRequest()
	m.RecordViolation("client-a", "/api/tokens", "US", "burst")
	r := newAdminRouter(m, &stubMaintenance{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/admin/ratelimit/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, int64(0), m.Snapshot().TotalRequests)
}

func TestMaintenanceEndpoints(t *testing.T) {
	maint := &stubMaintenance{}
	r := newAdminRouter(NewMonitor(), maint)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/admin/ratelimit/maintenance",
		strings.NewReader(`{"region":"us"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "US", maint.region)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/admin/ratelimit/maintenance", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"region":"US"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/admin/ratelimit/maintenance",
		strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
