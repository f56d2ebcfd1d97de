package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubRecorder captures monitor calls.
type stubRecorder struct {
	requests   int
	violations []string
	regions    []string
}

func (s *stubRecorder) RecordRequest() { s.requests++ }
func (s *stubRecorder) RecordViolation(clientKey, path, region, strategy string) {
	s.violations = append(s.violations, strategy)
	s.regions = append(s.regions, region)
}

// stubTracker signals when the deferred outcome update lands.
type stubTracker struct {
	tracked chan struct{}
	success bool
}

func (s *stubTracker) Track(clientKey string, success bool, responseTime time.Duration) {
	s.success = success
	close(s.tracked)
}

func newTestRouter(t *testing.T, limit int64) (*gin.Engine, *stubRecorder, *stubTracker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	t.Cleanup(store.Close)

	pipeline := NewPipeline([]Strategy{
		NewFixedWindowStrategy("api", store, WindowPolicy{Window: time.Minute, Limit: limit}, nil, FailOpen, zap.NewNop()),
	}, []string{"/health"}, zap.NewNop())

	recorder := &stubRecorder{}
	tracker := &stubTracker{tracked: make(chan struct{})}

	classifier := NewClassifier(0, nil, []string{"US"})
	r := gin.New()
	r.Use(Middleware(pipeline, classifier, recorder, tracker, zap.NewNop()))
	r.GET("/api/tokens", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r, recorder, tracker
}

func doRequest(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = "203.0.113.7:51000"
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareAllowsAndSetsHeaders(t *testing.T) {
	r, recorder, tracker := newTestRouter(t, 5)

	w := doRequest(r, "/api/tokens")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, 1, recorder.requests)

	select {
	case <-tracker.tracked:
		assert.True(t, tracker.success)
	case <-time.After(time.Second):
		t.Fatal("outcome was never tracked")
	}
}

func TestMiddlewareDeniesWithStructuredBody(t *testing.T) {
	r, recorder, _ := newTestRouter(t, 1)

	require.Equal(t, http.StatusOK, doRequest(r, "/api/tokens").Code)
	w := doRequest(r, "/api/tokens")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "api", w.Header().Get("X-RateLimit-Strategy"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	var body DenialResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.NotEmpty(t, body.Error)
	assert.NotEmpty(t, body.RetryAfter)
	assert.NotEmpty(t, body.RequestID)

	_, err := time.Parse(time.RFC3339, body.Timestamp)
	assert.NoError(t, err, "timestamp must be ISO8601")

	require.Len(t, recorder.violations, 1)
	assert.Equal(t, "api", recorder.violations[0])
}

func TestMiddlewareRecordsResolvedRegion(t *testing.T) {
	r, recorder, _ := newTestRouter(t, 1)

	send := func(country string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/tokens", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		req.Header.Set("X-Country-Code", country)
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, send("ZZ").Code)
	require.Equal(t, http.StatusTooManyRequests, send("ZZ").Code)
	require.Equal(t, http.StatusTooManyRequests, send("us").Code)

	require.Len(t, recorder.regions, 2)
	assert.Equal(t, RegionOther, recorder.regions[0], "unmapped codes tabulate under the fallback tier")
	assert.Equal(t, "US", recorder.regions[1], "mapped codes tabulate under their resolved tier")
}

func TestMiddlewareBypassSkipsAccounting(t *testing.T) {
	r, recorder, _ := newTestRouter(t, 1)

	for i := 0; i < 10; i++ {
		w := doRequest(r, "/health")
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 0, recorder.requests, "bypassed traffic is not counted or limited")
}

func TestMiddlewareTracksFailureOutcomes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	t.Cleanup(store.Close)
	pipeline := NewPipeline([]Strategy{
		NewFixedWindowStrategy("api", store, WindowPolicy{Window: time.Minute, Limit: 10}, nil, FailOpen, zap.NewNop()),
	}, nil, zap.NewNop())

	tracker := &stubTracker{tracked: make(chan struct{})}
	r := gin.New()
	r.Use(Middleware(pipeline, NewClassifier(0, nil, nil), &stubRecorder{}, tracker, zap.NewNop()))
	r.GET("/api/broken", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})

	w := doRequest(r, "/api/broken")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	select {
	case <-tracker.tracked:
		assert.False(t, tracker.success, "5xx outcomes count as failures")
	case <-time.After(time.Second):
		t.Fatal("outcome was never tracked")
	}
}
