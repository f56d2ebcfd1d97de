// middleware.go: gin middleware tying the pipeline into the request path
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Human-facing denial messages by reason code. Unknown reasons fall back to
// the generic message.
var denialMessages = map[string]string{
	ReasonWindowExceeded:    "rate limit exceeded",
	ReasonBurstExceeded:     "too many requests in a short burst, slow down",
	ReasonSustainedExceeded: "sustained request rate exceeded",
	ReasonStoreUnavailable:  "rate limiting temporarily unavailable",
	ReasonAdaptiveExceeded:  "rate limit exceeded",
	ReasonAdaptiveTrusted:   "rate limit exceeded, please retry shortly",
	ReasonAdaptiveFlagged:   "rate limit exceeded due to sustained unusual traffic",
}

// denialMessage resolves parameterized reasons (content_heavy_exceeded,
// geo_other_exceeded) to the generic message.
func denialMessage(reason string) string {
	if msg, ok := denialMessages[reason]; ok {
		return msg
	}
	return "rate limit exceeded"
}

// Middleware builds the admission gin handler: classify, admit, and either
// deny with a 429 or pass through and record the eventual outcome. The
// outcome update is fire-and-forget; the response is not held for it.
// Violations carry the classifier-resolved region so the monitor's per-region
// table matches the tier the request was actually limited under.
func Middleware(pipeline *Pipeline, classifier *Classifier, recorder ViolationRecorder, tracker OutcomeTracker, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := FromHTTP(c.Request)

		if pipeline.Bypassed(req.Path) {
			c.Next()
			return
		}

		recorder.RecordRequest()

		res := pipeline.Admit(c.Request.Context(), req)
		if !res.Allowed {
			region := classifier.Region(req.CountryCode)
			recorder.RecordViolation(req.ClientKey, req.Path, region, res.Strategy)
			logger.Debug("request denied",
				zap.String("client", req.ClientKey),
				zap.String("path", req.Path),
				zap.String("region", region),
				zap.String("strategy", res.Strategy),
				zap.String("reason", res.Reason))
			writeDenial(c, res)
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if !res.Reset.IsZero() {
			c.Header("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		clientKey := req.ClientKey
		go tracker.Track(clientKey, status < http.StatusBadRequest, latency)
	}
}

// writeDenial renders the 429 response and aborts the chain.
func writeDenial(c *gin.Context, res Result) {
	retry := res.RetryAfter
	if retry <= 0 {
		retry = time.Minute
	}
	retrySeconds := int64(retry.Seconds())
	if retrySeconds < 1 {
		retrySeconds = 1
	}

	c.Header("Retry-After", strconv.FormatInt(retrySeconds, 10))
	c.Header("X-RateLimit-Strategy", res.Strategy)
	c.Header("X-RateLimit-Remaining", "0")
	if !res.Reset.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, DenialResponse{
		Success:    false,
		Error:      denialMessage(res.Reason),
		RetryAfter: fmt.Sprintf("%ds", retrySeconds),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		RequestID:  uuid.NewString(),
	})
}
