// types.go: core types and interfaces for the admission control pipeline
package ratelimit

import (
	"context"
	"time"
)

// Failure modes applied when the counter store is unreachable.
const (
	FailOpen   = "allow"
	FailClosed = "deny"
)

// Request carries the inbound metadata the admission pipeline classifies
// and limits on. The client key is trusted, caller-supplied identity; it is
// not verified here.
type Request struct {
	ClientKey     string
	Path          string
	Method        string
	ContentLength int64
	CountryCode   string
}

// Result is the outcome of a single strategy check or of a full pipeline
// pass. Strategy names the check that produced the decision so denials can
// be attributed in monitoring.
type Result struct {
	Allowed    bool
	Reason     string
	Strategy   string
	RetryAfter time.Duration
	Remaining  int64
	Reset      time.Time
}

// Strategy is a single admission check.
type Strategy interface {
	Name() string
	Check(ctx context.Context, req *Request) (Result, error)
}

// WindowPolicy is an immutable fixed-window budget: at most Limit requests
// per Window.
type WindowPolicy struct {
	Window time.Duration `mapstructure:"window" yaml:"window"`
	Limit  int64         `mapstructure:"limit" yaml:"limit"`
}

// ReputationSource exposes the behavioral score the adaptive strategy
// consults when shaping denial messaging.
type ReputationSource interface {
	Score(clientKey string) float64
}

// ViolationRecorder receives traffic and denial events for aggregation.
type ViolationRecorder interface {
	RecordRequest()
	RecordViolation(clientKey, path, region, strategy string)
}

// OutcomeTracker receives the eventual outcome of an admitted request.
// Updates are fire-and-forget; the next decision does not depend on them
// being synchronously visible.
type OutcomeTracker interface {
	Track(clientKey string, success bool, responseTime time.Duration)
}

// DenialResponse is the JSON body returned with a 429.
type DenialResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter string `json:"retryAfter"`
	Timestamp  string `json:"timestamp"`
	RequestID  string `json:"requestId,omitempty"`
}
