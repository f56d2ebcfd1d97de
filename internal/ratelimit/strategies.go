// Package ratelimit provides the composable admission strategies gating
// traffic into the API edge.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Strategy names as attributed in monitoring.
const (
	StrategyBurst    = "burst"
	StrategyGeo      = "geo"
	StrategyContent  = "content"
	StrategyAdaptive = "adaptive"
)

// Denial reason codes.
const (
	ReasonWindowExceeded    = "window_exceeded"
	ReasonBurstExceeded     = "burst_window_exceeded"
	ReasonSustainedExceeded = "sustained_window_exceeded"
	ReasonStoreUnavailable  = "store_unavailable"
	ReasonMaintenanceBypass = "maintenance_bypass"
	ReasonFailOpen          = "fail_open"
)

// checkWindow performs one counter round trip and folds the count into a
// Result. The counter key must already be scoped to the calling strategy.
func checkWindow(ctx context.Context, store CounterStore, strategy, key string, policy WindowPolicy) (Result, error) {
	count, err := store.Increment(ctx, key, policy.Window)
	if err != nil {
		return Result{}, err
	}

	remaining := policy.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   count <= policy.Limit,
		Strategy:  strategy,
		Remaining: remaining,
		Reset:     time.Now().Add(policy.Window),
	}
	if !res.Allowed {
		res.Reason = ReasonWindowExceeded
		res.RetryAfter = policy.Window
	}
	return res, nil
}

// storeFailure applies the configured failure mode when the counter store
// errors. Fail-open admits the request with a logged warning; fail-closed
// denies with a retry hint of one window.
func storeFailure(failMode, strategy string, window time.Duration, req *Request, err error, logger *zap.Logger) Result {
	logger.Warn("counter store unavailable",
		zap.String("strategy", strategy),
		zap.String("client", req.ClientKey),
		zap.String("path", req.Path),
		zap.String("failure_mode", failMode),
		zap.Error(err))

	if failMode == FailClosed {
		return Result{
			Allowed:    false,
			Strategy:   strategy,
			Reason:     ReasonStoreUnavailable,
			RetryAfter: window,
		}
	}
	return Result{Allowed: true, Strategy: strategy, Reason: ReasonFailOpen}
}

// FixedWindowStrategy denies once the counter for its scoped key exceeds the
// policy ceiling within one window. It is the building block the API and
// global tiers use directly.
type FixedWindowStrategy struct {
	name     string
	store    CounterStore
	policy   WindowPolicy
	keyFor   func(*Request) string
	failMode string
	logger   *zap.Logger
}

// NewFixedWindowStrategy creates a fixed-window strategy. keyFor must return
// a key already scoped to name so counters never cross strategies; when nil
// the key is name + ":" + client.
func NewFixedWindowStrategy(name string, store CounterStore, policy WindowPolicy, keyFor func(*Request) string, failMode string, logger *zap.Logger) *FixedWindowStrategy {
	if keyFor == nil {
		keyFor = func(req *Request) string { return name + ":" + req.ClientKey }
	}
	return &FixedWindowStrategy{
		name:     name,
		store:    store,
		policy:   policy,
		keyFor:   keyFor,
		failMode: failMode,
		logger:   logger,
	}
}

// Name returns the strategy name.
func (s *FixedWindowStrategy) Name() string { return s.name }

// Check performs the fixed-window admission check.
func (s *FixedWindowStrategy) Check(ctx context.Context, req *Request) (Result, error) {
	res, err := checkWindow(ctx, s.store, s.name, s.keyFor(req), s.policy)
	if err != nil {
		return storeFailure(s.failMode, s.name, s.policy.Window, req, err, s.logger), nil
	}
	return res, nil
}

// BurstSustainedStrategy runs two independent fixed-window checks, a short
// burst window and a longer sustained window, and denies when either trips.
// This bounds short spikes without over-constraining steady moderate
// traffic.
type BurstSustainedStrategy struct {
	name      string
	store     CounterStore
	burst     WindowPolicy
	sustained WindowPolicy
	failMode  string
	logger    *zap.Logger
}

// NewBurstSustainedStrategy creates the dual-window strategy.
func NewBurstSustainedStrategy(store CounterStore, burst, sustained WindowPolicy, failMode string, logger *zap.Logger) *BurstSustainedStrategy {
	return &BurstSustainedStrategy{
		name:      StrategyBurst,
		store:     store,
		burst:     burst,
		sustained: sustained,
		failMode:  failMode,
		logger:    logger,
	}
}

// Name returns the strategy name.
func (s *BurstSustainedStrategy) Name() string { return s.name }

// Check denies if either the burst or the sustained window is exhausted.
// The two windows count on distinct keys; a shared key cannot carry two
// expiries.
func (s *BurstSustainedStrategy) Check(ctx context.Context, req *Request) (Result, error) {
	base := BurstKey(req.ClientKey)

	burstKey := fmt.Sprintf("%s:%ds", base, int(s.burst.Window.Seconds()))
	burstRes, err := checkWindow(ctx, s.store, s.name, burstKey, s.burst)
	if err != nil {
		return storeFailure(s.failMode, s.name, s.burst.Window, req, err, s.logger), nil
	}
	if !burstRes.Allowed {
		burstRes.Reason = ReasonBurstExceeded
		return burstRes, nil
	}

	sustainedKey := fmt.Sprintf("%s:%ds", base, int(s.sustained.Window.Seconds()))
	sustainedRes, err := checkWindow(ctx, s.store, s.name, sustainedKey, s.sustained)
	if err != nil {
		return storeFailure(s.failMode, s.name, s.sustained.Window, req, err, s.logger), nil
	}
	if !sustainedRes.Allowed {
		sustainedRes.Reason = ReasonSustainedExceeded
		return sustainedRes, nil
	}

	// Report the tighter of the two budgets.
	if sustainedRes.Remaining < burstRes.Remaining {
		return sustainedRes, nil
	}
	return burstRes, nil
}

// ContentStrategy selects its ceiling by the classifier's content class
// before delegating to a fixed-window check. Light, heavy and expensive
// classes carry independently configured, typically descending, ceilings.
type ContentStrategy struct {
	name       string
	store      CounterStore
	classifier *Classifier
	policies   map[string]WindowPolicy
	failMode   string
	logger     *zap.Logger
}

// NewContentStrategy creates the content-aware strategy. policies is keyed
// by content class; classes without a policy are admitted unchecked.
func NewContentStrategy(store CounterStore, classifier *Classifier, policies map[string]WindowPolicy, failMode string, logger *zap.Logger) *ContentStrategy {
	return &ContentStrategy{
		name:       StrategyContent,
		store:      store,
		classifier: classifier,
		policies:   policies,
		failMode:   failMode,
		logger:     logger,
	}
}

// Name returns the strategy name.
func (s *ContentStrategy) Name() string { return s.name }

// Check classifies the request and applies the class tier's window.
func (s *ContentStrategy) Check(ctx context.Context, req *Request) (Result, error) {
	class := s.classifier.ContentClass(req.Path, req.ContentLength)
	policy, ok := s.policies[class]
	if !ok {
		return Result{Allowed: true, Strategy: s.name}, nil
	}

	key := s.classifier.ContentKey(req.ClientKey, req.Path, req.ContentLength)
	res, err := checkWindow(ctx, s.store, s.name, key, policy)
	if err != nil {
		return storeFailure(s.failMode, s.name, policy.Window, req, err, s.logger), nil
	}
	if !res.Allowed {
		res.Reason = fmt.Sprintf("content_%s_exceeded", class)
	}
	return res, nil
}

// GeoStrategy selects its ceiling by resolved region, with unmapped country
// codes falling back to the OTHER tier. An operator can name a maintenance
// region whose traffic bypasses the check entirely.
type GeoStrategy struct {
	name       string
	store      CounterStore
	classifier *Classifier
	policies   map[string]WindowPolicy
	failMode   string
	logger     *zap.Logger

	mu                sync.RWMutex
	maintenanceRegion string
}

// NewGeoStrategy creates the geographic strategy. policies is keyed by
// region code plus the OTHER fallback; maintenanceRegion may be empty.
func NewGeoStrategy(store CounterStore, classifier *Classifier, policies map[string]WindowPolicy, maintenanceRegion, failMode string, logger *zap.Logger) *GeoStrategy {
	return &GeoStrategy{
		name:              StrategyGeo,
		store:             store,
		classifier:        classifier,
		policies:          policies,
		failMode:          failMode,
		logger:            logger,
		maintenanceRegion: strings.ToUpper(maintenanceRegion),
	}
}

// Name returns the strategy name.
func (s *GeoStrategy) Name() string { return s.name }

// SetMaintenanceRegion names a region whose traffic bypasses the geographic
// check, or clears the bypass when region is empty.
func (s *GeoStrategy) SetMaintenanceRegion(region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenanceRegion = strings.ToUpper(region)
}

// MaintenanceRegion returns the currently bypassed region, empty when none.
func (s *GeoStrategy) MaintenanceRegion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maintenanceRegion
}

// Check applies the region tier's window unless the region is under a
// maintenance bypass.
func (s *GeoStrategy) Check(ctx context.Context, req *Request) (Result, error) {
	region := s.classifier.Region(req.CountryCode)

	if mr := s.MaintenanceRegion(); mr != "" && mr == region {
		return Result{Allowed: true, Strategy: s.name, Reason: ReasonMaintenanceBypass}, nil
	}

	policy, ok := s.policies[region]
	if !ok {
		policy, ok = s.policies[RegionOther]
		if !ok {
			return Result{Allowed: true, Strategy: s.name}, nil
		}
	}

	res, err := checkWindow(ctx, s.store, s.name, s.classifier.GeoKey(req.ClientKey, req.CountryCode), policy)
	if err != nil {
		return storeFailure(s.failMode, s.name, policy.Window, req, err, s.logger), nil
	}
	if !res.Allowed {
		res.Reason = fmt.Sprintf("geo_%s_exceeded", strings.ToLower(region))
	}
	return res, nil
}

// AdaptiveStrategy runs a fixed-window check and, on denial, consults the
// client's reputation score to shape the retry hint and messaging. The
// admission decision itself is unaffected by reputation unless scaled
// ceilings are explicitly enabled, in which case the effective ceiling is
// doubled for scores above 0.5 and halved below -0.5.
type AdaptiveStrategy struct {
	name          string
	store         CounterStore
	reputation    ReputationSource
	policy        WindowPolicy
	scaleCeilings bool
	failMode      string
	logger        *zap.Logger
}

// Reputation thresholds and adaptive reason codes.
const (
	trustedScore = 0.5
	flaggedScore = -0.5

	ReasonAdaptiveExceeded = "adaptive_window_exceeded"
	ReasonAdaptiveTrusted  = "adaptive_window_exceeded_trusted"
	ReasonAdaptiveFlagged  = "adaptive_window_exceeded_flagged"
)

// NewAdaptiveStrategy creates the reputation-adaptive strategy.
func NewAdaptiveStrategy(store CounterStore, reputation ReputationSource, policy WindowPolicy, scaleCeilings bool, failMode string, logger *zap.Logger) *AdaptiveStrategy {
	return &AdaptiveStrategy{
		name:          StrategyAdaptive,
		store:         store,
		reputation:    reputation,
		policy:        policy,
		scaleCeilings: scaleCeilings,
		failMode:      failMode,
		logger:        logger,
	}
}

// Name returns the strategy name.
func (s *AdaptiveStrategy) Name() string { return s.name }

// Check performs the base window check; denials are annotated with a
// reputation-dependent reason and retry hint.
func (s *AdaptiveStrategy) Check(ctx context.Context, req *Request) (Result, error) {
	policy := s.policy
	score := s.reputation.Score(req.ClientKey)

	if s.scaleCeilings {
		switch {
		case score > trustedScore:
			policy.Limit *= 2
		case score < flaggedScore:
			policy.Limit /= 2
			if policy.Limit < 1 {
				policy.Limit = 1
			}
		}
	}

	res, err := checkWindow(ctx, s.store, s.name, AdaptiveKey(req.ClientKey), policy)
	if err != nil {
		return storeFailure(s.failMode, s.name, policy.Window, req, err, s.logger), nil
	}
	if res.Allowed {
		return res, nil
	}

	switch {
	case score > trustedScore:
		res.Reason = ReasonAdaptiveTrusted
		res.RetryAfter = policy.Window / 2
	case score < flaggedScore:
		res.Reason = ReasonAdaptiveFlagged
		res.RetryAfter = policy.Window * 2
	default:
		res.Reason = ReasonAdaptiveExceeded
	}
	return res, nil
}
