// pipeline.go: ordered strategy composition with first-denial short-circuit
package ratelimit

import (
	"context"

	"go.uber.org/zap"
)

// Pipeline applies its strategies in order to each request and returns the
// first denial encountered, attributed to the strategy that produced it.
// Requests on bypass paths skip every strategy.
type Pipeline struct {
	strategies  []Strategy
	bypassPaths map[string]struct{}
	logger      *zap.Logger
}

// NewPipeline creates a pipeline. Strategy order is preserved; the reference
// deployment runs burst, geo, content, adaptive.
func NewPipeline(strategies []Strategy, bypassPaths []string, logger *zap.Logger) *Pipeline {
	bypass := make(map[string]struct{}, len(bypassPaths))
	for _, p := range bypassPaths {
		bypass[p] = struct{}{}
	}
	return &Pipeline{
		strategies:  strategies,
		bypassPaths: bypass,
		logger:      logger,
	}
}

// Bypassed reports whether a path is on the admission allow-list.
func (p *Pipeline) Bypassed(path string) bool {
	_, ok := p.bypassPaths[path]
	return ok
}

// Admit runs every strategy in order against the request, short-circuiting
// on the first denial. A denied request terminates immediately; no further
// strategy is evaluated.
func (p *Pipeline) Admit(ctx context.Context, req *Request) Result {
	if p.Bypassed(req.Path) {
		return Result{Allowed: true, Reason: "bypass"}
	}

	var last Result
	last.Allowed = true
	for _, s := range p.strategies {
		res, err := s.Check(ctx, req)
		if err != nil {
			// Strategies resolve store failures via their failure mode;
			// anything surfacing here is a programming error worth a log,
			// not a request-path crash.
			p.logger.Error("strategy check errored",
				zap.String("strategy", s.Name()),
				zap.String("client", req.ClientKey),
				zap.String("path", req.Path),
				zap.Error(err))
			continue
		}
		if !res.Allowed {
			return res
		}
		last = res
	}
	return last
}

// Strategies returns the configured strategy names in evaluation order.
func (p *Pipeline) Strategies() []string {
	names := make([]string, 0, len(p.strategies))
	for _, s := range p.strategies {
		names = append(names, s.Name())
	}
	return names
}
