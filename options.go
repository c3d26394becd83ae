package beacon

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// Pipeline identities.
var (
	passthroughID    = pipz.NewIdentity("beacon:passthrough", "Hand the request to the selection")
	retryID          = pipz.NewIdentity("beacon:retry", "Retry record application")
	backoffID        = pipz.NewIdentity("beacon:backoff", "Retry record application with backoff")
	timeoutID        = pipz.NewIdentity("beacon:timeout", "Bound record application time")
	circuitBreakerID = pipz.NewIdentity("beacon:circuit-breaker", "Stop applying after repeated failures")
	middlewareID     = pipz.NewIdentity("beacon:middleware", "Middleware sequence")
)

// Option wraps a Link's pipeline. The request that leaves the pipeline is
// applied to the selection; options add reliability or observation around
// the stages that decide what that request is.
//
// Instance configuration (debounce, sync mode, codec, clock) uses the
// chainable methods on Link instead.
type Option func(pipz.Chainable[*Request]) pipz.Chainable[*Request]

// buildPipeline wraps terminal with opts, first option innermost.
func buildPipeline(terminal pipz.Chainable[*Request], opts []Option) pipz.Chainable[*Request] {
	pipeline := terminal
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}

// WithRetry retries a failed pipeline immediately, up to maxAttempts times.
func WithRetry(maxAttempts int) Option {
	return func(p pipz.Chainable[*Request]) pipz.Chainable[*Request] {
		return pipz.NewRetry(retryID, p, maxAttempts)
	}
}

// WithBackoff retries a failed pipeline with delays of baseDelay,
// 2*baseDelay, 4*baseDelay and so on.
func WithBackoff(maxAttempts int, baseDelay time.Duration) Option {
	return func(p pipz.Chainable[*Request]) pipz.Chainable[*Request] {
		return pipz.NewBackoff(backoffID, p, maxAttempts, baseDelay)
	}
}

// WithTimeout fails the pipeline if it runs longer than d.
func WithTimeout(d time.Duration) Option {
	return func(p pipz.Chainable[*Request]) pipz.Chainable[*Request] {
		return pipz.NewTimeout(timeoutID, p, d)
	}
}

// WithCircuitBreaker rejects records without running the pipeline after
// failures consecutive failures, until recovery has elapsed.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return func(p pipz.Chainable[*Request]) pipz.Chainable[*Request] {
		return pipz.NewCircuitBreaker(circuitBreakerID, p, failures, recovery)
	}
}

// WithMiddleware runs processors in order before the wrapped pipeline.
//
//	beacon.NewLink(watcher, sel,
//	    beacon.WithMiddleware(
//	        beacon.UseEffect("audit", auditFn),
//	        beacon.UseApply("allowlist", allowlistFn),
//	    ),
//	)
func WithMiddleware(processors ...pipz.Chainable[*Request]) Option {
	return func(p pipz.Chainable[*Request]) pipz.Chainable[*Request] {
		all := make([]pipz.Chainable[*Request], 0, len(processors)+1)
		all = append(all, processors...)
		all = append(all, p)
		return pipz.NewSequence(middlewareID, all...)
	}
}

// UseTransform creates a processor that rewrites the request and cannot fail.
func UseTransform(name string, fn func(context.Context, *Request) *Request) pipz.Chainable[*Request] {
	return pipz.Transform(pipz.NewIdentity(name, "transform"), fn)
}

// UseApply creates a processor that may rewrite the request or reject it.
// Returning an error leaves the selection unchanged.
func UseApply(name string, fn func(context.Context, *Request) (*Request, error)) pipz.Chainable[*Request] {
	return pipz.Apply(pipz.NewIdentity(name, "apply"), fn)
}

// UseEffect creates a processor for side effects such as auditing. The
// request passes through unchanged; an error rejects it.
func UseEffect(name string, fn func(context.Context, *Request) error) pipz.Chainable[*Request] {
	return pipz.Effect(pipz.NewIdentity(name, "effect"), fn)
}
