// Package modelcheck runs the optional model-assisted review of an artifact.
// Clients talk to a model provider; Checker wraps a client with timeouts,
// a concurrency limit, a rate limit and a circuit breaker.
package modelcheck

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when a provider cannot be reached or is not
// configured
var ErrUnavailable = errors.New("model unavailable")

// Response is the raw text returned by a provider
type Response struct {
	Text string
	// Duration is the provider-reported processing time when known,
	// otherwise the wall-clock time of the call
	Duration time.Duration
}

// Client is a model provider
type Client interface {
	// Name identifies the model in verdicts
	Name() string
	// Probe returns nil when the provider is reachable
	Probe(ctx context.Context) error
	// Generate sends a single prompt and returns the completion
	Generate(ctx context.Context, prompt string) (Response, error)
}
