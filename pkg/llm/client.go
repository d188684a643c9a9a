// Package llm provides the rate-limited article-generation client.
// The Anthropic implementation is the production backend; the stub backs
// tests with deterministic output.
package llm

import (
	"context"
	"errors"
)

// Sentinel classification errors. Callers branch on these to decide
// whether a queue message is retried or settled.
var (
	// ErrTransient covers timeouts, 5xx, and 429 after backoff is
	// exhausted. The caller leaves the message for redelivery.
	ErrTransient = errors.New("transient llm error")

	// ErrPermanent covers auth failures and non-429 4xx. The caller
	// records a failure and settles the message.
	ErrPermanent = errors.New("permanent llm error")

	// ErrRateLimited indicates the local token bucket could not grant a
	// token before the processing deadline.
	ErrRateLimited = errors.New("local rate limit deadline exceeded")
)

// Request is one generation call.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Response carries the generated text and usage accounting.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Client generates text under the replica's shared rate limit.
type Client interface {
	// Generate blocks on the local token bucket, then calls the provider
	// with bounded retries. Errors wrap ErrTransient, ErrPermanent, or
	// ErrRateLimited.
	Generate(ctx context.Context, req Request) (*Response, error)
}
