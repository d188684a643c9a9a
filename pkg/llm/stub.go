package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// StubClient is a deterministic Client for tests: the same prompt always
// yields the same text, so downstream round-trip properties can assert
// byte-for-byte equality.
type StubClient struct {
	// Err, when set, is returned for the first FailCalls calls, or for
	// every call when FailCalls is zero.
	Err       error
	FailCalls int64

	calls atomic.Int64
}

// NewStubClient returns a stub that always succeeds.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// Calls reports how many Generate calls were made.
func (s *StubClient) Calls() int64 {
	return s.calls.Load()
}

// Generate returns deterministic content derived from the prompt hash.
func (s *StubClient) Generate(_ context.Context, req Request) (*Response, error) {
	n := s.calls.Add(1)
	if s.Err != nil && (s.FailCalls == 0 || n <= s.FailCalls) {
		return nil, s.Err
	}

	sum := sha256.Sum256([]byte(req.System + "\x00" + req.Prompt))
	digest := hex.EncodeToString(sum[:8])
	return &Response{
		Text:         fmt.Sprintf("stub-article %s\n\nGenerated for prompt digest %s.", digest, digest),
		InputTokens:  int64(len(req.Prompt) / 4),
		OutputTokens: 128,
		CostUSD:      0.01,
	}, nil
}
