package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/metrics"
	"github.com/curatorhq/curator/pkg/ratelimit"
)

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	api     anthropic.Client
	cfg     *config.LLMConfig
	limiter *ratelimit.Limiter
}

// NewAnthropicClient builds the production client. SDK-internal retries
// are disabled: retry policy lives here so 429 handling and the
// transient/permanent split stay in one place.
func NewAnthropicClient(cfg *config.LLMConfig, limiter *ratelimit.Limiter) *AnthropicClient {
	return &AnthropicClient{
		api: anthropic.NewClient(
			option.WithAPIKey(cfg.APIKey()),
			option.WithMaxRetries(0),
			option.WithRequestTimeout(cfg.RequestTimeout),
		),
		cfg:     cfg,
		limiter: limiter,
	}
}

// Generate acquires one local token, then calls the provider with
// exponential backoff on 429 and transport errors.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if !c.limiter.Acquire(ctx, 1) {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, c.cfg.Model)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	var msg *anthropic.Message
	call := func() error {
		var err error
		msg, err = c.api.Messages.New(ctx, params)
		if err == nil {
			return nil
		}
		classified := classify(err)
		if errors.Is(classified, ErrPermanent) {
			return backoff.Permanent(classified)
		}
		slog.Warn("LLM call failed, backing off", "model", c.cfg.Model, "error", err)
		return classified
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponential(), uint64(c.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(call, policy); err != nil {
		return nil, err
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	resp := &Response{
		Text:         text,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		CostUSD:      c.cost(msg.Usage.InputTokens, msg.Usage.OutputTokens),
	}
	metrics.LLMTokens.WithLabelValues("input").Add(float64(resp.InputTokens))
	metrics.LLMTokens.WithLabelValues("output").Add(float64(resp.OutputTokens))
	metrics.LLMCostUSD.Add(resp.CostUSD)
	return resp, nil
}

func (c *AnthropicClient) cost(in, out int64) float64 {
	return float64(in)/1e6*c.cfg.InputUSDPerMTok + float64(out)/1e6*c.cfg.OutputUSDPerMTok
}

// classify maps a provider error onto the transient/permanent split.
func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429 || apierr.StatusCode >= 500:
			return fmt.Errorf("%w: http %d: %v", ErrTransient, apierr.StatusCode, err)
		case apierr.StatusCode >= 400:
			return fmt.Errorf("%w: http %d: %v", ErrPermanent, apierr.StatusCode, err)
		}
	}
	// Transport-level failure.
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// newExponential returns the full-jitter policy shared by retries.
func newExponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.RandomizationFactor = 1 // full jitter
	return b
}
