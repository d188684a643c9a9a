package config

import (
	"os"
	"time"
)

// LLMConfig configures the article-generation client. The rate limit is
// per replica; size it conservatively relative to replica count times the
// provider ceiling.
type LLMConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Model is the generation model identifier.
	Model string `yaml:"model,omitempty"`

	// MaxTokens bounds each completion.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// RatePerMinute is the per-replica request quota.
	RatePerMinute int `yaml:"rate_per_minute,omitempty"`

	// RequestTimeout bounds one generation call.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// MaxRetries bounds 429/transport retries before the error is
	// surfaced as transient.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// TitleOptions enables the additional title-variants call.
	TitleOptions bool `yaml:"title_options,omitempty"`

	// Pricing per million tokens, used for cost accounting.
	InputUSDPerMTok  float64 `yaml:"input_usd_per_mtok,omitempty"`
	OutputUSDPerMTok float64 `yaml:"output_usd_per_mtok,omitempty"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		APIKeyEnv:        "ANTHROPIC_API_KEY",
		Model:            "claude-sonnet-4-5",
		MaxTokens:        4096,
		RatePerMinute:    60,
		RequestTimeout:   60 * time.Second,
		MaxRetries:       3,
		TitleOptions:     true,
		InputUSDPerMTok:  3.0,
		OutputUSDPerMTok: 15.0,
	}
}

// APIKey resolves the configured key from the environment.
func (c *LLMConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// Validate checks LLM configuration bounds.
func (c *LLMConfig) Validate() error {
	if c.Model == "" {
		return NewValidationError("llm", "client", "model", ErrMissingRequiredField)
	}
	if c.RatePerMinute < 1 {
		return NewValidationError("llm", "client", "rate_per_minute", ErrInvalidValue)
	}
	if c.MaxRetries < 0 {
		return NewValidationError("llm", "client", "max_retries", ErrInvalidValue)
	}
	return nil
}
