package config

import "time"

// ImageStrategy selects which stock-image sources are used.
type ImageStrategy string

// Image source strategies.
const (
	StrategySourceAOnly    ImageStrategy = "source-a-only"
	StrategySourceBOnly    ImageStrategy = "source-b-only"
	StrategyDualRoundRobin ImageStrategy = "dual-roundrobin"
)

// ImageSourceConfig configures one stock-image API.
type ImageSourceConfig struct {
	Name string `yaml:"name"`

	// Endpoint is the search API base URL.
	Endpoint string `yaml:"endpoint"`

	// APIKeyEnv names the environment variable holding the key. Sources
	// without keys (open APIs) leave it empty.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// RatePerHour is the documented free-tier quota minus a safety
	// margin; the source's token bucket is sized from it.
	RatePerHour int `yaml:"rate_per_hour"`

	// RequestTimeout bounds one search call.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// ImagesConfig configures image selection for the renderer.
type ImagesConfig struct {
	Strategy ImageStrategy        `yaml:"strategy"`
	Sources  []*ImageSourceConfig `yaml:"sources"`

	// AcquireTimeout bounds the cooperative wait for a rate-limit token
	// before failing over to the next source.
	AcquireTimeout time.Duration `yaml:"acquire_timeout,omitempty"`
}

// DefaultImagesConfig returns the built-in dual-source defaults.
func DefaultImagesConfig() *ImagesConfig {
	return &ImagesConfig{
		Strategy:       StrategyDualRoundRobin,
		AcquireTimeout: 10 * time.Second,
		Sources: []*ImageSourceConfig{
			{
				Name:           "pexels",
				Endpoint:       "https://api.pexels.com/v1",
				APIKeyEnv:      "PEXELS_API_KEY",
				RatePerHour:    45, // documented 50/h minus margin
				RequestTimeout: 10 * time.Second,
			},
			{
				Name:           "openverse",
				Endpoint:       "https://api.openverse.org/v1",
				RatePerHour:    500,
				RequestTimeout: 10 * time.Second,
			},
		},
	}
}

// Validate checks the image configuration.
func (c *ImagesConfig) Validate() error {
	switch c.Strategy {
	case StrategySourceAOnly, StrategySourceBOnly, StrategyDualRoundRobin:
	default:
		return NewValidationError("images", "strategy", string(c.Strategy), ErrInvalidValue)
	}
	if len(c.Sources) == 0 {
		return NewValidationError("images", "sources", "", ErrMissingRequiredField)
	}
	for _, s := range c.Sources {
		if s.Name == "" || s.Endpoint == "" {
			return NewValidationError("images", s.Name, "endpoint", ErrMissingRequiredField)
		}
		if s.RatePerHour < 1 {
			return NewValidationError("images", s.Name, "rate_per_hour", ErrInvalidValue)
		}
	}
	return nil
}
