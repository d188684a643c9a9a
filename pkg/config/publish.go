package config

import "time"

// PublishConfig configures the site publisher.
type PublishConfig struct {
	// GeneratorCommand is the pinned static-site-generator invocation.
	// The first element is the binary, the rest are arguments; the work
	// directory and output directory are appended by the publisher.
	GeneratorCommand []string `yaml:"generator_command"`

	// GeneratorTimeout bounds one site build.
	GeneratorTimeout time.Duration `yaml:"generator_timeout,omitempty"`

	// OutputMaxMB refuses deployment when the generated site exceeds this
	// size. Checked before any mutation of the web container.
	OutputMaxMB int `yaml:"output_max_mb,omitempty"`

	// ProgressEvery controls how often long copy/upload loops log
	// progress, in files.
	ProgressEvery int `yaml:"progress_every,omitempty"`

	// SiteURL is the public address reported in deployment results.
	SiteURL string `yaml:"site_url,omitempty"`
}

// DefaultPublishConfig returns the built-in publisher defaults.
func DefaultPublishConfig() *PublishConfig {
	return &PublishConfig{
		GeneratorCommand: []string{"hugo", "--minify"},
		GeneratorTimeout: 5 * time.Minute,
		OutputMaxMB:      200,
		ProgressEvery:    500,
	}
}

// Validate checks publisher configuration.
func (c *PublishConfig) Validate() error {
	if len(c.GeneratorCommand) == 0 {
		return NewValidationError("publish", "generator", "generator_command", ErrMissingRequiredField)
	}
	if c.OutputMaxMB < 1 {
		return NewValidationError("publish", "generator", "output_max_mb", ErrInvalidValue)
	}
	return nil
}

// RendererConfig configures markdown rendering and drain coalescing.
type RendererConfig struct {
	// StableEmptySeconds is how long the upstream queue must stay empty
	// before one coalesced build message is emitted.
	StableEmptySeconds int `yaml:"stable_empty_seconds,omitempty"`

	// DrainCheckInterval is how often the drain monitor samples depth.
	DrainCheckInterval time.Duration `yaml:"drain_check_interval,omitempty"`
}

// DefaultRendererConfig returns the built-in renderer defaults.
func DefaultRendererConfig() *RendererConfig {
	return &RendererConfig{
		StableEmptySeconds: 30,
		DrainCheckInterval: 5 * time.Second,
	}
}

// CollectorConfig configures collection cadence and dedup.
type CollectorConfig struct {
	// AutoCollectOnStartup triggers one collection run at replica start.
	AutoCollectOnStartup bool `yaml:"auto_collect_on_startup,omitempty"`

	// Schedule is a cron expression for periodic collection. Empty
	// disables the timer.
	Schedule string `yaml:"schedule,omitempty"`

	// DedupWindow is the rolling window of prior collections consulted
	// for duplicate suppression.
	DedupWindow time.Duration `yaml:"dedup_window,omitempty"`

	// FetchTimeout bounds one source fetch.
	FetchTimeout time.Duration `yaml:"fetch_timeout,omitempty"`

	// FanoutAttempts bounds per-message send retries during fanout.
	FanoutAttempts int `yaml:"fanout_attempts,omitempty"`
}

// DefaultCollectorConfig returns the built-in collector defaults.
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		Schedule:       "0 */4 * * *",
		DedupWindow:    48 * time.Hour,
		FetchTimeout:   10 * time.Second,
		FanoutAttempts: 3,
	}
}

// StorageConfig locates the storage account backing blobs and queues.
type StorageConfig struct {
	// ConnectionString is used when set (local development, Azurite).
	ConnectionString string `yaml:"-"`

	// BlobServiceURL and QueueServiceURL are used with the ambient
	// credential chain when no connection string is set.
	BlobServiceURL  string `yaml:"blob_service_url,omitempty"`
	QueueServiceURL string `yaml:"queue_service_url,omitempty"`
}

// Validate checks that some storage endpoint is configured.
func (c *StorageConfig) Validate() error {
	if c.ConnectionString == "" && (c.BlobServiceURL == "" || c.QueueServiceURL == "") {
		return NewValidationError("storage", "account", "connection", ErrMissingRequiredField)
	}
	return nil
}
