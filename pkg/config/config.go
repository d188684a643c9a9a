// Package config loads and validates pipeline configuration: YAML source
// definitions plus environment-driven settings for storage, queues, the
// LLM, image sources, and publishing.
package config

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the application. It is an immutable snapshot: every
// replica builds it once at startup and passes it by reference.
type Config struct {
	configDir string

	Storage   *StorageConfig
	Queues    *QueuesConfig
	LLM       *LLMConfig
	Images    *ImagesConfig
	Collector *CollectorConfig
	Renderer  *RendererConfig
	Publish   *PublishConfig

	// SourceRegistry holds the configured content sources and their
	// quality templates.
	SourceRegistry *SourceRegistry
}

// ConfigStats contains statistics about loaded configuration.
type ConfigStats struct {
	Sources          int
	QualityTemplates int
	ImageSources     int
}

// Stats returns configuration statistics for logging and the health
// endpoint.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Sources:          c.SourceRegistry.Len(),
		QualityTemplates: c.SourceRegistry.TemplateCount(),
		ImageSources:     len(c.Images.Sources),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetSource retrieves a source configuration by name.
func (c *Config) GetSource(name string) (*SourceConfig, error) {
	return c.SourceRegistry.Get(name)
}
