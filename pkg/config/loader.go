package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CuratorYAMLConfig represents the complete curator.yaml file structure.
type CuratorYAMLConfig struct {
	Sources          []*SourceConfig             `yaml:"sources"`
	QualityTemplates map[string]*QualityTemplate `yaml:"quality_templates"`
	Queues           *QueuesConfig               `yaml:"queues"`
	LLM              *LLMConfig                  `yaml:"llm"`
	Images           *ImagesConfig               `yaml:"images"`
	Collector        *CollectorConfig            `yaml:"collector"`
	Renderer         *RendererConfig             `yaml:"renderer"`
	Publish          *PublishConfig              `yaml:"publish"`
	Storage          *StorageConfig              `yaml:"storage"`
}

// Environment flags recognized by the loader. Env always wins over YAML.
const (
	EnvAutoCollectOnStartup  = "AUTO_COLLECT_ON_STARTUP"
	EnvProcessorRateLimit    = "PROCESSOR_RATE_LIMIT_PER_MIN"
	EnvImageSourceStrategy   = "IMAGE_SOURCE_STRATEGY"
	EnvSiteBuildOutputMaxMB  = "SITE_BUILD_OUTPUT_MAX_MB"
	EnvStableEmptySeconds    = "STABLE_EMPTY_SECONDS"
	EnvStorageConnection     = "STORAGE_CONNECTION_STRING"
	EnvCollectionSchedule    = "COLLECTION_SCHEDULE"
)

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load curator.yaml from configDir (optional; defaults apply without it)
//  2. Expand environment variables in the YAML content
//  3. Apply built-in defaults for every section left unset
//  4. Apply environment overrides
//  5. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	raw, err := loadYAML(filepath.Join(configDir, "curator.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg := &Config{
		configDir: configDir,
		Storage:   raw.Storage,
		Queues:    raw.Queues,
		LLM:       raw.LLM,
		Images:    raw.Images,
		Collector: raw.Collector,
		Renderer:  raw.Renderer,
		Publish:   raw.Publish,
	}
	applyDefaults(cfg)
	cfg.SourceRegistry = NewSourceRegistry(raw.Sources, raw.QualityTemplates)

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"sources", stats.Sources,
		"quality_templates", stats.QualityTemplates,
		"image_sources", stats.ImageSources)
	return cfg, nil
}

func loadYAML(path string) (*CuratorYAMLConfig, error) {
	raw := &CuratorYAMLConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No curator.yaml found, using built-in defaults", "path", path)
			return raw, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(ExpandEnv(data), raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}
	return raw, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	if cfg.Queues == nil {
		cfg.Queues = DefaultQueuesConfig()
	} else {
		def := DefaultQueuesConfig()
		if cfg.Queues.Processor == nil {
			cfg.Queues.Processor = def.Processor
		}
		if cfg.Queues.Renderer == nil {
			cfg.Queues.Renderer = def.Renderer
		}
		if cfg.Queues.Publisher == nil {
			cfg.Queues.Publisher = def.Publisher
		}
		if cfg.Queues.Collector == nil {
			cfg.Queues.Collector = def.Collector
		}
	}
	if cfg.LLM == nil {
		cfg.LLM = DefaultLLMConfig()
	}
	if cfg.Images == nil {
		cfg.Images = DefaultImagesConfig()
	}
	if cfg.Collector == nil {
		cfg.Collector = DefaultCollectorConfig()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = DefaultRendererConfig()
	}
	if cfg.Publish == nil {
		cfg.Publish = DefaultPublishConfig()
	}

	// A partially specified section keeps defaults for the fields it
	// leaves at zero.
	fillZero(cfg)
}

func fillZero(cfg *Config) {
	llmDef := DefaultLLMConfig()
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = llmDef.APIKeyEnv
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = llmDef.Model
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = llmDef.MaxTokens
	}
	if cfg.LLM.RatePerMinute == 0 {
		cfg.LLM.RatePerMinute = llmDef.RatePerMinute
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = llmDef.RequestTimeout
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = llmDef.MaxRetries
	}
	if cfg.LLM.InputUSDPerMTok == 0 {
		cfg.LLM.InputUSDPerMTok = llmDef.InputUSDPerMTok
	}
	if cfg.LLM.OutputUSDPerMTok == 0 {
		cfg.LLM.OutputUSDPerMTok = llmDef.OutputUSDPerMTok
	}

	imgDef := DefaultImagesConfig()
	if cfg.Images.Strategy == "" {
		cfg.Images.Strategy = imgDef.Strategy
	}
	if cfg.Images.AcquireTimeout == 0 {
		cfg.Images.AcquireTimeout = imgDef.AcquireTimeout
	}
	if len(cfg.Images.Sources) == 0 {
		cfg.Images.Sources = imgDef.Sources
	}

	colDef := DefaultCollectorConfig()
	if cfg.Collector.DedupWindow == 0 {
		cfg.Collector.DedupWindow = colDef.DedupWindow
	}
	if cfg.Collector.FetchTimeout == 0 {
		cfg.Collector.FetchTimeout = colDef.FetchTimeout
	}
	if cfg.Collector.FanoutAttempts == 0 {
		cfg.Collector.FanoutAttempts = colDef.FanoutAttempts
	}

	rendDef := DefaultRendererConfig()
	if cfg.Renderer.StableEmptySeconds == 0 {
		cfg.Renderer.StableEmptySeconds = rendDef.StableEmptySeconds
	}
	if cfg.Renderer.DrainCheckInterval == 0 {
		cfg.Renderer.DrainCheckInterval = rendDef.DrainCheckInterval
	}

	pubDef := DefaultPublishConfig()
	if len(cfg.Publish.GeneratorCommand) == 0 {
		cfg.Publish.GeneratorCommand = pubDef.GeneratorCommand
	}
	if cfg.Publish.GeneratorTimeout == 0 {
		cfg.Publish.GeneratorTimeout = pubDef.GeneratorTimeout
	}
	if cfg.Publish.OutputMaxMB == 0 {
		cfg.Publish.OutputMaxMB = pubDef.OutputMaxMB
	}
	if cfg.Publish.ProgressEvery == 0 {
		cfg.Publish.ProgressEvery = pubDef.ProgressEvery
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvStorageConnection); v != "" {
		cfg.Storage.ConnectionString = v
	}
	if v := os.Getenv(EnvAutoCollectOnStartup); v != "" {
		cfg.Collector.AutoCollectOnStartup = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvCollectionSchedule); v != "" {
		cfg.Collector.Schedule = v
	}
	if n, ok := envInt(EnvProcessorRateLimit); ok {
		cfg.LLM.RatePerMinute = n
	}
	if v := os.Getenv(EnvImageSourceStrategy); v != "" {
		cfg.Images.Strategy = ImageStrategy(v)
	}
	if n, ok := envInt(EnvSiteBuildOutputMaxMB); ok {
		cfg.Publish.OutputMaxMB = n
	}
	if n, ok := envInt(EnvStableEmptySeconds); ok {
		cfg.Renderer.StableEmptySeconds = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-numeric environment override", "key", key, "value", v)
		return 0, false
	}
	return n, true
}

func validate(cfg *Config) error {
	if err := cfg.Storage.Validate(); err != nil {
		return err
	}
	for _, src := range cfg.SourceRegistry.GetAll() {
		if err := src.Validate(); err != nil {
			return err
		}
	}
	stages := map[string]*WorkerConfig{
		"processor": cfg.Queues.Processor,
		"renderer":  cfg.Queues.Renderer,
		"publisher": cfg.Queues.Publisher,
		"collector": cfg.Queues.Collector,
	}
	for stage, wc := range stages {
		if err := wc.Validate(stage); err != nil {
			return err
		}
	}
	if err := cfg.LLM.Validate(); err != nil {
		return err
	}
	if err := cfg.Images.Validate(); err != nil {
		return err
	}
	if err := cfg.Publish.Validate(); err != nil {
		return err
	}
	if cfg.Renderer.StableEmptySeconds < 1 {
		return NewValidationError("renderer", "drain", "stable_empty_seconds", ErrInvalidValue)
	}
	if cfg.Collector.DedupWindow < time.Hour {
		return NewValidationError("collector", "dedup", "dedup_window", ErrInvalidValue)
	}
	return nil
}
