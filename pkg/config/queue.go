package config

import "time"

// Queue names. Q1 feeds the processor, Q2 the renderer, Q3 the publisher;
// collection-requests carries optional manual collector triggers.
const (
	QueueCollectionRequests = "collection-requests"
	QueueProcessing         = "content-processing-requests"
	QueueMarkdown           = "markdown-generation-requests"
	QueuePublishing         = "site-publishing-requests"
)

// WorkerConfig controls one stage's worker pool: how messages are polled,
// how many are processed in parallel, and how long they stay invisible.
type WorkerConfig struct {
	// WorkerCount is the number of worker goroutines per replica.
	WorkerCount int `yaml:"worker_count"`

	// BatchSize is the maximum messages pulled per receive call. The
	// batch is processed as parallel tasks sharing the replica's clients.
	BatchSize int `yaml:"batch_size"`

	// VisibilityTimeout hides a dequeued message from other consumers.
	// Must be at least twice the stage's p95 processing time; a shorter
	// value guarantees duplicate delivery.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`

	// ProcessingSlack is subtracted from VisibilityTimeout to form the
	// per-message processing deadline, so a slow handler runs out of time
	// before its message reappears.
	ProcessingSlack time.Duration `yaml:"processing_slack"`

	// PollInterval is the base wait between empty receives.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes PollInterval to de-synchronize
	// replicas. Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// GracefulShutdownTimeout is the window in-flight messages get to
	// finish during shutdown. Messages that miss it are left undeleted
	// and redeliver.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// Deadline returns the per-message processing deadline.
func (w *WorkerConfig) Deadline() time.Duration {
	d := w.VisibilityTimeout - w.ProcessingSlack
	if d <= 0 {
		d = w.VisibilityTimeout / 2
	}
	return d
}

// QueuesConfig groups the per-stage worker configurations. Visibility
// timeouts are deliberately per stage: one large global default would
// delay retry of genuinely failed messages.
type QueuesConfig struct {
	Processor *WorkerConfig `yaml:"processor"`
	Renderer  *WorkerConfig `yaml:"renderer"`
	Publisher *WorkerConfig `yaml:"publisher"`
	Collector *WorkerConfig `yaml:"collector"`
}

// DefaultQueuesConfig returns the per-stage defaults.
func DefaultQueuesConfig() *QueuesConfig {
	return &QueuesConfig{
		Processor: &WorkerConfig{
			WorkerCount:             2,
			BatchSize:               5,
			VisibilityTimeout:       90 * time.Second,
			ProcessingSlack:         10 * time.Second,
			PollInterval:            2 * time.Second,
			PollIntervalJitter:      500 * time.Millisecond,
			GracefulShutdownTimeout: 25 * time.Second,
		},
		Renderer: &WorkerConfig{
			WorkerCount:             2,
			BatchSize:               10,
			VisibilityTimeout:       60 * time.Second,
			ProcessingSlack:         10 * time.Second,
			PollInterval:            2 * time.Second,
			PollIntervalJitter:      500 * time.Millisecond,
			GracefulShutdownTimeout: 25 * time.Second,
		},
		Publisher: &WorkerConfig{
			// Serial by deployment invariant: one replica, one worker.
			WorkerCount:             1,
			BatchSize:               1,
			VisibilityTimeout:       180 * time.Second,
			ProcessingSlack:         10 * time.Second,
			PollInterval:            5 * time.Second,
			PollIntervalJitter:      time.Second,
			GracefulShutdownTimeout: 25 * time.Second,
		},
		Collector: &WorkerConfig{
			WorkerCount:             1,
			BatchSize:               1,
			VisibilityTimeout:       120 * time.Second,
			ProcessingSlack:         10 * time.Second,
			PollInterval:            5 * time.Second,
			PollIntervalJitter:      time.Second,
			GracefulShutdownTimeout: 25 * time.Second,
		},
	}
}

// Validate checks worker configuration bounds.
func (w *WorkerConfig) Validate(stage string) error {
	if w.WorkerCount < 1 {
		return NewValidationError("queue", stage, "worker_count", ErrInvalidValue)
	}
	if w.BatchSize < 1 {
		return NewValidationError("queue", stage, "batch_size", ErrInvalidValue)
	}
	if w.VisibilityTimeout <= 0 {
		return NewValidationError("queue", stage, "visibility_timeout", ErrInvalidValue)
	}
	if w.ProcessingSlack < 0 || w.ProcessingSlack >= w.VisibilityTimeout {
		return NewValidationError("queue", stage, "processing_slack", ErrInvalidValue)
	}
	return nil
}
