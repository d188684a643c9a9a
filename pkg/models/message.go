package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation identifies the work a queue message requests. Unknown
// operations are deleted and logged; forward compatibility requires
// explicit handler registration.
type Operation string

// Pipeline operations.
const (
	OpCollect        Operation = "collect"
	OpProcessTopic   Operation = "process_topic"
	OpRenderMarkdown Operation = "render_markdown"
	OpPublishSite    Operation = "publish_site"
)

// Envelope is the common wire format shared by every pipeline queue.
// The correlation id survives all stages; logs and blobs are keyed by it.
type Envelope struct {
	MessageID     string          `json:"message_id,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	ServiceName   string          `json:"service_name"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload for the given operation. The correlation id
// is generated when the caller does not carry one forward.
func NewEnvelope(service string, op Operation, correlationID string, payload any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", op, err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return &Envelope{
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		ServiceName:   service,
		Operation:     op,
		Payload:       body,
	}, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e *Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty payload for operation %q", e.Operation)
	}
	return json.Unmarshal(e.Payload, dst)
}

// TopicPayload is the Q1 work unit: one accepted item to turn into an
// article.
type TopicPayload struct {
	TopicID        string    `json:"topic_id"`
	Title          string    `json:"title"`
	Source         string    `json:"source"`
	URL            string    `json:"url"`
	Excerpt        string    `json:"excerpt,omitempty"`
	Score          int       `json:"score"`
	Comments       int       `json:"comments"`
	CollectedAt    time.Time `json:"collected_at"`
	PriorityScore  float64   `json:"priority_score"`
	CollectionID   string    `json:"collection_id"`
	CollectionBlob string    `json:"collection_blob"`
}

// Validate checks the fields the processor cannot work without.
func (p *TopicPayload) Validate() error {
	switch {
	case p.TopicID == "":
		return fmt.Errorf("topic payload missing topic_id")
	case p.Title == "":
		return fmt.Errorf("topic payload missing title")
	case p.Source == "":
		return fmt.Errorf("topic payload missing source")
	}
	return nil
}

// RenderPayload is the Q2 work unit: one processed article to render.
type RenderPayload struct {
	ProcessedBlobPath string `json:"processed_blob_path"`
}

// Validate checks the render payload.
func (p *RenderPayload) Validate() error {
	if p.ProcessedBlobPath == "" {
		return fmt.Errorf("render payload missing processed_blob_path")
	}
	return nil
}

// BuildPayload is the Q3 coalesced site-rebuild request. Duplicates are
// idempotent: a rebuild from unchanged markdown produces identical output.
type BuildPayload struct {
	BatchID       string `json:"batch_id"`
	MarkdownCount int    `json:"markdown_count"`
	Trigger       string `json:"trigger"`
}

// Build triggers.
const (
	TriggerQueueDrained = "queue_drained"
	TriggerManual       = "manual"
	TriggerReconciler   = "reconciler"
)

// CollectPayload is the optional manual-trigger request for the collector.
type CollectPayload struct {
	Sources []string `json:"sources,omitempty"` // empty = all configured
}
