package models

import "time"

// ProcessedArticle is the AI-generated article plus its metadata and
// provenance chain. Written once to the processed-content container at a
// deterministic path; never mutated afterwards. Its existence is the done
// marker for the owning topic.
type ProcessedArticle struct {
	ArticleID   string    `json:"article_id"`
	TopicID     string    `json:"topic_id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags"`
	Content     string    `json:"content"`

	References []Reference `json:"references,omitempty"`

	Source      string    `json:"source"`
	SourceURL   string    `json:"source_url"`
	CollectedAt time.Time `json:"collected_at"`
	GeneratedAt time.Time `json:"generated_at"`

	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	QualityScore float64 `json:"quality_score"`

	CorrelationID string `json:"correlation_id"`

	// Provenance is the ordered chain of per-stage audit entries.
	Provenance []ProvenanceEntry `json:"provenance"`
}

// Reference is an external citation included in a generated article.
type Reference struct {
	Source string `json:"source"`
	URL    string `json:"url"`
}

// ProvenanceEntry records one stage's contribution to an article's lineage.
type ProvenanceEntry struct {
	Stage       string    `json:"stage"`
	ProcessorID string    `json:"processor_id"`
	Version     string    `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	CostUSD     float64   `json:"cost_usd,omitempty"`
	Tokens      int64     `json:"tokens,omitempty"`
}

// FailureRecord is written for permanent processing failures so operators
// can see why a topic never produced an article. Also terminates
// poison-message loops: the message is deleted once the record exists.
type FailureRecord struct {
	TopicID       string    `json:"topic_id"`
	CorrelationID string    `json:"correlation_id"`
	Stage         string    `json:"stage"`
	Reason        string    `json:"reason"`
	FailedAt      time.Time `json:"failed_at"`
}

// Lease is the JSON body of a lease blob under leases/<topic_id>.
type Lease struct {
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lease has passed its expiry.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
