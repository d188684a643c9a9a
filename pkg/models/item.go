// Package models defines the entities that flow through the curation
// pipeline: collected items, collection audit records, processed articles,
// and the queue message envelope shared by every stage.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// CollectedItem is one candidate piece of content pulled from a source.
// Immutable once written into a Collection blob.
type CollectedItem struct {
	// TopicID is the stable content hash of (source, source-native id).
	// Re-collection of the same item always maps to the same TopicID,
	// and therefore to the same lease.
	TopicID string `json:"topic_id"`

	// ItemID is the source-scoped native identifier.
	ItemID string `json:"item_id"`

	Source  string `json:"source"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt,omitempty"`

	// Engagement signals as reported by the source (upvotes, boosts,
	// comment counts). Semantics are source-specific.
	Score    int `json:"score"`
	Comments int `json:"comments"`

	FetchedAt   time.Time `json:"fetched_at"`
	ContentHash string    `json:"content_hash"`

	// QualityScore is assigned by the collector's filter; items below the
	// source template threshold never reach the queue.
	QualityScore float64 `json:"quality_score"`

	PriorityScore float64 `json:"priority_score"`
}

// TopicID derives the stable topic identifier for a source-native item id.
func TopicID(source, nativeID string) string {
	sum := sha256.Sum256([]byte(source + ":" + nativeID))
	return hex.EncodeToString(sum[:])
}

// ContentHash hashes the normalized URL and title of an item. Two fetches
// of the same content yield the same hash even when the source decorates
// the URL or retitles with different casing.
func ContentHash(rawURL, title string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(rawURL) + "|" + NormalizeTitle(title)))
	return hex.EncodeToString(sum[:])
}

// NormalizeURL lowercases scheme and host, strips common tracking query
// parameters, fragments, and any trailing slash.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(strings.ToLower(raw))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if strings.HasPrefix(param, "utm_") || param == "ref" || param == "fbclid" || param == "gclid" {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// NormalizeTitle lowercases and collapses interior whitespace.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// Collection is the audit record of one collector run. It is persisted to
// the collected-content container before any fanout message is sent, so
// every queue message can be traced back to a durable row.
type Collection struct {
	CollectionID string          `json:"collection_id"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  time.Time       `json:"completed_at"`
	Sources      []string        `json:"sources"`
	Items        []CollectedItem `json:"items"`
	Stats        CollectionStats `json:"stats"`
}

// CollectionStats summarizes one collector run.
type CollectionStats struct {
	Fetched           int            `json:"fetched"`
	Accepted          int            `json:"accepted"`
	RejectedByQuality int            `json:"rejected_by_quality"`
	RejectedAsDupe    int            `json:"rejected_as_dupe"`
	QueueMessagesSent int            `json:"queue_messages_sent"`
	SourceErrors      map[string]string `json:"source_errors,omitempty"`
}
