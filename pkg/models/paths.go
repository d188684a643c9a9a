package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Blob path layout. These are the deterministic names the pipeline relies
// on for done markers, reconciliation, and replay; changing them orphans
// existing content.

// CollectionBlobPath returns collections/<yyyy>/<mm>/<dd>/<id>.json.
func CollectionBlobPath(collectionID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("collections/%04d/%02d/%02d/%s.json",
		at.Year(), at.Month(), at.Day(), collectionID)
}

// ArticleBlobPath returns articles/<yyyy>/<mm>/<slug>.json.
func ArticleBlobPath(slug string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("articles/%04d/%02d/%s.json", at.Year(), at.Month(), slug)
}

// MarkdownBlobPath returns <category>/<yyyy>/<slug>.md.
func MarkdownBlobPath(category, slug string, at time.Time) string {
	if category == "" {
		category = "general"
	}
	return fmt.Sprintf("%s/%04d/%s.md", category, at.UTC().Year(), slug)
}

// LeaseBlobPath returns leases/<topic_id>.
func LeaseBlobPath(topicID string) string {
	return "leases/" + topicID
}

// FailureBlobPath returns failures/<topic_id>.json.
func FailureBlobPath(topicID string) string {
	return "failures/" + topicID + ".json"
}

// SlugFromMarkdownPath extracts the slug from a markdown blob path.
// Returns "" when the path does not match the layout.
func SlugFromMarkdownPath(blobPath string) string {
	base := path.Base(blobPath)
	if !strings.HasSuffix(base, ".md") {
		return ""
	}
	return strings.TrimSuffix(base, ".md")
}

// SlugFromArticlePath extracts the slug from an article blob path.
func SlugFromArticlePath(blobPath string) string {
	base := path.Base(blobPath)
	if !strings.HasSuffix(base, ".json") {
		return ""
	}
	return strings.TrimSuffix(base, ".json")
}
