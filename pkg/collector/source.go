// Package collector pulls candidate items from configured sources,
// filters them by quality, deduplicates against recent history, persists
// the audit collection, and fans accepted items out as one queue message
// each.
package collector

import (
	"context"
	"fmt"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/models"
)

// Source fetches raw candidate items from one third-party endpoint.
type Source interface {
	// Fetch returns raw items for the configured identifiers. Items come
	// back without TopicID/ContentHash; the collector derives those.
	Fetch(ctx context.Context, cfg *config.SourceConfig) ([]models.CollectedItem, error)

	// Close releases any held connections.
	Close() error
}

// NewSource builds the adapter for a source configuration.
func NewSource(cfg *config.SourceConfig) (Source, error) {
	switch cfg.Type {
	case config.SourceTypeForum:
		return NewForumSource(cfg), nil
	case config.SourceTypeMicroblog:
		return NewMicroblogSource(cfg), nil
	case config.SourceTypeFeed:
		return NewFeedSource(), nil
	default:
		return nil, fmt.Errorf("no adapter for source type %q", cfg.Type)
	}
}
