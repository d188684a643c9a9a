package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/models"
)

// FeedSource reads RSS/Atom syndication feeds.
type FeedSource struct {
	parser *gofeed.Parser
}

// NewFeedSource builds a feed adapter.
func NewFeedSource() *FeedSource {
	return &FeedSource{parser: gofeed.NewParser()}
}

// Fetch parses the endpoint feed, or one feed per identifier path when
// identifiers are set.
func (s *FeedSource) Fetch(ctx context.Context, cfg *config.SourceConfig) ([]models.CollectedItem, error) {
	urls := []string{cfg.Endpoint}
	if len(cfg.Identifiers) > 0 {
		urls = urls[:0]
		for _, path := range cfg.Identifiers {
			urls = append(urls, cfg.Endpoint+path)
		}
	}

	limit := cfg.MaxItems
	if limit <= 0 {
		limit = 25
	}

	var items []models.CollectedItem
	for _, u := range urls {
		feed, err := s.parser.ParseURLWithContext(u, ctx)
		if err != nil {
			return nil, fmt.Errorf("parsing feed %s: %w", u, err)
		}

		for i, entry := range feed.Items {
			if i >= limit {
				break
			}
			id := entry.GUID
			if id == "" {
				id = entry.Link
			}
			items = append(items, models.CollectedItem{
				ItemID:    id,
				Source:    cfg.Name,
				Title:     entry.Title,
				URL:       entry.Link,
				Excerpt:   truncate(stripHTML(entry.Description), 500),
				FetchedAt: time.Now().UTC(),
			})
		}
	}
	return items, nil
}

// Close implements Source.
func (s *FeedSource) Close() error { return nil }
