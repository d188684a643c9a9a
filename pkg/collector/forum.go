package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/models"
)

// ForumSource reads link-aggregator boards exposing the common
// listing-JSON shape (children of posts with score and comment counts).
type ForumSource struct {
	client *http.Client
}

// NewForumSource builds a forum adapter.
func NewForumSource(cfg *config.SourceConfig) *ForumSource {
	return &ForumSource{client: &http.Client{Timeout: 10 * time.Second}}
}

type forumListing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID          string  `json:"id"`
				Title       string  `json:"title"`
				URL         string  `json:"url"`
				SelfText    string  `json:"selftext"`
				Score       int     `json:"score"`
				NumComments int     `json:"num_comments"`
				Permalink   string  `json:"permalink"`
				CreatedUTC  float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Fetch pulls the hot listing for each configured board.
func (s *ForumSource) Fetch(ctx context.Context, cfg *config.SourceConfig) ([]models.CollectedItem, error) {
	limit := cfg.MaxItems
	if limit <= 0 {
		limit = 25
	}

	var items []models.CollectedItem
	for _, board := range cfg.Identifiers {
		u := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", cfg.Endpoint, board, limit)
		listing, err := s.fetchListing(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("fetching board %s: %w", board, err)
		}

		for _, child := range listing.Data.Children {
			post := child.Data
			itemURL := post.URL
			if itemURL == "" {
				itemURL = cfg.Endpoint + post.Permalink
			}
			items = append(items, models.CollectedItem{
				ItemID:    post.ID,
				Source:    cfg.Name,
				Title:     post.Title,
				URL:       itemURL,
				Excerpt:   truncate(post.SelfText, 500),
				Score:     post.Score,
				Comments:  post.NumComments,
				FetchedAt: time.Now().UTC(),
			})
		}
	}
	return items, nil
}

func (s *ForumSource) fetchListing(ctx context.Context, u string) (*forumListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "curator-collector/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	var listing forumListing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("decoding listing: %w", err)
	}
	return &listing, nil
}

// Close implements Source.
func (s *ForumSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
