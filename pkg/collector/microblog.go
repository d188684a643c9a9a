package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/models"
)

// MicroblogSource reads hashtag timelines from a fediverse-style API.
type MicroblogSource struct {
	client *http.Client
}

// NewMicroblogSource builds a microblog adapter.
func NewMicroblogSource(cfg *config.SourceConfig) *MicroblogSource {
	return &MicroblogSource{client: &http.Client{Timeout: 10 * time.Second}}
}

type microblogStatus struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"` // HTML
	URL             string    `json:"url"`
	FavouritesCount int       `json:"favourites_count"`
	ReblogsCount    int       `json:"reblogs_count"`
	RepliesCount    int       `json:"replies_count"`
	CreatedAt       time.Time `json:"created_at"`
	Card            *struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"card"`
}

// Fetch pulls the timeline for each configured hashtag.
func (s *MicroblogSource) Fetch(ctx context.Context, cfg *config.SourceConfig) ([]models.CollectedItem, error) {
	limit := cfg.MaxItems
	if limit <= 0 || limit > 40 {
		limit = 20
	}

	var items []models.CollectedItem
	for _, tag := range cfg.Identifiers {
		u := fmt.Sprintf("%s/api/v1/timelines/tag/%s?limit=%d", cfg.Endpoint, tag, limit)
		statuses, err := s.fetchTimeline(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("fetching tag %s: %w", tag, err)
		}

		for _, st := range statuses {
			title, itemURL := statusHeadline(st)
			if title == "" {
				continue
			}
			items = append(items, models.CollectedItem{
				ItemID:    st.ID,
				Source:    cfg.Name,
				Title:     title,
				URL:       itemURL,
				Excerpt:   truncate(stripHTML(st.Content), 500),
				Score:     st.FavouritesCount + st.ReblogsCount,
				Comments:  st.RepliesCount,
				FetchedAt: time.Now().UTC(),
			})
		}
	}
	return items, nil
}

// statusHeadline prefers the link-card title over post text: cards carry
// the article the post is talking about.
func statusHeadline(st microblogStatus) (title, url string) {
	if st.Card != nil && st.Card.Title != "" {
		link := st.Card.URL
		if link == "" {
			link = st.URL
		}
		return st.Card.Title, link
	}
	text := stripHTML(st.Content)
	if len(text) > 120 {
		text = strings.TrimSpace(text[:120])
	}
	return text, st.URL
}

func (s *MicroblogSource) fetchTimeline(ctx context.Context, u string) ([]microblogStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
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
	var statuses []microblogStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		return nil, fmt.Errorf("decoding timeline: %w", err)
	}
	return statuses, nil
}

// Close implements Source.
func (s *MicroblogSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripHTML(s string) string {
	s = strings.ReplaceAll(s, "</p>", "\n")
	s = strings.ReplaceAll(s, "<br>", "\n")
	s = tagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
