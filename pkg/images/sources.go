package images

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/curatorhq/curator/pkg/config"
)

// PexelsSource queries the Pexels search API (keyed, low free tier).
type PexelsSource struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewPexelsSource builds a keyed source from config.
func NewPexelsSource(cfg *config.ImageSourceConfig) *PexelsSource {
	return &PexelsSource{
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		apiKey:   os.Getenv(cfg.APIKeyEnv),
		client:   &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Name returns the configured source name.
func (s *PexelsSource) Name() string { return s.name }

// Search returns the best match for query.
func (s *PexelsSource) Search(ctx context.Context, query string) (*Image, error) {
	u := fmt.Sprintf("%s/search?query=%s&per_page=1", s.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(s.name, resp.StatusCode)
	}

	var body struct {
		Photos []struct {
			Photographer string `json:"photographer"`
			Src          struct {
				Large string `json:"large"`
				Small string `json:"small"`
			} `json:"src"`
		} `json:"photos"`
	}
	if err := decodeJSON(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%s response: %w", s.name, err)
	}
	if len(body.Photos) == 0 {
		return nil, ErrNoImage
	}

	p := body.Photos[0]
	return &Image{
		URL:          p.Src.Large,
		ThumbnailURL: p.Src.Small,
		Credit:       p.Photographer,
		Source:       s.name,
	}, nil
}

// OpenverseSource queries the Openverse API (keyless, higher limit).
type OpenverseSource struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewOpenverseSource builds a keyless source from config.
func NewOpenverseSource(cfg *config.ImageSourceConfig) *OpenverseSource {
	return &OpenverseSource{
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Name returns the configured source name.
func (s *OpenverseSource) Name() string { return s.name }

// Search returns the best match for query.
func (s *OpenverseSource) Search(ctx context.Context, query string) (*Image, error) {
	u := fmt.Sprintf("%s/images/?q=%s&page_size=1", s.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(s.name, resp.StatusCode)
	}

	var body struct {
		Results []struct {
			URL       string `json:"url"`
			Thumbnail string `json:"thumbnail"`
			Creator   string `json:"creator"`
		} `json:"results"`
	}
	if err := decodeJSON(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%s response: %w", s.name, err)
	}
	if len(body.Results) == 0 {
		return nil, ErrNoImage
	}

	r := body.Results[0]
	return &Image{
		URL:          r.URL,
		ThumbnailURL: r.Thumbnail,
		Credit:       r.Creator,
		Source:       s.name,
	}, nil
}

// statusError wraps a non-200 status; 429 marks the source rate-limited
// so the dispatcher fails over immediately.
func statusError(source string, code int) error {
	if code == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", source, ErrRateLimited)
	}
	return fmt.Errorf("%s: unexpected status %d", source, code)
}

func decodeJSON(r io.Reader, dst any) error {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
