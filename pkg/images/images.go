// Package images selects illustrative stock photos for rendered articles.
// Each source holds its own token bucket and circuit breaker; the
// dispatcher round-robins across healthy sources and degrades to no image
// when every source is exhausted. An article never fails for lack of an
// image.
package images

import (
	"context"
	"errors"
)

// ErrNoImage indicates a source found nothing for the query.
var ErrNoImage = errors.New("no image found")

// Image is one selected stock photo.
type Image struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Credit       string `json:"credit,omitempty"`
	Source       string `json:"source"`
}

// Source is one stock-image API.
type Source interface {
	Name() string
	Search(ctx context.Context, query string) (*Image, error)
}
