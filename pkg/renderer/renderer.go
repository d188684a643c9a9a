// Package renderer converts processed articles into markdown documents
// with front matter and an illustrative image, and coalesces upstream
// completions into a single site-build request per drain cycle.
package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/images"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/pipeerr"
	"github.com/curatorhq/curator/pkg/storage"
)

const stageName = "renderer"

// Renderer owns one replica's markdown stage.
type Renderer struct {
	cfg    *config.Config
	store  storage.Store
	images *images.Dispatcher

	// generated counts markdown files actually written since the last
	// build signal. Idempotent re-runs do not increment it, so duplicate
	// deliveries cannot cause spurious rebuilds.
	generated atomic.Int64
}

// New creates a renderer replica.
func New(cfg *config.Config, store storage.Store, dispatcher *images.Dispatcher) *Renderer {
	return &Renderer{cfg: cfg, store: store, images: dispatcher}
}

// Generated reports markdown files written since the last build signal.
func (r *Renderer) Generated() int64 {
	return r.generated.Load()
}

// HandleRenderMessage is the queue handler for render_markdown.
func (r *Renderer) HandleRenderMessage(ctx context.Context, env *models.Envelope) (models.StageStats, error) {
	var payload models.RenderPayload
	if err := env.DecodePayload(&payload); err != nil {
		return models.StageStats{Failed: 1}, pipeerr.New(pipeerr.KindBadInput, stageName, "", env.CorrelationID, err)
	}
	if err := payload.Validate(); err != nil {
		return models.StageStats{Failed: 1}, pipeerr.New(pipeerr.KindBadInput, stageName, "", env.CorrelationID, err)
	}

	log := slog.With("blob", payload.ProcessedBlobPath, "correlation_id", env.CorrelationID)

	article, err := r.loadArticle(ctx, payload.ProcessedBlobPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The article vanished; retrying cannot fix the message.
			return models.StageStats{Failed: 1}, pipeerr.New(pipeerr.KindBadInput, stageName, "", env.CorrelationID, err)
		}
		return models.StageStats{Failed: 1}, pipeerr.New(pipeerr.KindTransientDependency, stageName, "", env.CorrelationID, err)
	}

	// Image selection degrades to no image; it never fails the message.
	img := r.images.Select(ctx, imageQuery(article))

	doc, err := renderMarkdown(article, img)
	if err != nil {
		return models.StageStats{Failed: 1}, pipeerr.New(pipeerr.KindBadInput, stageName, article.TopicID, env.CorrelationID, err)
	}

	blobName := models.MarkdownBlobPath(article.Category, article.Slug, article.GeneratedAt)
	err = r.store.Put(ctx, storage.ContainerMarkdown, blobName, doc, storage.PutOptions{
		ContentType: "text/markdown",
		IfNoneMatch: "*",
	})
	if err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			log.Info("Markdown already rendered, skipping")
			return models.StageStats{Skipped: 1}, nil
		}
		return models.StageStats{Failed: 1}, pipeerr.New(pipeerr.KindStorageWrite, stageName, article.TopicID, env.CorrelationID, err)
	}

	r.generated.Add(1)
	log.Info("Markdown rendered", "markdown", blobName, "has_image", img != nil)
	return models.StageStats{Processed: 1}, nil
}

func (r *Renderer) loadArticle(ctx context.Context, blobPath string) (*models.ProcessedArticle, error) {
	data, err := r.store.Get(ctx, storage.ContainerProcessed, blobPath)
	if err != nil {
		return nil, err
	}
	var article models.ProcessedArticle
	if err := json.Unmarshal(data, &article); err != nil {
		return nil, fmt.Errorf("decoding article %s: %w", blobPath, err)
	}
	return &article, nil
}

// consumeGenerated atomically reads and resets the counter for a build
// signal.
func (r *Renderer) consumeGenerated() int64 {
	return r.generated.Swap(0)
}
