// Package reconciler closes the atomicity gap between "wrote artifact"
// and "sent downstream message": processed articles missing their
// markdown are re-emitted to the render queue, and markdown missing from
// the published site can force a publish. Runs outside the hot path on a
// periodic schedule.
package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/queue"
	"github.com/curatorhq/curator/pkg/storage"
)

const stageName = "reconciler"

// Result summarizes one reconciliation pass.
type Result struct {
	ArticlesScanned int `json:"articles_scanned"`
	RenderReEmitted int `json:"render_re_emitted"`
	PublishForced   bool `json:"publish_forced"`
}

// Reconciler scans the pipeline's durable artifacts for gaps.
type Reconciler struct {
	store   storage.Store
	render  queue.Queue
	publish queue.Queue
}

// New creates a reconciler.
func New(store storage.Store, render, publish queue.Queue) *Reconciler {
	return &Reconciler{store: store, render: render, publish: publish}
}

// Run executes one full pass.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	res := &Result{}

	if err := r.reconcileMarkdown(ctx, res); err != nil {
		return res, err
	}
	if err := r.reconcilePublish(ctx, res); err != nil {
		return res, err
	}

	slog.Info("Reconciliation pass complete",
		"articles_scanned", res.ArticlesScanned,
		"render_re_emitted", res.RenderReEmitted,
		"publish_forced", res.PublishForced)
	return res, nil
}

// reconcileMarkdown re-emits render messages for articles without a
// matching markdown blob.
func (r *Reconciler) reconcileMarkdown(ctx context.Context, res *Result) error {
	markdownSlugs, err := r.markdownSlugSet(ctx)
	if err != nil {
		return err
	}

	articles, err := r.store.List(ctx, storage.ContainerProcessed, "articles/")
	if err != nil {
		return err
	}

	for _, name := range articles {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.ArticlesScanned++

		slug := models.SlugFromArticlePath(name)
		if slug == "" {
			continue
		}
		if _, ok := markdownSlugs[slug]; ok {
			continue
		}

		correlationID := r.articleCorrelation(ctx, name)
		env, err := models.NewEnvelope(stageName, models.OpRenderMarkdown, correlationID, models.RenderPayload{
			ProcessedBlobPath: name,
		})
		if err != nil {
			continue
		}
		if err := queue.SendEnvelope(ctx, r.render, env); err != nil {
			slog.Warn("Failed to re-emit render message", "article", name, "error", err)
			continue
		}
		slog.Info("Re-emitted render message for orphaned article", "article", name)
		res.RenderReEmitted++
	}
	return nil
}

// reconcilePublish forces a site build when markdown exists that the web
// container has never seen.
func (r *Reconciler) reconcilePublish(ctx context.Context, res *Result) error {
	markdown, err := r.store.List(ctx, storage.ContainerMarkdown, "")
	if err != nil {
		return err
	}
	if len(markdown) == 0 {
		return nil
	}

	webPages, err := r.webSlugSet(ctx)
	if err != nil {
		return err
	}

	missing := 0
	for _, name := range markdown {
		slug := models.SlugFromMarkdownPath(name)
		if slug == "" {
			continue
		}
		if _, ok := webPages[slug]; !ok {
			missing++
		}
	}
	if missing == 0 {
		return nil
	}

	env, err := models.NewEnvelope(stageName, models.OpPublishSite, uuid.NewString(), models.BuildPayload{
		BatchID:       uuid.NewString(),
		MarkdownCount: missing,
		Trigger:       models.TriggerReconciler,
	})
	if err != nil {
		return err
	}
	if err := queue.SendEnvelope(ctx, r.publish, env); err != nil {
		return err
	}
	slog.Info("Forced publish for unpublished markdown", "missing_pages", missing)
	res.PublishForced = true
	return nil
}

func (r *Reconciler) markdownSlugSet(ctx context.Context) (map[string]struct{}, error) {
	names, err := r.store.List(ctx, storage.ContainerMarkdown, "")
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if slug := models.SlugFromMarkdownPath(name); slug != "" {
			set[slug] = struct{}{}
		}
	}
	return set, nil
}

// webSlugSet extracts page slugs from the published site layout
// (<slug>/index.html or <slug>.html).
func (r *Reconciler) webSlugSet(ctx context.Context) (map[string]struct{}, error) {
	names, err := r.store.List(ctx, storage.ContainerWeb, "")
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		trimmed := strings.TrimSuffix(name, "/index.html")
		trimmed = strings.TrimSuffix(trimmed, ".html")
		parts := strings.Split(trimmed, "/")
		set[parts[len(parts)-1]] = struct{}{}
	}
	return set, nil
}

// articleCorrelation recovers the original correlation id so re-emitted
// work stays traceable to its originating item.
func (r *Reconciler) articleCorrelation(ctx context.Context, blobName string) string {
	data, err := r.store.Get(ctx, storage.ContainerProcessed, blobName)
	if err != nil {
		return ""
	}
	var article models.ProcessedArticle
	if err := json.Unmarshal(data, &article); err != nil {
		return ""
	}
	return article.CorrelationID
}
