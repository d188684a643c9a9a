package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/queue"
	"github.com/curatorhq/curator/pkg/storage"
)

func seedArticle(t *testing.T, store storage.Store, slug, correlationID string) string {
	t.Helper()
	article := models.ProcessedArticle{
		TopicID:       models.TopicID("forum", slug),
		Slug:          slug,
		Title:         slug,
		GeneratedAt:   time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		CorrelationID: correlationID,
	}
	data, err := json.Marshal(article)
	require.NoError(t, err)
	path := models.ArticleBlobPath(slug, article.GeneratedAt)
	require.NoError(t, store.Put(context.Background(), storage.ContainerProcessed, path, data, storage.PutOptions{}))
	return path
}

func seedMarkdown(t *testing.T, store storage.Store, slug string) {
	t.Helper()
	path := models.MarkdownBlobPath("technology", slug, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.Put(context.Background(), storage.ContainerMarkdown, path, []byte("---\n---\n"), storage.PutOptions{}))
}

func TestReconcileReEmitsMissingMarkdown(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	render := queue.NewMemoryQueue(config.QueueMarkdown)
	publish := queue.NewMemoryQueue(config.QueuePublishing)

	rendered := seedArticle(t, store, "rendered-article", "corr-a")
	_ = rendered
	seedMarkdown(t, store, "rendered-article")
	orphaned := seedArticle(t, store, "orphaned-article", "corr-b")

	r := New(store, render, publish)
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ArticlesScanned)
	assert.Equal(t, 1, res.RenderReEmitted)

	msgs, err := render.Receive(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var env models.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Body, &env))
	assert.Equal(t, "corr-b", env.CorrelationID, "re-emitted work keeps its original correlation id")

	var payload models.RenderPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, orphaned, payload.ProcessedBlobPath)
}

func TestReconcileForcesPublishForUnpublishedMarkdown(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	render := queue.NewMemoryQueue(config.QueueMarkdown)
	publish := queue.NewMemoryQueue(config.QueuePublishing)

	seedArticle(t, store, "page-one", "c1")
	seedMarkdown(t, store, "page-one")
	// The published site knows nothing about page-one.
	require.NoError(t, store.Put(ctx, storage.ContainerWeb, "index.html", []byte("<html>"), storage.PutOptions{}))

	r := New(store, render, publish)
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.PublishForced)

	msgs, err := publish.Receive(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var env models.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Body, &env))
	var payload models.BuildPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, models.TriggerReconciler, payload.Trigger)
}

func TestReconcileQuietWhenConsistent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	render := queue.NewMemoryQueue(config.QueueMarkdown)
	publish := queue.NewMemoryQueue(config.QueuePublishing)

	seedArticle(t, store, "page-one", "c1")
	seedMarkdown(t, store, "page-one")
	require.NoError(t, store.Put(ctx, storage.ContainerWeb, "page-one/index.html", []byte("<html>"), storage.PutOptions{}))

	r := New(store, render, publish)
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RenderReEmitted)
	assert.False(t, res.PublishForced)

	rd, _ := render.Depth(ctx)
	pd, _ := publish.Depth(ctx)
	assert.Equal(t, 0, rd)
	assert.Equal(t, 0, pd)
}
