package collector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/queue"
	"github.com/curatorhq/curator/pkg/storage"
)

// scriptedSource yields fixed items or an error.
type scriptedSource struct {
	items []models.CollectedItem
	err   error
}

func (s *scriptedSource) Fetch(context.Context, *config.SourceConfig) ([]models.CollectedItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func (s *scriptedSource) Close() error { return nil }

func goodItem(id, title string) models.CollectedItem {
	return models.CollectedItem{
		ItemID:    id,
		Title:     title,
		URL:       "https://example.com/" + id,
		Score:     200,
		Comments:  40,
		FetchedAt: time.Now().UTC(),
	}
}

func testCollectorConfig(t *testing.T, sources ...*config.SourceConfig) *config.Config {
	t.Helper()
	t.Setenv(config.EnvStorageConnection, "UseDevelopmentStorage=true")

	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	cfg.SourceRegistry = config.NewSourceRegistry(sources, nil)
	cfg.Collector.FanoutAttempts = 1
	return cfg
}

func newTestCollector(t *testing.T, adapters map[string]Source, sources ...*config.SourceConfig) (*Collector, *storage.MemoryStore, *queue.MemoryQueue) {
	t.Helper()
	store := storage.NewMemoryStore()
	topics := queue.NewMemoryQueue(config.QueueProcessing)

	c := New(testCollectorConfig(t, sources...), store, topics)
	c.newSource = func(sc *config.SourceConfig) (Source, error) {
		src, ok := adapters[sc.Name]
		if !ok {
			return nil, errors.New("no adapter scripted")
		}
		return src, nil
	}
	return c, store, topics
}

func forumConfig(name string) *config.SourceConfig {
	return &config.SourceConfig{Name: name, Type: config.SourceTypeForum, Endpoint: "https://forum.example.com"}
}

func TestRunCollectionHappyPath(t *testing.T) {
	ctx := context.Background()

	c, store, topics := newTestCollector(t,
		map[string]Source{
			"alpha": &scriptedSource{items: []models.CollectedItem{goodItem("a1", "First article title here"), withSource(goodItem("a2", "Second article title here"), "")}},
			"beta":  &scriptedSource{items: []models.CollectedItem{goodItem("b1", "Third article title here")}},
		},
		forumConfig("alpha"), forumConfig("beta"),
	)

	res, err := c.RunCollection(ctx, nil, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.CollectionID)
	assert.Equal(t, 3, res.AcceptedCount)
	assert.Equal(t, 3, res.QueueMessagesSent)

	// One audit blob, written before fanout.
	blobs, err := store.List(ctx, storage.ContainerCollected, "collections/")
	require.NoError(t, err)
	require.Len(t, blobs, 1)

	var col models.Collection
	data, err := store.Get(ctx, storage.ContainerCollected, blobs[0])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &col))
	assert.Len(t, col.Items, 3)
	for _, item := range col.Items {
		assert.NotEmpty(t, item.TopicID)
		assert.NotEmpty(t, item.ContentHash)
	}

	// One queue message per accepted item, referencing the audit blob.
	msgs, err := topics.Receive(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	var env models.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Body, &env))
	assert.Equal(t, models.OpProcessTopic, env.Operation)

	var payload models.TopicPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, "run-1", payload.CollectionID)
	assert.Equal(t, blobs[0], payload.CollectionBlob)
	assert.NotEmpty(t, payload.TopicID)
}

// withSource overrides the item source; empty keeps the default.
func withSource(item models.CollectedItem, source string) models.CollectedItem {
	if source != "" {
		item.Source = source
	}
	return item
}

func TestRunCollectionSourceFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()

	c, store, topics := newTestCollector(t,
		map[string]Source{
			"down": &scriptedSource{err: errors.New("connection refused")},
			"up":   &scriptedSource{items: []models.CollectedItem{goodItem("u1", "Surviving article title")}},
		},
		forumConfig("down"), forumConfig("up"),
	)

	res, err := c.RunCollection(ctx, nil, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, res.AcceptedCount)
	assert.Equal(t, 1, res.QueueMessagesSent)

	blobs, _ := store.List(ctx, storage.ContainerCollected, "collections/")
	var col models.Collection
	data, _ := store.Get(ctx, storage.ContainerCollected, blobs[0])
	require.NoError(t, json.Unmarshal(data, &col))
	assert.Contains(t, col.Stats.SourceErrors, "down")

	depth, _ := topics.Depth(ctx)
	assert.Equal(t, 1, depth)
}

func TestRunCollectionDedupAcrossRuns(t *testing.T) {
	ctx := context.Background()

	items := []models.CollectedItem{goodItem("x1", "Recurring article title"), goodItem("x2", "Another recurring title")}
	c, _, topics := newTestCollector(t,
		map[string]Source{"alpha": &scriptedSource{items: items}},
		forumConfig("alpha"),
	)

	res, err := c.RunCollection(ctx, nil, "first")
	require.NoError(t, err)
	assert.Equal(t, 2, res.AcceptedCount)

	// Same items fetched again within the window: all dropped.
	res, err = c.RunCollection(ctx, nil, "second")
	require.NoError(t, err)
	assert.Equal(t, 0, res.AcceptedCount)
	assert.Equal(t, 0, res.QueueMessagesSent)

	depth, _ := topics.Depth(ctx)
	assert.Equal(t, 2, depth, "only the first run fanned out")
}

func TestRunCollectionDedupWithinRun(t *testing.T) {
	ctx := context.Background()

	// The same story appears in two sources with identical URL+title.
	shared := goodItem("s1", "A story on two boards with one link")
	other := shared
	other.ItemID = "s2"

	c, _, topics := newTestCollector(t,
		map[string]Source{
			"alpha": &scriptedSource{items: []models.CollectedItem{shared}},
			"beta":  &scriptedSource{items: []models.CollectedItem{other}},
		},
		forumConfig("alpha"), forumConfig("beta"),
	)

	res, err := c.RunCollection(ctx, nil, "run")
	require.NoError(t, err)
	assert.Equal(t, 1, res.AcceptedCount, "content hash dedups within a run")

	depth, _ := topics.Depth(ctx)
	assert.Equal(t, 1, depth)
}

// failingStore wraps a memory store and fails all Puts.
type failingStore struct {
	*storage.MemoryStore
}

func (f *failingStore) Put(context.Context, string, string, []byte, storage.PutOptions) error {
	return errors.New("storage down")
}

func TestRunCollectionStorageFailureSendsNothing(t *testing.T) {
	ctx := context.Background()

	topics := queue.NewMemoryQueue(config.QueueProcessing)
	cfg := testCollectorConfig(t, forumConfig("alpha"))
	c := New(cfg, &failingStore{storage.NewMemoryStore()}, topics)
	c.newSource = func(*config.SourceConfig) (Source, error) {
		return &scriptedSource{items: []models.CollectedItem{goodItem("a1", "Doomed article title here")}}, nil
	}

	_, err := c.RunCollection(ctx, nil, "run")
	require.Error(t, err, "audit blob write failure is fatal for the run")

	depth, _ := topics.Depth(ctx)
	assert.Equal(t, 0, depth, "no fanout without a persisted audit blob")
}

func TestHandleCollectMessage(t *testing.T) {
	ctx := context.Background()

	c, _, _ := newTestCollector(t,
		map[string]Source{"alpha": &scriptedSource{items: []models.CollectedItem{goodItem("a1", "Triggered article title")}}},
		forumConfig("alpha"),
	)

	env, err := models.NewEnvelope("admin", models.OpCollect, "", models.CollectPayload{})
	require.NoError(t, err)

	stats, err := c.HandleCollectMessage(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Processed)
}
