package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/pipeerr"
	"github.com/curatorhq/curator/pkg/queue"
	"github.com/curatorhq/curator/pkg/storage"
)

const stageName = "collector"

// Result summarizes one collection run.
type Result struct {
	CollectionID      string `json:"collection_id"`
	AcceptedCount     int    `json:"accepted_count"`
	RejectedCount     int    `json:"rejected_count"`
	QueueMessagesSent int    `json:"queue_messages_sent"`
}

// Collector owns one replica's collection pipeline. All fields are set at
// construction; runs share no mutable state beyond the clients.
type Collector struct {
	cfg      *config.Config
	store    storage.Store
	topics   queue.Queue
	registry *config.SourceRegistry

	// newSource is swappable for tests.
	newSource func(*config.SourceConfig) (Source, error)
}

// New creates a collector.
func New(cfg *config.Config, store storage.Store, topics queue.Queue) *Collector {
	return &Collector{
		cfg:       cfg,
		store:     store,
		topics:    topics,
		registry:  cfg.SourceRegistry,
		newSource: NewSource,
	}
}

// SetSourceFactory overrides adapter construction. Test seam.
func (c *Collector) SetSourceFactory(f func(*config.SourceConfig) (Source, error)) {
	c.newSource = f
}

// RunCollection executes one full cycle: fetch, filter, dedup, persist,
// fanout. Individual source failures are recorded and do not abort the
// run; a storage failure on the audit blob does, before any message is
// sent.
func (c *Collector) RunCollection(ctx context.Context, sourceNames []string, runID string) (*Result, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	log := slog.With("collection_id", runID)
	startedAt := time.Now().UTC()

	sources := c.resolveSources(sourceNames)
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	collection := models.Collection{
		CollectionID: runID,
		StartedAt:    startedAt,
		Stats:        models.CollectionStats{SourceErrors: make(map[string]string)},
	}

	window := loadWindow(ctx, c.store, c.cfg.Collector.DedupWindow, startedAt)

	for _, sc := range sources {
		collection.Sources = append(collection.Sources, sc.Name)
		items, err := c.fetchSource(ctx, sc)
		if err != nil {
			// Non-fatal: the other sources continue.
			log.Warn("Source unavailable", "source", sc.Name, "error", err)
			collection.Stats.SourceErrors[sc.Name] = err.Error()
			continue
		}
		collection.Stats.Fetched += len(items)

		tmpl := c.registry.Template(sc.QualityTemplate)
		for i := range items {
			item := &items[i]
			item.TopicID = models.TopicID(item.Source, item.ItemID)
			item.ContentHash = models.ContentHash(item.URL, item.Title)

			score, reason := scoreItem(item, tmpl)
			if reason != "" {
				collection.Stats.RejectedByQuality++
				log.Debug("Item rejected", "source", sc.Name, "reason", reason, "title", item.Title)
				continue
			}
			item.QualityScore = score
			item.PriorityScore = priorityScore(item)

			if window.seen(item) {
				collection.Stats.RejectedAsDupe++
				continue
			}

			collection.Items = append(collection.Items, *item)
		}
	}

	collection.Stats.Accepted = len(collection.Items)
	collection.CompletedAt = time.Now().UTC()

	// Persist the audit blob before any fanout so every queue message
	// references a durable row.
	blobName, err := c.persistCollection(ctx, &collection)
	if err != nil {
		return nil, pipeerr.New(pipeerr.KindStorageWrite, stageName, runID, runID,
			fmt.Errorf("persisting collection: %w", err))
	}

	sent := c.fanout(ctx, &collection, blobName)
	collection.Stats.QueueMessagesSent = sent

	log.Info("Collection complete",
		"fetched", collection.Stats.Fetched,
		"accepted", collection.Stats.Accepted,
		"rejected_quality", collection.Stats.RejectedByQuality,
		"rejected_dupe", collection.Stats.RejectedAsDupe,
		"queue_messages_sent", sent)

	return &Result{
		CollectionID:      runID,
		AcceptedCount:     collection.Stats.Accepted,
		RejectedCount:     collection.Stats.RejectedByQuality + collection.Stats.RejectedAsDupe,
		QueueMessagesSent: sent,
	}, nil
}

func (c *Collector) resolveSources(names []string) []*config.SourceConfig {
	if len(names) == 0 {
		return c.registry.GetAll()
	}
	var out []*config.SourceConfig
	for _, name := range names {
		sc, err := c.registry.Get(name)
		if err != nil {
			slog.Warn("Skipping unknown source in trigger", "source", name)
			continue
		}
		out = append(out, sc)
	}
	return out
}

func (c *Collector) fetchSource(ctx context.Context, sc *config.SourceConfig) ([]models.CollectedItem, error) {
	src, err := c.newSource(sc)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Warn("Failed to close source", "source", sc.Name, "error", cerr)
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.Collector.FetchTimeout)
	defer cancel()
	return src.Fetch(fetchCtx, sc)
}

func (c *Collector) persistCollection(ctx context.Context, col *models.Collection) (string, error) {
	body, err := json.Marshal(col)
	if err != nil {
		return "", err
	}
	blobName := models.CollectionBlobPath(col.CollectionID, col.StartedAt)
	err = c.store.Put(ctx, storage.ContainerCollected, blobName, body, storage.PutOptions{
		ContentType: "application/json",
		IfNoneMatch: "*",
	})
	if err != nil {
		return "", err
	}
	return blobName, nil
}

// fanout sends one topic message per accepted item. Sends are sequential
// and bounded: a message that keeps failing is logged and skipped, never
// retried forever. The collection blob remains the ground truth for
// operator-driven replay.
func (c *Collector) fanout(ctx context.Context, col *models.Collection, blobName string) int {
	sent := 0
	for _, item := range col.Items {
		env, err := models.NewEnvelope(stageName, models.OpProcessTopic, "", models.TopicPayload{
			TopicID:        item.TopicID,
			Title:          item.Title,
			Source:         item.Source,
			URL:            item.URL,
			Excerpt:        item.Excerpt,
			Score:          item.Score,
			Comments:       item.Comments,
			CollectedAt:    item.FetchedAt,
			PriorityScore:  item.PriorityScore,
			CollectionID:   col.CollectionID,
			CollectionBlob: blobName,
		})
		if err != nil {
			slog.Error("Failed to build topic message", "topic_id", item.TopicID, "error", err)
			continue
		}

		send := func() error { return queue.SendEnvelope(ctx, c.topics, env) }
		policy := backoff.WithContext(backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(), uint64(c.cfg.Collector.FanoutAttempts-1)), ctx)
		if err := backoff.Retry(send, policy); err != nil {
			slog.Error("Failed to send topic message",
				"topic_id", item.TopicID, "correlation_id", env.CorrelationID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// HandleCollectMessage processes one manual-trigger message from the
// collection-requests queue.
func (c *Collector) HandleCollectMessage(ctx context.Context, env *models.Envelope) (models.StageStats, error) {
	var payload models.CollectPayload
	if err := env.DecodePayload(&payload); err != nil {
		return models.StageStats{Failed: 1}, pipeerr.New(pipeerr.KindBadInput, stageName, "", env.CorrelationID, err)
	}

	if _, err := c.RunCollection(ctx, payload.Sources, ""); err != nil {
		return models.StageStats{Failed: 1}, err
	}
	return models.StageStats{Processed: 1}, nil
}

// HandleStartupTrigger runs one collection at replica start when
// AUTO_COLLECT_ON_STARTUP is set. Failures are logged, never fatal to
// the process.
func (c *Collector) HandleStartupTrigger(ctx context.Context) {
	if !c.cfg.Collector.AutoCollectOnStartup {
		return
	}
	slog.Info("Running startup collection")
	if _, err := c.RunCollection(ctx, nil, ""); err != nil {
		slog.Error("Startup collection failed", "error", err)
	}
}
