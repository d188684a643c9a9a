package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/storage"
)

// dedupWindow is the set of content hashes and topic ids seen in recent
// collections, loaded from the audit container at the start of a run.
type dedupWindow struct {
	contentHashes map[string]struct{}
	topicIDs      map[string]struct{}
}

// loadWindow reads collection blobs whose date prefix falls inside the
// rolling window. Prefix listing by day keeps the scan bounded regardless
// of history depth. Unreadable blobs are skipped: dedup is best-effort
// and the lease/done-marker pair still guarantees at-most-once.
func loadWindow(ctx context.Context, store storage.Store, window time.Duration, now time.Time) *dedupWindow {
	w := &dedupWindow{
		contentHashes: make(map[string]struct{}),
		topicIDs:      make(map[string]struct{}),
	}

	days := int(window.Hours()/24) + 1
	for d := 0; d <= days; d++ {
		day := now.UTC().AddDate(0, 0, -d)
		prefix := dayPrefix(day)

		names, err := store.List(ctx, storage.ContainerCollected, prefix)
		if err != nil {
			slog.Warn("Failed to list collection history", "prefix", prefix, "error", err)
			continue
		}
		for _, name := range names {
			w.absorb(ctx, store, name, now, window)
		}
	}
	return w
}

func dayPrefix(day time.Time) string {
	return models.CollectionBlobPath("", day)[:len("collections/2006/01/02/")]
}

func (w *dedupWindow) absorb(ctx context.Context, store storage.Store, blobName string, now time.Time, window time.Duration) {
	data, err := store.Get(ctx, storage.ContainerCollected, blobName)
	if err != nil {
		slog.Warn("Failed to read collection blob", "blob", blobName, "error", err)
		return
	}
	var col models.Collection
	if err := json.Unmarshal(data, &col); err != nil {
		slog.Warn("Skipping undecodable collection blob", "blob", blobName, "error", err)
		return
	}
	if now.Sub(col.StartedAt) > window {
		return
	}
	for _, item := range col.Items {
		w.contentHashes[item.ContentHash] = struct{}{}
		w.topicIDs[item.TopicID] = struct{}{}
	}
}

// seen reports whether the item duplicates recent history, and records it
// so the same item appearing twice within one run also dedups.
func (w *dedupWindow) seen(item *models.CollectedItem) bool {
	if _, ok := w.contentHashes[item.ContentHash]; ok {
		return true
	}
	if _, ok := w.topicIDs[item.TopicID]; ok {
		return true
	}
	w.contentHashes[item.ContentHash] = struct{}{}
	w.topicIDs[item.TopicID] = struct{}{}
	return false
}
