// Package dedup provides a best-effort guard against duplicate message
// deliveries: an in-memory LRU of processed ids with periodic snapshots
// to the object store. It supplements the done-marker check and the
// lease; it is never the sole idempotency mechanism.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/curatorhq/curator/pkg/storage"
)

const snapshotBlob = "dedup/processed_message_ids.json"

// Deduplicator remembers recently processed message ids.
type Deduplicator struct {
	mu     sync.Mutex
	seen   *lru.Cache[string, time.Time]
	window time.Duration

	store     storage.Store
	container string
}

type snapshot struct {
	SavedAt time.Time            `json:"saved_at"`
	Entries map[string]time.Time `json:"entries"`
}

// New builds a deduplicator bounded to size entries and the given
// retention window.
func New(store storage.Store, container string, size int, window time.Duration) (*Deduplicator, error) {
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("creating dedup cache: %w", err)
	}
	return &Deduplicator{
		seen:      cache,
		window:    window,
		store:     store,
		container: container,
	}, nil
}

// Seen records id and reports whether it was already present within the
// window. The first caller for an id gets false.
func (d *Deduplicator) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if at, ok := d.seen.Get(id); ok && now.Sub(at) < d.window {
		return true
	}
	d.seen.Add(id, now)
	return false
}

// Contains reports whether id was recorded within the window, without
// recording it. Callers that must not suppress retried failures check
// here and Mark only after success.
func (d *Deduplicator) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.seen.Get(id)
	return ok && time.Since(at) < d.window
}

// Mark records id as processed.
func (d *Deduplicator) Mark(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Add(id, time.Now())
}

// Snapshot persists current entries so a restarted replica keeps its
// recent memory. Best effort: failures are logged, not returned.
func (d *Deduplicator) Snapshot(ctx context.Context) {
	d.mu.Lock()
	snap := snapshot{SavedAt: time.Now().UTC(), Entries: make(map[string]time.Time)}
	cutoff := time.Now().Add(-d.window)
	for _, id := range d.seen.Keys() {
		if at, ok := d.seen.Get(id); ok && at.After(cutoff) {
			snap.Entries[id] = at
		}
	}
	d.mu.Unlock()

	body, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("Failed to marshal dedup snapshot", "error", err)
		return
	}
	if err := d.store.Put(ctx, d.container, snapshotBlob, body, storage.PutOptions{ContentType: "application/json"}); err != nil {
		slog.Warn("Failed to persist dedup snapshot", "error", err)
	}
}

// Restore loads the latest snapshot, ignoring entries older than the
// window. A missing snapshot is not an error.
func (d *Deduplicator) Restore(ctx context.Context) error {
	data, err := d.store.Get(ctx, d.container, snapshotBlob)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading dedup snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding dedup snapshot: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := time.Now().Add(-d.window)
	for id, at := range snap.Entries {
		if at.After(cutoff) {
			d.seen.Add(id, at)
		}
	}
	return nil
}

// RunSnapshots periodically persists the cache until ctx is cancelled.
func (d *Deduplicator) RunSnapshots(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Snapshot(ctx)
		}
	}
}
