// Package cleanup provides data retention for pipeline blobs.
package cleanup

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/storage"
)

// Config controls retention windows and cadence.
type Config struct {
	// CollectionRetention bounds how long collection audit blobs are
	// kept. Must exceed the collector's dedup window or dedup degrades.
	CollectionRetention time.Duration

	// FailureRetention bounds failure-record blobs.
	FailureRetention time.Duration

	// Interval between passes.
	Interval time.Duration
}

// DefaultConfig returns the built-in retention defaults.
func DefaultConfig() Config {
	return Config{
		CollectionRetention: 14 * 24 * time.Hour,
		FailureRetention:    7 * 24 * time.Hour,
		Interval:            6 * time.Hour,
	}
}

// Service periodically enforces retention policies:
//   - Deletes expired lease blobs left by crashed processors
//   - Deletes collection audits past their retention window
//   - Deletes stale failure records
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config Config
	store  storage.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg Config, store storage.Store) *Service {
	return &Service{config: cfg, store: store}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"collection_retention", s.config.CollectionRetention,
		"failure_retention", s.config.FailureRetention,
		"interval", s.config.Interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll executes one retention pass.
func (s *Service) RunAll(ctx context.Context) {
	s.cleanupExpiredLeases(ctx)
	s.cleanupOldCollections(ctx)
	s.cleanupOldFailures(ctx)
}

func (s *Service) cleanupExpiredLeases(ctx context.Context) {
	names, err := s.store.List(ctx, storage.ContainerProcessed, "leases/")
	if err != nil {
		slog.Error("Retention: listing leases failed", "error", err)
		return
	}

	now := time.Now().UTC()
	count := 0
	for _, name := range names {
		data, err := s.store.Get(ctx, storage.ContainerProcessed, name)
		if err != nil {
			continue
		}
		var l models.Lease
		if err := json.Unmarshal(data, &l); err != nil || !l.Expired(now) {
			continue
		}
		if err := s.store.Delete(ctx, storage.ContainerProcessed, name); err != nil {
			slog.Warn("Retention: deleting expired lease failed", "lease", name, "error", err)
			continue
		}
		count++
	}
	if count > 0 {
		slog.Info("Retention: removed expired leases", "count", count)
	}
}

func (s *Service) cleanupOldCollections(ctx context.Context) {
	count := s.deleteOlderThan(ctx, storage.ContainerCollected, "collections/", s.config.CollectionRetention,
		func(data []byte) (time.Time, bool) {
			var col models.Collection
			if err := json.Unmarshal(data, &col); err != nil {
				return time.Time{}, false
			}
			return col.StartedAt, true
		})
	if count > 0 {
		slog.Info("Retention: removed old collections", "count", count)
	}
}

func (s *Service) cleanupOldFailures(ctx context.Context) {
	count := s.deleteOlderThan(ctx, storage.ContainerProcessed, "failures/", s.config.FailureRetention,
		func(data []byte) (time.Time, bool) {
			var rec models.FailureRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return time.Time{}, false
			}
			return rec.FailedAt, true
		})
	if count > 0 {
		slog.Info("Retention: removed old failure records", "count", count)
	}
}

func (s *Service) deleteOlderThan(ctx context.Context, container, prefix string, retention time.Duration, stamp func([]byte) (time.Time, bool)) int {
	names, err := s.store.List(ctx, container, prefix)
	if err != nil {
		slog.Error("Retention: listing failed", "container", container, "prefix", prefix, "error", err)
		return 0
	}

	cutoff := time.Now().UTC().Add(-retention)
	count := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return count
		}
		data, err := s.store.Get(ctx, container, name)
		if err != nil {
			continue
		}
		at, ok := stamp(data)
		if !ok || at.After(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, container, name); err != nil {
			slog.Warn("Retention: delete failed", "blob", name, "error", err)
			continue
		}
		count++
	}
	return count
}
