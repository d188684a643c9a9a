package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/metrics"
	"github.com/curatorhq/curator/pkg/models"
)

// WorkerPool manages the workers of one stage against one queue.
type WorkerPool struct {
	stage     string
	replicaID string
	queue     Queue
	cfg       *config.WorkerConfig
	workers   []*Worker

	dispatcher *Dispatcher
	stats      *models.StatsAggregator

	mu      sync.Mutex
	started bool
}

// NewWorkerPool creates a new worker pool for a stage.
func NewWorkerPool(stage, replicaID string, q Queue, cfg *config.WorkerConfig, dispatcher *Dispatcher) *WorkerPool {
	return &WorkerPool{
		stage:      stage,
		replicaID:  replicaID,
		queue:      q,
		cfg:        cfg,
		dispatcher: dispatcher,
		stats:      models.NewStatsAggregator(),
		workers:    make([]*Worker, 0, cfg.WorkerCount),
	}
}

// Start spawns the worker goroutines. Safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "stage", p.stage)
		return
	}
	p.started = true

	slog.Info("Starting worker pool",
		"stage", p.stage, "replica_id", p.replicaID, "worker_count", p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.replicaID, i)
		worker := NewWorker(workerID, p.stage, p.queue, p.cfg, p.dispatcher, p.stats)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
}

// Stop signals all workers to stop and waits for them to finish their
// in-flight messages (graceful shutdown). Messages that do not finish
// within the stage grace window stay undeleted and redeliver.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully", "stage", p.stage)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, worker := range p.workers {
			worker.Stop()
		}
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully", "stage", p.stage)
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		slog.Warn("Worker pool shutdown grace window elapsed, abandoning in-flight messages",
			"stage", p.stage)
	}
}

// Stats returns the aggregated stage stats.
func (p *WorkerPool) Stats() models.StageStats {
	return p.stats.Snapshot()
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	depth, err := p.queue.Depth(ctx)
	if err != nil {
		slog.Error("Failed to query queue depth for health check",
			"stage", p.stage, "error", err)
	} else {
		metrics.QueueDepth.WithLabelValues(p.queue.Name()).Set(float64(depth))
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	queueHealthy := err == nil
	var queueErr string
	if err != nil {
		queueErr = fmt.Sprintf("queue depth query failed: %v", err)
	}

	return &PoolHealth{
		IsHealthy:      len(p.workers) > 0 && queueHealthy,
		QueueReachable: queueHealthy,
		QueueError:     queueErr,
		Stage:          p.stage,
		ReplicaID:      p.replicaID,
		ActiveWorkers:  activeWorkers,
		TotalWorkers:   len(p.workers),
		QueueDepth:     depth,
		WorkerStats:    workerStats,
	}
}
