package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/metrics"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/pipeerr"
)

// Worker is a single queue worker that polls for and processes messages.
// A received batch is handled as parallel tasks sharing the replica's
// clients; each task gets its own deadline derived from the stage's
// visibility timeout.
type Worker struct {
	id         string
	stage      string
	queue      Queue
	cfg        *config.WorkerConfig
	dispatcher *Dispatcher
	stats      *models.StatsAggregator
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	// Health tracking
	mu                sync.RWMutex
	status            WorkerStatus
	currentMessageID  string
	messagesProcessed int
	lastActivity      time.Time
}

// NewWorker creates a new queue worker.
func NewWorker(id, stage string, q Queue, cfg *config.WorkerConfig, dispatcher *Dispatcher, stats *models.StatsAggregator) *Worker {
	return &Worker{
		id:           id,
		stage:        stage,
		queue:        q,
		cfg:          cfg,
		dispatcher:   dispatcher,
		stats:        stats,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for in-flight messages.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            w.status,
		CurrentMessageID:  w.currentMessageID,
		MessagesProcessed: w.messagesProcessed,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "stage", w.stage, "queue", w.queue.Name())
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoMessages) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing batch", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess receives one batch and settles every message in it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	msgs, err := w.queue.Receive(ctx, w.cfg.BatchSize, w.cfg.VisibilityTimeout)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return ErrNoMessages
	}

	w.setStatus(WorkerStatusWorking, msgs[0].ID)
	defer w.setStatus(WorkerStatusIdle, "")

	var batch sync.WaitGroup
	for _, msg := range msgs {
		batch.Add(1)
		go func(m Message) {
			defer batch.Done()
			w.processOne(ctx, m)
		}(msg)
	}
	batch.Wait()

	w.mu.Lock()
	w.messagesProcessed += len(msgs)
	w.mu.Unlock()
	return nil
}

// processOne runs a single message to settlement: dispatch under the
// stage deadline, then delete or leave it according to the error kind.
func (w *Worker) processOne(ctx context.Context, msg Message) {
	log := slog.With("worker_id", w.id, "stage", w.stage, "message_id", msg.ID, "dequeue_count", msg.DequeueCount)

	msgCtx, cancel := context.WithTimeout(ctx, w.cfg.Deadline())
	defer cancel()

	stats, err := w.dispatcher.Dispatch(msgCtx, msg)
	w.stats.Add(stats)

	if err == nil {
		if derr := w.queue.Delete(ctx, msg); derr != nil {
			// The message will redeliver; downstream idempotency absorbs it.
			log.Warn("Failed to delete settled message", "error", derr)
		}
		metrics.MessagesProcessed.WithLabelValues(w.stage, outcome(stats)).Inc()
		return
	}

	if errors.Is(err, ErrUnknownOperation) {
		log.Warn("Deleting message with unknown operation", "error", err)
		if derr := w.queue.Delete(ctx, msg); derr != nil {
			log.Warn("Failed to delete unknown-operation message", "error", derr)
		}
		metrics.MessagesProcessed.WithLabelValues(w.stage, "failed").Inc()
		return
	}

	kind := pipeerr.KindOf(err)
	if pipeerr.DeleteMessage(err) {
		log.Error("Message failed permanently", "kind", string(kind), "error", err)
		if derr := w.queue.Delete(ctx, msg); derr != nil {
			log.Warn("Failed to delete poison message", "error", derr)
		}
	} else {
		// Leave the message; the visibility timeout redelivers it.
		log.Warn("Message failed, leaving for redelivery", "kind", string(kind), "error", err)
	}
	metrics.MessagesProcessed.WithLabelValues(w.stage, "failed").Inc()
}

func outcome(s models.StageStats) string {
	if s.Skipped > 0 && s.Processed == 0 {
		return "skipped"
	}
	return "success"
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, messageID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentMessageID = messageID
	w.lastActivity = time.Now()
}
