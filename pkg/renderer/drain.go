package renderer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/queue"
)

// DrainMonitor watches the renderer's input queue and emits one coalesced
// build message per drain cycle: the queue must stay empty for the stable
// window and at least one new markdown file must have been written.
// Rebuilding per article would waste builds; the stable-empty window
// trades a small delay for a large reduction.
type DrainMonitor struct {
	renderer *Renderer
	input    queue.Queue
	publish  queue.Queue

	stableEmpty   time.Duration
	checkInterval time.Duration

	emptySince time.Time
}

// NewDrainMonitor wires the monitor over the renderer's queues.
func NewDrainMonitor(r *Renderer, input, publish queue.Queue, stableEmptySeconds int, checkInterval time.Duration) *DrainMonitor {
	return &DrainMonitor{
		renderer:      r,
		input:         input,
		publish:       publish,
		stableEmpty:   time.Duration(stableEmptySeconds) * time.Second,
		checkInterval: checkInterval,
	}
}

// Run samples queue depth until ctx is cancelled.
func (m *DrainMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, time.Now())
		}
	}
}

// tick advances the drain state machine one sample.
func (m *DrainMonitor) tick(ctx context.Context, now time.Time) {
	depth, err := m.input.Depth(ctx)
	if err != nil {
		slog.Warn("Drain monitor failed to read queue depth", "error", err)
		return
	}
	if depth > 0 {
		m.emptySince = time.Time{}
		return
	}

	if m.emptySince.IsZero() {
		m.emptySince = now
		return
	}
	if now.Sub(m.emptySince) < m.stableEmpty {
		return
	}

	generated := m.renderer.consumeGenerated()
	if generated == 0 {
		// Nothing new since the last signal; stay quiet.
		return
	}

	if err := m.signalPublish(ctx, generated); err != nil {
		slog.Error("Failed to send build message, restoring counter", "error", err)
		// Restore so the next tick retries the signal.
		m.renderer.generated.Add(generated)
		return
	}
	// One signal per drain cycle: require a fresh stable window before
	// the next.
	m.emptySince = now
}

func (m *DrainMonitor) signalPublish(ctx context.Context, generated int64) error {
	env, err := models.NewEnvelope(stageName, models.OpPublishSite, "", models.BuildPayload{
		BatchID:       uuid.NewString(),
		MarkdownCount: int(generated),
		Trigger:       models.TriggerQueueDrained,
	})
	if err != nil {
		return err
	}
	if err := queue.SendEnvelope(ctx, m.publish, env); err != nil {
		return err
	}
	slog.Info("Drain cycle complete, build requested",
		"markdown_count", generated, "correlation_id", env.CorrelationID)
	return nil
}
