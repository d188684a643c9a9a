package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/pipeerr"
)

func testWorkerConfig() *config.WorkerConfig {
	return &config.WorkerConfig{
		WorkerCount:             1,
		BatchSize:               5,
		VisibilityTimeout:       time.Minute,
		ProcessingSlack:         10 * time.Second,
		PollInterval:            10 * time.Millisecond,
		PollIntervalJitter:      5 * time.Millisecond,
		GracefulShutdownTimeout: time.Second,
	}
}

func sendEnvelope(t *testing.T, q Queue, op models.Operation, payload any) *models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope("test", op, "", payload)
	require.NoError(t, err)
	require.NoError(t, SendEnvelope(context.Background(), q, env))
	return env
}

func TestWorkerPollInterval(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.PollInterval = time.Second
	cfg.PollIntervalJitter = 500 * time.Millisecond
	w := NewWorker("test-worker", "processor", NewMemoryQueue("q"), cfg, NewDispatcher(), models.NewStatsAggregator())

	// Poll interval should be within [base - jitter, base + jitter]
	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond, "poll interval below minimum")
		assert.LessOrEqual(t, d, 1500*time.Millisecond, "poll interval above maximum")
	}
}

func TestWorkerPollIntervalNoJitter(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.PollInterval = time.Second
	cfg.PollIntervalJitter = 0
	w := NewWorker("test-worker", "processor", NewMemoryQueue("q"), cfg, NewDispatcher(), models.NewStatsAggregator())

	for i := 0; i < 10; i++ {
		assert.Equal(t, time.Second, w.pollInterval())
	}
}

func TestWorkerHealth(t *testing.T) {
	w := NewWorker("worker-1", "processor", NewMemoryQueue("q"), testWorkerConfig(), NewDispatcher(), models.NewStatsAggregator())

	h := w.Health()
	assert.Equal(t, "worker-1", h.ID)
	assert.Equal(t, WorkerStatusIdle, h.Status)

	w.setStatus(WorkerStatusWorking, "msg-1")
	h = w.Health()
	assert.Equal(t, WorkerStatusWorking, h.Status)
	assert.Equal(t, "msg-1", h.CurrentMessageID)
}

func TestWorkerSettlesSuccess(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("q")
	d := NewDispatcher()

	var handled atomic.Int64
	d.Register(models.OpProcessTopic, func(ctx context.Context, env *models.Envelope) (models.StageStats, error) {
		handled.Add(1)
		return models.StageStats{Processed: 1}, nil
	})

	sendEnvelope(t, q, models.OpProcessTopic, models.TopicPayload{TopicID: "t", Title: "x", Source: "s"})

	w := NewWorker("w", "processor", q, testWorkerConfig(), d, models.NewStatsAggregator())
	require.NoError(t, w.pollAndProcess(ctx))

	assert.Equal(t, int64(1), handled.Load())
	depth, _ := q.Depth(ctx)
	assert.Equal(t, 0, depth, "settled message deleted")
	assert.Empty(t, q.messages, "message removed entirely, not just invisible")
}

func TestWorkerLeavesTransientFailures(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("q")
	d := NewDispatcher()
	d.Register(models.OpProcessTopic, func(ctx context.Context, env *models.Envelope) (models.StageStats, error) {
		return models.StageStats{Failed: 1}, pipeerr.New(pipeerr.KindTransientDependency, "processor", "t", env.CorrelationID, errors.New("503"))
	})

	sendEnvelope(t, q, models.OpProcessTopic, models.TopicPayload{TopicID: "t", Title: "x", Source: "s"})

	w := NewWorker("w", "processor", q, testWorkerConfig(), d, models.NewStatsAggregator())
	require.NoError(t, w.pollAndProcess(ctx))

	assert.Len(t, q.messages, 1, "transient failure leaves the message for redelivery")
}

func TestWorkerDeletesPermanentFailures(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("q")
	d := NewDispatcher()
	d.Register(models.OpProcessTopic, func(ctx context.Context, env *models.Envelope) (models.StageStats, error) {
		return models.StageStats{Failed: 1}, pipeerr.New(pipeerr.KindBadInput, "processor", "t", env.CorrelationID, errors.New("malformed"))
	})

	sendEnvelope(t, q, models.OpProcessTopic, models.TopicPayload{TopicID: "t", Title: "x", Source: "s"})

	w := NewWorker("w", "processor", q, testWorkerConfig(), d, models.NewStatsAggregator())
	require.NoError(t, w.pollAndProcess(ctx))

	assert.Empty(t, q.messages, "bad input is deleted, never retried")
}

func TestWorkerDeletesUnknownOperation(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("q")

	sendEnvelope(t, q, models.Operation("future_op"), map[string]string{"x": "y"})

	w := NewWorker("w", "processor", q, testWorkerConfig(), NewDispatcher(), models.NewStatsAggregator())
	require.NoError(t, w.pollAndProcess(ctx))

	assert.Empty(t, q.messages, "unknown operations are deleted and logged")
}

func TestWorkerStartStop(t *testing.T) {
	q := NewMemoryQueue("q")
	w := NewWorker("w", "processor", q, testWorkerConfig(), NewDispatcher(), models.NewStatsAggregator())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	w.Stop()
	w.Stop() // idempotent
}

func TestPoolHealthAndStats(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("q")
	d := NewDispatcher()
	d.Register(models.OpProcessTopic, func(ctx context.Context, env *models.Envelope) (models.StageStats, error) {
		return models.StageStats{Processed: 1, CostUSD: 0.25}, nil
	})

	p := NewWorkerPool("processor", "replica-1", q, testWorkerConfig(), d)
	p.Start(ctx)
	p.Start(ctx) // duplicate Start is a no-op
	defer p.Stop()

	sendEnvelope(t, q, models.OpProcessTopic, models.TopicPayload{TopicID: "t", Title: "x", Source: "s"})

	require.Eventually(t, func() bool {
		return p.Stats().Processed == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.InDelta(t, 0.25, p.Stats().CostUSD, 1e-9)

	h := p.Health(ctx)
	assert.True(t, h.IsHealthy)
	assert.Equal(t, "processor", h.Stage)
	assert.Equal(t, 1, h.TotalWorkers)
}
