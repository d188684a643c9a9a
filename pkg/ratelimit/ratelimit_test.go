package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcquireWithinBurst(t *testing.T) {
	l := PerMinute("llm", 60)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Burst capacity covers a minute's quota immediately.
	for i := 0; i < 60; i++ {
		assert.True(t, l.Acquire(ctx, 1), "token %d within burst", i)
	}
}

func TestAcquireDeadlineMissReturnsFalse(t *testing.T) {
	l := PerHour("images", 50)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Drain the burst, then the next acquire cannot refill in time.
	for l.TryAcquire(1) {
	}
	assert.False(t, l.Acquire(ctx, 1), "deadline miss must return false, not block")

	stats := l.Stats()
	assert.Greater(t, stats.Rejections, int64(0))
}

func TestTryAcquire(t *testing.T) {
	l := PerHour("images", 10)

	// PerHour burst is n/10 (minimum 1).
	assert.True(t, l.TryAcquire(1))
	assert.False(t, l.TryAcquire(1))
}

func TestStats(t *testing.T) {
	l := PerMinute("llm", 120)
	s := l.Stats()
	assert.Equal(t, "llm", s.Name)
	assert.InDelta(t, 2.0, s.RefillRate, 0.01)
	assert.Equal(t, int64(0), s.Rejections)
}
