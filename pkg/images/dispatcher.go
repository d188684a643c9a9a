package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/metrics"
	"github.com/curatorhq/curator/pkg/ratelimit"
)

// ErrRateLimited marks a 429 from a source; the dispatcher fails over to
// the next source regardless of the round-robin schedule.
var ErrRateLimited = errors.New("image source rate limited")

type boundSource struct {
	source  Source
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher round-robins image lookups across configured sources,
// failing over on rate limits, transport errors, and open breakers.
type Dispatcher struct {
	sources        []*boundSource
	next           atomic.Uint64
	acquireTimeout time.Duration
}

// NewDispatcher wires sources according to the configured strategy.
// A source with an API key env var is a Pexels source; any other source
// is an Openverse source. Source names are not checked.
func NewDispatcher(cfg *config.ImagesConfig) *Dispatcher {
	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = 10 * time.Second
	}
	d := &Dispatcher{acquireTimeout: acquireTimeout}

	for i, sc := range cfg.Sources {
		if !strategyIncludes(cfg.Strategy, i) {
			continue
		}
		var src Source
		if sc.APIKeyEnv != "" {
			src = NewPexelsSource(sc)
		} else {
			src = NewOpenverseSource(sc)
		}
		d.add(src, sc)
	}
	return d
}

// strategyIncludes maps the strategy onto source positions: source A is
// the first configured entry, source B the second.
func strategyIncludes(strategy config.ImageStrategy, index int) bool {
	switch strategy {
	case config.StrategySourceAOnly:
		return index == 0
	case config.StrategySourceBOnly:
		return index == 1
	default:
		return true
	}
}

func (d *Dispatcher) add(src Source, sc *config.ImageSourceConfig) {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    sc.Name,
		Timeout: 5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Image source breaker state change",
				"source", name, "from", from.String(), "to", to.String())
		},
	})
	d.sources = append(d.sources, &boundSource{
		source:  src,
		limiter: ratelimit.PerHour(sc.Name, sc.RatePerHour),
		breaker: breaker,
	})
}

// Select finds an image for the query. It tries each source once in
// round-robin order and returns nil (no error) when all are exhausted:
// rendering degrades to no hero image rather than failing the message.
func (d *Dispatcher) Select(ctx context.Context, query string) *Image {
	if len(d.sources) == 0 {
		return nil
	}

	start := d.next.Add(1)
	for i := 0; i < len(d.sources); i++ {
		bound := d.sources[(start+uint64(i))%uint64(len(d.sources))]
		name := bound.source.Name()

		img, err := d.tryOne(ctx, bound, query)
		switch {
		case err == nil && img != nil:
			metrics.ImageLookups.WithLabelValues(name, "hit").Inc()
			return img
		case errors.Is(err, ErrNoImage):
			metrics.ImageLookups.WithLabelValues(name, "miss").Inc()
		default:
			metrics.ImageLookups.WithLabelValues(name, "error").Inc()
			slog.Warn("Image source failed, trying next", "source", name, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) tryOne(ctx context.Context, bound *boundSource, query string) (*Image, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, d.acquireTimeout)
	defer cancel()
	if !bound.limiter.Acquire(acquireCtx, 1) {
		return nil, fmt.Errorf("%s: %w", bound.source.Name(), ErrRateLimited)
	}

	result, err := bound.breaker.Execute(func() (any, error) {
		return bound.source.Search(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Image), nil
}

// Stats exposes the per-source limiter snapshots.
func (d *Dispatcher) Stats() []ratelimit.Stats {
	out := make([]ratelimit.Stats, 0, len(d.sources))
	for _, b := range d.sources {
		out = append(out, b.limiter.Stats())
	}
	return out
}
