package images

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/ratelimit"
)

func TestPexelsSourceSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "go concurrency", r.URL.Query().Get("query"))
		w.Write([]byte(`{"photos":[{"photographer":"Ada","src":{"large":"https://img/large.jpg","small":"https://img/small.jpg"}}]}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_PEXELS_KEY", "test-key")
	s := NewPexelsSource(&config.ImageSourceConfig{
		Name: "pexels", Endpoint: srv.URL, APIKeyEnv: "TEST_PEXELS_KEY", RequestTimeout: time.Second,
	})

	img, err := s.Search(context.Background(), "go concurrency")
	require.NoError(t, err)
	assert.Equal(t, "https://img/large.jpg", img.URL)
	assert.Equal(t, "https://img/small.jpg", img.ThumbnailURL)
	assert.Equal(t, "Ada", img.Credit)
	assert.Equal(t, "pexels", img.Source)
}

func TestPexelsSourceEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"photos":[]}`))
	}))
	defer srv.Close()

	s := NewPexelsSource(&config.ImageSourceConfig{Name: "pexels", Endpoint: srv.URL, APIKeyEnv: "NOPE", RequestTimeout: time.Second})
	_, err := s.Search(context.Background(), "nothing")
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestOpenverseSourceSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gophers", r.URL.Query().Get("q"))
		w.Write([]byte(`{"results":[{"url":"https://img/a.jpg","thumbnail":"https://img/t.jpg","creator":"Linus"}]}`))
	}))
	defer srv.Close()

	s := NewOpenverseSource(&config.ImageSourceConfig{Name: "openverse", Endpoint: srv.URL, RequestTimeout: time.Second})
	img, err := s.Search(context.Background(), "gophers")
	require.NoError(t, err)
	assert.Equal(t, "https://img/a.jpg", img.URL)
	assert.Equal(t, "Linus", img.Credit)
}

func TestSourceRateLimitStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewOpenverseSource(&config.ImageSourceConfig{Name: "openverse", Endpoint: srv.URL, RequestTimeout: time.Second})
	_, err := s.Search(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRateLimited)
}

// fakeSource scripts dispatcher behavior without HTTP.
type fakeSource struct {
	name  string
	img   *Image
	err   error
	calls int
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Search(context.Context, string) (*Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

func testDispatcher(sources ...*fakeSource) *Dispatcher {
	d := &Dispatcher{acquireTimeout: 100 * time.Millisecond}
	for _, s := range sources {
		d.add(s, &config.ImageSourceConfig{Name: s.name, RatePerHour: 1000})
	}
	return d
}

func TestDispatcherFailover(t *testing.T) {
	down := &fakeSource{name: "down", err: errors.New("connection refused")}
	up := &fakeSource{name: "up", img: &Image{URL: "https://img/x.jpg", Source: "up"}}

	d := testDispatcher(down, up)

	img := d.Select(context.Background(), "query")
	require.NotNil(t, img)
	assert.Equal(t, "https://img/x.jpg", img.URL)
}

func TestDispatcherDegradesToNil(t *testing.T) {
	a := &fakeSource{name: "a", err: errors.New("boom")}
	b := &fakeSource{name: "b", err: ErrNoImage}

	d := testDispatcher(a, b)
	assert.Nil(t, d.Select(context.Background(), "query"), "all sources exhausted degrades to no image")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestDispatcherRoundRobinSpreadsLoad(t *testing.T) {
	a := &fakeSource{name: "a", img: &Image{URL: "a.jpg"}}
	b := &fakeSource{name: "b", img: &Image{URL: "b.jpg"}}

	d := testDispatcher(a, b)
	for i := 0; i < 10; i++ {
		require.NotNil(t, d.Select(context.Background(), "q"))
	}
	assert.Equal(t, 5, a.calls)
	assert.Equal(t, 5, b.calls)
}

func TestDispatcherBreakerSkipsFailingSource(t *testing.T) {
	bad := &fakeSource{name: "bad", err: errors.New("boom")}
	good := &fakeSource{name: "good", img: &Image{URL: "g.jpg"}}

	d := testDispatcher(bad, good)

	// Trip the breaker on the failing source.
	for i := 0; i < 6; i++ {
		require.NotNil(t, d.Select(context.Background(), "q"), "failover keeps serving")
	}
	callsWhenTripped := bad.calls

	for i := 0; i < 4; i++ {
		require.NotNil(t, d.Select(context.Background(), "q"))
	}
	assert.Equal(t, callsWhenTripped, bad.calls, "open breaker short-circuits the bad source")
}

func TestNewDispatcherStrategies(t *testing.T) {
	cfg := config.DefaultImagesConfig()

	cfg.Strategy = config.StrategyDualRoundRobin
	assert.Len(t, NewDispatcher(cfg).sources, 2)

	cfg.Strategy = config.StrategySourceAOnly
	assert.Len(t, NewDispatcher(cfg).sources, 1)

	cfg.Strategy = config.StrategySourceBOnly
	d := NewDispatcher(cfg)
	require.Len(t, d.sources, 1)
	assert.Equal(t, "openverse", d.sources[0].source.Name())
}

func TestDispatcherRateLimitFailover(t *testing.T) {
	limited := &fakeSource{name: "limited", img: &Image{URL: "l.jpg"}}
	backup := &fakeSource{name: "backup", img: &Image{URL: "b.jpg"}}

	d := &Dispatcher{acquireTimeout: 50 * time.Millisecond}
	d.add(limited, &config.ImageSourceConfig{Name: "limited", RatePerHour: 10}) // burst 1
	d.add(backup, &config.ImageSourceConfig{Name: "backup", RatePerHour: 10000})

	// Drain the limited source's burst, then verify failover.
	var served int
	for i := 0; i < 6; i++ {
		if d.Select(context.Background(), "q") != nil {
			served++
		}
	}
	assert.Equal(t, 6, served, "rate-limited source fails over, requests still served")
	assert.LessOrEqual(t, limited.calls, 2)
}

func TestDispatcherStats(t *testing.T) {
	d := testDispatcher(&fakeSource{name: "a", img: &Image{}})
	stats := d.Stats()
	require.Len(t, stats, 1)

	var s ratelimit.Stats = stats[0]
	assert.Equal(t, "a", s.Name)
}
