package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(t *testing.T) (*Server, *queue.MemoryQueue) {
	t.Helper()
	t.Setenv(config.EnvStorageConnection, "UseDevelopmentStorage=true")
	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	q := queue.NewMemoryQueue(config.QueueProcessing)
	pool := queue.NewWorkerPool("processor", "replica-1", q, cfg.Queues.Processor, queue.NewDispatcher())

	return NewServer(cfg, map[string]*queue.WorkerPool{"processor": pool}), q
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	s, _ := testServer(t)

	w := doRequest(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "status")
	assert.Contains(t, body, "checks")
}

func TestStatusHandler(t *testing.T) {
	s, q := testServer(t)
	require.NoError(t, q.Send(context.Background(), []byte("pending")))

	w := doRequest(s, http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Stages map[string]struct {
			QueueDepth int `json:"queue_depth"`
		} `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body.Stages, "processor")
	assert.Equal(t, 1, body.Stages["processor"].QueueDepth)
}

func TestMetricsHandler(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCollectWithoutCollector(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(s, http.MethodPost, "/collect")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublishTrigger(t *testing.T) {
	s, _ := testServer(t)

	w := doRequest(s, http.MethodPost, "/publish")
	assert.Equal(t, http.StatusNotFound, w.Code, "replica without publisher refuses")

	publish := queue.NewMemoryQueue(config.QueuePublishing)
	s.SetPublishQueue(publish)

	w = doRequest(s, http.MethodPost, "/publish")
	assert.Equal(t, http.StatusAccepted, w.Code)

	msgs, err := publish.Receive(context.Background(), 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var env models.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Body, &env))
	assert.Equal(t, models.OpPublishSite, env.Operation)

	var payload models.BuildPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, models.TriggerManual, payload.Trigger)
}
