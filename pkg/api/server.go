// Package api provides the admin HTTP surface: liveness, stage status,
// metrics, and manual pipeline triggers.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curatorhq/curator/pkg/collector"
	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/queue"
)

// Server is the admin HTTP server for one replica.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	pools      map[string]*queue.WorkerPool
	collector  *collector.Collector // nil unless the replica runs the collector
	publish    queue.Queue          // nil unless the replica runs the publisher

	collectInFlight chan struct{}
}

// NewServer creates the admin server. Pools are keyed by stage name;
// only the stages this replica runs appear.
func NewServer(cfg *config.Config, pools map[string]*queue.WorkerPool) *Server {
	s := &Server{
		router:          gin.New(),
		cfg:             cfg,
		pools:           pools,
		collectInFlight: make(chan struct{}, 1),
	}
	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

// SetCollector enables the manual collection trigger.
func (s *Server) SetCollector(c *collector.Collector) {
	s.collector = c
}

// SetPublishQueue enables the manual publish trigger.
func (s *Server) SetPublishQueue(q queue.Queue) {
	s.publish = q
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/status", s.statusHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.POST("/collect", s.collectHandler)
	s.router.POST("/publish", s.publishHandler)
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("Admin API listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// healthHandler reports liveness. Only the replica's own components are
// checked; external dependencies are excluded so an unhealthy provider
// cannot make the orchestrator restart us.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]any, len(s.pools))
	httpStatus := http.StatusOK

	for stage, pool := range s.pools {
		health := pool.Health(ctx)
		checks[stage] = health
		if !health.IsHealthy {
			status = "degraded"
		}
	}

	c.JSON(httpStatus, gin.H{
		"status": status,
		"checks": checks,
	})
}

// statusHandler reports per-stage counters and queue depths.
func (s *Server) statusHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stages := make(map[string]any, len(s.pools))
	for stage, pool := range s.pools {
		health := pool.Health(ctx)
		stages[stage] = gin.H{
			"stats":          pool.Stats(),
			"queue_depth":    health.QueueDepth,
			"active_workers": health.ActiveWorkers,
			"total_workers":  health.TotalWorkers,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"stages":        stages,
		"configuration": s.cfg.Stats(),
	})
}

// collectHandler triggers a collection run. Idempotent with respect to
// in-flight work: a second trigger while one runs is accepted and
// ignored.
func (s *Server) collectHandler(c *gin.Context) {
	if s.collector == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "collector not running on this replica"})
		return
	}

	select {
	case s.collectInFlight <- struct{}{}:
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "collection already in flight"})
		return
	}

	var body struct {
		Sources []string `json:"sources"`
	}
	_ = c.ShouldBindJSON(&body) // empty body = all sources

	go func() {
		defer func() { <-s.collectInFlight }()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.collector.RunCollection(ctx, body.Sources, ""); err != nil {
			slog.Error("Manual collection failed", "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "collection started"})
}

// publishHandler enqueues one manual build request.
func (s *Server) publishHandler(c *gin.Context) {
	if s.publish == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "publisher not running on this replica"})
		return
	}

	env, err := models.NewEnvelope("admin", models.OpPublishSite, "", models.BuildPayload{
		BatchID: uuid.NewString(), Trigger: models.TriggerManual,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := queue.SendEnvelope(c.Request.Context(), s.publish, env); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "publish requested", "correlation_id": env.CorrelationID})
}
