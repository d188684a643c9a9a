// Curator pipeline worker - runs one or more pipeline stages against the
// shared storage account and serves the admin HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/curatorhq/curator/pkg/api"
	"github.com/curatorhq/curator/pkg/cleanup"
	"github.com/curatorhq/curator/pkg/collector"
	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/dedup"
	"github.com/curatorhq/curator/pkg/images"
	"github.com/curatorhq/curator/pkg/lease"
	"github.com/curatorhq/curator/pkg/llm"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/processor"
	"github.com/curatorhq/curator/pkg/publisher"
	"github.com/curatorhq/curator/pkg/queue"
	"github.com/curatorhq/curator/pkg/ratelimit"
	"github.com/curatorhq/curator/pkg/reconciler"
	"github.com/curatorhq/curator/pkg/renderer"
	"github.com/curatorhq/curator/pkg/storage"
	"github.com/curatorhq/curator/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	role := flag.String("role",
		getEnv("CURATOR_ROLE", "all"),
		"Pipeline role: collector|processor|renderer|publisher|all")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("No %s file, continuing with existing environment", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting curator",
		"version", version.Full(), "role", *role, "http_port", httpPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	store, broker, err := buildClients(cfg)
	if err != nil {
		log.Fatalf("Failed to build storage clients: %v", err)
	}

	replicaID := version.AppName + "-" + hostnameOr("replica")
	roles := parseRoles(*role)

	app := &application{
		cfg:       cfg,
		store:     store,
		broker:    broker,
		replicaID: replicaID,
		pools:     make(map[string]*queue.WorkerPool),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
	}

	if roles["processor"] {
		app.wireProcessor(ctx)
	}
	if roles["renderer"] {
		app.wireRenderer(ctx)
	}
	if roles["publisher"] {
		app.wirePublisher(ctx)
	}
	if roles["collector"] {
		app.wireCollector(ctx)
	}
	app.wireReconciler()

	app.retention = cleanup.NewService(cleanup.DefaultConfig(), store)
	app.retention.Start(ctx)

	app.cron.Start()

	server := api.NewServer(cfg, app.pools)
	if app.collector != nil {
		server.SetCollector(app.collector)
	}
	if roles["publisher"] {
		server.SetPublishQueue(broker.Queue(config.QueuePublishing))
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(":" + httpPort) }()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			slog.Error("Admin server failed", "error", err)
		}
	}

	app.shutdown(server)
}

// application holds the wired components of one replica.
type application struct {
	cfg       *config.Config
	store     storage.Store
	broker    queue.Broker
	replicaID string
	pools     map[string]*queue.WorkerPool
	cron      *cron.Cron
	collector *collector.Collector
	drain     *renderer.DrainMonitor
	drainStop context.CancelFunc
	retention *cleanup.Service
}

func buildClients(cfg *config.Config) (storage.Store, queue.Broker, error) {
	if cfg.Storage.ConnectionString != "" {
		store, err := storage.NewAzureStoreFromConnectionString(cfg.Storage.ConnectionString)
		if err != nil {
			return nil, nil, err
		}
		broker, err := queue.NewAzureBrokerFromConnectionString(cfg.Storage.ConnectionString)
		if err != nil {
			return nil, nil, err
		}
		return store, broker, nil
	}

	store, err := storage.NewAzureStore(cfg.Storage.BlobServiceURL)
	if err != nil {
		return nil, nil, err
	}
	broker, err := queue.NewAzureBroker(cfg.Storage.QueueServiceURL)
	if err != nil {
		return nil, nil, err
	}
	return store, broker, nil
}

func (a *application) wireProcessor(ctx context.Context) {
	limiter := ratelimit.PerMinute("llm", a.cfg.LLM.RatePerMinute)
	client := llm.NewAnthropicClient(a.cfg.LLM, limiter)
	leases := lease.NewManager(a.store, storage.ContainerProcessed)

	proc := processor.New(a.cfg, a.store, leases, client,
		a.broker.Queue(config.QueueMarkdown), version.GitCommit)

	if guard, err := dedup.New(a.store, storage.ContainerProcessed, 4096, a.cfg.Collector.DedupWindow); err == nil {
		if rerr := guard.Restore(ctx); rerr != nil {
			slog.Warn("Dedup snapshot restore failed", "error", rerr)
		}
		go guard.RunSnapshots(ctx, 5*time.Minute)
		proc.SetDeduplicator(guard)
	}

	dispatcher := queue.NewDispatcher()
	dispatcher.Register(models.OpProcessTopic, proc.HandleTopicMessage)

	pool := queue.NewWorkerPool("processor", a.replicaID,
		a.broker.Queue(config.QueueProcessing), a.cfg.Queues.Processor, dispatcher)
	pool.Start(ctx)
	a.pools["processor"] = pool
}

func (a *application) wireRenderer(ctx context.Context) {
	rend := renderer.New(a.cfg, a.store, images.NewDispatcher(a.cfg.Images))

	dispatcher := queue.NewDispatcher()
	dispatcher.Register(models.OpRenderMarkdown, rend.HandleRenderMessage)

	pool := queue.NewWorkerPool("renderer", a.replicaID,
		a.broker.Queue(config.QueueMarkdown), a.cfg.Queues.Renderer, dispatcher)
	pool.Start(ctx)
	a.pools["renderer"] = pool

	drainCtx, cancel := context.WithCancel(ctx)
	a.drainStop = cancel
	a.drain = renderer.NewDrainMonitor(rend,
		a.broker.Queue(config.QueueMarkdown),
		a.broker.Queue(config.QueuePublishing),
		a.cfg.Renderer.StableEmptySeconds,
		a.cfg.Renderer.DrainCheckInterval)
	go a.drain.Run(drainCtx)
}

func (a *application) wirePublisher(ctx context.Context) {
	pub := publisher.New(a.cfg, a.store)

	dispatcher := queue.NewDispatcher()
	dispatcher.Register(models.OpPublishSite, pub.HandleBuildMessage)

	pool := queue.NewWorkerPool("publisher", a.replicaID,
		a.broker.Queue(config.QueuePublishing), a.cfg.Queues.Publisher, dispatcher)
	pool.Start(ctx)
	a.pools["publisher"] = pool
}

func (a *application) wireCollector(ctx context.Context) {
	a.collector = collector.New(a.cfg, a.store, a.broker.Queue(config.QueueProcessing))

	dispatcher := queue.NewDispatcher()
	dispatcher.Register(models.OpCollect, a.collector.HandleCollectMessage)

	pool := queue.NewWorkerPool("collector", a.replicaID,
		a.broker.Queue(config.QueueCollectionRequests), a.cfg.Queues.Collector, dispatcher)
	pool.Start(ctx)
	a.pools["collector"] = pool

	if schedule := a.cfg.Collector.Schedule; schedule != "" {
		if _, err := a.cron.AddFunc(schedule, func() {
			runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if _, err := a.collector.RunCollection(runCtx, nil, ""); err != nil {
				slog.Error("Scheduled collection failed", "error", err)
			}
		}); err != nil {
			slog.Error("Invalid collection schedule", "schedule", schedule, "error", err)
		}
	}

	go a.collector.HandleStartupTrigger(ctx)
}

func (a *application) wireReconciler() {
	rec := reconciler.New(a.store,
		a.broker.Queue(config.QueueMarkdown),
		a.broker.Queue(config.QueuePublishing))

	if _, err := a.cron.AddFunc("@every 30m", func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := rec.Run(runCtx); err != nil {
			slog.Error("Reconciliation failed", "error", err)
		}
	}); err != nil {
		slog.Error("Failed to schedule reconciler", "error", err)
	}
}

// shutdown stops dequeuing immediately, gives in-flight messages their
// grace window, and leaves unfinished work undeleted for redelivery.
func (a *application) shutdown(server *api.Server) {
	slog.Info("Shutting down")

	cronCtx := a.cron.Stop()
	if a.drainStop != nil {
		a.drainStop()
	}
	if a.retention != nil {
		a.retention.Stop()
	}
	for stage, pool := range a.pools {
		slog.Info("Stopping stage", "stage", stage)
		pool.Stop()
	}
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Admin server shutdown failed", "error", err)
	}
	slog.Info("Shutdown complete")
}

func parseRoles(role string) map[string]bool {
	roles := make(map[string]bool)
	if role == "all" {
		for _, r := range []string{"collector", "processor", "renderer", "publisher"} {
			roles[r] = true
		}
		return roles
	}
	for _, r := range strings.Split(role, ",") {
		roles[strings.TrimSpace(r)] = true
	}
	return roles
}

func hostnameOr(fallback string) string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}
