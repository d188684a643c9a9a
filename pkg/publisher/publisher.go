// Package publisher rebuilds the static site from the markdown container
// and atomically replaces the web container: the new output is validated
// before any destructive step, the current site is backed up by copy, and
// any upload failure rolls the backup straight back.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/metrics"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/pipeerr"
	"github.com/curatorhq/curator/pkg/storage"
)

const stageName = "publisher"

// DeploymentResult reports one publish attempt.
type DeploymentResult struct {
	Status        string   `json:"status"`
	BuildMS       int64    `json:"build_ms"`
	UploadedFiles int      `json:"uploaded_files"`
	SiteURL       string   `json:"site_url,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// Publisher owns the site-publishing stage. Deployment invariant: one
// replica, serial builds.
type Publisher struct {
	cfg   *config.Config
	store storage.Store

	// runGenerator is swappable for tests.
	runGenerator func(ctx context.Context, workDir, outDir string) error
}

// New creates the publisher.
func New(cfg *config.Config, store storage.Store) *Publisher {
	p := &Publisher{cfg: cfg, store: store}
	p.runGenerator = p.execGenerator
	return p
}

// SetGenerator overrides the site-generator invocation. Test seam.
func (p *Publisher) SetGenerator(fn func(ctx context.Context, workDir, outDir string) error) {
	p.runGenerator = fn
}

// HandleBuildMessage is the queue handler for publish_site. Duplicate
// build messages are harmless: the same markdown yields the same site.
func (p *Publisher) HandleBuildMessage(ctx context.Context, env *models.Envelope) (models.StageStats, error) {
	var payload models.BuildPayload
	if err := env.DecodePayload(&payload); err != nil {
		return models.StageStats{Failed: 1}, pipeerr.New(pipeerr.KindBadInput, stageName, "", env.CorrelationID, err)
	}

	result, err := p.publish(ctx, &payload, env.CorrelationID)
	if err != nil {
		metrics.SiteBuilds.WithLabelValues("failed").Inc()
		return models.StageStats{Failed: 1}, err
	}

	metrics.SiteBuilds.WithLabelValues("success").Inc()
	slog.Info("Site published",
		"batch_id", payload.BatchID,
		"correlation_id", env.CorrelationID,
		"build_ms", result.BuildMS,
		"uploaded_files", result.UploadedFiles)
	return models.StageStats{Processed: 1}, nil
}

// publish runs the full protocol: download, build, validate, backup,
// upload, rollback on failure.
func (p *Publisher) publish(ctx context.Context, payload *models.BuildPayload, correlationID string) (*DeploymentResult, error) {
	ref := payload.BatchID
	workDir, err := os.MkdirTemp("", "curator-site-*")
	if err != nil {
		return nil, pipeerr.New(pipeerr.KindTransientDependency, stageName, ref, correlationID, err)
	}
	defer os.RemoveAll(workDir)

	contentDir := workDir + "/content"
	outDir := workDir + "/public"

	// 1. Stage the markdown tree locally.
	count, err := downloadContainer(ctx, p.store, storage.ContainerMarkdown, contentDir)
	if err != nil {
		return nil, classifyStep(err, stageName, ref, correlationID, "downloading markdown")
	}
	slog.Info("Markdown staged for build", "files", count, "batch_id", ref)

	// 2. Build. A generator failure leaves the message: the environment
	// (missing binary, resource pressure) may recover by the retry.
	buildStart := time.Now()
	if err := p.runGenerator(ctx, workDir, outDir); err != nil {
		return nil, classifyStep(err, stageName, ref, correlationID, "running site generator")
	}
	buildMS := time.Since(buildStart).Milliseconds()

	// 3. Validate before touching the web container. A validation
	// failure settles the message: rebuilding the same input cannot
	// produce a different answer.
	if err := validateOutput(outDir, p.cfg.Publish.OutputMaxMB); err != nil {
		return nil, pipeerr.New(pipeerr.KindBuildFailure, stageName, ref, correlationID, err)
	}

	// 4. Backup by copy. The backup mirror is cleared first so a rollback
	// never resurrects files from an older deployment. Cancellation
	// mid-backup aborts cleanly before any destructive step on the site.
	if err := clearContainer(ctx, p.store, storage.ContainerWebBackup); err != nil {
		return nil, classifyStep(err, stageName, ref, correlationID, "clearing backup")
	}
	if _, err := mirrorContainer(ctx, p.store, storage.ContainerWeb, storage.ContainerWebBackup, p.cfg.Publish.ProgressEvery); err != nil {
		return nil, classifyStep(err, stageName, ref, correlationID, "backing up site")
	}

	// 5. Swap: clear the site and upload the new output. From here on
	// every failure path rolls the backup straight back, so the container
	// always ends as either the new site or the previous one.
	if err := clearContainer(ctx, p.store, storage.ContainerWeb); err != nil {
		p.rollback(ref)
		return nil, classifyStep(err, stageName, ref, correlationID, "clearing site")
	}
	uploaded, err := uploadDir(ctx, p.store, outDir, storage.ContainerWeb, p.cfg.Publish.ProgressEvery)
	if err != nil {
		p.rollback(ref)
		return nil, classifyStep(err, stageName, ref, correlationID, "uploading site")
	}

	return &DeploymentResult{
		Status:        "success",
		BuildMS:       buildMS,
		UploadedFiles: uploaded,
		SiteURL:       p.cfg.Publish.SiteURL,
	}, nil
}

// rollback restores the web container from the backup mirror. It runs on
// a fresh context: the triggering failure may have been a cancellation,
// and a half-uploaded site must not be left behind.
func (p *Publisher) rollback(ref string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	slog.Warn("Upload failed, rolling back site", "batch_id", ref)
	if err := clearContainer(ctx, p.store, storage.ContainerWeb); err != nil {
		slog.Error("Rollback could not clear site container", "error", err)
		return
	}
	if _, err := mirrorContainer(ctx, p.store, storage.ContainerWebBackup, storage.ContainerWeb, p.cfg.Publish.ProgressEvery); err != nil {
		slog.Error("Rollback failed, site requires operator attention", "batch_id", ref, "error", err)
		return
	}
	slog.Info("Rollback complete, previous site restored", "batch_id", ref)
}

// execGenerator invokes the pinned site-generator binary.
func (p *Publisher) execGenerator(ctx context.Context, workDir, outDir string) error {
	genCtx, cancel := context.WithTimeout(ctx, p.cfg.Publish.GeneratorTimeout)
	defer cancel()

	command := p.cfg.Publish.GeneratorCommand
	args := append(append([]string{}, command[1:]...), "--source", workDir, "--destination", outDir)
	cmd := exec.CommandContext(genCtx, command[0], args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("site generator failed: %w: %s", err, truncateOutput(output))
	}
	return nil
}

func truncateOutput(out []byte) string {
	const max = 2048
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return string(out)
}

// classifyStep maps step errors onto the taxonomy, preserving
// cancellation.
func classifyStep(err error, stage, ref, correlationID, step string) error {
	kind := pipeerr.KindTransientDependency
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = pipeerr.KindCancelled
	}
	return pipeerr.New(kind, stage, ref, correlationID, fmt.Errorf("%s: %w", step, err))
}
