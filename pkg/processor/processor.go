// Package processor consumes topic messages and produces exactly one
// AI-generated article per topic. Exclusivity is enforced twice: the done
// marker (the deterministically named article blob) and a short-TTL lease
// acquired before the expensive generation step.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/dedup"
	"github.com/curatorhq/curator/pkg/lease"
	"github.com/curatorhq/curator/pkg/llm"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/pipeerr"
	"github.com/curatorhq/curator/pkg/queue"
	"github.com/curatorhq/curator/pkg/storage"
)

const (
	stageName = "processor"

	// leaseTTL must stay at least twice the 95th-percentile generation
	// time, or a slow holder gets raced by the redelivered message.
	leaseTTL = 5 * time.Minute

	maxSlugLen = 60
)

// Status values for one processed topic.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Result reports one topic message's outcome.
type Result struct {
	Status  string  `json:"status"`
	TopicID string  `json:"topic_id"`
	CostUSD float64 `json:"cost_usd"`
	Err     error   `json:"-"`
}

// Processor turns topics into articles. Constructed once per replica;
// every message builds its own context from the payload.
type Processor struct {
	cfg         *config.Config
	store       storage.Store
	leases      *lease.Manager
	llm         llm.Client
	render      queue.Queue
	processorID string
	version     string
	dedup       *dedup.Deduplicator // optional duplicate-delivery guard
}

// SetDeduplicator enables the best-effort duplicate-delivery guard. The
// done marker and lease remain the real idempotency mechanisms.
func (p *Processor) SetDeduplicator(d *dedup.Deduplicator) {
	p.dedup = d
}

// New creates a processor replica.
func New(cfg *config.Config, store storage.Store, leases *lease.Manager, client llm.Client, render queue.Queue, version string) *Processor {
	return &Processor{
		cfg:         cfg,
		store:       store,
		leases:      leases,
		llm:         client,
		render:      render,
		processorID: "processor-" + uuid.NewString()[:8],
		version:     version,
	}
}

// HandleTopicMessage is the queue handler for process_topic.
func (p *Processor) HandleTopicMessage(ctx context.Context, env *models.Envelope) (models.StageStats, error) {
	res := p.processTopic(ctx, env)

	switch res.Status {
	case StatusSuccess:
		return models.StageStats{Processed: 1, CostUSD: res.CostUSD}, nil
	case StatusSkipped:
		return models.StageStats{Skipped: 1}, nil
	default:
		return models.StageStats{Failed: 1, CostUSD: res.CostUSD}, res.Err
	}
}

// processTopic runs the full per-message protocol.
func (p *Processor) processTopic(ctx context.Context, env *models.Envelope) Result {
	// 1. Validate. Malformed input settles immediately: no lease, no
	// external call.
	var payload models.TopicPayload
	if err := env.DecodePayload(&payload); err != nil {
		return Result{Status: StatusFailed, Err: pipeerr.New(pipeerr.KindBadInput, stageName, "", env.CorrelationID, err)}
	}
	if err := payload.Validate(); err != nil {
		return Result{Status: StatusFailed, Err: pipeerr.New(pipeerr.KindBadInput, stageName, payload.TopicID, env.CorrelationID, err)}
	}

	log := slog.With("topic_id", payload.TopicID, "correlation_id", env.CorrelationID, "processor_id", p.processorID)

	// Best-effort duplicate-delivery guard. Ids are marked only after
	// success, so a retried failure is never suppressed.
	if p.dedup != nil && env.MessageID != "" && p.dedup.Contains(env.MessageID) {
		log.Info("Duplicate delivery suppressed", "message_id", env.MessageID)
		return Result{Status: StatusSkipped, TopicID: payload.TopicID}
	}

	// 2. Done marker.
	articleSlug := p.deriveSlug(&payload)
	if done, existing := p.doneMarker(ctx, articleSlug, payload.TopicID); done {
		log.Info("Topic already processed, skipping", "article", existing)
		return Result{Status: StatusSkipped, TopicID: payload.TopicID}
	} else if existing != "" {
		// Slug taken by a different topic: disambiguate with a short
		// topic hash and re-check.
		articleSlug = suffixSlug(articleSlug, payload.TopicID)
		if done, _ := p.doneMarker(ctx, articleSlug, payload.TopicID); done {
			return Result{Status: StatusSkipped, TopicID: payload.TopicID}
		}
	}

	// 3. Lease. The loser backs off without settling the message; the
	// visibility timeout re-exposes it.
	acq, err := p.leases.Acquire(ctx, payload.TopicID, p.processorID, leaseTTL)
	if err != nil {
		return Result{Status: StatusFailed, TopicID: payload.TopicID,
			Err: pipeerr.New(pipeerr.KindTransientDependency, stageName, payload.TopicID, env.CorrelationID, err)}
	}
	if !acq.OK && acq.AlreadyHeldBy != p.processorID {
		return Result{Status: StatusFailed, TopicID: payload.TopicID,
			Err: pipeerr.New(pipeerr.KindLeaseContention, stageName, payload.TopicID, env.CorrelationID,
				fmt.Errorf("%w by %s until %s", lease.ErrHeld, acq.AlreadyHeldBy, acq.ExpiresAt.Format(time.RFC3339)))}
	}
	defer p.releaseLease(payload.TopicID, log)

	// 4. Generate.
	article, err := p.generate(ctx, &payload, env.CorrelationID, articleSlug)
	if err != nil {
		if errors.Is(err, llm.ErrPermanent) {
			p.writeFailureRecord(ctx, &payload, env.CorrelationID, err)
			return Result{Status: StatusFailed, TopicID: payload.TopicID,
				Err: pipeerr.New(pipeerr.KindPermanentDependency, stageName, payload.TopicID, env.CorrelationID, err)}
		}
		return Result{Status: StatusFailed, TopicID: payload.TopicID,
			Err: pipeerr.New(pipeerr.KindTransientDependency, stageName, payload.TopicID, env.CorrelationID, err)}
	}

	// 5-6. Persist at the deterministic path. A precondition failure
	// means another holder completed first; that is a skip, not an error.
	blobPath, err := p.writeArticle(ctx, article)
	if err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			log.Info("Article already written by another replica")
			return Result{Status: StatusSkipped, TopicID: payload.TopicID, CostUSD: article.CostUSD}
		}
		// In-process write retries are exhausted; the message is left for
		// redelivery.
		return Result{Status: StatusFailed, TopicID: payload.TopicID, CostUSD: article.CostUSD,
			Err: pipeerr.New(pipeerr.KindStorageWrite, stageName, payload.TopicID, env.CorrelationID, err)}
	}

	// 7. Trigger the renderer. A send failure does not fail the message:
	// the article is durable and the reconciler re-emits from it.
	if err := p.sendRenderMessage(ctx, env.CorrelationID, blobPath); err != nil {
		log.Error("Failed to send render message, reconciler will re-emit", "error", err)
	}

	if p.dedup != nil && env.MessageID != "" {
		p.dedup.Mark(env.MessageID)
	}

	log.Info("Article generated", "slug", article.Slug, "cost_usd", article.CostUSD)
	return Result{Status: StatusSuccess, TopicID: payload.TopicID, CostUSD: article.CostUSD}
}

func (p *Processor) releaseLease(topicID string, log *slog.Logger) {
	// Release on a fresh context: the message context may be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.leases.Release(ctx, topicID, p.processorID); err != nil {
		log.Warn("Failed to release lease, expiry will reclaim it", "error", err)
	}
}

// deriveSlug builds the canonical slug from the topic title.
func (p *Processor) deriveSlug(payload *models.TopicPayload) string {
	s := slug.Make(payload.Title)
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	if s == "" {
		s = "topic-" + payload.TopicID[:12]
	}
	return s
}

func suffixSlug(base, topicID string) string {
	suffix := "-" + topicID[:8]
	if len(base)+len(suffix) > maxSlugLen {
		base = strings.Trim(base[:maxSlugLen-len(suffix)], "-")
	}
	return base + suffix
}

// doneMarker reports whether an article for this slug+topic already
// exists. Returns (false, path) when the slug is taken by a different
// topic.
func (p *Processor) doneMarker(ctx context.Context, articleSlug, topicID string) (bool, string) {
	names, err := p.store.List(ctx, storage.ContainerProcessed, "articles/")
	if err != nil {
		slog.Warn("Done-marker listing failed, relying on lease", "error", err)
		return false, ""
	}
	target := "/" + articleSlug + ".json"
	for _, name := range names {
		if !strings.HasSuffix(name, target) {
			continue
		}
		data, err := p.store.Get(ctx, storage.ContainerProcessed, name)
		if err != nil {
			continue
		}
		var existing models.ProcessedArticle
		if err := json.Unmarshal(data, &existing); err != nil {
			continue
		}
		if existing.TopicID == topicID {
			return true, name
		}
		return false, name
	}
	return false, ""
}

// generate runs the drafting call, the optional title-options call, and
// metadata extraction.
func (p *Processor) generate(ctx context.Context, payload *models.TopicPayload, correlationID, articleSlug string) (*models.ProcessedArticle, error) {
	draft, err := p.llm.Generate(ctx, llm.Request{
		System: systemPrompt,
		Prompt: buildArticlePrompt(payload),
	})
	if err != nil {
		return nil, err
	}

	title, body := extractTitle(draft.Text)
	if title == "" {
		title = payload.Title
	}
	cost := draft.CostUSD
	tokensIn, tokensOut := draft.InputTokens, draft.OutputTokens

	if p.cfg.LLM.TitleOptions {
		if options, err := p.llm.Generate(ctx, llm.Request{
			Prompt:    buildTitlePrompt(title),
			MaxTokens: 256,
		}); err == nil {
			title = pickTitle(title, strings.Split(options.Text, "\n"))
			cost += options.CostUSD
			tokensIn += options.InputTokens
			tokensOut += options.OutputTokens
		} else if errors.Is(err, llm.ErrPermanent) {
			return nil, err
		}
		// Transient title failures degrade to the draft title.
	}

	category := p.sourceCategory(payload.Source)
	now := time.Now().UTC()

	article := &models.ProcessedArticle{
		ArticleID:     uuid.NewString(),
		TopicID:       payload.TopicID,
		Title:         title,
		Slug:          articleSlug,
		Description:   extractDescription(body),
		Category:      category,
		Tags:          extractTags(category, title),
		Content:       body,
		References:    extractReferences(body),
		Source:        payload.Source,
		SourceURL:     payload.URL,
		CollectedAt:   payload.CollectedAt,
		GeneratedAt:   now,
		CostUSD:       cost,
		InputTokens:   tokensIn,
		OutputTokens:  tokensOut,
		QualityScore:  payload.PriorityScore,
		CorrelationID: correlationID,
		Provenance: []models.ProvenanceEntry{{
			Stage:       stageName,
			ProcessorID: p.processorID,
			Version:     p.version,
			Timestamp:   now,
			CostUSD:     cost,
			Tokens:      tokensIn + tokensOut,
		}},
	}
	return article, nil
}

func (p *Processor) sourceCategory(sourceName string) string {
	if sc, err := p.cfg.SourceRegistry.Get(sourceName); err == nil && sc.Category != "" {
		return sc.Category
	}
	return "general"
}

func (p *Processor) writeArticle(ctx context.Context, article *models.ProcessedArticle) (string, error) {
	body, err := json.Marshal(article)
	if err != nil {
		return "", fmt.Errorf("marshaling article: %w", err)
	}
	blobPath := models.ArticleBlobPath(article.Slug, article.GeneratedAt)
	// The article is the product of expensive generation, so a failed
	// write is retried in-process. A precondition failure is final.
	const writeAttempts = 3
	for attempt := 1; ; attempt++ {
		err = p.store.Put(ctx, storage.ContainerProcessed, blobPath, body, storage.PutOptions{
			ContentType: "application/json",
			IfNoneMatch: "*",
		})
		if err == nil {
			return blobPath, nil
		}
		if errors.Is(err, storage.ErrPreconditionFailed) || attempt >= writeAttempts || ctx.Err() != nil {
			return "", err
		}
	}
}

func (p *Processor) sendRenderMessage(ctx context.Context, correlationID, blobPath string) error {
	env, err := models.NewEnvelope(stageName, models.OpRenderMarkdown, correlationID, models.RenderPayload{
		ProcessedBlobPath: blobPath,
	})
	if err != nil {
		return err
	}
	return queue.SendEnvelope(ctx, p.render, env)
}

// writeFailureRecord leaves an operator-visible blob for permanent
// failures, terminating the poison-message loop.
func (p *Processor) writeFailureRecord(ctx context.Context, payload *models.TopicPayload, correlationID string, cause error) {
	record := models.FailureRecord{
		TopicID:       payload.TopicID,
		CorrelationID: correlationID,
		Stage:         stageName,
		Reason:        cause.Error(),
		FailedAt:      time.Now().UTC(),
	}
	body, err := json.Marshal(record)
	if err != nil {
		return
	}
	name := models.FailureBlobPath(payload.TopicID)
	if err := p.store.Put(ctx, storage.ContainerProcessed, name, body, storage.PutOptions{ContentType: "application/json"}); err != nil {
		slog.Warn("Failed to write failure record", "topic_id", payload.TopicID, "error", err)
	}
}
