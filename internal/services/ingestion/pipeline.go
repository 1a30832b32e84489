// Package ingestion implements the three-phase fetch->persist->embed->index
// pipeline the orchestrator runs once the scraper has returned a batch of
// issues. Phase 1 persists issues one at a time; phase 3's batch-join shape
// mirrors the scraper's own CrawlParallel batching
// (internal/services/scraper/parallel.go); phase 2's batching follows
// EmbeddingPort's documented EmbedBatch contract.
package ingestion

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
	"github.com/tenwire/imscrawl/internal/services/attachments"
	"github.com/tenwire/imscrawl/internal/services/workers"
)

// DefaultEmbedBatchSize is phase 2's batch size.
const DefaultEmbedBatchSize = 32

// DefaultSaveBatchSize is phase 3's batch size.
const DefaultSaveBatchSize = 20

// DetailFetcher is the subset of the scraper's Scraper this pipeline needs,
// kept as a narrow interface so ingestion tests can substitute a stub
// without standing up an HTTP session.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, userID, imsID string) (*models.Issue, error)
}

// Result summarizes what one Run call accomplished, folded back into the
// CrawlJob by the caller.
type Result struct {
	IssueIDs             []string
	IssuesCrawled        int
	AttachmentsProcessed int
	RelatedCrawled       int
}

// Pipeline runs phases 1-3 against a fully-crawled issue batch.
type Pipeline struct {
	issues         interfaces.IssueStore
	embedder       interfaces.EmbeddingPort
	events         interfaces.EventService
	fetcher        DetailFetcher
	logger         arbor.ILogger
	embedBatchSize int
	saveBatchSize  int
}

// NewPipeline constructs a Pipeline. embedBatchSize/saveBatchSize fall back
// to their package defaults when <= 0.
func NewPipeline(issues interfaces.IssueStore, embedder interfaces.EmbeddingPort, events interfaces.EventService, fetcher DetailFetcher, logger arbor.ILogger, embedBatchSize, saveBatchSize int) *Pipeline {
	if embedBatchSize <= 0 {
		embedBatchSize = DefaultEmbedBatchSize
	}
	if saveBatchSize <= 0 {
		saveBatchSize = DefaultSaveBatchSize
	}
	return &Pipeline{
		issues:         issues,
		embedder:       embedder,
		events:         events,
		fetcher:        fetcher,
		logger:         logger,
		embedBatchSize: embedBatchSize,
		saveBatchSize:  saveBatchSize,
	}
}

// Run executes phases 1-3 against issues already fetched for job. job's
// counters (IssuesCrawled, AttachmentsProcessed, RelatedCrawled) are
// mutated in place; the caller persists the job once Run returns.
func (p *Pipeline) Run(ctx context.Context, job *models.CrawlJob, issues []*models.Issue) (*Result, error) {
	result := &Result{}

	embedIDs, embedTexts := p.persistPhase(ctx, job, issues, result)

	if len(embedIDs) == 0 {
		return result, nil
	}

	vectors, err := p.embedPhase(ctx, job, embedTexts)
	if err != nil {
		return result, err
	}

	p.indexPhase(ctx, job, embedIDs, embedTexts, vectors)

	return result, nil
}

func (p *Pipeline) persistPhase(ctx context.Context, job *models.CrawlJob, issues []*models.Issue, result *Result) (ids []string, texts []string) {
	p.publish(ctx, job.ID, interfaces.EventPhaseStarted, map[string]interface{}{"phase": "persist", "total": len(issues)})

	seenRelated := make(map[string]bool, len(issues))
	for _, issue := range issues {
		seenRelated[issue.ImsID] = true
	}

	for i, issue := range issues {
		attachmentTexts := p.extractAttachments(job, issue)

		internalID, err := p.issues.Save(ctx, issue)
		if err != nil {
			p.publish(ctx, job.ID, interfaces.EventIssueSaveFailed, map[string]interface{}{"ims_id": issue.ImsID, "error": err.Error()})
			continue
		}
		issue.ID = internalID

		result.IssueIDs = append(result.IssueIDs, internalID)
		result.IssuesCrawled++
		job.IssuesCrawled++

		ids = append(ids, internalID)
		texts = append(texts, issue.EmbeddingText(attachmentTexts...))

		if job.Config.IncludeRelated {
			relIDs, relTexts := p.persistRelated(ctx, job, issue, seenRelated, result)
			ids = append(ids, relIDs...)
			texts = append(texts, relTexts...)
		}

		if (i+1)%10 == 0 {
			p.publish(ctx, job.ID, interfaces.EventSavingProgress, map[string]interface{}{"processed": i + 1, "total": len(issues)})
		}
	}

	return ids, texts
}

// persistRelated crawls and upserts the related issues named on source, one
// level deep (models.RelatedCrawlMaxDepth); related-of-related is never
// followed. seen is shared across the whole persist phase so an issue
// already in the main batch, or already pulled in as a related issue of an
// earlier source, is never re-fetched.
func (p *Pipeline) persistRelated(ctx context.Context, job *models.CrawlJob, source *models.Issue, seen map[string]bool, result *Result) (ids []string, texts []string) {
	for _, relatedID := range source.RelatedImsIDs {
		if relatedID == "" || seen[relatedID] {
			continue
		}
		seen[relatedID] = true

		related, err := p.fetcher.FetchDetail(ctx, job.UserID, relatedID)
		if err != nil {
			p.logger.Warn().Err(err).Str("ims_id", relatedID).Msg("related issue fetch failed")
			continue
		}

		attachmentTexts := p.extractAttachments(job, related)

		internalID, err := p.issues.Save(ctx, related)
		if err != nil {
			p.publish(ctx, job.ID, interfaces.EventIssueSaveFailed, map[string]interface{}{"ims_id": related.ImsID, "error": err.Error()})
			continue
		}
		related.ID = internalID

		if err := p.issues.SaveRelation(ctx, &models.IssueRelation{
			SourceID: source.ID,
			TargetID: internalID,
			Kind:     models.RelationRelatesTo,
		}); err != nil {
			p.logger.Warn().Err(err).Str("source", source.ImsID).Str("target", relatedID).Msg("relation save failed")
		}

		job.RelatedCrawled++
		result.RelatedCrawled++

		ids = append(ids, internalID)
		texts = append(texts, related.EmbeddingText(attachmentTexts...))
	}

	return ids, texts
}

// extractAttachments pulls local attachment paths from an issue's
// CustomFields (populated upstream by whatever downloads attachments, out
// of this pipeline's scope) and runs the stateless extractor over each.
func (p *Pipeline) extractAttachments(job *models.CrawlJob, issue *models.Issue) []string {
	if !job.Config.IncludeAttachments {
		return nil
	}

	paths := attachmentPaths(issue)
	if len(paths) == 0 {
		return nil
	}

	texts := make([]string, 0, len(paths))
	for _, path := range paths {
		text, err := attachments.ExtractAttachmentText(path)
		if err != nil {
			p.logger.Warn().Err(err).Str("ims_id", issue.ImsID).Str("path", path).Msg("attachment extraction failed")
			continue
		}
		if text != "" {
			texts = append(texts, text)
			job.AttachmentsProcessed++
		}
	}
	return texts
}

func attachmentPaths(issue *models.Issue) []string {
	raw, ok := issue.CustomFields["attachment_paths"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		paths := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				paths = append(paths, s)
			}
		}
		return paths
	default:
		return nil
	}
}

func (p *Pipeline) embedPhase(ctx context.Context, job *models.CrawlJob, texts []string) ([][]float32, error) {
	p.publish(ctx, job.ID, interfaces.EventPhaseStarted, map[string]interface{}{"phase": "embed", "total": len(texts)})

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.embedBatchSize {
		end := start + p.embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batchVectors, err := p.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			p.publish(ctx, job.ID, interfaces.EventEmbeddingFailed, map[string]interface{}{"error": err.Error(), "batch_start": start})
			return nil, fmt.Errorf("embed batch [%d:%d): %w", start, end, err)
		}

		vectors = append(vectors, batchVectors...)
		p.publish(ctx, job.ID, interfaces.EventEmbeddingProgress, map[string]interface{}{"processed": len(vectors), "total": len(texts)})
	}

	return vectors, nil
}

func (p *Pipeline) indexPhase(ctx context.Context, job *models.CrawlJob, ids, texts []string, vectors [][]float32) {
	p.publish(ctx, job.ID, interfaces.EventPhaseStarted, map[string]interface{}{"phase": "index", "total": len(ids)})

	for start := 0; start < len(ids); start += p.saveBatchSize {
		end := start + p.saveBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		successCount := p.saveBatch(ctx, ids[start:end], texts[start:end], vectors[start:end])
		p.publish(ctx, job.ID, interfaces.EventEmbeddingSaveProgress, map[string]interface{}{
			"batch_success": successCount,
			"batch_size":    end - start,
			"processed":     end,
			"total":         len(ids),
		})
	}
}

// saveBatch writes one batch of embeddings through a worker pool sized to
// the batch; individual write failures are collected and logged without
// aborting the phase.
func (p *Pipeline) saveBatch(ctx context.Context, ids, texts []string, vectors [][]float32) (success int) {
	pool := workers.NewPool(len(ids), p.logger)
	pool.Start()

	var mu sync.Mutex
	for i := range ids {
		id, text, vector := ids[i], texts[i], vectors[i]
		_ = pool.Submit(func(context.Context) error {
			if err := p.issues.SaveEmbedding(ctx, &models.IssueEmbedding{
				IssueID:      id,
				Vector:       vector,
				EmbeddedText: text,
				Model:        p.embedder.ModelName(),
			}); err != nil {
				return fmt.Errorf("save embedding %s: %w", id, err)
			}
			mu.Lock()
			success++
			mu.Unlock()
			return nil
		})
	}
	pool.Wait()

	for _, err := range pool.Errors() {
		p.logger.Warn().Err(err).Msg("embedding save failed")
	}
	return success
}

func (p *Pipeline) publish(ctx context.Context, jobID string, eventType interfaces.EventType, data map[string]interface{}) {
	if p.events == nil {
		return
	}
	_ = p.events.Publish(ctx, interfaces.ProgressEvent{JobID: jobID, Type: eventType, Data: data})
}
