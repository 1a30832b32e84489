// Package orchestrator implements the job orchestrator: the single state
// machine driving one crawl job from submission through authentication,
// search, parallel detail-fetch, and the ingestion pipeline, to
// completion/failure/cancellation. A small struct wraps the job store and
// event service, runs execution on a panic-safe goroutine, publishes
// progress events on every transition, and records each dispatched job id
// on a goqite-backed durable queue so it can be resumed after a restart.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
	"github.com/tenwire/imscrawl/internal/services/credentials"
	"github.com/tenwire/imscrawl/internal/services/ingestion"
	"github.com/tenwire/imscrawl/internal/services/intent"
	"github.com/tenwire/imscrawl/internal/services/scraper"
)

// Crawler is the subset of *scraper.Scraper the orchestrator needs, kept
// narrow so tests can substitute a stub session instead of standing up a
// live HTTP client. *scraper.Scraper satisfies this interface as-is.
type Crawler interface {
	IsAuthenticated() bool
	Authenticate(ctx context.Context, username, password string) error
	Search(ctx context.Context, opts scraper.SearchOptions, jobID string, events interfaces.EventService) ([]scraper.SearchRow, bool, error)
	CrawlParallel(ctx context.Context, rows []scraper.SearchRow, userID, jobID string, events interfaces.EventService, batchSize int) []*models.Issue
	FetchDetail(ctx context.Context, userID, imsID string) (*models.Issue, error)
}

// CrawlerFactory constructs (or reuses) the shared crawler session for one
// IMS base URL. The orchestrator caches the result per base URL so the
// cookie jar and auth flag carry over from one job to the next against that
// IMS instance.
type CrawlerFactory func(baseURL string) Crawler

// NewScraperFactory adapts scraper.New into a CrawlerFactory.
func NewScraperFactory(config common.CrawlerConfig, logger arbor.ILogger) CrawlerFactory {
	return func(baseURL string) Crawler {
		return scraper.New(baseURL, config, logger)
	}
}

type jobEntry struct {
	job        *models.CrawlJob
	cancelFunc context.CancelFunc
	executing  bool
}

// Orchestrator implements CreateJob/ExecuteJob/GetStatus/Cancel, wiring the
// credential manager, crawler session, ingestion pipeline, intent parser, and
// event service together into one job's lifecycle.
type Orchestrator struct {
	jobStore    interfaces.JobStore
	issues      interfaces.IssueStore
	credentials *credentials.Manager
	embedder    interfaces.EmbeddingPort
	events      interfaces.EventService
	intent      *intent.Parser
	logger      arbor.ILogger

	jobsConfig    common.JobsConfig
	crawlerConfig common.CrawlerConfig
	embedBatch    int
	saveBatch     int

	newCrawler CrawlerFactory

	mu   sync.RWMutex
	jobs map[string]*jobEntry

	scrapersMu sync.Mutex
	scrapers   map[string]Crawler

	cron  *cron.Cron
	queue *dispatchQueue
}

// New constructs an Orchestrator.
func New(
	jobStore interfaces.JobStore,
	issues interfaces.IssueStore,
	credManager *credentials.Manager,
	embedder interfaces.EmbeddingPort,
	events interfaces.EventService,
	intentParser *intent.Parser,
	newCrawler CrawlerFactory,
	jobsConfig common.JobsConfig,
	crawlerConfig common.CrawlerConfig,
	embeddingConfig common.EmbeddingConfig,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		jobStore:      jobStore,
		issues:        issues,
		credentials:   credManager,
		embedder:      embedder,
		events:        events,
		intent:        intentParser,
		logger:        logger,
		jobsConfig:    jobsConfig,
		crawlerConfig: crawlerConfig,
		embedBatch:    embeddingConfig.BatchSize,
		saveBatch:     ingestion.DefaultSaveBatchSize,
		newCrawler:    newCrawler,
		jobs:          make(map[string]*jobEntry),
		scrapers:      make(map[string]Crawler),
	}
}

// CreateJob submits a new crawl job for (userID, rawQuery), or returns a
// recently-completed job for the same pair unchanged when the query cache is
// enabled and opts.ForceRefresh is false. The
// second return value reports whether the job returned came from cache.
func (o *Orchestrator) CreateJob(ctx context.Context, userID, rawQuery string, opts models.JobConfig) (*models.CrawlJob, bool, error) {
	if !opts.ForceRefresh && o.jobsConfig.QueryCacheHours > 0 {
		cutoff := time.Now().Add(-o.jobsConfig.CacheTTL())
		cached, err := o.jobStore.FindRecentCompleted(ctx, userID, rawQuery, cutoff)
		if err != nil {
			return nil, false, fmt.Errorf("lookup cached job: %w", err)
		}
		if cached != nil {
			return cached, true, nil
		}
	}

	if o.jobsConfig.QueryCacheCleanupEnabled {
		common.SafeGo(o.logger, "job-cache-cleanup", func() {
			o.cleanupExpired(context.Background())
		})
	}

	job := &models.CrawlJob{
		ID:        common.NewJobID(),
		UserID:    userID,
		RawQuery:  rawQuery,
		Status:    models.JobPending,
		CreatedAt: time.Now(),
		Config:    opts,
	}
	if err := o.jobStore.Save(ctx, job); err != nil {
		return nil, false, fmt.Errorf("save job: %w", err)
	}

	o.mu.Lock()
	o.jobs[job.ID] = &jobEntry{job: job}
	o.mu.Unlock()

	return job, false, nil
}

// ExecuteJob starts jobID's crawl asynchronously and returns its progress
// stream. The job must already exist (via CreateJob or GetStatus) in the
// in-memory map; executing an already-running job is an error.
func (o *Orchestrator) ExecuteJob(ctx context.Context, jobID string) (<-chan interfaces.ProgressEvent, error) {
	o.mu.Lock()
	entry, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if entry.executing {
		o.mu.Unlock()
		return nil, fmt.Errorf("job %s is already executing", jobID)
	}
	if entry.job.Status.IsTerminal() {
		o.mu.Unlock()
		return nil, fmt.Errorf("job %s is already in a terminal state: %s", jobID, entry.job.Status)
	}
	entry.executing = true
	runCtx, cancel := context.WithCancel(context.Background())
	entry.cancelFunc = cancel
	o.mu.Unlock()

	if o.queue != nil {
		if err := o.queue.enqueue(ctx, jobID); err != nil && o.logger != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to record job dispatch for crash recovery")
		}
	}

	stream := o.events.Stream(ctx, jobID)

	common.SafeGoWithContext(runCtx, o.logger, "execute-job:"+jobID, func() {
		defer cancel()
		o.runJob(runCtx, entry.job)
	})

	return stream, nil
}

// GetStatus returns jobID's current CrawlJob, preferring the in-memory entry
// (authoritative while a job is executing) and falling back to the store.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*models.CrawlJob, error) {
	o.mu.RLock()
	if entry, ok := o.jobs[jobID]; ok {
		o.mu.RUnlock()
		return entry.job, nil
	}
	o.mu.RUnlock()

	job, err := o.jobStore.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	o.mu.Lock()
	if _, ok := o.jobs[jobID]; !ok {
		o.jobs[jobID] = &jobEntry{job: job}
	}
	o.mu.Unlock()

	return job, nil
}

// Cancel transitions jobID to Failed with message "Cancelled by user" and
// aborts its in-flight context, if any. Cancelling an already-terminal job
// is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	entry, ok := o.jobs[jobID]
	o.mu.Unlock()

	if !ok {
		job, err := o.jobStore.Get(ctx, jobID)
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		if job == nil {
			return fmt.Errorf("job %s not found", jobID)
		}
		if job.Status.IsTerminal() {
			return nil
		}
		job.Cancel()
		return o.jobStore.Save(ctx, job)
	}

	if entry.job.Status.IsTerminal() {
		return nil
	}

	entry.job.Cancel()
	if entry.cancelFunc != nil {
		entry.cancelFunc()
	}
	if err := o.jobStore.Save(ctx, entry.job); err != nil {
		return fmt.Errorf("persist cancelled job: %w", err)
	}
	o.publish(entry.job.ID, interfaces.EventJobFailed, map[string]interface{}{"reason": "cancelled"})
	return nil
}

// StartCleanupScheduler registers the expired-job sweep against
// JobsConfig.CleanupCronSchedule. A
// blank schedule disables scheduled cleanup; CreateJob's opportunistic sweep
// still runs independently of this.
func (o *Orchestrator) StartCleanupScheduler() error {
	if o.jobsConfig.CleanupCronSchedule == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(o.jobsConfig.CleanupCronSchedule, func() {
		o.cleanupExpired(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule job cleanup %q: %w", o.jobsConfig.CleanupCronSchedule, err)
	}
	c.Start()
	o.cron = c
	return nil
}

// Close stops the cleanup scheduler, if one was started.
func (o *Orchestrator) Close() {
	if o.cron != nil {
		o.cron.Stop()
	}
}

// EnableDispatchQueue wires a durable goqite-backed dispatch log onto the
// orchestrator. db must
// already have had goqite.Setup run against it, which
// storage/sqlite.Open/connection.go does at startup. ExecuteJob still runs
// jobs directly in-process; the queue exists solely so RecoverPendingJobs
// can resume a job that was enqueued but never finished before a process
// restart, rather than leaving it silently abandoned.
func (o *Orchestrator) EnableDispatchQueue(db *sql.DB) {
	o.queue = newDispatchQueue(db, o.logger)
}

// RecoverPendingJobs drains the dispatch queue once at startup. Any job id
// still found in the queue but already terminal is dropped; anything still
// in-flight (the process died mid-execution) is re-submitted through
// ExecuteJob. Safe to call even when EnableDispatchQueue was never called
// (no-op).
func (o *Orchestrator) RecoverPendingJobs(ctx context.Context) error {
	if o.queue == nil {
		return nil
	}

	for {
		jobID, msgID, ok, err := o.queue.receive(ctx)
		if err != nil {
			return fmt.Errorf("recover pending jobs: %w", err)
		}
		if !ok {
			return nil
		}

		if err := o.queue.delete(ctx, msgID); err != nil && o.logger != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to clear recovered dispatch record")
		}

		job, err := o.GetStatus(ctx, jobID)
		if err != nil || job == nil || job.Status.IsTerminal() {
			continue
		}

		if o.logger != nil {
			o.logger.Info().Str("job_id", jobID).Msg("resuming crawl job interrupted by restart")
		}
		if _, err := o.ExecuteJob(ctx, jobID); err != nil && o.logger != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to resume recovered job")
		}
	}
}

func (o *Orchestrator) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().Add(-o.jobsConfig.CleanupCutoffAge())
	n, err := o.jobStore.DeleteOlderThanCutoff(ctx, cutoff)
	if err != nil {
		if o.logger != nil {
			o.logger.Warn().Err(err).Msg("expired job cleanup failed")
		}
		return
	}
	if n > 0 && o.logger != nil {
		o.logger.Info().Int("count", n).Msg("expired jobs cleaned up")
	}
}

// runJob drives job through its full state machine. Any error on the way
// fails the job rather than propagating; ctx cancellation (from Cancel)
// aborts in-flight scraper/pipeline calls since they're all context-bound.
func (o *Orchestrator) runJob(ctx context.Context, job *models.CrawlJob) {
	defer func() {
		if r := recover(); r != nil {
			if o.logger != nil {
				o.logger.Error().Interface("panic", r).Str("job_id", job.ID).Msg("crawl job panicked")
			}
			job.Fail(fmt.Sprintf("internal error: %v", r))
			o.persistJob(context.Background(), job)
			o.publish(job.ID, interfaces.EventJobFailed, map[string]interface{}{"error": job.ErrorMessage})
		}
		o.mu.Lock()
		if entry, ok := o.jobs[job.ID]; ok {
			entry.executing = false
		}
		o.mu.Unlock()
	}()

	o.publish(job.ID, interfaces.EventJobStarted, map[string]interface{}{"user_id": job.UserID, "query": job.RawQuery})

	creds, err := o.credentials.Get(ctx, job.UserID)
	if err != nil {
		o.fail(ctx, job, fmt.Sprintf("load credentials: %v", err))
		return
	}
	if creds == nil {
		o.fail(ctx, job, "no IMS credentials configured for user")
		return
	}

	crawler := o.crawlerFor(creds.ImsBaseURL)

	o.transition(ctx, job, models.JobAuthenticating, "authenticating", 5)
	o.publish(job.ID, interfaces.EventAuthenticating, nil)

	if !crawler.IsAuthenticated() {
		username, password, err := o.credentials.Decrypt(ctx, job.UserID)
		if err != nil {
			o.fail(ctx, job, "authentication failed: could not decrypt stored credentials")
			return
		}
		if err := crawler.Authenticate(ctx, username, password); err != nil {
			o.fail(ctx, job, fmt.Sprintf("authentication failed: %v", err))
			return
		}
	}
	o.publish(job.ID, interfaces.EventAuthenticated, nil)

	o.transition(ctx, job, models.JobParsing, "parsing query", 10)
	if o.intent != nil {
		searchIntent, err := o.intent.Parse(ctx, job.RawQuery, "auto")
		if err != nil {
			if o.logger != nil {
				o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("intent parse failed, continuing with raw query")
			}
		} else {
			job.IntentTag = string(searchIntent.Kind)
			job.ParsedQuery = o.intent.ConvertToIMSSyntax(searchIntent)
		}
	}

	o.transition(ctx, job, models.JobCrawling, "searching issues", 20)
	searchQuery := job.RawQuery
	if job.ParsedQuery != "" {
		searchQuery = job.ParsedQuery
	}
	rows, truncated, err := crawler.Search(ctx, scraper.SearchOptions{
		Query:        searchQuery,
		ProductCodes: job.Config.ProductCodes,
		UserID:       job.UserID,
	}, job.ID, o.events)
	if err != nil {
		o.fail(ctx, job, fmt.Sprintf("search failed: %v", err))
		return
	}

	job.IssuesFound = len(rows)
	if job.Config.MaxIssues > 0 && len(rows) > job.Config.MaxIssues {
		rows = rows[:job.Config.MaxIssues]
	}
	if truncated && o.logger != nil {
		o.logger.Warn().Str("job_id", job.ID).Msg("search pagination hit the safety ceiling; results are partial")
	}
	o.persistJob(ctx, job)

	o.transition(ctx, job, models.JobCrawling, "fetching issue details", 40)
	batchSize := o.crawlerConfig.MaxConcurrency
	if batchSize <= 0 {
		batchSize = scraper.DefaultBatchSize
	}
	crawledIssues := crawler.CrawlParallel(ctx, rows, job.UserID, job.ID, o.events, batchSize)

	if job.Config.IncludeAttachments {
		o.transition(ctx, job, models.JobProcessingAttachments, "extracting attachments", 55)
	}

	o.transition(ctx, job, models.JobEmbedding, "persisting and embedding issues", 65)
	pipeline := ingestion.NewPipeline(o.issues, o.embedder, o.events, crawler, o.logger, o.embedBatch, o.saveBatch)
	result, err := pipeline.Run(ctx, job, crawledIssues)
	if result != nil {
		job.ResultIssueIDs = result.IssueIDs
	}
	if err != nil {
		o.fail(ctx, job, fmt.Sprintf("embedding failed: %v", err))
		return
	}

	_ = job.Transition(models.JobCompleted, "completed", 100)
	o.persistJob(ctx, job)
	o.publish(job.ID, interfaces.EventJobCompleted, map[string]interface{}{
		"issues_found":          job.IssuesFound,
		"issues_crawled":        job.IssuesCrawled,
		"related_crawled":       job.RelatedCrawled,
		"attachments_processed": job.AttachmentsProcessed,
	})
}

// crawlerFor returns the cached Crawler for baseURL, constructing it via
// newCrawler on first use.
func (o *Orchestrator) crawlerFor(baseURL string) Crawler {
	o.scrapersMu.Lock()
	defer o.scrapersMu.Unlock()

	if c, ok := o.scrapers[baseURL]; ok {
		return c
	}
	c := o.newCrawler(baseURL)
	o.scrapers[baseURL] = c
	return c
}

func (o *Orchestrator) fail(ctx context.Context, job *models.CrawlJob, message string) {
	job.Fail(message)
	o.persistJob(ctx, job)
	o.publish(job.ID, interfaces.EventJobFailed, map[string]interface{}{"error": message})
}

func (o *Orchestrator) transition(ctx context.Context, job *models.CrawlJob, status models.JobStatus, step string, percentage int) {
	_ = job.Transition(status, step, percentage)
	o.persistJob(ctx, job)
}

func (o *Orchestrator) persistJob(ctx context.Context, job *models.CrawlJob) {
	if err := o.jobStore.Save(ctx, job); err != nil && o.logger != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist job")
	}
}

func (o *Orchestrator) publish(jobID string, eventType interfaces.EventType, data map[string]interface{}) {
	if o.events == nil {
		return
	}
	_ = o.events.Publish(context.Background(), interfaces.ProgressEvent{JobID: jobID, Type: eventType, Data: data})
}
