package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
)

// JobStore implements interfaces.JobStore over SQLite.
type JobStore struct {
	db     *DB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *DB, logger arbor.ILogger) interfaces.JobStore {
	return &JobStore{db: db, logger: logger}
}

func (s *JobStore) Save(ctx context.Context, job *models.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	config, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	resultIDs, err := json.Marshal(job.ResultIssueIDs)
	if err != nil {
		return fmt.Errorf("marshal result issue ids: %w", err)
	}

	const query = `
		INSERT INTO ims_crawl_jobs (
			id, user_id, raw_query, parsed_query, intent_tag, status, current_step,
			progress_percentage, issues_found, issues_crawled, attachments_processed,
			related_crawled, created_at, started_at, completed_at, error_message,
			retry_count, config, result_issue_ids
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, current_step = excluded.current_step,
			progress_percentage = excluded.progress_percentage,
			issues_found = excluded.issues_found, issues_crawled = excluded.issues_crawled,
			attachments_processed = excluded.attachments_processed,
			related_crawled = excluded.related_crawled, started_at = excluded.started_at,
			completed_at = excluded.completed_at, error_message = excluded.error_message,
			retry_count = excluded.retry_count, result_issue_ids = excluded.result_issue_ids,
			parsed_query = excluded.parsed_query, intent_tag = excluded.intent_tag`

	_, err = s.db.DB().ExecContext(ctx, query,
		job.ID, job.UserID, job.RawQuery, job.ParsedQuery, job.IntentTag, string(job.Status),
		job.CurrentStep, job.ProgressPercentage, job.IssuesFound, job.IssuesCrawled,
		job.AttachmentsProcessed, job.RelatedCrawled, job.CreatedAt, nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt), job.ErrorMessage, job.RetryCount, string(config), string(resultIDs))
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, jobID string) (*models.CrawlJob, error) {
	row := s.db.DB().QueryRowContext(ctx, jobSelectColumns+" FROM ims_crawl_jobs WHERE id = ?", jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *JobStore) FindRecentCompleted(ctx context.Context, userID, rawQuery string, cutoff time.Time) (*models.CrawlJob, error) {
	const query = jobSelectColumns + `
		FROM ims_crawl_jobs
		WHERE user_id = ? AND raw_query = ? AND status = ? AND completed_at >= ?
		ORDER BY completed_at DESC LIMIT 1`
	row := s.db.DB().QueryRowContext(ctx, query, userID, rawQuery, string(models.JobCompleted), cutoff)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *JobStore) DeleteOlderThanCutoff(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		DELETE FROM ims_crawl_jobs
		WHERE completed_at IS NOT NULL AND completed_at < ?
		AND status IN (?, ?, ?)`
	result, err := s.db.DB().ExecContext(ctx, query, cutoff,
		string(models.JobCompleted), string(models.JobFailed), string(models.JobCancelled))
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

const jobSelectColumns = `SELECT id, user_id, raw_query, parsed_query, intent_tag, status,
	current_step, progress_percentage, issues_found, issues_crawled, attachments_processed,
	related_crawled, created_at, started_at, completed_at, error_message, retry_count,
	config, result_issue_ids`

func scanJob(row rowScanner) (*models.CrawlJob, error) {
	var j models.CrawlJob
	var status string
	var startedAt, completedAt sql.NullTime
	var config, resultIDs string

	err := row.Scan(&j.ID, &j.UserID, &j.RawQuery, &j.ParsedQuery, &j.IntentTag, &status,
		&j.CurrentStep, &j.ProgressPercentage, &j.IssuesFound, &j.IssuesCrawled,
		&j.AttachmentsProcessed, &j.RelatedCrawled, &j.CreatedAt, &startedAt, &completedAt,
		&j.ErrorMessage, &j.RetryCount, &config, &resultIDs)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	_ = json.Unmarshal([]byte(config), &j.Config)
	_ = json.Unmarshal([]byte(resultIDs), &j.ResultIssueIDs)
	return &j, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
