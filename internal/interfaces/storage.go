package interfaces

import (
	"context"
	"time"

	"github.com/tenwire/imscrawl/internal/models"
)

// IssueStore persists issues, embeddings, and relations.
type IssueStore interface {
	// Save upserts on (UserID, ImsID); on conflict it updates all mutable
	// columns and returns the existing internal id.
	Save(ctx context.Context, issue *models.Issue) (string, error)

	SaveEmbedding(ctx context.Context, embedding *models.IssueEmbedding) error
	SaveRelation(ctx context.Context, relation *models.IssueRelation) error

	FindByID(ctx context.Context, id string) (*models.Issue, error)
	FindByUserID(ctx context.Context, userID string, limit int) ([]*models.Issue, error)

	// SearchByVector ranks by cosine similarity, attaching the score
	// (1 - cosine distance) to each result as
	// CustomFields["similarity_score"].
	SearchByVector(ctx context.Context, vector []float32, userID string, limit int) ([]*models.Issue, error)

	// SearchHybrid retrieves up to candidateLimit candidate issues for
	// userID, newest first: FTS5 keyword matches when the query yields any,
	// otherwise the most recent issues. It delegates ranking to the Hybrid
	// Retrieval engine.
	SearchHybrid(ctx context.Context, query, userID string, limit, candidateLimit int) ([]*models.Issue, error)

	// GetEmbeddedImsIds returns the subset of ids that already have an
	// IssueEmbedding row, used by retries/backfills to skip re-embedding.
	GetEmbeddedImsIds(ctx context.Context, userID string, ids []string) (map[string]bool, error)

	CountByUserID(ctx context.Context, userID string) (int, error)
}

// CredentialsStore persists UserCredentials.
type CredentialsStore interface {
	Save(ctx context.Context, creds *models.UserCredentials) error
	Get(ctx context.Context, userID string) (*models.UserCredentials, error)
	Delete(ctx context.Context, userID string) error
}

// JobStore persists CrawlJob records.
type JobStore interface {
	Save(ctx context.Context, job *models.CrawlJob) error
	Get(ctx context.Context, jobID string) (*models.CrawlJob, error)

	// FindRecentCompleted returns a completed job for (userID, rawQuery)
	// completed at or after cutoff, or nil if none exists.
	FindRecentCompleted(ctx context.Context, userID, rawQuery string, cutoff time.Time) (*models.CrawlJob, error)

	// DeleteOlderThanCutoff deletes terminal jobs completed before cutoff
	// and returns the count removed.
	DeleteOlderThanCutoff(ctx context.Context, cutoff time.Time) (int, error)
}
