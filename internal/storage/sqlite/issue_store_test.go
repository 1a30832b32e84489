package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/models"
)

func TestIssueStore_SaveAndFindByID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	store := NewIssueStore(db, logger)
	ctx := context.Background()

	issue := &models.Issue{
		UserID:     "user-1",
		ImsID:      "IMS-1001",
		Title:      "Login fails on mobile",
		RawStatus:  "OPEN",
		RawPriority: "HIGH",
		CrawledAt:  time.Now(),
	}

	id, err := store.Save(ctx, issue)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	found, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "IMS-1001", found.ImsID)
	assert.Equal(t, models.StatusOpen, found.Status)
	assert.Equal(t, models.PriorityHigh, found.Priority)
}

func TestIssueStore_SaveUpsertsOnUserAndImsID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	store := NewIssueStore(db, logger)
	ctx := context.Background()

	issue := &models.Issue{
		UserID:    "user-1",
		ImsID:     "IMS-2002",
		Title:     "Crash on save",
		RawStatus: "OPEN",
		CrawledAt: time.Now(),
	}
	id1, err := store.Save(ctx, issue)
	require.NoError(t, err)

	again := &models.Issue{
		UserID:    "user-1",
		ImsID:     "IMS-2002",
		Title:     "Crash on save (updated)",
		RawStatus: "CLOSED",
		CrawledAt: time.Now(),
	}
	id2, err := store.Save(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "upsert should reuse the existing internal id")

	found, err := store.FindByID(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "Crash on save (updated)", found.Title)
	assert.Equal(t, models.StatusClosed, found.Status)

	count, err := store.CountByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIssueStore_FindByUserIDOrdersByCrawledAtDesc(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	store := NewIssueStore(db, logger)
	ctx := context.Background()

	older := &models.Issue{UserID: "user-1", ImsID: "IMS-1", Title: "older", CrawledAt: time.Now().Add(-time.Hour)}
	newer := &models.Issue{UserID: "user-1", ImsID: "IMS-2", Title: "newer", CrawledAt: time.Now()}

	_, err := store.Save(ctx, older)
	require.NoError(t, err)
	_, err = store.Save(ctx, newer)
	require.NoError(t, err)

	issues, err := store.FindByUserID(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "IMS-2", issues[0].ImsID)
	assert.Equal(t, "IMS-1", issues[1].ImsID)
}

func TestIssueStore_SaveEmbeddingAndSearchByVector(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	store := NewIssueStore(db, logger)
	ctx := context.Background()

	issueA := &models.Issue{UserID: "user-1", ImsID: "IMS-A", Title: "a", CrawledAt: time.Now()}
	idA, err := store.Save(ctx, issueA)
	require.NoError(t, err)

	issueB := &models.Issue{UserID: "user-1", ImsID: "IMS-B", Title: "b", CrawledAt: time.Now()}
	idB, err := store.Save(ctx, issueB)
	require.NoError(t, err)

	require.NoError(t, store.SaveEmbedding(ctx, &models.IssueEmbedding{
		IssueID: idA, Vector: []float32{1, 0, 0}, EmbeddedText: "a", Model: "test",
	}))
	require.NoError(t, store.SaveEmbedding(ctx, &models.IssueEmbedding{
		IssueID: idB, Vector: []float32{0, 1, 0}, EmbeddedText: "b", Model: "test",
	}))

	results, err := store.SearchByVector(ctx, []float32{1, 0, 0}, "user-1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "IMS-A", results[0].ImsID)
	assert.InDelta(t, 1.0, results[0].CustomFields["similarity_score"], 0.001)
}

func TestIssueStore_SaveRelationIsInsertOrIgnore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	store := NewIssueStore(db, logger)
	ctx := context.Background()

	issueA := &models.Issue{UserID: "user-1", ImsID: "IMS-A", Title: "a", CrawledAt: time.Now()}
	idA, _ := store.Save(ctx, issueA)
	issueB := &models.Issue{UserID: "user-1", ImsID: "IMS-B", Title: "b", CrawledAt: time.Now()}
	idB, _ := store.Save(ctx, issueB)

	rel := &models.IssueRelation{SourceID: idA, TargetID: idB, Kind: models.RelationRelatesTo}
	require.NoError(t, store.SaveRelation(ctx, rel))
	require.NoError(t, store.SaveRelation(ctx, rel), "duplicate relation save should be a no-op")
}

func TestIssueStore_GetEmbeddedImsIds(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	store := NewIssueStore(db, logger)
	ctx := context.Background()

	issueA := &models.Issue{UserID: "user-1", ImsID: "IMS-A", Title: "a", CrawledAt: time.Now()}
	idA, _ := store.Save(ctx, issueA)
	issueB := &models.Issue{UserID: "user-1", ImsID: "IMS-B", Title: "b", CrawledAt: time.Now()}
	_, _ = store.Save(ctx, issueB)

	require.NoError(t, store.SaveEmbedding(ctx, &models.IssueEmbedding{
		IssueID: idA, Vector: []float32{1, 0}, Model: "test",
	}))

	embedded, err := store.GetEmbeddedImsIds(ctx, "user-1", []string{"IMS-A", "IMS-B"})
	require.NoError(t, err)
	assert.True(t, embedded["IMS-A"])
	assert.False(t, embedded["IMS-B"])
}

func TestIssueStore_SearchHybridFallsBackToRecency(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	store := NewIssueStore(db, logger)
	ctx := context.Background()

	issue := &models.Issue{UserID: "user-1", ImsID: "IMS-A", Title: "unrelated title", CrawledAt: time.Now()}
	_, err := store.Save(ctx, issue)
	require.NoError(t, err)

	results, err := store.SearchHybrid(ctx, "", "user-1", 10, 50)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
