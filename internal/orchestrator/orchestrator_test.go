package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
	"github.com/tenwire/imscrawl/internal/services/credentials"
	"github.com/tenwire/imscrawl/internal/services/embeddings"
	"github.com/tenwire/imscrawl/internal/services/events"
	"github.com/tenwire/imscrawl/internal/services/intent"
	"github.com/tenwire/imscrawl/internal/services/llm"
	"github.com/tenwire/imscrawl/internal/services/scraper"
)

// --- fakes ----------------------------------------------------------------

type fakeJobStore struct {
	mu        sync.Mutex
	byID      map[string]*models.CrawlJob
	completed map[string]*models.CrawlJob // keyed by userID+"|"+rawQuery
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{byID: make(map[string]*models.CrawlJob), completed: make(map[string]*models.CrawlJob)}
}

func (f *fakeJobStore) Save(_ context.Context, job *models.CrawlJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.byID[job.ID] = &cp
	if job.Status == models.JobCompleted {
		f.completed[job.UserID+"|"+job.RawQuery] = &cp
	}
	return nil
}

func (f *fakeJobStore) Get(_ context.Context, jobID string) (*models.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.byID[jobID]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobStore) FindRecentCompleted(_ context.Context, userID, rawQuery string, cutoff time.Time) (*models.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.completed[userID+"|"+rawQuery]
	if !ok || job.CompletedAt == nil || job.CompletedAt.Before(cutoff) {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobStore) DeleteOlderThanCutoff(_ context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

var _ interfaces.JobStore = (*fakeJobStore)(nil)

type fakeIssueStore struct {
	mu    sync.Mutex
	saved map[string]*models.Issue
	embed map[string]*models.IssueEmbedding
}

func newFakeIssueStore() *fakeIssueStore {
	return &fakeIssueStore{saved: make(map[string]*models.Issue), embed: make(map[string]*models.IssueEmbedding)}
}

func (f *fakeIssueStore) Save(_ context.Context, issue *models.Issue) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := issue.ImsID + "-internal"
	f.saved[id] = issue
	return id, nil
}
func (f *fakeIssueStore) SaveEmbedding(_ context.Context, e *models.IssueEmbedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embed[e.IssueID] = e
	return nil
}
func (f *fakeIssueStore) SaveRelation(_ context.Context, r *models.IssueRelation) error { return nil }
func (f *fakeIssueStore) FindByID(_ context.Context, id string) (*models.Issue, error)  { return nil, nil }
func (f *fakeIssueStore) FindByUserID(_ context.Context, userID string, limit int) ([]*models.Issue, error) {
	return nil, nil
}
func (f *fakeIssueStore) SearchByVector(_ context.Context, vector []float32, userID string, limit int) ([]*models.Issue, error) {
	return nil, nil
}
func (f *fakeIssueStore) SearchHybrid(_ context.Context, query, userID string, limit, candidateLimit int) ([]*models.Issue, error) {
	return nil, nil
}
func (f *fakeIssueStore) GetEmbeddedImsIds(_ context.Context, userID string, ids []string) (map[string]bool, error) {
	return nil, nil
}
func (f *fakeIssueStore) CountByUserID(_ context.Context, userID string) (int, error) { return 0, nil }

var _ interfaces.IssueStore = (*fakeIssueStore)(nil)

type fakeCredStore struct {
	byUser map[string]*models.UserCredentials
}

func newFakeCredStore() *fakeCredStore { return &fakeCredStore{byUser: make(map[string]*models.UserCredentials)} }

func (f *fakeCredStore) Save(_ context.Context, creds *models.UserCredentials) error {
	cp := *creds
	f.byUser[creds.UserID] = &cp
	return nil
}
func (f *fakeCredStore) Get(_ context.Context, userID string) (*models.UserCredentials, error) {
	c, ok := f.byUser[userID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}
func (f *fakeCredStore) Delete(_ context.Context, userID string) error {
	delete(f.byUser, userID)
	return nil
}

var _ interfaces.CredentialsStore = (*fakeCredStore)(nil)

// identityEncryptor skips real encryption so tests don't need key material.
type identityEncryptor struct{}

func (identityEncryptor) Encrypt(plaintext string) ([]byte, error) { return []byte(plaintext), nil }
func (identityEncryptor) Decrypt(ciphertext []byte) (string, error) { return string(ciphertext), nil }

// fakeCrawler substitutes a live scraper.Scraper so tests never open a real
// HTTP session.
type fakeCrawler struct {
	mu            sync.Mutex
	authenticated bool
	authErr       error
	searchErr     error
	rows          []scraper.SearchRow
	issues        []*models.Issue
}

func (c *fakeCrawler) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *fakeCrawler) Authenticate(_ context.Context, _, _ string) error {
	if c.authErr != nil {
		return c.authErr
	}
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCrawler) Search(_ context.Context, _ scraper.SearchOptions, _ string, _ interfaces.EventService) ([]scraper.SearchRow, bool, error) {
	if c.searchErr != nil {
		return nil, false, c.searchErr
	}
	return c.rows, false, nil
}

func (c *fakeCrawler) CrawlParallel(_ context.Context, rows []scraper.SearchRow, userID, _ string, _ interfaces.EventService, _ int) []*models.Issue {
	if c.issues != nil {
		return c.issues
	}
	out := make([]*models.Issue, len(rows))
	for i, row := range rows {
		out[i] = row.ToIssue(userID)
	}
	return out
}

func (c *fakeCrawler) FetchDetail(_ context.Context, _, imsID string) (*models.Issue, error) {
	return &models.Issue{ImsID: imsID}, nil
}

var _ Crawler = (*fakeCrawler)(nil)

// --- fixtures ---------------------------------------------------------------

func newTestOrchestrator(t *testing.T, crawler *fakeCrawler) (*Orchestrator, *fakeJobStore) {
	t.Helper()

	jobStore := newFakeJobStore()
	issueStore := newFakeIssueStore()
	credStore := newFakeCredStore()
	credManager := credentials.NewManager(credStore, identityEncryptor{}, nil)
	require.NoError(t, credManager.Save(context.Background(), "user-1", "https://ims.example.com", "alice", "s3cret"))

	embedder := embeddings.NewMockService(4)
	eventSvc := events.NewService(arbor.NewLogger())
	intentParser := intent.NewParser(llm.NewMockService())

	jobsConfig := common.JobsConfig{QueryCacheHours: 24, QueryCacheCleanupEnabled: false, CleanupGraceHours: 24}
	crawlerConfig := common.CrawlerConfig{MaxConcurrency: 10}
	embeddingConfig := common.EmbeddingConfig{BatchSize: 32}

	orc := New(
		jobStore, issueStore, credManager, embedder, eventSvc, intentParser,
		func(string) Crawler { return crawler },
		jobsConfig, crawlerConfig, embeddingConfig, arbor.NewLogger(),
	)
	return orc, jobStore
}

func drain(ch <-chan interfaces.ProgressEvent) []interfaces.ProgressEvent {
	var events []interfaces.ProgressEvent
	for e := range ch {
		events = append(events, e)
	}
	return events
}

// --- tests ------------------------------------------------------------------

func TestCreateJob_PersistsPendingJob(t *testing.T) {
	orc, jobStore := newTestOrchestrator(t, &fakeCrawler{})

	job, cached, err := orc.CreateJob(context.Background(), "user-1", "login bug", models.JobConfig{})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, models.JobPending, job.Status)

	stored, err := jobStore.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, job.ID, stored.ID)
}

func TestCreateJob_ReturnsCachedCompletedJob(t *testing.T) {
	orc, jobStore := newTestOrchestrator(t, &fakeCrawler{})

	completed := &models.CrawlJob{ID: "job-old", UserID: "user-1", RawQuery: "login bug", Status: models.JobCompleted}
	now := time.Now()
	completed.CompletedAt = &now
	require.NoError(t, jobStore.Save(context.Background(), completed))

	job, cached, err := orc.CreateJob(context.Background(), "user-1", "login bug", models.JobConfig{})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "job-old", job.ID)
}

func TestCreateJob_ForceRefreshBypassesCache(t *testing.T) {
	orc, jobStore := newTestOrchestrator(t, &fakeCrawler{})

	completed := &models.CrawlJob{ID: "job-old", UserID: "user-1", RawQuery: "login bug", Status: models.JobCompleted}
	now := time.Now()
	completed.CompletedAt = &now
	require.NoError(t, jobStore.Save(context.Background(), completed))

	job, cached, err := orc.CreateJob(context.Background(), "user-1", "login bug", models.JobConfig{ForceRefresh: true})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.NotEqual(t, "job-old", job.ID)
}

func TestExecuteJob_CompletesSuccessfully(t *testing.T) {
	crawler := &fakeCrawler{rows: []scraper.SearchRow{
		{ImsID: "1", Subject: "first"},
		{ImsID: "2", Subject: "second"},
	}}
	orc, jobStore := newTestOrchestrator(t, crawler)

	job, _, err := orc.CreateJob(context.Background(), "user-1", "login bug", models.JobConfig{})
	require.NoError(t, err)

	stream, err := orc.ExecuteJob(context.Background(), job.ID)
	require.NoError(t, err)

	seen := drain(stream)
	require.NotEmpty(t, seen)
	assert.Equal(t, interfaces.EventJobCompleted, seen[len(seen)-1].Type)

	final, err := orc.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, final.Status)
	assert.Equal(t, 2, final.IssuesFound)
	assert.Equal(t, 2, final.IssuesCrawled)

	stored, err := jobStore.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, stored.Status)
}

func TestExecuteJob_AuthenticationFailureFailsJob(t *testing.T) {
	crawler := &fakeCrawler{authErr: errors.New("bad credentials")}
	orc, _ := newTestOrchestrator(t, crawler)

	job, _, err := orc.CreateJob(context.Background(), "user-1", "login bug", models.JobConfig{})
	require.NoError(t, err)

	stream, err := orc.ExecuteJob(context.Background(), job.ID)
	require.NoError(t, err)
	seen := drain(stream)

	var failed bool
	for _, e := range seen {
		if e.Type == interfaces.EventJobFailed {
			failed = true
		}
	}
	assert.True(t, failed)

	final, err := orc.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "authentication failed")
}

func TestExecuteJob_SearchFailureFailsJob(t *testing.T) {
	crawler := &fakeCrawler{searchErr: errors.New("ims unreachable")}
	orc, _ := newTestOrchestrator(t, crawler)

	job, _, err := orc.CreateJob(context.Background(), "user-1", "login bug", models.JobConfig{})
	require.NoError(t, err)

	stream, err := orc.ExecuteJob(context.Background(), job.ID)
	require.NoError(t, err)
	drain(stream)

	final, err := orc.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "search failed")
}

func TestExecuteJob_UnknownJobErrors(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &fakeCrawler{})
	_, err := orc.ExecuteJob(context.Background(), "missing")
	assert.Error(t, err)
}

func TestExecuteJob_AlreadyExecutingErrors(t *testing.T) {
	crawler := &fakeCrawler{rows: []scraper.SearchRow{{ImsID: "1"}}}
	orc, _ := newTestOrchestrator(t, crawler)

	job, _, err := orc.CreateJob(context.Background(), "user-1", "login bug", models.JobConfig{})
	require.NoError(t, err)

	_, err = orc.ExecuteJob(context.Background(), job.ID)
	require.NoError(t, err)

	_, err = orc.ExecuteJob(context.Background(), job.ID)
	assert.Error(t, err)
}

func TestCancel_TerminatesPendingJob(t *testing.T) {
	orc, jobStore := newTestOrchestrator(t, &fakeCrawler{})

	job, _, err := orc.CreateJob(context.Background(), "user-1", "login bug", models.JobConfig{})
	require.NoError(t, err)

	require.NoError(t, orc.Cancel(context.Background(), job.ID))

	final, err := orc.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	assert.Equal(t, "Cancelled by user", final.ErrorMessage)

	stored, err := jobStore.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)
}

func TestCancel_TerminalJobIsNoop(t *testing.T) {
	crawler := &fakeCrawler{rows: []scraper.SearchRow{{ImsID: "1"}}}
	orc, _ := newTestOrchestrator(t, crawler)

	job, _, err := orc.CreateJob(context.Background(), "user-1", "login bug", models.JobConfig{})
	require.NoError(t, err)

	stream, err := orc.ExecuteJob(context.Background(), job.ID)
	require.NoError(t, err)
	drain(stream)

	require.NoError(t, orc.Cancel(context.Background(), job.ID))

	final, err := orc.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, final.Status)
}

func TestGetStatus_UnknownJobReturnsNil(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &fakeCrawler{})
	job, err := orc.GetStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestStartCleanupScheduler_BlankScheduleIsNoop(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &fakeCrawler{})
	orc.jobsConfig.CleanupCronSchedule = ""
	require.NoError(t, orc.StartCleanupScheduler())
	orc.Close()
}

func TestStartCleanupScheduler_InvalidScheduleErrors(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &fakeCrawler{})
	orc.jobsConfig.CleanupCronSchedule = "not a cron expression"
	assert.Error(t, orc.StartCleanupScheduler())
}
