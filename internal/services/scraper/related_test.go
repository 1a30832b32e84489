package scraper

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
)

func newTestScraper(t *testing.T, baseURL string) *Scraper {
	t.Helper()
	cfg := common.CrawlerConfig{
		UserAgent:           "test-agent",
		RequestsPerSecond:   1000,
		MaxSearchPages:      10,
		LoginTimeoutMS:      5000,
		NavigationTimeoutMS: 5000,
	}
	s := New(baseURL, cfg, arbor.NewLogger())
	s.retry = &RetryPolicy{
		MaxAttempts:          1,
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           time.Millisecond,
		BackoffMultiplier:    1,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
	return s
}

func TestFetchRelationAPI_ExcludesZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"issueId":"100","relationIssueId":"0"},{"issueId":"100","relationIssueId":"200"}]`))
	}))
	defer srv.Close()

	s := newTestScraper(t, srv.URL)
	ids, err := s.fetchRelationAPI(t.Context(), "100")
	require.NoError(t, err)
	assert.Equal(t, []string{"200"}, ids)
}

func TestExtractPatchListFields(t *testing.T) {
	html := `<script>popupPatchList('P1','S1','PR1','ProjOne','SiteOne')</script>`
	fields, ok := extractPatchListFields(html)
	require.True(t, ok)
	assert.Equal(t, "P1", fields.Project)
	assert.Equal(t, "S1", fields.Site)
	assert.Equal(t, "PR1", fields.Product)
	assert.Equal(t, "ProjOne", fields.ProjName)
	assert.Equal(t, "SiteOne", fields.SiteName)
}

func TestExtractPatchListFields_NotPresent(t *testing.T) {
	_, ok := extractPatchListFields("<div>nothing here</div>")
	assert.False(t, ok)
}

func TestFetchPatchList_HrefIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="detail.do?issueId=301">x</a><a href="detail.do?issueId=302">y</a></body></html>`))
	}))
	defer srv.Close()

	s := newTestScraper(t, srv.URL)
	ids, err := s.fetchPatchList(t.Context(), patchListFields{Project: "P1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"301", "302"}, ids)
}

func TestFetchPatchList_NumericCellFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><table><tr><td>12345</td></tr><tr><td>abc</td></tr></table></body></html>`))
	}))
	defer srv.Close()

	s := newTestScraper(t, srv.URL)
	ids, err := s.fetchPatchList(t.Context(), patchListFields{Project: "P1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"12345"}, ids)
}

func TestDedupExcluding(t *testing.T) {
	result := dedupExcluding([]string{"1", "2", "1", "3", "2"}, "3")
	assert.Equal(t, []string{"1", "2"}, result)
}
