// Package scraper implements the authenticated HTTP session, search
// pagination, detail-page extraction, and parallel fetch that together form
// the crawl-job execution path against the IMS.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/tenwire/imscrawl/internal/common"
)

const loginPath = "/tody/auth/login.do"

// Scraper holds the single authenticated HTTP session shared by every job
// run against one IMS base URL. The cookie jar and auth flag are shared
// across jobs of the same process and treated as read-only once set.
type Scraper struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     common.CrawlerConfig
	logger     arbor.ILogger
	retry      *RetryPolicy

	baseURL string

	mu            sync.Mutex
	authenticated bool
}

// New constructs a Scraper for one IMS base URL. The HTTP client and cookie
// jar are built here, up front, and reused by every later call.
func New(baseURL string, config common.CrawlerConfig, logger arbor.ILogger) *Scraper {
	jar, _ := cookiejar.New(nil)
	if config.RequestsPerSecond <= 0 {
		// rate.Limit(0) blocks every Wait forever.
		config.RequestsPerSecond = 5
	}
	return &Scraper{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		config:  config,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		retry:   NewRetryPolicy(),
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: config.NavigationTimeout(),
		},
	}
}

// IsAuthenticated reports whether the shared session has a live login.
// Check-then-act races against a concurrent Authenticate are harmless: a
// redundant re-login is a no-op from the IMS's perspective.
func (s *Scraper) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Authenticate logs the session in with decrypted credentials. If the
// session is already authenticated this is a no-op; treats a
// redundant re-auth as acceptable rather than guarding it more strictly.
func (s *Scraper) Authenticate(ctx context.Context, username, password string) error {
	if s.IsAuthenticated() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.LoginTimeout())
	defer cancel()

	form := url.Values{}
	form.Set("id", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.applyCommonHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()
	if strings.Contains(finalURL, "/login") || strings.Contains(finalURL, "/auth/login") || strings.Contains(finalURL, "/error") {
		return fmt.Errorf("authentication failed: redirected to %s", finalURL)
	}

	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()

	s.logger.Info().Str("base_url", s.baseURL).Msg("ims session authenticated")
	return nil
}

func (s *Scraper) applyCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}

// post issues a rate-limited, context-bound form POST against the session,
// retrying transient failures per s.retry.
func (s *Scraper) post(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	body := form.Encode()
	return s.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// get issues a rate-limited, context-bound GET against the session,
// retrying transient failures per s.retry.
func (s *Scraper) get(ctx context.Context, rawURL string) (*http.Response, error) {
	return s.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
}

// doWithRetry wraps one rate-limited request in the scraper's retry policy.
// buildReq is called again on every attempt since http.Request bodies cannot
// be replayed once consumed.
func (s *Scraper) doWithRetry(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response

	statusCode, err := s.retry.ExecuteWithRetry(ctx, s.logger, func() (int, error) {
		if waitErr := s.limiter.Wait(ctx); waitErr != nil {
			return 0, waitErr
		}

		req, buildErr := buildReq()
		if buildErr != nil {
			return 0, buildErr
		}
		s.applyCommonHeaders(req)

		r, doErr := s.httpClient.Do(req)
		if doErr != nil {
			return 0, doErr
		}
		if resp != nil {
			resp.Body.Close()
		}
		resp = r
		return r.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}
	if statusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("request failed after retries: HTTP %d", statusCode)
	}
	return resp, nil
}

