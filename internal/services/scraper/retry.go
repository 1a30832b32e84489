package scraper

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/ternarybob/arbor"
)

// RetryPolicy defines retry behavior with exponential backoff, tuned against
// the IMS endpoints it fronts (issueSearchList.do/issueView.do/
// findRelationIssues.do/patchList.do): 5xx/408/429 responses from an
// overloaded IMS retry, but a context deadline exceeded does not: the
// login/navigation/selector timeouts configured on the scraper are meant to
// fail a job immediately rather than multiply its own wait behind a retry
// loop.
type RetryPolicy struct {
	MaxAttempts          int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffMultiplier    float64
	RetryableStatusCodes []int
	RetryableErrors      []error
}

// NewRetryPolicy creates the default retry policy used against IMS requests.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		RetryableStatusCodes: []int{
			408, // Request Timeout
			429, // Too Many Requests
			500, // Internal Server Error
			502, // Bad Gateway
			503, // Service Unavailable
			504, // Gateway Timeout
		},
		// RetryableErrors stays empty: a context deadline exceeded must
		// surface as a failure rather than retry, so no sentinel error is
		// pre-populated here. Callers with a genuinely retryable
		// non-network error (e.g. a classified IMS maintenance-page
		// sentinel) can append to this slice; retryableError consults it
		// via errors.Is.
	}
}

// ExecuteWithRetry runs fn until it succeeds, exhausts MaxAttempts, or hits
// a non-retryable outcome. fn reports the HTTP status of its attempt so
// retryability can be judged on status and error together.
func (p *RetryPolicy) ExecuteWithRetry(ctx context.Context, logger arbor.ILogger, fn func() (int, error)) (int, error) {
	var (
		statusCode int
		lastErr    error
	)

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		statusCode, lastErr = fn()
		if lastErr == nil && !p.retryableStatus(statusCode) {
			return statusCode, nil
		}

		last := attempt == p.MaxAttempts
		if last || !p.retryable(statusCode, lastErr) {
			if !last {
				logger.Debug().
					Int("attempt", attempt).
					Int("status_code", statusCode).
					Err(lastErr).
					Msg("request not retryable, failing")
				return statusCode, lastErr
			}
			break
		}

		wait := p.backoff(attempt)
		logger.Debug().
			Int("attempt", attempt).
			Int("status_code", statusCode).
			Err(lastErr).
			Dur("backoff", wait).
			Msg("retrying ims request after backoff")

		select {
		case <-ctx.Done():
			return statusCode, ctx.Err()
		case <-time.After(wait):
		}
	}

	logger.Warn().
		Int("max_attempts", p.MaxAttempts).
		Int("status_code", statusCode).
		Err(lastErr).
		Msg("ims request retries exhausted")
	return statusCode, lastErr
}

// retryable judges one attempt's outcome. A listed status code retries;
// any other 4xx is a hard client error; everything else falls through to
// error classification.
func (p *RetryPolicy) retryable(statusCode int, err error) bool {
	if statusCode > 0 {
		if p.retryableStatus(statusCode) {
			return true
		}
		if statusCode >= 400 && statusCode < 500 {
			return false
		}
	}
	return p.retryableError(err)
}

func (p *RetryPolicy) retryableStatus(statusCode int) bool {
	for _, code := range p.RetryableStatusCodes {
		if statusCode == code {
			return true
		}
	}
	return false
}

// retryableError reports whether err is worth another attempt: a
// connection-level failure against IMS, or an error explicitly listed in
// p.RetryableErrors. A context deadline exceeded is deliberately NOT
// retryable here: per-request timeouts surface as job failures rather than
// being retried.
func (p *RetryPolicy) retryableError(err error) bool {
	if err == nil {
		return false
	}

	for _, sentinel := range p.RetryableErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	// net.Error.Timeout() also covers a context deadline exceeded once it
	// reaches http.Client wrapped in a net error; timeouts must stay
	// non-retryable per the rule above.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Temporary() && !netErr.Timeout()
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// backoff returns the wait before the next attempt: exponential in the
// attempt number, capped at MaxBackoff, with ±25% jitter so concurrent
// batch fetches don't retry in lockstep.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	wait := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	wait = math.Min(wait, float64(p.MaxBackoff))
	wait *= 1 + 0.25*(rand.Float64()*2-1)
	if wait < 0 {
		wait = float64(p.InitialBackoff)
	}
	return time.Duration(wait)
}
