package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrawlJob_Cancel_TransitionsToFailed(t *testing.T) {
	job := &CrawlJob{Status: JobCrawling, ProgressPercentage: 40}

	job.Cancel()

	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, "Cancelled by user", job.ErrorMessage)
	assert.True(t, job.Status.IsTerminal())
}

func TestCrawlJob_Cancel_NoopOnTerminalJob(t *testing.T) {
	job := &CrawlJob{Status: JobCompleted, ProgressPercentage: 100}

	job.Cancel()

	assert.Equal(t, JobCompleted, job.Status)
	assert.Empty(t, job.ErrorMessage)
}

func TestCrawlJob_CanRetry_DoesNotExcludeCancelledFailures(t *testing.T) {
	job := &CrawlJob{Status: JobCrawling}
	job.Cancel()

	assert.True(t, job.CanRetry())
}
