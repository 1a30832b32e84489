package models

import "time"

// JobStatus is the CrawlJob state machine. Terminal states are Completed,
// Failed, and Cancelled; every other state may transition to Failed on an
// uncaught error or on operator cancellation request (Cancel() produces
// Failed with message "Cancelled by user", not the distinct Cancelled
// value).
type JobStatus string

const (
	JobPending                JobStatus = "pending"
	JobAuthenticating         JobStatus = "authenticating"
	JobParsing                JobStatus = "parsing"
	JobCrawling               JobStatus = "crawling"
	JobProcessingAttachments  JobStatus = "processing_attachments"
	JobEmbedding              JobStatus = "embedding"
	JobCompleted              JobStatus = "completed"
	JobFailed                 JobStatus = "failed"
	JobCancelled              JobStatus = "cancelled"
)

// IsTerminal reports whether a status is one the state machine never leaves.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// MaxRetries bounds CrawlJob.RetryCount; retries are not automatic within a
// single execution, this only caps how many times an operator may resubmit.
const MaxRetries = 3

// RelatedCrawlMaxDepth bounds related-issue recursion: a related issue is
// crawled and persisted, but related-of-related is never followed.
const RelatedCrawlMaxDepth = 1

// JobConfig holds the options a caller supplies on CreateJob.
type JobConfig struct {
	IncludeAttachments bool     `json:"include_attachments"`
	IncludeRelated     bool     `json:"include_related"`
	MaxIssues          int      `json:"max_issues"`
	ProductCodes       []string `json:"product_codes,omitempty"`
	ForceRefresh       bool     `json:"force_refresh"`
}

// CrawlJob is the unit of orchestration: created on submit, mutated only by
// the orchestrator through an explicit state-transition API, persisted on
// every transition.
type CrawlJob struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	RawQuery   string    `json:"raw_query"`
	ParsedQuery string   `json:"parsed_query,omitempty"`
	IntentTag  string    `json:"intent_tag,omitempty"`
	Status     JobStatus `json:"status"`
	CurrentStep string   `json:"current_step,omitempty"`
	ProgressPercentage int `json:"progress_percentage"`

	IssuesFound          int `json:"issues_found"`
	IssuesCrawled        int `json:"issues_crawled"`
	AttachmentsProcessed int `json:"attachments_processed"`
	RelatedCrawled       int `json:"related_crawled"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`

	Config JobConfig `json:"config"`

	ResultIssueIDs []string `json:"result_issue_ids,omitempty"`
}

// CanRetry exposes whether an operator may resubmit a terminal job.
func (j *CrawlJob) CanRetry() bool {
	return j.Status.IsTerminal() && j.RetryCount < MaxRetries
}

// Transition mutates status/step/percentage in place, enforcing the
// monotonic-progress and terminal-idempotence invariants. Callers persist
// the job after a successful transition.
func (j *CrawlJob) Transition(status JobStatus, step string, percentage int) error {
	if j.Status.IsTerminal() {
		// terminal states are sticky; subsequent writes are no-ops.
		return nil
	}
	if percentage < j.ProgressPercentage {
		percentage = j.ProgressPercentage
	}
	if percentage > 100 {
		percentage = 100
	}
	j.Status = status
	j.CurrentStep = step
	j.ProgressPercentage = percentage
	now := time.Now()
	if j.StartedAt == nil && status != JobPending {
		j.StartedAt = &now
	}
	if status.IsTerminal() {
		j.CompletedAt = &now
	}
	return nil
}

// Fail transitions the job to Failed with the given message, unless it is
// already terminal.
func (j *CrawlJob) Fail(message string) {
	if j.Status.IsTerminal() {
		return
	}
	j.ErrorMessage = message
	_ = j.Transition(JobFailed, "failed: "+message, j.ProgressPercentage)
}

// Cancel transitions a non-terminal job to Failed with the message
// "Cancelled by user"; idempotent on already-terminal jobs. Cancellation is
// not a distinct terminal state: a cancelled job is a failed job, same as
// any other uncaught error.
func (j *CrawlJob) Cancel() {
	if j.Status.IsTerminal() {
		return
	}
	j.ErrorMessage = "Cancelled by user"
	_ = j.Transition(JobFailed, "Cancelled by user", j.ProgressPercentage)
}
