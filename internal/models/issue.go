package models

import (
	"strings"
	"time"
)

// Status is the normalized issue status enum. The verbatim IMS string is
// preserved separately on Issue.RawStatus so the UI can still show what the
// server actually said.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
	StatusPending    Status = "pending"
	StatusRejected   Status = "rejected"
)

// Priority is the normalized issue priority enum.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
	PriorityTrivial  Priority = "trivial"
)

// maxActionLogChars caps the concatenated action-log text persisted with an
// issue; the IMS comment stream can run unbounded and there is no value in
// keeping more than a recent window of it for retrieval context.
const maxActionLogChars = 10_000

// Issue is the canonical crawled record. It is created by the scraper and
// upserted by the store keyed on (UserID, ImsID); nothing outside ingestion
// mutates it afterward.
type Issue struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	ImsID       string `json:"ims_id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Status    Status `json:"status"`
	RawStatus string `json:"raw_status"`

	Priority    Priority `json:"priority"`
	RawPriority string   `json:"raw_priority"`

	Category string `json:"category,omitempty"`
	Product  string `json:"product,omitempty"`
	Version  string `json:"version,omitempty"`
	Module   string `json:"module,omitempty"`
	Customer string `json:"customer,omitempty"`

	IssuedDate string `json:"issued_date,omitempty"`
	Reporter   string `json:"reporter,omitempty"`
	Assignee   string `json:"assignee,omitempty"`
	ProjectKey string `json:"project_key,omitempty"`
	IssueType  string `json:"issue_type,omitempty"`

	Labels []string `json:"labels,omitempty"`

	CommentCount    int `json:"comment_count"`
	AttachmentCount int `json:"attachment_count"`

	IssueDetails string `json:"issue_details,omitempty"`
	ActionLog    string `json:"action_log,omitempty"`

	RelatedImsIDs []string `json:"related_ims_ids,omitempty"`

	CustomFields map[string]interface{} `json:"custom_fields,omitempty"`

	SourceURL string    `json:"source_url"`
	CrawledAt time.Time `json:"crawled_at"`
}

// Normalize enforces the issue invariants: ImsID must be non-empty (caller's
// responsibility) and Title is synthesized when the IMS page yielded none.
func (i *Issue) Normalize() {
	if i.Title == "" {
		i.Title = "Issue " + i.ImsID
	}
	if len(i.ActionLog) > maxActionLogChars {
		i.ActionLog = i.ActionLog[:maxActionLogChars]
	}
}

// EmbeddingText is the text phase 1 hands to the embedding port: title,
// description, and any attachment text the caller appends.
func (i *Issue) EmbeddingText(attachmentTexts ...string) string {
	text := i.Title + " " + i.Description
	for _, t := range attachmentTexts {
		if t != "" {
			text += " " + t
		}
	}
	return text
}

// statusBucket and priorityBucket pair a canonical enum value with the
// case-insensitive substrings that map to it. These are checked in slice
// order, most-specific first, rather than stored in a map: the substrings
// are NOT mutually exclusive across buckets (e.g. "VERY HIGH" contains
// "HIGH"), so a map's non-deterministic iteration order would make
// NormalizePriority("VERY HIGH") return critical or high at random across
// runs. Ordering the critical bucket before the high bucket is what makes
// "VERY HIGH" -> critical deterministic.
type statusBucket struct {
	status     Status
	substrings []string
}

type priorityBucket struct {
	priority   Priority
	substrings []string
}

var statusSubstrings = []statusBucket{
	{StatusClosed, []string{"CLOSED", "CLOSED_P"}},
	{StatusResolved, []string{"RESOLVED", "FIXED", "DONE"}},
	{StatusRejected, []string{"REJECT", "DECLINE", "WONTFIX", "WON'T FIX"}},
	{StatusInProgress, []string{"PROGRESS", "IN_PROGRESS", "ASSIGNED", "WORKING"}},
	{StatusPending, []string{"PENDING", "HOLD", "WAITING"}},
	{StatusOpen, []string{"OPEN", "NEW", "REGISTERED", "등록"}},
}

var prioritySubstrings = []priorityBucket{
	{PriorityCritical, []string{"CRITICAL", "URGENT", "VERY HIGH", "긴급"}},
	{PriorityHigh, []string{"HIGH", "높음"}},
	{PriorityMedium, []string{"MEDIUM", "NORMAL", "보통"}},
	{PriorityLow, []string{"LOW", "낮음"}},
	{PriorityTrivial, []string{"TRIVIAL", "MINOR"}},
}

func containsAnyFold(haystack string, needles []string) bool {
	upper := strings.ToUpper(haystack)
	for _, n := range needles {
		if strings.Contains(upper, strings.ToUpper(n)) {
			return true
		}
	}
	return false
}

// NormalizeStatus maps a verbatim IMS status string onto the canonical enum,
// falling back to StatusOpen when nothing matches (new/unrecognized IMS
// statuses default to "open" rather than an empty value).
func NormalizeStatus(raw string) Status {
	for _, bucket := range statusSubstrings {
		if containsAnyFold(raw, bucket.substrings) {
			return bucket.status
		}
	}
	return StatusOpen
}

// NormalizePriority maps a verbatim IMS priority string onto the canonical
// enum, falling back to PriorityMedium when nothing matches. Buckets are
// checked most-specific first (critical before high) so that "VERY HIGH",
// which contains the substring "HIGH", deterministically lands on critical.
func NormalizePriority(raw string) Priority {
	for _, bucket := range prioritySubstrings {
		if containsAnyFold(raw, bucket.substrings) {
			return bucket.priority
		}
	}
	return PriorityMedium
}
