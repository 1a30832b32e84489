package models

// IntentKind enumerates the shapes a parsed natural-language query can take.
type IntentKind string

const (
	IntentKeyword  IntentKind = "keyword"
	IntentStatus   IntentKind = "status"
	IntentPriority IntentKind = "priority"
	IntentDate     IntentKind = "date"
	IntentAssignee IntentKind = "assignee"
	IntentProject  IntentKind = "project"
	IntentComplex  IntentKind = "complex"
	IntentSemantic IntentKind = "semantic"
	IntentListAll  IntentKind = "list_all"
)

// DateBounds is an optional inclusive date filter, RFC3339 date strings
// (empty string means unbounded on that side).
type DateBounds struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// SearchIntent is an immutable value produced by the NL parser and consumed
// by the retrieval path; it is never persisted.
type SearchIntent struct {
	Kind       IntentKind `json:"kind"`
	Keywords   []string   `json:"keywords,omitempty"`
	Status     string     `json:"status,omitempty"`
	Priority   string     `json:"priority,omitempty"`
	Assignee   string     `json:"assignee,omitempty"`
	Project    string     `json:"project,omitempty"`
	Dates      DateBounds `json:"dates,omitempty"`
	Semantic   string     `json:"semantic_query,omitempty"`
	Confidence float64    `json:"confidence"`
}
