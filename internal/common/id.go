package common

import (
	"github.com/google/uuid"
)

// NewIssueID generates a unique internal issue id with the "issue_" prefix.
func NewIssueID() string {
	return "issue_" + uuid.New().String()
}

// NewJobID generates a unique crawl job id with the "job_" prefix.
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewConversationID generates a unique RAG conversation id.
func NewConversationID() string {
	return "conv_" + uuid.New().String()
}

// NewMessageID generates a unique chat message id.
func NewMessageID() string {
	return "msg_" + uuid.New().String()
}
