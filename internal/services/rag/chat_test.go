package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
	"github.com/tenwire/imscrawl/internal/services/llm"
)

type fakeIssueStore struct {
	byID map[string]*models.Issue
}

func (f *fakeIssueStore) Save(context.Context, *models.Issue) (string, error) { return "", nil }
func (f *fakeIssueStore) SaveEmbedding(context.Context, *models.IssueEmbedding) error { return nil }
func (f *fakeIssueStore) SaveRelation(context.Context, *models.IssueRelation) error   { return nil }
func (f *fakeIssueStore) FindByID(_ context.Context, id string) (*models.Issue, error) {
	return f.byID[id], nil
}
func (f *fakeIssueStore) FindByUserID(context.Context, string, int) ([]*models.Issue, error) {
	return nil, nil
}
func (f *fakeIssueStore) SearchByVector(context.Context, []float32, string, int) ([]*models.Issue, error) {
	return nil, nil
}
func (f *fakeIssueStore) SearchHybrid(context.Context, string, string, int, int) ([]*models.Issue, error) {
	return nil, nil
}
func (f *fakeIssueStore) GetEmbeddedImsIds(context.Context, string, []string) (map[string]bool, error) {
	return nil, nil
}
func (f *fakeIssueStore) CountByUserID(context.Context, string) (int, error) { return 0, nil }

func TestChat_RequiresNonEmptyIssueIDs(t *testing.T) {
	builder := NewBuilder(llm.NewMockService(), &fakeIssueStore{byID: map[string]*models.Issue{}}, nil)
	_, err := builder.Chat(context.Background(), Request{Question: "hi"})
	assert.Error(t, err)
}

func TestChat_HarvestsReferencedIssuesFromResponse(t *testing.T) {
	store := &fakeIssueStore{byID: map[string]*models.Issue{
		"issue_1": {ID: "issue_1", ImsID: "IMS-12345", Title: "Login crash", Status: models.StatusOpen},
	}}
	mock := llm.NewMockService()
	mock.ChatFunc = func(_ context.Context, _ []interfaces.Message) (string, error) {
		return "Issue IMS-12345 describes a login crash.", nil
	}
	builder := NewBuilder(mock, store, nil)

	resp, err := builder.Chat(context.Background(), Request{Question: "what does it say?", IssueIDs: []string{"issue_1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"IMS-12345"}, resp.ReferencedIssues)
	assert.NotEmpty(t, resp.ConversationID)
}

func TestChat_DoesNotReferenceOutOfScopeIssue(t *testing.T) {
	store := &fakeIssueStore{byID: map[string]*models.Issue{
		"issue_1": {ID: "issue_1", ImsID: "IMS-12345", Title: "In scope"},
	}}
	mock := llm.NewMockService()
	mock.ChatFunc = func(_ context.Context, _ []interfaces.Message) (string, error) {
		return "IMS-99999 is not in the provided context.", nil
	}
	builder := NewBuilder(mock, store, nil)

	resp, err := builder.Chat(context.Background(), Request{Question: "what about IMS-99999?", IssueIDs: []string{"issue_1"}})
	require.NoError(t, err)
	assert.Empty(t, resp.ReferencedIssues)
}

func TestChat_ConversationHistoryReplayedOnSecondTurn(t *testing.T) {
	store := &fakeIssueStore{byID: map[string]*models.Issue{
		"issue_1": {ID: "issue_1", ImsID: "IMS-1", Title: "first"},
	}}
	var seenMessages [][]interfaces.Message
	mock := llm.NewMockService()
	mock.ChatFunc = func(_ context.Context, messages []interfaces.Message) (string, error) {
		seenMessages = append(seenMessages, messages)
		return "ok", nil
	}
	builder := NewBuilder(mock, store, nil)

	req := Request{Question: "first question", IssueIDs: []string{"issue_1"}, ConversationID: "conv-1"}
	_, err := builder.Chat(context.Background(), req)
	require.NoError(t, err)

	req.Question = "second question"
	_, err = builder.Chat(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, seenMessages, 2)
	assert.Len(t, seenMessages[1], 4) // system, user(first), assistant(ok), user(second)
}

func TestSystemPrompt_EmptyIssuesInstructsDecline(t *testing.T) {
	prompt := systemPrompt(nil, "en")
	assert.Contains(t, prompt, "Decline")
}

func TestChatStream_EmitsStartTokenSourcesDone(t *testing.T) {
	store := &fakeIssueStore{byID: map[string]*models.Issue{
		"issue_1": {ID: "issue_1", ImsID: "IMS-1", Title: "first"},
	}}
	builder := NewBuilder(llm.NewMockService(), store, nil)

	events, err := builder.ChatStream(context.Background(), Request{Question: "hi", IssueIDs: []string{"issue_1"}})
	require.NoError(t, err)

	var types []string
	for e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"start", "token", "sources", "done"}, types)
}
