// Package rag implements the RAG context builder: chat answers are bounded
// strictly to a caller-supplied issue id list. A struct holds the LLM port,
// the issue store, and a logger, and exposes one Chat entrypoint that builds
// a system prompt enumerating only the in-scope issues before calling the
// LLM, so answers never draw on anything outside the caller-supplied scope.
package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
)

// defaultMaxContextIssues is the default max_context_issues window.
const defaultMaxContextIssues = 10

// historyWindow bounds how many prior messages of a conversation are
// replayed into the prompt.
const historyWindow = 10

// Request is the Chat entrypoint's input.
type Request struct {
	Question         string
	IssueIDs         []string
	ConversationID   string
	Language         string // "auto", "ko", "ja", "en"

	// MaxContextIssues bounds the issue window; nil means the default of
	// defaultMaxContextIssues, while an explicit 0 produces an empty
	// enumeration and the model is instructed to decline.
	MaxContextIssues *int
}

// Response is Chat's non-streaming output.
type Response struct {
	ConversationID   string
	MessageID        string
	Content          string
	ReferencedIssues []string
}

// StreamEvent is one event of a streaming chat response: start, token, sources, done, or error.
type StreamEvent struct {
	Type             string // "start", "token", "sources", "done", "error"
	ConversationID   string
	MessageID        string
	Content          string
	IssueCount       int
	ReferencedIssues []string
	Err              error
}

type turn struct {
	role    string
	content string
}

// conversation is the in-process, mutex-guarded history for one
// conversationId.
type conversation struct {
	turns []turn
}

// Builder implements the RAG context builder.
type Builder struct {
	llm    interfaces.LLMPort
	issues interfaces.IssueStore
	logger arbor.ILogger

	mu            sync.Mutex
	conversations map[string]*conversation
}

// NewBuilder constructs a Builder.
func NewBuilder(llm interfaces.LLMPort, issues interfaces.IssueStore, logger arbor.ILogger) *Builder {
	return &Builder{
		llm:           llm,
		issues:        issues,
		logger:        logger,
		conversations: make(map[string]*conversation),
	}
}

// Chat answers req.Question strictly within the context of req.IssueIDs.
func (b *Builder) Chat(ctx context.Context, req Request) (Response, error) {
	if len(req.IssueIDs) == 0 {
		return Response{}, fmt.Errorf("chat: issue_ids cannot be empty")
	}

	issues, err := b.loadContextIssues(ctx, req)
	if err != nil {
		return Response{}, err
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = common.NewConversationID()
	}

	messages := b.buildMessages(conversationID, req, issues)

	content, err := b.llm.Chat(ctx, messages)
	if err != nil {
		return Response{}, fmt.Errorf("rag chat: %w", err)
	}

	b.recordTurn(conversationID, "user", req.Question)
	b.recordTurn(conversationID, "assistant", content)

	return Response{
		ConversationID:   conversationID,
		MessageID:        common.NewMessageID(),
		Content:          content,
		ReferencedIssues: harvestReferencedIssues(content, issues),
	}, nil
}

// ChatStream is the streaming variant of Chat, emitting start/token/sources/
// done (or error) events on the returned channel. The channel is always
// closed by the owning goroutine.
func (b *Builder) ChatStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if len(req.IssueIDs) == 0 {
		return nil, fmt.Errorf("chat stream: issue_ids cannot be empty")
	}

	issues, err := b.loadContextIssues(ctx, req)
	if err != nil {
		return nil, err
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = common.NewConversationID()
	}
	messageID := common.NewMessageID()

	messages := b.buildMessages(conversationID, req, issues)

	deltas, err := b.llm.ChatStream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("rag chat stream: %w", err)
	}

	out := make(chan StreamEvent)

	go func() {
		defer close(out)

		out <- StreamEvent{Type: "start", ConversationID: conversationID, MessageID: messageID, IssueCount: len(issues)}

		var full strings.Builder
		for delta := range deltas {
			if delta.Err != nil {
				out <- StreamEvent{Type: "error", ConversationID: conversationID, MessageID: messageID, Err: delta.Err}
				return
			}
			if delta.Content != "" {
				full.WriteString(delta.Content)
				out <- StreamEvent{Type: "token", ConversationID: conversationID, MessageID: messageID, Content: delta.Content}
			}
			if delta.Done {
				break
			}
		}

		content := full.String()
		b.recordTurn(conversationID, "user", req.Question)
		b.recordTurn(conversationID, "assistant", content)

		referenced := harvestReferencedIssues(content, issues)
		out <- StreamEvent{Type: "sources", ConversationID: conversationID, MessageID: messageID, IssueCount: len(issues), ReferencedIssues: referenced}
		out <- StreamEvent{Type: "done", ConversationID: conversationID, MessageID: messageID, ReferencedIssues: referenced}
	}()

	return out, nil
}

// loadContextIssues resolves req.IssueIDs to full Issue records, truncated
// to max_context_issues; an empty result with
// MaxContextIssues=0 means the model is instructed to decline.
func (b *Builder) loadContextIssues(ctx context.Context, req Request) ([]*models.Issue, error) {
	maxIssues := defaultMaxContextIssues
	if req.MaxContextIssues != nil {
		maxIssues = *req.MaxContextIssues
		if maxIssues < 0 {
			maxIssues = 0
		}
	}

	ids := req.IssueIDs
	if len(ids) > maxIssues {
		ids = ids[:maxIssues]
	}

	issues := make([]*models.Issue, 0, len(ids))
	for _, id := range ids {
		issue, err := b.issues.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load context issue %s: %w", id, err)
		}
		if issue == nil {
			if b.logger != nil {
				b.logger.Warn().Str("issue_id", id).Msg("context issue not found, skipping")
			}
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// buildMessages assembles the system prompt (issue enumeration + scoping
// instruction) followed by up to historyWindow prior turns and the current
// question.
func (b *Builder) buildMessages(conversationID string, req Request, issues []*models.Issue) []interfaces.Message {
	messages := []interfaces.Message{{Role: "system", Content: systemPrompt(issues, req.Language)}}

	for _, t := range b.recentTurns(conversationID) {
		messages = append(messages, interfaces.Message{Role: t.role, Content: t.content})
	}

	messages = append(messages, interfaces.Message{Role: "user", Content: req.Question})
	return messages
}

// systemPrompt enumerates the in-scope issues and
// instructs the model to answer only from that enumeration. An empty issues
// slice (max_context_issues=0) yields a prompt that tells the model to
// decline rather than answer from general knowledge.
func systemPrompt(issues []*models.Issue, language string) string {
	var b strings.Builder
	b.WriteString("You are an assistant answering questions strictly from the issues listed below. ")
	b.WriteString("Do not use any knowledge beyond what is enumerated here. ")
	b.WriteString("If the question refers to an issue that is not listed, say so explicitly. ")
	if language != "" && language != "auto" {
		fmt.Fprintf(&b, "Respond in language: %s. ", language)
	}
	b.WriteString("\n\n")

	if len(issues) == 0 {
		b.WriteString("No issues are in scope for this conversation. Decline to answer any question about specific issues.")
		return b.String()
	}

	for _, issue := range issues {
		fmt.Fprintf(&b, "Issue %s:\n", issue.ImsID)
		fmt.Fprintf(&b, "  title: %s\n", issue.Title)
		fmt.Fprintf(&b, "  status: %s\n", issue.Status)
		fmt.Fprintf(&b, "  priority: %s\n", issue.Priority)
		fmt.Fprintf(&b, "  product: %s\n", issue.Product)
		fmt.Fprintf(&b, "  version: %s\n", issue.Version)
		fmt.Fprintf(&b, "  module: %s\n", issue.Module)
		fmt.Fprintf(&b, "  customer: %s\n", issue.Customer)
		fmt.Fprintf(&b, "  reporter: %s\n", issue.Reporter)
		fmt.Fprintf(&b, "  created_date: %s\n", issue.IssuedDate)
		fmt.Fprintf(&b, "  description: %s\n", issue.Description)
		if issue.IssueDetails != "" {
			fmt.Fprintf(&b, "  issue_details: %s\n", issue.IssueDetails)
		}
		if issue.ActionLog != "" {
			fmt.Fprintf(&b, "  action_log: %s\n", issue.ActionLog)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// harvestReferencedIssues returns the ims_ids of issues literally mentioned
// in content, scanning only the in-scope set.
func harvestReferencedIssues(content string, issues []*models.Issue) []string {
	var referenced []string
	for _, issue := range issues {
		if issue.ImsID != "" && strings.Contains(content, issue.ImsID) {
			referenced = append(referenced, issue.ImsID)
		}
	}
	return referenced
}

func (b *Builder) recordTurn(conversationID, role, content string) {
	if content == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, ok := b.conversations[conversationID]
	if !ok {
		conv = &conversation{}
		b.conversations[conversationID] = conv
	}
	conv.turns = append(conv.turns, turn{role: role, content: content})
}

// recentTurns returns up to the last historyWindow turns for conversationID.
func (b *Builder) recentTurns(conversationID string) []turn {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, ok := b.conversations[conversationID]
	if !ok {
		return nil
	}
	if len(conv.turns) <= historyWindow {
		return append([]turn(nil), conv.turns...)
	}
	return append([]turn(nil), conv.turns[len(conv.turns)-historyWindow:]...)
}
