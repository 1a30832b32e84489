// Package llm provides the LLMPort implementations: an Anthropic Claude
// client for cloud chat, and a deterministic mock for tests.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
	"github.com/tenwire/imscrawl/internal/interfaces"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicService implements interfaces.LLMPort against the Anthropic
// Messages API.
type AnthropicService struct {
	config  common.LLMConfig
	logger  arbor.ILogger
	client  anthropic.Client
	timeout time.Duration
}

// NewAnthropicService constructs an AnthropicService. apiKey is resolved by
// the caller from the environment variable named in cfg.AnthropicAPIKeyEnv.
func NewAnthropicService(cfg common.LLMConfig, apiKey string, logger arbor.ILogger) (*AnthropicService, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("anthropic api key is required (set %s)", cfg.AnthropicAPIKeyEnv)
	}

	model := cfg.AnthropicModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	timeout := time.Duration(cfg.ChatTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &AnthropicService{
		config:  common.LLMConfig{Mode: cfg.Mode, AnthropicModel: model, AnthropicAPIKeyEnv: cfg.AnthropicAPIKeyEnv, ChatTimeoutMS: cfg.ChatTimeoutMS},
		logger:  logger,
		client:  client,
		timeout: timeout,
	}, nil
}

// Chat sends the full conversation and returns the concatenated text of the
// assistant's response.
func (s *AnthropicService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("chat: messages cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params, err := s.buildParams(messages)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic chat failed: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}

	if out.Len() == 0 {
		return "", fmt.Errorf("anthropic returned no text content")
	}
	return out.String(), nil
}

// ChatStream streams incremental text deltas from the Messages streaming
// API. The goroutine owns the returned channel and always closes it, either
// after a Done=true delta or one carrying Err.
func (s *AnthropicService) ChatStream(ctx context.Context, messages []interfaces.Message) (<-chan interfaces.StreamDelta, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("chat stream: messages cannot be empty")
	}

	params, err := s.buildParams(messages)
	if err != nil {
		return nil, err
	}

	out := make(chan interfaces.StreamDelta)

	go func() {
		defer close(out)

		stream := s.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			select {
			case out <- interfaces.StreamDelta{Content: text.Text}:
			case <-ctx.Done():
				out <- interfaces.StreamDelta{Err: ctx.Err()}
				return
			}
		}

		if err := stream.Err(); err != nil {
			out <- interfaces.StreamDelta{Err: fmt.Errorf("anthropic stream failed: %w", err)}
			return
		}
		out <- interfaces.StreamDelta{Done: true}
	}()

	return out, nil
}

// HealthCheck issues a minimal chat completion to confirm the API key and
// network path are working.
func (s *AnthropicService) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := s.Chat(ctx, []interfaces.Message{{Role: "user", Content: "ping"}})
	if err != nil {
		return fmt.Errorf("anthropic health check failed: %w", err)
	}
	if strings.TrimSpace(resp) == "" {
		return fmt.Errorf("anthropic health check returned empty response")
	}
	return nil
}

func (s *AnthropicService) GetMode() interfaces.LLMMode { return interfaces.LLMModeCloud }

func (s *AnthropicService) Close() error { return nil }

func (s *AnthropicService) buildParams(messages []interfaces.Message) (anthropic.MessageNewParams, error) {
	claudeMessages, systemText, err := convertMessages(messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.config.AnthropicModel),
		MaxTokens: defaultAnthropicMaxTokens,
		Messages:  claudeMessages,
	}
	if systemText != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemText}}
	}
	return params, nil
}

// convertMessages maps []interfaces.Message to Claude's message params,
// pulling the first system-role message out into the System parameter since
// the Messages API has no system role on the conversation itself.
func convertMessages(messages []interfaces.Message) ([]anthropic.MessageParam, string, error) {
	hasUser := false
	for _, m := range messages {
		if m.Role == "user" {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}

	claudeMessages := make([]anthropic.MessageParam, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if systemText == "" {
				systemText = msg.Content
			}
		case "assistant":
			claudeMessages = append(claudeMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			claudeMessages = append(claudeMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return claudeMessages, systemText, nil
}
