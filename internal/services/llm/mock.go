package llm

import (
	"context"
	"fmt"

	"github.com/tenwire/imscrawl/internal/interfaces"
)

// MockService is a deterministic LLMPort used by tests that exercise the
// RAG context builder and intent parser without a live Anthropic key.
type MockService struct {
	// ChatFunc overrides the default response when set.
	ChatFunc func(ctx context.Context, messages []interfaces.Message) (string, error)
}

// NewMockService constructs a MockService with the default echo behavior.
func NewMockService() *MockService {
	return &MockService{}
}

func (m *MockService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, messages)
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("chat: messages cannot be empty")
	}
	last := messages[len(messages)-1]
	return fmt.Sprintf("mock response to: %s", last.Content), nil
}

func (m *MockService) ChatStream(ctx context.Context, messages []interfaces.Message) (<-chan interfaces.StreamDelta, error) {
	response, err := m.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}

	out := make(chan interfaces.StreamDelta, 2)
	out <- interfaces.StreamDelta{Content: response}
	out <- interfaces.StreamDelta{Done: true}
	close(out)
	return out, nil
}

func (m *MockService) HealthCheck(ctx context.Context) error { return nil }

func (m *MockService) GetMode() interfaces.LLMMode { return interfaces.LLMModeMock }

func (m *MockService) Close() error { return nil }
