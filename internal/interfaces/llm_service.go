package interfaces

import "context"

// LLMMode represents the operational mode of the LLM port.
type LLMMode string

const (
	// LLMModeCloud indicates the port uses a cloud-based LLM API.
	LLMModeCloud LLMMode = "cloud"

	// LLMModeOffline indicates the port uses a local/offline LLM.
	LLMModeOffline LLMMode = "offline"

	// LLMModeMock indicates the port is a deterministic test double.
	LLMModeMock LLMMode = "mock"
)

// Message is a single message in a chat conversation.
type Message struct {
	Role    string // "user", "assistant", or "system"
	Content string
}

// StreamDelta is one incremental piece of a streamed chat completion.
type StreamDelta struct {
	Content string
	Done    bool
	Err     error
}

// LLMPort defines language-model operations. Concrete variants: Mock
// (tests) and Anthropic-backed (cloud); no offline variant is implemented.
type LLMPort interface {
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStream emits incremental content deltas on the returned channel;
	// the channel is closed after a delta with Done=true or Err != nil.
	ChatStream(ctx context.Context, messages []Message) (<-chan StreamDelta, error)

	HealthCheck(ctx context.Context) error
	GetMode() LLMMode
	Close() error
}
