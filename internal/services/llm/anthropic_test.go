package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
	"github.com/tenwire/imscrawl/internal/interfaces"
)

func TestConvertMessages_ExtractsSystemMessage(t *testing.T) {
	messages := []interfaces.Message{
		{Role: "system", Content: "you are a helpful assistant"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}

	claudeMessages, systemText, err := convertMessages(messages)
	require.NoError(t, err)
	assert.Equal(t, "you are a helpful assistant", systemText)
	assert.Len(t, claudeMessages, 2)
}

func TestConvertMessages_RequiresUserMessage(t *testing.T) {
	messages := []interfaces.Message{
		{Role: "system", Content: "setup"},
		{Role: "assistant", Content: "response"},
	}
	_, _, err := convertMessages(messages)
	assert.Error(t, err)
}

func TestConvertMessages_OnlyFirstSystemMessageKept(t *testing.T) {
	messages := []interfaces.Message{
		{Role: "system", Content: "first"},
		{Role: "system", Content: "second"},
		{Role: "user", Content: "hi"},
	}
	_, systemText, err := convertMessages(messages)
	require.NoError(t, err)
	assert.Equal(t, "first", systemText)
}

func TestNewAnthropicService_RequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicService(common.LLMConfig{AnthropicAPIKeyEnv: "ANTHROPIC_API_KEY"}, "", arbor.NewLogger())
	assert.Error(t, err)
}

func TestNewAnthropicService_DefaultsModel(t *testing.T) {
	svc, err := NewAnthropicService(common.LLMConfig{ChatTimeoutMS: 1000}, "test-key", arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", svc.config.AnthropicModel)
	assert.Equal(t, interfaces.LLMModeCloud, svc.GetMode())
}

func TestAnthropicService_BuildParams(t *testing.T) {
	svc, err := NewAnthropicService(common.LLMConfig{AnthropicModel: "claude-x"}, "test-key", arbor.NewLogger())
	require.NoError(t, err)

	params, err := svc.buildParams([]interfaces.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "claude-x", string(params.Model))
	assert.Len(t, params.Messages, 1)
}
