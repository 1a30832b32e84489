package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
	"github.com/tenwire/imscrawl/internal/services/llm"
)

func TestParse_ValidJSONResponse(t *testing.T) {
	mock := llm.NewMockService()
	mock.ChatFunc = func(_ context.Context, _ []interfaces.Message) (string, error) {
		return `Here you go: {"intent_type": "priority_filter", "priority_filters": ["critical"], "confidence_score": 0.9}`, nil
	}
	parser := NewParser(mock)

	intent, err := parser.Parse(context.Background(), "critical bugs", "en")
	require.NoError(t, err)
	assert.Equal(t, models.IntentPriority, intent.Kind)
	assert.Equal(t, "critical", intent.Priority)
	assert.Equal(t, 0.9, intent.Confidence)
}

func TestParse_MalformedJSONFallsBackToKeyword(t *testing.T) {
	mock := llm.NewMockService()
	mock.ChatFunc = func(_ context.Context, _ []interfaces.Message) (string, error) {
		return "not json at all", nil
	}
	parser := NewParser(mock)

	intent, err := parser.Parse(context.Background(), "show me open bugs", "en")
	require.NoError(t, err)
	assert.Equal(t, models.IntentKeyword, intent.Kind)
	assert.Equal(t, []string{"show", "me", "open", "bugs"}, intent.Keywords)
	assert.Equal(t, fallbackConfidence, intent.Confidence)
}

func TestParse_LLMErrorFallsBackToKeyword(t *testing.T) {
	mock := llm.NewMockService()
	mock.ChatFunc = func(_ context.Context, _ []interfaces.Message) (string, error) {
		return "", assertErr
	}
	parser := NewParser(mock)

	intent, err := parser.Parse(context.Background(), "find issues", "en")
	require.NoError(t, err)
	assert.Equal(t, models.IntentKeyword, intent.Kind)
}

func TestConvertToIMSSyntax_RendersFieldTokens(t *testing.T) {
	parser := NewParser(llm.NewMockService())
	syntax := parser.ConvertToIMSSyntax(models.SearchIntent{
		Keywords: []string{"crash"},
		Status:   "open",
		Priority: "critical",
	})
	assert.Equal(t, "crash +status:open +priority:critical", syntax)
}

func TestConvertToIMSSyntax_NoFiltersFallsBackToSemantic(t *testing.T) {
	parser := NewParser(llm.NewMockService())
	syntax := parser.ConvertToIMSSyntax(models.SearchIntent{Semantic: "login timeout issues"})
	assert.Equal(t, "login timeout issues", syntax)
}

func TestExtractJSON_TrimsPreludeAndPostscript(t *testing.T) {
	text, ok := extractJSON("prelude {\"a\": 1} postscript")
	require.True(t, ok)
	assert.Equal(t, `{"a": 1}`, text)
}

func TestExtractJSON_NoBracesReturnsFalse(t *testing.T) {
	_, ok := extractJSON("no json here")
	assert.False(t, ok)
}

var assertErr = fmtErr("llm unavailable")

type fmtErr string

func (e fmtErr) Error() string { return string(e) }
