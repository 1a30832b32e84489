// Package intent implements the natural-language search intent parser: an
// LLM prompted with a deterministic JSON schema (no temperature is set; the
// LLM backend's default applies), a
// permissive brace-scanning JSON extractor that tolerates model prelude
// text, and a keyword-intent fallback with confidence 0.5 on parse failure.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
)

// fallbackConfidence is the confidence assigned to the keyword-intent
// fallback produced when JSON parsing fails.
const fallbackConfidence = 0.5

// Parser converts free-form user queries into a models.SearchIntent via an
// injected LLMPort.
type Parser struct {
	llm interfaces.LLMPort
}

// NewParser constructs a Parser.
func NewParser(llm interfaces.LLMPort) *Parser {
	return &Parser{llm: llm}
}

// rawIntent mirrors the JSON schema the system prompt asks the model to
// produce.
type rawIntent struct {
	IntentType      string   `json:"intent_type"`
	Keywords        []string `json:"keywords"`
	StatusFilters   []string `json:"status_filters"`
	PriorityFilters []string `json:"priority_filters"`
	AssigneeFilters []string `json:"assignee_filters"`
	ProjectFilters  []string `json:"project_filters"`
	DateFrom        string   `json:"date_from"`
	DateTo          string   `json:"date_to"`
	SemanticQuery   string   `json:"semantic_query"`
	Confidence      float64  `json:"confidence_score"`
}

// Parse parses a natural-language query into a SearchIntent. language is one
// of "auto"/"en"/"ko"/"ja", mirrored into the system prompt; parse failure degrades
// to IntentKeyword with whitespace-split keywords at fallbackConfidence.
func (p *Parser) Parse(ctx context.Context, query, language string) (models.SearchIntent, error) {
	messages := []interfaces.Message{
		{Role: "system", Content: systemPrompt(language)},
		{Role: "user", Content: userPrompt(query)},
	}

	response, err := p.llm.Chat(ctx, messages)
	if err != nil {
		return fallbackIntent(query), nil
	}

	jsonText, ok := extractJSON(response)
	if !ok {
		return fallbackIntent(query), nil
	}

	var raw rawIntent
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return fallbackIntent(query), nil
	}

	return toSearchIntent(raw), nil
}

func fallbackIntent(query string) models.SearchIntent {
	return models.SearchIntent{
		Kind:       models.IntentKeyword,
		Keywords:   strings.Fields(query),
		Confidence: fallbackConfidence,
	}
}

func toSearchIntent(raw rawIntent) models.SearchIntent {
	intent := models.SearchIntent{
		Kind:       intentKindFrom(raw.IntentType),
		Keywords:   raw.Keywords,
		Semantic:   raw.SemanticQuery,
		Confidence: raw.Confidence,
		Dates:      models.DateBounds{From: raw.DateFrom, To: raw.DateTo},
	}
	if len(raw.StatusFilters) > 0 {
		intent.Status = raw.StatusFilters[0]
	}
	if len(raw.PriorityFilters) > 0 {
		intent.Priority = raw.PriorityFilters[0]
	}
	if len(raw.AssigneeFilters) > 0 {
		intent.Assignee = raw.AssigneeFilters[0]
	}
	if len(raw.ProjectFilters) > 0 {
		intent.Project = raw.ProjectFilters[0]
	}
	if intent.Confidence == 0 {
		intent.Confidence = 0.7
	}
	return intent
}

func intentKindFrom(raw string) models.IntentKind {
	switch raw {
	case "status_filter":
		return models.IntentStatus
	case "priority_filter":
		return models.IntentPriority
	case "date_range":
		return models.IntentDate
	case "assignee_filter":
		return models.IntentAssignee
	case "project_filter":
		return models.IntentProject
	case "complex_query":
		return models.IntentComplex
	case "semantic_search":
		return models.IntentSemantic
	case "list_all":
		return models.IntentListAll
	default:
		return models.IntentKeyword
	}
}

// extractJSON locates the first '{' and the matching last '}' in text and
// returns the substring between them, tolerating model prelude/postscript
// text around the JSON object. Returns ok=false if no brace pair is found.
func extractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

// ConvertToIMSSyntax renders a parsed SearchIntent back into the IMS query
// DSL, for fallback paths that bypass hybrid retrieval entirely. Keywords
// are kept as bare tokens and each populated filter becomes a
// "+field:value" token; tokens are space-joined
// with no boolean operators, matching the IMS native search bar syntax.
func (p *Parser) ConvertToIMSSyntax(intent models.SearchIntent) string {
	var tokens []string

	for _, kw := range intent.Keywords {
		tokens = append(tokens, kw)
	}
	if intent.Status != "" {
		tokens = append(tokens, fmt.Sprintf("+status:%s", intent.Status))
	}
	if intent.Priority != "" {
		tokens = append(tokens, fmt.Sprintf("+priority:%s", intent.Priority))
	}
	if intent.Assignee != "" {
		tokens = append(tokens, fmt.Sprintf("+assignee:%s", intent.Assignee))
	}
	if intent.Project != "" {
		tokens = append(tokens, fmt.Sprintf("+project:%s", intent.Project))
	}
	if intent.Dates.From != "" {
		tokens = append(tokens, fmt.Sprintf("+from:%s", intent.Dates.From))
	}
	if intent.Dates.To != "" {
		tokens = append(tokens, fmt.Sprintf("+to:%s", intent.Dates.To))
	}

	if len(tokens) == 0 {
		return intent.Semantic
	}
	return strings.Join(tokens, " ")
}

func systemPrompt(language string) string {
	return fmt.Sprintf(`You are an expert IMS (Issue Management System) query parser.

Convert natural language queries into structured JSON. Supported languages: English, Korean, Japanese. Current language: %s.

Output JSON schema:
{
  "intent_type": "keyword_search|status_filter|priority_filter|date_range|assignee_filter|project_filter|complex_query|semantic_search|list_all",
  "keywords": ["word1", "word2"],
  "status_filters": ["open", "resolved", "closed"],
  "priority_filters": ["critical", "high", "medium", "low"],
  "assignee_filters": ["username"],
  "project_filters": ["project_key"],
  "date_from": "YYYY-MM-DD",
  "date_to": "YYYY-MM-DD",
  "semantic_query": "semantic search text",
  "confidence_score": 0.0-1.0
}

Rules:
1. Extract all relevant filters from the query.
2. Use "complex_query" for queries with multiple filters.
3. Use "semantic_search" for conceptual/meaning-based queries.
4. Set confidence_score based on query clarity.
5. Return ONLY valid JSON, no additional text.`, language)
}

func userPrompt(query string) string {
	return fmt.Sprintf("Parse this query:\n%q\n\nReturn structured JSON:", query)
}
