// Package embeddings provides the EmbeddingPort implementations: an
// HTTP-backed Ollama client for production use and a deterministic mock for
// tests.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
)

// OllamaService implements interfaces.EmbeddingPort against a local Ollama
// server's /api/embeddings endpoint.
type OllamaService struct {
	baseURL   string
	modelName string
	dimension int
	logger    arbor.ILogger
	client    *http.Client
}

// NewOllamaService constructs an OllamaService from the system embedding
// config.
func NewOllamaService(cfg common.EmbeddingConfig, logger arbor.ILogger) *OllamaService {
	return &OllamaService{
		baseURL:   strings.TrimSuffix(cfg.OllamaURL, "/"),
		modelName: cfg.Model,
		dimension: cfg.Dimensions,
		logger:    logger,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed generates a single embedding via Ollama.
func (s *OllamaService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embed: text cannot be empty")
	}

	reqBody := map[string]interface{}{
		"model":  s.modelName,
		"prompt": text,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding")
	}

	return result.Embedding, nil
}

// EmbedBatch calls Embed once per text. Ollama's /api/embeddings endpoint
// takes a single prompt per request, so batching here is a sequential loop
// rather than a single round trip; the batch boundary still matters to the
// caller for progress reporting (ingestion phase 2 emits one event per
// batch, not per issue).
func (s *OllamaService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := s.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch item %d: %w", i, err)
		}
		results[i] = embedding
	}
	return results, nil
}

func (s *OllamaService) ModelName() string { return s.modelName }
func (s *OllamaService) Dimension() int    { return s.dimension }

// HealthCheck pings Ollama's model-listing endpoint.
func (s *OllamaService) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("build health check request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}
	return nil
}
