package embeddings

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
)

func newTestOllamaService(t *testing.T, baseURL string) *OllamaService {
	t.Helper()
	return NewOllamaService(common.EmbeddingConfig{
		OllamaURL:  baseURL,
		Model:      "test-model",
		Dimensions: 4,
	}, arbor.NewLogger())
}

func TestOllamaEmbed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float32{0.1, 0.2, 0.3, 0.4},
		})
	}))
	defer srv.Close()

	s := newTestOllamaService(t, srv.URL)
	vec, err := s.Embed(t.Context(), "some issue text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vec)
}

func TestOllamaEmbed_EmptyText(t *testing.T) {
	s := newTestOllamaService(t, "http://example.invalid")
	_, err := s.Embed(t.Context(), "   ")
	assert.Error(t, err)
}

func TestOllamaEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestOllamaService(t, srv.URL)
	_, err := s.Embed(t.Context(), "text")
	assert.Error(t, err)
}

func TestOllamaEmbedBatch_PreservesOrder(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		calls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float32{float32(calls)},
		})
	}))
	defer srv.Close()

	s := newTestOllamaService(t, srv.URL)
	results, err := s.EmbedBatch(t.Context(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []float32{1}, results[0])
	assert.Equal(t, []float32{2}, results[1])
	assert.Equal(t, []float32{3}, results[2])
}

func TestOllamaHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestOllamaService(t, srv.URL)
	assert.NoError(t, s.HealthCheck(t.Context()))
}

func TestOllamaHealthCheck_Unreachable(t *testing.T) {
	s := newTestOllamaService(t, "http://127.0.0.1:0")
	assert.Error(t, s.HealthCheck(t.Context()))
}

func TestModelNameAndDimension(t *testing.T) {
	s := newTestOllamaService(t, "http://example.invalid")
	assert.Equal(t, "test-model", s.ModelName())
	assert.Equal(t, 4, s.Dimension())
}
