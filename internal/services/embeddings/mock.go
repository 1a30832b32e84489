package embeddings

import (
	"context"
	"hash/fnv"
	"math"
)

// MockService is a deterministic EmbeddingPort used by tests that exercise
// ingestion and retrieval without a running Ollama instance. Embeddings are
// derived from a hash of the input text so the same text always produces the
// same vector, and unrelated texts produce vectors with near-zero cosine
// similarity.
type MockService struct {
	dimension int
	model     string
}

// NewMockService constructs a MockService with the given output dimension.
func NewMockService(dimension int) *MockService {
	if dimension <= 0 {
		dimension = 8
	}
	return &MockService{dimension: dimension, model: "mock-embed"}
}

func (m *MockService) Embed(_ context.Context, text string) ([]float32, error) {
	return hashVector(text, m.dimension), nil
}

func (m *MockService) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashVector(text, m.dimension)
	}
	return out, nil
}

func (m *MockService) ModelName() string { return m.model }
func (m *MockService) Dimension() int    { return m.dimension }

func (m *MockService) HealthCheck(_ context.Context) error { return nil }

// hashVector derives a unit-length vector from text by seeding a different
// FNV-1a hash per dimension with the dimension index, then mapping the
// hash to [-1, 1].
func hashVector(text string, dimension int) []float32 {
	vec := make([]float32, dimension)
	var sumSquares float64

	for i := 0; i < dimension; i++ {
		h := fnv.New32a()
		h.Write([]byte(text))
		h.Write([]byte{byte(i), byte(i >> 8)})
		v := float64(h.Sum32())/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		sumSquares += v * v
	}

	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
