package interfaces

import "context"

// EmbeddingPort generates vector embeddings. Concrete variants: Mock (tests,
// deterministic hash-based vectors) and an HTTP-backed implementation
// (Ollama's /api/embeddings).
type EmbeddingPort interface {
	// Embed generates a single embedding, used for query-time encoding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for a batch of texts, preserving
	// input order; used by ingestion phase 2. The Ollama variant issues one
	// request per text.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	ModelName() string
	Dimension() int

	HealthCheck(ctx context.Context) error
}
