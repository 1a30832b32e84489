package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockService_Deterministic(t *testing.T) {
	m := NewMockService(16)
	a, err := m.Embed(t.Context(), "hello world")
	require.NoError(t, err)
	b, err := m.Embed(t.Context(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMockService_DifferentTextsDiffer(t *testing.T) {
	m := NewMockService(16)
	a, err := m.Embed(t.Context(), "hello")
	require.NoError(t, err)
	b, err := m.Embed(t.Context(), "goodbye")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestMockService_EmbedBatch_PreservesOrder(t *testing.T) {
	m := NewMockService(8)
	texts := []string{"one", "two", "three"}
	batch, err := m.EmbedBatch(t.Context(), texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, text := range texts {
		single, err := m.Embed(t.Context(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestMockService_DimensionDefault(t *testing.T) {
	m := NewMockService(0)
	assert.Equal(t, 8, m.Dimension())
}

func TestMockService_HealthCheckAlwaysOK(t *testing.T) {
	m := NewMockService(4)
	assert.NoError(t, m.HealthCheck(t.Context()))
}
