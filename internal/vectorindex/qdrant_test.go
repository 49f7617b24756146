//go:build integration

package vectorindex

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qdrantTestConfig(collection string) QdrantConfig {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p, err := strconv.Atoi(os.Getenv("QDRANT_PORT")); err == nil {
		port = p
	}
	return QdrantConfig{Host: host, Port: port, Collection: collection, Dimension: 3}
}

// setupQdrantIndex skips the test if Qdrant is not running.
func setupQdrantIndex(t *testing.T, collection string, emb Embedder) *QdrantIndex {
	ix, err := NewQdrantIndex(context.Background(), qdrantTestConfig(collection), emb, nil)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestQdrantIndex_AddSearchCount(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"consent": {1, 0, 0},
		"risk":    {0, 1, 0},
		"privacy": {0, 0, 1},
		"query":   {0.9, 0.2, 0},
	}}

	ix := setupQdrantIndex(t, "irb_test_index", emb)
	require.NoError(t, ix.Clear(ctx))

	for i, text := range []string{"consent", "risk", "privacy"} {
		require.NoError(t, ix.AddChunk(ctx, chunk(fmt.Sprintf("ref-chunk-%d", i), text)))
	}
	// Re-adding the same chunk ID overwrites the point.
	require.NoError(t, ix.AddChunk(ctx, chunk("ref-chunk-0", "consent")))

	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := ix.Search(ctx, "query", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"consent", "risk"}, results)
}

func TestQdrantIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{"short": {1, 0}}}

	ix := setupQdrantIndex(t, "irb_test_dims", emb)

	err := ix.AddChunk(ctx, chunk("short", "short"))
	assert.Error(t, err)
}
