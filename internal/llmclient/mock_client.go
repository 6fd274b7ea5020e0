package llmclient

import (
	"context"
	"hash/fnv"
	"strings"
)

// mockEmbeddingDimensions matches the default SimilarTrajectoryIndex
// dimension so MockClient can stand in for Embedder in tests without a
// real Qdrant collection dimension mismatch.
const mockEmbeddingDimensions = 1536

// MockClient is the deterministic fallback used when no API key is
// configured. It never fails and never blocks on a network call, so the
// server stays up with no LLM key present — it streams a single canned
// response in small chunks so callers exercising the chunk-emit path see
// the same behavior as a real provider.
type MockClient struct{}

// NewMockClient returns a ready-to-use MockClient.
func NewMockClient() *MockClient { return &MockClient{} }

// Stream ignores prompt content and returns a fixed acknowledgement,
// split into word-sized chunks.
func (c *MockClient) Stream(ctx context.Context, prompt string, onChunk ChunkFunc) (string, error) {
	const response = "I don't have a configured language model to draw on right now, " +
		"but I've recorded what you shared in the knowledge graph."
	words := strings.SplitAfter(response, " ")
	var full strings.Builder
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		full.WriteString(w)
		if onChunk != nil {
			onChunk(w)
		}
	}
	return full.String(), nil
}

// Embed returns a deterministic pseudo-vector derived from text's hash, so
// repeated calls with the same text are stable and distinct texts produce
// distinct vectors, without a network call or API key.
func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, mockEmbeddingDimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>40)%1000) / 1000
	}
	return vec, nil
}
