package llmclient

import "context"

// Embedder produces a dense vector for a piece of text. It is a separate,
// optional capability from Client: most callers only ever stream chat
// completions, and the similar-trajectory index is the one component that
// needs embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
