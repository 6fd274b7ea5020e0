package llmclient

import (
	"errors"
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"

	"pckengine/internal/observability"
)

// OpenAIClient is the Client backed by the OpenAI chat completions API. It
// holds no per-turn state and is safe for concurrent use across trajectories.
type OpenAIClient struct {
	sdk   openai.Client
	model string
}

// NewOpenAIClient builds a Client against apiKey/model. endpoint overrides
// the default base URL when non-empty, so the same type also serves any
// OpenAI-compatible self-hosted backend.
func NewOpenAIClient(apiKey, model, endpoint string) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(observability.NewHTTPClient(nil)),
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	return &OpenAIClient{sdk: openai.NewClient(opts...), model: model}
}

// Stream sends prompt as a single user message and streams the deltas.
func (c *OpenAIClient) Stream(ctx context.Context, prompt string, onChunk ChunkFunc) (string, error) {
	log := observability.LoggerWithTrace(ctx)

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: param.NewOpt(0.7),
	}

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onChunk != nil {
			onChunk(delta)
		}
	}
	if err := stream.Err(); err != nil {
		log.Warn().Err(err).Msg("llm_stream_error")
		return full.String(), fmt.Errorf("llm stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return full.String(), err
	}
	if full.Len() == 0 {
		return "", errors.New("llm stream: empty response")
	}
	return full.String(), nil
}

// Embed satisfies Embedder using the same underlying OpenAI account as
// Stream. It uses the fixed embeddings model from embeddingModel, not the
// chat model configured on the client, so a caller that only wants chat
// completions never pays for an embeddings call it didn't ask for.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embeddingModel(),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: empty response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// embeddingModel picks a fixed small embeddings model; the chat model
// configured on the client has no bearing on which embeddings model fits
// the similarity index's vector dimension.
func (c *OpenAIClient) embeddingModel() string {
	return "text-embedding-3-small"
}
