// Package openaiembed implements the managed-SDK embedding strategy: a
// single direct call to OpenAI's native embedding API for one well-known
// model, no manual retry.
package openaiembed

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/weftlabs/weft/pkg/embeddings"
	"github.com/weftlabs/weft/pkg/llm"
)

// Model is the well-known embedding model this strategy serves.
const Model = openai.EmbeddingModelTextEmbedding3Small

// Config for the managed-SDK embedder.
type Config struct {
	APIKey string
}

// Embedder calls OpenAI's embedding API through the official SDK.
type Embedder struct {
	client openai.Client
}

// New creates the managed-SDK strategy.
func New(cfg Config) *Embedder {
	return &Embedder{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
	}
}

// Name identifies this strategy.
func (e *Embedder) Name() string { return "managed-sdk" }

// Embed makes one SDK call; a failure falls through to the next strategy.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: Model,
	})
	if err != nil {
		return nil, llm.ProviderError{Provider: e.Name(), Err: err}
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, llm.ProviderError{Provider: e.Name(), Err: fmt.Errorf("no embeddings returned")}
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}

	return vector, nil
}

// Close releases resources held by the embedder.
func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
