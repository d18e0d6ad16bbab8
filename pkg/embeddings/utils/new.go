// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/pkg/embeddings"
	"github.com/weftlabs/weft/pkg/embeddings/httpapi"
	"github.com/weftlabs/weft/pkg/embeddings/ollama"
	"github.com/weftlabs/weft/pkg/embeddings/openaiembed"
)

// NewRetrieverOpts configures which strategies the retriever chains, in the
// fixed order: custom endpoint, managed SDK, local inference. A strategy
// whose prerequisite configuration is absent is left out of the chain.
type NewRetrieverOpts struct {
	// CustomBaseURL enables the custom endpoint strategy when set.
	CustomBaseURL string
	// Model is the optional model name sent to the custom endpoint.
	Model string
	// SendNullModel controls the null-vs-omitted model field on the custom
	// endpoint when Model is empty.
	SendNullModel bool
	// MaxRetries bounds custom endpoint attempts per call.
	MaxRetries int
	// Sleep overrides the custom endpoint backoff delay (tests).
	Sleep func(time.Duration)

	// OpenAIKey enables the managed SDK strategy when set.
	OpenAIKey string

	// LocalEndpoint enables the local inference strategy when set.
	LocalEndpoint string
}

// NewRetriever assembles the strategy chain from the given options.
func NewRetriever(logger *zap.Logger, o NewRetrieverOpts) *embeddings.Retriever {
	var strategies []embeddings.Embedder

	if o.CustomBaseURL != "" {
		strategies = append(strategies, httpapi.New(httpapi.Config{
			BaseURL:       o.CustomBaseURL,
			Model:         o.Model,
			SendNullModel: o.SendNullModel,
			MaxRetries:    o.MaxRetries,
			Sleep:         o.Sleep,
		}))
	}

	if o.OpenAIKey != "" {
		strategies = append(strategies, openaiembed.New(openaiembed.Config{
			APIKey: o.OpenAIKey,
		}))
	}

	if o.LocalEndpoint != "" {
		strategies = append(strategies, ollama.New(ollama.Config{
			BaseURL: o.LocalEndpoint,
		}))
	}

	return embeddings.NewRetriever(logger, strategies...)
}
