// Package httpapi implements the custom-endpoint embedding strategy: a POST
// to a dedicated embeddings base URL with per-attempt exponential backoff.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/weftlabs/weft/pkg/embeddings"
	"github.com/weftlabs/weft/pkg/llm"
)

// DefaultMaxRetries bounds attempts per Embed call.
const DefaultMaxRetries = 3

// Config for the custom endpoint embedder.
type Config struct {
	// BaseURL is the dedicated embeddings endpoint; requests go to
	// BaseURL + "/embeddings".
	BaseURL string

	// Model is the optional model name to send. When empty, SendNullModel
	// controls whether the field is sent as null or omitted entirely.
	Model string

	// SendNullModel sends "model": null instead of omitting the field when
	// no model name is configured. Some backends require the key to exist.
	SendNullModel bool

	// MaxRetries bounds attempts per call. Defaults to DefaultMaxRetries.
	MaxRetries int

	// Sleep is the backoff delay function, injectable for tests.
	// Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Embedder posts to an OpenAI-shaped /embeddings endpoint with retries.
type Embedder struct {
	cfg        Config
	httpClient *http.Client
}

// embedResponse is the subset of the response we consume.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// New creates the custom endpoint strategy.
func New(cfg Config) *Embedder {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}

	return &Embedder{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Name identifies this strategy.
func (e *Embedder) Name() string { return "custom-endpoint" }

// Embed posts the text, retrying up to MaxRetries with 2^attempt seconds of
// backoff between attempts. Non-2xx responses and responses missing
// data[0].embedding count as failures.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		vector, err := e.embedOnce(ctx, text)
		if err == nil {
			return vector, nil
		}
		lastErr = err

		if attempt < e.cfg.MaxRetries {
			e.cfg.Sleep(time.Duration(1<<attempt) * time.Second)
		}
	}

	return nil, fmt.Errorf("custom endpoint failed after %d attempts: %w", e.cfg.MaxRetries, lastErr)
}

func (e *Embedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{"input": text}
	switch {
	case e.cfg.Model != "":
		body["model"] = e.cfg.Model
	case e.cfg.SendNullModel:
		body["model"] = nil
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, llm.ProviderError{Provider: e.Name(), Err: fmt.Errorf("marshaling request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, llm.ProviderError{Provider: e.Name(), Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, llm.ProviderError{Provider: e.Name(), Err: fmt.Errorf("sending request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, llm.ProviderError{
			Provider: e.Name(),
			Err:      fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, llm.ProviderError{Provider: e.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}

	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, llm.ProviderError{Provider: e.Name(), Err: fmt.Errorf("missing data[0].embedding in response")}
	}

	return parsed.Data[0].Embedding, nil
}

// Close releases resources held by the embedder.
func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
