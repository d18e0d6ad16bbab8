// Package google implements provider.Client for Gemini models through
// Google's OpenAI-compatible API surface. The actual wire handling is the
// openai client pointed at the generativelanguage endpoint.
package google

import (
	"github.com/weftlabs/weft/pkg/llm/provider/openai"
)

// DefaultBaseURL is Google's OpenAI-compatible endpoint for Gemini models.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// Config for the Gemini client.
type Config struct {
	// APIKey is the Google AI Studio API key.
	APIKey string

	// BaseURL overrides the endpoint. Empty means DefaultBaseURL.
	BaseURL string
}

// New creates a Gemini streaming client.
func New(cfg Config) *openai.Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return openai.New(openai.Config{
		APIKey:  cfg.APIKey,
		BaseURL: baseURL,
		Vendor:  "google",
	})
}
