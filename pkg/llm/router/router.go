// Package router resolves a logical model request (name + complexity tier) to
// a bound provider client. Provider dispatch is a closed Kind enum with a pure
// classification function; the LOW-tier downgrade table is package-level data.
package router

import (
	"strings"

	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/llm/provider"
	"github.com/weftlabs/weft/pkg/llm/provider/anthropic"
	"github.com/weftlabs/weft/pkg/llm/provider/google"
	"github.com/weftlabs/weft/pkg/llm/provider/openai"
	"github.com/weftlabs/weft/pkg/llm/provider/ollama"
)

// Tier is a coarse cost/quality selector used to pick between a flagship
// model and a cheaper variant.
type Tier int

const (
	TierHigh Tier = iota
	TierLow
)

// Kind identifies a provider backend. Closed set; classification happens in
// Classify and nowhere else.
type Kind int

const (
	KindOpenAI Kind = iota
	KindAnthropic
	KindGoogle
	KindLocal
)

// String returns the canonical provider name for the kind.
func (k Kind) String() string {
	switch k {
	case KindAnthropic:
		return "anthropic"
	case KindGoogle:
		return "google"
	case KindLocal:
		return "ollama"
	default:
		return "openai"
	}
}

// Default sampling temperatures. Anthropic models run lower than the global
// default.
const (
	DefaultTemperature          = 0.7
	DefaultAnthropicTemperature = 0.3
)

// DefaultModel is used when no explicit model is requested and none is
// configured.
const DefaultModel = "gpt-4o"

// downgrades maps flagship model names to their cheaper siblings for LOW-tier
// requests. Unmapped names pass through unchanged.
var downgrades = map[string]string{
	"gpt-4o":            "gpt-4o-mini",
	"gpt-4.1":           "gpt-4.1-mini",
	"o3":                "o4-mini",
	"claude-sonnet-4-5": "claude-haiku-4-5",
	"claude-3-5-sonnet": "claude-3-5-haiku",
	"gemini-2.5-pro":    "gemini-2.5-flash",
}

// proprietaryPrefixes classifies model names by known proprietary vendors.
// Used only for telemetry and UX labeling; never affects routing.
var proprietaryPrefixes = []string{"gpt-", "o1", "o3", "o4", "claude-", "gemini-"}

// Config holds the immutable routing configuration. Only credential presence
// matters, not format. The router is safe for concurrent use; every Resolve
// call re-reads credentials from this value and nothing is cached across
// requests.
type Config struct {
	// DefaultModel applies when no explicit model is requested.
	DefaultModel string

	// Provider credentials. Empty means not configured.
	OpenAIKey    string
	AnthropicKey string
	GoogleKey    string

	// OpenAIBaseURL overrides the OpenAI-compatible endpoint for API
	// compatible third parties.
	OpenAIBaseURL string

	// LocalEndpoint, when set, routes every request to local inference
	// regardless of model name.
	LocalEndpoint string

	// Temperature overrides the provider default when non-zero.
	Temperature float64
}

// Binding is the result of routing one request: a provider kind, the concrete
// model handle, the sampling temperature, and a ready client. Owned by the
// call that created it.
type Binding struct {
	Kind        Kind
	Model       string
	Temperature float64
	Client      provider.Client
}

// Router resolves model requests against its immutable configuration.
type Router struct {
	cfg Config
}

// New creates a router from the given configuration.
func New(cfg Config) *Router {
	return &Router{cfg: cfg}
}

// Resolve maps a model name and complexity tier to a bound provider client.
// Fails with llm.ConfigurationError when the classified provider's credential
// is absent.
func (r *Router) Resolve(modelName string, tier Tier) (*Binding, error) {
	name := modelName
	if name == "" {
		name = r.cfg.DefaultModel
	}
	if name == "" {
		name = DefaultModel
	}

	if tier == TierLow {
		name = Downgrade(name)
	}

	kind := Classify(name, r.cfg.LocalEndpoint != "")

	binding := &Binding{
		Kind:        kind,
		Model:       name,
		Temperature: r.temperatureFor(kind),
	}

	switch kind {
	case KindLocal:
		binding.Client = ollama.New(ollama.Config{BaseURL: r.cfg.LocalEndpoint})

	case KindAnthropic:
		if r.cfg.AnthropicKey == "" {
			return nil, llm.ConfigurationError{Provider: kind.String()}
		}
		binding.Client = anthropic.New(anthropic.Config{APIKey: r.cfg.AnthropicKey})

	case KindGoogle:
		if r.cfg.GoogleKey == "" {
			return nil, llm.ConfigurationError{Provider: kind.String()}
		}
		binding.Client = google.New(google.Config{APIKey: r.cfg.GoogleKey})

	default:
		if r.cfg.OpenAIKey == "" {
			return nil, llm.ConfigurationError{Provider: kind.String()}
		}
		binding.Client = openai.New(openai.Config{
			APIKey:  r.cfg.OpenAIKey,
			BaseURL: r.cfg.OpenAIBaseURL,
		})
	}

	return binding, nil
}

// temperatureFor returns the sampling temperature for a provider kind,
// honoring the configured override.
func (r *Router) temperatureFor(kind Kind) float64 {
	if r.cfg.Temperature > 0 {
		return r.cfg.Temperature
	}
	if kind == KindAnthropic {
		return DefaultAnthropicTemperature
	}
	return DefaultTemperature
}

// Classify maps a model name to a provider kind. A configured local inference
// endpoint always wins regardless of name; otherwise an Anthropic-family
// marker, then a Google-family marker, then the OpenAI-compatible default.
func Classify(name string, localConfigured bool) Kind {
	switch {
	case localConfigured:
		return KindLocal
	case strings.Contains(name, "claude"):
		return KindAnthropic
	case strings.Contains(name, "gemini"):
		return KindGoogle
	default:
		return KindOpenAI
	}
}

// Downgrade returns the cheaper sibling for a flagship model name, or the
// name unchanged when it has no mapping.
func Downgrade(name string) string {
	if mapped, ok := downgrades[name]; ok {
		return mapped
	}
	return name
}

// IsProprietary reports whether a model name matches a known proprietary
// vendor prefix. Telemetry and labeling only.
func IsProprietary(name string) bool {
	for _, prefix := range proprietaryPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
