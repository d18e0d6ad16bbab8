package config

const (
	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// NewDefaultConfig returns a fully-populated Config with sane defaults.
// It is the single source of truth for default values; viper defaults and
// flag defaults both derive from it.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Server: ServerConfig{
			Listen: ":8080",
		},
		Model: ModelConfig{
			Default: "gpt-4o",
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			MaxRetries: 3,
		},
		Gateway: GatewayConfig{
			CredentialTTLSec: 300,
		},
		Orchestrator: OrchestratorConfig{
			StepBudget: 8,
		},
		Events: EventsConfig{
			Topic: "weft.title-requests",
		},
		Watchdog: WatchdogConfig{
			StallTimeoutSec: 30,
			MaxRecoveries:   2,
		},
	}
}
