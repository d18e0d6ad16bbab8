package config

// Config represents the persistent weft configuration stored as config.toml
// in the .weft/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version      int                `mapstructure:"version"`
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Model        ModelConfig        `mapstructure:"model"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Events       EventsConfig       `mapstructure:"events"`
	Watchdog     WatchdogConfig     `mapstructure:"watchdog"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	Debug  bool   `mapstructure:"debug"`
}

// StorageConfig holds conversation store settings. An empty SQLitePath
// selects <dotdir>/weft.db; the literal value "memory" selects the in-memory
// store.
type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ModelConfig holds routing and provider settings. Credentials normally
// arrive via environment (WEFT_MODEL_OPENAI_KEY etc) rather than the file.
// Temperature zero means unset: each provider keeps its own default.
type ModelConfig struct {
	Default       string  `mapstructure:"default"`
	Temperature   float64 `mapstructure:"temperature"`
	OpenAIKey     string  `mapstructure:"openai_key"`
	AnthropicKey  string  `mapstructure:"anthropic_key"`
	GoogleKey     string  `mapstructure:"google_key"`
	OpenAIBaseURL string  `mapstructure:"openai_base_url"`
	LocalEndpoint string  `mapstructure:"local_endpoint"`
}

// EmbeddingConfig holds embedding strategy settings.
type EmbeddingConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Model         string `mapstructure:"model"`
	SendNullModel bool   `mapstructure:"send_null_model"`
	MaxRetries    int    `mapstructure:"max_retries"`
	OpenAIKey     string `mapstructure:"openai_key"`
	LocalEndpoint string `mapstructure:"local_endpoint"`
}

// GatewayConfig holds tool gateway settings. An empty Endpoint disables the
// gateway and turns run without tools.
type GatewayConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	AdminToken       string `mapstructure:"admin_token"`
	CredentialTTLSec int    `mapstructure:"credential_ttl_seconds"`
}

// OrchestratorConfig holds turn execution settings.
type OrchestratorConfig struct {
	StepBudget   int    `mapstructure:"step_budget"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// EventsConfig holds the kafka publisher settings. Empty Brokers selects the
// no-op publisher.
type EventsConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// WatchdogConfig holds stall supervision settings.
type WatchdogConfig struct {
	StallTimeoutSec int `mapstructure:"stall_timeout_seconds"`
	MaxRecoveries   int `mapstructure:"max_recoveries"`
}
