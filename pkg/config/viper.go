package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/weftlabs/weft/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the WEFT_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (WEFT_SERVER_LISTEN, WEFT_MODEL_OPENAI_KEY, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: WEFT_SERVER_LISTEN, WEFT_MODEL_ANTHROPIC_KEY, etc.
	v.SetEnvPrefix("WEFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper unmarshals the resolved settings into a Config.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Server
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.debug", d.Server.Debug)

	// Storage
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)

	// Model routing
	v.SetDefault("model.default", d.Model.Default)
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.openai_key", d.Model.OpenAIKey)
	v.SetDefault("model.anthropic_key", d.Model.AnthropicKey)
	v.SetDefault("model.google_key", d.Model.GoogleKey)
	v.SetDefault("model.openai_base_url", d.Model.OpenAIBaseURL)
	v.SetDefault("model.local_endpoint", d.Model.LocalEndpoint)

	// Embedding
	v.SetDefault("embedding.base_url", d.Embedding.BaseURL)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.send_null_model", d.Embedding.SendNullModel)
	v.SetDefault("embedding.max_retries", d.Embedding.MaxRetries)
	v.SetDefault("embedding.openai_key", d.Embedding.OpenAIKey)
	v.SetDefault("embedding.local_endpoint", d.Embedding.LocalEndpoint)

	// Tool gateway
	v.SetDefault("gateway.endpoint", d.Gateway.Endpoint)
	v.SetDefault("gateway.admin_token", d.Gateway.AdminToken)
	v.SetDefault("gateway.credential_ttl_seconds", d.Gateway.CredentialTTLSec)

	// Orchestrator
	v.SetDefault("orchestrator.step_budget", d.Orchestrator.StepBudget)
	v.SetDefault("orchestrator.system_prompt", d.Orchestrator.SystemPrompt)

	// Events
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)

	// Watchdog
	v.SetDefault("watchdog.stall_timeout_seconds", d.Watchdog.StallTimeoutSec)
	v.SetDefault("watchdog.max_recoveries", d.Watchdog.MaxRecoveries)
}
