// Package servecmder provides the serve command that runs the conversation
// API server.
package servecmder

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/api"
	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/conversation"
	"github.com/weftlabs/weft/pkg/conversation/inmemory"
	"github.com/weftlabs/weft/pkg/conversation/sqlite"
	"github.com/weftlabs/weft/pkg/dotdir"
	"github.com/weftlabs/weft/pkg/embeddings"
	embeddingutils "github.com/weftlabs/weft/pkg/embeddings/utils"
	"github.com/weftlabs/weft/pkg/eventstream"
	kafkastream "github.com/weftlabs/weft/pkg/eventstream/kafka"
	"github.com/weftlabs/weft/pkg/eventstream/nop"
	"github.com/weftlabs/weft/pkg/eventstream/worker"
	"github.com/weftlabs/weft/pkg/llm/router"
	"github.com/weftlabs/weft/pkg/logger"
	"github.com/weftlabs/weft/pkg/orchestrator"
	"github.com/weftlabs/weft/pkg/toolgateway"
	"github.com/weftlabs/weft/pkg/watchdog"
)

type ServeCommander struct {
	listen          string
	sqlitePath      string
	model           string
	localEndpoint   string
	gatewayEndpoint string
	kafkaTopic      string
	stepBudget      int
	debug           bool
	logger          *zap.Logger
}

const serveLongDesc string = `Run the Weft conversation server.

The server accepts user messages, routes them to a model, streams the reply
over SSE, and records each turn:
  weft serve --listen :8080 --sqlite ~/.weft/weft.db`

const serveShortDesc string = "Run the Weft conversation server"

var serveFlagKeys = []string{
	config.FlagListen,
	config.FlagSQLite,
	config.FlagModel,
	config.FlagLocalEndpoint,
	config.FlagGatewayEndpoint,
	config.FlagStepBudget,
	config.FlagKafkaTopic,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}

			configDir, err := cmd.Flags().GetString("config-dir")
			if err != nil {
				return fmt.Errorf("could not get config-dir flag: %v", err)
			}

			v, err := config.InitViper(configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, config.ServeFlags, serveFlagKeys)

			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}

			return cmder.run(cfg, configDir)
		},
	}

	config.AddStringFlag(cmd, config.ServeFlags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagLocalEndpoint, &cmder.localEndpoint)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagGatewayEndpoint, &cmder.gatewayEndpoint)
	config.AddIntFlag(cmd, config.ServeFlags, config.FlagStepBudget, &cmder.stepBudget)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKafkaTopic, &cmder.kafkaTopic)

	return cmd
}

func (c *ServeCommander) run(cfg *config.Config, configDir string) error {
	c.logger = logger.NewLogger(c.debug || cfg.Server.Debug)
	defer c.logger.Sync()

	store, err := c.createStore(cfg, configDir)
	if err != nil {
		return err
	}
	defer store.Close()

	modelRouter := router.New(router.Config{
		DefaultModel:  cfg.Model.Default,
		OpenAIKey:     cfg.Model.OpenAIKey,
		AnthropicKey:  cfg.Model.AnthropicKey,
		GoogleKey:     cfg.Model.GoogleKey,
		OpenAIBaseURL: cfg.Model.OpenAIBaseURL,
		LocalEndpoint: cfg.Model.LocalEndpoint,
		Temperature:   cfg.Model.Temperature,
	})

	publisher, err := c.createPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	gateway, err := c.createGateway(cfg)
	if err != nil {
		return err
	}

	// The watchdog's handlers close over the orchestrator, which in turn
	// reports statuses back to the watchdog.
	var orch *orchestrator.Orchestrator
	dog, err := newWatchdog(cfg, c.logger, func(sessionID string) bool {
		if orch == nil {
			return false
		}
		return orch.Cancel(sessionID)
	}, nil)
	if err != nil {
		return fmt.Errorf("creating watchdog: %w", err)
	}
	defer dog.Stop()

	orch, err = orchestrator.New(orchestrator.Config{
		Resolver:     modelRouter,
		Store:        store,
		Gateway:      gateway,
		Publisher:    publisher,
		Logger:       c.logger,
		StepBudget:   cfg.Orchestrator.StepBudget,
		SystemPrompt: cfg.Orchestrator.SystemPrompt,
		OnStatus:     dog.Observe,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	server := api.NewServer(
		api.Config{ListenAddr: cfg.Server.Listen},
		orch,
		store,
		c.createEmbedder(cfg),
		c.logger,
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return server.Shutdown()
	}
}

// newWatchdog wires stall supervision to the turn cancel registry. Every
// in-budget recovery cancels the wedged stream, surfacing the stall to the
// client as a terminal stream error it can retry from; the post-budget reload
// does the same as a last resort for a session the earlier cancels missed.
func newWatchdog(
	cfg *config.Config,
	log *zap.Logger,
	cancel func(sessionID string) bool,
	newTimer func(d time.Duration, f func()) watchdog.Timer,
) (*watchdog.Watchdog, error) {
	return watchdog.New(watchdog.Config{
		StallTimeout:  time.Duration(cfg.Watchdog.StallTimeoutSec) * time.Second,
		MaxRecoveries: cfg.Watchdog.MaxRecoveries,
		Recover: func(sessionID string) {
			if !cancel(sessionID) {
				log.Warn("stalled session not found for cancellation",
					zap.String("session_id", sessionID))
			}
		},
		Reload: func(sessionID string) {
			cancel(sessionID)
		},
		Logger:   log,
		NewTimer: newTimer,
	})
}

func (c *ServeCommander) createStore(cfg *config.Config, configDir string) (conversation.Store, error) {
	path := cfg.Storage.SQLitePath

	if path == "memory" {
		c.logger.Info("using in-memory conversation store")
		return inmemory.NewStore(), nil
	}

	if path == "" {
		target, err := dotdir.NewManager().Target(configDir)
		if err != nil {
			return nil, fmt.Errorf("resolving store path: %w", err)
		}
		path = filepath.Join(target, "weft.db")
	}

	store, err := sqlite.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("creating sqlite store: %w", err)
	}
	c.logger.Info("using sqlite conversation store", zap.String("path", path))
	return store, nil
}

func (c *ServeCommander) createPublisher(cfg *config.Config) (eventstream.Publisher, error) {
	if len(cfg.Events.Brokers) == 0 {
		c.logger.Info("no kafka brokers configured, title jobs disabled")
		return nop.NewPublisher(), nil
	}

	c.logger.Info("publishing title jobs to kafka",
		zap.Strings("brokers", cfg.Events.Brokers),
		zap.String("topic", cfg.Events.Topic))

	kafkaPub := kafkastream.NewPublisher(kafkastream.Config{
		Brokers: cfg.Events.Brokers,
		Topic:   cfg.Events.Topic,
	})

	// Deliveries go through a worker pool so a slow broker never blocks a
	// turn.
	pool, err := worker.NewPool(&worker.Config{
		Publisher: kafkaPub,
		Logger:    c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating publish pool: %w", err)
	}
	return pool, nil
}

func (c *ServeCommander) createGateway(cfg *config.Config) (toolgateway.Connector, error) {
	if cfg.Gateway.Endpoint == "" {
		c.logger.Info("no tool gateway configured, turns run without tools")
		return nil, nil
	}

	minter := toolgateway.NewHTTPMinter(toolgateway.HTTPMinterConfig{
		Endpoint:   cfg.Gateway.Endpoint,
		AdminToken: cfg.Gateway.AdminToken,
		TTL:        time.Duration(cfg.Gateway.CredentialTTLSec) * time.Second,
	})

	gateway, err := toolgateway.New(toolgateway.Config{
		Endpoint: cfg.Gateway.Endpoint,
		Minter:   minter,
		Logger:   c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tool gateway: %w", err)
	}

	c.logger.Info("tool gateway configured", zap.String("endpoint", cfg.Gateway.Endpoint))
	return gateway, nil
}

func (c *ServeCommander) createEmbedder(cfg *config.Config) embeddings.Embedder {
	e := cfg.Embedding
	if e.BaseURL == "" && e.OpenAIKey == "" && e.LocalEndpoint == "" {
		c.logger.Info("no embedding strategies configured")
		return nil
	}

	return embeddingutils.NewRetriever(c.logger, embeddingutils.NewRetrieverOpts{
		CustomBaseURL: e.BaseURL,
		Model:         e.Model,
		SendNullModel: e.SendNullModel,
		MaxRetries:    e.MaxRetries,
		OpenAIKey:     e.OpenAIKey,
		LocalEndpoint: e.LocalEndpoint,
	})
}
