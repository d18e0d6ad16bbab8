package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/pkg/conversation"
	"github.com/weftlabs/weft/pkg/embeddings"
	"github.com/weftlabs/weft/pkg/orchestrator"
)

// TurnRunner executes one conversation turn, forwarding text deltas as they
// stream. *orchestrator.Orchestrator satisfies this.
type TurnRunner interface {
	Run(ctx context.Context, req orchestrator.TurnRequest, onDelta func(delta string)) (*orchestrator.TurnResult, error)
}

// Server is the API server for submitting turns and reading conversations.
type Server struct {
	config   Config
	runner   TurnRunner
	store    conversation.Store
	embedder embeddings.Embedder
	logger   *zap.Logger
	app      *fiber.App
}

// NewServer creates a new API server.
// The store is injected to allow sharing with the orchestrator; the embedder
// is optional and disables the embed route when nil.
func NewServer(config Config, runner TurnRunner, store conversation.Store, embedder embeddings.Embedder, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:   config,
		runner:   runner,
		store:    store,
		embedder: embedder,
		logger:   logger,
		app:      app,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/conversations/:id/messages", s.handlePostMessage)
	app.Get("/conversations/:id", s.handleGetConversation)
	app.Post("/embed", s.handleEmbed)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
