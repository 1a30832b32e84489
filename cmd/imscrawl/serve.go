// -----------------------------------------------------------------------
// Last Modified: Wednesday, 8th October 2025 5:03:03 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tenwire/imscrawl/internal/api"
	"github.com/tenwire/imscrawl/internal/common"
	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/orchestrator"
	"github.com/tenwire/imscrawl/internal/services/credentials"
	"github.com/tenwire/imscrawl/internal/services/embeddings"
	"github.com/tenwire/imscrawl/internal/services/events"
	"github.com/tenwire/imscrawl/internal/services/intent"
	"github.com/tenwire/imscrawl/internal/services/llm"
	"github.com/tenwire/imscrawl/internal/services/rag"
	"github.com/tenwire/imscrawl/internal/storage/sqlite"
)

// app bundles every long-lived collaborator runServe/runCollect/runQuery
// wire together, constructed once per process invocation.
type app struct {
	db           *sqlite.DB
	orchestrator *orchestrator.Orchestrator
	events       interfaces.EventService
	issues       interfaces.IssueStore
	rag          *rag.Builder
	server       *api.Server
}

// newApp constructs every long-lived collaborator: the sqlite-backed stores,
// the credential manager, the embedding and LLM ports (selected by
// config.LLM.Mode/embedding availability), the scraper session factory, the
// intent parser, and finally the orchestrator and HTTP API that sit on top
// of them.
func newApp(config *common.Config) (*app, error) {
	db, err := sqlite.Open(logger, config.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	issueStore := sqlite.NewIssueStore(db, logger)
	jobStore := sqlite.NewJobStore(db, logger)
	credStore := sqlite.NewCredentialsStore(db, logger)

	encryptor, err := credentials.NewAESEncryptor(os.Getenv("IMSCRAWL_MASTER_KEY"), os.Getenv("IMSCRAWL_SALT"))
	if err != nil {
		return nil, fmt.Errorf("init credential encryptor: %w", err)
	}
	credManager := credentials.NewManager(credStore, encryptor, logger)

	embedder := newEmbedder(config)
	llmPort := newLLM(config)

	eventService := events.NewService(logger)
	intentParser := intent.NewParser(llmPort)
	crawlerFactory := orchestrator.NewScraperFactory(config.Crawler, logger)

	orc := orchestrator.New(
		jobStore,
		issueStore,
		credManager,
		embedder,
		eventService,
		intentParser,
		crawlerFactory,
		config.Jobs,
		config.Crawler,
		config.Embedding,
		logger,
	)
	orc.EnableDispatchQueue(db.DB())
	if err := orc.StartCleanupScheduler(); err != nil {
		logger.Warn().Err(err).Msg("failed to start job cleanup scheduler")
	}

	ragBuilder := rag.NewBuilder(llmPort, issueStore, logger)

	jobsHandler := api.NewJobsHandler(orc, eventService, logger)
	chatHandler := api.NewChatHandler(ragBuilder, logger)
	server := api.New(config.Server, jobsHandler, chatHandler, logger)

	return &app{db: db, orchestrator: orc, events: eventService, issues: issueStore, rag: ragBuilder, server: server}, nil
}

// Close releases every resource newApp acquired, in reverse order.
func (a *app) Close() {
	a.orchestrator.Close()
	_ = a.events.Close()
	_ = a.db.Close()
}

// newEmbedder selects the embedding port by config.LLM.Mode: "mock" keeps the
// whole stack offline for local development/tests, anything else talks to
// the configured Ollama instance.
func newEmbedder(config *common.Config) interfaces.EmbeddingPort {
	if config.LLM.Mode == "mock" {
		return embeddings.NewMockService(config.Embedding.Dimensions)
	}
	return embeddings.NewOllamaService(config.Embedding, logger)
}

// newLLM selects the LLM port by config.LLM.Mode: "cloud" talks to Anthropic
// using the API key named by config.LLM.AnthropicAPIKeyEnv, "mock" returns
// canned responses for offline development, and any other value falls back
// to mock since no local-model backend is wired.
func newLLM(config *common.Config) interfaces.LLMPort {
	switch config.LLM.Mode {
	case "cloud":
		apiKey := os.Getenv(config.LLM.AnthropicAPIKeyEnv)
		svc, err := llm.NewAnthropicService(config.LLM, apiKey, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize anthropic llm service")
		}
		return svc
	default:
		return llm.NewMockService()
	}
}

func runServe() {
	logger.Info().
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Msg("starting imscrawl server")

	application, err := newApp(config)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer application.Close()

	if err := application.orchestrator.RecoverPendingJobs(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("failed to recover pending jobs from dispatch queue")
	}

	shutdownChan := make(chan struct{})
	application.server.SetShutdownChannel(shutdownChan)

	go func() {
		if err := application.server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("server ready - press ctrl+c to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("interrupt signal received")
	case <-shutdownChan:
		logger.Info().Msg("shutdown requested via http")
	}

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	common.PrintShutdownBanner(logger)
}
