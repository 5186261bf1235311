package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quibitai/qubit-orchestrator/internal/config"
	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
	"github.com/quibitai/qubit-orchestrator/internal/core/usecase"
	"github.com/quibitai/qubit-orchestrator/internal/infrastructure/llm/ollama"
	"github.com/quibitai/qubit-orchestrator/internal/infrastructure/prompts"
	"github.com/quibitai/qubit-orchestrator/internal/infrastructure/queue/nats"
	"github.com/quibitai/qubit-orchestrator/internal/infrastructure/repository/postgres"
	"github.com/quibitai/qubit-orchestrator/internal/infrastructure/resilience"
	"github.com/quibitai/qubit-orchestrator/internal/infrastructure/storage/localfs"
	"github.com/quibitai/qubit-orchestrator/internal/infrastructure/tools"
)

type App struct {
	Config config.Config

	Queue        *nats.Queue
	Orchestrator ports.TurnOrchestrator
	Sessions     ports.SessionResolver
	Memory       ports.MemoryMaintainer

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, sessions ports.SessionResolver) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	messages := postgres.NewMessageRepository(db)
	memoryRepo := postgres.NewMemoryRepository(db)
	files := postgres.NewFileRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.ConfigFromSettings(cfg.RetryMaxAttempts, cfg.BreakerEnabled), logger)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	model := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaChatModel, cfg.OllamaUtilityModel, ollama.Options{
		ResilienceExecutor: executor,
	})

	registry := tools.NewRegistry(
		tools.NewCreateDocument(model, storage, files),
		tools.NewWebSearch(cfg.WebSearchURL, 5),
		tools.NewTaskTracker(storage),
		tools.NewKnowledgeSearch(files, storage),
	)

	classifier := usecase.NewQueryClassifier(domain.ClassifierConfig{
		ComplexityThreshold: cfg.ComplexityThreshold,
		NamedToolThreshold:  cfg.NamedToolThreshold,
		AnyToolThreshold:    cfg.AnyToolThreshold,
	})
	contexts := usecase.NewContextWindowBuilder(messages, memoryRepo, memoryRepo, files, cfg.HistoryWindow)
	bridge := usecase.NewAgentBridge(model, registry, storage, files, logger, usecase.EngineLimits{
		MaxIterations: cfg.MaxIterations,
		MaxTools:      cfg.MaxTools,
		LLMTimeout:    time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
		ToolTimeout:   time.Duration(cfg.ToolTimeoutSeconds) * time.Second,
	}, cfg.EnableRichEngine)
	transcoder := usecase.NewStreamTranscoder(logger)
	promptLoader := prompts.NewLoader()

	orchestrator := usecase.NewTurnOrchestratorUseCase(
		classifier,
		contexts,
		bridge,
		transcoder,
		messages,
		promptLoader,
		queue,
		logger,
		usecase.OrchestratorOptions{
			ModelID:       cfg.ModelID,
			PromptContext: cfg.PromptContext,
			TurnTimeout:   time.Duration(cfg.TurnTimeoutSeconds) * time.Second,
		},
	)

	memory := usecase.NewMemoryMaintenance(
		messages,
		memoryRepo,
		memoryRepo,
		model,
		logger,
		cfg.SummaryMinMessages,
		time.Duration(cfg.LLMTimeoutSeconds)*time.Second,
	)

	return &App{
		Config:       cfg,
		Queue:        queue,
		Orchestrator: orchestrator,
		Sessions:     sessions,
		Memory:       memory,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
