package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

// OrchestratorOptions carries the per-deployment knobs of the turn pipeline.
type OrchestratorOptions struct {
	ModelID       string
	PromptContext string
	TurnTimeout   time.Duration
}

func (o OrchestratorOptions) normalize() OrchestratorOptions {
	out := o
	if out.ModelID == "" {
		out.ModelID = "qubit-orchestrator"
	}
	if out.PromptContext == "" {
		out.PromptContext = "default"
	}
	if out.TurnTimeout <= 0 {
		out.TurnTimeout = 120 * time.Second
	}
	return out
}

// TurnOrchestratorUseCase processes one logical turn per request: classify,
// build context, execute the selected engine, transcode frames live, and
// guarantee the single durable write. All per-request state is threaded
// explicitly; nothing is stored at process scope.
type TurnOrchestratorUseCase struct {
	classifier *QueryClassifier
	contexts   *ContextWindowBuilder
	bridge     *AgentBridge
	transcoder *StreamTranscoder
	messages   ports.MessageStore
	prompts    ports.PromptLoader
	queue      ports.TurnQueue
	logger     *slog.Logger
	opts       OrchestratorOptions
}

func NewTurnOrchestratorUseCase(
	classifier *QueryClassifier,
	contexts *ContextWindowBuilder,
	bridge *AgentBridge,
	transcoder *StreamTranscoder,
	messages ports.MessageStore,
	prompts ports.PromptLoader,
	queue ports.TurnQueue,
	logger *slog.Logger,
	opts OrchestratorOptions,
) *TurnOrchestratorUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnOrchestratorUseCase{
		classifier: classifier,
		contexts:   contexts,
		bridge:     bridge,
		transcoder: transcoder,
		messages:   messages,
		prompts:    prompts,
		queue:      queue,
		logger:     logger,
		opts:       opts.normalize(),
	}
}

func (uc *TurnOrchestratorUseCase) StreamTurn(ctx context.Context, req domain.TurnRequest, session domain.Session, sink ports.FrameSink) (*domain.TurnResult, error) {
	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "stream turn", fmt.Errorf("chat_id is required"))
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "stream turn", fmt.Errorf("message is required"))
	}
	turnID := strings.TrimSpace(req.TurnID)
	if turnID == "" {
		turnID = uuid.NewString()
	}

	window, err := uc.contexts.Build(ctx, chatID, session.UserID, session.ClientID)
	if err != nil {
		return nil, fmt.Errorf("build context window: %w", err)
	}

	// Classification never fails the turn; internal errors fail open to the
	// rich engine inside Classify.
	decision := uc.classifier.Classify(message, window.RecentHistory)
	uc.logger.Info("turn_classified",
		"chat_id", chatID,
		"turn_id", turnID,
		"rich_engine", decision.UseRichEngine,
		"complexity", decision.ComplexityScore,
		"confidence", decision.Confidence,
		"patterns", decision.DetectedPatterns,
	)

	userTurn := domain.Turn{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserID:    session.UserID,
		ClientID:  session.ClientID,
		TurnID:    turnID,
		Role:      "user",
		Content:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := uc.messages.AppendTurn(ctx, userTurn); err != nil {
		// Durability loss is acceptable; blocking the response is not.
		uc.logger.Error("user_turn_persist_failed", "chat_id", chatID, "turn_id", turnID, "error", err)
	}

	systemPrompt, err := uc.prompts.LoadPrompt(uc.opts.ModelID, uc.opts.PromptContext, nil, time.Now().UTC())
	if err != nil {
		uc.logger.Warn("prompt_load_failed_using_empty", "context", uc.opts.PromptContext, "error", err)
		systemPrompt = ""
	}

	handle, err := uc.bridge.CreateAgent(systemPrompt, nil, decision)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	defer uc.bridge.Cleanup(handle)

	turnCtx, cancel := context.WithTimeout(ctx, uc.opts.TurnTimeout)
	defer cancel()

	guard := NewCompletionGuard(uc.messages, uc.logger, chatID, session.UserID, session.ClientID, turnID)

	// Persistence and the completion event must survive a client disconnect
	// mid-stream; only engine work is cancelled with the request.
	persistCtx := context.WithoutCancel(ctx)
	messageID := ""
	persist := func(outcome TurnOutcome) {
		id, err := guard.Persist(persistCtx, outcome.Text, outcome.Tools)
		if err != nil {
			uc.logger.Error("assistant_message_persist_failed", "chat_id", chatID, "turn_id", turnID, "error", err)
			return
		}
		if id != "" {
			messageID = id
		}
	}

	events := uc.bridge.Execute(turnCtx, handle, message, window)
	outcome := uc.transcoder.Transcode(events, sink, persist)

	// Fallback path: whichever signal fires first wins the idempotency gate.
	persist(outcome)

	if messageID != "" {
		uc.publishTurnCompleted(persistCtx, domain.TurnCompletedEvent{
			ChatID:        chatID,
			UserID:        session.UserID,
			ClientID:      session.ClientID,
			MessageID:     messageID,
			UserMessageID: userTurn.ID,
			UserMessage:   message,
			CreatedAt:     time.Now().UTC(),
		})
	}

	return &domain.TurnResult{
		TurnID:       turnID,
		Engine:       string(handle.Engine()),
		FinishReason: outcome.FinishReason,
		Iterations:   outcome.Iterations,
		ToolsInvoked: toolNames(outcome.Tools),
		Usage:        outcome.Usage,
		Decision:     decision,
		Persisted:    messageID != "",
	}, nil
}

// publishTurnCompleted is fire-and-forget: a queue failure never affects the
// turn's visible outcome.
func (uc *TurnOrchestratorUseCase) publishTurnCompleted(ctx context.Context, event domain.TurnCompletedEvent) {
	if uc.queue == nil {
		return
	}
	go func() {
		publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := uc.queue.PublishTurnCompleted(publishCtx, event); err != nil {
			uc.logger.Warn("turn_completed_publish_failed", "chat_id", event.ChatID, "error", err)
		}
	}()
}

func toolNames(tools []domain.ToolInvocation) []string {
	if len(tools) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tools))
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		if _, ok := seen[tool.Tool]; ok {
			continue
		}
		seen[tool.Tool] = struct{}{}
		names = append(names, tool.Tool)
	}
	return names
}
