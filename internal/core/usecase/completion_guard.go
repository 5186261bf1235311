package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

var toolAcknowledgements = map[string]string{
	"create_document":  "I've created the document for you.",
	"web_search":       "I've completed the search you asked for.",
	"task_tracker":     "I've updated the task tracker as requested.",
	"knowledge_search": "I've looked that up in the knowledge base.",
}

const genericAcknowledgement = "I've completed the requested action."

// CompletionGuard enforces that exactly one assistant message row is written
// per turn. Completion is observed from up to two racing paths (the engine
// done callback and the post-stream fallback); the single-assignment gate
// serializes them, and the conflict-tolerant insert is the second line of
// defense.
type CompletionGuard struct {
	persisted atomic.Bool

	messages ports.MessageStore
	logger   *slog.Logger

	chatID   string
	userID   string
	clientID string
	turnID   string
}

func NewCompletionGuard(messages ports.MessageStore, logger *slog.Logger, chatID, userID, clientID, turnID string) *CompletionGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionGuard{
		messages: messages,
		logger:   logger,
		chatID:   chatID,
		userID:   userID,
		clientID: clientID,
		turnID:   turnID,
	}
}

// Persist records the assistant message once. Later calls, from whichever
// path lost the race, are no-ops. The returned id is empty when nothing was
// written (no-op turn or lost race).
func (g *CompletionGuard) Persist(ctx context.Context, text string, tools []domain.ToolInvocation) (string, error) {
	if !g.persisted.CompareAndSwap(false, true) {
		return "", nil
	}

	text = strings.TrimSpace(text)
	if text == "" && len(tools) == 0 {
		// A no-op turn never gets a placeholder row.
		return "", nil
	}
	if text == "" {
		text = acknowledgementFor(tools)
	}

	parts := buildParts(text, tools)

	// A placeholder row with empty content may already exist for this turn;
	// fill it in place instead of inserting a duplicate.
	existing, err := g.messages.SelectMessageByTurn(ctx, g.chatID, g.turnID, "assistant")
	if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return "", fmt.Errorf("select message by turn: %w", err)
	}
	if existing != nil {
		if len(existing.Parts) > 0 {
			// Already completed by another writer.
			return existing.ID, nil
		}
		if err := g.messages.UpdateMessageParts(ctx, existing.ID, parts); err != nil {
			return "", fmt.Errorf("update placeholder message: %w", err)
		}
		return existing.ID, nil
	}

	msg := domain.AssistantMessage{
		ID:        uuid.NewString(),
		ChatID:    g.chatID,
		UserID:    g.userID,
		ClientID:  g.clientID,
		TurnID:    g.turnID,
		Role:      "assistant",
		Parts:     parts,
		CreatedAt: time.Now().UTC(),
	}
	inserted, err := g.messages.InsertMessageIfAbsent(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("insert assistant message: %w", err)
	}
	if !inserted {
		g.logger.Debug("assistant_message_insert_conflict", "chat_id", g.chatID, "turn_id", g.turnID)
		return "", nil
	}
	return msg.ID, nil
}

// Persisted reports whether the gate has been claimed.
func (g *CompletionGuard) Persisted() bool {
	return g.persisted.Load()
}

func acknowledgementFor(tools []domain.ToolInvocation) string {
	if len(tools) == 0 {
		return genericAcknowledgement
	}
	if ack, ok := toolAcknowledgements[tools[0].Tool]; ok {
		return ack
	}
	return genericAcknowledgement
}

func buildParts(text string, tools []domain.ToolInvocation) []domain.MessagePart {
	parts := make([]domain.MessagePart, 0, len(tools)+1)
	for _, tool := range tools {
		invocation := tool
		parts = append(parts, domain.MessagePart{ToolInvocation: &invocation})
	}
	if text != "" {
		parts = append(parts, domain.MessagePart{Text: text})
	}
	return parts
}
