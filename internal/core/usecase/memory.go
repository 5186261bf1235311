package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

const defaultSummaryMinMessages = 10

var entityExtractors = []struct {
	entityType domain.EntityType
	pattern    *regexp.Regexp
	group      int
}{
	{domain.EntityEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), 0},
	{domain.EntityPhone, regexp.MustCompile(`\+?\d[\d\s\-().]{7,}\d`), 0},
	{domain.EntityAddress, regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Za-z][A-Za-z\s]{2,30}\s(street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr)\b\.?`), 0},
	{domain.EntityDate, regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(,?\s+\d{4})?)\b`), 0},
	{domain.EntityName, regexp.MustCompile(`(?i)\b(?:my\s+name\s+is|i\s+am|i'm|call\s+me)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`), 1},
}

// MemoryMaintenance runs the asynchronous per-turn side effects: entity
// extraction and opportunistic summarization. Failures are logged and
// swallowed; nothing here may affect a turn's visible outcome.
type MemoryMaintenance struct {
	messages   ports.MessageStore
	entities   ports.EntityStore
	summaries  ports.SummaryStore
	model      ports.ModelClient
	logger     *slog.Logger
	minHistory int
	llmTimeout time.Duration
}

func NewMemoryMaintenance(
	messages ports.MessageStore,
	entities ports.EntityStore,
	summaries ports.SummaryStore,
	model ports.ModelClient,
	logger *slog.Logger,
	minHistory int,
	llmTimeout time.Duration,
) *MemoryMaintenance {
	if minHistory <= 0 {
		minHistory = defaultSummaryMinMessages
	}
	if llmTimeout <= 0 {
		llmTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryMaintenance{
		messages:   messages,
		entities:   entities,
		summaries:  summaries,
		model:      model,
		logger:     logger,
		minHistory: minHistory,
		llmTimeout: llmTimeout,
	}
}

func (m *MemoryMaintenance) ProcessTurnCompleted(ctx context.Context, event domain.TurnCompletedEvent) error {
	// Entities come out of the user's message, so provenance points at the
	// user row. Older payloads without the field fall back to the assistant
	// message id.
	sourceID := event.UserMessageID
	if sourceID == "" {
		sourceID = event.MessageID
	}
	m.ExtractEntities(ctx, sourceID, event.UserMessage, event.ChatID, event.UserID, event.ClientID)
	m.UpdateSummary(ctx, event.ChatID, event.UserID, event.ClientID)
	return nil
}

// ExtractEntities pulls addresses, emails, phone numbers, dates, and
// self-introduced names out of one message. Inserts are append-only; write
// failures are logged and swallowed.
func (m *MemoryMaintenance) ExtractEntities(ctx context.Context, messageID, content, chatID, userID, clientID string) {
	now := time.Now().UTC()
	for _, extractor := range entityExtractors {
		matches := extractor.pattern.FindAllStringSubmatch(content, -1)
		for _, match := range matches {
			value := strings.TrimSpace(match[extractor.group])
			if value == "" {
				continue
			}
			entity := domain.Entity{
				ID:              uuid.NewString(),
				ChatID:          chatID,
				UserID:          userID,
				ClientID:        clientID,
				Type:            extractor.entityType,
				Value:           value,
				SourceMessageID: messageID,
				ExtractedAt:     now,
			}
			if err := m.entities.InsertEntity(ctx, entity); err != nil {
				m.logger.Warn("entity_insert_failed",
					"chat_id", chatID,
					"entity_type", string(extractor.entityType),
					"error", err,
				)
			}
		}
	}
}

// UpdateSummary generates a new superseding summary once the recent history
// crosses the threshold. The LLM call is bounded; on any model failure the
// deterministic statistical fallback is persisted instead.
func (m *MemoryMaintenance) UpdateSummary(ctx context.Context, chatID, userID, clientID string) {
	history, err := m.messages.SelectRecentMessages(ctx, chatID, m.minHistory)
	if err != nil {
		m.logger.Warn("summary_history_load_failed", "chat_id", chatID, "error", err)
		return
	}
	if len(history) < m.minHistory {
		return
	}

	text, err := m.generateSummaryText(ctx, history)
	if err != nil {
		m.logger.Warn("summary_generation_fell_back", "chat_id", chatID, "error", err)
		text = statisticalSummary(history)
	}
	if strings.TrimSpace(text) == "" {
		text = statisticalSummary(history)
	}

	coversFrom, coversTo := historySpan(history)
	summary := domain.Summary{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		UserID:     userID,
		Text:       text,
		CoversFrom: coversFrom,
		CoversTo:   coversTo,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.summaries.InsertSummary(ctx, summary); err != nil {
		m.logger.Warn("summary_insert_failed", "chat_id", chatID, "error", err)
	}
}

func (m *MemoryMaintenance) generateSummaryText(ctx context.Context, history []domain.Turn) (string, error) {
	lines := make([]string, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		content := strings.TrimSpace(history[i].Content)
		if content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", history[i].Role, content))
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("no content to summarize")
	}

	prompt := fmt.Sprintf(`Summarize the following conversation turns in concise factual form.
Include user goals, key facts, decisions, and explicit todo items.
Return plain text.

%s`, strings.Join(lines, "\n"))

	llmCtx, cancel := context.WithTimeout(ctx, m.llmTimeout)
	defer cancel()
	return m.model.GenerateFromPrompt(llmCtx, prompt)
}

// statisticalSummary is the deterministic fallback. It never fails.
func statisticalSummary(history []domain.Turn) string {
	roleCounts := map[string]int{}
	order := make([]string, 0, 4)
	for _, turn := range history {
		if _, seen := roleCounts[turn.Role]; !seen {
			order = append(order, turn.Role)
		}
		roleCounts[turn.Role]++
	}
	parts := make([]string, 0, len(order))
	for _, role := range order {
		parts = append(parts, fmt.Sprintf("%d %s", roleCounts[role], role))
	}

	coversFrom, coversTo := historySpan(history)
	span := ""
	if !coversFrom.IsZero() && !coversTo.IsZero() {
		span = fmt.Sprintf(" between %s and %s", coversFrom.Format(time.RFC3339), coversTo.Format(time.RFC3339))
	}
	return fmt.Sprintf("Conversation with %d messages (%s)%s.", len(history), strings.Join(parts, ", "), span)
}

func historySpan(history []domain.Turn) (time.Time, time.Time) {
	var from, to time.Time
	for _, turn := range history {
		if turn.CreatedAt.IsZero() {
			continue
		}
		if from.IsZero() || turn.CreatedAt.Before(from) {
			from = turn.CreatedAt
		}
		if to.IsZero() || turn.CreatedAt.After(to) {
			to = turn.CreatedAt
		}
	}
	return from, to
}
