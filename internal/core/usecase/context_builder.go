package usecase

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

const (
	defaultHistoryWindow  = 15
	tokensPerFileOverhead = 10
)

// ContextWindowBuilder assembles the bounded per-turn snapshot from the
// persistence store. Build is read-only; the asynchronous side effects live
// in MemoryMaintenance.
type ContextWindowBuilder struct {
	messages      ports.MessageStore
	entities      ports.EntityStore
	summaries     ports.SummaryStore
	files         ports.FileStore
	historyWindow int
}

func NewContextWindowBuilder(
	messages ports.MessageStore,
	entities ports.EntityStore,
	summaries ports.SummaryStore,
	files ports.FileStore,
	historyWindow int,
) *ContextWindowBuilder {
	if historyWindow <= 0 {
		historyWindow = defaultHistoryWindow
	}
	return &ContextWindowBuilder{
		messages:      messages,
		entities:      entities,
		summaries:     summaries,
		files:         files,
		historyWindow: historyWindow,
	}
}

// Build runs one batch of parallel lookups and assembles the window. History
// comes back most-recent-first and is bounded by the configured window.
func (b *ContextWindowBuilder) Build(ctx context.Context, chatID, userID, clientID string) (*domain.ContextWindow, error) {
	var (
		history  []domain.Turn
		entities []domain.Entity
		summary  *domain.Summary
		files    []domain.FileRef
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		out, err := b.messages.SelectRecentMessages(groupCtx, chatID, b.historyWindow)
		if err != nil {
			return fmt.Errorf("select recent messages: %w", err)
		}
		history = out
		return nil
	})
	group.Go(func() error {
		out, err := b.entities.SelectEntities(groupCtx, chatID, userID)
		if err != nil {
			return fmt.Errorf("select entities: %w", err)
		}
		entities = out
		return nil
	})
	group.Go(func() error {
		out, err := b.summaries.SelectLatestSummary(groupCtx, chatID, userID)
		if err != nil {
			return fmt.Errorf("select latest summary: %w", err)
		}
		summary = out
		return nil
	})
	group.Go(func() error {
		out, err := b.files.SelectFileRefs(groupCtx, chatID, userID)
		if err != nil {
			return fmt.Errorf("select file refs: %w", err)
		}
		files = out
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	window := &domain.ContextWindow{
		RecentHistory: history,
		Entities:      entities,
		Summary:       summary,
		Files:         files,
	}
	window.EstimatedTokens = estimateTokens(window)
	return window, nil
}

// estimateTokens is advisory prompt budgeting: one token per four characters
// of serialized content, plus a fixed per-file overhead. Monotonically
// non-decreasing as history, entities, or files are added.
func estimateTokens(window *domain.ContextWindow) int {
	chars := 0
	for _, turn := range window.RecentHistory {
		chars += len(turn.Role) + len(turn.Content)
	}
	for _, entity := range window.Entities {
		chars += len(entity.Type) + len(entity.Value)
	}
	if window.Summary != nil {
		chars += len(window.Summary.Text)
	}
	return (chars+3)/4 + tokensPerFileOverhead*len(window.Files)
}
