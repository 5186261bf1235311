package ports

import (
	"context"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

// TurnOrchestrator drives one conversational turn end to end, streaming
// frames to the sink as the engine produces events.
type TurnOrchestrator interface {
	StreamTurn(ctx context.Context, req domain.TurnRequest, session domain.Session, sink FrameSink) (*domain.TurnResult, error)
}

// MemoryMaintainer runs the asynchronous per-turn side effects: entity
// extraction and opportunistic summarization.
type MemoryMaintainer interface {
	ProcessTurnCompleted(ctx context.Context, event domain.TurnCompletedEvent) error
}
