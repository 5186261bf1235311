package ports

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

// MessageStore persists conversation turns and the assistant message rows the
// completion guard protects.
type MessageStore interface {
	// InsertMessageIfAbsent is conflict-tolerant: it reports whether a new
	// row was written, returning false (and no error) on key conflicts.
	InsertMessageIfAbsent(ctx context.Context, msg domain.AssistantMessage) (bool, error)
	UpdateMessageParts(ctx context.Context, id string, parts []domain.MessagePart) error
	SelectMessageByTurn(ctx context.Context, chatID, turnID, role string) (*domain.AssistantMessage, error)
	AppendTurn(ctx context.Context, turn domain.Turn) error
	SelectRecentMessages(ctx context.Context, chatID string, limit int) ([]domain.Turn, error)
}

// EntityStore is append-only; entity deduplication is a read-time concern.
type EntityStore interface {
	InsertEntity(ctx context.Context, entity domain.Entity) error
	SelectEntities(ctx context.Context, chatID, userID string) ([]domain.Entity, error)
}

// SummaryStore keeps superseding summaries; reads return the latest row.
type SummaryStore interface {
	InsertSummary(ctx context.Context, summary domain.Summary) error
	SelectLatestSummary(ctx context.Context, chatID, userID string) (*domain.Summary, error)
}

type FileStore interface {
	InsertFileRef(ctx context.Context, ref domain.FileRef) error
	SelectFileRefs(ctx context.Context, chatID, userID string) ([]domain.FileRef, error)
}

// ObjectStorage stores artifact payloads produced by the reasoning graph.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TurnQueue publishes/consumes turn-completed events for background
// memory maintenance.
type TurnQueue interface {
	PublishTurnCompleted(ctx context.Context, event domain.TurnCompletedEvent) error
	SubscribeTurnCompleted(ctx context.Context, handler func(context.Context, domain.TurnCompletedEvent) error) error
}

// ChatStep is one model step: either assistant text, or a batch of tool calls.
type ChatStep struct {
	Content   string
	ToolCalls []domain.ToolInvocation
	Usage     domain.TokenUsage
}

// ChatMessage is one entry of the model conversation transcript.
type ChatMessage struct {
	Role      string
	Content   string
	ToolName  string
	ToolCalls []domain.ToolInvocation
}

// ToolSpec describes a tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ModelClient is the LLM boundary used by both engines and the summarizer.
type ModelClient interface {
	ChatStep(ctx context.Context, messages []ChatMessage, tools []ToolSpec, force *domain.ToolForce) (*ChatStep, error)
	GenerateFromPrompt(ctx context.Context, prompt string) (string, error)
	GenerateJSONFromPrompt(ctx context.Context, prompt string) (string, error)
}

// Tool is one invokable capability exposed to the engines. Invoke returns the
// serialized result payload handed back to the model.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// ToolRegistry lists tools in a stable, deterministic order.
type ToolRegistry interface {
	List() []Tool
	Get(name string) (Tool, bool)
}

// PromptLoader resolves the system prompt for one model/context pair.
type PromptLoader interface {
	LoadPrompt(modelID, contextID string, clientConfig map[string]string, now time.Time) (string, error)
}

// SessionResolver resolves the caller identity. Outside production a missing
// or invalid token resolves to a test-mode fallback identity instead of
// failing the request.
type SessionResolver interface {
	Resolve(ctx context.Context, bearerToken string) (domain.Session, error)
}

// FrameSink consumes canonical frames in emission order. Implementations are
// single-consumer and must not be shared across turns.
type FrameSink interface {
	WriteFrame(frame domain.Frame) error
}
