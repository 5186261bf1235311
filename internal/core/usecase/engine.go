package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

const (
	defaultMaxIterations = 10
	defaultMaxTools      = 26
	textDeltaChunkRunes  = 48
)

// EngineLimits bounds one engine execution. The tool timeout is independent
// of the iteration budget so one slow external call cannot exhaust the turn.
type EngineLimits struct {
	MaxIterations int
	MaxTools      int
	LLMTimeout    time.Duration
	ToolTimeout   time.Duration
}

func (l EngineLimits) normalize() EngineLimits {
	out := l
	if out.MaxIterations <= 0 {
		out.MaxIterations = defaultMaxIterations
	}
	if out.MaxTools <= 0 {
		out.MaxTools = defaultMaxTools
	}
	if out.LLMTimeout <= 0 {
		out.LLMTimeout = 60 * time.Second
	}
	if out.ToolTimeout <= 0 {
		out.ToolTimeout = 30 * time.Second
	}
	return out
}

// AgentHandle is the opaque execution context for one turn: engine variant,
// selected tool set, and compiled prompt. Owned by one turn, discarded after
// execution, never shared across requests.
type AgentHandle struct {
	engine       domain.EngineKind
	systemPrompt string
	tools        []ports.Tool
	toolIndex    map[string]ports.Tool
	specs        []ports.ToolSpec
	force        *domain.ToolForce
	limits       EngineLimits
}

func (h *AgentHandle) Engine() domain.EngineKind { return h.engine }

// AgentBridge constructs and drives one of the two execution engines.
type AgentBridge struct {
	model      ports.ModelClient
	registry   ports.ToolRegistry
	storage    ports.ObjectStorage
	files      ports.FileStore
	logger     *slog.Logger
	limits     EngineLimits
	enableRich bool
}

func NewAgentBridge(
	model ports.ModelClient,
	registry ports.ToolRegistry,
	storage ports.ObjectStorage,
	files ports.FileStore,
	logger *slog.Logger,
	limits EngineLimits,
	enableRich bool,
) *AgentBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentBridge{
		model:      model,
		registry:   registry,
		storage:    storage,
		files:      files,
		logger:     logger,
		limits:     limits.normalize(),
		enableRich: enableRich,
	}
}

// CreateAgent selects the engine variant and the tool set for one turn.
// Whitelist filtering happens before the hard cap; truncation is
// deterministic (stable name order) so behavior is reproducible.
func (b *AgentBridge) CreateAgent(systemPrompt string, whitelist []string, decision domain.ClassificationResult) (*AgentHandle, error) {
	engine := domain.EngineFlatToolLoop
	if b.enableRich && decision.UseRichEngine {
		engine = domain.EngineReasoningGraph
	}

	tools := b.selectTools(whitelist)
	index := make(map[string]ports.Tool, len(tools))
	specs := make([]ports.ToolSpec, 0, len(tools))
	for _, tool := range tools {
		index[tool.Name()] = tool
		specs = append(specs, ports.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}

	force := decision.ForcedTool
	if force != nil && force.Mode == domain.ToolForceNamed {
		if _, ok := index[force.ToolName]; !ok {
			// The forced tool is not in the selected set; require any tool
			// instead of failing the turn.
			force = &domain.ToolForce{Mode: domain.ToolForceAny}
		}
	}

	return &AgentHandle{
		engine:       engine,
		systemPrompt: systemPrompt,
		tools:        tools,
		toolIndex:    index,
		specs:        specs,
		force:        force,
		limits:       b.limits,
	}, nil
}

// Execute drives the handle's engine and returns its native event stream.
// The channel is closed when the engine finishes; cancellation of ctx stops
// further model steps and tool calls.
func (b *AgentBridge) Execute(ctx context.Context, handle *AgentHandle, input string, window *domain.ContextWindow) <-chan domain.EngineEvent {
	out := make(chan domain.EngineEvent, 16)
	go func() {
		defer close(out)
		switch handle.engine {
		case domain.EngineReasoningGraph:
			b.runReasoningGraph(ctx, handle, input, window, out)
		default:
			b.runFlatToolLoop(ctx, handle, input, window, out)
		}
	}()
	return out
}

// Cleanup discards the handle's per-turn state.
func (b *AgentBridge) Cleanup(handle *AgentHandle) {
	if handle == nil {
		return
	}
	handle.tools = nil
	handle.toolIndex = nil
	handle.specs = nil
	handle.force = nil
}

func (b *AgentBridge) selectTools(whitelist []string) []ports.Tool {
	if b.registry == nil {
		return nil
	}
	all := b.registry.List()

	selected := all
	if len(whitelist) > 0 {
		allowed := make(map[string]struct{}, len(whitelist))
		for _, name := range whitelist {
			allowed[name] = struct{}{}
		}
		selected = make([]ports.Tool, 0, len(whitelist))
		for _, tool := range all {
			if _, ok := allowed[tool.Name()]; ok {
				selected = append(selected, tool)
			}
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Name() < selected[j].Name()
	})
	if len(selected) > b.limits.MaxTools {
		selected = selected[:b.limits.MaxTools]
	}
	return selected
}

// invokeTool runs one tool call under its own timeout. Failures are
// categorized and serialized into the result payload; they never abort the
// loop.
func (b *AgentBridge) invokeTool(ctx context.Context, handle *AgentHandle, call domain.ToolInvocation) domain.ToolInvocation {
	args := map[string]any{}
	if call.Args != "" {
		if err := json.Unmarshal([]byte(call.Args), &args); err != nil {
			return toolErrorResult(call, "format", fmt.Errorf("decode tool args: %w", err), b.logger)
		}
	}

	tool, ok := handle.toolIndex[call.Tool]
	if !ok {
		return toolErrorResult(call, "parameter", fmt.Errorf("unknown tool: %s", call.Tool), b.logger)
	}

	toolCtx, cancel := context.WithTimeout(ctx, handle.limits.ToolTimeout)
	defer cancel()

	result, err := tool.Invoke(toolCtx, args)
	if err != nil {
		return toolErrorResult(call, categorizeToolError(err), err, b.logger)
	}
	call.Result = result
	return call
}

func toolErrorResult(call domain.ToolInvocation, category string, err error, logger *slog.Logger) domain.ToolInvocation {
	logger.Warn("tool_invocation_failed",
		"tool", call.Tool,
		"call_id", call.CallID,
		"category", category,
		"error", err,
	)
	payload, _ := json.Marshal(map[string]string{
		"error":    err.Error(),
		"category": category,
	})
	call.Result = string(payload)
	return call
}

func categorizeToolError(err error) string {
	var jsonSyntax *json.SyntaxError
	var jsonType *json.UnmarshalTypeError
	var netErr net.Error

	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "parameter"
	case errors.As(err, &jsonSyntax), errors.As(err, &jsonType):
		return "format"
	case domain.IsKind(err, domain.ErrUnauthorized):
		return "access"
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		domain.IsKind(err, domain.ErrTemporary):
		return "network"
	default:
		return "unknown"
	}
}

// buildTranscript compiles the model conversation from the context window:
// system prompt, rolling summary, known entities, chronological history, and
// the current input.
func buildTranscript(systemPrompt, input string, window *domain.ContextWindow) []ports.ChatMessage {
	messages := make([]ports.ChatMessage, 0, 20)
	system := systemPrompt
	if window != nil {
		if window.Summary != nil && window.Summary.Text != "" {
			system += "\n\nConversation summary so far:\n" + window.Summary.Text
		}
		if len(window.Entities) > 0 {
			system += "\n\nKnown facts about the user:"
			for _, entity := range window.Entities {
				system += fmt.Sprintf("\n- %s: %s", entity.Type, entity.Value)
			}
		}
	}
	messages = append(messages, ports.ChatMessage{Role: "system", Content: system})

	if window != nil {
		// History arrives most-recent-first; replay it chronologically.
		for i := len(window.RecentHistory) - 1; i >= 0; i-- {
			turn := window.RecentHistory[i]
			if turn.Content == "" {
				continue
			}
			messages = append(messages, ports.ChatMessage{Role: turn.Role, Content: turn.Content})
		}
	}

	messages = append(messages, ports.ChatMessage{Role: "user", Content: input})
	return messages
}

// emitEvent delivers one event unless the turn was cancelled. Engines stop
// producing as soon as the consumer is gone.
func emitEvent(ctx context.Context, out chan<- domain.EngineEvent, event domain.EngineEvent) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitTextDeltas re-chunks text into bounded delta events, preserving order.
func emitTextDeltas(ctx context.Context, out chan<- domain.EngineEvent, text string) bool {
	runes := []rune(text)
	for start := 0; start < len(runes); start += textDeltaChunkRunes {
		end := start + textDeltaChunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		if !emitEvent(ctx, out, domain.EngineEvent{Kind: domain.EventTextDelta, Text: string(runes[start:end])}) {
			return false
		}
	}
	return true
}

func domainToolCallMessage(content string, calls []domain.ToolInvocation) ports.ChatMessage {
	return ports.ChatMessage{
		Role:      "assistant",
		Content:   content,
		ToolCalls: calls,
	}
}

func domainToolResultMessage(call domain.ToolInvocation) ports.ChatMessage {
	return ports.ChatMessage{
		Role:     "tool",
		ToolName: call.Tool,
		Content:  call.Result,
	}
}

func decodeArgs(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"raw": raw}
	}
	return args
}

func addUsage(total *domain.TokenUsage, step domain.TokenUsage) {
	total.PromptTokens += step.PromptTokens
	total.CompletionTokens += step.CompletionTokens
	total.TotalTokens = total.PromptTokens + total.CompletionTokens
}
