package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
	"github.com/quibitai/qubit-orchestrator/internal/infrastructure/resilience"
)

// Client talks to a local Ollama server. The chat model drives the engines;
// the utility model serves planning, summarization, and other prompt-only
// generations.
type Client struct {
	baseURL      string
	chatModel    string
	utilityModel string
	httpClient   *http.Client
	executor     *resilience.Executor
}

type Options struct {
	HTTPTimeout        time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, chatModel, utilityModel string) *Client {
	return NewWithOptions(baseURL, chatModel, utilityModel, Options{})
}

func NewWithOptions(baseURL, chatModel, utilityModel string, options Options) *Client {
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		chatModel:    chatModel,
		utilityModel: utilityModel,
		httpClient:   &http.Client{Timeout: timeout},
		executor:     options.ResilienceExecutor,
	}
}

type chatRequestMessage struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	ToolCalls []chatRawToolCall `json:"tool_calls,omitempty"`
}

type chatRawToolCall struct {
	Function chatRawFunction `json:"function"`
}

type chatRawFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type chatToolSpec struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatResponse struct {
	Message struct {
		Content   string            `json:"content"`
		ToolCalls []chatRawToolCall `json:"tool_calls"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// ChatStep runs one non-streaming model step. Forced tool use is expressed as
// a trailing system directive; the API has no native tool-choice field.
func (c *Client) ChatStep(ctx context.Context, messages []ports.ChatMessage, tools []ports.ToolSpec, force *domain.ToolForce) (*ports.ChatStep, error) {
	request := map[string]any{
		"model":    c.chatModel,
		"messages": encodeMessages(messages, force),
		"stream":   false,
	}
	if len(tools) > 0 {
		request["tools"] = encodeTools(tools)
	}

	var response chatResponse
	if err := c.call(ctx, "ollama.chat", "/api/chat", request, &response); err != nil {
		return nil, wrapTemporaryIfNeeded("chat step", err)
	}

	step := &ports.ChatStep{
		Content: strings.TrimSpace(response.Message.Content),
		Usage: domain.TokenUsage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
			TotalTokens:      response.PromptEvalCount + response.EvalCount,
		},
	}
	for _, raw := range response.Message.ToolCalls {
		step.ToolCalls = append(step.ToolCalls, domain.ToolInvocation{
			CallID: uuid.NewString(),
			Tool:   raw.Function.Name,
			Args:   string(raw.Function.Arguments),
		})
	}
	return step, nil
}

func (c *Client) GenerateFromPrompt(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, map[string]any{
		"model":  c.utilityModel,
		"prompt": prompt,
		"stream": false,
	})
}

func (c *Client) GenerateJSONFromPrompt(ctx context.Context, prompt string) (string, error) {
	raw, err := c.generate(ctx, map[string]any{
		"model":  c.utilityModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	})
	if err != nil {
		return "", err
	}
	return extractJSONObject(raw), nil
}

func (c *Client) generate(ctx context.Context, request map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.call(ctx, "ollama.generate", "/api/generate", request, &response); err != nil {
		return "", wrapTemporaryIfNeeded("generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) call(ctx context.Context, operation, path string, request, response any) error {
	if c.executor == nil {
		return c.postJSON(ctx, path, request, response, operation)
	}
	return c.executor.Execute(ctx, operation, func(callCtx context.Context) error {
		return c.postJSON(callCtx, path, request, response, operation)
	}, classifyOllamaError)
}

func encodeMessages(messages []ports.ChatMessage, force *domain.ToolForce) []chatRequestMessage {
	encoded := make([]chatRequestMessage, 0, len(messages)+1)
	for _, msg := range messages {
		entry := chatRequestMessage{Role: msg.Role, Content: msg.Content}
		for _, call := range msg.ToolCalls {
			entry.ToolCalls = append(entry.ToolCalls, chatRawToolCall{
				Function: chatRawFunction{
					Name:      call.Tool,
					Arguments: json.RawMessage(emptyToObject(call.Args)),
				},
			})
		}
		encoded = append(encoded, entry)
	}
	if directive := forceDirective(force); directive != "" {
		encoded = append(encoded, chatRequestMessage{Role: "system", Content: directive})
	}
	return encoded
}

func forceDirective(force *domain.ToolForce) string {
	if force == nil {
		return ""
	}
	switch force.Mode {
	case domain.ToolForceNamed:
		return fmt.Sprintf("You must call the %s tool to fulfill this request. Do not answer in plain text before calling it.", force.ToolName)
	case domain.ToolForceAny:
		return "You must call at least one of the available tools to fulfill this request. Do not answer in plain text before calling a tool."
	default:
		return ""
	}
}

func encodeTools(tools []ports.ToolSpec) []chatToolSpec {
	encoded := make([]chatToolSpec, 0, len(tools))
	for _, tool := range tools {
		parameters := tool.InputSchema
		if len(parameters) == 0 {
			parameters = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		encoded = append(encoded, chatToolSpec{
			Type: "function",
			Function: chatToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  parameters,
			},
		})
	}
	return encoded
}

func emptyToObject(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "{}"
	}
	return raw
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
