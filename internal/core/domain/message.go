package domain

import "time"

// Turn is one stored conversation message (user or assistant side).
type Turn struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id,omitempty"`
	TurnID    string    `json:"turn_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolInvocation records one completed tool call inside an assistant message.
type ToolInvocation struct {
	CallID string `json:"call_id"`
	Tool   string `json:"tool"`
	Args   string `json:"args,omitempty"`
	Result string `json:"result,omitempty"`
}

// MessagePart is one ordered part of an assistant message: either text or a
// tool invocation, never both.
type MessagePart struct {
	Text           string          `json:"text,omitempty"`
	ToolInvocation *ToolInvocation `json:"tool_invocation,omitempty"`
}

// AssistantMessage is created at most once per turn; the completion guard
// protects that invariant.
type AssistantMessage struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chat_id"`
	UserID    string        `json:"user_id"`
	ClientID  string        `json:"client_id,omitempty"`
	TurnID    string        `json:"turn_id"`
	Role      string        `json:"role"`
	Parts     []MessagePart `json:"parts"`
	CreatedAt time.Time     `json:"created_at"`
}

// TurnRequest is the validated inbound request for one conversational turn.
type TurnRequest struct {
	ChatID   string `json:"chat_id"`
	TurnID   string `json:"turn_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Message  string `json:"message"`
}

// TurnResult summarizes a completed turn for the caller and for metrics.
type TurnResult struct {
	TurnID       string               `json:"turn_id"`
	Engine       string               `json:"engine"`
	FinishReason string               `json:"finish_reason"`
	Iterations   int                  `json:"iterations"`
	ToolsInvoked []string             `json:"tools_invoked,omitempty"`
	Usage        TokenUsage           `json:"usage"`
	Decision     ClassificationResult `json:"decision"`
	Persisted    bool                 `json:"persisted"`
}

// TurnCompletedEvent is published after the assistant message is durable and
// consumed by the memory-maintenance worker.
type TurnCompletedEvent struct {
	ChatID        string    `json:"chat_id"`
	UserID        string    `json:"user_id"`
	ClientID      string    `json:"client_id,omitempty"`
	MessageID     string    `json:"message_id"`
	UserMessageID string    `json:"user_message_id,omitempty"`
	UserMessage   string    `json:"user_message"`
	CreatedAt     time.Time `json:"created_at"`
}

type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Session identifies the authenticated caller of one request.
type Session struct {
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
	TestMode bool   `json:"test_mode,omitempty"`
}
