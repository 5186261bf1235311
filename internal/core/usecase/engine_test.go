package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

func newTestBridge(model ports.ModelClient, tools []ports.Tool, limits EngineLimits) *AgentBridge {
	return NewAgentBridge(
		model,
		&fakeRegistry{tools: tools},
		newFakeObjectStorage(),
		&fakeFileStore{},
		slog.New(slog.DiscardHandler),
		limits,
		false,
	)
}

func drainEvents(ch <-chan domain.EngineEvent) []domain.EngineEvent {
	var out []domain.EngineEvent
	for event := range ch {
		out = append(out, event)
	}
	return out
}

func collectedText(events []domain.EngineEvent) string {
	var text strings.Builder
	for _, event := range events {
		if event.Kind == domain.EventTextDelta {
			text.WriteString(event.Text)
		}
	}
	return text.String()
}

func lastEvent(t *testing.T, events []domain.EngineEvent) domain.EngineEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("engine emitted no events")
	}
	return events[len(events)-1]
}

func TestFlatLoopRunsToolThenAnswers(t *testing.T) {
	model := &fakeModelClient{steps: []*ports.ChatStep{
		{
			ToolCalls: []domain.ToolInvocation{{CallID: "c1", Tool: "echo", Args: `{"q":"x"}`}},
			Usage:     domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5},
		},
		{
			Content: "final answer",
			Usage:   domain.TokenUsage{PromptTokens: 20, CompletionTokens: 8},
		},
	}}
	bridge := newTestBridge(model, []ports.Tool{&fakeTool{name: "echo"}}, EngineLimits{})

	handle, err := bridge.CreateAgent("system", nil, domain.ClassificationResult{})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	events := drainEvents(bridge.Execute(context.Background(), handle, "run echo", nil))

	var sawStart, sawEnd bool
	for _, event := range events {
		switch event.Kind {
		case domain.EventToolStart:
			sawStart = true
			if event.Tool != "echo" || event.Args["q"] != "x" {
				t.Fatalf("tool start mangled: %+v", event)
			}
		case domain.EventToolEnd:
			sawEnd = true
			if event.Result != `{"ok":true}` {
				t.Fatalf("tool end lost result: %+v", event)
			}
		}
	}
	if !sawStart || !sawEnd {
		t.Fatalf("missing tool events in %d events", len(events))
	}
	if got := collectedText(events); got != "final answer" {
		t.Fatalf("expected streamed answer, got %q", got)
	}

	done := lastEvent(t, events)
	if done.Kind != domain.EventDone || done.FinishReason != "stop" {
		t.Fatalf("expected done/stop terminal event, got %+v", done)
	}
	if done.Usage.PromptTokens != 30 || done.Usage.CompletionTokens != 13 || done.Usage.TotalTokens != 43 {
		t.Fatalf("usage not accumulated: %+v", done.Usage)
	}
	if done.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", done.Iterations)
	}
}

func TestFlatLoopExhaustionIsRecoverable(t *testing.T) {
	// The scripted model demands a tool on every step, so the loop can only
	// end by running out of iterations.
	model := &fakeModelClient{steps: []*ports.ChatStep{
		{ToolCalls: []domain.ToolInvocation{{CallID: "c1", Tool: "echo", Args: `{}`}}},
	}}
	bridge := newTestBridge(model, []ports.Tool{&fakeTool{name: "echo"}}, EngineLimits{MaxIterations: 3})

	handle, err := bridge.CreateAgent("system", nil, domain.ClassificationResult{})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	events := drainEvents(bridge.Execute(context.Background(), handle, "loop forever", nil))

	sawStatus := false
	for _, event := range events {
		if event.Kind == domain.EventStatus && event.Status["state"] == "max_iterations" {
			sawStatus = true
		}
	}
	if !sawStatus {
		t.Fatal("expected max_iterations status event")
	}
	if got := collectedText(events); got != exhaustionAnswer {
		t.Fatalf("expected exhaustion answer, got %q", got)
	}

	done := lastEvent(t, events)
	if done.Kind != domain.EventDone || done.FinishReason != "length" {
		t.Fatalf("expected done/length terminal event, got %+v", done)
	}
	if done.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", done.Iterations)
	}
}

func TestFlatLoopModelFailureAborts(t *testing.T) {
	model := &fakeModelClient{stepErr: fmt.Errorf("upstream unavailable")}
	bridge := newTestBridge(model, nil, EngineLimits{})

	handle, err := bridge.CreateAgent("system", nil, domain.ClassificationResult{})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	events := drainEvents(bridge.Execute(context.Background(), handle, "hello", nil))

	if len(events) < 2 {
		t.Fatalf("expected error and done events, got %v", events)
	}
	if events[len(events)-2].Kind != domain.EventError {
		t.Fatalf("expected error before terminal event, got %+v", events[len(events)-2])
	}
	done := lastEvent(t, events)
	if done.Kind != domain.EventDone || done.FinishReason != "error" {
		t.Fatalf("expected done/error terminal event, got %+v", done)
	}
}

func TestFlatLoopToolFailureDoesNotAbort(t *testing.T) {
	model := &fakeModelClient{steps: []*ports.ChatStep{
		{ToolCalls: []domain.ToolInvocation{{CallID: "c1", Tool: "broken", Args: `{}`}}},
		{Content: "recovered"},
	}}
	broken := &fakeTool{
		name: "broken",
		invoke: func(context.Context, map[string]any) (string, error) {
			return "", domain.WrapError(domain.ErrInvalidInput, "broken tool", errors.New("missing argument"))
		},
	}
	bridge := newTestBridge(model, []ports.Tool{broken}, EngineLimits{})

	handle, err := bridge.CreateAgent("system", nil, domain.ClassificationResult{})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	events := drainEvents(bridge.Execute(context.Background(), handle, "try the tool", nil))

	var result string
	for _, event := range events {
		if event.Kind == domain.EventToolEnd {
			result = event.Result
		}
	}
	if !strings.Contains(result, `"category":"parameter"`) {
		t.Fatalf("expected categorized tool error payload, got %q", result)
	}

	done := lastEvent(t, events)
	if done.Kind != domain.EventDone || done.FinishReason != "stop" {
		t.Fatalf("tool failure must not abort the loop, got %+v", done)
	}
	if got := collectedText(events); got != "recovered" {
		t.Fatalf("expected the follow-up answer, got %q", got)
	}
}

func TestFlatLoopCancellationStopsEngine(t *testing.T) {
	model := &fakeModelClient{steps: []*ports.ChatStep{
		{ToolCalls: []domain.ToolInvocation{{CallID: "c1", Tool: "echo", Args: `{}`}}},
	}}
	bridge := newTestBridge(model, []ports.Tool{&fakeTool{name: "echo"}}, EngineLimits{MaxIterations: 100})

	handle, err := bridge.CreateAgent("system", nil, domain.ClassificationResult{})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		drainEvents(bridge.Execute(ctx, handle, "never finishes", nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}
}

func TestCreateAgentDowngradesMissingNamedForce(t *testing.T) {
	bridge := newTestBridge(&fakeModelClient{}, []ports.Tool{&fakeTool{name: "web_search"}}, EngineLimits{})

	handle, err := bridge.CreateAgent("system", nil, domain.ClassificationResult{
		ForcedTool: &domain.ToolForce{Mode: domain.ToolForceNamed, ToolName: "task_tracker"},
	})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if handle.force == nil || handle.force.Mode != domain.ToolForceAny {
		t.Fatalf("expected downgrade to any-tool force, got %+v", handle.force)
	}
}

func TestCreateAgentFiltersAndCapsTools(t *testing.T) {
	tools := []ports.Tool{
		&fakeTool{name: "delta"},
		&fakeTool{name: "alpha"},
		&fakeTool{name: "charlie"},
		&fakeTool{name: "bravo"},
	}
	bridge := newTestBridge(&fakeModelClient{}, tools, EngineLimits{MaxTools: 2})

	handle, err := bridge.CreateAgent("system", []string{"delta", "bravo", "alpha"}, domain.ClassificationResult{})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if len(handle.tools) != 2 {
		t.Fatalf("expected tool cap at 2, got %d", len(handle.tools))
	}
	if handle.tools[0].Name() != "alpha" || handle.tools[1].Name() != "bravo" {
		t.Fatalf("truncation is not name-ordered: %s, %s", handle.tools[0].Name(), handle.tools[1].Name())
	}
}
