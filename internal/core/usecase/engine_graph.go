package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

const artifactChunkBytes = 512

// graphPlan is the parsed output of the planning node.
type graphPlan struct {
	Goals    []graphGoal    `json:"goals"`
	Artifact *graphArtifact `json:"artifact,omitempty"`
}

type graphGoal struct {
	Label string         `json:"label,omitempty"`
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input,omitempty"`
}

type graphArtifact struct {
	Kind  string `json:"kind"`
	Title string `json:"title,omitempty"`
	Brief string `json:"brief,omitempty"`
}

// runReasoningGraph executes the multi-node graph: plan, parallel sub-goal
// tool execution, optional artifact production, compose. It emits a strict
// superset of the flat loop's event kinds.
func (b *AgentBridge) runReasoningGraph(ctx context.Context, handle *AgentHandle, input string, window *domain.ContextWindow, out chan<- domain.EngineEvent) {
	var usage domain.TokenUsage

	if !emitEvent(ctx, out, domain.EngineEvent{Kind: domain.EventStatus, Status: map[string]string{"node": "plan"}}) {
		return
	}

	plan, err := b.planGraph(ctx, handle, input, window)
	if err != nil {
		b.logger.Warn("graph_planning_failed_falling_back", "error", err)
		plan = &graphPlan{}
	}
	applyToolForce(plan, handle.force, input)

	goalResults, ok := b.runGoals(ctx, handle, plan.Goals, out)
	if !ok {
		return
	}

	if plan.Artifact != nil {
		if !b.runArtifactNode(ctx, handle, input, plan.Artifact, out, &usage) {
			return
		}
	}

	if !emitEvent(ctx, out, domain.EngineEvent{Kind: domain.EventStatus, Status: map[string]string{"node": "compose"}}) {
		return
	}

	composeCtx, cancel := context.WithTimeout(ctx, handle.limits.LLMTimeout)
	step, err := b.model.ChatStep(composeCtx, composeTranscript(handle, input, window, goalResults, plan.Artifact), nil, nil)
	cancel()
	if err != nil {
		emitAbort(ctx, out, err, usage, len(plan.Goals)+1)
		return
	}
	addUsage(&usage, step.Usage)

	if step.Content != "" && !emitTextDeltas(ctx, out, step.Content) {
		return
	}
	emitEvent(ctx, out, domain.EngineEvent{
		Kind:         domain.EventDone,
		FinishReason: "stop",
		Usage:        usage,
		Iterations:   len(plan.Goals) + 1,
	})
}

func (b *AgentBridge) planGraph(ctx context.Context, handle *AgentHandle, input string, window *domain.ContextWindow) (*graphPlan, error) {
	prompt := buildGraphPlannerPrompt(handle, input, window)

	planCtx, cancel := context.WithTimeout(ctx, handle.limits.LLMTimeout)
	raw, err := b.model.GenerateJSONFromPrompt(planCtx, prompt)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("graph plan: %w", err)
	}

	plan, parseErr := parseGraphPlan(raw)
	if parseErr == nil {
		return plan, nil
	}

	// One repair pass before giving up on the plan.
	repairCtx, cancel := context.WithTimeout(ctx, handle.limits.LLMTimeout)
	repaired, repairErr := b.model.GenerateJSONFromPrompt(repairCtx, buildGraphRepairPrompt(raw))
	cancel()
	if repairErr != nil {
		return nil, fmt.Errorf("graph plan repair: %w", repairErr)
	}
	return parseGraphPlan(repaired)
}

// runGoals executes sub-goals in parallel. Tool failures become error
// results; only consumer cancellation stops the node.
func (b *AgentBridge) runGoals(ctx context.Context, handle *AgentHandle, goals []graphGoal, out chan<- domain.EngineEvent) ([]domain.ToolInvocation, bool) {
	if len(goals) == 0 {
		return nil, true
	}
	if !emitEvent(ctx, out, domain.EngineEvent{Kind: domain.EventStatus, Status: map[string]string{"node": "goals", "count": fmt.Sprintf("%d", len(goals))}}) {
		return nil, false
	}

	results := make([]domain.ToolInvocation, len(goals))
	var emitMu sync.Mutex
	cancelled := false
	emitLocked := func(event domain.EngineEvent) bool {
		emitMu.Lock()
		defer emitMu.Unlock()
		if cancelled {
			return false
		}
		if !emitEvent(ctx, out, event) {
			cancelled = true
			return false
		}
		return true
	}

	group, goalCtx := errgroup.WithContext(ctx)
	for i, goal := range goals {
		group.Go(func() error {
			args, _ := json.Marshal(goal.Input)
			call := domain.ToolInvocation{
				CallID: uuid.NewString(),
				Tool:   goal.Tool,
				Args:   string(args),
			}
			if !emitLocked(domain.EngineEvent{
				Kind:   domain.EventToolStart,
				CallID: call.CallID,
				Tool:   call.Tool,
				Args:   goal.Input,
			}) {
				return goalCtx.Err()
			}

			completed := b.invokeTool(goalCtx, handle, call)
			results[i] = completed

			if !emitLocked(domain.EngineEvent{
				Kind:   domain.EventToolEnd,
				CallID: completed.CallID,
				Tool:   completed.Tool,
				Result: completed.Result,
			}) {
				return goalCtx.Err()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, false
	}
	return results, !cancelled
}

// runArtifactNode streams an artifact payload: start marker, bounded chunks,
// end marker. The payload is stored and registered as a file ref so the
// client can fetch it later.
func (b *AgentBridge) runArtifactNode(ctx context.Context, handle *AgentHandle, input string, artifact *graphArtifact, out chan<- domain.EngineEvent, usage *domain.TokenUsage) bool {
	artifactID := uuid.NewString()
	kind := artifact.Kind
	if kind == "" {
		kind = "document"
	}

	if !emitEvent(ctx, out, domain.EngineEvent{
		Kind:          domain.EventArtifactStart,
		ArtifactID:    artifactID,
		ArtifactKind:  kind,
		ArtifactTitle: artifact.Title,
	}) {
		return false
	}

	genCtx, cancel := context.WithTimeout(ctx, handle.limits.LLMTimeout)
	content, err := b.model.GenerateFromPrompt(genCtx, buildArtifactPrompt(input, artifact))
	cancel()
	if err != nil {
		b.logger.Warn("artifact_generation_failed", "artifact_id", artifactID, "error", err)
		content = ""
	}

	payload := []byte(content)
	for start := 0; start < len(payload); start += artifactChunkBytes {
		end := start + artifactChunkBytes
		if end > len(payload) {
			end = len(payload)
		}
		if !emitEvent(ctx, out, domain.EngineEvent{
			Kind:       domain.EventArtifactChunk,
			ArtifactID: artifactID,
			Chunk:      payload[start:end],
		}) {
			return false
		}
	}

	if b.storage != nil && len(payload) > 0 {
		if err := b.storage.Save(ctx, "artifacts/"+artifactID, bytes.NewReader(payload)); err != nil {
			b.logger.Warn("artifact_store_failed", "artifact_id", artifactID, "error", err)
		}
	}

	return emitEvent(ctx, out, domain.EngineEvent{
		Kind:       domain.EventArtifactEnd,
		ArtifactID: artifactID,
	})
}

// applyToolForce makes the classifier's forcing directive binding on the
// plan. The planner prompt already carries the directive; a plan that still
// omits the required tool gets a goal injected so the tool is invoked no
// matter what the planner returned. A forced create_document maps onto the
// artifact node instead of a goal.
func applyToolForce(plan *graphPlan, force *domain.ToolForce, input string) {
	if plan == nil || force == nil || force.Mode != domain.ToolForceNamed {
		return
	}
	if force.ToolName == "create_document" {
		if plan.Artifact == nil {
			plan.Artifact = &graphArtifact{Kind: "document"}
		}
		return
	}
	for _, goal := range plan.Goals {
		if goal.Tool == force.ToolName {
			return
		}
	}
	plan.Goals = append([]graphGoal{{
		Label: "required tool call",
		Tool:  force.ToolName,
		Input: map[string]any{"query": input},
	}}, plan.Goals...)
}

func parseGraphPlan(raw string) (*graphPlan, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty planner response")
	}
	var plan graphPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("unmarshal graph plan: %w", err)
	}
	for i := range plan.Goals {
		plan.Goals[i].Tool = strings.ToLower(strings.TrimSpace(plan.Goals[i].Tool))
	}
	return &plan, nil
}

func buildGraphPlannerPrompt(handle *AgentHandle, input string, window *domain.ContextWindow) string {
	toolLines := make([]string, 0, len(handle.specs))
	for _, spec := range handle.specs {
		toolLines = append(toolLines, fmt.Sprintf("- %s: %s", spec.Name, spec.Description))
	}
	if len(toolLines) == 0 {
		toolLines = append(toolLines, "(no tools available)")
	}

	summary := "(none)"
	if window != nil && window.Summary != nil && window.Summary.Text != "" {
		summary = window.Summary.Text
	}

	directive := ""
	if handle.force != nil {
		switch handle.force.Mode {
		case domain.ToolForceNamed:
			directive = fmt.Sprintf("\nThe plan MUST include a goal that calls the %s tool.\n", handle.force.ToolName)
		case domain.ToolForceAny:
			directive = "\nThe plan MUST include at least one tool goal; an empty goals array is not acceptable.\n"
		}
	}

	return fmt.Sprintf(`You are the planning node of an execution graph.
Return ONLY a valid JSON object:
{"goals":[{"label":"...","tool":"<tool name>","input":{...}}],"artifact":{"kind":"document","title":"...","brief":"..."}}
Use an empty goals array when no tool is needed. Omit "artifact" unless the
user asked for a document or similar deliverable to be produced.
%s
Available tools:
%s

Conversation summary:
%s

User request:
%s
`, directive, strings.Join(toolLines, "\n"), summary, input)
}

func buildGraphRepairPrompt(raw string) string {
	return fmt.Sprintf(`Convert the following text into a valid JSON object for this schema:
{"goals":[{"label":"...","tool":"...","input":{...}}],"artifact":{"kind":"...","title":"...","brief":"..."}}
Return only JSON.
Text:
%s`, raw)
}

func buildArtifactPrompt(input string, artifact *graphArtifact) string {
	title := artifact.Title
	if title == "" {
		title = "the requested deliverable"
	}
	brief := artifact.Brief
	if brief == "" {
		brief = input
	}
	return fmt.Sprintf(`Write the full content of %s.
Return only the content itself, no preamble.

Request:
%s`, title, brief)
}

func composeTranscript(handle *AgentHandle, input string, window *domain.ContextWindow, goalResults []domain.ToolInvocation, artifact *graphArtifact) []ports.ChatMessage {
	messages := buildTranscript(handle.systemPrompt, input, window)

	if len(goalResults) > 0 {
		lines := make([]string, 0, len(goalResults))
		for _, result := range goalResults {
			lines = append(lines, fmt.Sprintf("%s: %s", result.Tool, result.Result))
		}
		messages = append(messages, ports.ChatMessage{
			Role:    "system",
			Content: "Tool results gathered for this request:\n" + strings.Join(lines, "\n"),
		})
	}
	if artifact != nil {
		messages = append(messages, ports.ChatMessage{
			Role:    "system",
			Content: "A deliverable artifact was produced and streamed to the user. Confirm it briefly; do not repeat its content.",
		})
	}
	return messages
}
