package usecase

import (
	"context"
	"errors"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

const exhaustionAnswer = "I reached the execution limit before fully completing the request. Here is my best answer from the work done so far."

// runFlatToolLoop is the classic think-act-observe loop: each iteration makes
// one model step which either answers or requests one tool call batch.
// Iteration exhaustion is recoverable; the best-effort answer is still
// returned with finish reason "length".
func (b *AgentBridge) runFlatToolLoop(ctx context.Context, handle *AgentHandle, input string, window *domain.ContextWindow, out chan<- domain.EngineEvent) {
	messages := buildTranscript(handle.systemPrompt, input, window)
	force := handle.force
	var usage domain.TokenUsage
	bestEffort := ""
	iterations := 0

	for i := 1; i <= handle.limits.MaxIterations; i++ {
		if ctx.Err() != nil {
			emitAbort(ctx, out, ctx.Err(), usage, iterations)
			return
		}
		iterations = i

		stepCtx, cancel := context.WithTimeout(ctx, handle.limits.LLMTimeout)
		step, err := b.model.ChatStep(stepCtx, messages, handle.specs, force)
		cancel()
		force = nil
		if err != nil {
			emitAbort(ctx, out, err, usage, iterations)
			return
		}
		addUsage(&usage, step.Usage)

		if len(step.ToolCalls) == 0 {
			answer := step.Content
			if answer == "" {
				answer = bestEffort
			}
			if answer != "" && !emitTextDeltas(ctx, out, answer) {
				return
			}
			emitEvent(ctx, out, domain.EngineEvent{
				Kind:         domain.EventDone,
				FinishReason: "stop",
				Usage:        usage,
				Iterations:   iterations,
			})
			return
		}

		if step.Content != "" {
			bestEffort = step.Content
		}

		messages = append(messages, domainToolCallMessage(step.Content, step.ToolCalls))
		for _, call := range step.ToolCalls {
			if !emitEvent(ctx, out, domain.EngineEvent{
				Kind:   domain.EventToolStart,
				CallID: call.CallID,
				Tool:   call.Tool,
				Args:   decodeArgs(call.Args),
			}) {
				return
			}

			completed := b.invokeTool(ctx, handle, call)

			if !emitEvent(ctx, out, domain.EngineEvent{
				Kind:   domain.EventToolEnd,
				CallID: completed.CallID,
				Tool:   completed.Tool,
				Result: completed.Result,
			}) {
				return
			}
			messages = append(messages, domainToolResultMessage(completed))
		}
	}

	// Iteration budget exhausted: recoverable, not fatal.
	answer := bestEffort
	if answer == "" {
		answer = exhaustionAnswer
	}
	if !emitEvent(ctx, out, domain.EngineEvent{Kind: domain.EventStatus, Status: map[string]string{"state": "max_iterations"}}) {
		return
	}
	if !emitTextDeltas(ctx, out, answer) {
		return
	}
	emitEvent(ctx, out, domain.EngineEvent{
		Kind:         domain.EventDone,
		FinishReason: "length",
		Usage:        usage,
		Iterations:   iterations,
	})
}

// emitAbort surfaces a fatal model failure. The transcoder still guarantees
// the terminal frame; the engine reports what it knows.
func emitAbort(ctx context.Context, out chan<- domain.EngineEvent, err error, usage domain.TokenUsage, iterations int) {
	message := "model execution failed"
	if err != nil {
		message = err.Error()
	}
	if errors.Is(err, context.Canceled) {
		message = "turn cancelled"
	}
	if !emitEvent(ctx, out, domain.EngineEvent{Kind: domain.EventError, ErrorMessage: message}) {
		// Consumer is gone; deliver the terminal event on a best-effort,
		// non-blocking basis so the goroutine never leaks.
		select {
		case out <- domain.EngineEvent{Kind: domain.EventDone, FinishReason: "error", Usage: usage, Iterations: iterations}:
		default:
		}
		return
	}
	emitEvent(ctx, out, domain.EngineEvent{
		Kind:         domain.EventDone,
		FinishReason: "error",
		Usage:        usage,
		Iterations:   iterations,
	})
}
