package usecase

import (
	"log/slog"
	"strings"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

const modelFailureApology = "I'm sorry, something went wrong while working on your request. Please try again."

// TurnOutcome is what the transcoder observed: the material the completion
// guard persists and the orchestrator reports.
type TurnOutcome struct {
	Text         string
	Tools        []domain.ToolInvocation
	FinishReason string
	Usage        domain.TokenUsage
	Iterations   int
	SawError     bool
}

// StreamTranscoder normalizes the engine-native event stream into canonical
// frames, in one pass, preserving emission order. It is the single consumer
// of one ordered event source.
type StreamTranscoder struct {
	logger *slog.Logger
}

func NewStreamTranscoder(logger *slog.Logger) *StreamTranscoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamTranscoder{logger: logger}
}

// Transcode drains the event stream into the sink. The returned outcome is
// complete once Transcode returns. onDone, when set, fires as soon as the
// engine's terminal event is observed, before the channel is exhausted,
// giving the caller the early completion signal.
//
// The output sequence always terminates in exactly one Done frame, whatever
// the input stream does. The result is a named return so the deferred
// terminal write is reflected in it even when the engine never emits Done.
func (t *StreamTranscoder) Transcode(events <-chan domain.EngineEvent, sink ports.FrameSink, onDone func(TurnOutcome)) (outcome TurnOutcome) {
	var text strings.Builder
	suppressingText := false
	doneWritten := false

	writeFrame := func(frame domain.Frame) {
		if err := sink.WriteFrame(frame); err != nil {
			// The transport may be gone mid-stream; keep consuming so the
			// engine can observe cancellation. Debug level only, anything
			// louder is noise at one log per frame.
			t.logger.Debug("frame_write_failed", "kind", string(frame.Kind), "error", err)
		}
	}

	writeDone := func() {
		if doneWritten {
			return
		}
		doneWritten = true
		if outcome.FinishReason == "" {
			outcome.FinishReason = "stop"
		}
		writeFrame(domain.Frame{
			Kind:         domain.FrameDone,
			FinishReason: outcome.FinishReason,
			Usage:        outcome.Usage,
		})
	}
	defer writeDone()

	for event := range events {
		if doneWritten {
			// Nothing may follow the terminal frame.
			continue
		}

		switch event.Kind {
		case domain.EventTextDelta:
			if suppressingText {
				// Text interleaved with an artifact payload would corrupt
				// the artifact window; drop it.
				continue
			}
			text.WriteString(event.Text)
			writeFrame(domain.Frame{Kind: domain.FrameTextDelta, Text: event.Text})

		case domain.EventToolStart:
			writeFrame(domain.Frame{
				Kind:   domain.FrameToolCall,
				CallID: event.CallID,
				Tool:   event.Tool,
				Args:   event.Args,
			})

		case domain.EventToolEnd:
			outcome.Tools = append(outcome.Tools, domain.ToolInvocation{
				CallID: event.CallID,
				Tool:   event.Tool,
				Result: event.Result,
			})
			writeFrame(domain.Frame{
				Kind:   domain.FrameToolResult,
				CallID: event.CallID,
				Tool:   event.Tool,
				Result: event.Result,
			})

		case domain.EventArtifactStart:
			suppressingText = true
			writeFrame(domain.Frame{
				Kind:          domain.FrameArtifactStart,
				ArtifactID:    event.ArtifactID,
				ArtifactKind:  event.ArtifactKind,
				ArtifactTitle: event.ArtifactTitle,
			})

		case domain.EventArtifactChunk:
			writeFrame(domain.Frame{
				Kind:       domain.FrameArtifactChunk,
				ArtifactID: event.ArtifactID,
				Chunk:      event.Chunk,
			})

		case domain.EventArtifactEnd:
			suppressingText = false
			writeFrame(domain.Frame{
				Kind:       domain.FrameArtifactEnd,
				ArtifactID: event.ArtifactID,
			})

		case domain.EventStatus:
			writeFrame(domain.Frame{Kind: domain.FrameStatus, Status: event.Status})

		case domain.EventError:
			outcome.SawError = true
			outcome.FinishReason = "error"
			if !suppressingText {
				text.WriteString(modelFailureApology)
				writeFrame(domain.Frame{Kind: domain.FrameTextDelta, Text: modelFailureApology})
			}
			writeFrame(domain.Frame{Kind: domain.FrameError, ErrorMessage: event.ErrorMessage})

		case domain.EventDone:
			if event.FinishReason != "" && outcome.FinishReason == "" {
				outcome.FinishReason = event.FinishReason
			}
			outcome.Usage = event.Usage
			outcome.Iterations = event.Iterations
			outcome.Text = text.String()
			writeDone()
			if onDone != nil {
				onDone(outcome)
			}
		}
	}

	outcome.Text = text.String()
	return outcome
}
