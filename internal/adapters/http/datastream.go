package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

const (
	dataStreamVersionHeader = "X-Data-Stream-Version"
	dataStreamVersion       = "v1"
)

// DataStreamSink encodes canonical frames into the line protocol: one frame
// per line as `code:JSON\n`, or `data: code:JSON\n\n` on the SSE transport.
// Codes: 0 text delta, 2 structured data array, 3 error, d terminal.
type DataStreamSink struct {
	w       io.Writer
	flusher http.Flusher
	sse     bool
}

func NewDataStreamSink(w io.Writer, sse bool) *DataStreamSink {
	flusher, _ := w.(http.Flusher)
	return &DataStreamSink{w: w, flusher: flusher, sse: sse}
}

func (s *DataStreamSink) WriteFrame(frame domain.Frame) error {
	code, payload, err := encodeFrame(frame)
	if err != nil {
		return err
	}

	if s.sse {
		_, err = fmt.Fprintf(s.w, "data: %s:%s\n\n", code, payload)
	} else {
		_, err = fmt.Fprintf(s.w, "%s:%s\n", code, payload)
	}
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func encodeFrame(frame domain.Frame) (string, []byte, error) {
	switch frame.Kind {
	case domain.FrameTextDelta:
		payload, err := json.Marshal(frame.Text)
		return "0", payload, err

	case domain.FrameError:
		payload, err := json.Marshal(frame.ErrorMessage)
		return "3", payload, err

	case domain.FrameDone:
		payload, err := json.Marshal(map[string]any{
			"finishReason": frame.FinishReason,
			"usage":        frame.Usage,
		})
		return "d", payload, err

	default:
		entry, err := dataEntry(frame)
		if err != nil {
			return "", nil, err
		}
		payload, err := json.Marshal([]any{entry})
		return "2", payload, err
	}
}

// dataEntry maps the non-text frame kinds into the structured data array
// entries the client renders.
func dataEntry(frame domain.Frame) (map[string]any, error) {
	switch frame.Kind {
	case domain.FrameToolCall:
		return map[string]any{
			"type":       "tool_call",
			"toolCallId": frame.CallID,
			"toolName":   frame.Tool,
			"args":       frame.Args,
		}, nil
	case domain.FrameToolResult:
		return map[string]any{
			"type":       "tool_result",
			"toolCallId": frame.CallID,
			"toolName":   frame.Tool,
			"result":     frame.Result,
		}, nil
	case domain.FrameArtifactStart:
		return map[string]any{
			"type":       "artifact_start",
			"artifactId": frame.ArtifactID,
			"kind":       frame.ArtifactKind,
			"title":      frame.ArtifactTitle,
		}, nil
	case domain.FrameArtifactChunk:
		return map[string]any{
			"type":       "artifact_chunk",
			"artifactId": frame.ArtifactID,
			"content":    string(frame.Chunk),
		}, nil
	case domain.FrameArtifactEnd:
		return map[string]any{
			"type":       "artifact_end",
			"artifactId": frame.ArtifactID,
		}, nil
	case domain.FrameStatus:
		return map[string]any{
			"type":   "status",
			"status": frame.Status,
		}, nil
	default:
		return nil, fmt.Errorf("unencodable frame kind: %s", frame.Kind)
	}
}
