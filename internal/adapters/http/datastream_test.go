package httpadapter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

func TestDataStreamEncodesTextDelta(t *testing.T) {
	var buf bytes.Buffer
	sink := NewDataStreamSink(&buf, false)

	if err := sink.WriteFrame(domain.Frame{Kind: domain.FrameTextDelta, Text: "hi"}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if got := buf.String(); got != "0:\"hi\"\n" {
		t.Fatalf("expected 0:\"hi\"\\n, got %q", got)
	}
}

func TestDataStreamEncodesTerminalFrame(t *testing.T) {
	var buf bytes.Buffer
	sink := NewDataStreamSink(&buf, false)

	err := sink.WriteFrame(domain.Frame{
		Kind:         domain.FrameDone,
		FinishReason: "stop",
		Usage:        domain.TokenUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
	})
	if err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	line := buf.String()
	if !strings.HasPrefix(line, "d:") || !strings.HasSuffix(line, "\n") {
		t.Fatalf("terminal frame framing is wrong: %q", line)
	}
	var payload struct {
		FinishReason string            `json:"finishReason"`
		Usage        domain.TokenUsage `json:"usage"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSuffix(line[2:], "\n")), &payload); err != nil {
		t.Fatalf("terminal payload is not json: %v", err)
	}
	if payload.FinishReason != "stop" || payload.Usage.TotalTokens != 7 {
		t.Fatalf("terminal payload mismatch: %+v", payload)
	}
}

func TestDataStreamEncodesErrorFrame(t *testing.T) {
	var buf bytes.Buffer
	sink := NewDataStreamSink(&buf, false)

	if err := sink.WriteFrame(domain.Frame{Kind: domain.FrameError, ErrorMessage: "boom"}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if got := buf.String(); got != "3:\"boom\"\n" {
		t.Fatalf("expected 3:\"boom\"\\n, got %q", got)
	}
}

func TestDataStreamEncodesToolCallAsDataArray(t *testing.T) {
	var buf bytes.Buffer
	sink := NewDataStreamSink(&buf, false)

	err := sink.WriteFrame(domain.Frame{
		Kind:   domain.FrameToolCall,
		CallID: "c1",
		Tool:   "web_search",
		Args:   map[string]any{"q": "golang"},
	})
	if err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	line := buf.String()
	if !strings.HasPrefix(line, "2:[") {
		t.Fatalf("expected data array code 2, got %q", line)
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSuffix(line[2:], "\n")), &entries); err != nil {
		t.Fatalf("data payload is not a json array: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry["type"] != "tool_call" || entry["toolCallId"] != "c1" || entry["toolName"] != "web_search" {
		t.Fatalf("tool call entry mismatch: %v", entry)
	}
}

func TestDataStreamEncodesArtifactLifecycle(t *testing.T) {
	var buf bytes.Buffer
	sink := NewDataStreamSink(&buf, false)

	frames := []domain.Frame{
		{Kind: domain.FrameArtifactStart, ArtifactID: "a1", ArtifactKind: "text", ArtifactTitle: "Notes"},
		{Kind: domain.FrameArtifactChunk, ArtifactID: "a1", Chunk: []byte("body")},
		{Kind: domain.FrameArtifactEnd, ArtifactID: "a1"},
	}
	for _, frame := range frames {
		if err := sink.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame(%s) error = %v", frame.Kind, err)
		}
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	wantTypes := []string{"artifact_start", "artifact_chunk", "artifact_end"}
	for i, line := range lines {
		var entries []map[string]any
		if err := json.Unmarshal([]byte(line[2:]), &entries); err != nil {
			t.Fatalf("line %d is not a data array: %v", i, err)
		}
		if entries[0]["type"] != wantTypes[i] {
			t.Fatalf("line %d: expected %s, got %v", i, wantTypes[i], entries[0]["type"])
		}
		if entries[0]["artifactId"] != "a1" {
			t.Fatalf("line %d lost the artifact id: %v", i, entries[0])
		}
	}
}

func TestDataStreamSSEFraming(t *testing.T) {
	var buf bytes.Buffer
	sink := NewDataStreamSink(&buf, true)

	if err := sink.WriteFrame(domain.Frame{Kind: domain.FrameTextDelta, Text: "hi"}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if got := buf.String(); got != "data: 0:\"hi\"\n\n" {
		t.Fatalf("expected SSE framing, got %q", got)
	}
}
