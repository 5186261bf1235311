package domain

// FrameKind tags one unit of the canonical client-facing stream.
type FrameKind string

const (
	FrameTextDelta     FrameKind = "text_delta"
	FrameToolCall      FrameKind = "tool_call"
	FrameToolResult    FrameKind = "tool_result"
	FrameArtifactStart FrameKind = "artifact_start"
	FrameArtifactChunk FrameKind = "artifact_chunk"
	FrameArtifactEnd   FrameKind = "artifact_end"
	FrameStatus        FrameKind = "status"
	FrameError         FrameKind = "error"
	FrameDone          FrameKind = "done"
)

// Frame is the canonical wire unit emitted to the client transport. Exactly
// the fields matching the kind are populated.
type Frame struct {
	Kind FrameKind

	Text string

	CallID string
	Tool   string
	Args   map[string]any
	Result string

	ArtifactID    string
	ArtifactKind  string
	ArtifactTitle string
	Chunk         []byte

	Status map[string]string

	ErrorMessage string

	FinishReason string
	Usage        TokenUsage
}
